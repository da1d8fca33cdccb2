package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSink_WritesTaggedRecord(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(logging.New("json", "info", &buf))

	sink.Record(context.Background(), Entry{
		UserID:   "u1",
		Action:   ActionUpdateLWW,
		Provider: "memory",
		FileID:   "f1",
		Fields:   map[string]any{"tags": []string{"a"}},
	})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, true, rec["audit"])
	assert.Equal(t, ActionUpdateLWW, rec["action"])
	assert.Equal(t, "f1", rec["file_id"])
	assert.Contains(t, rec, "fields")
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Record(context.Background(), Entry{Action: ActionUpload})
	r.Record(context.Background(), Entry{Action: ActionDelete})
	assert.Equal(t, []string{ActionUpload, ActionDelete}, r.Actions())
	assert.Len(t, r.Entries(), 2)
}
