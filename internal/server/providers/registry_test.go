package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	var gotToken string
	r.Register(Dropbox, func(ctx context.Context, token string) (Provider, error) {
		gotToken = token
		return nil, nil
	})
	r.Register(GoogleDrive, func(ctx context.Context, token string) (Provider, error) { return nil, nil })

	_, err := r.New(context.Background(), Dropbox, "tok")
	require.NoError(t, err)
	assert.Equal(t, "tok", gotToken)

	_, err = r.New(context.Background(), S3, "tok")
	assert.ErrorIs(t, err, common.ErrInvalidArgument)

	assert.True(t, r.Has(GoogleDrive))
	assert.Equal(t, []Kind{Dropbox, GoogleDrive}, r.Kinds())
}

func TestOptionsWithDefaults(t *testing.T) {
	o := Options{ChunkSize: 256 << 10}.WithDefaults()
	assert.Equal(t, int64(DefaultResumableThreshold), o.ResumableThreshold)
	assert.Equal(t, int64(256<<10), o.ChunkSize)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 7*time.Second, ParseRetryAfter("7", now))
	assert.Equal(t, 30*time.Second, ParseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, ParseRetryAfter("", now))
	assert.Zero(t, ParseRetryAfter("soon", now))
}

func TestStatusError(t *testing.T) {
	h := http.Header{"Retry-After": []string{"3"}}
	err := StatusError(Dropbox, "upload", http.StatusTooManyRequests, h, nil)
	d, ok := common.RetryAfter(err)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	cases := map[int]error{
		http.StatusUnauthorized:        common.ErrAuthExpired,
		http.StatusNotFound:            common.ErrorNotFound,
		http.StatusConflict:            common.ErrConflict,
		http.StatusServiceUnavailable:  common.ErrProviderUnavailable,
		http.StatusInternalServerError: common.ErrProviderUnavailable,
		http.StatusBadRequest:          common.ErrorInternal,
	}
	for status, want := range cases {
		assert.ErrorIs(t, StatusError(Dropbox, "op", status, nil, nil), want, "status %d", status)
	}
}

func TestTransportError(t *testing.T) {
	assert.ErrorIs(t, TransportError(S3, "op", errors.New("reset")), common.ErrProviderUnavailable)
	assert.Equal(t, context.Canceled, TransportError(S3, "op", context.Canceled))
}
