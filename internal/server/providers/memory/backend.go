// Package memory is an in-process provider with a change feed and fault
// injection. It backs the memory dev mode and the engine's tests.
package memory

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/dmitrijs2005/gophsync/internal/timex"
)

type object struct {
	item providers.Item
	data []byte
}

type session struct {
	folderID string
	name     string
	mimeType string
	size     int64
	data     []byte
}

type logEntry struct {
	seq    int64
	change providers.Change
}

// Backend is the shared state behind every client the registry hands out.
type Backend struct {
	opts     providers.Options
	pageSize int
	clock    timex.Clock

	mu       sync.Mutex
	nextID   int
	objects  map[string]*object
	sessions map[string]*session
	log      []logEntry
	seq      int64
	// tokens of an older epoch are rejected as stale
	epoch int

	calls     map[string]int
	throttles []time.Duration
	failures  []error
	rejected  map[string]bool
	interrupt int64
}

func NewBackend(opts providers.Options, clock timex.Clock) *Backend {
	if clock == nil {
		clock = timex.RealClock{}
	}
	return &Backend{
		opts:     opts.WithDefaults(),
		pageSize: 100,
		clock:    clock,
		objects:  make(map[string]*object),
		sessions: make(map[string]*session),
		calls:    make(map[string]int),
		rejected: make(map[string]bool),
	}
}

// SetPageSize changes how many entries a ListChanges page holds.
func (b *Backend) SetPageSize(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pageSize = n
}

// Factory returns a providers.Factory building clients over b.
func (b *Backend) Factory() providers.Factory {
	return func(ctx context.Context, accessToken string) (providers.Provider, error) {
		return &Client{backend: b, token: accessToken}, nil
	}
}

// ThrottleNext makes the next n calls fail with a rate limit error carrying
// retryAfter.
func (b *Backend) ThrottleNext(n int, retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for range n {
		b.throttles = append(b.throttles, retryAfter)
	}
}

// FailNext makes the next call fail with err.
func (b *Backend) FailNext(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, err)
}

// RejectToken makes every call with token fail as expired authorization.
func (b *Backend) RejectToken(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejected[token] = true
}

// InterruptUploadAfter breaks the next resumable upload once at least n
// bytes were confirmed.
func (b *Backend) InterruptUploadAfter(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interrupt = n
}

// ExpireCursors invalidates every change token handed out so far.
func (b *Backend) ExpireCursors() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.epoch++
}

// Calls returns how many times op was called.
func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// enter is run by every client method under b.mu.
func (b *Backend) enter(op, token string) error {
	b.calls[op]++
	if b.rejected[token] {
		return common.NewProviderError("memory", op, common.ErrAuthExpired, 401, nil)
	}
	if len(b.throttles) > 0 {
		d := b.throttles[0]
		b.throttles = b.throttles[1:]
		return &common.RateLimitError{Provider: "memory", RetryAfter: d}
	}
	if len(b.failures) > 0 {
		err := b.failures[0]
		b.failures = b.failures[1:]
		return err
	}
	return nil
}

func (b *Backend) newID() string {
	b.nextID++
	return fmt.Sprintf("m%06d", b.nextID)
}

func (b *Backend) pathOf(id string) string {
	var parts []string
	for id != "" {
		o, ok := b.objects[id]
		if !ok {
			break
		}
		parts = append(parts, o.item.Name)
		id = o.item.ParentID
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

func (b *Backend) snapshot(o *object) *providers.Item {
	it := o.item
	it.Path = b.pathOf(it.ID)
	return &it
}

func (b *Backend) record(c providers.Change) {
	b.seq++
	b.log = append(b.log, logEntry{seq: b.seq, change: c})
}

func (b *Backend) put(parentID, name, mimeType string, folder bool, data []byte) *object {
	o := &object{
		item: providers.Item{
			ID:         b.newID(),
			Name:       name,
			ParentID:   parentID,
			IsFolder:   folder,
			MimeType:   mimeType,
			Size:       int64(len(data)),
			ModifiedAt: b.clock.Now(),
		},
		data: data,
	}
	b.objects[o.item.ID] = o
	b.record(providers.Change{ItemID: o.item.ID, Item: b.snapshot(o)})
	return o
}

func (b *Backend) remove(id string) {
	for cid, o := range b.objects {
		if o.item.ParentID == id {
			b.remove(cid)
		}
	}
	p := b.pathOf(id)
	delete(b.objects, id)
	b.record(providers.Change{ItemID: id, Path: p, Removed: true})
}

// Out-of-band mutations, as done by a user in the provider's own UI.

// Put creates a file the engine did not upload.
func (b *Backend) Put(parentID, name string, data []byte) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.put(parentID, name, "application/octet-stream", false, data).item.ID
}

// Remove deletes an item and its descendants.
func (b *Backend) Remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[id]; ok {
		b.remove(id)
	}
}

func (b *Backend) Rename(id, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o, ok := b.objects[id]; ok {
		o.item.Name = name
		o.item.ModifiedAt = b.clock.Now()
		b.record(providers.Change{ItemID: id, Item: b.snapshot(o)})
	}
}

func (b *Backend) Move(id, parentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o, ok := b.objects[id]; ok {
		o.item.ParentID = parentID
		o.item.ModifiedAt = b.clock.Now()
		b.record(providers.Change{ItemID: id, Item: b.snapshot(o)})
	}
}

// Item returns the current state of id.
func (b *Backend) Item(id string) (*providers.Item, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.objects[id]
	if !ok {
		return nil, false
	}
	return b.snapshot(o), true
}

// Content returns a copy of the stored bytes of id.
func (b *Backend) Content(id string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.objects[id]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), o.data...), true
}

// Children lists the items directly under parentID, sorted by name.
func (b *Backend) Children(parentID string) []providers.Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []providers.Item
	for _, o := range b.objects {
		if o.item.ParentID == parentID {
			out = append(out, *b.snapshot(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (b *Backend) FindByPath(p string) (*providers.Item, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, o := range b.objects {
		if b.pathOf(id) == path.Clean(p) {
			return b.snapshot(o), true
		}
	}
	return nil, false
}

// cursor tokens: "c<epoch>.<seq>" for incremental feeds and
// "f<epoch>.<seq>.<offset>" while paging through a full listing taken at seq.
type cursor struct {
	full   bool
	epoch  int
	seq    int64
	offset int
}

func (c cursor) String() string {
	if c.full {
		return fmt.Sprintf("f%d.%d.%d", c.epoch, c.seq, c.offset)
	}
	return fmt.Sprintf("c%d.%d", c.epoch, c.seq)
}

func parseToken(tok string) (cursor, error) {
	var c cursor
	if tok == "" {
		return c, fmt.Errorf("empty token")
	}
	c.full = tok[0] == 'f'
	if !c.full && tok[0] != 'c' {
		return c, fmt.Errorf("malformed token %q", tok)
	}
	parts := strings.Split(tok[1:], ".")
	if (c.full && len(parts) != 3) || (!c.full && len(parts) != 2) {
		return c, fmt.Errorf("malformed token %q", tok)
	}
	var err error
	if c.epoch, err = strconv.Atoi(parts[0]); err != nil {
		return c, err
	}
	if c.seq, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
		return c, err
	}
	if c.full {
		if c.offset, err = strconv.Atoi(parts[2]); err != nil {
			return c, err
		}
	}
	return c, nil
}
