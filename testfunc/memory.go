package testfunc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/ferryd/ferry/server/blobstore"
	"github.com/ferryd/ferry/server/registry"
)

// MemoryCarrier is an in-memory blobstore.Store with configurable failure
// and range behavior, so tests can exercise retry and software-slicing paths
// without a real carrier.
type MemoryCarrier struct {
	Backend        string
	MaxBytes       int64
	SupportsRanges bool
	// FailPuts makes the next N Put calls fail transiently before consuming
	// any source bytes.
	FailPuts int

	mu       sync.Mutex
	objects  map[string][]byte
	putCalls int
}

func NewMemoryCarrier() *MemoryCarrier {
	return &MemoryCarrier{
		Backend:        "memory",
		MaxBytes:       50 << 20,
		SupportsRanges: true,
		objects:        make(map[string][]byte),
	}
}

func (c *MemoryCarrier) Name() string {
	return c.Backend
}

func (c *MemoryCarrier) MaxObjectBytes() int64 {
	return c.MaxBytes
}

func (c *MemoryCarrier) Validate() []string {
	if c.MaxBytes <= 0 {
		return []string{"MemoryCarrier MaxBytes must be greater than 0"}
	}
	return nil
}

func (c *MemoryCarrier) Put(ctx context.Context, r io.Reader, sizeHint int64, name string) (blobstore.Ref, error) {
	c.mu.Lock()
	c.putCalls++
	if c.FailPuts > 0 {
		c.FailPuts--
		c.mu.Unlock()
		return blobstore.Ref{}, fmt.Errorf("injected failure: %w", blobstore.ErrCarrierTransient)
	}
	c.mu.Unlock()

	if sizeHint > c.MaxBytes {
		return blobstore.Ref{}, fmt.Errorf("declared size %d over ceiling %d: %w",
			sizeHint, c.MaxBytes, blobstore.ErrCarrierRejected)
	}
	data, err := io.ReadAll(io.LimitReader(r, c.MaxBytes+1))
	if err != nil {
		return blobstore.Ref{}, fmt.Errorf("reading source: %w", err)
	}
	if int64(len(data)) > c.MaxBytes {
		return blobstore.Ref{}, fmt.Errorf("stream over ceiling %d: %w", c.MaxBytes, blobstore.ErrCarrierRejected)
	}
	id := uuid.NewString()
	c.mu.Lock()
	c.objects[id] = data
	c.mu.Unlock()
	return blobstore.Ref{CarrierID: id, Size: int64(len(data))}, nil
}

func (c *MemoryCarrier) Stat(ctx context.Context, ref blobstore.Ref) (blobstore.Meta, error) {
	c.mu.Lock()
	data, ok := c.objects[ref.CarrierID]
	c.mu.Unlock()
	if !ok {
		return blobstore.Meta{}, blobstore.ErrObjectNotFound
	}
	return blobstore.Meta{Size: int64(len(data))}, nil
}

func (c *MemoryCarrier) Open(ctx context.Context, ref blobstore.Ref, rng *blobstore.ByteRange) (*blobstore.Object, error) {
	c.mu.Lock()
	data, ok := c.objects[ref.CarrierID]
	c.mu.Unlock()
	if !ok {
		return nil, blobstore.ErrObjectNotFound
	}
	total := int64(len(data))
	if rng == nil || !c.SupportsRanges {
		return &blobstore.Object{
			Body:      io.NopCloser(bytes.NewReader(data)),
			TotalSize: total,
		}, nil
	}
	window := *rng
	if window.End >= total {
		window.End = total - 1
	}
	return &blobstore.Object{
		Body:           io.NopCloser(bytes.NewReader(data[window.Start : window.End+1])),
		EffectiveRange: &window,
		TotalSize:      total,
	}, nil
}

// PutCalls reports how many Put attempts the carrier has seen, including
// injected failures.
func (c *MemoryCarrier) PutCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.putCalls
}

// ObjectCount reports how many objects the carrier holds.
func (c *MemoryCarrier) ObjectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.objects)
}

// MemoryRegistry is an in-memory registry.Registry.
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]*registry.Entry
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]*registry.Entry)}
}

func (m *MemoryRegistry) Register(ctx context.Context, kind registry.Kind, filename string, parts []registry.Part) (string, error) {
	if err := registry.ValidateParts(parts); err != nil {
		return "", fmt.Errorf("invalid parts: %w", err)
	}
	token, err := registry.NewToken()
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[token] = &registry.Entry{
		Token:      token,
		Kind:       kind,
		Filename:   filename,
		TotalBytes: registry.TotalBytes(parts),
		Parts:      parts,
	}
	return token, nil
}

func (m *MemoryRegistry) Resolve(ctx context.Context, token string) (*registry.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[token]
	if !ok {
		return nil, registry.ErrNotFound
	}
	return entry, nil
}
