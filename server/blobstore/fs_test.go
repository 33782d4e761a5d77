package blobstore_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/ferryd/ferry/server/blobstore"
)

func newFSStore(t *testing.T) *blobstore.FilesystemStore {
	t.Helper()
	return &blobstore.FilesystemStore{Root: t.TempDir(), MaxBytes: 16}
}

func TestFilesystemStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newFSStore(t)

	ref, err := store.Put(ctx, strings.NewReader("hello world"), 11, "greeting.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.Size != 11 {
		t.Fatalf("got size %d, want 11", ref.Size)
	}

	meta, err := store.Stat(ctx, ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.Size != 11 {
		t.Fatalf("got size %d, want 11", meta.Size)
	}

	obj, err := store.Open(ctx, ref, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("got %q, want %q", data, "hello world")
	}
	if obj.TotalSize != 11 {
		t.Fatalf("got total size %d, want 11", obj.TotalSize)
	}
}

func TestFilesystemStoreRangedOpen(t *testing.T) {
	ctx := context.Background()
	store := newFSStore(t)

	ref, err := store.Put(ctx, strings.NewReader("hello world"), 11, "greeting.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rng := &blobstore.ByteRange{Start: 6, End: 10}
	obj, err := store.Open(ctx, ref, rng)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "world" {
		t.Fatalf("got %q, want %q", data, "world")
	}
	if obj.EffectiveRange == nil || *obj.EffectiveRange != *rng {
		t.Fatalf("got effective range %v, want %v", obj.EffectiveRange, rng)
	}
}

// A hint over the ceiling must be rejected before the source is touched, so
// the caller can fall back to another strategy with the stream intact.
func TestFilesystemStoreRejectsOversizedHintWithoutReading(t *testing.T) {
	ctx := context.Background()
	store := newFSStore(t)

	src := &readCounter{r: strings.NewReader(strings.Repeat("x", 100))}
	_, err := store.Put(ctx, src, 100, "big.bin")
	if !errors.Is(err, blobstore.ErrCarrierRejected) {
		t.Fatalf("got error %v, want ErrCarrierRejected", err)
	}
	if src.reads != 0 {
		t.Fatalf("source was read %d times, want 0", src.reads)
	}
}

func TestFilesystemStoreRejectsOversizedStream(t *testing.T) {
	ctx := context.Background()
	store := newFSStore(t)

	// Hint lies about the size; the ceiling is enforced while copying.
	_, err := store.Put(ctx, strings.NewReader(strings.Repeat("x", 100)), -1, "big.bin")
	if !errors.Is(err, blobstore.ErrCarrierRejected) {
		t.Fatalf("got error %v, want ErrCarrierRejected", err)
	}
}

func TestFilesystemStoreMissingObject(t *testing.T) {
	ctx := context.Background()
	store := newFSStore(t)
	ref := blobstore.Ref{CarrierID: "nope"}

	if _, err := store.Stat(ctx, ref); !errors.Is(err, blobstore.ErrObjectNotFound) {
		t.Fatalf("got error %v, want ErrObjectNotFound", err)
	}
	if _, err := store.Open(ctx, ref, nil); !errors.Is(err, blobstore.ErrObjectNotFound) {
		t.Fatalf("got error %v, want ErrObjectNotFound", err)
	}
}

type readCounter struct {
	r     io.Reader
	reads int
}

func (c *readCounter) Read(p []byte) (int, error) {
	c.reads++
	return c.r.Read(p)
}
