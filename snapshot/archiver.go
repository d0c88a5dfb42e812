package snapshot

import (
	"bufio"
	"bytes"
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/kmemgo/blobstore"
	"github.com/hupe1980/kmemgo/internal/resource"
)

// Archiver moves savestates between memory and a blob store. Saves write the
// whole encoded state with one atomic Put, so a crashed save never leaves a
// partial savestate behind. Async saves are gated by a worker limit and an
// optional IO throughput cap.
type Archiver struct {
	store       blobstore.Store
	rc          *resource.Controller
	compression CompressionType
	saves       errgroup.Group
}

// NewArchiver creates an archiver on top of the given store.
func NewArchiver(store blobstore.Store, optFns ...func(o *Options)) (*Archiver, error) {
	if store == nil {
		return nil, fmt.Errorf("snapshot: store is nil")
	}

	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if !opts.Compression.Valid() {
		return nil, fmt.Errorf("snapshot: unknown compression type %d", uint8(opts.Compression))
	}

	rc := resource.NewController(resource.Config{
		MaxBackgroundWorkers: opts.MaxConcurrentSaves,
		IOLimitBytesPerSec:   opts.IOLimitBytesPerSec,
	})

	return &Archiver{
		store:       store,
		rc:          rc,
		compression: opts.Compression,
	}, nil
}

// Save encodes the state and stores it under name, replacing any previous
// savestate of that name. Encoded bytes draw on the archiver's IO budget as
// they are produced; the store write then publishes them with one atomic Put.
func (a *Archiver) Save(ctx context.Context, name string, s *State) error {
	var buf bytes.Buffer
	if err := Encode(resource.NewRateLimitedWriter(ctx, &buf, a.rc), s, a.compression); err != nil {
		return err
	}
	return a.store.Put(ctx, name, buf.Bytes())
}

// SaveAsync queues a save on a background worker. The state must not be
// mutated until Wait returns. Errors surface from Wait.
func (a *Archiver) SaveAsync(ctx context.Context, name string, s *State) {
	a.saves.Go(func() error {
		if err := a.rc.AcquireBackground(ctx); err != nil {
			return err
		}
		defer a.rc.ReleaseBackground()

		if err := a.Save(ctx, name, s); err != nil {
			return fmt.Errorf("snapshot: async save of %q: %w", name, err)
		}
		return nil
	})
}

// Wait blocks until all queued async saves finish and returns the first
// error among them.
func (a *Archiver) Wait() error {
	return a.saves.Wait()
}

// Load reads the savestate stored under name and decodes it.
func (a *Archiver) Load(ctx context.Context, name string) (*State, error) {
	blob, err := a.store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	rd, err := blob.ReadRange(ctx, 0, blob.Size())
	if err != nil {
		return nil, err
	}
	defer rd.Close()

	// Buffering keeps the codec's small reads off the store and gives the
	// rate limiter whole chunks to account.
	return Decode(bufio.NewReaderSize(resource.NewRateLimitedReader(ctx, rd, a.rc), 64*1024))
}

// Delete removes the savestate stored under name.
func (a *Archiver) Delete(ctx context.Context, name string) error {
	return a.store.Delete(ctx, name)
}

// List returns the names of stored savestates matching the prefix.
func (a *Archiver) List(ctx context.Context, prefix string) ([]string, error) {
	return a.store.List(ctx, prefix)
}
