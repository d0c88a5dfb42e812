package resource

import (
	"context"
	"fmt"
	"io"
)

// RateLimitedWriter wraps an io.Writer with IO pacing from a Controller.
type RateLimitedWriter struct {
	w   io.Writer
	rc  *Controller
	ctx context.Context
}

// NewRateLimitedWriter creates a writer that draws IO tokens before every
// write.
func NewRateLimitedWriter(ctx context.Context, w io.Writer, rc *Controller) *RateLimitedWriter {
	return &RateLimitedWriter{
		w:   w,
		rc:  rc,
		ctx: ctx,
	}
}

func (w *RateLimitedWriter) Write(p []byte) (int, error) {
	if err := w.rc.AcquireIO(w.ctx, len(p)); err != nil {
		return 0, err
	}
	return w.w.Write(p)
}

// Seek forwards to the underlying writer when it supports seeking.
func (w *RateLimitedWriter) Seek(offset int64, whence int) (int64, error) {
	if s, ok := w.w.(io.Seeker); ok {
		return s.Seek(offset, whence)
	}
	return 0, fmt.Errorf("resource: writer does not support seeking")
}

// RateLimitedReader wraps an io.Reader with IO pacing from a Controller.
// Tokens are drawn for the full buffer before the read, so short reads
// overcount slightly; pacing stays conservative.
type RateLimitedReader struct {
	r   io.Reader
	rc  *Controller
	ctx context.Context
}

// NewRateLimitedReader creates a reader that draws IO tokens before every
// read.
func NewRateLimitedReader(ctx context.Context, r io.Reader, rc *Controller) *RateLimitedReader {
	return &RateLimitedReader{
		r:   r,
		rc:  rc,
		ctx: ctx,
	}
}

func (r *RateLimitedReader) Read(p []byte) (int, error) {
	if err := r.rc.AcquireIO(r.ctx, len(p)); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
