// Package datasource provides byte-range readers for media locators.
package datasource

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
)

// LengthUnset means "read until the end of the resource".
const LengthUnset int64 = -1

// ErrPositionOutOfRange is returned when a read starts past the end of the resource.
var ErrPositionOutOfRange = errors.New("read position is past the end of the resource")

// Spec describes one read of a resource.
type Spec struct {
	URI      string
	Position int64
	Length   int64 // LengthUnset to read to the end
	Headers  map[string]string
	// UserAgent overrides the source's default user agent.
	UserAgent string
}

// Key identifies the resource independent of the requested range.
func (s Spec) Key() string {
	return s.URI
}

// Source opens readers over a byte range of a resource.
type Source interface {
	Open(ctx context.Context, spec Spec) (io.ReadCloser, error)
}

// Sized is implemented by readers that learn the total length of the resource
// while opening it.
type Sized interface {
	// Size returns the total resource length, or LengthUnset when unknown.
	Size() int64
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, spec Spec) (io.ReadCloser, error)

// Open calls f.
func (f SourceFunc) Open(ctx context.Context, spec Spec) (io.ReadCloser, error) {
	return f(ctx, spec)
}
