// Package storage defines the Backend contract shared by every persistence
// implementation of the file store, together with name validation and the
// per-name write lock.
//
// Backends guarantee atomic visibility: a Get observes either the complete
// previous content of a name or the complete new content, never a mix.
package storage

import (
	"context"
	"io"
)

// DefaultMaxNameLength bounds file names in bytes. It matches common
// filesystem limits and fits the protocol's 2-byte name length.
const DefaultMaxNameLength = 255

// FileInfo describes one stored file.
type FileInfo struct {
	Name string
	Size int64
}

// Backend maps validated names to byte content on a durable medium.
//
// Put consumes r until EOF and replaces the content stored under name only
// when the whole stream was received and persisted. On failure the prior
// content is left untouched and the error wraps common.ErrIncompleteWrite
// (stream or write failure) or common.ErrIOFailure (medium failure outside
// the copy).
//
// Get returns a point-in-time snapshot of name and its size. The caller must
// close the reader. Missing names yield common.ErrNotFound.
//
// List returns all entries sorted by name.
type Backend interface {
	Put(ctx context.Context, name string, r io.Reader) (int64, error)
	Get(ctx context.Context, name string) (io.ReadCloser, int64, error)
	List(ctx context.Context) ([]FileInfo, error)
	Delete(ctx context.Context, name string) error
}

// ContextReader wraps r so that reads fail with ctx.Err() once ctx is done.
// Backends use it to abandon an in-flight copy on shutdown.
func ContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &contextReader{ctx: ctx, r: r}
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
