// Package storage implements the Storage capability interface:
// a small filesystem-shaped abstraction over path resolution, existence
// checks, reads, atomic writes, listing, and deletion. Two backends satisfy
// it: a local filesystem backend grounded on path-traversal-safe, atomic
// temp-file-then-rename writes, and an S3-compatible object-store backend.
// A Context wraps either backend with a basePath and makes path
// resolution movieId-aware.
package storage

import (
	"context"
	"fmt"
	"io"
)

// EntryType distinguishes a listed storage entry.
type EntryType int

const (
	// EntryFile marks a plain file entry.
	EntryFile EntryType = iota
	// EntryDir marks a directory entry.
	EntryDir
)

// Entry is one item returned by List.
type Entry struct {
	Type EntryType
	Path string
	Size int64
}

// WriteOptions carries optional metadata for a write.
type WriteOptions struct {
	MimeType string
}

// ListOptions controls the depth of a List call.
type ListOptions struct {
	// Deep requests a recursive listing; false lists only the immediate
	// children of Path.
	Deep bool
}

// DeleteOptions controls whether a delete recurses into directories.
type DeleteOptions struct {
	Recursive bool
}

// Backend is the capability interface every storage implementation
// satisfies. Path values are backend-relative: for the local filesystem
// backend they are OS paths rooted at a base directory; for the S3 backend
// they are object keys.
//
// write is atomic with respect to readers: a concurrent reader observes
// either the prior bytes or the complete new bytes, never a partial write.
// list returns entries in an unspecified order; callers needing a stable
// order must sort.
type Backend interface {
	// Resolve joins parts into a single backend-relative path.
	Resolve(parts ...string) string

	FileExists(ctx context.Context, path string) (bool, error)
	DirectoryExists(ctx context.Context, path string) (bool, error)

	ReadToBytes(ctx context.Context, path string) ([]byte, error)
	ReadToString(ctx context.Context, path string) (string, error)

	// Write persists data atomically, creating any missing parent
	// directories first.
	Write(ctx context.Context, path string, data []byte, opts WriteOptions) error

	// WriteReader is the streaming form of Write, used for large blobs.
	WriteReader(ctx context.Context, path string, r io.Reader, opts WriteOptions) error

	List(ctx context.Context, path string, opts ListOptions) ([]Entry, error)

	Delete(ctx context.Context, path string, opts DeleteOptions) error
}

// Context wraps a Backend with a basePath and makes path resolution
// movieId-aware: Resolve(movieId, "events", "inputs.log") produces
// "<basePath>/<movieId>/events/inputs.log" in backend-relative form.
type Context struct {
	Backend  Backend
	BasePath string
}

// New constructs a storage Context over backend, rooted at basePath.
func New(backend Backend, basePath string) *Context {
	return &Context{Backend: backend, BasePath: basePath}
}

// Resolve builds a backend-relative path for movieId and the given parts.
func (c *Context) Resolve(movieId string, parts ...string) string {
	all := make([]string, 0, len(parts)+2)
	if c.BasePath != "" {
		all = append(all, c.BasePath)
	}
	all = append(all, movieId)
	all = append(all, parts...)
	return c.Backend.Resolve(all...)
}

func (c *Context) FileExists(ctx context.Context, movieId string, parts ...string) (bool, error) {
	return c.Backend.FileExists(ctx, c.Resolve(movieId, parts...))
}

func (c *Context) DirectoryExists(ctx context.Context, movieId string, parts ...string) (bool, error) {
	return c.Backend.DirectoryExists(ctx, c.Resolve(movieId, parts...))
}

func (c *Context) ReadToBytes(ctx context.Context, movieId string, parts ...string) ([]byte, error) {
	return c.Backend.ReadToBytes(ctx, c.Resolve(movieId, parts...))
}

func (c *Context) ReadToString(ctx context.Context, movieId string, parts ...string) (string, error) {
	return c.Backend.ReadToString(ctx, c.Resolve(movieId, parts...))
}

func (c *Context) Write(ctx context.Context, movieId string, data []byte, opts WriteOptions, parts ...string) error {
	return c.Backend.Write(ctx, c.Resolve(movieId, parts...), data, opts)
}

func (c *Context) WriteReader(ctx context.Context, movieId string, r io.Reader, opts WriteOptions, parts ...string) error {
	return c.Backend.WriteReader(ctx, c.Resolve(movieId, parts...), r, opts)
}

func (c *Context) List(ctx context.Context, movieId string, opts ListOptions, parts ...string) ([]Entry, error) {
	return c.Backend.List(ctx, c.Resolve(movieId, parts...), opts)
}

func (c *Context) Delete(ctx context.Context, movieId string, opts DeleteOptions, parts ...string) error {
	return c.Backend.Delete(ctx, c.Resolve(movieId, parts...), opts)
}

// NotFoundError reports a missing file or directory.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("storage: not found: %s", e.Path)
}

// IsNotFound reports whether err is, or wraps, a *NotFoundError.
func IsNotFound(err error) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if _, ok := err.(*NotFoundError); ok {
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
