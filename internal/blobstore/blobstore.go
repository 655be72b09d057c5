// Package blobstore implements the content-addressed blob store: blobs
// live under "<movieId>/blobs/<xx>/<hash>[.<ext>]" where <xx> is the first
// two hex characters of the blob's SHA-256 hash. Persisting the same bytes
// twice dedups to one object; reads accept both the extension-carrying and
// the legacy bare-hash filename.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/jmylchreest/movieforge/internal/storage"
)

// Ref is the {hash, size, mimeType} triple returned by Persist and consumed
// by Read. It is also the value hashed by internal/hashing when a blob is
// embedded in an input value or a producer output.
type Ref struct {
	Hash     string `json:"hash"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType,omitempty"`
}

// Store persists and retrieves content-addressed blobs for one movie
// (build) via a storage.Context.
type Store struct {
	storage *storage.Context
	movieId string

	// compress, when non-nil, optionally compresses bytes before they are
	// written, returning the compressed bytes and the extension to append
	// (e.g. "br"). The hash recorded in Ref is always computed over the
	// original, uncompressed bytes (blobs are addressed by the
	// hash of their logical content, not their storage encoding).
	compress func(mimeType string, data []byte) (compressed []byte, ext string, ok bool)
}

// New constructs a blob store scoped to movieId.
func New(store *storage.Context, movieId string) *Store {
	return &Store{storage: store, movieId: movieId}
}

// WithCompression enables opt-in compression for blobs whose mime type
// passes the predicate embedded in fn.
func (s *Store) WithCompression(fn func(mimeType string, data []byte) (compressed []byte, ext string, ok bool)) *Store {
	s.compress = fn
	return s
}

// Persist computes data's SHA-256 hash, writes it under the sharded path if
// not already present (or present with a differing size), and returns its
// Ref. Concurrent persists of identical bytes are idempotent: the last
// write wins, and the bytes are identical by definition.
func (s *Store) Persist(ctx context.Context, data []byte, mimeType string) (Ref, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	ref := Ref{Hash: hash, Size: int64(len(data)), MimeType: mimeType}

	ext := extensionForMimeType(mimeType)
	path := s.shardPath(hash, ext)

	exists, existingSize, err := s.existingObject(ctx, hash, ext)
	if err != nil {
		return Ref{}, err
	}
	if exists && existingSize == ref.Size {
		return ref, nil
	}

	writeData := data
	writePath := path
	if s.compress != nil {
		if compressed, compExt, ok := s.compress(mimeType, data); ok {
			writeData = compressed
			writePath = s.shardPath(hash, ext+"."+compExt)
		}
	}

	if err := s.storage.Write(ctx, s.movieId, writeData, storage.WriteOptions{MimeType: mimeType}, splitParts(writePath)...); err != nil {
		return Ref{}, fmt.Errorf("blobstore: persisting blob %s: %w", hash, err)
	}
	return ref, nil
}

// existingObject checks for a pre-existing object at the extension-carrying
// path, then the bare (legacy) path, returning its size if found.
func (s *Store) existingObject(ctx context.Context, hash, ext string) (bool, int64, error) {
	entries, err := s.storage.List(ctx, s.movieId, storage.ListOptions{Deep: false}, shardDir(hash))
	if err != nil {
		return false, 0, fmt.Errorf("blobstore: listing shard dir: %w", err)
	}

	byName := make(map[string]int64, len(entries))
	for _, e := range entries {
		if e.Type != storage.EntryFile {
			continue
		}
		byName[storageLeafName(e.Path)] = e.Size
	}

	for _, name := range []string{leafName(hash, ext), leafName(hash, "")} {
		if size, ok := byName[name]; ok {
			return true, size, nil
		}
	}
	return false, 0, nil
}

// storageLeafName returns the final path segment regardless of the
// separator convention (filepath on local disk, "/" for S3 keys).
func storageLeafName(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

func leafName(hash, ext string) string {
	if ext == "" {
		return hash
	}
	return hash + "." + ext
}

// Read locates a blob by its Ref, checking the extension-carrying and the
// legacy bare filename, then the brotli-compressed ".br" sibling, which it
// decompresses before returning.
func (s *Store) Read(ctx context.Context, ref Ref) ([]byte, error) {
	ext := extensionForMimeType(ref.MimeType)
	for _, p := range []string{s.shardPath(ref.Hash, ext), s.shardPath(ref.Hash, "")} {
		data, err := s.storage.ReadToBytes(ctx, s.movieId, splitParts(p)...)
		if err == nil {
			return data, nil
		}
		if !storage.IsNotFound(err) {
			return nil, fmt.Errorf("blobstore: reading blob %s: %w", ref.Hash, err)
		}
	}
	compressed, err := s.storage.ReadToBytes(ctx, s.movieId, splitParts(s.shardPath(ref.Hash, ext+".br"))...)
	if err == nil {
		data, err := io.ReadAll(brotli.NewReader(bytes.NewReader(compressed)))
		if err != nil {
			return nil, fmt.Errorf("blobstore: decompressing blob %s: %w", ref.Hash, err)
		}
		return data, nil
	}
	if !storage.IsNotFound(err) {
		return nil, fmt.Errorf("blobstore: reading blob %s: %w", ref.Hash, err)
	}
	return nil, fmt.Errorf("blobstore: blob not found: %s", ref.Hash)
}

func (s *Store) shardPath(hash, ext string) string {
	shard := hash[:2]
	name := hash
	if ext != "" {
		name = hash + "." + ext
	}
	return shard + "/" + name
}

func shardDir(hash string) string {
	return hash[:2]
}

func splitParts(p string) []string {
	return strings.Split(p, "/")
}
