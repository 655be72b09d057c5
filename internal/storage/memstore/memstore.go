// Package memstore implements an in-memory storage.Backend for fast,
// filesystem-free engine unit tests.
package memstore

import (
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/jmylchreest/movieforge/internal/storage"
)

// Store is an in-memory, goroutine-safe storage.Backend.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

func (s *Store) Resolve(parts ...string) string {
	return path.Join(parts...)
}

func (s *Store) FileExists(_ context.Context, p string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[p]
	return ok, nil
}

func (s *Store) DirectoryExists(_ context.Context, p string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := strings.TrimSuffix(p, "/") + "/"
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ReadToBytes(_ context.Context, p string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[p]
	if !ok {
		return nil, &storage.NotFoundError{Path: p}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *Store) ReadToString(ctx context.Context, p string) (string, error) {
	data, err := s.ReadToBytes(ctx, p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Store) Write(_ context.Context, p string, data []byte, _ storage.WriteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[p] = cp
	return nil
}

func (s *Store) WriteReader(ctx context.Context, p string, r io.Reader, opts storage.WriteOptions) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return s.Write(ctx, p, data, opts)
}

func (s *Store) List(_ context.Context, p string, opts storage.ListOptions) ([]storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := strings.TrimSuffix(p, "/")
	if prefix != "" {
		prefix += "/"
	}

	seenDirs := make(map[string]bool)
	var entries []storage.Entry
	for k, v := range s.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if rest == "" {
			continue
		}
		if opts.Deep {
			entries = append(entries, storage.Entry{Type: storage.EntryFile, Path: k, Size: int64(len(v))})
			continue
		}
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			dir := prefix + rest[:idx]
			if !seenDirs[dir] {
				seenDirs[dir] = true
				entries = append(entries, storage.Entry{Type: storage.EntryDir, Path: dir})
			}
			continue
		}
		entries = append(entries, storage.Entry{Type: storage.EntryFile, Path: k, Size: int64(len(v))})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (s *Store) Delete(_ context.Context, p string, opts storage.DeleteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !opts.Recursive {
		delete(s.objects, p)
		return nil
	}
	prefix := strings.TrimSuffix(p, "/") + "/"
	for k := range s.objects {
		if k == p || strings.HasPrefix(k, prefix) {
			delete(s.objects, k)
		}
	}
	return nil
}
