package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Local is a filesystem-backed Backend rooted at a base directory. All
// paths resolve within that root; an attempt to escape it via ".." or an
// absolute path is rejected. The check is made on the cleaned path alone:
// symlinks are not resolved, so a symlink inside the root that points
// outside it is followed. Writes go
// through a temp-file-then-rename so a concurrent reader never observes a
// partially written file, following the same pattern as a sandboxed
// temp-directory write.
type Local struct {
	baseDir string
	retry   retryConfig
}

// NewLocal constructs a local filesystem backend rooted at baseDir. baseDir
// is created if it does not already exist.
func NewLocal(baseDir string) (*Local, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolving base dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating base dir: %w", err)
	}
	return &Local{baseDir: abs, retry: defaultRetry}, nil
}

// Resolve joins parts into a backend-relative (OS) path. It does not
// perform the containment check; that happens in resolveAbs, used by every
// operation that touches the filesystem.
func (l *Local) Resolve(parts ...string) string {
	return filepath.Join(parts...)
}

// resolveAbs maps a backend-relative path to an absolute path guaranteed to
// be within l.baseDir, rejecting traversal attempts.
func (l *Local) resolveAbs(path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("storage: path must be relative: %s", path)
	}
	cleaned := filepath.Clean(filepath.Join(l.baseDir, path))
	if cleaned != l.baseDir && !strings.HasPrefix(cleaned, l.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("storage: path escapes base dir: %s", path)
	}
	return cleaned, nil
}

func (l *Local) FileExists(_ context.Context, path string) (bool, error) {
	abs, err := l.resolveAbs(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

func (l *Local) DirectoryExists(_ context.Context, path string) (bool, error) {
	abs, err := l.resolveAbs(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (l *Local) ReadToBytes(ctx context.Context, path string) ([]byte, error) {
	abs, err := l.resolveAbs(path)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = withRetry(ctx, l.retry, func() error {
		b, readErr := os.ReadFile(abs)
		if readErr != nil {
			if os.IsNotExist(readErr) {
				return &NotFoundError{Path: path}
			}
			return readErr
		}
		data = b
		return nil
	})
	return data, err
}

func (l *Local) ReadToString(ctx context.Context, path string) (string, error) {
	data, err := l.ReadToBytes(ctx, path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (l *Local) Write(ctx context.Context, path string, data []byte, _ WriteOptions) error {
	abs, err := l.resolveAbs(path)
	if err != nil {
		return err
	}
	return withRetry(ctx, l.retry, func() error {
		return atomicWrite(abs, data)
	})
}

func (l *Local) WriteReader(ctx context.Context, path string, r io.Reader, _ WriteOptions) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("storage: reading write source: %w", err)
	}
	abs, err := l.resolveAbs(path)
	if err != nil {
		return err
	}
	return withRetry(ctx, l.retry, func() error {
		return atomicWrite(abs, data)
	})
}

// atomicWrite creates any missing parent directories, writes data to a
// randomly-named temp file alongside the destination, then renames it into
// place. A rename within the same directory is atomic on POSIX and NTFS.
func atomicWrite(abs string, data []byte) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: creating parent dir: %w", err)
	}

	tmpName, err := randomSuffix()
	if err != nil {
		return err
	}
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(abs), tmpName))

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("storage: writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, abs); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage: renaming temp file into place: %w", err)
	}
	return nil
}

func randomSuffix() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("storage: generating temp suffix: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (l *Local) List(_ context.Context, path string, opts ListOptions) ([]Entry, error) {
	abs, err := l.resolveAbs(path)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(abs); statErr != nil {
		if os.IsNotExist(statErr) {
			return nil, nil
		}
		return nil, statErr
	}

	var entries []Entry
	if opts.Deep {
		err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if p == abs {
				return nil
			}
			rel, relErr := filepath.Rel(l.baseDir, p)
			if relErr != nil {
				return relErr
			}
			entries = append(entries, entryFor(rel, d))
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		dirEntries, readErr := os.ReadDir(abs)
		if readErr != nil {
			return nil, readErr
		}
		for _, d := range dirEntries {
			rel, relErr := filepath.Rel(l.baseDir, filepath.Join(abs, d.Name()))
			if relErr != nil {
				return nil, relErr
			}
			entries = append(entries, entryFor(rel, d))
		}
	}

	// List order is unspecified by contract; sort for test determinism.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func entryFor(relPath string, d fs.DirEntry) Entry {
	if d.IsDir() {
		return Entry{Type: EntryDir, Path: relPath}
	}
	info, err := d.Info()
	var size int64
	if err == nil {
		size = info.Size()
	}
	return Entry{Type: EntryFile, Path: relPath, Size: size}
}

func (l *Local) Delete(_ context.Context, path string, opts DeleteOptions) error {
	abs, err := l.resolveAbs(path)
	if err != nil {
		return err
	}
	if abs == l.baseDir {
		return fmt.Errorf("storage: refusing to delete base dir")
	}
	if opts.Recursive {
		return os.RemoveAll(abs)
	}
	return os.Remove(abs)
}
