package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"
)

// lockRetry is how often a blocked writer polls the directory lock
const lockRetry = 20 * time.Millisecond

// FileStore keeps one file per entry under root, sharded by key digest.
// On the OS filesystem writers from separate palace processes (a prefetch
// beside a speak) serialise on root/.lock.
type FileStore struct {
	fs   afero.Fs
	root string

	mu   sync.Mutex   // flock does not exclude goroutines sharing one handle
	lock *flock.Flock // nil off the OS filesystem
}

// NewFileStore creates root on fs if needed
func NewFileStore(fsys afero.Fs, root string) (*FileStore, error) {
	if err := fsys.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	s := &FileStore{fs: fsys, root: root}
	if _, ok := fsys.(*afero.OsFs); ok {
		s.lock = flock.New(filepath.Join(root, ".lock"))
	}
	return s, nil
}

// exclusive runs fn holding the directory lock
func (s *FileStore) exclusive(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil {
		return fn()
	}
	locked, err := s.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("failed to lock cache directory: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to lock cache directory: %w", ctx.Err())
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			slog.Warn("failed to release cache directory lock", "path", s.lock.Path(), "error", err)
		}
	}()
	return fn()
}

func (s *FileStore) pathFor(key string) string {
	digest := hashKey(key)
	return filepath.Join(s.root, digest[:2], digest+".audio")
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, s.pathFor(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}
	return data, nil
}

// Put writes to a temp file and renames it into place
func (s *FileStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.pathFor(key)
	return s.exclusive(ctx, func() error {
		if err := s.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create shard directory: %w", err)
		}
		tmp := path + ".tmp"
		if err := afero.WriteFile(s.fs, tmp, data, 0644); err != nil {
			return fmt.Errorf("failed to write cache file: %w", err)
		}
		if err := s.fs.Rename(tmp, path); err != nil {
			s.fs.Remove(tmp)
			return fmt.Errorf("failed to rename cache file: %w", err)
		}
		return nil
	})
}

func (s *FileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.exclusive(ctx, func() error {
		shards, err := afero.ReadDir(s.fs, s.root)
		if err != nil {
			return fmt.Errorf("failed to list cache directory: %w", err)
		}
		for _, shard := range shards {
			if !shard.IsDir() {
				continue
			}
			if err := s.fs.RemoveAll(filepath.Join(s.root, shard.Name())); err != nil {
				return fmt.Errorf("failed to remove cache shard: %w", err)
			}
		}
		return nil
	})
}

// Count walks root and totals the stored entries
func (s *FileStore) Count(ctx context.Context) (int, int64, error) {
	var entries int
	var size int64
	err := afero.Walk(s.fs, s.root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".audio" {
			entries++
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to walk cache directory: %w", err)
	}
	return entries, size, nil
}

func (s *FileStore) Close() error { return nil }
