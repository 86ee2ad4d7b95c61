// Package fsstore stores files as plain entries of a single directory.
//
// Writes go to a dot-prefixed temporary in the same directory, are fsynced,
// then renamed over the target. Open readers keep the old inode, so a Get
// that started before a Put completes keeps reading the previous content.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dmitrijs2005/fileshare/internal/common"
	"github.com/dmitrijs2005/fileshare/internal/filex"
	"github.com/dmitrijs2005/fileshare/internal/logging"
	"github.com/dmitrijs2005/fileshare/internal/storage"
)

const tempPrefix = ".upload-"

// copyBufferSize is the buffer used to move upload bytes to disk.
const copyBufferSize = 64 * 1024

var _ storage.Backend = (*Store)(nil)

type Store struct {
	root       string
	maxNameLen int
	locks      storage.KeyedMutex
	logger     logging.Logger
}

// New opens (creating if needed) the storage root and removes temporaries
// left behind by a previous crash.
func New(ctx context.Context, root string, maxNameLen int, l logging.Logger) (*Store, error) {
	abs, err := filex.EnsureDir(root)
	if err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	s := &Store{
		root:       abs,
		maxNameLen: maxNameLen,
		logger:     l.With("module", "fsstore"),
	}
	if err := s.removeStale(ctx); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "storage root ready", "root", abs)
	return s, nil
}

// Root returns the absolute storage directory.
func (s *Store) Root() string { return s.root }

func (s *Store) removeStale(ctx context.Context) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("read storage root: %w", err)
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.root, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale temporary: %w", err)
		}
		s.logger.Warn(ctx, "removed stale temporary", "file", e.Name())
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.root, name)
}

func (s *Store) Put(ctx context.Context, name string, r io.Reader) (int64, error) {
	if err := storage.ValidateName(name, s.maxNameLen); err != nil {
		return 0, err
	}

	unlock := s.locks.Lock(name)
	defer unlock()

	tmp, err := os.CreateTemp(s.root, tempPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("create temporary: %w: %w", common.ErrIOFailure, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	n, err := io.CopyBuffer(tmp, storage.ContextReader(ctx, r), make([]byte, copyBufferSize))
	if err != nil {
		return 0, fmt.Errorf("put %s after %d bytes: %w: %w", name, n, common.ErrIncompleteWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("sync %s: %w: %w", name, common.ErrIOFailure, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w: %w", name, common.ErrIOFailure, err)
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		return 0, fmt.Errorf("replace %s: %w: %w", name, common.ErrIOFailure, err)
	}
	committed = true

	if err := filex.SyncDir(s.root); err != nil {
		s.logger.Warn(ctx, "directory sync failed", "error", err)
	}
	return n, nil
}

func (s *Store) Get(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	if err := storage.ValidateName(name, s.maxNameLen); err != nil {
		return nil, 0, err
	}
	f, err := os.Open(s.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("get %s: %w", name, common.ErrNotFound)
		}
		return nil, 0, fmt.Errorf("open %s: %w: %w", name, common.ErrIOFailure, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w: %w", name, common.ErrIOFailure, err)
	}
	if !fi.Mode().IsRegular() {
		f.Close()
		return nil, 0, fmt.Errorf("get %s: %w", name, common.ErrNotFound)
	}
	return f, fi.Size(), nil
}

func (s *Store) List(ctx context.Context) ([]storage.FileInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list: %w: %w", common.ErrIOFailure, err)
	}
	result := make([]storage.FileInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || storage.ValidateName(e.Name(), s.maxNameLen) != nil {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("list: %w: %w", common.ErrIOFailure, err)
		}
		result = append(result, storage.FileInfo{Name: e.Name(), Size: fi.Size()})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	if err := storage.ValidateName(name, s.maxNameLen); err != nil {
		return err
	}

	unlock := s.locks.Lock(name)
	defer unlock()

	if err := os.Remove(s.path(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", name, common.ErrNotFound)
		}
		return fmt.Errorf("delete %s: %w: %w", name, common.ErrIOFailure, err)
	}
	return nil
}
