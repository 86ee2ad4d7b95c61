package fsstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/dmitrijs2005/fileshare/internal/common"
	"github.com/dmitrijs2005/fileshare/internal/logging"
	"github.com/dmitrijs2005/fileshare/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), t.TempDir(), 0, logging.Discard())
	require.NoError(t, err)
	return s
}

func readAll(t *testing.T, s *Store, name string) []byte {
	t.Helper()
	rc, size, err := s.Get(context.Background(), name)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, int64(len(b)), size)
	return b
}

// failingReader yields data and then fails, like a connection dropping
// mid-upload.
type failingReader struct {
	data []byte
	done bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.done {
		f.done = true
		return copy(p, f.data), nil
	}
	return 0, io.ErrUnexpectedEOF
}

func TestPutGet_RoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for _, content := range [][]byte{{}, []byte("hello"), bytes.Repeat([]byte{0, 1, 2, 255}, 100_000)} {
		n, err := s.Put(ctx, "f.bin", bytes.NewReader(content))
		require.NoError(t, err)
		assert.Equal(t, int64(len(content)), n)
		assert.Equal(t, content, readAll(t, s, "f.bin"))
	}
}

func TestPut_ReplacesWholesale(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "x", strings.NewReader("a much longer original"))
	require.NoError(t, err)
	_, err = s.Put(ctx, "x", strings.NewReader("short"))
	require.NoError(t, err)

	assert.Equal(t, "short", string(readAll(t, s, "x")))
}

func TestPut_IncompleteKeepsPrior(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "doc", strings.NewReader("old"))
	require.NoError(t, err)

	_, err = s.Put(ctx, "doc", &failingReader{data: []byte("new partial")})
	require.ErrorIs(t, err, common.ErrIncompleteWrite)
	assert.Equal(t, "old", string(readAll(t, s, "doc")))

	_, err = s.Put(ctx, "fresh", &failingReader{data: []byte("partial")})
	require.ErrorIs(t, err, common.ErrIncompleteWrite)
	_, _, err = s.Get(ctx, "fresh")
	assert.ErrorIs(t, err, common.ErrNotFound)

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporaries must be cleaned up")
}

func TestPut_CancelledContext(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Put(ctx, "c", strings.NewReader("data"))
	require.ErrorIs(t, err, common.ErrIncompleteWrite)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGet_SnapshotSurvivesReplace(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	oldContent := bytes.Repeat([]byte("o"), 1<<20)
	newContent := bytes.Repeat([]byte("n"), 1<<20)
	_, err := s.Put(ctx, "x", bytes.NewReader(oldContent))
	require.NoError(t, err)

	rc, size, err := s.Get(ctx, "x")
	require.NoError(t, err)
	defer rc.Close()

	head := make([]byte, 10)
	_, err = io.ReadFull(rc, head)
	require.NoError(t, err)

	_, err = s.Put(ctx, "x", bytes.NewReader(newContent))
	require.NoError(t, err)

	rest, err := io.ReadAll(rc)
	require.NoError(t, err)
	got := append(head, rest...)
	assert.Equal(t, int64(len(oldContent)), size)
	assert.Equal(t, oldContent, got)
	assert.Equal(t, newContent, readAll(t, s, "x"))
}

func TestPut_ConcurrentSameNameNeverSplices(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a := bytes.Repeat([]byte("a"), 256*1024)
	b := bytes.Repeat([]byte("b"), 256*1024)

	var wg sync.WaitGroup
	for _, content := range [][]byte{a, b, a, b} {
		wg.Add(1)
		go func(c []byte) {
			defer wg.Done()
			_, err := s.Put(ctx, "x", bytes.NewReader(c))
			assert.NoError(t, err)
		}(content)
	}
	wg.Wait()

	got := readAll(t, s, "x")
	assert.True(t, bytes.Equal(got, a) || bytes.Equal(got, b), "content is a splice")
}

func TestList_SortedWithSizes(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for name, content := range map[string]string{"b": "22", "c": "333", "a": "1"} {
		_, err := s.Put(ctx, name, strings.NewReader(content))
		require.NoError(t, err)
	}
	// foreign entries are skipped
	require.NoError(t, os.Mkdir(filepath.Join(s.Root(), "dir"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), ".hidden"), []byte("x"), 0o600))

	got, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []storage.FileInfo{{Name: "a", Size: 1}, {Name: "b", Size: 2}, {Name: "c", Size: 3}}, got)
}

func TestDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "gone", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "gone"))
	assert.ErrorIs(t, s.Delete(ctx, "gone"), common.ErrNotFound)
	_, _, err = s.Get(ctx, "gone")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestInvalidNamesNeverReachDisk(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for _, name := range []string{"", "..", "../escape", "/abs", ".upload-1"} {
		_, err := s.Put(ctx, name, strings.NewReader("x"))
		assert.ErrorIs(t, err, common.ErrInvalidName, name)
		_, _, err = s.Get(ctx, name)
		assert.ErrorIs(t, err, common.ErrInvalidName, name)
		assert.ErrorIs(t, s.Delete(ctx, name), common.ErrInvalidName, name)
	}
	_, err := os.Stat(filepath.Join(filepath.Dir(s.Root()), "escape"))
	assert.True(t, os.IsNotExist(err))
}

func TestNew_RemovesStaleTemporaries(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, tempPrefix+"123")
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep"), []byte("k"), 0o600))

	s, err := New(context.Background(), root, 0, logging.Discard())
	require.NoError(t, err)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	list, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []storage.FileInfo{{Name: "keep", Size: 1}}, list)
}
