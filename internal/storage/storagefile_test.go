package storage

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chunkvfs/internal/common"
)

func testStore(t *testing.T, fs billy.Filesystem, limit uint64) *StorageFile {
	t.Helper()
	s, err := OpenStorageFile(fs, "storage-0", limit)
	require.NoError(t, err, "failed to open storage file")
	t.Cleanup(func() { s.Close() })
	return s
}

func writeAll(t *testing.T, s *StorageFile, path string, data []byte) {
	t.Helper()
	_, err := s.CreateEmptyFile(path)
	require.NoError(t, err)
	c, err := s.OpenCursor(path)
	require.NoError(t, err)
	n, err := s.WriteAt(c, data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
}

func readAll(t *testing.T, s *StorageFile, path string) []byte {
	t.Helper()
	c, err := s.OpenCursor(path)
	require.NoError(t, err)
	var out bytes.Buffer
	buf := make([]byte, 1000)
	for {
		n, err := s.ReadAt(c, buf)
		out.Write(buf[:n])
		if err == io.EOF {
			return out.Bytes()
		}
		require.NoError(t, err)
	}
}

func TestOpenStorageFile(t *testing.T) {
	t.Parallel()

	t.Run("initializes an empty tree", func(t *testing.T) {
		t.Parallel()
		s := testStore(t, memfs.New(), 0)

		assert.Equal(t, "storage-0", s.Name())
		assert.Greater(t, s.TreeLength(), uint64(treeLengthSize))
		entries, err := s.List("")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("reinitializes a corrupt tree", func(t *testing.T) {
		t.Parallel()
		fs := memfs.New()
		f, err := fs.Create("storage-0")
		require.NoError(t, err)
		_, err = f.Write([]byte("definitely not a tree"))
		require.NoError(t, err)
		require.NoError(t, f.Close())

		s := testStore(t, fs, 0)
		assert.False(t, s.HasFile("anything"))
		assert.Greater(t, s.TreeLength(), uint64(treeLengthSize))
	})

	t.Run("reopens persisted files on disk", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		fs := osfs.New(dir)

		s, err := OpenStorageFile(fs, "storage-0", 0)
		require.NoError(t, err)
		writeAll(t, s, "docs/readme.md", []byte("hello chunks"))
		length := s.TreeLength()
		require.NoError(t, s.Close())

		assert.FileExists(t, filepath.Join(dir, "storage-0"))

		s2 := testStore(t, fs, 0)
		assert.Equal(t, length, s2.TreeLength())
		assert.True(t, s2.HasFile("docs/readme.md"))
		assert.Equal(t, []byte("hello chunks"), readAll(t, s2, "docs/readme.md"))
	})
}

func TestCreateEmptyFile(t *testing.T) {
	t.Parallel()

	t.Run("duplicate create leaves the tree unchanged", func(t *testing.T) {
		t.Parallel()
		s := testStore(t, memfs.New(), 0)

		added, err := s.CreateEmptyFile("a/b/c.txt")
		require.NoError(t, err)
		assert.True(t, added)
		length := s.TreeLength()

		added, err = s.CreateEmptyFile("a/b/c.txt")
		require.NoError(t, err)
		assert.False(t, added)
		assert.Equal(t, length, s.TreeLength())
	})

	t.Run("allocates distinct first chunks", func(t *testing.T) {
		t.Parallel()
		s := testStore(t, memfs.New(), 0)

		for _, p := range []string{"one", "two", "three"} {
			_, err := s.CreateEmptyFile(p)
			require.NoError(t, err)
		}
		seen := map[uint64]bool{}
		for _, p := range []string{"one", "two", "three"} {
			info, err := s.Stat(p)
			require.NoError(t, err)
			assert.Zero(t, info.FirstChunk%ChunkSize)
			assert.GreaterOrEqual(t, info.FirstChunk, uint64(ChunkSize))
			assert.False(t, seen[info.FirstChunk], "chunk %d reused", info.FirstChunk)
			seen[info.FirstChunk] = true
		}
	})

	t.Run("refuses to grow past the size limit", func(t *testing.T) {
		t.Parallel()
		s := testStore(t, memfs.New(), MinStorageSize)

		assert.True(t, s.CanCreate("first"))
		_, err := s.CreateEmptyFile("first")
		require.NoError(t, err)

		assert.True(t, s.CanCreate("first"))
		assert.False(t, s.CanCreate("second"))
		_, err = s.CreateEmptyFile("second")
		assert.ErrorIs(t, err, common.ErrNoSpace)
	})
}

func TestCompaction(t *testing.T) {
	t.Parallel()

	s := testStore(t, memfs.New(), 0)
	payload := bytes.Repeat([]byte("0123456789"), 1000)
	writeAll(t, s, "big.bin", payload)
	before := s.relocated

	// Long names push the tree past its first chunk.
	name := strings.Repeat("x", 250)
	for i := 0; s.relocated == before; i++ {
		_, err := s.CreateEmptyFile(name + "/" + strings.Repeat("y", i+1))
		require.NoError(t, err)
	}

	assert.Equal(t, uint64(ChunkSize), s.relocated-before)
	info, err := s.Stat("big.bin")
	require.NoError(t, err)
	assert.Equal(t, ChunkSize+s.relocated-before, info.FirstChunk)
	assert.GreaterOrEqual(t, info.FirstChunk, chunkAlign(s.TreeLength()))
	assert.Equal(t, payload, readAll(t, s, "big.bin"))

	var chain []uint64
	require.NoError(t, s.WalkChunks("big.bin", func(off uint64, h ChunkHeader) error {
		chain = append(chain, off)
		assert.True(t, h.Filled)
		return nil
	}))
	assert.Len(t, chain, 3)
}

func TestCompaction_CursorSurvivesShift(t *testing.T) {
	t.Parallel()

	s := testStore(t, memfs.New(), 0)
	payload := bytes.Repeat([]byte("abcdefgh"), 1500)
	writeAll(t, s, "data", payload)

	c, err := s.OpenCursor("data")
	require.NoError(t, err)
	head := make([]byte, 5000)
	n, err := s.ReadAt(c, head)
	require.NoError(t, err)
	require.Equal(t, 5000, n)

	name := strings.Repeat("z", 250)
	for i := 0; s.relocated == 0; i++ {
		_, err := s.CreateEmptyFile(name + "/" + strings.Repeat("q", i+1))
		require.NoError(t, err)
	}

	rest, err := io.ReadAll(readerFunc(func(p []byte) (int, error) { return s.ReadAt(c, p) }))
	require.NoError(t, err)
	assert.Equal(t, payload, append(head, rest...))
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

func TestStorageFile_Closed(t *testing.T) {
	t.Parallel()

	s, err := OpenStorageFile(memfs.New(), "storage-0", 0)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "second close should be a no-op")

	_, err = s.CreateEmptyFile("x")
	assert.ErrorIs(t, err, common.ErrClosed)
}

func TestCreateEmptyFile_LongName(t *testing.T) {
	t.Parallel()
	fs := memfs.New()

	s, err := OpenStorageFile(fs, "storage-0", 0)
	require.NoError(t, err)
	writeAll(t, s, "keep/me.txt", []byte("still here"))

	added, err := s.CreateEmptyFile(strings.Repeat("n", common.MaxNameLen+1))
	assert.ErrorIs(t, err, common.ErrInvalidPath)
	assert.False(t, added)
	assert.ErrorIs(t, s.MkdirAll("d/"+strings.Repeat("n", common.MaxNameLen+1)), common.ErrInvalidPath)

	_, err = s.CreateEmptyFile(strings.Repeat("m", common.MaxNameLen))
	require.NoError(t, err, "a name at the limit is accepted")
	require.NoError(t, s.Close())

	s2 := testStore(t, fs, 0)
	assert.True(t, s2.HasFile("keep/me.txt"))
	assert.True(t, s2.HasFile(strings.Repeat("m", common.MaxNameLen)))
	assert.Equal(t, []byte("still here"), readAll(t, s2, "keep/me.txt"))
}

var errDiskFull = errors.New("disk full")

// flakyFS fails every write of exactly failLen bytes while armed.
type flakyFS struct {
	billy.Filesystem
	failLen atomic.Int64
}

func (fs *flakyFS) OpenFile(name string, flag int, perm os.FileMode) (billy.File, error) {
	f, err := fs.Filesystem.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &flakyFile{File: f, fs: fs}, nil
}

type flakyFile struct {
	billy.File
	fs *flakyFS
}

func (f *flakyFile) Write(p []byte) (int, error) {
	if int64(len(p)) == f.fs.failLen.Load() {
		return 0, errDiskFull
	}
	return f.File.Write(p)
}

func TestCommit_WriteFailureBreaksStore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		failLen func(s *StorageFile) int64
	}{
		{
			name:    "chunk header",
			failLen: func(*StorageFile) int64 { return ChunkHeaderSize },
		},
		{
			name: "tree",
			failLen: func(s *StorageFile) int64 {
				return int64(s.TreeLength() + s.tree.ExtraSize("a", KindFile))
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fs := &flakyFS{Filesystem: memfs.New()}

			s, err := OpenStorageFile(fs, "storage-0", 0)
			require.NoError(t, err)
			writeAll(t, s, "keep/me.txt", []byte("kept"))

			fs.failLen.Store(tt.failLen(s))
			_, err = s.CreateEmptyFile("a")
			assert.ErrorIs(t, err, errDiskFull)
			assert.ErrorIs(t, err, common.ErrInconsistent)
			fs.failLen.Store(0)

			_, err = s.CreateEmptyFile("b")
			assert.ErrorIs(t, err, common.ErrInconsistent, "a broken store refuses mutations")
			assert.ErrorIs(t, s.MkdirAll("c"), common.ErrInconsistent)
			require.NoError(t, s.Close())

			s2 := testStore(t, fs.Filesystem, 0)
			assert.False(t, s2.HasFile("a"))
			assert.True(t, s2.HasFile("keep/me.txt"))

			_, err = s2.CreateEmptyFile("b")
			require.NoError(t, err)
			keep, err := s2.Stat("keep/me.txt")
			require.NoError(t, err)
			b, err := s2.Stat("b")
			require.NoError(t, err)
			assert.NotEqual(t, keep.FirstChunk, b.FirstChunk)
			assert.Equal(t, []byte("kept"), readAll(t, s2, "keep/me.txt"))
		})
	}
}

func TestMkdirAll_SizeLimit(t *testing.T) {
	t.Parallel()
	s := testStore(t, memfs.New(), MinStorageSize)

	_, err := s.CreateEmptyFile("first")
	require.NoError(t, err)

	// the tree fills its only chunk, so one more long directory would
	// push the chunk region past the limit
	long := strings.Repeat("d", 3000)
	err = s.MkdirAll(long + "/" + long)
	assert.ErrorIs(t, err, common.ErrNoSpace)
	assert.False(t, s.HasDir(long))

	size, err := s.Size()
	require.NoError(t, err)
	assert.LessOrEqual(t, size, uint64(MinStorageSize))

	require.NoError(t, s.MkdirAll("short"), "a directory that fits is created")
	assert.True(t, s.HasDir("short"))
}
