package vfs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chunkvfs/internal/common"
	"chunkvfs/internal/storage"
)

func testVFS(t *testing.T, opts ...Option) *VFS {
	t.Helper()
	v, err := New(memfs.New(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { v.Shutdown() })
	return v
}

func writeFile(t *testing.T, v *VFS, path string, data []byte) {
	t.Helper()
	f, err := v.Create(path)
	require.NoError(t, err)
	for off := 0; off < len(data); {
		n, err := v.Write(f, data[off:])
		require.NoError(t, err)
		off += n
	}
	require.NoError(t, v.Close(f))
}

func readFile(t *testing.T, v *VFS, path string) []byte {
	t.Helper()
	f, err := v.Open(path)
	require.NoError(t, err)
	defer v.Close(f)

	var out bytes.Buffer
	buf := make([]byte, 1500)
	for {
		n, err := v.Read(f, buf)
		out.Write(buf[:n])
		if err == io.EOF {
			return out.Bytes()
		}
		require.NoError(t, err)
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		v := testVFS(t)
		assert.Equal(t, uint64(storage.DefaultStorageSizeLimit), v.SizeLimit())
		assert.Empty(t, v.Stores())
	})

	t.Run("rejects a tiny size limit", func(t *testing.T) {
		t.Parallel()
		_, err := New(memfs.New(), WithSizeLimit(storage.ChunkSize))
		assert.ErrorIs(t, err, common.ErrLimitTooSmall)
	})

	t.Run("rejects a prefix with a separator", func(t *testing.T) {
		t.Parallel()
		_, err := New(memfs.New(), WithStoragePrefix("a/b"))
		assert.ErrorIs(t, err, common.ErrInvalidPath)
	})
}

func TestOpenCreateScenario(t *testing.T) {
	t.Parallel()
	v := testVFS(t)

	w, err := v.Create("notes/todo.txt")
	require.NoError(t, err)

	// Writers are exclusive: Open on a path held by Create conflicts until the writer closes.
	_, err = v.Open("notes/todo.txt")
	assert.ErrorIs(t, err, common.ErrConflict, "open while a writer holds the path")
	_, err = v.Create("notes/todo.txt")
	assert.ErrorIs(t, err, common.ErrConflict, "second create while open")

	_, err = v.Write(w, []byte("buy milk"))
	require.NoError(t, err)
	require.NoError(t, v.Close(w))
	require.NoError(t, v.Close(w), "close is idempotent")

	r1, err := v.Open("notes/todo.txt")
	require.NoError(t, err)
	r2, err := v.Open("/notes//todo.txt")
	require.NoError(t, err, "readers share the descriptor")
	assert.Equal(t, 2, v.Descriptors().Refs("notes/todo.txt"))

	_, err = v.Create("notes/todo.txt")
	assert.ErrorIs(t, err, common.ErrConflict, "create while readers are open")

	_, err = v.Write(r1, []byte("x"))
	assert.ErrorIs(t, err, common.ErrBadMode)

	require.NoError(t, v.Close(r1))
	require.NoError(t, v.Close(r2))
	assert.Zero(t, v.Descriptors().Len())

	_, err = v.Read(r1, make([]byte, 4))
	assert.ErrorIs(t, err, common.ErrClosed)
}

func TestOpen_Missing(t *testing.T) {
	t.Parallel()
	v := testVFS(t)

	_, err := v.Open("nope.txt")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Zero(t, v.Descriptors().Len())

	_, err = v.Open("")
	assert.ErrorIs(t, err, common.ErrInvalidPath)
}

func TestCreate_NameTooLong(t *testing.T) {
	t.Parallel()
	v := testVFS(t)
	writeFile(t, v, "keep.txt", []byte("kept"))

	_, err := v.Create("dir/" + strings.Repeat("n", common.MaxNameLen+1))
	assert.ErrorIs(t, err, common.ErrInvalidPath)
	assert.Zero(t, v.Descriptors().Len())
	assert.Equal(t, []byte("kept"), readFile(t, v, "keep.txt"))
}

// busyFS fails its first `failures` opens with a transient error.
type busyFS struct {
	billy.Filesystem
	failures int
	opens    int
}

func (fs *busyFS) OpenFile(name string, flag int, perm os.FileMode) (billy.File, error) {
	fs.opens++
	if fs.opens <= fs.failures {
		return nil, errors.New("resource temporarily unavailable")
	}
	return fs.Filesystem.OpenFile(name, flag, perm)
}

func TestAddStorageFile_RetriesTransientOpen(t *testing.T) {
	t.Parallel()

	fs := &busyFS{Filesystem: memfs.New(), failures: 2}
	v, err := New(fs)
	require.NoError(t, err)
	t.Cleanup(func() { v.Shutdown() })

	require.NoError(t, v.AddStorageFile("storage-0"))
	assert.Equal(t, 3, fs.opens)
	assert.Equal(t, []string{"storage-0"}, v.Stores())

	fs.failures = 100
	assert.ErrorIs(t, v.AddStorageFile("storage-1"), common.ErrIO)
	assert.Equal(t, []string{"storage-0"}, v.Stores())
}

func TestReadWriteRoundTrip(t *testing.T) {
	t.Parallel()
	v := testVFS(t)

	data := bytes.Repeat([]byte("chunk chains! "), 3*storage.ChunkPayloadSize/14+5)
	writeFile(t, v, "big/data.bin", data)
	assert.Equal(t, data, readFile(t, v, "big/data.bin"))

	f, err := v.Open("big/data.bin")
	require.NoError(t, err)
	require.NoError(t, v.Seek(f, uint64(len(data))))
	n, err := v.Read(f, make([]byte, 16))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, v.Close(f))

	e, err := v.Stat("big/data.bin")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), e.Size)
	assert.False(t, e.IsDir())
}

func TestCreate_TruncatesExisting(t *testing.T) {
	t.Parallel()
	v := testVFS(t)

	writeFile(t, v, "f.txt", bytes.Repeat([]byte{'a'}, 10000))
	writeFile(t, v, "f.txt", []byte("short"))

	assert.Equal(t, []byte("short"), readFile(t, v, "f.txt"))
	assert.Len(t, v.Stores(), 1)
}

func TestCreate_SpillsIntoNewStores(t *testing.T) {
	t.Parallel()
	v := testVFS(t, WithSizeLimit(storage.MinStorageSize), WithStoragePrefix("blob."))

	for i := 0; i < 3; i++ {
		writeFile(t, v, fmt.Sprintf("f%d", i), []byte{byte(i)})
	}
	assert.Equal(t, []string{"blob.0", "blob.1", "blob.2"}, v.Stores())

	for i := 0; i < 3; i++ {
		e, err := v.Stat(fmt.Sprintf("f%d", i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("blob.%d", i), e.Store)
		assert.Equal(t, []byte{byte(i)}, readFile(t, v, fmt.Sprintf("f%d", i)))
	}

	// one chunk per store leaves no room for a second chunk
	w, err := v.Create("f0")
	require.NoError(t, err)
	_, err = v.Write(w, make([]byte, storage.ChunkPayloadSize+1))
	assert.ErrorIs(t, err, common.ErrNoSpace)
	require.NoError(t, v.Close(w))
}

func TestSetStorageFileSizeLimit(t *testing.T) {
	t.Parallel()
	v := testVFS(t)

	assert.ErrorIs(t, v.SetStorageFileSizeLimit(storage.MinStorageSize-1), common.ErrLimitTooSmall)
	assert.NoError(t, v.SetStorageFileSizeLimit(0))
	assert.NoError(t, v.SetStorageFileSizeLimit(storage.MinStorageSize))
	assert.Equal(t, uint64(storage.MinStorageSize), v.SizeLimit())

	require.NoError(t, v.SetStorageFilePrefix("part-"))
	writeFile(t, v, "a", nil)
	assert.Equal(t, []string{"part-0"}, v.Stores())
}

func TestReadDirMergesStores(t *testing.T) {
	t.Parallel()
	v := testVFS(t, WithSizeLimit(storage.MinStorageSize))

	writeFile(t, v, "docs/a.md", []byte("a"))
	writeFile(t, v, "docs/b.md", []byte("bb"))
	require.Len(t, v.Stores(), 2)

	entries, err := v.ReadDir("docs")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.md", entries[0].Name)
	assert.Equal(t, "b.md", entries[1].Name)
	assert.Equal(t, uint64(2), entries[1].Size)

	root, err := v.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, root, 1, "docs exists in both stores but is listed once")
	assert.True(t, root[0].IsDir())

	_, err = v.ReadDir("missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	e, err := v.Stat("docs")
	require.NoError(t, err)
	assert.True(t, e.IsDir())
}

func TestMkdirAll(t *testing.T) {
	t.Parallel()
	v := testVFS(t)

	require.NoError(t, v.MkdirAll("x/y/z"))
	require.NoError(t, v.MkdirAll("x/y"))
	e, err := v.Stat("x/y/z")
	require.NoError(t, err)
	assert.True(t, e.IsDir())
	assert.ErrorIs(t, v.MkdirAll("x/../y"), common.ErrInvalidPath)
}

func TestLoadStorageFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	v, err := New(osfs.New(dir), WithSizeLimit(storage.MinStorageSize))
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		writeFile(t, v, fmt.Sprintf("file-%02d", i), []byte(fmt.Sprintf("content %d", i)))
	}
	require.NoError(t, v.Shutdown())

	v2, err := New(osfs.New(dir), WithSizeLimit(storage.MinStorageSize))
	require.NoError(t, err)
	defer v2.Shutdown()
	n, err := v2.LoadStorageFiles()
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, "storage-2", v2.Stores()[2])
	assert.Equal(t, "storage-10", v2.Stores()[10])

	for i := 0; i < 12; i++ {
		assert.Equal(t, []byte(fmt.Sprintf("content %d", i)), readFile(t, v2, fmt.Sprintf("file-%02d", i)))
	}
}

func TestShutdown(t *testing.T) {
	t.Parallel()
	v, err := New(memfs.New())
	require.NoError(t, err)
	writeFile(t, v, "a", []byte("a"))
	f, err := v.Open("a")
	require.NoError(t, err)

	require.NoError(t, v.Shutdown())
	require.NoError(t, v.Shutdown())

	_, err = v.Read(f, make([]byte, 1))
	assert.ErrorIs(t, err, common.ErrClosed)
	assert.ErrorIs(t, v.AddStorageFile("other"), common.ErrClosed)
}

func TestConcurrentWriters(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	v, err := New(memfs.New())
	g.Expect(err).NotTo(HaveOccurred())
	defer v.Shutdown()

	const writers = 16
	pathFor := func(i int) string {
		return fmt.Sprintf("%s/%s%d/file.bin", bytes.Repeat([]byte("d"), 200), bytes.Repeat([]byte("e"), 300), i)
	}
	payload := func(i int) []byte {
		return bytes.Repeat([]byte{byte('a' + i)}, 2*storage.ChunkPayloadSize+i*97)
	}

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// long directory names force compaction while other writers hold cursors
			f, err := v.Create(pathFor(i))
			if err != nil {
				errs <- err
				return
			}
			data := payload(i)
			for off := 0; off < len(data); {
				n, err := v.Write(f, data[off:min(off+1000, len(data))])
				if err != nil {
					errs <- err
					return
				}
				off += n
			}
			errs <- v.Close(f)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		g.Expect(err).NotTo(HaveOccurred())
	}

	for i := 0; i < writers; i++ {
		g.Expect(readFile(t, v, pathFor(i))).To(Equal(payload(i)))
	}
	g.Expect(v.Descriptors().Len()).To(BeZero())
}
