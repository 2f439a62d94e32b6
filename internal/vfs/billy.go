// Copyright 2024 ChunkVFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/go-git/go-billy/v5"

	"chunkvfs/internal/common"
)

// BillyAdapter exposes a VFS through the billy.Basic and billy.Dir
// interfaces so go-billy helpers can drive it. Files are either read-only
// or write-only; O_RDWR is refused.
type BillyAdapter struct {
	fs *VFS
}

var (
	_ billy.Basic = (*BillyAdapter)(nil)
	_ billy.Dir   = (*BillyAdapter)(nil)
	_ billy.File  = (*BillyFile)(nil)
)

// NewBillyAdapter creates a Billy adapter for the VFS
func NewBillyAdapter(fs *VFS) *BillyAdapter {
	return &BillyAdapter{fs: fs}
}

func (b *BillyAdapter) Create(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
}

func (b *BillyAdapter) Open(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDONLY, 0)
}

func (b *BillyAdapter) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	var (
		f   *File
		err error
	)
	switch {
	case flag&os.O_RDWR != 0:
		err = fmt.Errorf("read-write open: %w", common.ErrNotSupported)
	case flag&os.O_WRONLY != 0:
		if flag&os.O_CREATE == 0 {
			if _, serr := b.fs.Stat(filename); serr != nil {
				return nil, pathError("open", filename, serr)
			}
		}
		if flag&os.O_APPEND != 0 {
			err = fmt.Errorf("append: %w", common.ErrNotSupported)
			break
		}
		f, err = b.fs.Create(filename)
	default:
		f, err = b.fs.Open(filename)
	}
	if err != nil {
		return nil, pathError("open", filename, err)
	}
	return &BillyFile{fs: b.fs, file: f, name: filename}, nil
}

func (b *BillyAdapter) Stat(filename string) (os.FileInfo, error) {
	e, err := b.fs.Stat(filename)
	if err != nil {
		return nil, pathError("stat", filename, err)
	}
	if e.Name == "" {
		e.Name = path.Base(path.Clean("/" + filename))
	}
	return &BillyFileInfo{entry: e}, nil
}

func (b *BillyAdapter) Rename(oldpath, newpath string) error {
	return pathError("rename", oldpath, common.ErrNotSupported)
}

func (b *BillyAdapter) Remove(filename string) error {
	return pathError("remove", filename, common.ErrNotSupported)
}

func (b *BillyAdapter) Join(elem ...string) string {
	return path.Join(elem...)
}

func (b *BillyAdapter) ReadDir(dirname string) ([]os.FileInfo, error) {
	entries, err := b.fs.ReadDir(dirname)
	if err != nil {
		return nil, pathError("readdir", dirname, err)
	}
	result := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		result = append(result, &BillyFileInfo{entry: e})
	}
	return result, nil
}

func (b *BillyAdapter) MkdirAll(filename string, perm os.FileMode) error {
	return pathError("mkdir", filename, b.fs.MkdirAll(filename))
}

func (b *BillyAdapter) Capabilities() billy.Capability {
	return billy.WriteCapability | billy.ReadCapability | billy.SeekCapability
}

// BillyFile wraps a VFS handle. Writes loop until all of p is stored,
// since the VFS may return short counts at chunk boundaries.
type BillyFile struct {
	fs   *VFS
	file *File
	name string
}

func (f *BillyFile) Name() string {
	return f.name
}

func (f *BillyFile) Write(p []byte) (n int, err error) {
	for n < len(p) {
		m, err := f.fs.Write(f.file, p[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, io.ErrShortWrite
		}
	}
	return n, nil
}

func (f *BillyFile) Read(p []byte) (int, error) {
	return f.fs.Read(f.file, p)
}

func (f *BillyFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset: %w", common.ErrInvalidPath)
	}
	prev := f.file.Offset()
	if err := f.fs.Seek(f.file, uint64(off)); err != nil {
		return 0, err
	}
	defer f.fs.Seek(f.file, prev)

	n := 0
	for n < len(p) {
		m, err := f.fs.Read(f.file, p[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (f *BillyFile) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(f.file.Offset())
	case io.SeekEnd:
		e, err := f.fs.Stat(f.file.Path())
		if err != nil {
			return 0, err
		}
		base = int64(e.Size)
	default:
		return 0, fmt.Errorf("whence %d: %w", whence, common.ErrNotSupported)
	}
	pos := base + offset
	if pos < 0 {
		return 0, fmt.Errorf("seek before start: %w", common.ErrInvalidPath)
	}
	if err := f.fs.Seek(f.file, uint64(pos)); err != nil {
		if errors.Is(err, common.ErrBadMode) && pos == int64(f.file.Offset()) {
			return pos, nil
		}
		return 0, err
	}
	return pos, nil
}

func (f *BillyFile) Close() error {
	return f.fs.Close(f.file)
}

func (f *BillyFile) Lock() error {
	return nil
}

func (f *BillyFile) Unlock() error {
	return nil
}

func (f *BillyFile) Truncate(size int64) error {
	return fmt.Errorf("truncate: %w", common.ErrNotSupported)
}

// BillyFileInfo adapts an Entry to os.FileInfo
type BillyFileInfo struct {
	entry Entry
}

func (fi *BillyFileInfo) Name() string {
	return fi.entry.Name
}

func (fi *BillyFileInfo) Size() int64 {
	return int64(fi.entry.Size)
}

func (fi *BillyFileInfo) Mode() os.FileMode {
	if fi.entry.IsDir() {
		return os.ModeDir | 0755
	}
	return 0644
}

func (fi *BillyFileInfo) ModTime() time.Time {
	return time.Time{}
}

func (fi *BillyFileInfo) IsDir() bool {
	return fi.entry.IsDir()
}

func (fi *BillyFileInfo) Sys() interface{} {
	return fi.entry
}
