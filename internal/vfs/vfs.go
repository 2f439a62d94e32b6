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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	log "github.com/sirupsen/logrus"

	"chunkvfs/internal/cache"
	"chunkvfs/internal/common"
	"chunkvfs/internal/storage"
	"chunkvfs/internal/util"
)

// DefaultStoragePrefix names storage files created on demand: storage-0,
// storage-1, ...
const DefaultStoragePrefix = "storage-"

// lookupCacheMaxEntries caps memory usage of the path to store cache.
const lookupCacheMaxEntries = 10000

// VFS presents an ordered set of storage files as one namespace. A file
// lives in exactly one storage file; directories may appear in several
// and are merged when listed.
//
// Lock order: descriptor table, then mu, then a store's own lock.
type VFS struct {
	fs          billy.Filesystem
	descriptors *DescriptorTable
	lookup      *cache.LookupCache

	mu     sync.RWMutex
	stores []*storage.StorageFile
	prefix string
	limit  uint64
	closed bool
}

// Option configures a VFS at construction
type Option func(*VFS)

// WithStoragePrefix sets the name prefix for storage files created on demand
func WithStoragePrefix(prefix string) Option {
	return func(v *VFS) { v.prefix = prefix }
}

// WithSizeLimit sets the byte limit of every storage file. Zero means no limit.
func WithSizeLimit(limit uint64) Option {
	return func(v *VFS) { v.limit = limit }
}

// WithLookupCache replaces the default path lookup cache
func WithLookupCache(c *cache.LookupCache) Option {
	return func(v *VFS) { v.lookup = c }
}

// New creates a VFS whose storage files live on fs. No storage file is
// opened until one is added, loaded or needed by Create.
func New(fs billy.Filesystem, opts ...Option) (*VFS, error) {
	v := &VFS{
		fs:          fs,
		descriptors: NewDescriptorTable(),
		lookup:      cache.NewLookupCache(lookupCacheMaxEntries),
		prefix:      DefaultStoragePrefix,
		limit:       storage.DefaultStorageSizeLimit,
	}
	for _, opt := range opts {
		opt(v)
	}
	if err := validatePrefix(v.prefix); err != nil {
		return nil, err
	}
	if err := validateLimit(v.limit); err != nil {
		return nil, err
	}
	return v, nil
}

func validatePrefix(prefix string) error {
	if prefix == "" || strings.ContainsAny(prefix, "/\x00") {
		return fmt.Errorf("storage prefix %q: %w", prefix, common.ErrInvalidPath)
	}
	return nil
}

func validateLimit(limit uint64) error {
	if limit != 0 && limit < storage.MinStorageSize {
		return fmt.Errorf("size limit %d, minimum %d: %w", limit, storage.MinStorageSize, common.ErrLimitTooSmall)
	}
	return nil
}

// SetStorageFilePrefix changes the prefix used for storage files created
// from now on.
func (v *VFS) SetStorageFilePrefix(prefix string) error {
	if err := validatePrefix(prefix); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prefix = prefix
	return nil
}

// SetStorageFileSizeLimit changes the size limit of every storage file,
// present and future. Limits below two chunks are rejected.
func (v *VFS) SetStorageFileSizeLimit(limit uint64) error {
	if err := validateLimit(limit); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.limit = limit
	for _, s := range v.stores {
		s.SetSizeLimit(limit)
	}
	return nil
}

// SizeLimit returns the current per-store size limit
func (v *VFS) SizeLimit() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.limit
}

// AddStorageFile opens name on the backing filesystem, creating it if
// needed, and appends it to the store list. Adding a name twice is a no-op.
func (v *VFS) AddStorageFile(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, err := v.addStoreLocked(name)
	return err
}

func (v *VFS) addStoreLocked(name string) (int, error) {
	if v.closed {
		return 0, fmt.Errorf("vfs: %w", common.ErrClosed)
	}
	for i, s := range v.stores {
		if s.Name() == name {
			return i, nil
		}
	}
	s, err := util.RetryWithResult(context.Background(), func() (*storage.StorageFile, error) {
		return storage.OpenStorageFile(v.fs, name, v.limit)
	})
	if err != nil {
		return 0, err
	}
	v.stores = append(v.stores, s)
	log.WithFields(log.Fields{"store": name, "index": len(v.stores) - 1}).Debug("added storage file")
	return len(v.stores) - 1, nil
}

// LoadStorageFiles adds every file in the root of the backing filesystem
// whose name starts with the storage prefix, in numeric suffix order. It
// returns the number of storage files added.
func (v *VFS) LoadStorageFiles() (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	infos, err := v.fs.ReadDir(".")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: list storage files: %w", common.ErrIO, err)
	}

	var names []string
	for _, fi := range infos {
		if !fi.IsDir() && strings.HasPrefix(fi.Name(), v.prefix) {
			names = append(names, fi.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return storeLess(names[i], names[j], v.prefix)
	})

	before := len(v.stores)
	for _, name := range names {
		if _, err := v.addStoreLocked(name); err != nil {
			return len(v.stores) - before, err
		}
	}
	return len(v.stores) - before, nil
}

// storeLess orders storage files by numeric suffix, falling back to name
// order for suffixes that are not numbers.
func storeLess(a, b, prefix string) bool {
	na, errA := strconv.ParseUint(strings.TrimPrefix(a, prefix), 10, 64)
	nb, errB := strconv.ParseUint(strings.TrimPrefix(b, prefix), 10, 64)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

// Stores returns the storage file names in search order
func (v *VFS) Stores() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	names := make([]string, len(v.stores))
	for i, s := range v.stores {
		names[i] = s.Name()
	}
	return names
}

// StorageFile returns the store with the given name
func (v *VFS) StorageFile(name string) (*storage.StorageFile, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, s := range v.stores {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Descriptors exposes the descriptor table
func (v *VFS) Descriptors() *DescriptorTable {
	return v.descriptors
}

// locate returns the store holding the file at path, consulting the
// lookup cache first. A cache entry is trusted only after the store
// confirms it.
func (v *VFS) locate(path string) (*storage.StorageFile, int) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if idx, ok := v.lookup.Get(path); ok && idx < len(v.stores) && v.stores[idx].HasFile(path) {
		return v.stores[idx], idx
	}
	for i, s := range v.stores {
		if s.HasFile(path) {
			v.lookup.Set(path, i)
			return s, i
		}
	}
	return nil, -1
}

// Open returns a read-only handle on an existing file. Readers share a
// descriptor; a file that is open for writing cannot be opened.
func (v *VFS) Open(path string) (*File, error) {
	clean := common.NormalizePath(path)
	if _, err := common.ValidatePath(clean); err != nil {
		return nil, err
	}

	store, err := v.descriptors.Acquire(clean, ModeReadOnly, func() (*storage.StorageFile, error) {
		s, _ := v.locate(clean)
		if s == nil {
			return nil, fmt.Errorf("open %q: %w", clean, common.ErrNotFound)
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}

	return v.bind(clean, ModeReadOnly, store)
}

// Create returns a write-only handle on path. An existing file is
// truncated; a new one is placed in the first storage file with room for
// it, or in a new storage file when none has. Create fails while the path
// has any open descriptor.
func (v *VFS) Create(path string) (*File, error) {
	clean := common.NormalizePath(path)
	if _, err := common.ValidatePath(clean); err != nil {
		return nil, err
	}

	store, err := v.descriptors.Acquire(clean, ModeWriteOnly, func() (*storage.StorageFile, error) {
		if s, _ := v.locate(clean); s != nil {
			if err := s.Truncate(clean); err != nil {
				return nil, err
			}
			return s, nil
		}
		return v.createInStore(clean)
	})
	if err != nil {
		return nil, err
	}

	return v.bind(clean, ModeWriteOnly, store)
}

func (v *VFS) bind(path string, mode Mode, store *storage.StorageFile) (*File, error) {
	cursor, err := store.OpenCursor(path)
	if err != nil {
		v.descriptors.Release(path)
		return nil, err
	}
	f := newFile(path, mode, store, cursor)
	log.WithFields(log.Fields{
		"handle": f.id,
		"path":   path,
		"mode":   mode,
		"store":  store.Name(),
	}).Debug("opened file")
	return f, nil
}

// createInStore adds an empty file at path to the first store that can
// hold it, creating a new store when none can.
func (v *VFS) createInStore(path string) (*storage.StorageFile, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	idx := -1
	for i, s := range v.stores {
		if s.CanCreate(path) {
			idx = i
			break
		}
	}
	if idx < 0 {
		var err error
		if idx, err = v.createNewStorageFileLocked(); err != nil {
			return nil, err
		}
	}

	s := v.stores[idx]
	if _, err := s.CreateEmptyFile(path); err != nil {
		return nil, err
	}
	v.lookup.Set(path, idx)
	return s, nil
}

// createNewStorageFileLocked opens <prefix><N> for the first N not used by
// a loaded store or an existing file.
func (v *VFS) createNewStorageFileLocked() (int, error) {
	taken := make(map[string]bool, len(v.stores))
	for _, s := range v.stores {
		taken[s.Name()] = true
	}
	for n := 0; ; n++ {
		name := v.prefix + strconv.Itoa(n)
		if taken[name] {
			continue
		}
		if _, err := v.fs.Stat(name); err == nil {
			continue
		}
		idx, err := v.addStoreLocked(name)
		if err != nil {
			return 0, err
		}
		log.WithField("store", name).Info("created storage file")
		return idx, nil
	}
}

// Read copies content at the handle's position into p and advances it.
// It returns 0, io.EOF at the end of the file.
func (v *VFS) Read(f *File, p []byte) (int, error) {
	if err := checkHandle(f, ModeReadOnly); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store.ReadAt(f.cursor, p)
}

// Write appends p at the handle's position and advances it.
func (v *VFS) Write(f *File, p []byte) (int, error) {
	if err := checkHandle(f, ModeWriteOnly); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.store.WriteAt(f.cursor, p)
	if err != nil {
		log.WithFields(log.Fields{"handle": f.id, "path": f.path, "written": n}).WithError(err).Warn("write failed")
	}
	return n, err
}

// Seek moves a read-only handle to an absolute content offset. Offsets
// past the end are allowed; reads there return io.EOF.
func (v *VFS) Seek(f *File, offset uint64) error {
	if err := checkHandle(f, ModeReadOnly); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor.Pos = offset
	return nil
}

func checkHandle(f *File, want Mode) error {
	if f == nil {
		return common.ErrInvalidHandle
	}
	if f.closed.Load() {
		return fmt.Errorf("%q: %w", f.path, common.ErrClosed)
	}
	if f.mode != want {
		return fmt.Errorf("%q is %s: %w", f.path, f.mode, common.ErrBadMode)
	}
	return nil
}

// Close releases the handle. Closing twice is a no-op.
func (v *VFS) Close(f *File) error {
	if f == nil {
		return common.ErrInvalidHandle
	}
	if f.closed.Swap(true) {
		return nil
	}
	v.descriptors.Release(f.path)
	log.WithFields(log.Fields{"handle": f.id, "path": f.path}).Debug("closed file")
	return nil
}

// Stat describes the file or directory at path. Files take precedence
// over directories of the same name.
func (v *VFS) Stat(path string) (Entry, error) {
	clean := common.NormalizePath(path)
	if s, _ := v.locate(clean); s != nil {
		info, err := s.Stat(clean)
		if err == nil {
			return entryOf(info, s.Name()), nil
		}
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if clean == "" {
		return Entry{Type: FileTypeDirectory}, nil
	}
	for _, s := range v.stores {
		if s.HasDir(clean) {
			return Entry{Name: common.BaseName(clean), Type: FileTypeDirectory, Store: s.Name()}, nil
		}
	}
	return Entry{}, fmt.Errorf("stat %q: %w", clean, common.ErrNotFound)
}

// ReadDir lists the directory at path across all stores, sorted by name.
// An entry present in several stores is reported once.
func (v *VFS) ReadDir(path string) ([]Entry, error) {
	clean := common.NormalizePath(path)

	v.mu.RLock()
	defer v.mu.RUnlock()

	type key struct {
		name string
		dir  bool
	}
	seen := make(map[key]bool)
	var (
		entries []Entry
		found   = clean == ""
	)
	for _, s := range v.stores {
		infos, err := s.List(clean)
		if errors.Is(err, common.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found = true
		for _, info := range infos {
			k := key{info.Name, info.IsDir}
			if seen[k] {
				continue
			}
			seen[k] = true
			entries = append(entries, entryOf(info, s.Name()))
		}
	}
	if !found {
		return nil, fmt.Errorf("readdir %q: %w", clean, common.ErrNotFound)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].IsDir() && !entries[j].IsDir()
	})
	return entries, nil
}

func entryOf(info storage.NodeInfo, store string) Entry {
	e := Entry{Name: info.Name, Size: info.Size, Store: store}
	if info.IsDir {
		e.Type = FileTypeDirectory
	}
	return e
}

// MkdirAll creates path and its missing parents in the first store,
// creating a store if there is none.
func (v *VFS) MkdirAll(path string) error {
	clean := common.NormalizePath(path)
	if _, err := common.ValidatePath(clean); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, s := range v.stores {
		if s.HasDir(clean) {
			return nil
		}
	}
	if len(v.stores) == 0 {
		if _, err := v.createNewStorageFileLocked(); err != nil {
			return err
		}
	}
	return v.stores[0].MkdirAll(clean)
}

// Print writes the tree of every store to w
func (v *VFS) Print(w io.Writer) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, s := range v.stores {
		fmt.Fprintf(w, "%s:\n", s.Name())
		s.Print(w)
	}
}

// Shutdown closes every storage file. Open handles become unusable.
func (v *VFS) Shutdown() error {
	cleared := v.descriptors.Clear()

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true

	var errs []error
	for _, s := range v.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	v.lookup.Invalidate()
	log.WithFields(log.Fields{"stores": len(v.stores), "descriptors": cleared}).Debug("vfs shut down")
	return errors.Join(errs...)
}
