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

package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-git/go-billy/v5"
	log "github.com/sirupsen/logrus"

	"chunkvfs/internal/common"
)

// StorageFile is one backing blob: a metadata region holding the FileTree
// followed by a region of fixed-size chunks. A single mutex guards both the
// stream and the tree; it is held for the whole of every operation because
// compaction physically moves bytes a concurrent reader could observe.
type StorageFile struct {
	mu     sync.Mutex
	name   string
	stream billy.File
	tree   *FileTree
	limit  uint64

	// relocated accumulates every chunk region shift since open. Cursors
	// record the value their offsets were taken at and are rebased on use.
	relocated uint64
	// broken is set when a commit fails after the in-memory tree changed.
	// The stream can no longer be trusted, so every later mutation is refused.
	broken bool
	closed bool
	// truncations counts chain truncations so cursors can drop cached
	// chunk positions that may point at freed chunks.
	truncations uint64
}

// OpenStorageFile opens name on fs, creating it when missing. An existing
// tree is loaded; a missing or malformed one is replaced by an empty tree
// that is persisted immediately, so an open store is always valid.
// A limit of zero disables the size check.
func OpenStorageFile(fs billy.Filesystem, name string, limit uint64) (*StorageFile, error) {
	f, err := fs.OpenFile(name, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open storage file %s: %w", common.ErrIO, name, err)
	}

	s := &StorageFile{
		name:   name,
		stream: f,
		tree:   NewFileTree(),
		limit:  limit,
	}
	if err := s.setupTree(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *StorageFile) setupTree() error {
	err := s.tree.Read(s.stream)
	if err == nil {
		log.WithFields(log.Fields{"store": s.name, "length": s.tree.Length()}).Debug("loaded file tree")
		return nil
	}
	if !errors.Is(err, common.ErrFormat) {
		return err
	}

	log.WithFields(log.Fields{"store": s.name, "reason": err}).Info("initializing empty file tree")
	s.tree.Reset()
	if err := s.tree.Write(s.stream); err != nil {
		return fmt.Errorf("initialize %s: %w", s.name, err)
	}
	return nil
}

// Name returns the storage file name
func (s *StorageFile) Name() string {
	return s.name
}

// SetSizeLimit changes the byte limit used when placing new chunks
func (s *StorageFile) SetSizeLimit(limit uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = limit
}

// TreeLength returns the persisted length of the metadata tree
func (s *StorageFile) TreeLength() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Length()
}

// Size returns the current byte size of the backing stream
func (s *StorageFile) Size() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return streamSize(s.stream)
}

// HasFile reports whether path names a file in this store
func (s *StorageFile) HasFile(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.HasFile(path)
}

// HasDir reports whether path names a directory in this store
func (s *StorageFile) HasDir(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.GetNode(path, KindDir, false) != nil
}

// Stat returns the attributes of the file or directory at path. Files win
// over directories of the same name.
func (s *StorageFile) Stat(path string) (NodeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.tree.FindFile(path); ok {
		return infoOf(f), nil
	}
	if d := s.tree.GetNode(path, KindDir, false); d != nil {
		return infoOf(d), nil
	}
	return NodeInfo{}, fmt.Errorf("stat %q: %w", path, common.ErrNotFound)
}

// List returns the entries of the directory at path
func (s *StorageFile) List(path string) ([]NodeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.List(path)
}

// Print writes the tree listing to w
func (s *StorageFile) Print(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Print(w)
}

// CanCreate reports whether creating the file at path keeps the store
// within its size limit. An existing file always fits.
func (s *StorageFile) CanCreate(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tree.HasFile(path) {
		return true
	}
	projected, err := s.projectedSize(s.tree.ExtraSize(path, KindFile), true)
	return err == nil && s.fits(projected)
}

func (s *StorageFile) fits(size uint64) bool {
	return s.limit == 0 || size <= s.limit
}

// projectedSize estimates the stream size after the tree grows by extra
// bytes and, if withChunk is set, one more chunk is allocated.
func (s *StorageFile) projectedSize(extra uint64, withChunk bool) (uint64, error) {
	size, err := streamSize(s.stream)
	if err != nil {
		return 0, err
	}
	if withChunk {
		free := findFreeChunk(s.stream, s.tree.Length())
		size = max(size, free+ChunkSize)
	}
	growth := chunkAlign(s.tree.Length()+extra) - chunkAlign(s.tree.Length())
	return size + growth, nil
}

func (s *StorageFile) checkWritable() error {
	switch {
	case s.closed:
		return fmt.Errorf("store %s: %w", s.name, common.ErrClosed)
	case s.broken:
		return fmt.Errorf("store %s: %w", s.name, common.ErrInconsistent)
	}
	return nil
}

// CreateEmptyFile adds an empty file at path with one allocated chunk,
// creating missing parent directories. It returns false and changes
// nothing when the file already exists.
func (s *StorageFile) CreateEmptyFile(path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritable(); err != nil {
		return false, err
	}
	if s.tree.HasFile(path) {
		return false, nil
	}
	if _, err := common.ValidatePath(path); err != nil {
		return false, err
	}
	projected, err := s.projectedSize(s.tree.ExtraSize(path, KindFile), true)
	if err != nil {
		return false, err
	}
	if !s.fits(projected) {
		return false, fmt.Errorf("create %q in %s: %w", path, s.name, common.ErrNoSpace)
	}

	_, added, err := s.commit(true, func(free uint64) (bool, error) {
		return s.tree.AddFile(path, free)
	})
	if err != nil {
		return false, fmt.Errorf("create %q in %s: %w", path, s.name, err)
	}
	if added {
		log.WithFields(log.Fields{"store": s.name, "path": path}).Debug("created file")
	}
	return added, nil
}

// MkdirAll creates every missing directory on path.
func (s *StorageFile) MkdirAll(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritable(); err != nil {
		return err
	}
	if _, err := common.ValidatePath(path); err != nil {
		return err
	}
	projected, err := s.projectedSize(s.tree.ExtraSize(path, KindDir), false)
	if err != nil {
		return err
	}
	if !s.fits(projected) {
		return fmt.Errorf("mkdir %q in %s: %w", path, s.name, common.ErrNoSpace)
	}
	if _, _, err := s.commit(false, func(uint64) (bool, error) {
		return s.tree.MkdirAll(path)
	}); err != nil {
		return fmt.Errorf("mkdir %q in %s: %w", path, s.name, err)
	}
	return nil
}

// commit runs the allocation sequence with the lock held:
//
//  1. find a free chunk under the current layout (if withChunk)
//  2. mutate the tree in memory
//  3. if the tree outgrew its reserved chunks, shift every file pointer and
//     the chunk region forward, and move the free chunk along with them
//  4. mark the chunk allocated
//  5. persist the whole tree
//
// It returns the final offset of the allocated chunk and whether mutate
// reported a change. Nothing is written when mutate reports no change.
func (s *StorageFile) commit(withChunk bool, mutate func(free uint64) (bool, error)) (uint64, bool, error) {
	var free uint64
	if withChunk {
		free = findFreeChunk(s.stream, s.tree.Length())
	}

	changed, err := mutate(free)
	if err != nil || !changed {
		return 0, false, err
	}

	if delta := s.tree.GrowthDelta(); delta > 0 {
		if err := s.compact(delta); err != nil {
			return 0, false, err
		}
		if withChunk {
			free += delta
		}
	}

	if withChunk {
		if err := writeChunkHeader(s.stream, free, ChunkHeader{Filled: true, Last: true}); err != nil {
			return 0, false, s.fail(err)
		}
	}
	if err := s.tree.Write(s.stream); err != nil {
		return 0, false, s.fail(err)
	}
	return free, true, nil
}

// fail marks the store broken after the in-memory tree has diverged from
// the stream. Later mutations are refused instead of persisting the
// diverged tree.
func (s *StorageFile) fail(err error) error {
	s.broken = true
	log.WithError(err).WithField("store", s.name).Error("storage file left inconsistent")
	return fmt.Errorf("%w: %w", common.ErrInconsistent, err)
}

// compact moves the chunk region delta bytes forward so the grown tree
// fits in front of it, then brings every pointer to the chunk region in
// line with the new layout.
func (s *StorageFile) compact(delta uint64) error {
	from := s.tree.ChunkRegionStart()
	s.tree.ShiftFileChunks(delta)

	if err := shiftChunks(s.stream, from, delta); err != nil {
		return s.fail(err)
	}
	if err := relinkChunks(s.stream, from+delta, delta); err != nil {
		return s.fail(err)
	}
	s.relocated += delta

	log.WithFields(log.Fields{
		"store": s.name,
		"from":  from,
		"delta": delta,
	}).Debug("shifted chunk region")
	return nil
}

// Close releases the backing stream. It is safe to call more than once.
func (s *StorageFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", common.ErrIO, s.name, err)
	}
	return nil
}
