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

	log "github.com/sirupsen/logrus"

	"chunkvfs/internal/common"
)

var (
	errStopWalk = errors.New("stop walk")
	errChainEnd = errors.New("end of chain")
)

// Cursor is a position inside one file's content. Chunk offsets cached in
// a cursor are only trusted while the store has not truncated a chain
// since they were taken; shifts are folded in by rebase.
type Cursor struct {
	Path string
	Pos  uint64

	chunk uint64
	index uint64
	base  uint64
	gen   uint64
	valid bool
}

// OpenCursor returns a cursor at the start of the file at path
func (s *StorageFile) OpenCursor(path string) (*Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tree.FindFile(path); !ok {
		return nil, fmt.Errorf("open %q in %s: %w", path, s.name, common.ErrNotFound)
	}
	return &Cursor{Path: path}, nil
}

// rebase brings the cached chunk offset in line with compactions that ran
// after it was taken.
func (c *Cursor) rebase(relocated, gen uint64) {
	if !c.valid {
		return
	}
	if c.gen != gen {
		c.valid = false
		return
	}
	c.chunk += relocated - c.base
	c.base = relocated
}

func (c *Cursor) remember(off, index, relocated, gen uint64) {
	c.chunk, c.index = off, index
	c.base, c.gen = relocated, gen
	c.valid = true
}

// walkChain calls fn for each chunk of the chain starting at start. A chain
// that does not move strictly forward, or that reaches a free chunk, is
// rejected as corrupt. fn may return errStopWalk to end early.
func (s *StorageFile) walkChain(start uint64, fn func(off uint64, h ChunkHeader) error) error {
	off := start
	for {
		h, err := readChunkHeader(s.stream, off)
		if err != nil {
			return err
		}
		if !h.Filled {
			return fmt.Errorf("%w: chunk %d in chain is free", common.ErrFormat, off)
		}
		if err := fn(off, h); err != nil {
			if errors.Is(err, errStopWalk) {
				return nil
			}
			return err
		}
		if h.Last {
			return nil
		}
		if h.Next <= off {
			return fmt.Errorf("%w: chunk %d links backwards to %d", common.ErrFormat, off, h.Next)
		}
		off = h.Next
	}
}

// WalkChunks calls fn for every chunk of the file at path, in chain order.
func (s *StorageFile) WalkChunks(path string, fn func(off uint64, h ChunkHeader) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.tree.FindFile(path)
	if !ok {
		return fmt.Errorf("walk %q: %w", path, common.ErrNotFound)
	}
	return s.walkChain(f.FirstChunk, fn)
}

// seekChunk returns the offset and header of chunk index of f's chain.
// When the chain has exactly index chunks it returns the terminal chunk
// together with errChainEnd.
func (s *StorageFile) seekChunk(c *Cursor, f *File, index uint64) (uint64, ChunkHeader, error) {
	c.rebase(s.relocated, s.truncations)

	start, at := f.FirstChunk, uint64(0)
	if c.valid && c.index <= index {
		start, at = c.chunk, c.index
	}

	var (
		off   uint64
		hdr   ChunkHeader
		ended bool
	)
	err := s.walkChain(start, func(o uint64, h ChunkHeader) error {
		off, hdr = o, h
		if at == index {
			return errStopWalk
		}
		if h.Last {
			ended = true
			return errStopWalk
		}
		at++
		return nil
	})
	if err != nil {
		c.valid = false
		return 0, ChunkHeader{}, err
	}
	c.remember(off, at, s.relocated, s.truncations)
	if ended {
		if at+1 != index {
			return 0, ChunkHeader{}, fmt.Errorf("%w: %q chain shorter than its size", common.ErrFormat, c.Path)
		}
		return off, hdr, errChainEnd
	}
	return off, hdr, nil
}

// ReadAt copies content starting at the cursor position into p and
// advances the cursor. It returns io.EOF once the position reaches the end
// of the file.
func (s *StorageFile) ReadAt(c *Cursor, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("store %s: %w", s.name, common.ErrClosed)
	}
	f, ok := s.tree.FindFile(c.Path)
	if !ok {
		return 0, fmt.Errorf("read %q: %w", c.Path, common.ErrNotFound)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if c.Pos >= f.Size {
		return 0, io.EOF
	}

	read := 0
	for read < len(p) && c.Pos < f.Size {
		index, within := c.Pos/ChunkPayloadSize, c.Pos%ChunkPayloadSize
		off, h, err := s.seekChunk(c, f, index)
		if errors.Is(err, errChainEnd) {
			break
		}
		if err != nil {
			return read, err
		}
		if within >= h.Used {
			break
		}

		n := min(uint64(len(p)-read), h.Used-within, f.Size-c.Pos)
		got, err := readAt(s.stream, off+ChunkHeaderSize+within, p[read:read+int(n)])
		if err != nil {
			return read, err
		}
		if uint64(got) < n {
			return read + got, fmt.Errorf("%w: chunk %d payload truncated", common.ErrFormat, off)
		}
		read += got
		c.Pos += uint64(got)
	}

	if read == 0 {
		return 0, io.EOF
	}
	return read, nil
}

// WriteAt writes p at the cursor position, allocating chunks as the file
// grows, and advances the cursor. The position may not be past the end
// of the file. A store that cannot grow within its limit stops the write
// with ErrNoSpace after whatever prefix fit.
func (s *StorageFile) WriteAt(c *Cursor, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritable(); err != nil {
		return 0, err
	}
	f, ok := s.tree.FindFile(c.Path)
	if !ok {
		return 0, fmt.Errorf("write %q: %w", c.Path, common.ErrNotFound)
	}
	if c.Pos > f.Size {
		return 0, fmt.Errorf("write %q past end of file: %w", c.Path, common.ErrNotSupported)
	}

	written := 0
	var werr error
	for written < len(p) {
		index, within := c.Pos/ChunkPayloadSize, c.Pos%ChunkPayloadSize
		off, h, err := s.seekChunk(c, f, index)
		if errors.Is(err, errChainEnd) {
			off, err = s.appendChunk(off)
			h = ChunkHeader{Filled: true, Last: true}
			if err == nil {
				c.remember(off, index, s.relocated, s.truncations)
			}
		}
		if err != nil {
			werr = err
			break
		}

		n := min(uint64(len(p)-written), ChunkPayloadSize-within)
		if err := writeAt(s.stream, off+ChunkHeaderSize+within, p[written:written+int(n)]); err != nil {
			werr = err
			break
		}
		if h.Last && within+n > h.Used {
			h.Used = within + n
			if err := writeChunkHeader(s.stream, off, h); err != nil {
				werr = err
				break
			}
		}
		written += int(n)
		c.Pos += n
		f.Size = max(f.Size, c.Pos)
	}

	if written > 0 {
		if err := s.tree.Write(s.stream); err != nil && werr == nil {
			werr = err
		}
	}
	if werr != nil {
		return written, fmt.Errorf("write %q in %s: %w", c.Path, s.name, werr)
	}
	return written, nil
}

// appendChunk allocates a chunk and links it after the terminal chunk at
// tail. The tail is full by the time a chain grows.
func (s *StorageFile) appendChunk(tail uint64) (uint64, error) {
	projected, err := s.projectedSize(0, true)
	if err != nil {
		return 0, err
	}
	if !s.fits(projected) {
		return 0, common.ErrNoSpace
	}

	free := findFreeChunk(s.stream, s.tree.Length())
	if err := writeChunkHeader(s.stream, free, ChunkHeader{Filled: true, Last: true}); err != nil {
		return 0, err
	}
	link := ChunkHeader{Filled: true, Used: ChunkPayloadSize, Next: free}
	if err := writeChunkHeader(s.stream, tail, link); err != nil {
		return 0, err
	}
	return free, nil
}

// Truncate empties the file at path. Its first chunk is kept so the file
// stays addressable; every later chunk of the chain is freed.
func (s *StorageFile) Truncate(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritable(); err != nil {
		return err
	}
	f, ok := s.tree.FindFile(path)
	if !ok {
		return fmt.Errorf("truncate %q: %w", path, common.ErrNotFound)
	}

	var chain []uint64
	if err := s.walkChain(f.FirstChunk, func(off uint64, _ ChunkHeader) error {
		chain = append(chain, off)
		return nil
	}); err != nil {
		return fmt.Errorf("truncate %q: %w", path, err)
	}

	if err := writeChunkHeader(s.stream, f.FirstChunk, ChunkHeader{Filled: true, Last: true}); err != nil {
		return err
	}
	for _, off := range chain[1:] {
		if err := writeChunkHeader(s.stream, off, ChunkHeader{}); err != nil {
			return err
		}
	}
	s.truncations++

	if f.Size == 0 {
		return nil
	}
	f.Size = 0
	if err := s.tree.Write(s.stream); err != nil {
		return err
	}
	log.WithFields(log.Fields{"store": s.name, "path": path, "freed": len(chain) - 1}).Debug("truncated file")
	return nil
}
