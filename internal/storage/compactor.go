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
	"fmt"
	"io"
)

// findFreeChunk returns the first chunk at or past the metadata region
// whose header is not filled. Running off the end of the stream, or any
// error while reading a candidate header, yields the implicit free chunk
// at that offset; the stream grows when it is first written.
//
// This is a linear first-fit scan; no free list is kept.
func findFreeChunk(r io.ReadSeeker, treeLength uint64) uint64 {
	off := chunkAlign(treeLength)
	for {
		h, err := readChunkHeader(r, off)
		if err != nil || !h.Filled {
			return off
		}
		off += ChunkSize
	}
}

// shiftChunks moves every byte from offset from to the end of the stream
// delta bytes later. It walks the region in delta-sized blocks, always
// holding the block about to be overwritten in a second buffer, so no
// byte is lost. The bytes in [from, from+delta) are left as they were.
//
// The move is not atomic: an error part way leaves the region torn.
func shiftChunks(rw io.ReadWriteSeeker, from, delta uint64) error {
	if delta == 0 {
		return nil
	}
	cur := make([]byte, delta)
	next := make([]byte, delta)

	n, err := readAt(rw, from, cur)
	if err != nil {
		return fmt.Errorf("shift: %w", err)
	}
	if n == 0 {
		return nil
	}

	for off := from; ; off += delta {
		m, err := readAt(rw, off+delta, next)
		if err != nil {
			return fmt.Errorf("shift: %w", err)
		}
		if err := writeAt(rw, off+delta, cur[:n]); err != nil {
			return fmt.Errorf("shift: %w", err)
		}
		if m == 0 {
			return nil
		}
		cur, next = next, cur
		n = m
	}
}

// relinkChunks adds delta to the next pointer of every filled, non-terminal
// chunk from offset from onwards. It follows shiftChunks, whose verbatim
// byte move leaves those pointers aimed at the old layout.
func relinkChunks(rw io.ReadWriteSeeker, from, delta uint64) error {
	end, err := streamSize(rw)
	if err != nil {
		return err
	}
	for off := from; off+ChunkHeaderSize <= end; off += ChunkSize {
		h, err := readChunkHeader(rw, off)
		if err != nil {
			return fmt.Errorf("relink: %w", err)
		}
		if !h.Filled || h.Last {
			continue
		}
		h.Next += delta
		if err := writeChunkHeader(rw, off, h); err != nil {
			return fmt.Errorf("relink: %w", err)
		}
	}
	return nil
}
