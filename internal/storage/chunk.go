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

	"chunkvfs/internal/common"
)

const (
	// ChunkSize is the allocation unit of the chunk region.
	ChunkSize = 4096
	// ChunkHeaderSize covers filled(1) + last(1) + used(8) + next(8).
	ChunkHeaderSize = 1 + 1 + 8 + 8
	// ChunkPayloadSize is the number of content bytes one chunk carries.
	ChunkPayloadSize = ChunkSize - ChunkHeaderSize

	// MinStorageSize is the smallest accepted store size limit: one chunk
	// of metadata and one chunk of content.
	MinStorageSize = 2 * ChunkSize
	// DefaultStorageSizeLimit caps a store at 16MiB.
	DefaultStorageSizeLimit = 4096 * ChunkSize

	treeLengthSize = 8
	invalidOffset  = 0
)

// ChunkHeader is the control record at the start of every chunk.
//
// Every chunk of a chain except the terminal one is full: Last is false,
// Next points at the following chunk and Used equals ChunkPayloadSize.
// The terminal chunk has Last set, Next zero, and Used counts its payload
// bytes. A header with Filled unset marks a free chunk.
type ChunkHeader struct {
	Filled bool
	Last   bool
	Used   uint64
	Next   uint64
}

// HasNext reports whether the chain continues past this chunk
func (h ChunkHeader) HasNext() bool {
	return !h.Last
}

func (h ChunkHeader) encode() []byte {
	e := newEncoder(ChunkHeaderSize)
	e.bool(h.Filled)
	e.bool(h.Last)
	e.uint64(h.Used)
	e.uint64(h.Next)
	return e.bytes()
}

// readChunkHeader decodes the header of the chunk starting at off.
func readChunkHeader(r io.ReadSeeker, off uint64) (ChunkHeader, error) {
	d := newDecoder(r)
	d.seek(off)
	h := ChunkHeader{
		Filled: d.bool(),
		Last:   d.bool(),
		Used:   d.uint64(),
		Next:   d.uint64(),
	}
	if d.err != nil {
		return ChunkHeader{}, fmt.Errorf("read chunk header at %d: %w", off, d.err)
	}
	return h, nil
}

// writeChunkHeader encodes h at off, extending the stream when off is at
// or past its end.
func writeChunkHeader(w io.WriteSeeker, off uint64, h ChunkHeader) error {
	return writeAt(w, off, h.encode())
}

func writeAt(w io.WriteSeeker, off uint64, p []byte) error {
	if _, err := w.Seek(int64(off), io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek to %d: %w", common.ErrIO, off, err)
	}
	if _, err := w.Write(p); err != nil {
		return fmt.Errorf("%w: write at %d: %w", common.ErrIO, off, err)
	}
	return nil
}

// readAt fills as much of p as the stream holds at off. A short count is
// not an error; it means the stream ended.
func readAt(r io.ReadSeeker, off uint64, p []byte) (int, error) {
	if _, err := r.Seek(int64(off), io.SeekStart); err != nil {
		return 0, fmt.Errorf("%w: seek to %d: %w", common.ErrIO, off, err)
	}
	n, err := io.ReadFull(r, p)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("%w: read at %d: %w", common.ErrIO, off, err)
	}
	return n, nil
}

// streamSize returns the current end offset of the stream.
func streamSize(s io.Seeker) (uint64, error) {
	end, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("%w: seek to end: %w", common.ErrIO, err)
	}
	return uint64(end), nil
}

// ToChunks returns how many chunks are needed to hold n bytes
func ToChunks(n uint64) uint64 {
	return (n + ChunkSize - 1) / ChunkSize
}

// ToBytes converts a chunk count into a byte length
func ToBytes(chunks uint64) uint64 {
	return chunks * ChunkSize
}

// chunkAlign rounds n up to the next chunk boundary.
func chunkAlign(n uint64) uint64 {
	return ToBytes(ToChunks(n))
}
