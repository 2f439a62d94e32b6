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
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"chunkvfs/internal/common"
)

// encoder builds a little-endian image in memory. Positions are absolute
// offsets into the image, so backpatching is a seek followed by a write.
type encoder struct {
	buf []byte
	off uint64
}

func newEncoder(capacity int) *encoder {
	return &encoder{buf: make([]byte, 0, capacity)}
}

func (e *encoder) pos() uint64 {
	return e.off
}

func (e *encoder) seek(off uint64) {
	e.off = off
}

func (e *encoder) bytes() []byte {
	return e.buf
}

func (e *encoder) write(p []byte) {
	end := e.off + uint64(len(p))
	if end > uint64(len(e.buf)) {
		e.buf = append(e.buf, make([]byte, end-uint64(len(e.buf)))...)
	}
	copy(e.buf[e.off:end], p)
	e.off = end
}

func (e *encoder) bool(v bool) {
	var b [1]byte
	if v {
		b[0] = 1
	}
	e.write(b[:])
}

func (e *encoder) uint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.write(b[:])
}

func (e *encoder) uint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.write(b[:])
}

// str writes s followed by a single NUL terminator.
func (e *encoder) str(s string) {
	e.write([]byte(s))
	e.write([]byte{0})
}

func (e *encoder) zeros(n int) {
	e.write(make([]byte, n))
}

// decoder reads little-endian fields from a seekable stream. The first
// failure is sticky: every later call returns a zero value, so callers
// check err once at the end of a record.
type decoder struct {
	r   io.ReadSeeker
	off uint64
	err error
}

func newDecoder(r io.ReadSeeker) *decoder {
	return &decoder{r: r}
}

func (d *decoder) fail(err error) {
	if d.err != nil {
		return
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		d.err = fmt.Errorf("%w: %w", common.ErrFormat, io.ErrUnexpectedEOF)
		return
	}
	if errors.Is(err, common.ErrFormat) {
		d.err = err
		return
	}
	d.err = fmt.Errorf("%w: %w", common.ErrIO, err)
}

func (d *decoder) seek(off uint64) {
	if d.err != nil {
		return
	}
	if _, err := d.r.Seek(int64(off), io.SeekStart); err != nil {
		d.fail(err)
		return
	}
	d.off = off
}

func (d *decoder) read(p []byte) {
	if d.err != nil {
		return
	}
	n, err := io.ReadFull(d.r, p)
	d.off += uint64(n)
	if err != nil {
		d.fail(err)
	}
}

func (d *decoder) bool() bool {
	var b [1]byte
	d.read(b[:])
	return d.err == nil && b[0] != 0
}

func (d *decoder) uint16() uint16 {
	var b [2]byte
	d.read(b[:])
	if d.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b[:])
}

func (d *decoder) uint64() uint64 {
	var b [8]byte
	d.read(b[:])
	if d.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b[:])
}

// str scans forward to the NUL terminator to learn the length, returns to
// where it started and reads exactly that many bytes, then steps over the
// terminator.
func (d *decoder) str() string {
	if d.err != nil {
		return ""
	}
	start := d.off
	var (
		n int
		b [1]byte
	)
	for {
		d.read(b[:])
		if d.err != nil {
			return ""
		}
		if b[0] == 0 {
			break
		}
		n++
		if n > common.MaxNameLen {
			d.fail(fmt.Errorf("%w: unterminated name at offset %d", common.ErrFormat, start))
			return ""
		}
	}
	d.seek(start)
	buf := make([]byte, n)
	d.read(buf)
	d.read(b[:])
	if d.err != nil {
		return ""
	}
	return string(buf)
}
