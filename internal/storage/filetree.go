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
	"strings"

	"chunkvfs/internal/common"
)

// FileTree is the directory hierarchy stored at the start of a storage
// file. Layout: an 8-byte total length followed by node records.
//
//	dir:  tag(2) count(8) name\0 offset(8)*count, then each child record
//	file: tag(2) firstChunk(8) size(8) name\0
//
// Child offsets are absolute positions in the stream. They are only
// meaningful right after Write; any mutation invalidates them until the
// next full write.
type FileTree struct {
	root   *Dir
	length uint64
}

// NewFileTree returns a tree holding an empty root directory. Its
// persisted length is zero until it is written.
func NewFileTree() *FileTree {
	return &FileTree{root: NewDir("")}
}

// Reset discards every node and starts over with an empty root.
func (t *FileTree) Reset() {
	t.root = NewDir("")
	t.length = 0
}

// Root returns the root directory
func (t *FileTree) Root() *Dir {
	return t.root
}

// Length returns the byte length recorded by the last Read or Write
func (t *FileTree) Length() uint64 {
	return t.length
}

// ChunkRegionStart is the offset of the first chunk under the persisted layout
func (t *FileTree) ChunkRegionStart() uint64 {
	return chunkAlign(t.length)
}

// walk visits every node depth first. Depth is data controlled, so it
// uses an explicit stack rather than recursion.
func (t *FileTree) walk(fn func(Node)) {
	if t.root == nil {
		return
	}
	stack := []Node{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(n)
		if d, ok := n.(*Dir); ok {
			for i := len(d.children) - 1; i >= 0; i-- {
				stack = append(stack, d.children[i])
			}
		}
	}
}

// CalcSize returns the serialized length of the tree without doing any I/O.
func (t *FileTree) CalcSize() uint64 {
	total := uint64(treeLengthSize)
	t.walk(func(n Node) {
		total += n.recordSize()
	})
	return total
}

// IsGrown reports whether the in-memory tree needs more chunks than the
// persisted one reserved.
func (t *FileTree) IsGrown() bool {
	return ToChunks(t.CalcSize()) > ToChunks(t.length)
}

// GrowthDelta is the number of bytes the chunk region has to move forward
// before the in-memory tree can be written.
func (t *FileTree) GrowthDelta() uint64 {
	if !t.IsGrown() {
		return 0
	}
	return chunkAlign(t.CalcSize()) - chunkAlign(t.length)
}

// ShiftFileChunks adds delta to every allocated first-chunk pointer.
func (t *FileTree) ShiftFileChunks(delta uint64) {
	t.walk(func(n Node) {
		if f, ok := n.(*File); ok && f.FirstChunk != invalidOffset {
			f.FirstChunk += delta
		}
	})
}

// Write serializes the whole tree at the start of w, then rewrites the
// leading length field with the number of bytes actually produced.
func (t *FileTree) Write(w io.WriteSeeker) error {
	e := newEncoder(int(t.CalcSize()))
	e.uint64(0)
	t.writeNode(e, t.root)
	length := e.pos()
	e.seek(0)
	e.uint64(length)

	if err := writeAt(w, 0, e.bytes()); err != nil {
		return fmt.Errorf("write tree: %w", err)
	}
	t.length = length
	return nil
}

// writeNode emits n at the encoder position and returns that position.
func (t *FileTree) writeNode(e *encoder, n Node) uint64 {
	pos := e.pos()
	e.uint16(uint16(n.Kind()))

	switch n := n.(type) {
	case *Dir:
		e.uint64(uint64(len(n.children)))
		e.str(n.name)
		slots := e.pos()
		e.zeros(8 * len(n.children))
		for i, c := range n.children {
			off := t.writeNode(e, c)
			end := e.pos()
			e.seek(slots + 8*uint64(i))
			e.uint64(off)
			e.seek(end)
		}
	case *File:
		e.uint64(n.FirstChunk)
		e.uint64(n.Size)
		e.str(n.name)
	}
	return pos
}

// Read replaces the tree with the one stored in r. The read only succeeds
// when it consumes exactly the declared number of bytes; otherwise the tree
// is left empty with length zero and the caller must reinitialize it.
func (t *FileTree) Read(r io.ReadSeeker) error {
	d := newDecoder(r)
	d.seek(0)
	length := d.uint64()
	if d.err == nil && length <= treeLengthSize {
		d.fail(fmt.Errorf("%w: declared tree length %d", common.ErrFormat, length))
	}

	var root *Dir
	if d.err == nil {
		n := t.readNode(d, length)
		if dir, ok := n.(*Dir); ok {
			root = dir
		} else if d.err == nil {
			d.fail(fmt.Errorf("%w: root is not a directory", common.ErrFormat))
		}
	}
	if d.err == nil && d.off != length {
		d.fail(fmt.Errorf("%w: tree length %d, consumed %d", common.ErrFormat, length, d.off))
	}

	if d.err != nil {
		t.root = nil
		t.length = 0
		return fmt.Errorf("read tree: %w", d.err)
	}
	t.root = root
	t.length = length
	return nil
}

// readNode decodes the record at the decoder position. On return the
// decoder sits at the end of the last byte belonging to the subtree.
func (t *FileTree) readNode(d *decoder, limit uint64) Node {
	kind := NodeKind(d.uint16())
	if d.err != nil {
		return nil
	}

	switch kind {
	case KindDir:
		count := d.uint64()
		name := d.str()
		if d.err != nil {
			return nil
		}
		if d.off > limit || count > (limit-d.off)/8 {
			d.fail(fmt.Errorf("%w: directory %q claims %d children", common.ErrFormat, name, count))
			return nil
		}
		dir := &Dir{name: name, children: make([]Node, 0, count)}
		slotsEnd := d.off + 8*count
		end := slotsEnd
		for i := uint64(0); i < count; i++ {
			slot := d.off
			off := d.uint64()
			if d.err != nil {
				return nil
			}
			// Children are always written after their parent's slot array,
			// which also rules out cycles.
			if off < slotsEnd || off >= limit {
				d.fail(fmt.Errorf("%w: child offset %d out of range", common.ErrFormat, off))
				return nil
			}
			d.seek(off)
			child := t.readNode(d, limit)
			if d.err != nil {
				return nil
			}
			end = d.off
			dir.children = append(dir.children, child)
			d.seek(slot + 8)
		}
		d.seek(end)
		return dir

	case KindFile:
		f := &File{}
		f.FirstChunk = d.uint64()
		f.Size = d.uint64()
		f.name = d.str()
		if d.err != nil {
			return nil
		}
		return f
	}

	d.fail(fmt.Errorf("%w: unknown node tag %d", common.ErrFormat, kind))
	return nil
}

// GetNode resolves path one segment at a time from the root. Intermediate
// segments must be directories; the final one must match kind. A miss
// returns nil unless createMissingDirs is set, in which case missing
// directories are appended along the way (only for kind == KindDir at the
// leaf). The result is a borrow valid until the next mutation.
func (t *FileTree) GetNode(path string, kind NodeKind, createMissingDirs bool) Node {
	parts := common.SplitPath(path)
	if len(parts) == 0 {
		if kind == KindDir {
			return t.root
		}
		return nil
	}

	dir := t.root
	for i, name := range parts {
		if i == len(parts)-1 && kind == KindFile {
			if f := dir.Child(name, KindFile); f != nil {
				return f
			}
			return nil
		}
		next, _ := dir.Child(name, KindDir).(*Dir)
		if next == nil {
			if !createMissingDirs {
				return nil
			}
			next = NewDir(name)
			dir.Append(next)
		}
		dir = next
	}
	return dir
}

// FindFile returns the file node at path, if any.
func (t *FileTree) FindFile(path string) (*File, bool) {
	f, ok := t.GetNode(path, KindFile, false).(*File)
	return f, ok
}

// HasFile reports whether path names an existing file
func (t *FileTree) HasFile(path string) bool {
	_, ok := t.FindFile(path)
	return ok
}

// MkdirAll creates every missing directory on path and reports whether
// anything was added.
func (t *FileTree) MkdirAll(path string) (bool, error) {
	if _, err := common.ValidatePath(path); err != nil {
		return false, err
	}
	if t.GetNode(path, KindDir, false) != nil {
		return false, nil
	}
	t.GetNode(path, KindDir, true)
	return true, nil
}

// AddFile inserts a file node under its parent directory, creating missing
// parents. It returns false without changing the tree when a file of that
// name already exists there.
func (t *FileTree) AddFile(path string, firstChunk uint64) (bool, error) {
	parts, err := common.ValidatePath(path)
	if err != nil {
		return false, err
	}
	leaf := parts[len(parts)-1]
	parentPath := strings.Join(parts[:len(parts)-1], common.Separator)

	if parent, ok := t.GetNode(parentPath, KindDir, false).(*Dir); ok && parent.Child(leaf, KindFile) != nil {
		return false, nil
	}
	parent := t.GetNode(parentPath, KindDir, true).(*Dir)
	parent.Append(NewFile(leaf, firstChunk))
	return true, nil
}

// ExtraSize returns how many bytes adding path as kind would add to the
// serialized tree. Existing nodes cost nothing.
func (t *FileTree) ExtraSize(path string, kind NodeKind) uint64 {
	parts := common.SplitPath(path)
	dir := t.root
	var extra uint64
	for i, name := range parts {
		if i == len(parts)-1 && kind == KindFile {
			if dir != nil && dir.Child(name, KindFile) != nil {
				return extra
			}
			return extra + 8 + NewFile(name, 0).recordSize()
		}
		if dir != nil {
			if next, ok := dir.Child(name, KindDir).(*Dir); ok {
				dir = next
				continue
			}
		}
		dir = nil
		extra += 8 + NewDir(name).recordSize()
	}
	return extra
}

// List returns the immediate children of the directory at path.
func (t *FileTree) List(path string) ([]NodeInfo, error) {
	dir, ok := t.GetNode(path, KindDir, false).(*Dir)
	if !ok {
		return nil, fmt.Errorf("list %q: %w", path, common.ErrNotFound)
	}
	infos := make([]NodeInfo, 0, len(dir.children))
	for _, c := range dir.children {
		infos = append(infos, infoOf(c))
	}
	return infos, nil
}

// Print writes one line per node: directories end in a slash, files carry
// their first chunk offset and size.
func (t *FileTree) Print(w io.Writer) {
	fmt.Fprintf(w, "FileTree{length=%d; nodes=%d}\n", t.length, t.countNodes())
	if t.root != nil {
		printNode(w, t.root, "")
	}
}

func (t *FileTree) countNodes() int {
	n := 0
	t.walk(func(Node) { n++ })
	return n
}

func printNode(w io.Writer, n Node, prefix string) {
	switch n := n.(type) {
	case *Dir:
		fmt.Fprintf(w, "%s%s/\n", prefix, n.name)
		for _, c := range n.children {
			printNode(w, c, prefix+n.name+"/")
		}
	case *File:
		fmt.Fprintf(w, "%s%s  {chunk=%d size=%d}\n", prefix, n.name, n.FirstChunk, n.Size)
	}
}
