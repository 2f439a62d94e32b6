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

// NodeKind is the 2-byte tag that starts every serialized tree node
type NodeKind uint16

const (
	KindDir  NodeKind = 0
	KindFile NodeKind = 1
)

func (k NodeKind) String() string {
	switch k {
	case KindDir:
		return "directory"
	case KindFile:
		return "file"
	}
	return "unknown"
}

// Node is a directory or file in the tree. *Dir and *File are the only
// implementations.
type Node interface {
	Name() string
	Kind() NodeKind
	// recordSize is the serialized size of this node alone, excluding
	// the records of any children.
	recordSize() uint64
}

// Dir owns its children exclusively. Persisted child offsets are not kept
// in memory; they are recomputed on every full write.
type Dir struct {
	name     string
	children []Node
}

// NewDir returns an empty directory
func NewDir(name string) *Dir {
	return &Dir{name: name}
}

func (d *Dir) Name() string   { return d.name }
func (d *Dir) Kind() NodeKind { return KindDir }

func (d *Dir) recordSize() uint64 {
	// tag + child count + name + terminator + one offset slot per child
	return 2 + 8 + uint64(len(d.name)) + 1 + 8*uint64(len(d.children))
}

// Children returns the directory entries in insertion order
func (d *Dir) Children() []Node {
	return d.children
}

// Append adds n as the last child
func (d *Dir) Append(n Node) {
	d.children = append(d.children, n)
}

// Child looks up an immediate child by exact name and kind.
func (d *Dir) Child(name string, kind NodeKind) Node {
	for _, c := range d.children {
		if c.Kind() == kind && c.Name() == name {
			return c
		}
	}
	return nil
}

// File is a leaf holding the location and size of its content chain.
type File struct {
	name       string
	FirstChunk uint64
	Size       uint64
}

// NewFile returns a file node whose content starts at firstChunk
func NewFile(name string, firstChunk uint64) *File {
	return &File{name: name, FirstChunk: firstChunk}
}

func (f *File) Name() string   { return f.name }
func (f *File) Kind() NodeKind { return KindFile }

func (f *File) recordSize() uint64 {
	// tag + first chunk + size + name + terminator
	return 2 + 8 + 8 + uint64(len(f.name)) + 1
}

// NodeInfo is a copy of a node's attributes that can outlive the store lock.
type NodeInfo struct {
	Name       string
	IsDir      bool
	Size       uint64
	FirstChunk uint64
	Entries    int
}

func infoOf(n Node) NodeInfo {
	switch n := n.(type) {
	case *Dir:
		return NodeInfo{Name: n.name, IsDir: true, Entries: len(n.children)}
	case *File:
		return NodeInfo{Name: n.name, Size: n.Size, FirstChunk: n.FirstChunk}
	}
	return NodeInfo{}
}
