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
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"chunkvfs/internal/storage"
)

// File is an open handle returned by Open or Create. A File is bound to
// one storage file for its whole life.
type File struct {
	id     uuid.UUID
	path   string
	mode   Mode
	store  *storage.StorageFile
	closed atomic.Bool

	// mu serializes use of the cursor when a File is shared between
	// goroutines.
	mu     sync.Mutex
	cursor *storage.Cursor
}

func newFile(path string, mode Mode, store *storage.StorageFile, cursor *storage.Cursor) *File {
	return &File{
		id:     uuid.New(),
		path:   path,
		mode:   mode,
		store:  store,
		cursor: cursor,
	}
}

// ID returns the handle's unique identifier
func (f *File) ID() uuid.UUID { return f.id }

// Path returns the normalized path the handle was opened with
func (f *File) Path() string { return f.path }

// Mode returns the access mode of the handle
func (f *File) Mode() Mode { return f.mode }

// Store returns the name of the storage file holding the content
func (f *File) Store() string { return f.store.Name() }

// Offset returns the current content position
func (f *File) Offset() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor.Pos
}

// Closed reports whether Close has been called
func (f *File) Closed() bool { return f.closed.Load() }
