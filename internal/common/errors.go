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

package common

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrExists        = errors.New("already exists")
	ErrNotDir        = errors.New("not a directory")
	ErrIsDir         = errors.New("is a directory")
	ErrInvalidPath   = errors.New("invalid path")
	ErrInvalidHandle = errors.New("invalid handle")
	ErrIO            = errors.New("I/O error")

	// ErrFormat reports a metadata region that does not decode to a valid tree.
	ErrFormat = errors.New("malformed storage format")
	// ErrConflict reports an Open/Create that clashes with the mode of an open descriptor.
	ErrConflict = errors.New("path is open in a conflicting mode")
	// ErrBadMode reports a Read on a write-only handle or a Write on a read-only one.
	ErrBadMode = errors.New("operation not permitted by handle mode")
	// ErrClosed reports use of a handle or store after Close.
	ErrClosed = errors.New("already closed")
	// ErrLimitTooSmall reports a storage size limit below the two-chunk minimum.
	ErrLimitTooSmall = errors.New("storage size limit below minimum")
	// ErrNoSpace reports that a store cannot grow past its size limit.
	ErrNoSpace = errors.New("no space left in storage file")
	// ErrInconsistent marks a store whose chunk region shift was interrupted.
	ErrInconsistent = errors.New("storage file left inconsistent by an interrupted shift")
	ErrNotSupported = errors.New("operation not supported")
)
