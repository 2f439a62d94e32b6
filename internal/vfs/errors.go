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
	"errors"
	"os"
	"syscall"

	"chunkvfs/internal/common"
)

// errnoTable maps sentinel errors to the errno a filesystem client expects.
// Order matters: the first match wins.
var errnoTable = []struct {
	err   error
	errno syscall.Errno
}{
	{common.ErrNotFound, syscall.ENOENT},
	{common.ErrExists, syscall.EEXIST},
	{common.ErrNotDir, syscall.ENOTDIR},
	{common.ErrIsDir, syscall.EISDIR},
	{common.ErrInvalidPath, syscall.EINVAL},
	{common.ErrInvalidHandle, syscall.EBADF},
	{common.ErrClosed, syscall.EBADF},
	{common.ErrBadMode, syscall.EBADF},
	{common.ErrConflict, syscall.EBUSY},
	{common.ErrNoSpace, syscall.ENOSPC},
	{common.ErrLimitTooSmall, syscall.EINVAL},
	{common.ErrNotSupported, syscall.ENOTSUP},
	{common.ErrInconsistent, syscall.EIO},
	{common.ErrFormat, syscall.EIO},
	{common.ErrIO, syscall.EIO},
}

// Errno returns the errno matching err, or EIO for errors it does not know.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	for _, e := range errnoTable {
		if errors.Is(err, e.err) {
			return e.errno
		}
	}
	return syscall.EIO
}

// pathError wraps err for callers that test with os.IsNotExist and friends.
// The original error stays reachable through errors.Is.
func pathError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &os.PathError{Op: op, Path: path, Err: errnoError{errno: Errno(err), err: err}}
}

type errnoError struct {
	errno syscall.Errno
	err   error
}

func (e errnoError) Error() string { return e.err.Error() }

func (e errnoError) Unwrap() []error { return []error{e.errno, e.err} }
