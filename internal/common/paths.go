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

import (
	"fmt"
	"strings"
)

// Separator is the path delimiter used inside storage files.
const Separator = "/"

// MaxNameLen is the longest path component a storage file can hold.
const MaxNameLen = 4096

// SplitPath splits a path into its components, dropping empty segments
func SplitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, Separator) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// NormalizePath removes leading, trailing and repeated separators
func NormalizePath(path string) string {
	return strings.Join(SplitPath(path), Separator)
}

// JoinPath joins path components
func JoinPath(parts ...string) string {
	return NormalizePath(strings.Join(parts, Separator))
}

// ParentPath returns the parent directory of a path
func ParentPath(path string) string {
	parts := SplitPath(path)
	if len(parts) <= 1 {
		return ""
	}
	return strings.Join(parts[:len(parts)-1], Separator)
}

// BaseName returns the base name of a path
func BaseName(path string) string {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// ValidateName checks a single path component.
// Names are stored NUL-terminated, so NUL can never appear in one.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidPath, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: name contains NUL", ErrInvalidPath)
	case strings.Contains(name, Separator):
		return fmt.Errorf("%w: name contains separator", ErrInvalidPath)
	case len(name) > MaxNameLen:
		return fmt.Errorf("%w: name longer than %d bytes", ErrInvalidPath, MaxNameLen)
	}
	return nil
}

// ValidatePath checks every component of path and returns them
func ValidatePath(path string) ([]string, error) {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	for _, p := range parts {
		if err := ValidateName(p); err != nil {
			return nil, err
		}
	}
	return parts, nil
}
