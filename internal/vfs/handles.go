package vfs

import (
	"fmt"
	"sync"

	"chunkvfs/internal/common"
	"chunkvfs/internal/storage"
)

// Mode is the access mode a descriptor was bound with
type Mode int

const (
	ModeInvalid Mode = iota
	ModeReadOnly
	ModeWriteOnly
)

func (m Mode) String() string {
	switch m {
	case ModeReadOnly:
		return "read-only"
	case ModeWriteOnly:
		return "write-only"
	}
	return "invalid"
}

// descriptor binds one path to the store holding it. It lives for as long
// as at least one File refers to it.
type descriptor struct {
	mode  Mode
	store *storage.StorageFile
	refs  int
}

// DescriptorTable tracks which paths are open and in which mode. Readers
// share a descriptor; a writer owns its path exclusively.
type DescriptorTable struct {
	mu      sync.RWMutex
	entries map[string]*descriptor
}

// NewDescriptorTable creates an empty descriptor table
func NewDescriptorTable() *DescriptorTable {
	return &DescriptorTable{
		entries: make(map[string]*descriptor),
	}
}

// Acquire binds path in mode. A read-only request joins an existing
// read-only descriptor; any other overlap fails with ErrConflict. For a
// new descriptor, resolve is called with the table locked to find or
// prepare the owning store, so no second caller can race the binding.
func (dt *DescriptorTable) Acquire(path string, mode Mode, resolve func() (*storage.StorageFile, error)) (*storage.StorageFile, error) {
	if mode != ModeReadOnly && mode != ModeWriteOnly {
		return nil, fmt.Errorf("acquire %q: %w", path, common.ErrBadMode)
	}

	dt.mu.Lock()
	defer dt.mu.Unlock()

	if d, ok := dt.entries[path]; ok {
		if mode == ModeReadOnly && d.mode == ModeReadOnly {
			d.refs++
			return d.store, nil
		}
		return nil, fmt.Errorf("%q is open %s: %w", path, d.mode, common.ErrConflict)
	}

	store, err := resolve()
	if err != nil {
		return nil, err
	}
	dt.entries[path] = &descriptor{mode: mode, store: store, refs: 1}
	return store, nil
}

// Release drops one reference to path, removing the descriptor once
// nothing refers to it.
func (dt *DescriptorTable) Release(path string) {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	d, ok := dt.entries[path]
	if !ok {
		return
	}
	d.refs--
	if d.refs <= 0 {
		delete(dt.entries, path)
	}
}

// Mode returns the mode path is bound with, or ModeInvalid
func (dt *DescriptorTable) Mode(path string) Mode {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	if d, ok := dt.entries[path]; ok {
		return d.mode
	}
	return ModeInvalid
}

// Refs returns how many open files share the descriptor for path
func (dt *DescriptorTable) Refs(path string) int {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	if d, ok := dt.entries[path]; ok {
		return d.refs
	}
	return 0
}

// Len returns the number of bound paths
func (dt *DescriptorTable) Len() int {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return len(dt.entries)
}

// Clear removes all descriptors, returning the count cleared
func (dt *DescriptorTable) Clear() int {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	count := len(dt.entries)
	dt.entries = make(map[string]*descriptor)
	return count
}
