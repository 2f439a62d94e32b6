package vfs

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"chunkvfs/internal/common"
)

func TestErrno(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{"nil", nil, 0},
		{"not found", common.ErrNotFound, syscall.ENOENT},
		{"wrapped not found", fmt.Errorf("open %q: %w", "x", common.ErrNotFound), syscall.ENOENT},
		{"conflict", common.ErrConflict, syscall.EBUSY},
		{"no space", common.ErrNoSpace, syscall.ENOSPC},
		{"bad mode", common.ErrBadMode, syscall.EBADF},
		{"format wrapped in io", fmt.Errorf("%w: %w", common.ErrInconsistent, common.ErrIO), syscall.EIO},
		{"raw errno", syscall.EROFS, syscall.EROFS},
		{"unknown", errors.New("boom"), syscall.EIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Errno(tt.err))
		})
	}
}

func TestPathError(t *testing.T) {
	t.Parallel()

	err := pathError("open", "a.txt", fmt.Errorf("lookup: %w", common.ErrNotFound))
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Contains(t, err.Error(), "a.txt")

	assert.NoError(t, pathError("open", "a.txt", nil))
}
