package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiskErrorMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{New(ErrOutOfRange, "FetchInode", "inode 0", "valid range 1..128"), "FetchInode: inode 0 [valid range 1..128]: value out of range"},
		{New(ErrBadMagic, "FetchSuperblock", "block 8193", ""), "FetchSuperblock: block 8193: invalid superblock: bad magic"},
		{New(ErrNoSpace, "AllocateInode", "", "group 2"), "AllocateInode: no space available [group 2]"},
		{New(ErrIOFailure, "ReadAt", "", ""), "ReadAt: I/O failure"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestDiskErrorUnwrap(t *testing.T) {
	err := Newf(ErrNoSpace, "AllocateBlock", "", "group %d", 3)
	wrapped := fmt.Errorf("writing file: %w", err)

	assert.True(t, Is(wrapped, ErrNoSpace))
	assert.True(t, IsSpaceError(wrapped))
	assert.False(t, IsIOError(wrapped))

	var de *DiskError
	if assert.True(t, As(wrapped, &de)) {
		assert.Equal(t, "AllocateBlock", de.Operation)
		assert.Equal(t, "group 3", de.Detail)
	}
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsInvalidData(New(ErrBadHeader, "Open", "x.vdi", "")))
	assert.True(t, IsInvalidData(ErrInconsistent))
	assert.False(t, IsInvalidData(ErrNoSpace))
	assert.True(t, IsIOError(New(ErrNotFound, "Open", "missing.vdi", "")))
}

func TestBadMagicIsBadSuperblock(t *testing.T) {
	err := New(ErrBadMagic, "FetchSuperblock", "primary", "")
	assert.True(t, Is(err, ErrBadMagic))
	assert.True(t, Is(err, ErrBadSuperblock))
	assert.False(t, Is(New(ErrBadSuperblock, "Open", "", ""), ErrBadMagic))
}
