package ext2

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/litarvan/maestro-go/internal/kerrno"
)

func TestAddAndLookupDirectoryEntry(t *testing.T) {
	v, _ := newTestVolume(t, 64)
	dir := &Inode{Mode: TypeDirectory}

	require.NoError(t, v.AddDirectoryEntry(dir, "bin", 5, DirentDirectory))
	require.NoError(t, v.AddDirectoryEntry(dir, "etc", 6, DirentDirectory))

	ino, ft, err := v.Lookup(dir, "etc")
	require.NoError(t, err)
	require.Equal(t, uint32(6), ino)
	require.Equal(t, DirentDirectory, ft)

	entries, err := v.ListDirectory(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestLookupMissingReturnsNotFound(t *testing.T) {
	v, _ := newTestVolume(t, 64)
	dir := &Inode{Mode: TypeDirectory}
	require.NoError(t, v.AddDirectoryEntry(dir, "a", 5, DirentRegular))

	_, _, err := v.Lookup(dir, "missing")
	require.ErrorIs(t, err, kerrno.ErrNotFound)
}

func TestAddDirectoryEntryNameTooLong(t *testing.T) {
	v, _ := newTestVolume(t, 64)
	dir := &Inode{Mode: TypeDirectory}
	name := strings.Repeat("x", 256)
	err := v.AddDirectoryEntry(dir, name, 5, DirentRegular)
	require.ErrorIs(t, err, kerrno.ErrNameTooLong)
}

func TestAddDirectoryEntryReusesTrailingFreeSpace(t *testing.T) {
	v, _ := newTestVolume(t, 4096)
	dir := &Inode{Mode: TypeDirectory}

	require.NoError(t, v.AddDirectoryEntry(dir, "a", 5, DirentRegular))
	sizeAfterFirst := dir.Size()

	require.NoError(t, v.AddDirectoryEntry(dir, "b", 6, DirentRegular))
	require.Equal(t, sizeAfterFirst, dir.Size(), "second entry should reuse trailing space in the same block")

	entries, err := v.ListDirectory(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestAddDirectoryEntryAppendsNewBlockWhenFull(t *testing.T) {
	v, _ := newTestVolume(t, 4096)
	dir := &Inode{Mode: TypeDirectory}

	// testBlockSize is 64 bytes; a name leaving zero trailing free space
	// (8-byte header + 53-byte name rounds up to exactly 64) consumes the
	// whole block, forcing the next add to allocate a new one.
	longName := strings.Repeat("a", 53)
	require.NoError(t, v.AddDirectoryEntry(dir, longName, 5, DirentRegular))
	sizeAfterFirst := dir.Size()
	require.Equal(t, uint64(testBlockSize), sizeAfterFirst)

	require.NoError(t, v.AddDirectoryEntry(dir, "second", 6, DirentRegular))
	require.Greater(t, dir.Size(), sizeAfterFirst)

	entries, err := v.ListDirectory(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestRemoveDirectoryEntryMergesIntoPrevious(t *testing.T) {
	v, _ := newTestVolume(t, 4096)
	dir := &Inode{Mode: TypeDirectory}
	require.NoError(t, v.AddDirectoryEntry(dir, "a", 5, DirentRegular))
	require.NoError(t, v.AddDirectoryEntry(dir, "b", 6, DirentRegular))

	require.NoError(t, v.RemoveDirectoryEntry(dir, "b"))

	entries, err := v.ListDirectory(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a", entries[0].Name)

	// "b"'s space merged into "a"'s record; a fresh add should reuse it
	// without growing the directory's size.
	sizeBeforeReuse := dir.Size()
	require.NoError(t, v.AddDirectoryEntry(dir, "c", 7, DirentRegular))
	require.Equal(t, sizeBeforeReuse, dir.Size())
}

func TestRemoveDirectoryEntryFirstZeroesInode(t *testing.T) {
	v, _ := newTestVolume(t, 4096)
	dir := &Inode{Mode: TypeDirectory}
	require.NoError(t, v.AddDirectoryEntry(dir, "only", 5, DirentRegular))

	require.NoError(t, v.RemoveDirectoryEntry(dir, "only"))

	entries, err := v.ListDirectory(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRemoveDirectoryEntryMissingReturnsNotFound(t *testing.T) {
	v, _ := newTestVolume(t, 64)
	dir := &Inode{Mode: TypeDirectory}
	err := v.RemoveDirectoryEntry(dir, "nope")
	require.ErrorIs(t, err, kerrno.ErrNotFound)
}

func TestSetLinkReadLinkFastPath(t *testing.T) {
	v, _ := newTestVolume(t, 64)
	link := &Inode{Mode: TypeSymlink}

	require.NoError(t, v.SetLink(link, "/bin/sh"))
	require.NotNil(t, link.SymlinkTarget)
	require.Equal(t, uint64(len("/bin/sh")), link.Size())

	target, err := v.ReadLink(link)
	require.NoError(t, err)
	require.Equal(t, "/bin/sh", target)
}

func TestSetLinkReadLinkBlockBackedPath(t *testing.T) {
	v, _ := newTestVolume(t, 64)
	link := &Inode{Mode: TypeSymlink}
	target := strings.Repeat("a", SymlinkInodeStoreLimit+1)

	require.NoError(t, v.SetLink(link, target))
	require.Nil(t, link.SymlinkTarget)

	got, err := v.ReadLink(link)
	require.NoError(t, err)
	require.Equal(t, target, got)
}

func TestSetLinkConvertingBlockBackedToFastFreesBlocks(t *testing.T) {
	v, _ := newTestVolume(t, 64)
	link := &Inode{Mode: TypeSymlink}
	long := strings.Repeat("a", SymlinkInodeStoreLimit+1)
	require.NoError(t, v.SetLink(link, long))
	require.NotZero(t, link.UsedSectors, "block-backed target should have allocated content blocks")

	require.NoError(t, v.SetLink(link, "/bin/sh"))
	require.Zero(t, link.UsedSectors, "converting to a fast symlink must free the old content blocks")
	require.Zero(t, link.DirectPtrs[0])

	target, err := v.ReadLink(link)
	require.NoError(t, err)
	require.Equal(t, "/bin/sh", target)
}

func TestSetLinkRejectsNonSymlink(t *testing.T) {
	v, _ := newTestVolume(t, 64)
	dir := &Inode{Mode: TypeDirectory}
	err := v.SetLink(dir, "/bin/sh")
	require.ErrorIs(t, err, kerrno.ErrInvalidArgument)
}
