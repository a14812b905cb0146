package ext2

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/litarvan/maestro-go/internal/blockio"
)

// testBlockSize is small (E=16 pointers/indirect block) so tests can reach
// doubly/triply indirection without allocating thousands of blocks.
const testBlockSize = 64

func newTestVolume(t *testing.T, blockCount uint32) (*Volume, *blockio.Device) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fs.img")
	dev, err := blockio.Open(path, testBlockSize, blockCount, false)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return NewVolume(dev), dev
}

func TestGetContentBlockOffsetHoleIsZero(t *testing.T) {
	v, _ := newTestVolume(t, 64)
	in := &Inode{Mode: TypeRegular}

	blk, err := v.GetContentBlockOffset(in, 3)
	require.NoError(t, err)
	require.Zero(t, blk)

	blk, err = v.GetContentBlockOffset(in, DirectBlocksCount) // singly, no indirect block yet
	require.NoError(t, err)
	require.Zero(t, blk)
}

func TestAllocContentBlockDirect(t *testing.T) {
	v, _ := newTestVolume(t, 64)
	in := &Inode{Mode: TypeRegular}

	blk, err := v.AllocContentBlock(in, 0)
	require.NoError(t, err)
	require.NotZero(t, blk)
	require.Equal(t, blk, in.DirectPtrs[0])
	require.Equal(t, ceilDiv(testBlockSize, SectorSize), in.UsedSectors)

	// Allocating the same logical block again must not allocate twice.
	blk2, err := v.AllocContentBlock(in, 0)
	require.NoError(t, err)
	require.Equal(t, blk, blk2)
	require.Equal(t, ceilDiv(testBlockSize, SectorSize), in.UsedSectors)
}

func TestAllocContentBlockSinglyIndirect(t *testing.T) {
	v, _ := newTestVolume(t, 64)
	in := &Inode{Mode: TypeRegular}

	logical := uint64(DirectBlocksCount + 3)
	blk, err := v.AllocContentBlock(in, logical)
	require.NoError(t, err)
	require.NotZero(t, blk)
	require.NotZero(t, in.SinglyIndirect)

	got, err := v.GetContentBlockOffset(in, logical)
	require.NoError(t, err)
	require.Equal(t, blk, got)
}

func TestAllocContentBlockDoublyIndirect(t *testing.T) {
	v, _ := newTestVolume(t, 512)
	in := &Inode{Mode: TypeRegular}

	// E=16 here, so the first doubly-indirect logical index is D+E.
	logical := uint64(DirectBlocksCount + 16)
	blk, err := v.AllocContentBlock(in, logical)
	require.NoError(t, err)
	require.NotZero(t, blk)
	require.NotZero(t, in.DoublyIndirect)

	got, err := v.GetContentBlockOffset(in, logical)
	require.NoError(t, err)
	require.Equal(t, blk, got)
}

func TestAllocContentBlockTriplyIndirect(t *testing.T) {
	v, _ := newTestVolume(t, 512)
	in := &Inode{Mode: TypeRegular}

	logical := uint64(DirectBlocksCount + 16 + 16*16)
	blk, err := v.AllocContentBlock(in, logical)
	require.NoError(t, err)
	require.NotZero(t, blk)
	require.NotZero(t, in.TriplyIndirect)

	got, err := v.GetContentBlockOffset(in, logical)
	require.NoError(t, err)
	require.Equal(t, blk, got)
}

func TestFreeContentResetsEverything(t *testing.T) {
	v, _ := newTestVolume(t, 512)
	in := &Inode{Mode: TypeRegular}

	_, err := v.AllocContentBlock(in, 0)
	require.NoError(t, err)
	_, err = v.AllocContentBlock(in, DirectBlocksCount+3)
	require.NoError(t, err)
	_, err = v.AllocContentBlock(in, DirectBlocksCount+16)
	require.NoError(t, err)
	require.NotZero(t, in.UsedSectors)

	require.NoError(t, v.FreeContent(in))
	require.Zero(t, in.UsedSectors)
	require.Zero(t, in.SinglyIndirect)
	require.Zero(t, in.DoublyIndirect)
	require.Zero(t, in.TriplyIndirect)
	for _, p := range in.DirectPtrs {
		require.Zero(t, p)
	}
}
