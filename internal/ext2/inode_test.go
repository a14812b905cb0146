package ext2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := &Inode{
		Mode:        TypeRegular | 0644,
		UID:         1000,
		GID:         1000,
		LinksCount:  1,
		UsedSectors: 16,
		Flags:       FlagAppendOnly,
	}
	in.SetSize(0x1_0000_0002)
	for i := range in.DirectPtrs {
		in.DirectPtrs[i] = uint32(100 + i)
	}
	in.SinglyIndirect = 200
	in.DoublyIndirect = 201
	in.TriplyIndirect = 202

	buf := make([]byte, inodeDiskSize)
	require.NoError(t, in.Encode(buf))

	out, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, in.Mode, out.Mode)
	require.Equal(t, in.UID, out.UID)
	require.Equal(t, in.GID, out.GID)
	require.Equal(t, in.LinksCount, out.LinksCount)
	require.Equal(t, in.UsedSectors, out.UsedSectors)
	require.Equal(t, in.Flags, out.Flags)
	require.Equal(t, in.DirectPtrs, out.DirectPtrs)
	require.Equal(t, in.SinglyIndirect, out.SinglyIndirect)
	require.Equal(t, in.DoublyIndirect, out.DoublyIndirect)
	require.Equal(t, in.TriplyIndirect, out.TriplyIndirect)
	require.Equal(t, in.Size(), out.Size())
}

func TestSizeHighRoundTripsFull32Bits(t *testing.T) {
	// The original kernel masks size_high to 0xffff on decode; that's
	// treated as a bug here, not replicated, so the full 32 bits survive.
	in := &Inode{Mode: TypeRegular}
	in.SizeHigh = 0x1FFFF
	buf := make([]byte, inodeDiskSize)
	require.NoError(t, in.Encode(buf))

	out, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, uint32(0x1FFFF), out.SizeHigh)
}

func TestDeviceNumberRoundTrip(t *testing.T) {
	in := &Inode{Mode: TypeChar}
	in.SetDeviceNumber(8, 1)
	major, minor := in.DeviceNumber()
	require.Equal(t, uint32(8), major)
	require.Equal(t, uint32(1), minor)
}

func TestSymlinkTargetRoundTripsThroughPointerArea(t *testing.T) {
	in := &Inode{Mode: TypeSymlink}
	in.SymlinkTarget = []byte("/bin/sh")
	buf := make([]byte, inodeDiskSize)
	require.NoError(t, in.Encode(buf))

	out, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, "/bin/sh", string(out.SymlinkTarget))
}

func TestSymlinkTargetNearStoreLimitSurvivesRoundTrip(t *testing.T) {
	// Regression: storing the target after SizeHigh left only 28 bytes,
	// silently truncating anything past 28 bytes even though
	// SymlinkInodeStoreLimit is 60.
	target := "/usr/lib/systemd/systemd-udev-long-path-near-limit-xx"
	require.Len(t, target, 53)
	in := &Inode{Mode: TypeSymlink}
	in.SymlinkTarget = []byte(target)
	buf := make([]byte, inodeDiskSize)
	require.NoError(t, in.Encode(buf))

	out, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, target, string(out.SymlinkTarget))
}

func TestIndirectionLevelBoundaries(t *testing.T) {
	const blockSize = 64 // E = 16
	level, idx := indirectionLevel(0, blockSize)
	require.Equal(t, 0, level)
	require.Equal(t, uint64(0), idx)

	level, idx = indirectionLevel(DirectBlocksCount-1, blockSize)
	require.Equal(t, 0, level)
	require.Equal(t, uint64(DirectBlocksCount-1), idx)

	level, idx = indirectionLevel(DirectBlocksCount, blockSize)
	require.Equal(t, 1, level)
	require.Equal(t, uint64(0), idx)

	level, idx = indirectionLevel(DirectBlocksCount+16-1, blockSize)
	require.Equal(t, 1, level)
	require.Equal(t, uint64(15), idx)

	level, idx = indirectionLevel(DirectBlocksCount+16, blockSize)
	require.Equal(t, 2, level)
	require.Equal(t, uint64(0), idx)

	level, idx = indirectionLevel(DirectBlocksCount+16+16*16, blockSize)
	require.Equal(t, 3, level)
	require.Equal(t, uint64(0), idx)
}
