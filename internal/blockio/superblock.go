package blockio

import (
	"encoding/binary"
	"os"

	"github.com/dchest/safefile"
)

// Superblock is the small persisted header describing a device image's
// shape: total block count, block size, and the write-required 64-bit
// size feature flag ext2 inodes consult when deciding how to interpret
// size_high.
type Superblock struct {
	BlockSize   uint32
	BlockCount  uint32
	Is64BitSize bool
	InodeCount  uint32
	FirstDataBlock uint32
}

const superblockDiskSize = 32

func (sb *Superblock) encode() []byte {
	buf := make([]byte, superblockDiskSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:], sb.BlockSize)
	le.PutUint32(buf[4:], sb.BlockCount)
	le.PutUint32(buf[8:], sb.InodeCount)
	le.PutUint32(buf[12:], sb.FirstDataBlock)
	if sb.Is64BitSize {
		buf[16] = 1
	}
	return buf
}

func decodeSuperblock(buf []byte) *Superblock {
	le := binary.LittleEndian
	return &Superblock{
		BlockSize:      le.Uint32(buf[0:]),
		BlockCount:     le.Uint32(buf[4:]),
		InodeCount:     le.Uint32(buf[8:]),
		FirstDataBlock: le.Uint32(buf[12:]),
		Is64BitSize:    buf[16] != 0,
	}
}

// LoadSuperblock reads the persisted superblock checkpoint at path, if
// one exists.
func LoadSuperblock(path string) (*Superblock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) < superblockDiskSize {
		return nil, nil
	}
	return decodeSuperblock(data), nil
}

// SaveSuperblock atomically checkpoints sb to path: the write lands on a
// temp file in the same directory and is renamed into place, so a crash
// mid-write never leaves a torn superblock behind. The write-then-rename
// is done by github.com/dchest/safefile.
func SaveSuperblock(path string, sb *Superblock) error {
	f, err := safefile.Create(path, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(sb.encode()); err != nil {
		return err
	}
	return f.Commit()
}
