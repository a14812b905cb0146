package ext2

import (
	"github.com/litarvan/maestro-go/internal/blockio"
	"github.com/litarvan/maestro-go/internal/kerrno"
)

// Volume couples an Inode's block-pointer tree to the device that backs
// its content blocks. One Volume is shared by every inode read/written
// from the same device, the same role the original kernel's filesystem
// struct plays relative to individual inode.rs methods.
type Volume struct {
	dev *blockio.Device
}

// NewVolume wraps dev for inode content operations.
func NewVolume(dev *blockio.Device) *Volume {
	return &Volume{dev: dev}
}

// resolveIndirections walks level levels of indirect blocks starting at
// root, following indexInLevel's digits (most significant level first),
// returning the final direct block number (0 if any pointer along the way
// is a hole). Grounded on inode.rs's resolve_indirections.
func (v *Volume) resolveIndirections(root uint32, level int, indexInLevel uint64) (uint32, error) {
	if level == 0 {
		return root, nil
	}
	if root == 0 {
		return 0, nil
	}
	e := uint64(entriesPerIndirectBlock(v.dev.GetBlockSize()))
	buf := make([]byte, v.dev.GetBlockSize())
	if err := v.dev.ReadBlock(root, buf); err != nil {
		return 0, err
	}

	// Compute the divisor for this level: level-1 remaining levels below
	// this pointer slot, each contributing e possibilities.
	divisor := uint64(1)
	for i := 1; i < level; i++ {
		divisor *= e
	}
	slot := indexInLevel / divisor
	rest := indexInLevel % divisor

	ptr := readPtr(buf, slot)
	return v.resolveIndirections(ptr, level-1, rest)
}

func readPtr(buf []byte, slot uint64) uint32 {
	off := slot * 4
	return uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24
}

func writePtr(buf []byte, slot uint64, val uint32) {
	off := slot * 4
	buf[off] = byte(val)
	buf[off+1] = byte(val >> 8)
	buf[off+2] = byte(val >> 16)
	buf[off+3] = byte(val >> 24)
}

// GetContentBlockOffset returns the physical block number backing logical
// block index logical of in, or 0 if it is an unallocated hole. Grounded
// on inode.rs's get_content_block_off.
func (v *Volume) GetContentBlockOffset(in *Inode, logical uint64) (uint32, error) {
	level, idx := indirectionLevel(logical, v.dev.GetBlockSize())
	switch level {
	case 0:
		return in.DirectPtrs[idx], nil
	case 1:
		return v.resolveIndirections(in.SinglyIndirect, 1, idx)
	case 2:
		return v.resolveIndirections(in.DoublyIndirect, 2, idx)
	case 3:
		return v.resolveIndirections(in.TriplyIndirect, 3, idx)
	}
	return 0, kerrno.ErrInvalidArgument
}

// indirectionsAlloc walks (allocating indirect blocks as needed) down to
// the direct pointer slot for indexInLevel under root, allocates the
// final content block if it is a hole, and returns its number along with
// the (possibly updated) root pointer. Grounded on inode.rs's
// indirections_alloc / alloc_content_block.
func (v *Volume) indirectionsAlloc(root uint32, level int, indexInLevel uint64, usedSectors *uint32) (newRoot uint32, contentBlk uint32, err error) {
	if level == 0 {
		return root, root, nil
	}

	if root == 0 {
		root, err = v.allocBlock(usedSectors)
		if err != nil {
			return 0, 0, err
		}
		zero := make([]byte, v.dev.GetBlockSize())
		if err := v.dev.WriteBlock(root, zero); err != nil {
			return 0, 0, err
		}
	}

	buf := make([]byte, v.dev.GetBlockSize())
	if err := v.dev.ReadBlock(root, buf); err != nil {
		return 0, 0, err
	}

	e := uint64(entriesPerIndirectBlock(v.dev.GetBlockSize()))
	divisor := uint64(1)
	for i := 1; i < level; i++ {
		divisor *= e
	}
	slot := indexInLevel / divisor
	rest := indexInLevel % divisor

	childRoot := readPtr(buf, slot)
	newChildRoot, blk, err := v.indirectionsAlloc(childRoot, level-1, rest, usedSectors)
	if err != nil {
		return 0, 0, err
	}
	if newChildRoot != childRoot {
		writePtr(buf, slot, newChildRoot)
		if err := v.dev.WriteBlock(root, buf); err != nil {
			return 0, 0, err
		}
	}
	return root, blk, nil
}

func (v *Volume) allocBlock(usedSectors *uint32) (uint32, error) {
	blk, err := v.dev.GetFreeBlock()
	if err != nil {
		return 0, err
	}
	if err := v.dev.MarkBlockUsed(blk); err != nil {
		return 0, err
	}
	if usedSectors != nil {
		*usedSectors += ceilDiv(v.dev.GetBlockSize(), SectorSize)
	}
	return blk, nil
}

// AllocContentBlock ensures logical block index logical of in is backed
// by an allocated block, allocating indirect blocks and the content block
// itself as needed, and updates in's pointer fields and UsedSectors.
func (v *Volume) AllocContentBlock(in *Inode, logical uint64) (uint32, error) {
	level, idx := indirectionLevel(logical, v.dev.GetBlockSize())
	switch level {
	case 0:
		if in.DirectPtrs[idx] == 0 {
			blk, err := v.allocBlock(&in.UsedSectors)
			if err != nil {
				return 0, err
			}
			in.DirectPtrs[idx] = blk
		}
		return in.DirectPtrs[idx], nil
	case 1:
		root, blk, err := v.indirectionsAlloc(in.SinglyIndirect, 1, idx, &in.UsedSectors)
		if err != nil {
			return 0, err
		}
		in.SinglyIndirect = root
		if blk == 0 {
			nb, err := v.allocBlock(&in.UsedSectors)
			if err != nil {
				return 0, err
			}
			if _, _, err := v.indirectionsAlloc(in.SinglyIndirect, 1, idx, &in.UsedSectors); err != nil {
				return 0, err
			}
			if err := v.setDirectSlot(in.SinglyIndirect, 1, idx, nb); err != nil {
				return 0, err
			}
			return nb, nil
		}
		return blk, nil
	case 2:
		return v.allocIndirectChain(&in.DoublyIndirect, 2, idx, &in.UsedSectors)
	case 3:
		return v.allocIndirectChain(&in.TriplyIndirect, 3, idx, &in.UsedSectors)
	}
	return 0, kerrno.ErrInvalidArgument
}

// allocIndirectChain handles levels 2 and 3 uniformly: walk/allocate the
// indirect chain, and if the terminal content pointer is still a hole,
// allocate it and splice it in.
func (v *Volume) allocIndirectChain(root *uint32, level int, idx uint64, usedSectors *uint32) (uint32, error) {
	newRoot, blk, err := v.indirectionsAlloc(*root, level, idx, usedSectors)
	if err != nil {
		return 0, err
	}
	*root = newRoot
	if blk != 0 {
		return blk, nil
	}
	nb, err := v.allocBlock(usedSectors)
	if err != nil {
		return 0, err
	}
	if err := v.setDirectSlot(*root, level, idx, nb); err != nil {
		return 0, err
	}
	return nb, nil
}

// setDirectSlot writes val into the terminal direct-pointer slot reached
// by walking level indirection levels under root for index idx.
func (v *Volume) setDirectSlot(root uint32, level int, idx uint64, val uint32) error {
	e := uint64(entriesPerIndirectBlock(v.dev.GetBlockSize()))
	path := make([]uint64, 0, level)
	rem := idx
	for l := level; l >= 1; l-- {
		divisor := uint64(1)
		for i := 1; i < l; i++ {
			divisor *= e
		}
		path = append(path, rem/divisor)
		rem %= divisor
	}

	blocks := make([]uint32, level)
	blocks[0] = root
	buf := make([]byte, v.dev.GetBlockSize())
	for i := 0; i < level-1; i++ {
		if err := v.dev.ReadBlock(blocks[i], buf); err != nil {
			return err
		}
		blocks[i+1] = readPtr(buf, path[i])
	}
	if err := v.dev.ReadBlock(blocks[level-1], buf); err != nil {
		return err
	}
	writePtr(buf, path[level-1], val)
	return v.dev.WriteBlock(blocks[level-1], buf)
}

// isBlockEmpty reports whether every pointer entry in the block is zero,
// grounded on inode.rs's is_blk_empty (used to decide whether an
// indirect block itself can be freed once its last child is freed).
func (v *Volume) isBlockEmpty(blk uint32) (bool, error) {
	buf := make([]byte, v.dev.GetBlockSize())
	if err := v.dev.ReadBlock(blk, buf); err != nil {
		return false, err
	}
	for _, b := range buf {
		if b != 0 {
			return false, nil
		}
	}
	return true, nil
}

// freeBlockCounted frees blk on the device and decrements usedSectors,
// the common tail inode.rs's free paths share.
func (v *Volume) freeBlockCounted(blk uint32, usedSectors *uint32) error {
	if blk == 0 {
		return nil
	}
	if err := v.dev.FreeBlock(blk); err != nil {
		return err
	}
	dec := ceilDiv(v.dev.GetBlockSize(), SectorSize)
	if *usedSectors >= dec {
		*usedSectors -= dec
	} else {
		*usedSectors = 0
	}
	return nil
}

// indirectionsFree frees the content block (and any now-empty indirect
// blocks on the path to it) for logical index idx under root at the
// given level, returning the root pointer to store back (0 if root
// itself became empty and was freed). Grounded on inode.rs's
// indirections_free.
func (v *Volume) indirectionsFree(root uint32, level int, idx uint64, usedSectors *uint32) (uint32, error) {
	if root == 0 {
		return 0, nil
	}
	if level == 0 {
		if err := v.freeBlockCounted(root, usedSectors); err != nil {
			return 0, err
		}
		return 0, nil
	}

	e := uint64(entriesPerIndirectBlock(v.dev.GetBlockSize()))
	divisor := uint64(1)
	for i := 1; i < level; i++ {
		divisor *= e
	}
	slot := idx / divisor
	rest := idx % divisor

	buf := make([]byte, v.dev.GetBlockSize())
	if err := v.dev.ReadBlock(root, buf); err != nil {
		return 0, err
	}
	child := readPtr(buf, slot)
	newChild, err := v.indirectionsFree(child, level-1, rest, usedSectors)
	if err != nil {
		return 0, err
	}
	if newChild != child {
		writePtr(buf, slot, newChild)
		if err := v.dev.WriteBlock(root, buf); err != nil {
			return 0, err
		}
	}

	empty, err := v.isBlockEmpty(root)
	if err != nil {
		return 0, err
	}
	if empty {
		if err := v.freeBlockCounted(root, usedSectors); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return root, nil
}

// indirectFreeAll frees every content and indirect block reachable from
// root at the given level unconditionally (used by FreeContent to tear
// an entire indirect subtree down at once rather than walking index by
// index), grounded on inode.rs's indirect_free_all.
func (v *Volume) indirectFreeAll(root uint32, level int, usedSectors *uint32) error {
	if root == 0 {
		return nil
	}
	if level == 0 {
		return v.freeBlockCounted(root, usedSectors)
	}
	buf := make([]byte, v.dev.GetBlockSize())
	if err := v.dev.ReadBlock(root, buf); err != nil {
		return err
	}
	e := entriesPerIndirectBlock(v.dev.GetBlockSize())
	for slot := uint64(0); slot < uint64(e); slot++ {
		child := readPtr(buf, slot)
		if child == 0 {
			continue
		}
		if err := v.indirectFreeAll(child, level-1, usedSectors); err != nil {
			return err
		}
	}
	return v.freeBlockCounted(root, usedSectors)
}

// FreeContent releases every block backing in's content (direct blocks
// plus the three indirect subtrees) and resets in.UsedSectors to zero,
// grounded on inode.rs's free_content.
func (v *Volume) FreeContent(in *Inode) error {
	for i := 0; i < DirectBlocksCount; i++ {
		if in.DirectPtrs[i] != 0 {
			if err := v.freeBlockCounted(in.DirectPtrs[i], &in.UsedSectors); err != nil {
				return err
			}
			in.DirectPtrs[i] = 0
		}
	}
	if err := v.indirectFreeAll(in.SinglyIndirect, 1, &in.UsedSectors); err != nil {
		return err
	}
	in.SinglyIndirect = 0
	if err := v.indirectFreeAll(in.DoublyIndirect, 2, &in.UsedSectors); err != nil {
		return err
	}
	in.DoublyIndirect = 0
	if err := v.indirectFreeAll(in.TriplyIndirect, 3, &in.UsedSectors); err != nil {
		return err
	}
	in.TriplyIndirect = 0
	in.UsedSectors = 0
	return nil
}
