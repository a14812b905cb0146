package ext2

import (
	"github.com/litarvan/maestro-go/internal/kerrno"
)

// ReadContent reads len(dst) bytes of in's content starting at byte
// offset off into dst, returning the number of bytes actually read (short
// of len(dst) once off+n reaches in.Size()). Holes (unallocated blocks)
// read as zero, grounded on inode.rs's read_content.
func (v *Volume) ReadContent(in *Inode, off uint64, dst []byte) (int, error) {
	size := in.Size()
	if off > size {
		return 0, kerrno.ErrInvalidArgument
	}
	if off == size {
		return 0, nil
	}
	remaining := size - off
	if uint64(len(dst)) > remaining {
		dst = dst[:remaining]
	}

	bs := uint64(v.dev.GetBlockSize())
	buf := make([]byte, bs)
	n := 0
	for n < len(dst) {
		logical := (off + uint64(n)) / bs
		blockOff := (off + uint64(n)) % bs

		blk, err := v.GetContentBlockOffset(in, logical)
		if err != nil {
			return n, err
		}
		if blk == 0 {
			for i := uint64(0); i < bs-blockOff && n < len(dst); i++ {
				dst[n] = 0
				n++
			}
			continue
		}
		if err := v.dev.ReadBlock(blk, buf); err != nil {
			return n, err
		}
		copied := copy(dst[n:], buf[blockOff:])
		n += copied
	}
	return n, nil
}

// WriteContent writes src into in's content starting at byte offset off,
// allocating blocks as needed and growing in.Size() if the write extends
// past the current end, grounded on inode.rs's write_content.
func (v *Volume) WriteContent(in *Inode, off uint64, src []byte) (int, error) {
	if in.Flags&FlagImmutable != 0 {
		return 0, kerrno.ErrPermissionDenied
	}
	if off > in.Size() {
		return 0, kerrno.ErrInvalidArgument
	}

	bs := uint64(v.dev.GetBlockSize())
	buf := make([]byte, bs)
	n := 0
	for n < len(src) {
		logical := (off + uint64(n)) / bs
		blockOff := (off + uint64(n)) % bs

		blk, err := v.AllocContentBlock(in, logical)
		if err != nil {
			return n, err
		}
		if blockOff != 0 || uint64(len(src)-n) < bs {
			if err := v.dev.ReadBlock(blk, buf); err != nil {
				return n, err
			}
		}
		copied := copy(buf[blockOff:], src[n:])
		if err := v.dev.WriteBlock(blk, buf); err != nil {
			return n, err
		}
		n += copied
	}

	if end := off + uint64(n); end > in.Size() {
		in.SetSize(end)
	}
	return n, nil
}

// Truncate shrinks in's content to exactly newSize bytes, freeing every
// block whose logical index is now beyond the new end. Only shrinking is
// implemented: if newSize is at or past the current size, Truncate is a
// no-op — growth happens only as a side effect of WriteContent extending
// past the end — matching inode.rs's truncate, which returns Ok(())
// without changing size when size >= old_size.
func (v *Volume) Truncate(in *Inode, newSize uint64) error {
	if in.Flags&FlagImmutable != 0 {
		return kerrno.ErrPermissionDenied
	}

	oldSize := in.Size()
	if newSize >= oldSize {
		return nil
	}

	bs := uint64(v.dev.GetBlockSize())
	firstFreedLogical := newSize / bs
	if newSize%bs != 0 {
		firstFreedLogical++
	}
	lastLogical := (oldSize - 1) / bs

	for logical := firstFreedLogical; logical <= lastLogical; logical++ {
		level, idx := indirectionLevel(logical, v.dev.GetBlockSize())
		switch level {
		case 0:
			if in.DirectPtrs[idx] != 0 {
				if err := v.freeBlockCounted(in.DirectPtrs[idx], &in.UsedSectors); err != nil {
					return err
				}
				in.DirectPtrs[idx] = 0
			}
		case 1:
			nr, err := v.indirectionsFree(in.SinglyIndirect, 1, idx, &in.UsedSectors)
			if err != nil {
				return err
			}
			in.SinglyIndirect = nr
		case 2:
			nr, err := v.indirectionsFree(in.DoublyIndirect, 2, idx, &in.UsedSectors)
			if err != nil {
				return err
			}
			in.DoublyIndirect = nr
		case 3:
			nr, err := v.indirectionsFree(in.TriplyIndirect, 3, idx, &in.UsedSectors)
			if err != nil {
				return err
			}
			in.TriplyIndirect = nr
		}
	}

	in.SetSize(newSize)
	return nil
}
