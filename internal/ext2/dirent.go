package ext2

import (
	"encoding/binary"

	"github.com/litarvan/maestro-go/internal/kerrno"
)

// direntHeaderSize is the fixed portion of a directory entry record
// preceding its variable-length name, matching the classic ext2 layout
// (inode number, total record length, name length, file type) this
// kernel's directory content blocks use verbatim.
const direntHeaderSize = 8

// DirentFileType mirrors the inode type nibble in a compact one-byte form
// stored alongside each directory entry so directory listings don't need
// to stat every child inode.
type DirentFileType uint8

const (
	DirentUnknown DirentFileType = iota
	DirentRegular
	DirentDirectory
	DirentCharDevice
	DirentBlockDevice
	DirentFIFO
	DirentSocket
	DirentSymlink
)

// Dirent is one decoded directory entry.
type Dirent struct {
	Inode    uint32
	RecordLen uint16
	FileType DirentFileType
	Name     string
}

func direntRecordLen(nameLen int) uint16 {
	raw := direntHeaderSize + nameLen
	return uint16((raw + 3) &^ 3) // 4-byte aligned, classic ext2 convention
}

func encodeDirent(buf []byte, d Dirent) {
	le := binary.LittleEndian
	le.PutUint32(buf[0:], d.Inode)
	le.PutUint16(buf[4:], d.RecordLen)
	buf[6] = byte(len(d.Name))
	buf[7] = byte(d.FileType)
	copy(buf[direntHeaderSize:], d.Name)
}

func decodeDirent(buf []byte) Dirent {
	le := binary.LittleEndian
	nameLen := int(buf[6])
	return Dirent{
		Inode:    le.Uint32(buf[0:]),
		RecordLen: le.Uint16(buf[4:]),
		FileType: DirentFileType(buf[7]),
		Name:     string(buf[direntHeaderSize : direntHeaderSize+nameLen]),
	}
}

// ListDirectory reads every live (Inode != 0) directory entry out of in's
// content, reading it one block at a time into a single block-sized
// buffer. in must be a
// directory inode; the caller is responsible for that check.
func (v *Volume) ListDirectory(in *Inode) ([]Dirent, error) {
	bs := v.dev.GetBlockSize()
	size := in.Size()
	var out []Dirent
	buf := make([]byte, bs)

	for off := uint64(0); off < size; off += uint64(bs) {
		n, err := v.ReadContent(in, off, buf)
		if err != nil {
			return nil, err
		}
		pos := 0
		for pos+direntHeaderSize <= n {
			d := decodeDirent(buf[pos:])
			if d.RecordLen == 0 {
				break
			}
			if d.Inode != 0 {
				out = append(out, d)
			}
			pos += int(d.RecordLen)
		}
	}
	return out, nil
}

// AddDirectoryEntry appends a new entry to directory inode in, growing
// its content by one block if no existing record has enough free
// trailing space. Grounded on the classic ext2 directory-entry allocation
// strategy the original kernel's higher-level directory code builds on
// top of inode.rs's block primitives.
func (v *Volume) AddDirectoryEntry(in *Inode, name string, childInode uint32, ft DirentFileType) error {
	if len(name) > 255 {
		return kerrno.ErrNameTooLong
	}
	need := direntRecordLen(len(name))

	bs := v.dev.GetBlockSize()
	size := in.Size()
	buf := make([]byte, bs)

	for off := uint64(0); off < size; off += uint64(bs) {
		if _, err := v.ReadContent(in, off, buf); err != nil {
			return err
		}
		pos := 0
		for pos+direntHeaderSize <= len(buf) {
			d := decodeDirent(buf[pos:])
			if d.RecordLen == 0 {
				break
			}
			used := direntRecordLen(len(d.Name))
			if d.Inode == 0 {
				used = 0
			}
			free := d.RecordLen - used
			if free >= need {
				if used > 0 {
					encodeDirent(buf[pos:], Dirent{Inode: d.Inode, RecordLen: used, FileType: d.FileType, Name: d.Name})
					pos += int(used)
					free = d.RecordLen - used
				}
				encodeDirent(buf[pos:], Dirent{Inode: childInode, RecordLen: free, FileType: ft, Name: name})
				_, err := v.WriteContent(in, off, buf)
				return err
			}
			pos += int(d.RecordLen)
		}
	}

	// No existing block had room: append a fresh block holding one
	// maximal-length entry.
	newBuf := make([]byte, bs)
	encodeDirent(newBuf, Dirent{Inode: childInode, RecordLen: uint16(bs), FileType: ft, Name: name})
	_, err := v.WriteContent(in, size, newBuf)
	return err
}

// RemoveDirectoryEntry zeroes out the entry named name in directory inode
// in (merging its space into the preceding record where possible, matching
// the usual ext2 compaction behavior) so later lookups skip it.
func (v *Volume) RemoveDirectoryEntry(in *Inode, name string) error {
	bs := v.dev.GetBlockSize()
	size := in.Size()
	buf := make([]byte, bs)

	for off := uint64(0); off < size; off += uint64(bs) {
		if _, err := v.ReadContent(in, off, buf); err != nil {
			return err
		}
		pos := 0
		prevPos := -1
		for pos+direntHeaderSize <= len(buf) {
			d := decodeDirent(buf[pos:])
			if d.RecordLen == 0 {
				break
			}
			if d.Inode != 0 && d.Name == name {
				if prevPos >= 0 {
					prev := decodeDirent(buf[prevPos:])
					prev.RecordLen += d.RecordLen
					encodeDirent(buf[prevPos:], prev)
				} else {
					encodeDirent(buf[pos:], Dirent{Inode: 0, RecordLen: d.RecordLen})
				}
				_, err := v.WriteContent(in, off, buf)
				return err
			}
			prevPos = pos
			pos += int(d.RecordLen)
		}
	}
	return kerrno.ErrNotFound
}

// Lookup searches directory inode in for name, returning its child inode
// number.
func (v *Volume) Lookup(in *Inode, name string) (uint32, DirentFileType, error) {
	entries, err := v.ListDirectory(in)
	if err != nil {
		return 0, 0, err
	}
	for _, d := range entries {
		if d.Name == name {
			return d.Inode, d.FileType, nil
		}
	}
	return 0, 0, kerrno.ErrNotFound
}

// SetLink stores target as in's symlink target, either in-place (fast
// symlink, <=SymlinkInodeStoreLimit bytes) or as regular block content,
// matching inode.rs's set_link dual-representation logic.
func (v *Volume) SetLink(in *Inode, target string) error {
	if in.Type() != TypeSymlink {
		return kerrno.ErrInvalidArgument
	}
	// Drop whatever content (in-place or block-backed) in previously held,
	// matching the original's unconditional truncate(0) before re-storing,
	// so converting a block-backed symlink to in-place doesn't leak blocks.
	if err := v.Truncate(in, 0); err != nil {
		return err
	}
	in.SymlinkTarget = nil
	if len(target) <= SymlinkInodeStoreLimit {
		in.SymlinkTarget = []byte(target)
		in.SetSize(uint64(len(target)))
		return nil
	}
	_, err := v.WriteContent(in, 0, []byte(target))
	return err
}

// ReadLink returns in's symlink target, from in-place storage or from
// block content depending on how SetLink stored it.
func (v *Volume) ReadLink(in *Inode) (string, error) {
	if in.Type() != TypeSymlink {
		return "", kerrno.ErrInvalidArgument
	}
	if in.SymlinkTarget != nil {
		return string(in.SymlinkTarget), nil
	}
	buf := make([]byte, in.Size())
	if _, err := v.ReadContent(in, 0, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
