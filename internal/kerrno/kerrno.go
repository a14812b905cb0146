// Package kerrno classifies the POSIX-style error taxonomy surfaced by the
// kernel core (spec §7): resource exhaustion, bad arguments, lookup
// failures, permission, and I/O errors. Callers at a syscall boundary use
// ClassifyKind to map a core error back to an errno value without each subsystem
// having to agree on a shared error type.
package kerrno

import "errors"

// Kind groups sentinel errors into the families spec.md §7 names.
type Kind int

const (
	KindUnknown Kind = iota
	KindResource
	KindArgument
	KindLookup
	KindPermission
	KindIO
	KindSignal
)

var (
	// Resource
	ErrNoMemory = errors.New("kerrno: no memory")
	ErrNoSpace  = errors.New("kerrno: no space left on device")

	// Argument
	ErrInvalidArgument = errors.New("kerrno: invalid argument")
	ErrNameTooLong     = errors.New("kerrno: name too long")

	// Lookup
	ErrNotFound    = errors.New("kerrno: not found")
	ErrNotDir      = errors.New("kerrno: not a directory")
	ErrLoop        = errors.New("kerrno: too many levels of symbolic links")

	// Permission
	ErrPermissionDenied    = errors.New("kerrno: permission denied")
	ErrReadOnlyFilesystem  = errors.New("kerrno: read-only filesystem")

	// I/O
	ErrIO      = errors.New("kerrno: I/O error")
	ErrBadFile = errors.New("kerrno: bad file descriptor")

	// Signal / device
	ErrNotATTY = errors.New("kerrno: not a tty")
)

var kinds = map[error]Kind{
	ErrNoMemory:           KindResource,
	ErrNoSpace:            KindResource,
	ErrInvalidArgument:    KindArgument,
	ErrNameTooLong:        KindArgument,
	ErrNotFound:           KindLookup,
	ErrNotDir:             KindLookup,
	ErrLoop:               KindLookup,
	ErrPermissionDenied:   KindPermission,
	ErrReadOnlyFilesystem: KindPermission,
	ErrIO:                 KindIO,
	ErrBadFile:            KindIO,
	ErrNotATTY:            KindSignal,
}

// ClassifyKind walks err's Unwrap chain looking for one of the sentinels
// above and reports which family it belongs to.
func ClassifyKind(err error) (Kind, bool) {
	for e, k := range kinds {
		if errors.Is(err, e) {
			return k, true
		}
	}
	return KindUnknown, false
}
