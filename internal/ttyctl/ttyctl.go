// Package ttyctl implements the §6 allowlist of ioctl requests the (out of
// scope) TTY device handle forwards to the real terminal driver: every
// other request is rejected before it ever reaches that driver. The
// numeric request codes come from golang.org/x/sys/unix rather than being
// hand-copied, the same way the teacher pulls platform syscall constants
// from an x/sys package instead of redeclaring them.
package ttyctl

import (
	"golang.org/x/sys/unix"

	"github.com/litarvan/maestro-go/internal/kerrno"
)

// Request is one of the fixed set of ioctl requests the TTY handle
// forwards; any other numeric request is rejected by Allowed.
type Request uintptr

const (
	TCGETS    Request = unix.TCGETS
	TCSETS    Request = unix.TCSETS
	TCSETSW   Request = unix.TCSETSW
	TCSETSF   Request = unix.TCSETSF
	TIOCGPGRP Request = unix.TIOCGPGRP
	TIOCSPGRP Request = unix.TIOCSPGRP
	TIOCGWINSZ Request = unix.TIOCGWINSZ
	TIOCSWINSZ Request = unix.TIOCSWINSZ
)

var allowed = map[Request]bool{
	TCGETS: true, TCSETS: true, TCSETSW: true, TCSETSF: true,
	TIOCGPGRP: true, TIOCSPGRP: true, TIOCGWINSZ: true, TIOCSWINSZ: true,
}

// Allowed reports whether req is one of the forwarded requests.
func Allowed(req Request) bool {
	return allowed[req]
}

// Check returns kerrno.ErrInvalidArgument for any request outside the
// forwarded allowlist, matching §6's "any other request fails with
// InvalidArgument".
func Check(req Request) error {
	if !Allowed(req) {
		return kerrno.ErrInvalidArgument
	}
	return nil
}
