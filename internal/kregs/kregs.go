// Package kregs implements the register snapshot and context-switch
// primitives of spec §4.A. A Snapshot is a value type that fully determines
// where and how a trapped path resumes; Switch and StackSwitch model the
// two low-level operations built on top of it.
//
// There is no real CPU here, so Capture does not read hardware state: it is
// handed the values the trap entry point observed, and Switch/StackSwitch
// hand control to a caller-supplied resume function instead of executing a
// real iret. Switch keeps the never-returns contract; StackSwitch runs its
// closure on the caller's own goroutine stack, without switching stacks.
package kregs

import "fmt"

// Ring is the x86 privilege level a Snapshot was captured at or must resume
// into. Only 0 (kernel) and 3 (user) are meaningful to this kernel.
type Ring uint8

const (
	RingKernel Ring = 0
	RingUser   Ring = 3
)

// Snapshot holds every architecturally visible register needed to resume
// execution at an arbitrary privilege level, plus the ring it was captured
// at. The instruction pointer and stack pointer must always be consistent
// with Ring: a Snapshot with Ring==RingUser but a kernel-range EIP is an
// invariant violation the caller introduced, not one Snapshot can prevent.
type Snapshot struct {
	EAX, EBX, ECX, EDX uint32
	ESI, EDI, EBP, ESP uint32
	EIP                uint32
	EFlags             uint32
	CS, SS, DS, ES, FS, GS uint32
	Ring               Ring
}

// Capture packages the register values observed by the trap entry point
// into a Snapshot. Real trap entries call this with whatever the CPU pushed
// onto the stack; this harness calls it with the equivalent explicit
// values.
func Capture(regs Snapshot, ring Ring) Snapshot {
	regs.Ring = ring
	return regs
}

// WithStack returns a copy of snap with the stack pointer replaced, used
// when installing a signal-handler frame (spec §4.D step 5) without
// disturbing the rest of the saved register state.
func (s Snapshot) WithStack(esp uint32) Snapshot {
	s.ESP = esp
	return s
}

// WithEntry returns a copy of snap with EIP replaced, used to redirect
// resumption at the signal trampoline or at a fresh process entry point.
func (s Snapshot) WithEntry(eip uint32) Snapshot {
	s.EIP = eip
	return s
}

// Resumer is the low-level interface Switch hands control to. A real kernel
// implements this with inline assembly that reloads segment selectors and
// executes iret (ResumeUser) or just pops the trap frame (ResumeKernel);
// in this harness the only implementation is in the package's tests.
type Resumer interface {
	ResumeKernel(Snapshot)
	ResumeUser(Snapshot)
}

// Switch resumes execution from snap. If toUser is true the privilege
// transition to ring 3 is performed and user segment selectors are
// reloaded; otherwise control returns to the kernel context. Switch never
// returns: a Resumer whose ResumeKernel/ResumeUser implementation returns
// has violated the contract (real iret cannot "return" either), and Switch
// panics rather than silently falling through.
func Switch(snap Snapshot, toUser bool, r Resumer) {
	if toUser {
		r.ResumeUser(snap)
	} else {
		r.ResumeKernel(snap)
	}
	panic(fmt.Sprintf("kregs: Switch resumer returned (toUser=%v, eip=%#x)", toUser, snap.EIP))
}

// StackSwitch models the hand-off onto the scratch stack tmpStack: it
// panics if tmpStack is empty and otherwise calls closure synchronously
// on the current goroutine. The stack is not actually replaced and
// tmpStack is not passed to closure. The scratch buffer itself is owned
// by the caller (typically a per-CPU allocation made once at boot).
func StackSwitch(tmpStack []byte, closure func()) {
	if len(tmpStack) == 0 {
		panic("kregs: StackSwitch given an empty scratch stack")
	}
	closure()
}
