// Package ksignal implements POSIX signal delivery, default-action
// semantics, and the user-space handler trampoline contract of spec §4.D.
package ksignal

import (
	"github.com/litarvan/maestro-go/internal/kerrno"
	"github.com/litarvan/maestro-go/internal/klog"
	"github.com/litarvan/maestro-go/internal/kregs"
	"github.com/litarvan/maestro-go/internal/process"
	"github.com/litarvan/maestro-go/internal/signum"
)

// Trampoline is the fixed, read-only instruction sequence spec §6 mandates
// be mapped into every process's address space. It reads signo/handler off
// the stack the kernel prepared, calls the handler, then issues the
// sigreturn syscall, which never returns.
//
//	mov signo,   [esp]
//	mov handler, [esp+4]
//	call handler
//	mov eax, SigreturnSyscallNumber
//	int 0x80
var Trampoline = []byte{
	0x8B, 0x04, 0x24, // mov eax, [esp]        (signo -> arg register surrogate)
	0x8B, 0x5C, 0x24, 0x04, // mov ebx, [esp+4] (handler address)
	0xFF, 0xD3, // call ebx
	0xB8, 0x77, 0x00, 0x00, 0x00, // mov eax, SigreturnSyscallNumber (0x77)
	0xCD, 0x80, // int 0x80
}

// SigreturnSyscallNumber is the syscall number the trampoline invokes;
// sigreturn takes no arguments and never returns normally (spec §6).
const SigreturnSyscallNumber = 0x77

// UserMemory is the narrow slice of the (out-of-scope, per spec §1) virtual
// address-space backend the signal engine needs: the ability to write the
// two machine words the trampoline expects at [sp-8].
type UserMemory interface {
	WriteWords(addr uint32, words []uint32) error
}

// MemoryBackend resolves a process to its UserMemory view.
type MemoryBackend interface {
	For(p *process.Process) UserMemory
}

// StackAllocator resolves the user stack pointer a handler frame should be
// written at: the process's normal user stack, unless an alternate signal
// stack has been configured for it.
type StackAllocator interface {
	HandlerStackPointer(p *process.Process) (uint32, error)
}

// Waker is notified when a process becomes a zombie so its parent can be
// woken from wait(); it is optional (nil is fine for callers that poll).
type Waker interface {
	WakeParent(parentPid process.Pid)
}

// Engine owns the collaborators needed to carry out spec §4.D's delivery
// algorithm against a live process.
type Engine struct {
	mem        MemoryBackend
	stacks     StackAllocator
	waker      Waker
	log        *klog.Ring
	trampoline uint32
}

// New builds a signal engine. trampolineAddr is the address the per-process
// trampoline page is mapped at (identical across all processes).
func New(mem MemoryBackend, stacks StackAllocator, waker Waker, log *klog.Ring, trampolineAddr uint32) *Engine {
	return &Engine{mem: mem, stacks: stacks, waker: waker, log: log, trampoline: trampolineAddr}
}

// Raise queues sig as pending on p. Delivery happens later, the next time
// the scheduler is about to resume p (Deliver). SIGSYS is accepted but not
// queued, since it has no slot in the 1..Max table.
func (e *Engine) Raise(p *process.Process, sig signum.Num) error {
	if !sig.Valid() && sig != signum.SIGSYS {
		return kerrno.ErrInvalidArgument
	}
	p.Lock()
	defer p.Unlock()
	if sig.Valid() {
		p.Pending.Add(sig)
	}
	return nil
}

// Deliver implements spec §4.D's full delivery algorithm: pick the lowest
// pending signal, determine its action, and either drop it, apply a
// default action, or install a trampoline frame and redirect the process's
// snapshot to run the user handler. It is called by the scheduler
// immediately before a process is resumed.
func (e *Engine) Deliver(p *process.Process) error {
	p.Lock()
	defer p.Unlock()

	if p.State == process.Zombie {
		return nil
	}
	if p.IsHandling {
		return nil
	}
	sig, ok := p.Pending.Lowest()
	if !ok {
		return nil
	}
	p.Pending.Remove(sig)

	entry := p.Handlers[sig]
	useDefault := sig.Uncatchable() || entry.Kind == signum.HandlerDefault
	useIgnore := !sig.Uncatchable() && entry.Kind == signum.HandlerIgnore

	switch {
	case useIgnore:
		return nil
	case useDefault:
		if p.Pid == process.InitPid && !sig.Uncatchable() {
			// catchable signals are no-ops on the init process
			return nil
		}
		e.applyDefault(p, sig)
		return nil
	default: // HandlerUser
		return e.installHandler(p, sig, entry.Action)
	}
}

func (e *Engine) applyDefault(p *process.Process, sig signum.Num) {
	switch sig.DefaultAction() {
	case signum.ActionTerminate, signum.ActionAbort:
		p.ExitCode = 128 + int(sig)
		p.State = process.Zombie
		if e.waker != nil {
			e.waker.WakeParent(p.ParentID)
		}
		if e.log != nil {
			e.log.Emit(klog.INFO, "sig", "pid %d terminated by signal %d, exit code %d", p.Pid, sig, p.ExitCode)
		}
	case signum.ActionStop:
		if p.State == process.Running {
			p.State = process.Stopped
		}
	case signum.ActionContinue:
		if p.State == process.Stopped {
			p.State = process.Running
		}
	case signum.ActionIgnore:
		// nothing to do
	}
}

func (e *Engine) installHandler(p *process.Process, sig signum.Num, sa signum.SigAction) error {
	sp, err := e.stacks.HandlerStackPointer(p)
	if err != nil {
		// OOM: re-queue and let the caller retry on a later resume,
		// spec §4.D's "synchronous point at which the process may block".
		p.Pending.Add(sig)
		return err
	}
	frameSp := sp - 8

	if e.mem != nil {
		mem := e.mem.For(p)
		if mem != nil {
			if err := mem.WriteWords(frameSp, []uint32{uint32(sig), sa.Handler}); err != nil {
				p.Pending.Add(sig)
				return err
			}
		}
	}

	saved := p.Snapshot
	p.SavedSnapshot = &saved
	p.IsHandling = true
	p.HandlerBlockMask = sa.Mask.Union(singleton(sig))
	p.Snapshot = p.Snapshot.WithEntry(e.trampoline).WithStack(frameSp)
	return nil
}

// Sigreturn implements the sigreturn syscall: it restores the pre-handler
// snapshot exactly (including flags), clears is_handling, and resumes at
// the original instruction pointer with the original stack.
func (e *Engine) Sigreturn(p *process.Process) (kregs.Snapshot, error) {
	p.Lock()
	defer p.Unlock()
	if !p.IsHandling || p.SavedSnapshot == nil {
		return kregs.Snapshot{}, kerrno.ErrInvalidArgument
	}
	restored := *p.SavedSnapshot
	p.Snapshot = restored
	p.SavedSnapshot = nil
	p.IsHandling = false
	p.HandlerBlockMask = 0
	return restored, nil
}

func singleton(n signum.Num) signum.Set {
	var s signum.Set
	s.Add(n)
	return s
}
