// Package kevent implements the priority-ordered interrupt/exception
// dispatcher of spec §4.B: per-vector callback chains that decide whether a
// trap resumes, reloops back into the idle path, or panics.
//
// Grounded on the teacher's processors package (processors/preprocessors.go,
// processors/processors.go): a named, registry-driven chain consulted in
// order where any link can short-circuit the rest. Here the chain is keyed
// by interrupt vector instead of preprocessor name, and ties are broken by
// registration order the way the teacher's ProcessorSet applies processors
// in declared order.
package kevent

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/litarvan/maestro-go/internal/kerrno"
	"github.com/litarvan/maestro-go/internal/kregs"
)

const (
	// VectorCount mirrors the x86 IDT: 256 entries, vectors 0-31 reserved
	// for CPU exceptions.
	VectorCount = 256
	// FirstDeviceVector is the first vector that is not a CPU exception.
	FirstDeviceVector = 32
	// maxCallbacksPerVector bounds registration the way a real kernel's
	// fixed-size allocator would; Register reports resource exhaustion
	// past this rather than growing unbounded.
	maxCallbacksPerVector = 256
)

// Action is the post-dispatch decision a callback chain settles on.
type Action int

const (
	ActionResume Action = iota
	ActionReloop
	ActionPanic
)

func (a Action) String() string {
	switch a {
	case ActionResume:
		return "resume"
	case ActionReloop:
		return "reloop"
	case ActionPanic:
		return "panic"
	}
	return "unknown"
}

// Decision is what a single callback returns: the action it wants to take
// effect (overwriting whatever the chain had decided so far) and whether
// dispatch should stop consulting lower-priority callbacks.
type Decision struct {
	SkipRest bool
	Action   Action
}

// Callback is invoked once per matching vector trigger. code is the
// hardware error code (0 if the vector has none); regs is the trapped
// state; ring is the privilege level interrupted code was running at.
type Callback func(vector int, code uint32, regs kregs.Snapshot, ring kregs.Ring) Decision

// PIC acknowledges the interrupt controller so it will deliver further
// interrupts of the same or lower priority.
type PIC interface {
	EOI(vector int)
}

// IdleEnterer models "reset the stack to the per-CPU scratch area and enter
// the idle loop" — the Reloop action's second half.
type IdleEnterer interface {
	EnterIdle()
}

// Panicker is handed a human-readable reason derived from the vector that
// triggered it.
type Panicker interface {
	Panic(reason string)
}

type registration struct {
	id       uint64
	priority int
	seq      uint64
	cb       Callback
}

// Hook is the RAII-style handle Register returns. Closing it unregisters
// the callback; Close is idempotent.
type Hook struct {
	d      *Dispatcher
	vector int
	id     uint64
	closed int32
}

// Close unregisters the callback. Safe to call more than once.
func (h *Hook) Close() {
	if !atomic.CompareAndSwapInt32(&h.closed, 0, 1) {
		return
	}
	h.d.unregister(h.vector, h.id)
}

// Dispatcher owns, per vector, an ordered list of registered callbacks.
type Dispatcher struct {
	// mtx guards the callback lists and re-entrancy flags. Dispatch
	// releases it before running a chain, which runs on a copy of the
	// list, so it is not held while callbacks execute.
	mtx     sync.Mutex
	vectors [VectorCount][]registration
	seq     uint64
	nextID  uint64

	pic  PIC
	idle IdleEnterer
	pan  Panicker

	dispatching [VectorCount]bool // re-entrancy guard, one per vector

	panicLimiter *rate.Limiter // nil means unthrottled
}

// New creates a dispatcher. pic/idle/pan may each be nil; Dispatch skips
// the EOI, idle entry or panic report whose collaborator is nil.
func New(pic PIC, idle IdleEnterer, pan Panicker) *Dispatcher {
	return &Dispatcher{pic: pic, idle: idle, pan: pan}
}

// SetPanicRateLimit bounds how often the Panicker is invoked, so a vector
// that fires repeatedly in a storm (e.g. a broken device re-raising the
// same exception every cycle) can't livelock the log sink behind it. A
// Dispatcher with no limit set (the default) never throttles.
func (d *Dispatcher) SetPanicRateLimit(r rate.Limit, burst int) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.panicLimiter = rate.NewLimiter(r, burst)
}

// Register inserts cb into vector's chain, respecting descending priority
// with ties broken by insertion order, and returns a hook to unregister it.
func (d *Dispatcher) Register(vector int, priority int, cb Callback) (*Hook, error) {
	if vector < 0 || vector >= VectorCount {
		return nil, kerrno.ErrInvalidArgument
	}
	if cb == nil {
		return nil, kerrno.ErrInvalidArgument
	}

	d.mtx.Lock()
	defer d.mtx.Unlock()

	list := d.vectors[vector]
	if len(list) >= maxCallbacksPerVector {
		return nil, kerrno.ErrNoMemory
	}

	d.nextID++
	id := d.nextID
	d.seq++
	reg := registration{id: id, priority: priority, seq: d.seq, cb: cb}

	// insertion sort: higher priority first, ties keep arrival order.
	idx := len(list)
	for i, r := range list {
		if priority > r.priority {
			idx = i
			break
		}
	}
	list = append(list, registration{})
	copy(list[idx+1:], list[idx:])
	list[idx] = reg
	d.vectors[vector] = list

	return &Hook{d: d, vector: vector, id: id}, nil
}

func (d *Dispatcher) unregister(vector int, id uint64) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	list := d.vectors[vector]
	for i, r := range list {
		if r.id == id {
			d.vectors[vector] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Dispatch runs vector's callback chain and carries out the resulting
// action. It must be called from the trap entry point with interrupts
// already disabled; re-entering Dispatch for the same vector from within a
// callback is forbidden and panics immediately, since the whole chain is
// meant to run to completion without nested interrupts of its own vector.
func (d *Dispatcher) Dispatch(vector int, code uint32, regs kregs.Snapshot, ring kregs.Ring) Action {
	if vector < 0 || vector >= VectorCount {
		panic(fmt.Sprintf("kevent: dispatch on out-of-range vector %d", vector))
	}

	d.mtx.Lock()
	if d.dispatching[vector] {
		d.mtx.Unlock()
		panic(fmt.Sprintf("kevent: re-entrant dispatch on vector %d", vector))
	}
	d.dispatching[vector] = true
	list := make([]registration, len(d.vectors[vector]))
	copy(list, d.vectors[vector])
	d.mtx.Unlock()

	defer func() {
		d.mtx.Lock()
		d.dispatching[vector] = false
		d.mtx.Unlock()
	}()

	decision := ActionResume
	if vector < FirstDeviceVector {
		decision = ActionPanic
	}

	for _, r := range list {
		out := r.cb(vector, code, regs, ring)
		decision = out.Action
		if out.SkipRest {
			break
		}
	}

	switch decision {
	case ActionResume:
		// caller performs the iret-equivalent; nothing to do here.
	case ActionReloop:
		if d.pic != nil {
			d.pic.EOI(vector)
		}
		if d.idle != nil {
			d.idle.EnterIdle()
		}
	case ActionPanic:
		d.mtx.Lock()
		limiter := d.panicLimiter
		d.mtx.Unlock()
		if d.pan != nil && (limiter == nil || limiter.Allow()) {
			d.pan.Panic(vectorName(vector))
		}
	}
	return decision
}

var exceptionNames = [...]string{
	"Divide-by-zero Error", "Debug", "Non-maskable Interrupt", "Breakpoint",
	"Overflow", "Bound Range Exceeded", "Invalid Opcode", "Device Not Available",
	"Double Fault", "Coprocessor Segment Overrun", "Invalid TSS", "Segment Not Present",
	"Stack-Segment Fault", "General Protection Fault", "Page Fault", "Unknown",
	"x87 Floating-Point Exception", "Alignment Check", "Machine Check",
	"SIMD Floating-Point Exception", "Virtualization Exception", "Unknown", "Unknown",
	"Unknown", "Unknown", "Unknown", "Unknown", "Unknown", "Unknown", "Unknown",
	"Security Exception", "Unknown",
}

func vectorName(vector int) string {
	if vector >= 0 && vector < len(exceptionNames) {
		return exceptionNames[vector]
	}
	return fmt.Sprintf("vector %d", vector)
}
