// Package sched implements the quantum-based multi-process dispatcher of
// spec §4.C: a single global scheduler instance, initialized once at boot
// and accessed only through its own lock (spec §9's design note against
// relying on ambient statics).
//
// Grounded on the teacher's muxer.go: one struct holding a mutex-guarded
// live-connection set and a "currently hot" pointer, generalized here from
// "which ingest connection handles the next write" to "which process runs
// next".
package sched

import (
	"sync"

	"github.com/litarvan/maestro-go/internal/kevent"
	"github.com/litarvan/maestro-go/internal/klog"
	"github.com/litarvan/maestro-go/internal/kregs"
	"github.com/litarvan/maestro-go/internal/process"
)

const (
	// AvgQuanta is the quantum budget granted to a process running at the
	// average priority across the set.
	AvgQuanta = 10
	// MaxQuanta is the quantum budget granted to the highest-priority
	// process in the set.
	MaxQuanta = 30
	// tmpStackSize stands in for the 16-page scratch stack the original
	// kernel allocates per core; this kernel assumes a single core.
	tmpStackSize = 16 * 4096
)

// SignalDeliverer lets the signal engine (internal/ksignal) hook into the
// scheduler's resume path: spec §4.D says delivery happens "whenever the
// scheduler is about to resume a process", so Tick calls this right before
// handing back the snapshot it intends to resume.
type SignalDeliverer interface {
	Deliver(p *process.Process) error
}

// Scheduler is the single process-wide scheduler instance. It must be
// constructed exactly once at boot and is safe for concurrent use from the
// timer-tick path and from syscalls that mutate the process set (fork,
// exit, priority changes), all of which take the same lock.
type Scheduler struct {
	mtx sync.Mutex

	procs      *process.Set
	currentPid process.Pid
	hasCurrent bool

	tmpStack []byte

	totalTicks  uint64
	prioritySum uint64
	priorityMax uint32

	pic      kevent.PIC
	log      *klog.Ring
	signals  SignalDeliverer
	tickHook *kevent.Hook
}

// New constructs a scheduler and wires its tick handler onto the timer
// vector (0x20 / IDT vector 32) of disp at the lowest priority, matching
// the original kernel's single tick callback registration.
func New(disp *kevent.Dispatcher, pic kevent.PIC, log *klog.Ring, signals SignalDeliverer) (*Scheduler, error) {
	s := &Scheduler{
		procs:    process.NewSet(),
		tmpStack: make([]byte, tmpStackSize),
		pic:      pic,
		log:      log,
		signals:  signals,
	}
	hook, err := disp.Register(kevent.FirstDeviceVector, 0, func(vector int, code uint32, regs kregs.Snapshot, ring kregs.Ring) kevent.Decision {
		_, _, _ = s.Tick(regs, ring)
		return kevent.Decision{SkipRest: true, Action: kevent.ActionResume}
	})
	if err != nil {
		return nil, err
	}
	s.tickHook = hook
	return s, nil
}

// GetTmpStack returns the per-CPU scratch stack used to get off a process's
// stack before it can safely be freed.
func (s *Scheduler) GetTmpStack() []byte { return s.tmpStack }

// ProcessCount reports how many processes are currently tracked.
func (s *Scheduler) ProcessCount() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.procs.Len()
}

// quantumBudget implements the linear interpolation of spec §4.C: at
// Pr == average it grants AvgQuanta, at Pr == max it grants MaxQuanta,
// clamped to at least 1 tick.
func quantumBudget(priority, avg, max float64) int {
	if max <= avg {
		return AvgQuanta
	}
	budget := AvgQuanta + (priority-avg)*(MaxQuanta-AvgQuanta)/(max-avg)
	if budget < 1 {
		budget = 1
	}
	return int(budget)
}

func (s *Scheduler) budgetFor(p *process.Process) int {
	n := s.procs.Len()
	if n == 0 {
		return AvgQuanta
	}
	avg := float64(s.prioritySum) / float64(n)
	return quantumBudget(float64(p.Priority), avg, float64(s.priorityMax))
}

// AddProcess inserts p, maintaining priority_sum/priority_max (spec §4.C
// "Fork accounting").
func (s *Scheduler) AddProcess(p *process.Process) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.procs.Add(p)
	s.prioritySum += uint64(p.Priority)
	if p.Priority > s.priorityMax {
		s.priorityMax = p.Priority
	}
}

// RemoveProcess deletes pid, recomputing priority_max from the remaining
// set if the removed process held it — spec §4.C requires this symmetric
// recomputation rather than just decrementing a running max.
func (s *Scheduler) RemoveProcess(pid process.Pid) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	p, ok := s.procs.Get(pid)
	if !ok {
		return
	}
	s.procs.Remove(pid)
	s.prioritySum -= uint64(p.Priority)
	if p.Priority == s.priorityMax {
		var newMax uint32
		s.procs.ForEach(func(q *process.Process) {
			if q.Priority > newMax {
				newMax = q.Priority
			}
		})
		s.priorityMax = newMax
	}
	if s.hasCurrent && s.currentPid == pid {
		s.hasCurrent = false
	}
}

// Wait drains one reapable (Zombie) child of the process ppid, the
// original_source-supplemented wait()/zombie-reaping surface named in
// SPEC_FULL.md. It returns ok=false if ppid has no zombie child right now.
func (s *Scheduler) Wait(ppid process.Pid) (pid process.Pid, exitCode int, ok bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	parent, found := s.procs.Get(ppid)
	if !found {
		return 0, 0, false
	}
	for cid, child := range parent.Children {
		if child.State == process.Zombie {
			exitCode = child.ExitCode
			parent.ReapChild(cid)
			s.procs.Remove(cid)
			return cid, exitCode, true
		}
	}
	return 0, 0, false
}

// ForEachProcess visits every tracked process, in ascending PID order,
// under the scheduler's lock — the collaborator hook internal/procfs
// renders a snapshot through.
func (s *Scheduler) ForEachProcess(f func(*process.Process)) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.procs.ForEach(f)
}

// CurrentPid returns the presently running process, if any.
func (s *Scheduler) CurrentPid() (process.Pid, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.currentPid, s.hasCurrent
}

// Tick runs one full selection pass (spec §4.C steps 1-7). trap/ring are
// the register snapshot and privilege level captured at the timer trap
// that invoked this tick. It returns the snapshot and target ring the
// low-level trap-return glue (component A) should resume with, or
// idle==true if no process is eligible and the caller should enter the
// halt-wait idle path instead.
func (s *Scheduler) Tick(trap kregs.Snapshot, ring kregs.Ring) (next kregs.Snapshot, toUser bool, idle bool) {
	s.mtx.Lock()

	s.totalTicks++

	var previous *process.Process
	if s.hasCurrent {
		if p, ok := s.procs.Get(s.currentPid); ok {
			previous = p
			p.Lock()
			p.Snapshot = trap
			p.Syscalling = ring < kregs.RingUser // still inside a kernel syscall path
			p.Unlock()
		}
	}

	chosen := s.selectNext(previous)
	if chosen == nil {
		s.mtx.Unlock()
		if s.pic != nil {
			s.pic.EOI(kevent.FirstDeviceVector)
		}
		return kregs.Snapshot{}, false, true
	}

	if previous != nil && chosen.Pid != previous.Pid {
		previous.QuantumCount = 0
	}

	s.currentPid = chosen.Pid
	s.hasCurrent = true
	s.mtx.Unlock()

	if s.pic != nil {
		s.pic.EOI(kevent.FirstDeviceVector)
	}

	chosen.AddrSpace.Bind()

	if s.signals != nil {
		if err := s.signals.Deliver(chosen); err != nil && s.log != nil {
			s.log.Emit(klog.WARN, "sched", "signal delivery deferred for pid %d: %v", chosen.Pid, err)
		}
	}

	chosen.Lock()
	snap := chosen.Snapshot
	toUser = !chosen.Syscalling
	chosen.Unlock()

	return snap, toUser, false
}

// selectNext implements the ordered scan of spec §4.C step 4. It must be
// called with s.mtx held.
func (s *Scheduler) selectNext(previous *process.Process) *process.Process {
	pids := s.procs.SortedPids()
	if len(pids) == 0 {
		return nil
	}

	startIdx := 0
	if s.hasCurrent {
		for i, pid := range pids {
			if pid > s.currentPid {
				startIdx = i
				break
			}
			startIdx = (i + 1) % len(pids)
		}
	}

	for offset := 0; offset < len(pids); offset++ {
		idx := (startIdx + offset) % len(pids)
		p, ok := s.procs.Get(pids[idx])
		if !ok {
			continue
		}
		if p.State == process.Running && p.QuantumCount < uint32(s.budgetFor(p)) {
			p.QuantumCount++
			return p
		}
	}
	return nil
}
