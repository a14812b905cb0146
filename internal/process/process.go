// Package process implements the data model of spec §3: the Process
// record and the process set the scheduler owns. Everything outside this
// core (address-space backend, FD table contents, ELF loading) is modeled
// as an opaque handle, per spec §1's external-collaborator boundary.
package process

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/litarvan/maestro-go/internal/kregs"
	"github.com/litarvan/maestro-go/internal/signum"
)

// Pid is a unique positive process identifier.
type Pid uint32

// InitPid is the PID of the init process, loaded per spec §6's init
// process contract. Catchable signals default-acting on init are no-ops
// (spec §4.D step 4).
const InitPid Pid = 1

// State is one of the four lifecycle states a process can occupy.
type State int

const (
	Running State = iota
	Sleeping
	Stopped
	Zombie
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Sleeping:
		return "Sleeping"
	case Stopped:
		return "Stopped"
	case Zombie:
		return "Zombie"
	}
	return "Unknown"
}

// AddressSpace is the opaque virtual-memory handle spec §1 places out of
// scope for this core; the scheduler only ever binds/unbinds it.
type AddressSpace interface {
	Bind()
}

// FDTable is the opaque per-process file-descriptor table; its contents
// are owned by the (out of scope) file-cache layer.
type FDTable interface {
	CloseAll() error
}

// CloneFlags controls what a child shares with its parent on creation —
// the clone(2) flag surface named in spec.md's original_source supplement,
// kept distinct from any general user-space threading library (out of
// scope per §1's Non-goals).
type CloneFlags uint32

const (
	CloneVM CloneFlags = 1 << iota
	CloneFS
	CloneFiles
	CloneSighand
)

// Process is one schedulable unit. Parent is a non-owning (weak) back
// reference; Children owns its entries and is cleared as each child is
// reaped.
type Process struct {
	mtx sync.Mutex

	Pid      Pid
	BootUUID uuid.UUID // random per-process ID stamped at creation, copied into procfs.Row.BootID

	State        State
	Priority     uint32
	QuantumCount uint32

	Snapshot   kregs.Snapshot
	Syscalling bool

	AddrSpace AddressSpace
	FDs       FDTable

	Handlers         [signum.Max + 1]signum.HandlerEntry
	Pending          signum.Set
	SavedSnapshot    *kregs.Snapshot
	IsHandling       bool
	HandlerBlockMask signum.Set

	ExitCode   int
	CloneFlags CloneFlags

	Parent   *Process
	ParentID Pid
	Children map[Pid]*Process
}

// New creates a process with every signal at its default disposition and
// an empty child set. parent may be nil only for the init process.
func New(pid Pid, parent *Process, priority uint32, as AddressSpace, fds FDTable) *Process {
	p := &Process{
		Pid:      pid,
		BootUUID: uuid.New(),
		State:    Running,
		Priority: priority,
		AddrSpace: as,
		FDs:      fds,
		Handlers: signum.NewHandlerTable(),
		Parent:   parent,
		Children: make(map[Pid]*Process),
	}
	if parent != nil {
		p.ParentID = parent.Pid
	}
	return p
}

// Lock/Unlock guard mutation of a single process's mutable fields
// (register snapshot, signal state) independent of the scheduler's
// process-set lock, matching spec §5's note that register-snapshot writes
// are totally ordered by a lock but per-process bookkeeping (e.g. signal
// queries from another syscall path) should not have to take the whole
// set's lock to read one process.
func (p *Process) Lock()   { p.mtx.Lock() }
func (p *Process) Unlock() { p.mtx.Unlock() }

// AddChild registers child as an owned entry and points its weak parent
// reference back at p.
func (p *Process) AddChild(child *Process) {
	child.Parent = p
	child.ParentID = p.Pid
	p.Children[child.Pid] = child
}

// ReapChild removes pid from p's owned children, called once the parent
// has observed (and consumed) the child's Zombie exit status.
func (p *Process) ReapChild(pid Pid) {
	delete(p.Children, pid)
}

// Set is the scheduler's PID -> Process map. It is not internally
// synchronized: per spec §4.C, the scheduler serializes all access with its
// own interrupt-disabling lock, so Set's methods assume the caller already
// holds it.
type Set struct {
	procs map[Pid]*Process
}

// NewSet creates an empty process set.
func NewSet() *Set {
	return &Set{procs: make(map[Pid]*Process)}
}

func (s *Set) Add(p *Process)             { s.procs[p.Pid] = p }
func (s *Set) Remove(pid Pid)             { delete(s.procs, pid) }
func (s *Set) Get(pid Pid) (*Process, bool) { p, ok := s.procs[pid]; return p, ok }
func (s *Set) Len() int                   { return len(s.procs) }

// SortedPids returns every live PID in ascending order, the key order the
// scheduler's round-robin scan walks.
func (s *Set) SortedPids() []Pid {
	out := make([]Pid, 0, len(s.procs))
	for pid := range s.procs {
		out = append(out, pid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ForEach visits every process in ascending PID order.
func (s *Set) ForEach(f func(*Process)) {
	for _, pid := range s.SortedPids() {
		f(s.procs[pid])
	}
}
