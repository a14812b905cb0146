// Package procfs implements the read-only /proc-style snapshot view over
// the live process table named in spec.md's original_source supplement:
// a point-in-time render of every process's scheduling and signal state,
// for cmd/ktop and for a future syscall-level /proc without either one
// holding the scheduler lock longer than the snapshot copy itself takes.
package procfs

import (
	"fmt"
	"strings"

	"github.com/litarvan/maestro-go/internal/process"
	"github.com/litarvan/maestro-go/internal/signum"
)

// Snapshotter is the narrow view this package needs of the scheduler: the
// ability to walk every tracked process under its own lock.
type Snapshotter interface {
	ForEachProcess(f func(*process.Process))
}

// Row is one process's rendered snapshot line.
type Row struct {
	Pid      process.Pid
	ParentID process.Pid
	State    process.State
	Priority uint32
	Quantum  uint32
	Pending  signum.Set
	BootID   string
}

// Snapshot walks every process tracked by s and returns a Row per
// process, ordered by PID (the same order Set.ForEach already walks in).
func Snapshot(s Snapshotter) []Row {
	var rows []Row
	s.ForEachProcess(func(p *process.Process) {
		p.Lock()
		rows = append(rows, Row{
			Pid:      p.Pid,
			ParentID: p.ParentID,
			State:    p.State,
			Priority: p.Priority,
			Quantum:  p.QuantumCount,
			Pending:  p.Pending,
			BootID:   p.BootUUID.String(),
		})
		p.Unlock()
	})
	return rows
}

// Render formats rows the way a /proc/<pid>/status line would: one
// process per line, fixed fields in a stable order.
func Render(rows []Row) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s %-6s %-9s %-4s %-4s %s\n", "PID", "PPID", "STATE", "PRIO", "QNT", "PENDING")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-6d %-6d %-9s %-4d %-4d %s\n",
			r.Pid, r.ParentID, r.State, r.Priority, r.Quantum, pendingString(r.Pending))
	}
	return b.String()
}

func pendingString(set signum.Set) string {
	if set.Empty() {
		return "-"
	}
	var names []string
	for n := signum.Min; n <= signum.Max; n++ {
		if set.Has(n) {
			names = append(names, fmt.Sprintf("%d", n))
		}
	}
	return strings.Join(names, ",")
}
