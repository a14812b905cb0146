package procfs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/litarvan/maestro-go/internal/process"
	"github.com/litarvan/maestro-go/internal/signum"
)

type stubAS struct{}

func (stubAS) Bind() {}

type stubFDs struct{}

func (stubFDs) CloseAll() error { return nil }

type fakeSnapshotter struct {
	procs []*process.Process
}

func (f *fakeSnapshotter) ForEachProcess(fn func(*process.Process)) {
	for _, p := range f.procs {
		fn(p)
	}
}

func TestSnapshotCopiesProcessFields(t *testing.T) {
	init := process.New(process.InitPid, nil, 1, stubAS{}, stubFDs{})
	init.QuantumCount = 4
	init.Pending.Add(signum.SIGTERM)

	child := process.New(2, init, 1, stubAS{}, stubFDs{})
	snap := &fakeSnapshotter{procs: []*process.Process{init, child}}

	rows := Snapshot(snap)
	require.Len(t, rows, 2)
	require.Equal(t, process.InitPid, rows[0].Pid)
	require.Equal(t, process.Pid(0), rows[0].ParentID)
	require.Equal(t, uint32(4), rows[0].Quantum)
	require.True(t, rows[0].Pending.Has(signum.SIGTERM))

	require.Equal(t, process.Pid(2), rows[1].Pid)
	require.Equal(t, process.InitPid, rows[1].ParentID)
}

func TestRenderIncludesHeaderAndRows(t *testing.T) {
	rows := []Row{
		{Pid: 1, ParentID: 0, State: process.Running, Priority: 1, Quantum: 3},
	}
	out := Render(rows)
	require.Contains(t, out, "PID")
	require.Contains(t, out, "PPID")
	require.Contains(t, out, "Running")
}

func TestRenderEmptyPendingShowsDash(t *testing.T) {
	rows := []Row{{Pid: 1, State: process.Sleeping}}
	out := Render(rows)
	require.Contains(t, out, "-")
}

func TestRenderNonEmptyPendingListsSignalNumbers(t *testing.T) {
	var pending signum.Set
	pending.Add(signum.SIGTERM)
	rows := []Row{{Pid: 1, State: process.Running, Pending: pending}}
	out := Render(rows)
	require.Contains(t, out, "15")
}
