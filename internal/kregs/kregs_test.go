package kregs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCaptureStampsRing(t *testing.T) {
	snap := Capture(Snapshot{EIP: 0x1000}, RingUser)
	require.Equal(t, RingUser, snap.Ring)
	require.Equal(t, uint32(0x1000), snap.EIP)
}

func TestWithStackAndEntryDoNotMutateOriginal(t *testing.T) {
	base := Snapshot{ESP: 1, EIP: 2}
	moved := base.WithStack(99).WithEntry(100)

	require.Equal(t, uint32(1), base.ESP)
	require.Equal(t, uint32(2), base.EIP)
	require.Equal(t, uint32(99), moved.ESP)
	require.Equal(t, uint32(100), moved.EIP)
}

type recordingResumer struct {
	kernelCalls, userCalls int
}

func (r *recordingResumer) ResumeKernel(Snapshot) { r.kernelCalls++ }
func (r *recordingResumer) ResumeUser(Snapshot)   { r.userCalls++ }

func TestSwitchPanicsWhenResumerReturns(t *testing.T) {
	r := &recordingResumer{}
	require.Panics(t, func() {
		Switch(Snapshot{}, true, r)
	})
	require.Equal(t, 1, r.userCalls)
	require.Equal(t, 0, r.kernelCalls)
}

func TestStackSwitchPanicsOnEmptyStack(t *testing.T) {
	require.Panics(t, func() {
		StackSwitch(nil, func() {})
	})
}

func TestStackSwitchRunsClosure(t *testing.T) {
	ran := false
	StackSwitch(make([]byte, 16), func() { ran = true })
	require.True(t, ran)
}
