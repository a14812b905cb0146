package signum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidRange(t *testing.T) {
	require.True(t, SIGHUP.Valid())
	require.True(t, SIGIO.Valid())
	require.False(t, Num(0).Valid())
	require.False(t, Num(30).Valid())
	require.False(t, SIGSYS.Valid()) // outside the 1..29 table range
}

func TestUncatchable(t *testing.T) {
	require.True(t, SIGKILL.Uncatchable())
	require.True(t, SIGSTOP.Uncatchable())
	require.True(t, SIGSEGV.Uncatchable())
	require.True(t, SIGSYS.Uncatchable())
	require.False(t, SIGTERM.Uncatchable())
}

func TestDefaultActionTable(t *testing.T) {
	require.Equal(t, ActionIgnore, SIGCHLD.DefaultAction())
	require.Equal(t, ActionStop, SIGSTOP.DefaultAction())
	require.Equal(t, ActionContinue, SIGCONT.DefaultAction())
	require.Equal(t, ActionAbort, SIGSEGV.DefaultAction())
	require.Equal(t, ActionTerminate, SIGTERM.DefaultAction())
}

func TestNewHandlerTableAllDefault(t *testing.T) {
	tbl := NewHandlerTable()
	for i := Min; i <= Max; i++ {
		require.Equal(t, HandlerDefault, tbl[i].Kind)
	}
}

func TestSetOperations(t *testing.T) {
	var s Set
	require.True(t, s.Empty())

	s.Add(SIGINT)
	s.Add(SIGTERM)
	require.True(t, s.Has(SIGINT))
	require.False(t, s.Has(SIGKILL))

	lowest, ok := s.Lowest()
	require.True(t, ok)
	require.Equal(t, SIGINT, lowest)

	s.Remove(SIGINT)
	require.False(t, s.Has(SIGINT))

	var other Set
	other.Add(SIGUSR1)
	union := s.Union(other)
	require.True(t, union.Has(SIGTERM))
	require.True(t, union.Has(SIGUSR1))
}

func TestLowestEmptySet(t *testing.T) {
	var s Set
	_, ok := s.Lowest()
	require.False(t, ok)
}
