package kerrno

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyKindDirect(t *testing.T) {
	kind, ok := ClassifyKind(ErrNoSpace)
	require.True(t, ok)
	require.Equal(t, KindResource, kind)

	kind, ok = ClassifyKind(ErrNotFound)
	require.True(t, ok)
	require.Equal(t, KindLookup, kind)
}

func TestClassifyKindWrapped(t *testing.T) {
	wrapped := fmt.Errorf("opening inode: %w", ErrPermissionDenied)
	kind, ok := ClassifyKind(wrapped)
	require.True(t, ok)
	require.Equal(t, KindPermission, kind)
}

func TestClassifyKindUnknown(t *testing.T) {
	_, ok := ClassifyKind(fmt.Errorf("some unrelated error"))
	require.False(t, ok)
}
