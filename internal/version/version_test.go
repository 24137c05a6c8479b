package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	require.Equal(t, Version, Resolve())
}

func TestResolveEmptyFallsBackToZero(t *testing.T) {
	saved := Version
	defer func() { Version = saved }()

	Version = ""
	require.Equal(t, "0.0.0", Resolve())
}
