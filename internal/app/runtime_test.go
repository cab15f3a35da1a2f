package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/atrium-hq/atrium/internal/testing/guard"
)

func TestInTestMode(t *testing.T) {
	// The guard import sets ATRIUM_TEST_MODE before any init in this package runs.
	require.True(t, InTestMode())

	t.Setenv("ATRIUM_TEST_MODE", "0")
	RefreshTestMode()
	require.False(t, InTestMode())

	t.Setenv("ATRIUM_TEST_MODE", "1")
	RefreshTestMode()
	require.True(t, InTestMode())
}
