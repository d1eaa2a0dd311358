package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withMachineIDPaths(t *testing.T, paths ...string) {
	t.Helper()
	saved := machineIDPaths
	machineIDPaths = paths
	t.Cleanup(func() { machineIDPaths = saved })
}

func TestDeriveHWIDFromMachineID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "machine-id")
	require.NoError(t, os.WriteFile(path, []byte("0123456789abcdef\n"), 0644))
	withMachineIDPaths(t, filepath.Join(dir, "missing"), path)

	hwid, err := DeriveHWID()
	require.NoError(t, err)
	assert.Equal(t, hashIdentifier("0123456789abcdef"), hwid)
	assert.Len(t, hwid, 64)

	// Stable across calls
	again, err := DeriveHWID()
	require.NoError(t, err)
	assert.Equal(t, hwid, again)
}

func TestDeriveHWIDFallsBackToHostname(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "machine-id")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0644))
	withMachineIDPaths(t, empty)

	host, err := os.Hostname()
	require.NoError(t, err)

	hwid, err := DeriveHWID()
	require.NoError(t, err)
	assert.Equal(t, hashIdentifier(host), hwid)
}
