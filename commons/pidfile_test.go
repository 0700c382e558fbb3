package commons

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPidfileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kraken.pid")

	require.NoError(t, WritePidfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(b)))

	RemovePidfile(path)
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestPidfileEmptyPath(t *testing.T) {
	require.NoError(t, WritePidfile(""))
	RemovePidfile("")
}

func TestRemovePidfileForeignPid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kraken.pid")
	require.NoError(t, os.WriteFile(path, []byte("1\n"), 0644))

	// A pidfile belonging to another process must survive.
	RemovePidfile(path)
	_, err := os.Stat(path)
	require.NoError(t, err)
}
