package testutil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// FreePort returns a loopback TCP port that was free when checked.
func FreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
