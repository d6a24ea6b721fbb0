package netutil

import (
	"fmt"
	"net"
)

// AllocatePort reserves a free ephemeral TCP port by binding a loopback
// listener to port 0 and reading back the OS-assigned port. The listener
// is closed before returning, so the reservation is advisory: another
// process could grab the port before the caller binds it. Callers are
// expected to use the port promptly.
func AllocatePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to allocate port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
