package netutil

import (
	"fmt"
	"net"
	"time"
)

// ErrProbeTimeout is returned when a port does not accept connections
// within the probe window.
var ErrProbeTimeout = fmt.Errorf("readiness probe timed out")

// WaitForPort polls a loopback TCP port at the given interval until it
// accepts a connection or the timeout elapses. The successful probe
// connection is closed immediately; it exists only to observe readiness.
func WaitForPort(port int, interval, timeout time.Duration) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(timeout)

	for {
		conn, err := net.DialTimeout("tcp", addr, interval)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: port %d after %s", ErrProbeTimeout, port, timeout)
		}
		time.Sleep(interval)
	}
}
