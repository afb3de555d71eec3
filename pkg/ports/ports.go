package ports

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// IsListening reports whether something accepts TCP connections on the
// given localhost port within the timeout. It says nothing about what
// protocol the listener speaks.
func IsListening(port int, timeout time.Duration) bool {
	if !Valid(port) {
		return false
	}
	conn, err := net.DialTimeout("tcp", Addr(port), timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Valid reports whether port is a usable TCP port number.
func Valid(port int) bool {
	return port > 0 && port <= 65535
}

// Addr returns the localhost dial address for a port.
func Addr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

// FindAvailable finds a free port starting from startPort, scanning upward.
// Used by the HTTP serving mode when the requested port is taken.
func FindAvailable(startPort int) (int, error) {
	for port := startPort; port <= startPort+100 && port <= 65535; port++ {
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			continue
		}
		listener.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no available port in range %d-%d", startPort, startPort+100)
}
