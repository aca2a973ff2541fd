package port

import (
	"fmt"
	"io"
	"net"
)

// Scanner answers "is this port free?" for the dashboard port range by
// asking the OS to bind the port and releasing it straight away. Nothing
// is parsed from /proc or netstat, so the answer is the same one the
// dashboard's own bind will get a moment later (barring a race with
// another process).
//
// The struct carries no state today. Callers hold a *Scanner so that the
// launcher can be given one in tests and so a bind address can be added
// later without changing call sites.
type Scanner struct{}

// NewScanner creates a new Scanner instance.
func NewScanner() *Scanner {
	return &Scanner{}
}

// IsPortAvailable reports whether port can be bound for protocol ("tcp"
// or "udp").
//
// The check binds ":port", every interface, because a Dash server started
// with host 0.0.0.0 needs the port on all of them; a port that is only
// free on 127.0.0.1 would still make it fail.
//
// It returns false for a port in use, an out-of-range port, or any other
// protocol.
func (s *Scanner) IsPortAvailable(port int, protocol string) bool {
	addr := fmt.Sprintf(":%d", port)

	var (
		c   io.Closer
		err error
	)
	switch protocol {
	case "tcp":
		c, err = net.Listen("tcp", addr)
	case "udp":
		// UDP has no listener; a bound PacketConn holds the port instead.
		c, err = net.ListenPacket("udp", addr)
	default:
		return false
	}
	if err != nil {
		// Typically EADDRINUSE, but EACCES for privileged ports counts as
		// unavailable too.
		return false
	}
	_ = c.Close()
	return true
}

// FindAvailablePort returns the first port in [startPort, endPort]
// (inclusive) that IsPortAvailable accepts for protocol.
//
// Ports are tried in ascending order, so repeated launches land on the
// same port for as long as it stays free and a bookmarked dashboard URL
// keeps working.
func (s *Scanner) FindAvailablePort(startPort, endPort int, protocol string) (int, error) {
	for port := startPort; port <= endPort; port++ {
		if s.IsPortAvailable(port, protocol) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available %s port found in range %d-%d", protocol, startPort, endPort)
}

// PickDashboardPort chooses the port handed to the dashboard from the
// configured range [startPort, endPort), end exclusive as in the config
// file.
//
// When every port is taken it still returns startPort with free=false:
// the dashboard is started anyway and its own "address already in use"
// error tells the user what is wrong. A range with endPort <= startPort
// means "always startPort".
func (s *Scanner) PickDashboardPort(startPort, endPort int) (port int, free bool) {
	if endPort <= startPort {
		return startPort, s.IsPortAvailable(startPort, "tcp")
	}
	p, err := s.FindAvailablePort(startPort, endPort-1, "tcp")
	if err != nil {
		return startPort, false
	}
	return p, true
}

// GetUsedPorts returns the TCP ports in [startPort, endPort] (inclusive)
// that cannot be bound. `dashlaunch status` prints them so a user can see
// what else occupies the dashboard range, including earlier dashboards
// that are still running.
func (s *Scanner) GetUsedPorts(startPort, endPort int) []int {
	var used []int
	for port := startPort; port <= endPort; port++ {
		if !s.IsPortAvailable(port, "tcp") {
			used = append(used, port)
		}
	}
	return used
}
