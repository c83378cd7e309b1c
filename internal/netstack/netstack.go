// Package netstack is the Network Collaborator (C6): the only component
// that touches a real socket. It offers the two operations the wasm host
// bridge's tcp_request and resolve_dns syscalls need. Grounded on
// original_source/src/dns.rs (resolve) and the teacher's
// internal/svc/tcp/tcp_service.go's connect path, simplified to match the
// spec's Non-goal of a real TCP/IP stack: the kernel never keeps the
// connection open for data exchange, it performs one connect-or-fail
// attempt and immediately closes ("SYN emission", per spec §4.6).
package netstack

import (
	"context"
	"fmt"
	"net"
	"time"

	mvdns "microvisor/internal/dns"
)

const defaultDialTimeout = 3 * time.Second

// Stack is the C6 component. It holds no sockets across calls; every
// operation is dial-or-resolve-then-return.
type Stack struct {
	dialer *net.Dialer
}

func New() *Stack {
	return &Stack{dialer: &net.Dialer{Timeout: defaultDialTimeout}}
}

// ConnectTCP attempts a one-shot TCP connect to host:port and immediately
// closes the connection, reporting only success/failure. This is
// deliberately not a byte-streaming API: the spec's tcp_request syscall
// only ever needs to know whether the remote accepted the SYN.
func (s *Stack) ConnectTCP(ctx context.Context, host string, port uint16) error {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("netstack: connect to %s failed: %w", addr, err)
	}
	return conn.Close()
}

// ResolveDNS resolves domain to an IPv4 address via the dns package.
func (s *Stack) ResolveDNS(domain string) ([4]byte, error) {
	return mvdns.Resolve(domain)
}

// ResolveDNSVia resolves domain against a specific server, for tests and
// deployments outside the QEMU SLIRP default.
func (s *Stack) ResolveDNSVia(server, domain string) ([4]byte, error) {
	return mvdns.ResolveVia(server, domain)
}
