package socket

import (
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
)

// ListenOptions tunes the listening socket
type ListenOptions struct {
	Backlog   int
	ReusePort bool
}

// Listener is a non-blocking listening TCP socket
type Listener struct {
	fd     int
	addr   *net.TCPAddr
	closed bool
}

// Listen binds a non-blocking TCP listener on host:port. Port 0 picks a free port.
func Listen(host string, port int, opts ListenOptions) (*Listener, error) {
	laddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return nil, fmt.Errorf("socket: resolve %s:%d: %w", host, port, err)
	}

	family := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := laddr.IP.To4(); ip4 != nil || laddr.IP == nil {
		addr := &unix.SockaddrInet4{Port: laddr.Port}
		if ip4 != nil {
			copy(addr.Addr[:], ip4)
		}
		sa = addr
	} else {
		family = unix.AF_INET6
		addr := &unix.SockaddrInet6{Port: laddr.Port}
		copy(addr.Addr[:], laddr.IP.To16())
		sa = addr
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: create: %w", err)
	}
	unix.CloseOnExec(fd)

	fail := func(op string, err error) (*Listener, error) {
		unix.Close(fd)
		return nil, fmt.Errorf("socket: %s %s: %w", op, laddr, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt SO_REUSEADDR", err)
	}
	if opts.ReusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			return fail("setsockopt SO_REUSEPORT", err)
		}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fail("set nonblock", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	backlog := opts.Backlog
	if backlog <= 0 {
		backlog = 128
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", err)
	}

	ln := &Listener{fd: fd, addr: laddr}
	if bound, err := unix.Getsockname(fd); err == nil {
		if a := sockaddrToTCP(bound); a != nil {
			ln.addr = a
		}
	}
	return ln, nil
}

// Fd returns the listening descriptor
func (l *Listener) Fd() int {
	return l.fd
}

// Addr returns the bound address
func (l *Listener) Addr() *net.TCPAddr {
	return l.addr
}

// Accept returns the next pending connection as a non-blocking Socket.
// ErrWouldBlock means the accept queue is empty.
func (l *Listener) Accept() (*Socket, error) {
	if l.closed {
		return nil, ErrClosed
	}
	for {
		nfd, sa, err := accept(l.fd)
		switch {
		case err == unix.EINTR || err == unix.ECONNABORTED:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return nil, ErrWouldBlock
		case err != nil:
			return nil, fmt.Errorf("socket: accept: %w", err)
		}

		// TCP_NODELAY: Disable Nagle's algorithm
		unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		// SO_KEEPALIVE: Enable TCP keepalive
		unix.SetsockoptInt(nfd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)

		return &Socket{fd: nfd, remote: sockaddrToTCP(sa)}, nil
	}
}

// Close closes the listener. Calling it again is a no-op.
func (l *Listener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	return unix.Close(l.fd)
}

func sockaddrToTCP(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.TCPAddrFromAddrPort(netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port)))
	case *unix.SockaddrInet6:
		return net.TCPAddrFromAddrPort(netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port)))
	}
	return nil
}
