// Package socket wraps non-blocking TCP descriptors. Reads and writes never
// suspend the caller; they report ErrWouldBlock instead.
package socket

import (
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

var (
	// ErrWouldBlock means the operation could not make progress without waiting
	ErrWouldBlock = errors.New("socket: operation would block")
	// ErrClosed is returned by operations on a closed socket
	ErrClosed = errors.New("socket: use of closed socket")
)

// Socket is a non-blocking stream socket
type Socket struct {
	fd     int
	closed bool
	remote net.Addr
}

// New wraps fd, switching it to non-blocking mode
func New(fd int) (*Socket, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("socket: set nonblock: %w", err)
	}
	return &Socket{fd: fd}, nil
}

// Pair returns two connected non-blocking stream sockets
func Pair() (*Socket, *Socket, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socket: socketpair: %w", err)
	}
	a, err := New(fds[0])
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, err
	}
	b, err := New(fds[1])
	if err != nil {
		a.Close()
		unix.Close(fds[1])
		return nil, nil, err
	}
	return a, b, nil
}

// Fd returns the underlying descriptor, -1 once closed
func (s *Socket) Fd() int {
	if s.closed {
		return -1
	}
	return s.fd
}

// RemoteAddr returns the peer address recorded at accept time, if any
func (s *Socket) RemoteAddr() net.Addr {
	return s.remote
}

// Closed reports whether Close has been called
func (s *Socket) Closed() bool {
	return s.closed
}

// Read reads available bytes. It returns io.EOF when the peer has shut down
// its write side and ErrWouldBlock when nothing is buffered.
func (s *Socket) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return 0, ErrWouldBlock
		case err != nil:
			return 0, fmt.Errorf("socket: read: %w", err)
		case n == 0 && len(p) > 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write writes as much of p as the kernel accepts. A short count with
// ErrWouldBlock means the send buffer is full.
func (s *Socket) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	written := 0
	for written < len(p) {
		n, err := unix.Write(s.fd, p[written:])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return written, ErrWouldBlock
		case err != nil:
			return written, fmt.Errorf("socket: write: %w", err)
		}
		written += n
	}
	return written, nil
}

// CloseWrite shuts down the sending side
func (s *Socket) CloseWrite() error {
	if s.closed {
		return ErrClosed
	}
	return unix.Shutdown(s.fd, unix.SHUT_WR)
}

// Close closes the descriptor. Calling it again is a no-op.
func (s *Socket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}

func (s *Socket) String() string {
	if s.remote != nil {
		return fmt.Sprintf("fd=%d remote=%s", s.fd, s.remote)
	}
	return fmt.Sprintf("fd=%d", s.fd)
}
