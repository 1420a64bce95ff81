package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// BroadcastSocket wraps a UDP socket configured for SO_BROADCAST and
// address reuse, matching spec.md's "SO_BROADCAST and address-reuse
// enabled" requirement. The standard library does not expose these socket
// options on net.UDPConn directly, so the address-reuse options are set via
// a raw connection control callback run before bind, and SO_BROADCAST via
// the bound socket's raw connection — no third-party socket-options package
// in the retrieval corpus covers this narrower-than-net.Dial case, so it is
// hand-rolled here (see DESIGN.md).
type BroadcastSocket struct {
	conn *net.UDPConn
	dest *net.UDPAddr
}

// NewBroadcastSocket binds a UDP socket on broadcastPort (all interfaces)
// and configures it to send to (broadcastHost, broadcastPort). SO_REUSEADDR
// and (on Linux) SO_REUSEPORT are set before bind, via net.ListenConfig's
// Control hook, so that multiple nodes sharing one host — including
// independent Node instances in one test binary — can each bind
// BROADCAST_PORT, per the original server.py:62's SO_REUSEADDR and
// spec.md §4.1's "address-reuse enabled" requirement.
func NewBroadcastSocket(broadcastHost string, broadcastPort int) (*BroadcastSocket, error) {
	var sockErr error
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
					sockErr = fmt.Errorf("enable SO_REUSEADDR: %w", err)
					return
				}
				if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					sockErr = fmt.Errorf("enable SO_REUSEPORT: %w", err)
				}
			})
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", broadcastPort))
	if err != nil {
		return nil, fmt.Errorf("bind broadcast socket: %w", err)
	}
	if sockErr != nil {
		pc.Close()
		return nil, sockErr
	}
	conn := pc.(*net.UDPConn)

	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("raw broadcast socket: %w", err)
	}
	var broadcastErr error
	err = raw.Control(func(fd uintptr) {
		broadcastErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if err == nil {
		err = broadcastErr
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable SO_BROADCAST: %w", err)
	}

	return &BroadcastSocket{
		conn: conn,
		dest: &net.UDPAddr{IP: net.ParseIP(broadcastHost), Port: broadcastPort},
	}, nil
}

// Send broadcasts payload to the configured destination.
func (b *BroadcastSocket) Send(payload []byte) error {
	_, err := b.conn.WriteToUDP(payload, b.dest)
	return err
}

// Recv reads one datagram, bounded by the given deadline.
func (b *BroadcastSocket) Recv(deadline time.Duration) ([]byte, error) {
	if err := b.conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
		return nil, err
	}
	buf := make([]byte, 65536)
	n, _, err := b.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Close releases the underlying UDP socket.
func (b *BroadcastSocket) Close() error {
	return b.conn.Close()
}

// SendTCP dials host:port, writes payload, half-closes the write side so
// the peer can read-to-EOF regardless of message size, and returns
// whatever the peer wrote back before fully closing (may be empty, as
// for lcr forwards which expect no reply).
func SendTCP(host string, port int, payload []byte, timeout time.Duration) ([]byte, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("write %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}

	reply, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("read reply from %s: %w", addr, err)
	}
	return reply, nil
}

// ReadRequest reads a single JSON request to EOF from a just-accepted
// connection, accepting an arbitrary-size payload per the close-after-
// one-message convention (the client half-closes its write side once it
// has written the full request).
func ReadRequest(conn net.Conn, timeout time.Duration) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	return io.ReadAll(conn)
}
