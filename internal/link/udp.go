package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/quadrotor-fc/internal/protocol"
)

// DefaultUDPAddr is where the ground station sends its frames.
const DefaultUDPAddr = ":2390"

// UDP datagrams carry exactly one frame.
const udpBufferSize = 128

// UDPTransport receives frames on a UDP socket and replies to whichever peer
// sent the most recent datagram.
type UDPTransport struct {
	conn *net.UDPConn
	peer atomic.Pointer[net.UDPAddr]
	poll time.Duration
}

// ListenUDP binds addr, for example ":2390".
func ListenUDP(addr string) (*UDPTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving address '%s': %w", addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on '%s': %w", addr, err)
	}

	return &UDPTransport{conn: conn, poll: pollInterval}, nil
}

// ReadFrame waits up to the poll interval for a datagram.
func (u *UDPTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	deadline := time.Now().Add(u.poll)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := u.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("setting read deadline: %w", err)
	}

	buf := make([]byte, udpBufferSize)
	n, addr, err := u.conn.ReadFromUDP(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	// only a datagram that can hold a frame names the reply peer
	if n <= protocol.MaxPayload+1 {
		u.peer.Store(addr)
	}
	return buf[:n], nil
}

// WriteFrame sends frame to the last peer heard from.
func (u *UDPTransport) WriteFrame(frame []byte) error {
	peer := u.peer.Load()
	if peer == nil {
		return ErrNoPeer
	}
	if _, err := u.conn.WriteToUDP(frame, peer); err != nil {
		return fmt.Errorf("writing to %s: %w", peer, err)
	}
	return nil
}

// LocalAddr returns the bound address.
func (u *UDPTransport) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// Close closes the socket.
func (u *UDPTransport) Close() error {
	return u.conn.Close()
}
