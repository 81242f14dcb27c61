//go:build linux

package can

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// SocketCAN is a Hardware backed by a raw AF_CAN socket. Filtering and
// dispatch follow the same ordered-callback model as the chain bus; the
// kernel socket itself is left wide open and frames are matched in
// userspace against the registered identifiers.
type SocketCAN struct {
	fd        int
	mu        sync.Mutex
	filter    filterSet
	callbacks callbackList
}

// NewSocketCAN opens a raw CAN socket bound to the named interface.
func NewSocketCAN(ifname string) (*SocketCAN, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("failed to open CAN socket: %w", err)
	}
	ifr, err := unix.NewIfreq(ifname)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to resolve interface %s: %w", ifname, err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFINDEX, ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to resolve interface %s: %w", ifname, err)
	}
	addr := &unix.SockaddrCAN{Ifindex: int(ifr.Uint32())}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind CAN socket: %w", err)
	}
	return &SocketCAN{fd: fd}, nil
}

// Send transmits one extended frame. A full transmit queue surfaces as the
// underlying ENOBUFS error.
func (s *SocketCAN) Send(id uint32, data []byte) error {
	if len(data) > 8 {
		data = data[:8]
	}
	var buf [16]byte
	binary.LittleEndian.PutUint32(buf[0:4], id|unix.CAN_EFF_FLAG)
	buf[4] = uint8(len(data))
	copy(buf[8:], data)
	if _, err := unix.Write(s.fd, buf[:]); err != nil {
		return fmt.Errorf("can write: %w", err)
	}
	return nil
}

// RegisterUserMessage admits an identifier, source byte don't-care.
func (s *SocketCAN) RegisterUserMessage(id uint32) {
	s.mu.Lock()
	s.filter.register(id)
	s.mu.Unlock()
}

// AddCallback appends a handler to the ordered dispatch list.
func (s *SocketCAN) AddCallback(cb Callback) {
	s.mu.Lock()
	s.callbacks.add(cb)
	s.mu.Unlock()
}

// readTimeout bounds how long a quiet bus can delay a cancellation check.
const readTimeout = 200 * time.Millisecond

// Run reads frames until the context is cancelled. It must be started once,
// after all callbacks are registered. A receive timeout on the socket keeps
// Read from blocking past the next cancellation check on a quiet bus.
func (s *SocketCAN) Run(ctx context.Context) error {
	defer unix.Close(s.fd)
	tv := unix.NsecToTimeval(readTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return fmt.Errorf("can receive timeout: %w", err)
	}
	var buf [16]byte
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := unix.Read(s.fd, buf[:])
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				continue
			}
			return fmt.Errorf("can read: %w", err)
		}
		if n < 16 {
			continue
		}
		raw := binary.LittleEndian.Uint32(buf[0:4])
		if raw&unix.CAN_EFF_FLAG == 0 {
			continue // chain traffic is extended-ID only
		}
		f := Frame{ID: raw & unix.CAN_EFF_MASK, Len: buf[4]}
		if f.Len > 8 {
			f.Len = 8
		}
		copy(f.Data[:], buf[8:8+int(f.Len)])

		s.mu.Lock()
		admitted := s.filter.admits(f.ID)
		s.mu.Unlock()
		if admitted {
			s.callbacks.dispatch(f)
		}
	}
}
