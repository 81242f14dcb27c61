package bms

import (
	"fmt"
	"syscall"

	"github.com/godbus/dbus/v5"
)

// SuspendInhibitor holds a systemd inhibitor lock so the host cannot
// suspend while a parameter page write is in flight or balance switches
// may be closed. The lock is released when the file descriptor is closed.
type SuspendInhibitor struct {
	fd   int
	name string
}

// NewSuspendInhibitor acquires a systemd inhibitor lock via D-Bus.
//
//   - name: application identifier (e.g. "BMS_PARAM_SAVE_INHIBITOR")
//   - why: reason for inhibiting (e.g. "PARAM_PAGE_WRITE")
//   - mode: "block" or "delay"
func NewSuspendInhibitor(name, why, mode string) (*SuspendInhibitor, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer conn.Close()

	obj := conn.Object("org.freedesktop.login1", "/org/freedesktop/login1")
	call := obj.Call("org.freedesktop.login1.Manager.Inhibit", 0,
		"sleep:shutdown",
		name,
		why,
		mode)
	if call.Err != nil {
		return nil, fmt.Errorf("failed to acquire inhibitor lock: %w", call.Err)
	}

	var fd dbus.UnixFD
	if err := call.Store(&fd); err != nil {
		return nil, fmt.Errorf("failed to extract file descriptor: %w", err)
	}

	return &SuspendInhibitor{
		fd:   int(fd),
		name: name,
	}, nil
}

// Release closes the inhibitor file descriptor, releasing the lock.
func (si *SuspendInhibitor) Release() error {
	if si.fd < 0 {
		return nil // already released
	}
	if err := syscall.Close(si.fd); err != nil {
		return fmt.Errorf("failed to close inhibitor fd: %w", err)
	}
	si.fd = -1
	return nil
}

// IsActive returns true while the lock is still held.
func (si *SuspendInhibitor) IsActive() bool {
	return si.fd >= 0
}

// HostPowerDown asks systemd-logind to power the board off. Used when the
// sleep timeout elapses in Idle.
func HostPowerDown() error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer conn.Close()

	obj := conn.Object("org.freedesktop.login1", "/org/freedesktop/login1")
	call := obj.Call("org.freedesktop.login1.Manager.PowerOff", 0, false)
	if call.Err != nil {
		return fmt.Errorf("power off request failed: %w", call.Err)
	}
	return nil
}
