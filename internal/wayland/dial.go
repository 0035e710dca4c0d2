package wayland

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

const defaultDisplay = "wayland-0"

// SocketPath resolves the compositor socket path the same way libwayland
// does. An empty display reads WAYLAND_DISPLAY; the name is used as-is when
// absolute and joined with XDG_RUNTIME_DIR otherwise, defaulting to
// wayland-0.
func SocketPath(display string) (string, error) {
	if display == "" {
		display = os.Getenv("WAYLAND_DISPLAY")
	}
	if display == "" {
		display = defaultDisplay
	}
	if filepath.IsAbs(display) {
		return display, nil
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, display), nil
}

// Connect establishes a compositor connection. With an empty display, a
// socket inherited through WAYLAND_SOCKET takes precedence over dialing the
// path from SocketPath; an explicit display always dials.
func Connect(log *slog.Logger, display string) (*Conn, error) {
	if v := os.Getenv("WAYLAND_SOCKET"); v != "" && display == "" {
		// The variable is single-use: consume it so child processes do not
		// try to adopt a descriptor we now own.
		os.Unsetenv("WAYLAND_SOCKET")
		fd, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("WAYLAND_SOCKET %q: %w", v, err)
		}
		unix.CloseOnExec(fd)
		f := os.NewFile(uintptr(fd), "wayland-socket")
		fc, err := net.FileConn(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("adopt WAYLAND_SOCKET fd %d: %w", fd, err)
		}
		uc, ok := fc.(*net.UnixConn)
		if !ok {
			fc.Close()
			return nil, fmt.Errorf("WAYLAND_SOCKET fd %d is not a unix socket", fd)
		}
		return Adopt(log, uc)
	}

	path, err := SocketPath(display)
	if err != nil {
		return nil, err
	}
	uc, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("dial compositor: %w", err)
	}
	return Adopt(log, uc)
}

// Adopt wraps an established compositor socket, performs the handshake, and
// starts dispatching. The Conn owns the socket from here on, including on
// error.
func Adopt(log *slog.Logger, uc *net.UnixConn) (*Conn, error) {
	c := newConn(log, uc)
	if err := c.handshake(); err != nil {
		uc.Close()
		return nil, fmt.Errorf("wayland handshake: %w", err)
	}
	go c.readLoop()
	return c, nil
}
