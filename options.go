package wlsel

import (
	"log/slog"
	"net"
	"time"
)

// DefaultLoadTimeout bounds a Load when WithLoadTimeout is not given. It
// covers the whole exchange: the ordering roundtrip, format negotiation,
// and the pipe transfer from the selection owner.
const DefaultLoadTimeout = 30 * time.Second

type config struct {
	display     string
	conn        *net.UnixConn
	log         *slog.Logger
	loadTimeout time.Duration
}

// Option configures New.
type Option func(*config)

// WithDisplay connects to the named Wayland display instead of consulting
// WAYLAND_SOCKET and WAYLAND_DISPLAY. Relative names resolve under
// XDG_RUNTIME_DIR, absolute paths are dialed as-is.
func WithDisplay(name string) Option {
	return func(c *config) { c.display = name }
}

// WithConn adopts an already-connected compositor socket, for example one
// inherited through the WAYLAND_SOCKET convention. The library owns the
// connection from then on; a Wayland socket admits a single reader, so the
// caller must not keep using it.
func WithConn(uc *net.UnixConn) Option {
	return func(c *config) { c.conn = uc }
}

// WithLogger routes the library's logging. The default is slog.Default().
// Protocol chatter logs at Debug, anomalies at Warn; the library never
// configures handlers or the global logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithLoadTimeout replaces DefaultLoadTimeout. Zero or negative durations
// are ignored.
func WithLoadTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.loadTimeout = d
		}
	}
}
