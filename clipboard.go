// Package wlsel reads and writes the Wayland clipboard and primary
// selection, synchronously and without a window.
//
// A Clipboard owns a compositor connection and a single worker goroutine
// that holds all protocol state; the exported methods are safe for
// concurrent use from any goroutine. Store returns as soon as the claim is
// on the wire and the library keeps serving paste requests in the
// background until another client takes the selection or the Clipboard is
// closed. Load blocks until the selection owner delivers its content, a
// deadline passes, or the given context is done.
//
// Selections are plain UTF-8 text. Content is offered and accepted under
// text/plain, text/plain;charset=utf-8, UTF8_STRING, and STRING; anything
// else fails a Load with ErrUnsupportedFormat.
//
// The primary selection (select-to-copy, middle-click-to-paste) rides the
// zwp_primary_selection_v1 protocol when the compositor offers it, the
// legacy gtk_primary_selection protocol as a fallback, and reports
// ErrPrimaryUnsupported otherwise; PrimarySupported tells which, without
// touching the wire.
package wlsel

import (
	"context"
	"log/slog"
	"time"

	"go.klb.dev/wlsel/internal/wayland"
)

// SeatInfo is a point-in-time snapshot of one seat, most useful for picking
// a seat name and for noticing lost selection ownership.
type SeatInfo struct {
	Name           string
	KeyboardSerial uint32
	PointerSerial  uint32
	OwnsClipboard  bool
	OwnsPrimary    bool
}

// Clipboard is a live connection to the compositor's selection machinery.
// The zero value is not usable; call New.
type Clipboard struct {
	log *slog.Logger
	w   *worker
}

// New connects to the compositor and starts the worker. The connection is
// ready when New returns: seats, their names, and current selection state
// have been settled by an initial roundtrip.
func New(opts ...Option) (*Clipboard, error) {
	cfg := config{loadTimeout: DefaultLoadTimeout}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.log == nil {
		cfg.log = slog.Default()
	}
	var (
		conn *wayland.Conn
		err  error
	)
	if cfg.conn != nil {
		conn, err = wayland.Adopt(cfg.log, cfg.conn)
	} else {
		conn, err = wayland.Connect(cfg.log, cfg.display)
	}
	if err != nil {
		return nil, err
	}
	return newClipboard(cfg.log, conn, cfg.loadTimeout), nil
}

// newClipboard wires the worker to a transport. Tests inject fakes here.
func newClipboard(log *slog.Logger, tr transport, loadTimeout time.Duration) *Clipboard {
	w := newWorker(log, tr, loadTimeout)
	go w.run()
	return &Clipboard{log: log, w: w}
}

// Store claims the clipboard on the given seat ("" means the most recently
// active seat) and serves text to anyone who pastes. It does not wait for
// the compositor to acknowledge the claim.
func (c *Clipboard) Store(seat, text string) error {
	return c.w.store(wayland.Clipboard, seat, text)
}

// StorePrimary is Store for the primary selection.
func (c *Clipboard) StorePrimary(seat, text string) error {
	if !c.PrimarySupported() {
		return ErrPrimaryUnsupported
	}
	return c.w.store(wayland.Primary, seat, text)
}

// Load returns the current clipboard text on the given seat ("" means the
// most recently active seat). It blocks until the selection owner delivers,
// the configured load timeout expires (ErrTimeout), or ctx is done.
// Concurrent loads for the same seat share one transfer.
func (c *Clipboard) Load(ctx context.Context, seat string) (string, error) {
	return c.w.load(ctx, wayland.Clipboard, seat)
}

// LoadPrimary is Load for the primary selection.
func (c *Clipboard) LoadPrimary(ctx context.Context, seat string) (string, error) {
	if !c.PrimarySupported() {
		return "", ErrPrimaryUnsupported
	}
	return c.w.load(ctx, wayland.Primary, seat)
}

// PrimarySupported reports whether the compositor speaks a primary
// selection protocol. When false, StorePrimary and LoadPrimary fail with
// ErrPrimaryUnsupported without any protocol traffic.
func (c *Clipboard) PrimarySupported() bool {
	return c.w.tr.PrimaryMode() != wayland.PrimaryNone
}

// Seats lists the compositor's seats, most recently active first.
func (c *Clipboard) Seats() []SeatInfo {
	return c.w.seatInfos()
}

// Close releases every claimed selection, disconnects, and waits for the
// worker to stop. Blocked Loads resolve ErrDisconnected. Close is
// idempotent.
func (c *Clipboard) Close() error {
	c.w.close()
	return nil
}
