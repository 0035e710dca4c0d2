// Package wayland speaks just enough of the Wayland client protocol to move
// text selections around: the registry, seats and their input devices, the
// core data-device clipboard, and the two primary-selection extensions.
// Everything else a Wayland client can do (surfaces, buffers, input beyond
// serial bookkeeping) is out of scope.
//
// A Conn owns the compositor socket. A single goroutine reads and decodes
// compositor events and surfaces them as Event values on Events(); requests
// may be issued from any goroutine and are written synchronously. The
// channel closes when the connection dies, after which Err reports why.
package wayland

// SeatID identifies a seat for the lifetime of a connection. It is the
// registry global name the compositor announced the seat under, which is
// also what a removal announcement carries.
type SeatID uint32

// SourceID identifies a selection source created with CreateSource.
type SourceID uint32

// OfferID identifies a selection offer announced by the compositor.
// Zero means "no offer".
type OfferID uint32

// Selection distinguishes the two selections a seat carries.
type Selection uint8

const (
	// Clipboard is the regular copy/paste selection.
	Clipboard Selection = iota
	// Primary is the select-to-copy, middle-click-to-paste selection.
	Primary
)

func (s Selection) String() string {
	if s == Primary {
		return "primary"
	}
	return "clipboard"
}

// DeviceKind says which input device produced a serial.
type DeviceKind uint8

const (
	KeyboardDevice DeviceKind = iota
	PointerDevice
)

func (d DeviceKind) String() string {
	if d == PointerDevice {
		return "pointer"
	}
	return "keyboard"
}

// PrimaryMode is the outcome of primary-selection negotiation, fixed once
// per connection during the startup handshake.
type PrimaryMode uint8

const (
	// PrimaryNone means the compositor offers no primary-selection protocol.
	PrimaryNone PrimaryMode = iota
	// PrimaryZwp is the standard zwp_primary_selection_v1 protocol.
	PrimaryZwp
	// PrimaryGtk is the legacy gtk_primary_selection protocol.
	PrimaryGtk
)

func (m PrimaryMode) String() string {
	switch m {
	case PrimaryZwp:
		return "zwp"
	case PrimaryGtk:
		return "gtk"
	default:
		return "none"
	}
}
