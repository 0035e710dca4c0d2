package wlsel

import (
	"os"

	"go.klb.dev/wlsel/internal/wayland"
)

// transport is the slice of a compositor connection the worker consumes.
// Request methods must be safe for concurrent use; events arrive on a
// single channel in wire order and the channel closes when the connection
// dies, after which Err reports why.
type transport interface {
	Events() <-chan wayland.Event
	Err() error
	PrimaryMode() wayland.PrimaryMode
	Sync() (uint32, error)
	CreateSource(sel wayland.Selection, mimes []string) (wayland.SourceID, error)
	SetSelection(seat wayland.SeatID, sel wayland.Selection, source wayland.SourceID, serial uint32) error
	DestroySource(id wayland.SourceID) error
	Receive(id wayland.OfferID, mime string) (*os.File, error)
	DestroyOffer(id wayland.OfferID) error
	Close() error
}

var _ transport = (*wayland.Conn)(nil)
