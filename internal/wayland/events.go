package wayland

import "os"

// Event is one notification from the compositor, delivered on Events() in
// the order it arrived on the wire.
type Event interface {
	event()
}

// SeatAdded announces a new seat. The human-readable name usually follows
// in a separate SeatNamed event.
type SeatAdded struct {
	Seat SeatID
	Name string
}

// SeatNamed carries the wl_seat.name announcement.
type SeatNamed struct {
	Seat SeatID
	Name string
}

// SeatRemoved announces that a seat is gone. Its input and data devices
// have already been torn down.
type SeatRemoved struct {
	Seat SeatID
}

// Input reports a serial-carrying input event on a seat. Serials prove
// input recency when claiming a selection.
type Input struct {
	Seat   SeatID
	Device DeviceKind
	Serial uint32
}

// SelectionSet reports that the selection on a seat changed hands. Offer is
// zero when the selection was cleared. Mimes lists the advertised types in
// arrival order; the slice is owned by the receiver.
type SelectionSet struct {
	Seat  SeatID
	Sel   Selection
	Offer OfferID
	Mimes []string
}

// SendRequested asks us to write the payload of one of our sources, in the
// requested MIME type, to File. The receiver owns File and must close it.
type SendRequested struct {
	Source SourceID
	Mime   string
	File   *os.File
}

// SourceCancelled reports that one of our sources no longer holds its
// selection, typically because another client claimed it.
type SourceCancelled struct {
	Source SourceID
}

// SyncDone reports that the roundtrip started by Sync has completed: every
// event the compositor queued before the matching token has been delivered.
type SyncDone struct {
	Token uint32
}

func (SeatAdded) event()       {}
func (SeatNamed) event()       {}
func (SeatRemoved) event()     {}
func (Input) event()           {}
func (SelectionSet) event()    {}
func (SendRequested) event()   {}
func (SourceCancelled) event() {}
func (SyncDone) event()        {}
