package wlsel

import (
	"fmt"
	"net"
	"os"
	"sync"

	"go.klb.dev/wlsel/internal/wayland"
)

// fakeConn implements transport with in-memory compositor semantics:
// claiming a selection announces the offer back, displacing an owner
// cancels its source, and receiving from an offer we own loops back as a
// SendRequested so the worker serves both ends of the pipe. Foreign owners
// are simulated with a serve callback.
type fakeConn struct {
	mode   wayland.PrimaryMode
	events chan wayland.Event

	mu         sync.Mutex
	closed     bool
	err        error
	nextID     uint32
	sources    map[wayland.SourceID][]string // advertised mimes
	selections map[ownedKey]*fakeSelection
	offers     map[wayland.OfferID]*fakeSelection

	lastSerial       map[ownedKey]uint32
	destroyedSources map[wayland.SourceID]bool
	destroyedOffers  map[wayland.OfferID]bool
	createCalls      int
	syncCalls        int
	receiveCalls     int
	lastReceiveMime  string
}

type fakeSelection struct {
	offer  wayland.OfferID
	source wayland.SourceID // zero for foreign owners
	mimes  []string
	serve  func(mt string, w *os.File) // foreign owner behavior
}

func newFakeConn(mode wayland.PrimaryMode) *fakeConn {
	return &fakeConn{
		mode:             mode,
		events:           make(chan wayland.Event, 256),
		sources:          make(map[wayland.SourceID][]string),
		selections:       make(map[ownedKey]*fakeSelection),
		offers:           make(map[wayland.OfferID]*fakeSelection),
		lastSerial:       make(map[ownedKey]uint32),
		destroyedSources: make(map[wayland.SourceID]bool),
		destroyedOffers:  make(map[wayland.OfferID]bool),
	}
}

func (f *fakeConn) Events() <-chan wayland.Event { return f.events }

func (f *fakeConn) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeConn) PrimaryMode() wayland.PrimaryMode { return f.mode }

func (f *fakeConn) Close() error {
	f.fail(net.ErrClosed)
	return nil
}

// fail simulates the connection dying for the given reason.
func (f *fakeConn) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.err = err
	close(f.events)
}

func (f *fakeConn) emitLocked(ev wayland.Event) {
	if f.closed {
		return
	}
	f.events <- ev
}

func (f *fakeConn) emit(ev wayland.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitLocked(ev)
}

func (f *fakeConn) Sync() (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, net.ErrClosed
	}
	f.syncCalls++
	f.nextID++
	token := f.nextID
	// Everything emitted before this point is already ahead in the
	// channel, which is exactly what a roundtrip promises.
	f.emitLocked(wayland.SyncDone{Token: token})
	return token, nil
}

func (f *fakeConn) CreateSource(sel wayland.Selection, mimes []string) (wayland.SourceID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, net.ErrClosed
	}
	f.createCalls++
	f.nextID++
	id := wayland.SourceID(f.nextID)
	f.sources[id] = append([]string(nil), mimes...)
	return id, nil
}

func (f *fakeConn) SetSelection(seat wayland.SeatID, sel wayland.Selection, source wayland.SourceID, serial uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return net.ErrClosed
	}
	key := ownedKey{seat: seat, sel: sel}
	f.lastSerial[key] = serial
	if prev := f.selections[key]; prev != nil && prev.source != 0 && prev.source != source {
		f.emitLocked(wayland.SourceCancelled{Source: prev.source})
	}
	if source == 0 {
		delete(f.selections, key)
		f.emitLocked(wayland.SelectionSet{Seat: seat, Sel: sel})
		return nil
	}
	mimes, ok := f.sources[source]
	if !ok {
		return fmt.Errorf("unknown source %d", source)
	}
	f.nextID++
	fs := &fakeSelection{offer: wayland.OfferID(f.nextID), source: source, mimes: mimes}
	f.selections[key] = fs
	f.offers[fs.offer] = fs
	f.emitLocked(wayland.SelectionSet{
		Seat:  seat,
		Sel:   sel,
		Offer: fs.offer,
		Mimes: append([]string(nil), mimes...),
	})
	return nil
}

func (f *fakeConn) DestroySource(id wayland.SourceID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyedSources[id] = true
	delete(f.sources, id)
	// Destroying the live owner clears the selection, as compositors do.
	for key, fs := range f.selections {
		if fs.source == id {
			delete(f.selections, key)
			f.emitLocked(wayland.SelectionSet{Seat: key.seat, Sel: key.sel})
		}
	}
	return nil
}

func (f *fakeConn) Receive(id wayland.OfferID, mt string) (*os.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, net.ErrClosed
	}
	fs := f.offers[id]
	if fs == nil || f.destroyedOffers[id] {
		return nil, fmt.Errorf("offer %d is gone", id)
	}
	f.receiveCalls++
	f.lastReceiveMime = mt
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	if fs.serve != nil {
		go fs.serve(mt, w)
	} else {
		f.emitLocked(wayland.SendRequested{Source: fs.source, Mime: mt, File: w})
	}
	return r, nil
}

func (f *fakeConn) DestroyOffer(id wayland.OfferID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyedOffers[id] = true
	delete(f.offers, id)
	return nil
}

// Test-side controls.

func (f *fakeConn) addSeat(id wayland.SeatID, name string) {
	f.emit(wayland.SeatAdded{Seat: id})
	f.emit(wayland.SeatNamed{Seat: id, Name: name})
}

func (f *fakeConn) removeSeat(id wayland.SeatID) {
	f.emit(wayland.SeatRemoved{Seat: id})
}

func (f *fakeConn) input(id wayland.SeatID, dev wayland.DeviceKind, serial uint32) {
	f.emit(wayland.Input{Seat: id, Device: dev, Serial: serial})
}

// setForeign installs a selection owned by some other client. serve is
// invoked on its own goroutine for each transfer and must close w.
func (f *fakeConn) setForeign(seat wayland.SeatID, sel wayland.Selection, mimes []string, serve func(mt string, w *os.File)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ownedKey{seat: seat, sel: sel}
	if prev := f.selections[key]; prev != nil && prev.source != 0 {
		f.emitLocked(wayland.SourceCancelled{Source: prev.source})
	}
	f.nextID++
	fs := &fakeSelection{offer: wayland.OfferID(f.nextID), mimes: mimes, serve: serve}
	f.selections[key] = fs
	f.offers[fs.offer] = fs
	f.emitLocked(wayland.SelectionSet{
		Seat:  seat,
		Sel:   sel,
		Offer: fs.offer,
		Mimes: append([]string(nil), mimes...),
	})
}

// clearSelection simulates the current owner going away without a
// replacement.
func (f *fakeConn) clearSelection(seat wayland.SeatID, sel wayland.Selection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ownedKey{seat: seat, sel: sel}
	if prev := f.selections[key]; prev != nil && prev.source != 0 {
		f.emitLocked(wayland.SourceCancelled{Source: prev.source})
	}
	delete(f.selections, key)
	f.emitLocked(wayland.SelectionSet{Seat: seat, Sel: sel})
}

func (f *fakeConn) serialFor(seat wayland.SeatID, sel wayland.Selection) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSerial[ownedKey{seat: seat, sel: sel}]
}

func (f *fakeConn) receives() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receiveCalls
}

func (f *fakeConn) receivedMime() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReceiveMime
}

func (f *fakeConn) transportCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls + f.syncCalls + f.receiveCalls
}

func (f *fakeConn) offerDestroyed(id wayland.OfferID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyedOffers[id]
}

func (f *fakeConn) sourceDestroyed(id wayland.SourceID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyedSources[id]
}

func (f *fakeConn) currentOffer(seat wayland.SeatID, sel wayland.Selection) wayland.OfferID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fs := f.selections[ownedKey{seat: seat, sel: sel}]; fs != nil {
		return fs.offer
	}
	return 0
}

func (f *fakeConn) currentSource(seat wayland.SeatID, sel wayland.Selection) wayland.SourceID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fs := f.selections[ownedKey{seat: seat, sel: sel}]; fs != nil {
		return fs.source
	}
	return 0
}
