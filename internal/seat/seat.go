// Package seat tracks the seats a compositor has announced, which one was
// used most recently, and the input serials needed to claim selections on
// them. The containing worker goroutine owns a Registry outright, so none
// of this is safe for concurrent use.
package seat

import (
	"cmp"
	"slices"

	"go.klb.dev/wlsel/internal/wayland"
)

// Seat is one wl_seat as far as selections are concerned: a name to select
// it by and the freshest serial per input device.
type Seat struct {
	ID   wayland.SeatID
	Name string

	keyboardSerial uint32
	pointerSerial  uint32

	// lastUsed orders seats by recency. Registration counts as a use, so a
	// fresh seat outranks an idle older one until real input arrives.
	lastUsed uint64
}

// KeyboardSerial returns the latest keyboard serial seen on this seat.
func (s *Seat) KeyboardSerial() uint32 { return s.keyboardSerial }

// PointerSerial returns the latest pointer serial seen on this seat.
func (s *Seat) PointerSerial() uint32 { return s.pointerSerial }

// Serial returns the serial to cite when claiming the given selection.
// Clipboard claims prefer keyboard serials (copy shortcuts), primary claims
// prefer pointer serials (select and middle-click). A zero return is still
// submitted; compositors accept it until the first input event lands.
func (s *Seat) Serial(sel wayland.Selection) uint32 {
	if sel == wayland.Primary {
		if s.pointerSerial != 0 {
			return s.pointerSerial
		}
		return s.keyboardSerial
	}
	if s.keyboardSerial != 0 {
		return s.keyboardSerial
	}
	return s.pointerSerial
}

// Registry is the set of live seats.
type Registry struct {
	seats map[wayland.SeatID]*Seat
	seq   uint64
}

func NewRegistry() *Registry {
	return &Registry{seats: make(map[wayland.SeatID]*Seat)}
}

// Add registers a seat. Adding an id that is already present returns the
// existing entry unchanged.
func (r *Registry) Add(id wayland.SeatID, name string) *Seat {
	if s := r.seats[id]; s != nil {
		return s
	}
	r.seq++
	s := &Seat{ID: id, Name: name, lastUsed: r.seq}
	r.seats[id] = s
	return s
}

// SetName records the compositor-assigned name, which usually arrives after
// the seat itself.
func (r *Registry) SetName(id wayland.SeatID, name string) {
	if s := r.seats[id]; s != nil {
		s.Name = name
	}
}

// Remove forgets a seat and returns it, or nil if it was not registered.
func (r *Registry) Remove(id wayland.SeatID) *Seat {
	s := r.seats[id]
	delete(r.seats, id)
	return s
}

// NoteInput records an input serial and bumps the seat's recency, even when
// the serial itself is stale or zero.
func (r *Registry) NoteInput(id wayland.SeatID, dev wayland.DeviceKind, serial uint32) {
	s := r.seats[id]
	if s == nil {
		return
	}
	if dev == wayland.PointerDevice {
		s.pointerSerial = serial
	} else {
		s.keyboardSerial = serial
	}
	r.seq++
	s.lastUsed = r.seq
}

// Get returns the seat with the given id, or nil.
func (r *Registry) Get(id wayland.SeatID) *Seat {
	return r.seats[id]
}

// Resolve picks the seat a request is aimed at. An empty name means the
// default seat, the one used most recently. Nil means no match: either no
// seat carries the name, or none is registered at all.
func (r *Registry) Resolve(name string) *Seat {
	if name != "" {
		for _, s := range r.seats {
			if s.Name == name {
				return s
			}
		}
		return nil
	}
	var best *Seat
	for _, s := range r.seats {
		if best == nil || s.lastUsed > best.lastUsed {
			best = s
		}
	}
	return best
}

// All returns every seat, most recently used first.
func (r *Registry) All() []*Seat {
	out := make([]*Seat, 0, len(r.seats))
	for _, s := range r.seats {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *Seat) int {
		return cmp.Compare(b.lastUsed, a.lastUsed)
	})
	return out
}

// Len reports how many seats are registered.
func (r *Registry) Len() int {
	return len(r.seats)
}
