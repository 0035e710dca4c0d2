package wayland

// proxy is our handle on one protocol object, client- or server-created.
type proxy struct {
	id      uint32
	iface   string
	version uint32

	// dead marks a client object whose destructor request went out but
	// whose wl_display.delete_id has not arrived yet. Events addressed to
	// it are dropped, minus any file descriptors they carry.
	dead bool

	handler func(p *proxy, op uint16, m *msgReader)

	// seat and sel give device and input proxies their context.
	seat *seatState
	sel  Selection

	// mimes accumulates wl_data_offer.offer announcements on offer proxies.
	mimes []string
}

// idPool hands out client-side object ids, recycling ids the compositor has
// confirmed deleted. Client ids start at 2; 1 is wl_display.
type idPool struct {
	next uint32
	free []uint32
}

func (p *idPool) get() uint32 {
	if n := len(p.free); n > 0 {
		id := p.free[n-1]
		p.free = p.free[:n-1]
		return id
	}
	if p.next == 0 {
		p.next = displayID + 1
	}
	id := p.next
	p.next++
	return id
}

func (p *idPool) put(id uint32) { p.free = append(p.free, id) }

// seatState is the per-seat protocol bookkeeping: the bound seat object,
// its input devices, and the selection devices created for it.
type seatState struct {
	global  uint32 // registry name, doubles as the public SeatID
	id      uint32 // wl_seat object
	version uint32 // bound version, inherited by keyboard and pointer
	name    string
	caps    uint32

	keyboard uint32
	pointer  uint32

	dataDevice    uint32
	primaryDevice uint32
}
