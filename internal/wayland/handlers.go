package wayland

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Event handlers run on the dispatch goroutine only. They may mutate
// read-side state freely; anything the request methods also look at
// (the seats map, device ids) is mutated under c.mu.

func (c *Conn) displayEvent(_ *proxy, op uint16, m *msgReader) {
	switch op {
	case evtDisplayError:
		obj := m.uint()
		code := m.uint()
		text := m.str()
		if m.err == nil {
			c.dispErr = fmt.Errorf("compositor error on object %d: %s (code %d)", obj, text, code)
		}
	case evtDisplayDeleteID:
		id := m.uint()
		if m.err != nil {
			return
		}
		c.mu.Lock()
		delete(c.objects, id)
		if id < serverIDMin {
			c.ids.put(id)
		}
		c.mu.Unlock()
	}
}

func (c *Conn) registryEvent(_ *proxy, op uint16, m *msgReader) {
	switch op {
	case evtRegistryGlobal:
		name := m.uint()
		iface := m.str()
		version := m.uint()
		if m.err != nil {
			return
		}
		c.globalAnnounced(name, iface, version)
	case evtRegistryGlobalRemove:
		name := m.uint()
		if m.err != nil {
			return
		}
		c.mu.Lock()
		st := c.seats[name]
		c.mu.Unlock()
		if st != nil {
			c.teardownSeat(st)
		}
	}
}

func (c *Conn) globalAnnounced(name uint32, iface string, version uint32) {
	switch iface {
	case ifaceSeat:
		c.addSeat(name, version)
	case ifaceDDM:
		c.mu.Lock()
		bound := c.ddm != 0
		c.mu.Unlock()
		if bound {
			return
		}
		p := c.newProxy(ifaceDDM, 1, c.ignoreEvent)
		if err := c.bindGlobal(name, ifaceDDM, 1, p.id); err != nil {
			c.log.Warn("bind wl_data_device_manager", "err", err)
			return
		}
		c.mu.Lock()
		c.ddm = p.id
		seats := c.seatList()
		c.mu.Unlock()
		for _, st := range seats {
			c.ensureDevices(st)
		}
	case ifaceZwpManager:
		c.mu.Lock()
		if !c.negotiated && c.zwpGlobal == 0 {
			c.zwpGlobal = name
		}
		c.mu.Unlock()
	case ifaceGtkManager:
		c.mu.Lock()
		if !c.negotiated && c.gtkGlobal == 0 {
			c.gtkGlobal = name
		}
		c.mu.Unlock()
	}
}

// addSeat binds a newly announced wl_seat and creates its selection devices
// if the managers are already known.
func (c *Conn) addSeat(name, version uint32) {
	c.mu.Lock()
	_, exists := c.seats[name]
	c.mu.Unlock()
	if exists {
		return
	}
	v := min(version, seatMaxVersion)
	p := c.newProxy(ifaceSeat, v, c.seatEvent)
	st := &seatState{global: name, id: p.id, version: v}
	p.seat = st
	if err := c.bindGlobal(name, ifaceSeat, v, p.id); err != nil {
		c.log.Warn("bind wl_seat", "err", err)
		return
	}
	c.mu.Lock()
	c.seats[name] = st
	c.mu.Unlock()
	c.ensureDevices(st)
	c.log.Debug("seat added", "seat", name, "version", v)
	c.emit(SeatAdded{Seat: SeatID(name)})
}

// bindPrimaryManager fixes the primary-selection protocol for the lifetime
// of the connection: the standard zwp protocol when offered, the legacy gtk
// one as fallback, none otherwise.
func (c *Conn) bindPrimaryManager() {
	c.mu.Lock()
	zwp, gtk := c.zwpGlobal, c.gtkGlobal
	c.negotiated = true
	c.mu.Unlock()

	var (
		global uint32
		iface  string
		mode   PrimaryMode
	)
	switch {
	case zwp != 0:
		global, iface, mode = zwp, ifaceZwpManager, PrimaryZwp
	case gtk != 0:
		global, iface, mode = gtk, ifaceGtkManager, PrimaryGtk
	default:
		c.log.Debug("primary selection unsupported by compositor")
		return
	}
	p := c.newProxy(iface, 1, c.ignoreEvent)
	if err := c.bindGlobal(global, iface, 1, p.id); err != nil {
		c.log.Warn("bind primary selection manager", "err", err)
		return
	}
	c.mu.Lock()
	c.primaryMgr = p.id
	c.primaryMode = mode
	seats := c.seatList()
	c.mu.Unlock()
	for _, st := range seats {
		c.ensureDevices(st)
	}
	c.log.Debug("primary selection negotiated", "mode", mode)
}

func (c *Conn) bindGlobal(name uint32, iface string, version, id uint32) error {
	err := c.send(c.registry, reqRegistryBind,
		uintArg(name), stringArg(iface), uintArg(version), newIDArg(id))
	if err != nil {
		return fmt.Errorf("bind %s: %w", iface, err)
	}
	return nil
}

// seatList snapshots the seats map. Callers hold c.mu.
func (c *Conn) seatList() []*seatState {
	out := make([]*seatState, 0, len(c.seats))
	for _, st := range c.seats {
		out = append(out, st)
	}
	return out
}

// ensureDevices creates the seat's data device and primary device for
// whichever managers are bound and not yet wired to it.
func (c *Conn) ensureDevices(st *seatState) {
	c.mu.Lock()
	ddm := c.ddm
	pm := c.primaryMgr
	mode := c.primaryMode
	haveData := st.dataDevice != 0
	havePrimary := st.primaryDevice != 0
	c.mu.Unlock()

	if ddm != 0 && !haveData {
		p := c.newProxy(ifaceDataDevice, 1, c.deviceEvent)
		p.seat, p.sel = st, Clipboard
		if err := c.send(ddm, reqDDMGetDevice, newIDArg(p.id), objectArg(st.id)); err != nil {
			c.log.Warn("get_data_device", "seat", st.global, "err", err)
		} else {
			c.mu.Lock()
			st.dataDevice = p.id
			c.mu.Unlock()
		}
	}
	if pm != 0 && !havePrimary {
		iface := ifaceZwpDevice
		if mode == PrimaryGtk {
			iface = ifaceGtkDevice
		}
		p := c.newProxy(iface, 1, c.deviceEvent)
		p.seat, p.sel = st, Primary
		if err := c.send(pm, reqPrimaryMgrGetDevice, newIDArg(p.id), objectArg(st.id)); err != nil {
			c.log.Warn("get primary device", "seat", st.global, "err", err)
		} else {
			c.mu.Lock()
			st.primaryDevice = p.id
			c.mu.Unlock()
		}
	}
}

func (c *Conn) seatEvent(p *proxy, op uint16, m *msgReader) {
	st := p.seat
	switch op {
	case evtSeatCapabilities:
		caps := m.uint()
		if m.err != nil {
			return
		}
		c.updateCapabilities(st, caps)
	case evtSeatName:
		name := m.str()
		if m.err != nil {
			return
		}
		c.mu.Lock()
		st.name = name
		c.mu.Unlock()
		c.emit(SeatNamed{Seat: SeatID(st.global), Name: name})
	}
}

func (c *Conn) updateCapabilities(st *seatState, caps uint32) {
	hasKeyboard := caps&seatCapKeyboard != 0
	hasPointer := caps&seatCapPointer != 0

	if hasKeyboard && st.keyboard == 0 {
		kp := c.newProxy(ifaceKeyboard, st.version, c.keyboardEvent)
		kp.seat = st
		if err := c.send(st.id, reqSeatGetKeyboard, newIDArg(kp.id)); err != nil {
			c.log.Warn("get_keyboard", "seat", st.global, "err", err)
		} else {
			st.keyboard = kp.id
		}
	}
	if !hasKeyboard && st.keyboard != 0 {
		c.releaseInput(st, st.keyboard, reqKeyboardRelease)
		st.keyboard = 0
	}
	if hasPointer && st.pointer == 0 {
		pp := c.newProxy(ifacePointer, st.version, c.pointerEvent)
		pp.seat = st
		if err := c.send(st.id, reqSeatGetPointer, newIDArg(pp.id)); err != nil {
			c.log.Warn("get_pointer", "seat", st.global, "err", err)
		} else {
			st.pointer = pp.id
		}
	}
	if !hasPointer && st.pointer != 0 {
		c.releaseInput(st, st.pointer, reqPointerRelease)
		st.pointer = 0
	}
	st.caps = caps
}

// releaseInput releases a keyboard or pointer when the seat loses the
// capability. The release request exists from version 3 on; older objects
// are just forgotten.
func (c *Conn) releaseInput(st *seatState, id uint32, releaseOp uint16) {
	if st.version >= 3 {
		if err := c.send(id, releaseOp); err == nil {
			c.markDead(id)
			return
		}
	}
	c.drop(id)
}

func (c *Conn) keyboardEvent(p *proxy, op uint16, m *msgReader) {
	switch op {
	case evtKeyboardKeymap:
		// The keymap arrives as an fd we have no use for; close it or the
		// descriptors pile up with every layout change.
		if fd := m.fd(); fd >= 0 {
			unix.Close(fd)
		}
	case evtKeyboardEnter, evtKeyboardLeave, evtKeyboardKey, evtKeyboardModifiers:
		serial := m.uint()
		if m.err != nil {
			return
		}
		c.emit(Input{Seat: SeatID(p.seat.global), Device: KeyboardDevice, Serial: serial})
	}
}

func (c *Conn) pointerEvent(p *proxy, op uint16, m *msgReader) {
	switch op {
	case evtPointerEnter, evtPointerLeave, evtPointerButton:
		serial := m.uint()
		if m.err != nil {
			return
		}
		c.emit(Input{Seat: SeatID(p.seat.global), Device: PointerDevice, Serial: serial})
	}
}

// deviceEvent handles wl_data_device and both primary-selection device
// interfaces; p.sel tells them apart where the opcode layouts differ.
func (c *Conn) deviceEvent(p *proxy, op uint16, m *msgReader) {
	var offerOp, selectionOp uint16
	if p.iface == ifaceDataDevice {
		offerOp, selectionOp = evtDataDeviceDataOffer, evtDataDeviceSelection
	} else {
		offerOp, selectionOp = evtPrimaryDeviceDataOffer, evtPrimaryDeviceSelection
	}
	switch op {
	case offerOp:
		id := m.uint()
		if m.err != nil {
			return
		}
		iface := ifaceDataOffer
		switch p.iface {
		case ifaceZwpDevice:
			iface = ifaceZwpOffer
		case ifaceGtkDevice:
			iface = ifaceGtkOffer
		}
		c.registerRemote(id, iface, c.offerEvent)
	case selectionOp:
		id := m.uint()
		if m.err != nil {
			return
		}
		var mimes []string
		if id != 0 {
			c.mu.Lock()
			if off := c.objects[id]; off != nil {
				mimes = append(mimes, off.mimes...)
			}
			c.mu.Unlock()
		}
		c.emit(SelectionSet{
			Seat:  SeatID(p.seat.global),
			Sel:   p.sel,
			Offer: OfferID(id),
			Mimes: mimes,
		})
	}
}

func (c *Conn) offerEvent(p *proxy, op uint16, m *msgReader) {
	if op != evtOfferOffer {
		return
	}
	mt := m.str()
	if m.err != nil {
		return
	}
	p.mimes = append(p.mimes, mt)
}

// sourceEvent handles all three source interfaces.
func (c *Conn) sourceEvent(p *proxy, op uint16, m *msgReader) {
	sendOp, cancelOp := uint16(evtPrimarySourceSend), uint16(evtPrimarySourceCancelled)
	if p.iface == ifaceDataSource {
		sendOp, cancelOp = evtDataSourceSend, evtDataSourceCancelled
	}
	switch op {
	case sendOp:
		mt := m.str()
		fd := m.fd()
		if m.err != nil {
			return
		}
		// Non-blocking so the *os.File honors write deadlines.
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			return
		}
		f := os.NewFile(uintptr(fd), "wayland-send-pipe")
		c.emit(SendRequested{Source: SourceID(p.id), Mime: mt, File: f})
	case cancelOp:
		c.emit(SourceCancelled{Source: SourceID(p.id)})
	}
}

func (c *Conn) syncEvent(p *proxy, op uint16, _ *msgReader) {
	if op == evtCallbackDone {
		c.emit(SyncDone{Token: p.id})
	}
}

func (c *Conn) ignoreEvent(_ *proxy, _ uint16, _ *msgReader) {}

// teardownSeat releases everything hanging off a removed seat.
func (c *Conn) teardownSeat(st *seatState) {
	if st.keyboard != 0 {
		c.releaseInput(st, st.keyboard, reqKeyboardRelease)
		st.keyboard = 0
	}
	if st.pointer != 0 {
		c.releaseInput(st, st.pointer, reqPointerRelease)
		st.pointer = 0
	}
	c.mu.Lock()
	dataDev := st.dataDevice
	primaryDev := st.primaryDevice
	st.dataDevice, st.primaryDevice = 0, 0
	delete(c.seats, st.global)
	name := st.name
	c.mu.Unlock()

	if dataDev != 0 {
		// wl_data_device has no destructor at version 1.
		c.drop(dataDev)
	}
	if primaryDev != 0 {
		if err := c.send(primaryDev, reqPrimaryDeviceDestroy); err == nil {
			c.markDead(primaryDev)
		} else {
			c.drop(primaryDev)
		}
	}
	if st.version >= 5 {
		if err := c.send(st.id, reqSeatRelease); err == nil {
			c.markDead(st.id)
		} else {
			c.drop(st.id)
		}
	} else {
		c.drop(st.id)
	}
	c.log.Debug("seat removed", "seat", st.global, "name", name)
	c.emit(SeatRemoved{Seat: SeatID(st.global)})
}
