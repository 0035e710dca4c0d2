package wayland

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// eventBuffer sizes the Events channel. It has to absorb the startup burst
// (seats, names, initial selection state) that is queued before the
// consumer starts draining; afterwards the dispatch goroutine provides
// backpressure naturally.
const eventBuffer = 256

// Conn is a connection to a Wayland compositor, reduced to the selection
// protocols. Request methods are safe for concurrent use; events are
// delivered on a single channel in wire order.
type Conn struct {
	log *slog.Logger
	uc  *net.UnixConn

	writeMu sync.Mutex // serializes request writes

	mu          sync.Mutex // objects, ids, seats, managers, err
	objects     map[uint32]*proxy
	ids         idPool
	seats       map[uint32]*seatState
	registry    uint32
	ddm         uint32
	primaryMgr  uint32
	primaryMode PrimaryMode
	zwpGlobal   uint32 // registry names seen during the handshake
	gtkGlobal   uint32
	negotiated  bool // primary-selection mode is fixed; late globals are ignored
	err         error

	events chan Event

	// Read-side state, touched only by the goroutine that dispatches
	// (the handshake first, then readLoop).
	scratch []byte
	oob     []byte
	rbuf    []byte
	roff    int
	fdq     fdQueue
	emitQ   []Event
	dispErr error
}

func newConn(log *slog.Logger, uc *net.UnixConn) *Conn {
	if log == nil {
		log = slog.Default()
	}
	c := &Conn{
		log:     log,
		uc:      uc,
		objects: make(map[uint32]*proxy),
		seats:   make(map[uint32]*seatState),
		events:  make(chan Event, eventBuffer),
	}
	c.objects[displayID] = &proxy{id: displayID, iface: ifaceDisplay, version: 1, handler: c.displayEvent}
	return c
}

// Events returns the event stream. The same channel is returned on every
// call; it closes once the connection is dead.
func (c *Conn) Events() <-chan Event { return c.events }

// Err reports why the connection died. It is meaningful once the Events
// channel has closed; an orderly Close surfaces net.ErrClosed.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// PrimaryMode reports which primary-selection protocol the handshake
// negotiated, if any.
func (c *Conn) PrimaryMode() PrimaryMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primaryMode
}

// Close shuts the socket down. The dispatch goroutine notices, closes the
// Events channel, and records the cause in Err.
func (c *Conn) Close() error {
	return c.uc.Close()
}

// Sync starts an asynchronous roundtrip. The returned token comes back as a
// SyncDone event after the compositor has processed every request sent
// before it, which also means every event it queued first has been
// delivered.
func (c *Conn) Sync() (uint32, error) {
	p := c.newProxy(ifaceCallback, 1, c.syncEvent)
	if err := c.send(displayID, reqDisplaySync, newIDArg(p.id)); err != nil {
		return 0, fmt.Errorf("sync: %w", err)
	}
	return p.id, nil
}

// CreateSource creates a selection source advertising the given MIME types.
// The source starts receiving SendRequested and SourceCancelled events once
// it is installed with SetSelection.
func (c *Conn) CreateSource(sel Selection, mimes []string) (SourceID, error) {
	var (
		mgr      uint32
		srcIface string
		createOp uint16
	)
	c.mu.Lock()
	if sel == Clipboard {
		mgr, srcIface, createOp = c.ddm, ifaceDataSource, reqDDMCreateSource
	} else {
		mgr, createOp = c.primaryMgr, reqPrimaryMgrCreateSource
		if c.primaryMode == PrimaryGtk {
			srcIface = ifaceGtkSource
		} else {
			srcIface = ifaceZwpSource
		}
	}
	c.mu.Unlock()
	if mgr == 0 {
		return 0, fmt.Errorf("no %s manager bound", sel)
	}
	p := c.newProxy(srcIface, 1, c.sourceEvent)
	if err := c.send(mgr, createOp, newIDArg(p.id)); err != nil {
		return 0, fmt.Errorf("create %s source: %w", sel, err)
	}
	for _, mt := range mimes {
		if err := c.send(p.id, reqSourceOffer, stringArg(mt)); err != nil {
			return 0, fmt.Errorf("offer %s: %w", mt, err)
		}
	}
	return SourceID(p.id), nil
}

// SetSelection installs a source as the seat's selection, citing the given
// input serial. A zero source clears the selection.
func (c *Conn) SetSelection(seat SeatID, sel Selection, source SourceID, serial uint32) error {
	var (
		dev uint32
		op  uint16
	)
	c.mu.Lock()
	if st := c.seats[uint32(seat)]; st != nil {
		if sel == Clipboard {
			dev, op = st.dataDevice, reqDataDeviceSetSelection
		} else {
			dev, op = st.primaryDevice, reqPrimaryDeviceSetSelection
		}
	}
	c.mu.Unlock()
	if dev == 0 {
		return fmt.Errorf("seat %d has no %s device", seat, sel)
	}
	if err := c.send(dev, op, objectArg(uint32(source)), uintArg(serial)); err != nil {
		return fmt.Errorf("set %s selection: %w", sel, err)
	}
	return nil
}

// DestroySource releases a source. Destroying an already-destroyed source
// is a no-op.
func (c *Conn) DestroySource(id SourceID) error {
	c.mu.Lock()
	p := c.objects[uint32(id)]
	if p == nil || p.dead {
		c.mu.Unlock()
		return nil
	}
	p.dead = true
	c.mu.Unlock()
	return c.send(uint32(id), reqSourceDestroy)
}

// Receive asks the compositor to write the offer's payload in the given
// MIME type. It returns the read end of the transfer pipe; the write end
// has already been handed to the selection owner.
func (c *Conn) Receive(id OfferID, mt string) (*os.File, error) {
	c.mu.Lock()
	p := c.objects[uint32(id)]
	c.mu.Unlock()
	if p == nil || p.dead {
		return nil, fmt.Errorf("offer %d is gone", id)
	}
	op := uint16(reqPrimaryOfferReceive)
	if p.iface == ifaceDataOffer {
		op = reqDataOfferReceive
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("transfer pipe: %w", err)
	}
	err = c.send(uint32(id), op, stringArg(mt), fdArg(int(w.Fd())))
	w.Close()
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("receive %s: %w", mt, err)
	}
	return r, nil
}

// DestroyOffer releases an offer object we no longer intend to read.
func (c *Conn) DestroyOffer(id OfferID) error {
	c.mu.Lock()
	p := c.objects[uint32(id)]
	if p == nil {
		c.mu.Unlock()
		return nil
	}
	op := uint16(reqPrimaryOfferDestroy)
	if p.iface == ifaceDataOffer {
		op = reqDataOfferDestroy
	}
	// Offers are server-created, so no delete_id will follow; drop the
	// entry now and let any in-flight events land as unknown-object noise.
	delete(c.objects, uint32(id))
	c.mu.Unlock()
	return c.send(uint32(id), op)
}

// newProxy allocates a client id and registers a handler for it.
func (c *Conn) newProxy(iface string, version uint32, h func(*proxy, uint16, *msgReader)) *proxy {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := &proxy{id: c.ids.get(), iface: iface, version: version, handler: h}
	c.objects[p.id] = p
	return p
}

// registerRemote registers a server-created object announced in a new_id
// event argument.
func (c *Conn) registerRemote(id uint32, iface string, h func(*proxy, uint16, *msgReader)) *proxy {
	p := &proxy{id: id, iface: iface, version: 1, handler: h}
	c.mu.Lock()
	c.objects[id] = p
	c.mu.Unlock()
	if id < serverIDMin {
		c.log.Warn("server object announced in client id space", "object", id, "interface", iface)
	}
	return p
}

// markDead flags a client object whose destructor we just sent; the table
// entry survives until delete_id so stray events can be drained.
func (c *Conn) markDead(id uint32) {
	c.mu.Lock()
	if p := c.objects[id]; p != nil {
		p.dead = true
	}
	c.mu.Unlock()
}

// drop removes an object that has no destructor request; later events for
// it are ignored. The id is not recycled.
func (c *Conn) drop(id uint32) {
	c.mu.Lock()
	delete(c.objects, id)
	c.mu.Unlock()
}

// send encodes and writes one request. Writes are synchronous; there is no
// outgoing queue to flush.
func (c *Conn) send(id uint32, opcode uint16, args ...arg) error {
	buf, fds, err := encodeMsg(id, opcode, args...)
	if err != nil {
		return err
	}
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	n, _, err := c.uc.WriteMsgUnix(buf, oob, nil)
	if err != nil {
		return err
	}
	if n < len(buf) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(buf))
	}
	return nil
}

// readLoop dispatches compositor traffic until the connection dies, then
// records the cause and closes the event channel.
func (c *Conn) readLoop() {
	defer close(c.events)
	for {
		if err := c.readAndDispatch(); err != nil {
			c.fail(err)
			return
		}
	}
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.uc.Close()
	for _, fd := range c.fdq.take() {
		unix.Close(fd)
	}
	if !errors.Is(err, net.ErrClosed) {
		c.log.Warn("wayland connection failed", "err", err)
	}
}

// readAndDispatch blocks for more socket data, then dispatches every
// complete message buffered so far and flushes the resulting events.
func (c *Conn) readAndDispatch() error {
	if err := c.readMore(); err != nil {
		return err
	}
	for {
		msg, err := c.nextMessage()
		if err != nil {
			return err
		}
		if msg == nil {
			break
		}
		if err := c.dispatch(msg); err != nil {
			return err
		}
	}
	// Compact: dispatched messages alias rbuf, so this must happen only
	// after the batch is fully handled.
	if c.roff > 0 {
		n := copy(c.rbuf, c.rbuf[c.roff:])
		c.rbuf = c.rbuf[:n]
		c.roff = 0
	}
	c.flushEmits()
	return nil
}

func (c *Conn) readMore() error {
	if c.scratch == nil {
		c.scratch = make([]byte, 16384)
		c.oob = make([]byte, 512)
	}
	n, oobn, _, _, err := c.uc.ReadMsgUnix(c.scratch, c.oob)
	if err != nil {
		return err
	}
	if n == 0 && oobn == 0 {
		return io.EOF
	}
	c.rbuf = append(c.rbuf, c.scratch[:n]...)
	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(c.oob[:oobn])
		if err != nil {
			return fmt.Errorf("parse control message: %w", err)
		}
		for _, cm := range cmsgs {
			fds, err := unix.ParseUnixRights(&cm)
			if err != nil {
				continue // not SCM_RIGHTS
			}
			for _, fd := range fds {
				unix.CloseOnExec(fd)
				c.fdq.push(fd)
			}
		}
	}
	return nil
}

// nextMessage returns the next complete message in the receive buffer, or
// nil when more data is needed.
func (c *Conn) nextMessage() ([]byte, error) {
	avail := c.rbuf[c.roff:]
	if len(avail) < headerSize {
		return nil, nil
	}
	_, _, size := parseHeader(avail)
	if size < headerSize || size > maxMessageSize {
		return nil, fmt.Errorf("malformed message size %d", size)
	}
	if len(avail) < size {
		return nil, nil
	}
	c.roff += size
	return avail[:size], nil
}

func (c *Conn) dispatch(msg []byte) error {
	id, opcode, _ := parseHeader(msg)
	c.mu.Lock()
	p := c.objects[id]
	c.mu.Unlock()
	if p == nil {
		c.log.Debug("event for unknown object", "object", id, "opcode", opcode)
		return nil
	}
	m := &msgReader{data: msg[headerSize:], fds: &c.fdq}
	if p.dead {
		for i := 0; i < eventFDCount(p.iface, opcode); i++ {
			if fd := m.fd(); fd >= 0 {
				unix.Close(fd)
			}
		}
		return nil
	}
	p.handler(p, opcode, m)
	if m.err != nil {
		return fmt.Errorf("decode %s event %d: %w", p.iface, opcode, m.err)
	}
	return c.dispErr
}

// emit queues an event; flushEmits delivers the queue without holding any
// lock, so a busy consumer can never deadlock the dispatcher.
func (c *Conn) emit(ev Event) {
	c.emitQ = append(c.emitQ, ev)
}

func (c *Conn) flushEmits() {
	for i, ev := range c.emitQ {
		c.events <- ev
		c.emitQ[i] = nil
	}
	c.emitQ = c.emitQ[:0]
}

// handshake discovers globals, negotiates the primary-selection protocol,
// and settles seat state before any consumer request can be issued.
func (c *Conn) handshake() error {
	reg := c.newProxy(ifaceRegistry, 1, c.registryEvent)
	c.mu.Lock()
	c.registry = reg.id
	c.mu.Unlock()
	if err := c.send(displayID, reqDisplayRegistry, newIDArg(reg.id)); err != nil {
		return fmt.Errorf("get_registry: %w", err)
	}
	// First roundtrip surfaces the global listing.
	if err := c.roundtripInline(); err != nil {
		return err
	}
	c.bindPrimaryManager()
	c.mu.Lock()
	ddm := c.ddm
	mode := c.primaryMode
	c.mu.Unlock()
	if ddm == 0 {
		return errors.New("compositor does not advertise wl_data_device_manager")
	}
	// Second roundtrip settles seat capabilities, names, and any selection
	// state announced to the fresh data devices.
	if err := c.roundtripInline(); err != nil {
		return err
	}
	c.log.Debug("wayland handshake complete", "seats", len(c.seats), "primary", mode)
	return nil
}

// roundtripInline performs a synchronous roundtrip by dispatching on the
// calling goroutine. Only the handshake may use it; once readLoop owns the
// socket, roundtrips go through Sync.
func (c *Conn) roundtripInline() error {
	done := false
	cb := c.newProxy(ifaceCallback, 1, func(_ *proxy, op uint16, _ *msgReader) {
		if op == evtCallbackDone {
			done = true
		}
	})
	if err := c.send(displayID, reqDisplaySync, newIDArg(cb.id)); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	for !done {
		if err := c.readAndDispatch(); err != nil {
			return err
		}
	}
	return nil
}
