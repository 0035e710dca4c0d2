package wlsel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"go.klb.dev/wlsel/internal/mime"
	"go.klb.dev/wlsel/internal/seat"
	"go.klb.dev/wlsel/internal/wayland"
)

// ownedKey addresses one selection slot: a seat crossed with the selection
// kind it carries.
type ownedKey struct {
	seat wayland.SeatID
	sel  wayland.Selection
}

// worker owns every piece of protocol state: the seat registry, offered
// sources, current offers, and pending loads. It runs as a single goroutine;
// the facade talks to it over cmds and everything else arrives as transport
// events, so none of this state needs locking.
type worker struct {
	log         *slog.Logger
	tr          transport
	reg         *seat.Registry
	loadTimeout time.Duration

	cmds     chan any
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	readResults   chan readResult
	writerResults chan *os.File

	pendings map[ownedKey]*pending
	offers   map[ownedKey]offerState
	owned    map[ownedKey]*ownedSelection
	bySource map[wayland.SourceID]*ownedSelection

	writers map[*os.File]struct{}
	readers int

	timer *time.Timer
	dead  bool
}

type storeReq struct {
	sel   wayland.Selection
	seat  string
	text  string
	reply chan error
}

type loadReq struct {
	sel   wayland.Selection
	seat  string
	reply chan loadResult
}

type seatsReq struct {
	reply chan []SeatInfo
}

type loadResult struct {
	text string
	err  error
}

func newWorker(log *slog.Logger, tr transport, loadTimeout time.Duration) *worker {
	w := &worker{
		log:           log,
		tr:            tr,
		reg:           seat.NewRegistry(),
		loadTimeout:   loadTimeout,
		cmds:          make(chan any),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
		readResults:   make(chan readResult),
		writerResults: make(chan *os.File),
		pendings:      make(map[ownedKey]*pending),
		offers:        make(map[ownedKey]offerState),
		owned:         make(map[ownedKey]*ownedSelection),
		bySource:      make(map[wayland.SourceID]*ownedSelection),
		writers:       make(map[*os.File]struct{}),
		timer:         time.NewTimer(time.Hour),
	}
	w.timer.Stop()
	return w
}

func (w *worker) run() {
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			w.shutdown(nil)
			return
		case ev, ok := <-w.tr.Events():
			if !ok {
				w.shutdown(w.tr.Err())
				return
			}
			w.handleEvent(ev)
		case req := <-w.cmds:
			// Settle everything the compositor said before this request so
			// a store right after an input event uses its serial, and a
			// load observes selections that were already announced.
			w.drainEvents()
			w.handleRequest(req)
			if w.dead {
				w.shutdown(w.tr.Err())
				return
			}
		case res := <-w.readResults:
			w.readers--
			w.handleReadResult(res)
		case f := <-w.writerResults:
			delete(w.writers, f)
		case <-w.timer.C:
			w.expireLoads(time.Now())
		}
	}
}

// drainEvents consumes every transport event already queued, without
// blocking. It flags the worker dead when the channel has closed.
func (w *worker) drainEvents() {
	for {
		select {
		case ev, ok := <-w.tr.Events():
			if !ok {
				w.dead = true
				return
			}
			w.handleEvent(ev)
		default:
			return
		}
	}
}

func (w *worker) handleEvent(ev wayland.Event) {
	switch ev := ev.(type) {
	case wayland.SeatAdded:
		w.reg.Add(ev.Seat, ev.Name)
	case wayland.SeatNamed:
		w.reg.SetName(ev.Seat, ev.Name)
	case wayland.SeatRemoved:
		w.removeSeat(ev.Seat)
	case wayland.Input:
		w.reg.NoteInput(ev.Seat, ev.Device, ev.Serial)
	case wayland.SelectionSet:
		w.handleSelectionSet(ev)
	case wayland.SendRequested:
		w.handleSend(ev)
	case wayland.SourceCancelled:
		w.handleCancelled(ev.Source)
	case wayland.SyncDone:
		w.handleSyncDone(ev.Token)
	}
}

func (w *worker) handleRequest(req any) {
	switch req := req.(type) {
	case storeReq:
		w.handleStore(req)
	case loadReq:
		w.handleLoad(req)
	case seatsReq:
		w.handleSeats(req)
	}
}

func (w *worker) handleStore(req storeReq) {
	if w.dead {
		req.reply <- w.deadErr()
		return
	}
	s := w.reg.Resolve(req.seat)
	if s == nil {
		req.reply <- seatErr(req.seat)
		return
	}
	src, err := w.tr.CreateSource(req.sel, mime.Offered)
	if err != nil {
		req.reply <- fmt.Errorf("create source: %w", err)
		return
	}
	serial := s.Serial(req.sel)
	if serial == 0 {
		w.log.Debug("claiming selection with zero serial", "seat", s.Name, "selection", req.sel)
	}
	if err := w.tr.SetSelection(s.ID, req.sel, src, serial); err != nil {
		_ = w.tr.DestroySource(src)
		req.reply <- fmt.Errorf("set selection: %w", err)
		return
	}
	key := ownedKey{seat: s.ID, sel: req.sel}
	if prev := w.owned[key]; prev != nil {
		// Replace before destroy so the seat never observes a gap.
		delete(w.bySource, prev.source)
		_ = w.tr.DestroySource(prev.source)
	}
	o := &ownedSelection{key: key, source: src, data: []byte(req.text)}
	w.owned[key] = o
	w.bySource[src] = o
	w.log.Debug("selection claimed",
		"seat", s.Name, "selection", req.sel, "serial", serial, "bytes", len(o.data))
	req.reply <- nil
}

func (w *worker) handleSeats(req seatsReq) {
	infos := make([]SeatInfo, 0, w.reg.Len())
	for _, s := range w.reg.All() {
		infos = append(infos, SeatInfo{
			Name:           s.Name,
			KeyboardSerial: s.KeyboardSerial(),
			PointerSerial:  s.PointerSerial(),
			OwnsClipboard:  w.owned[ownedKey{seat: s.ID, sel: wayland.Clipboard}] != nil,
			OwnsPrimary:    w.owned[ownedKey{seat: s.ID, sel: wayland.Primary}] != nil,
		})
	}
	req.reply <- infos
}

// removeSeat tears down everything attached to a seat the compositor
// destroyed: pending loads fail, owned sources and known offers are
// released.
func (w *worker) removeSeat(id wayland.SeatID) {
	s := w.reg.Remove(id)
	name := ""
	if s != nil {
		name = s.Name
	}
	for _, sel := range []wayland.Selection{wayland.Clipboard, wayland.Primary} {
		key := ownedKey{seat: id, sel: sel}
		if p := w.pendings[key]; p != nil {
			w.resolvePending(key, p, "", fmt.Errorf("load %s: seat %q removed", sel, name))
		}
		if o := w.owned[key]; o != nil {
			delete(w.owned, key)
			delete(w.bySource, o.source)
			_ = w.tr.DestroySource(o.source)
		}
		if off, ok := w.offers[key]; ok {
			delete(w.offers, key)
			_ = w.tr.DestroyOffer(off.id)
		}
	}
	w.log.Debug("seat removed", "seat", name)
}

// shutdown moves the worker through draining to stopped: every pending load
// resolves, sources and offers are released best-effort, the transport
// closes, and in-flight pipe goroutines are joined before run returns.
func (w *worker) shutdown(cause error) {
	w.timer.Stop()
	err := ErrDisconnected
	if cause != nil && !errors.Is(cause, net.ErrClosed) {
		err = fmt.Errorf("%w: %v", ErrDisconnected, cause)
	}
	for key, p := range w.pendings {
		w.resolvePending(key, p, "", err)
	}
	for src := range w.bySource {
		_ = w.tr.DestroySource(src)
	}
	for key, off := range w.offers {
		delete(w.offers, key)
		_ = w.tr.DestroyOffer(off.id)
	}
	_ = w.tr.Close()

	// Unblock writers stuck on a receiver that never reads.
	for f := range w.writers {
		_ = f.SetWriteDeadline(time.Now())
	}
	for w.readers > 0 || len(w.writers) > 0 {
		select {
		case <-w.readResults:
			w.readers--
		case f := <-w.writerResults:
			delete(w.writers, f)
		}
	}

	// The transport keeps delivering until its read loop notices the close;
	// consume so it can, and release any transfer fds events carry.
	for ev := range w.tr.Events() {
		if sr, ok := ev.(wayland.SendRequested); ok {
			sr.File.Close()
		}
	}
	w.log.Debug("worker stopped")
}

func seatErr(name string) error {
	if name == "" {
		return ErrNoSeat
	}
	return fmt.Errorf("seat %q: %w", name, ErrNoSeat)
}

func (w *worker) deadErr() error {
	if err := w.tr.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return ErrDisconnected
}

// The methods below run on caller goroutines. Requests hand off through the
// unbuffered cmds channel; a send only commits when the worker receives it,
// so a worker that has stopped can never strand a caller.

func (w *worker) store(sel wayland.Selection, seatName, text string) error {
	reply := make(chan error, 1)
	select {
	case w.cmds <- storeReq{sel: sel, seat: seatName, text: text, reply: reply}:
	case <-w.done:
		return w.deadErr()
	}
	return <-reply
}

func (w *worker) load(ctx context.Context, sel wayland.Selection, seatName string) (string, error) {
	reply := make(chan loadResult, 1)
	select {
	case w.cmds <- loadReq{sel: sel, seat: seatName, reply: reply}:
	case <-w.done:
		return "", w.deadErr()
	case <-ctx.Done():
		return "", ctx.Err()
	}
	// The worker resolves every accepted load, even while shutting down;
	// the buffered reply keeps it from blocking if we leave early.
	select {
	case res := <-reply:
		return res.text, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (w *worker) seatInfos() []SeatInfo {
	reply := make(chan []SeatInfo, 1)
	select {
	case w.cmds <- seatsReq{reply: reply}:
	case <-w.done:
		return nil
	}
	return <-reply
}

func (w *worker) close() {
	w.quitOnce.Do(func() { close(w.quit) })
	<-w.done
}
