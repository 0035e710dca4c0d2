package wlsel

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
	"unicode/utf8"

	"go.klb.dev/wlsel/internal/mime"
	"go.klb.dev/wlsel/internal/wayland"
)

// offerState is the current offer on one selection slot, as last announced
// by the compositor.
type offerState struct {
	id    wayland.OfferID
	mimes []string
}

// pending is one in-flight load. Concurrent loads for the same slot
// coalesce into it and share its deadline and outcome.
type pending struct {
	waiters  []chan loadResult
	deadline time.Time

	// syncToken orders the load after every compositor event queued before
	// it; negotiation starts when the matching SyncDone lands. Zero once
	// negotiation has started.
	syncToken uint32

	// reader is the pipe being drained, nil outside a transfer. gen tags
	// reader results so a superseded transfer's outcome is discarded.
	reader *os.File
	gen    int
}

// readResult is what a transfer goroutine reports back to the worker.
type readResult struct {
	key  ownedKey
	gen  int
	mime string
	data []byte
	err  error
}

func (w *worker) handleLoad(req loadReq) {
	if w.dead {
		req.reply <- loadResult{err: w.deadErr()}
		return
	}
	s := w.reg.Resolve(req.seat)
	if s == nil {
		req.reply <- loadResult{err: seatErr(req.seat)}
		return
	}
	key := ownedKey{seat: s.ID, sel: req.sel}
	if p := w.pendings[key]; p != nil {
		p.waiters = append(p.waiters, req.reply)
		return
	}
	token, err := w.tr.Sync()
	if err != nil {
		req.reply <- loadResult{err: fmt.Errorf("order load: %w", err)}
		return
	}
	w.pendings[key] = &pending{
		waiters:   []chan loadResult{req.reply},
		deadline:  time.Now().Add(w.loadTimeout),
		syncToken: token,
	}
	w.rearmLoadTimer()
}

func (w *worker) handleSyncDone(token uint32) {
	for key, p := range w.pendings {
		if p.syncToken == token {
			w.negotiate(key, p)
			return
		}
	}
}

// negotiate picks a MIME type from the slot's current offer and starts the
// pipe transfer. It resolves the pending immediately when there is nothing
// readable.
func (w *worker) negotiate(key ownedKey, p *pending) {
	p.syncToken = 0
	off, ok := w.offers[key]
	if !ok {
		w.resolvePending(key, p, "", ErrEmpty)
		return
	}
	mt, ok := mime.Select(off.mimes)
	if !ok {
		w.log.Debug("selection offers no text", "selection", key.sel, "mimes", off.mimes)
		w.resolvePending(key, p, "", ErrUnsupportedFormat)
		return
	}
	r, err := w.tr.Receive(off.id, mt)
	if err != nil {
		w.resolvePending(key, p, "", fmt.Errorf("receive %s: %w", mt, err))
		return
	}
	// The transfer shares the load's deadline; expiry surfaces here as a
	// deadline error if the timer has not fired first.
	_ = r.SetReadDeadline(p.deadline)
	p.gen++
	p.reader = r
	w.readers++
	go w.readOffer(key, p.gen, mt, r)
}

func (w *worker) readOffer(key ownedKey, gen int, mt string, r *os.File) {
	data, err := io.ReadAll(r)
	r.Close()
	w.readResults <- readResult{key: key, gen: gen, mime: mt, data: data, err: err}
}

func (w *worker) handleReadResult(res readResult) {
	p := w.pendings[res.key]
	if p == nil || p.reader == nil || res.gen != p.gen {
		return // resolved or superseded while the pipe drained
	}
	p.reader = nil
	if res.err != nil {
		if errors.Is(res.err, os.ErrDeadlineExceeded) {
			w.resolvePending(res.key, p, "", ErrTimeout)
			return
		}
		w.resolvePending(res.key, p, "", fmt.Errorf("read selection: %w", res.err))
		return
	}
	if !utf8.Valid(res.data) {
		w.resolvePending(res.key, p, "", ErrInvalidUTF8)
		return
	}
	text := string(mime.Normalize(res.mime, res.data))
	w.resolvePending(res.key, p, text, nil)
}

// handleSelectionSet records the slot's new offer and releases the old one.
// A load caught mid-transfer restarts against the new offer: whoever owns
// the selection now is what the caller asked about.
func (w *worker) handleSelectionSet(ev wayland.SelectionSet) {
	key := ownedKey{seat: ev.Seat, sel: ev.Sel}
	old, hadOld := w.offers[key]
	if ev.Offer != 0 {
		w.offers[key] = offerState{id: ev.Offer, mimes: ev.Mimes}
	} else {
		delete(w.offers, key)
	}
	if hadOld && old.id != ev.Offer {
		_ = w.tr.DestroyOffer(old.id)
	}
	if p := w.pendings[key]; p != nil && p.syncToken == 0 {
		w.abandonReader(p)
		w.negotiate(key, p)
	}
}

func (w *worker) expireLoads(now time.Time) {
	for key, p := range w.pendings {
		if !p.deadline.After(now) {
			w.resolvePending(key, p, "", ErrTimeout)
		}
	}
	w.rearmLoadTimer()
}

// resolvePending delivers the outcome to every coalesced waiter and retires
// the pending, abandoning any transfer still running.
func (w *worker) resolvePending(key ownedKey, p *pending, text string, err error) {
	delete(w.pendings, key)
	w.abandonReader(p)
	for _, ch := range p.waiters {
		ch <- loadResult{text: text, err: err}
	}
	w.rearmLoadTimer()
}

// abandonReader yanks the transfer goroutine's deadline so it unblocks and
// reports promptly; the bumped generation makes its report fall on the
// floor.
func (w *worker) abandonReader(p *pending) {
	if p.reader == nil {
		return
	}
	_ = p.reader.SetReadDeadline(time.Now())
	p.reader = nil
	p.gen++
}

// rearmLoadTimer points the single deadline timer at the earliest pending
// load, or parks it when none remain.
func (w *worker) rearmLoadTimer() {
	var earliest time.Time
	for _, p := range w.pendings {
		if earliest.IsZero() || p.deadline.Before(earliest) {
			earliest = p.deadline
		}
	}
	w.timer.Stop()
	if !earliest.IsZero() {
		w.timer.Reset(time.Until(earliest))
	}
}
