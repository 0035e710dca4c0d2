package wlsel

import (
	"os"

	"go.klb.dev/wlsel/internal/mime"
	"go.klb.dev/wlsel/internal/wayland"
)

// ownedSelection is text this client currently offers on one selection
// slot. data is immutable once captured: a transfer started before a
// replacement still delivers the bytes from its own store call.
type ownedSelection struct {
	key    ownedKey
	source wayland.SourceID
	data   []byte
}

// handleSend answers a transfer request against one of our sources. The
// write happens on its own goroutine; a paste target that never reads must
// not stall the worker.
func (w *worker) handleSend(ev wayland.SendRequested) {
	o := w.bySource[ev.Source]
	var data []byte
	if o != nil && mime.Acceptable(ev.Mime) {
		data = o.data
	} else {
		w.log.Debug("empty transfer", "mime", ev.Mime, "known", o != nil)
	}
	w.writers[ev.File] = struct{}{}
	go w.writeSelection(ev.File, data)
}

func (w *worker) writeSelection(f *os.File, data []byte) {
	if len(data) > 0 {
		if _, err := f.Write(data); err != nil {
			// Receivers may close early after a partial read; that is
			// their call, not a fault.
			w.log.Debug("selection write ended early", "err", err)
		}
	}
	f.Close()
	w.writerResults <- f
}

// handleCancelled drops the owned text for a source another client has
// displaced. This is the only signal that the selection moved on.
func (w *worker) handleCancelled(src wayland.SourceID) {
	o := w.bySource[src]
	if o == nil {
		return
	}
	delete(w.bySource, src)
	if w.owned[o.key] == o {
		delete(w.owned, o.key)
	}
	_ = w.tr.DestroySource(src)
	w.log.Debug("selection ownership lost", "seat", o.key.seat, "selection", o.key.sel)
}
