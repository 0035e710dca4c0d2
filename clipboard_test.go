package wlsel

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"go.klb.dev/wlsel/internal/mime"
	"go.klb.dev/wlsel/internal/wayland"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClipboard wires a Clipboard to a fake compositor with one seat.
func newTestClipboard(t *testing.T, mode wayland.PrimaryMode) (*Clipboard, *fakeConn) {
	t.Helper()
	f := newFakeConn(mode)
	f.addSeat(1, "seat0")
	c := newClipboard(testLogger(), f, 5*time.Second)
	t.Cleanup(func() { c.Close() })
	return c, f
}

func staticServe(data []byte) func(string, *os.File) {
	return func(_ string, w *os.File) {
		if len(data) > 0 {
			w.Write(data)
		}
		w.Close()
	}
}

// hangingServe holds the transfer open until release is closed, then ends
// it without delivering anything.
func hangingServe(release <-chan struct{}) func(string, *os.File) {
	return func(_ string, w *os.File) {
		<-release
		w.Close()
	}
}

// releaser returns a hold channel plus an idempotent release function that
// is also registered as cleanup, so hung serve goroutines always exit.
func releaser(t *testing.T) (chan struct{}, func()) {
	t.Helper()
	release := make(chan struct{})
	once := sync.OnceFunc(func() { close(release) })
	t.Cleanup(once)
	return release, once
}

func TestStoreLoadRoundTrip(t *testing.T) {
	t.Parallel()
	c, f := newTestClipboard(t, wayland.PrimaryZwp)
	f.input(1, wayland.KeyboardDevice, 10)

	require.NoError(t, c.Store("", "hello wayland"))
	got, err := c.Load(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "hello wayland", got)

	// A second store replaces the first wholesale.
	require.NoError(t, c.Store("", "second"))
	got, err = c.Load(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "second", got)
}

func TestPrimaryRoundTrip(t *testing.T) {
	t.Parallel()
	c, f := newTestClipboard(t, wayland.PrimaryZwp)
	f.input(1, wayland.PointerDevice, 4)

	require.True(t, c.PrimarySupported())
	require.NoError(t, c.StorePrimary("", "selected words"))
	got, err := c.LoadPrimary(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "selected words", got)
}

func TestSelectionsAreIndependent(t *testing.T) {
	t.Parallel()
	c, f := newTestClipboard(t, wayland.PrimaryZwp)
	f.input(1, wayland.KeyboardDevice, 11)
	f.input(1, wayland.PointerDevice, 22)

	require.NoError(t, c.Store("", "clip text"))
	require.NoError(t, c.StorePrimary("", "primary text"))

	got, err := c.Load(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "clip text", got)

	got, err = c.LoadPrimary(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "primary text", got)

	// Each claim cited the serial of its natural device.
	require.Equal(t, uint32(11), f.serialFor(1, wayland.Clipboard))
	require.Equal(t, uint32(22), f.serialFor(1, wayland.Primary))
}

func TestSeatResolution(t *testing.T) {
	t.Parallel()
	c, f := newTestClipboard(t, wayland.PrimaryZwp)
	f.addSeat(2, "seat1")
	f.input(2, wayland.KeyboardDevice, 5)

	// The empty seat name goes to the most recently active seat.
	require.NoError(t, c.Store("", "x"))
	require.NotZero(t, f.currentSource(2, wayland.Clipboard))
	require.Zero(t, f.currentSource(1, wayland.Clipboard))

	// Explicit names pick regardless of recency.
	require.NoError(t, c.Store("seat0", "y"))
	require.NotZero(t, f.currentSource(1, wayland.Clipboard))

	_, err := c.Load(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNoSeat)
	require.ErrorContains(t, err, `"missing"`)
}

func TestNoSeatAvailable(t *testing.T) {
	t.Parallel()
	f := newFakeConn(wayland.PrimaryZwp)
	c := newClipboard(testLogger(), f, time.Second)
	t.Cleanup(func() { c.Close() })

	require.ErrorIs(t, c.Store("", "x"), ErrNoSeat)
	_, err := c.Load(context.Background(), "")
	require.ErrorIs(t, err, ErrNoSeat)
	require.Empty(t, c.Seats())
}

func TestLoadForeignSelection(t *testing.T) {
	t.Parallel()
	c, f := newTestClipboard(t, wayland.PrimaryZwp)

	f.setForeign(1, wayland.Clipboard,
		[]string{mime.XString, mime.Plain, mime.PlainUTF8},
		staticServe([]byte("from a neighbor")))

	got, err := c.Load(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "from a neighbor", got)
	require.Equal(t, mime.PlainUTF8, f.receivedMime(), "the most explicit text form wins")
}

func TestLoadEmptySelection(t *testing.T) {
	t.Parallel()
	c, _ := newTestClipboard(t, wayland.PrimaryZwp)

	_, err := c.Load(context.Background(), "")
	require.ErrorIs(t, err, ErrEmpty)
}

func TestLoadClearedSelection(t *testing.T) {
	t.Parallel()
	c, f := newTestClipboard(t, wayland.PrimaryZwp)

	f.setForeign(1, wayland.Clipboard, []string{mime.PlainUTF8}, staticServe([]byte("soon gone")))
	f.clearSelection(1, wayland.Clipboard)

	_, err := c.Load(context.Background(), "")
	require.ErrorIs(t, err, ErrEmpty)
}

func TestLoadZeroBytes(t *testing.T) {
	t.Parallel()
	c, f := newTestClipboard(t, wayland.PrimaryZwp)

	f.setForeign(1, wayland.Clipboard, []string{mime.PlainUTF8}, staticServe(nil))

	got, err := c.Load(context.Background(), "")
	require.NoError(t, err, "an owner delivering zero bytes is not an empty selection")
	require.Equal(t, "", got)
}

func TestLoadUnsupportedFormat(t *testing.T) {
	t.Parallel()
	c, f := newTestClipboard(t, wayland.PrimaryZwp)

	f.setForeign(1, wayland.Clipboard, []string{"image/png"}, staticServe([]byte{0x89}))

	_, err := c.Load(context.Background(), "")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadInvalidUTF8(t *testing.T) {
	t.Parallel()
	c, f := newTestClipboard(t, wayland.PrimaryZwp)

	f.setForeign(1, wayland.Clipboard, []string{mime.PlainUTF8},
		staticServe([]byte{0xff, 0xfe, 'h', 'i'}))

	_, err := c.Load(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestLoadNormalizesLineEndings(t *testing.T) {
	t.Parallel()
	c, f := newTestClipboard(t, wayland.PrimaryZwp)

	f.setForeign(1, wayland.Clipboard, []string{mime.PlainUTF8},
		staticServe([]byte("one\r\ntwo\rthree")))
	got, err := c.Load(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "one\ntwo\nthree", got)

	// The X11 atom forms pass through verbatim.
	f.setForeign(1, wayland.Clipboard, []string{mime.UTF8String},
		staticServe([]byte("one\r\ntwo")))
	got, err = c.Load(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "one\r\ntwo", got)
}

func TestPrimaryUnsupportedFailsFast(t *testing.T) {
	t.Parallel()
	f := newFakeConn(wayland.PrimaryNone)
	f.addSeat(1, "seat0")
	c := newClipboard(testLogger(), f, time.Second)
	t.Cleanup(func() { c.Close() })

	require.False(t, c.PrimarySupported())
	require.ErrorIs(t, c.StorePrimary("", "x"), ErrPrimaryUnsupported)
	_, err := c.LoadPrimary(context.Background(), "")
	require.ErrorIs(t, err, ErrPrimaryUnsupported)
	require.Zero(t, f.transportCalls(), "primary ops must fail before any protocol traffic")

	// The regular selection is unaffected.
	f.input(1, wayland.KeyboardDevice, 1)
	require.NoError(t, c.Store("", "still fine"))
}

func TestOwnershipLoss(t *testing.T) {
	t.Parallel()
	c, f := newTestClipboard(t, wayland.PrimaryZwp)
	f.input(1, wayland.KeyboardDevice, 3)

	require.NoError(t, c.Store("", "mine"))
	infos := c.Seats()
	require.Len(t, infos, 1)
	require.True(t, infos[0].OwnsClipboard)

	src := f.currentSource(1, wayland.Clipboard)
	require.NotZero(t, src)

	// Another client takes the clipboard.
	f.setForeign(1, wayland.Clipboard, []string{mime.PlainUTF8}, staticServe([]byte("theirs")))

	infos = c.Seats()
	require.False(t, infos[0].OwnsClipboard, "cancellation must drop ownership")
	require.True(t, f.sourceDestroyed(src))

	got, err := c.Load(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "theirs", got)
}

func TestLoadCoalescing(t *testing.T) {
	t.Parallel()
	c, f := newTestClipboard(t, wayland.PrimaryZwp)
	release, releaseNow := releaser(t)

	f.setForeign(1, wayland.Clipboard, []string{mime.PlainUTF8},
		func(_ string, w *os.File) {
			<-release
			w.Write([]byte("shared result"))
			w.Close()
		})

	first := make(chan loadResult, 1)
	go func() {
		text, err := c.Load(context.Background(), "")
		first <- loadResult{text: text, err: err}
	}()
	require.Eventually(t, func() bool { return f.receives() == 1 },
		5*time.Second, time.Millisecond, "first load should start a transfer")

	// Joiners hand their requests straight to the worker; once the send is
	// accepted they are guaranteed to share the pending transfer.
	second := make(chan loadResult, 1)
	third := make(chan loadResult, 1)
	c.w.cmds <- loadReq{sel: wayland.Clipboard, seat: "", reply: second}
	c.w.cmds <- loadReq{sel: wayland.Clipboard, seat: "", reply: third}

	releaseNow()

	for _, ch := range []chan loadResult{first, second, third} {
		select {
		case res := <-ch:
			require.NoError(t, res.err)
			require.Equal(t, "shared result", res.text)
		case <-time.After(5 * time.Second):
			t.Fatal("load did not finish")
		}
	}
	require.Equal(t, 1, f.receives(), "coalesced loads share one transfer")
}

func TestLoadSupersededByNewerSelection(t *testing.T) {
	t.Parallel()
	c, f := newTestClipboard(t, wayland.PrimaryZwp)
	release, _ := releaser(t)

	f.setForeign(1, wayland.Clipboard, []string{mime.PlainUTF8}, hangingServe(release))
	oldOffer := f.currentOffer(1, wayland.Clipboard)

	done := make(chan loadResult, 1)
	go func() {
		text, err := c.Load(context.Background(), "")
		done <- loadResult{text: text, err: err}
	}()
	require.Eventually(t, func() bool { return f.receives() == 1 },
		5*time.Second, time.Millisecond)

	// The selection changes hands mid-transfer; the load follows it.
	f.setForeign(1, wayland.Clipboard, []string{mime.PlainUTF8}, staticServe([]byte("newer content")))

	select {
	case res := <-done:
		require.NoError(t, res.err)
		require.Equal(t, "newer content", res.text)
	case <-time.After(5 * time.Second):
		t.Fatal("load did not finish")
	}
	require.Equal(t, 2, f.receives(), "superseded transfer restarts on the new offer")
	require.True(t, f.offerDestroyed(oldOffer))
}

func TestLoadTimeout(t *testing.T) {
	t.Parallel()
	f := newFakeConn(wayland.PrimaryZwp)
	f.addSeat(1, "seat0")
	c := newClipboard(testLogger(), f, 60*time.Millisecond)
	t.Cleanup(func() { c.Close() })
	release, _ := releaser(t)

	f.setForeign(1, wayland.Clipboard, []string{mime.PlainUTF8}, hangingServe(release))

	_, err := c.Load(context.Background(), "")
	require.ErrorIs(t, err, ErrTimeout)
}

func TestLoadContextCancel(t *testing.T) {
	t.Parallel()
	c, f := newTestClipboard(t, wayland.PrimaryZwp)
	release, _ := releaser(t)

	f.setForeign(1, wayland.Clipboard, []string{mime.PlainUTF8}, hangingServe(release))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Load(ctx, "")
		done <- err
	}()
	require.Eventually(t, func() bool { return f.receives() == 1 },
		5*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled load did not return")
	}
}

func TestCloseUnblocksLoad(t *testing.T) {
	t.Parallel()
	c, f := newTestClipboard(t, wayland.PrimaryZwp)
	release, _ := releaser(t)

	f.setForeign(1, wayland.Clipboard, []string{mime.PlainUTF8}, hangingServe(release))

	done := make(chan error, 1)
	go func() {
		_, err := c.Load(context.Background(), "")
		done <- err
	}()
	require.Eventually(t, func() bool { return f.receives() == 1 },
		5*time.Second, time.Millisecond)

	require.NoError(t, c.Close())
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(5 * time.Second):
		t.Fatal("load did not unblock on close")
	}
}

func TestTransportFailureUnblocksLoad(t *testing.T) {
	t.Parallel()
	c, f := newTestClipboard(t, wayland.PrimaryZwp)
	release, _ := releaser(t)

	f.setForeign(1, wayland.Clipboard, []string{mime.PlainUTF8}, hangingServe(release))

	done := make(chan error, 1)
	go func() {
		_, err := c.Load(context.Background(), "")
		done <- err
	}()
	require.Eventually(t, func() bool { return f.receives() == 1 },
		5*time.Second, time.Millisecond)

	f.fail(io.ErrUnexpectedEOF)
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrDisconnected)
		require.ErrorContains(t, err, "unexpected EOF")
	case <-time.After(5 * time.Second):
		t.Fatal("load did not unblock on transport failure")
	}

	require.ErrorIs(t, c.Store("", "x"), ErrDisconnected)
}

func TestSeatRemovalFailsPendingLoad(t *testing.T) {
	t.Parallel()
	c, f := newTestClipboard(t, wayland.PrimaryZwp)
	release, _ := releaser(t)

	f.setForeign(1, wayland.Clipboard, []string{mime.PlainUTF8}, hangingServe(release))

	done := make(chan error, 1)
	go func() {
		_, err := c.Load(context.Background(), "")
		done <- err
	}()
	require.Eventually(t, func() bool { return f.receives() == 1 },
		5*time.Second, time.Millisecond)

	f.removeSeat(1)
	select {
	case err := <-done:
		require.Error(t, err)
		require.ErrorContains(t, err, "removed")
	case <-time.After(5 * time.Second):
		t.Fatal("load did not fail on seat removal")
	}

	require.ErrorIs(t, c.Store("", "x"), ErrNoSeat)
}

func TestCloseIdempotent(t *testing.T) {
	t.Parallel()
	c, _ := newTestClipboard(t, wayland.PrimaryZwp)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	require.ErrorIs(t, c.Store("", "x"), ErrDisconnected)
	_, err := c.Load(context.Background(), "")
	require.ErrorIs(t, err, ErrDisconnected)
	require.Nil(t, c.Seats())
}

func TestCloseUnblocksStuckWriter(t *testing.T) {
	t.Parallel()
	c, f := newTestClipboard(t, wayland.PrimaryZwp)
	f.input(1, wayland.KeyboardDevice, 2)

	// Big enough that the transfer cannot fit in the pipe buffer.
	require.NoError(t, c.Store("", strings.Repeat("x", 1<<20)))

	offer := f.currentOffer(1, wayland.Clipboard)
	require.NotZero(t, offer)
	r, err := f.Receive(offer, mime.PlainUTF8)
	require.NoError(t, err)
	defer r.Close()

	// The paste target never reads; Close must still return.
	require.NoError(t, c.Close())
}

func TestSeatsSnapshot(t *testing.T) {
	t.Parallel()
	c, f := newTestClipboard(t, wayland.PrimaryZwp)
	f.addSeat(2, "seat1")
	f.input(2, wayland.KeyboardDevice, 50)
	f.input(2, wayland.PointerDevice, 60)

	require.NoError(t, c.StorePrimary("seat1", "held"))

	infos := c.Seats()
	require.Len(t, infos, 2)
	require.Equal(t, SeatInfo{
		Name:           "seat1",
		KeyboardSerial: 50,
		PointerSerial:  60,
		OwnsPrimary:    true,
	}, infos[0])
	require.Equal(t, SeatInfo{Name: "seat0"}, infos[1])
}
