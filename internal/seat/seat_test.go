package seat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.klb.dev/wlsel/internal/wayland"
)

func TestResolveByName(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Add(1, "seat0")
	r.Add(2, "seat1")

	s := r.Resolve("seat1")
	require.NotNil(t, s)
	require.Equal(t, wayland.SeatID(2), s.ID)

	require.Nil(t, r.Resolve("seat9"))
}

func TestResolveDefaultFollowsRecency(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.Nil(t, r.Resolve(""), "empty registry has no default")

	r.Add(1, "seat0")
	r.Add(2, "seat1")

	// Nothing used yet: the most recently registered seat wins.
	require.Equal(t, wayland.SeatID(2), r.Resolve("").ID)

	r.NoteInput(1, wayland.KeyboardDevice, 100)
	require.Equal(t, wayland.SeatID(1), r.Resolve("").ID)

	r.NoteInput(2, wayland.PointerDevice, 101)
	require.Equal(t, wayland.SeatID(2), r.Resolve("").ID)

	// Recency moves even when the serial is stale or zero.
	r.NoteInput(1, wayland.KeyboardDevice, 0)
	require.Equal(t, wayland.SeatID(1), r.Resolve("").ID)
}

func TestSerialPreference(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	s := r.Add(1, "seat0")

	require.Equal(t, uint32(0), s.Serial(wayland.Clipboard))
	require.Equal(t, uint32(0), s.Serial(wayland.Primary))

	r.NoteInput(1, wayland.PointerDevice, 7)
	require.Equal(t, uint32(7), s.Serial(wayland.Clipboard), "pointer serial stands in when no keyboard serial exists")
	require.Equal(t, uint32(7), s.Serial(wayland.Primary))

	r.NoteInput(1, wayland.KeyboardDevice, 9)
	require.Equal(t, uint32(9), s.Serial(wayland.Clipboard))
	require.Equal(t, uint32(7), s.Serial(wayland.Primary), "primary claims prefer pointer serials")
}

func TestAddIsIdempotent(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	a := r.Add(1, "seat0")
	r.NoteInput(1, wayland.KeyboardDevice, 42)

	b := r.Add(1, "renamed")
	require.Same(t, a, b)
	require.Equal(t, "seat0", b.Name, "re-adding must not clobber state")
	require.Equal(t, uint32(42), b.Serial(wayland.Clipboard))
}

func TestRemove(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Add(1, "seat0")
	r.Add(2, "seat1")

	removed := r.Remove(2)
	require.NotNil(t, removed)
	require.Equal(t, wayland.SeatID(2), removed.ID)
	require.Nil(t, r.Remove(2), "double remove")
	require.Equal(t, 1, r.Len())

	require.Equal(t, wayland.SeatID(1), r.Resolve("").ID)
}

func TestSetName(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Add(1, "")
	r.SetName(1, "seat0")
	require.Equal(t, "seat0", r.Get(1).Name)

	r.SetName(9, "ghost") // unknown ids are ignored
}

func TestAllOrdersByRecency(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Add(1, "seat0")
	r.Add(2, "seat1")
	r.Add(3, "seat2")
	r.NoteInput(1, wayland.KeyboardDevice, 5)

	all := r.All()
	require.Len(t, all, 3)
	require.Equal(t, wayland.SeatID(1), all[0].ID)
	require.Equal(t, wayland.SeatID(3), all[1].ID)
	require.Equal(t, wayland.SeatID(2), all[2].ID)
}
