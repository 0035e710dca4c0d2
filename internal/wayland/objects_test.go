package wayland

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDPoolAllocatesAboveDisplay(t *testing.T) {
	t.Parallel()

	var p idPool
	require.Equal(t, uint32(2), p.get())
	require.Equal(t, uint32(3), p.get())
	require.Equal(t, uint32(4), p.get())
}

func TestIDPoolRecyclesDeletedIDs(t *testing.T) {
	t.Parallel()

	var p idPool
	a := p.get()
	b := p.get()
	p.put(a)
	p.put(b)

	// Most recently freed first, then fresh ids again.
	require.Equal(t, b, p.get())
	require.Equal(t, a, p.get())
	require.Equal(t, uint32(4), p.get())
}
