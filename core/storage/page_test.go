package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPagePinUnpin(t *testing.T) {
	p := NewPage()
	require.Equal(t, int32(0), p.PinCount())

	p.Pin()
	p.Pin()
	require.Equal(t, int32(2), p.PinCount())

	p.Unpin()
	require.Equal(t, int32(1), p.PinCount())

	p.Unpin()
	p.Unpin() // unpinning below zero is a no-op
	require.Equal(t, int32(0), p.PinCount())
}

func TestPageResetClearsState(t *testing.T) {
	p := NewPage()
	p.SetPageID(7)
	p.Pin()
	p.SetDirty(true)
	p.Data()[0] = 0xFF

	p.Reset()

	require.Equal(t, InvalidPageID, p.ID())
	require.Equal(t, int32(0), p.PinCount())
	require.False(t, p.IsDirty())
	require.Equal(t, byte(0), p.Data()[0])
}
