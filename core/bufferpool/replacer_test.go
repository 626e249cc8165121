package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplacerVictimIsLeastRecentlyUnpinned(t *testing.T) {
	r := newLRUReplacer()
	r.unpin(1)
	r.unpin(2)
	r.unpin(3)
	require.Equal(t, 3, r.size())

	v, ok := r.victim()
	require.True(t, ok)
	require.Equal(t, 1, v, "frame 1 was unpinned first, so it's the LRU victim")

	v, ok = r.victim()
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestReplacerPinRemovesFromEvictableSet(t *testing.T) {
	r := newLRUReplacer()
	r.unpin(1)
	r.unpin(2)

	r.pin(1)
	require.Equal(t, 1, r.size())

	v, ok := r.victim()
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestReplacerUnpinMovesToMRU(t *testing.T) {
	r := newLRUReplacer()
	r.unpin(1)
	r.unpin(2)
	r.unpin(1) // re-touch 1, it should no longer be the LRU victim

	v, ok := r.victim()
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestReplacerVictimOnEmptyReturnsFalse(t *testing.T) {
	r := newLRUReplacer()
	_, ok := r.victim()
	require.False(t, ok)
}
