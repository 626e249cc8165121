package bptree

import (
	"testing"

	"github.com/arvindr-dev/bptreedb/core/storage"
	"github.com/stretchr/testify/require"
)

func newLeaf(maxSize int, id storage.PageID) *LeafPage {
	data := make([]byte, storage.PageSize)
	return InitLeafPage(data, testKeySize, testValueSize, maxSize, id, storage.HeaderPageID)
}

func TestLeafInsertKeepsSortedOrder(t *testing.T) {
	leaf := newLeaf(10, 1)
	for _, k := range []int{5, 1, 3, 4, 2} {
		_, ok := leaf.Insert(encodeN(k), encodeN(k), cmpKeys)
		require.True(t, ok)
	}
	require.Equal(t, 5, leaf.Size())
	for i := 0; i < 5; i++ {
		require.Equal(t, i+1, decodeN(leaf.KeyAt(i)))
	}
}

func TestLeafInsertDuplicateRejected(t *testing.T) {
	leaf := newLeaf(10, 1)
	_, ok := leaf.Insert(encodeN(1), encodeN(1), cmpKeys)
	require.True(t, ok)
	size, ok := leaf.Insert(encodeN(1), encodeN(2), cmpKeys)
	require.False(t, ok)
	require.Equal(t, 1, size)
}

func TestLeafLookupAndRemove(t *testing.T) {
	leaf := newLeaf(10, 1)
	for i := 1; i <= 5; i++ {
		leaf.Insert(encodeN(i), encodeN(i*10), cmpKeys)
	}
	v, ok := leaf.Lookup(encodeN(3), cmpKeys)
	require.True(t, ok)
	require.Equal(t, 30, decodeN(v))

	newSize := leaf.RemoveAndDeleteRecord(encodeN(3), cmpKeys)
	require.Equal(t, 4, newSize)
	_, ok = leaf.Lookup(encodeN(3), cmpKeys)
	require.False(t, ok)

	// Removing an absent key is a no-op.
	require.Equal(t, 4, leaf.RemoveAndDeleteRecord(encodeN(3), cmpKeys))
}

func TestLeafMoveHalfTo(t *testing.T) {
	left := newLeaf(6, 1)
	for i := 1; i <= 6; i++ {
		left.Insert(encodeN(i), encodeN(i), cmpKeys)
	}
	right := newLeaf(6, 2)
	left.MoveHalfTo(right)

	require.Equal(t, 3, left.Size())
	require.Equal(t, 3, right.Size())
	for i := 0; i < 3; i++ {
		require.Equal(t, i+1, decodeN(left.KeyAt(i)))
		require.Equal(t, i+4, decodeN(right.KeyAt(i)))
	}
}

func TestLeafMoveAllTo(t *testing.T) {
	left := newLeaf(10, 1)
	right := newLeaf(10, 2)
	for i := 1; i <= 3; i++ {
		left.Insert(encodeN(i), encodeN(i), cmpKeys)
	}
	for i := 4; i <= 6; i++ {
		right.Insert(encodeN(i), encodeN(i), cmpKeys)
	}
	right.MoveAllTo(left)
	require.Equal(t, 6, left.Size())
	require.Equal(t, 0, right.Size())
	for i := 0; i < 6; i++ {
		require.Equal(t, i+1, decodeN(left.KeyAt(i)))
	}
}

func TestLeafBorrowLastToFront(t *testing.T) {
	left := newLeaf(10, 1)
	right := newLeaf(10, 2)
	for i := 1; i <= 3; i++ {
		left.Insert(encodeN(i), encodeN(i), cmpKeys)
	}
	for i := 10; i <= 11; i++ {
		right.Insert(encodeN(i), encodeN(i), cmpKeys)
	}
	left.MoveLastToFrontOf(right)
	require.Equal(t, 2, left.Size())
	require.Equal(t, 3, right.Size())
	require.Equal(t, 3, decodeN(right.KeyAt(0)))
}

func TestLeafBorrowFirstToEnd(t *testing.T) {
	left := newLeaf(10, 1)
	right := newLeaf(10, 2)
	for i := 1; i <= 2; i++ {
		left.Insert(encodeN(i), encodeN(i), cmpKeys)
	}
	for i := 10; i <= 13; i++ {
		right.Insert(encodeN(i), encodeN(i), cmpKeys)
	}
	right.MoveFirstToEndOf(left)
	require.Equal(t, 3, left.Size())
	require.Equal(t, 3, right.Size())
	require.Equal(t, 10, decodeN(left.KeyAt(2)))
	require.Equal(t, 11, decodeN(right.KeyAt(0)))
}
