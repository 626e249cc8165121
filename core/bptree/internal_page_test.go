package bptree

import (
	"testing"

	"github.com/arvindr-dev/bptreedb/core/storage"
	"github.com/stretchr/testify/require"
)

func newInternal(maxSize int, id storage.PageID) *InternalPage {
	data := make([]byte, storage.PageSize)
	return InitInternalPage(data, testKeySize, maxSize, id, storage.HeaderPageID)
}

// buildInternal makes an internal page with children [c0, c1, c2, ...] and
// separator keys [k1, k2, ...] such that Lookup(k) < k1 -> c0, k1<=k<k2 ->
// c1, and so on.
func buildInternal(maxSize int, id storage.PageID, children []storage.PageID, keys []int) *InternalPage {
	p := newInternal(maxSize, id)
	p.SetValueAt(0, children[0])
	p.SetSize(len(children))
	for i, k := range keys {
		p.SetKeyAt(i+1, encodeN(k))
		p.SetValueAt(i+1, children[i+1])
	}
	return p
}

func TestInternalLookup(t *testing.T) {
	p := buildInternal(10, 1, []storage.PageID{100, 200, 300}, []int{10, 20})
	require.Equal(t, storage.PageID(100), p.Lookup(encodeN(5), cmpKeys))
	require.Equal(t, storage.PageID(200), p.Lookup(encodeN(10), cmpKeys))
	require.Equal(t, storage.PageID(200), p.Lookup(encodeN(15), cmpKeys))
	require.Equal(t, storage.PageID(300), p.Lookup(encodeN(20), cmpKeys))
	require.Equal(t, storage.PageID(300), p.Lookup(encodeN(999), cmpKeys))
}

func TestInternalInsertNodeAfter(t *testing.T) {
	p := buildInternal(10, 1, []storage.PageID{100, 200}, []int{10})
	newSize := p.InsertNodeAfter(100, encodeN(5), storage.PageID(150))
	require.Equal(t, 3, newSize)
	require.Equal(t, storage.PageID(100), p.ValueAt(0))
	require.Equal(t, 5, decodeN(p.KeyAt(1)))
	require.Equal(t, storage.PageID(150), p.ValueAt(1))
	require.Equal(t, 10, decodeN(p.KeyAt(2)))
	require.Equal(t, storage.PageID(200), p.ValueAt(2))
}

func TestInternalPopulateNewRoot(t *testing.T) {
	p := newInternal(10, 1)
	p.PopulateNewRoot(storage.PageID(100), encodeN(50), storage.PageID(200))
	require.Equal(t, 2, p.Size())
	require.Equal(t, storage.PageID(100), p.ValueAt(0))
	require.Equal(t, storage.PageID(200), p.Lookup(encodeN(50), cmpKeys))
	require.Equal(t, storage.PageID(100), p.Lookup(encodeN(49), cmpKeys))
}

func TestInternalMoveHalfTo(t *testing.T) {
	p := buildInternal(4, 1, []storage.PageID{1, 2, 3, 4, 5}, []int{10, 20, 30, 40})
	right := newInternal(4, 2)
	moved := p.MoveHalfTo(right)

	require.Equal(t, 3, p.Size())
	require.Equal(t, 2, right.Size())
	require.Equal(t, []storage.PageID{4, 5}, moved)
	require.Equal(t, storage.PageID(4), right.ValueAt(0))
	require.Equal(t, storage.PageID(5), right.ValueAt(1))
	require.Equal(t, 40, decodeN(right.KeyAt(1)))
}

func TestInternalValueIndexAndRemoveAt(t *testing.T) {
	p := buildInternal(10, 1, []storage.PageID{1, 2, 3}, []int{10, 20})
	require.Equal(t, 1, p.ValueIndex(2))
	require.Equal(t, -1, p.ValueIndex(99))

	p.RemoveAt(1)
	require.Equal(t, 2, p.Size())
	require.Equal(t, storage.PageID(1), p.ValueAt(0))
	require.Equal(t, storage.PageID(3), p.ValueAt(1))
}

func TestInternalRemoveAndReturnOnlyChild(t *testing.T) {
	p := newInternal(10, 1)
	p.SetValueAt(0, storage.PageID(42))
	p.SetSize(1)
	child := p.RemoveAndReturnOnlyChild()
	require.Equal(t, storage.PageID(42), child)
	require.Equal(t, 0, p.Size())
}

func TestInternalMoveAllTo(t *testing.T) {
	left := buildInternal(10, 1, []storage.PageID{1, 2}, []int{10})
	right := buildInternal(10, 2, []storage.PageID{3, 4}, []int{30})
	moved := right.MoveAllTo(left, encodeN(20))

	require.Equal(t, 4, left.Size())
	require.Equal(t, 0, right.Size())
	require.Equal(t, []storage.PageID{3, 4}, moved)
	require.Equal(t, 20, decodeN(left.KeyAt(2)))
	require.Equal(t, storage.PageID(3), left.ValueAt(2))
	require.Equal(t, 30, decodeN(left.KeyAt(3)))
	require.Equal(t, storage.PageID(4), left.ValueAt(3))
}
