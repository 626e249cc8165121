package bptree

import "github.com/arvindr-dev/bptreedb/core/storage"

// InternalPage is a borrowed, stateless view over a frame's raw bytes,
// laid out as the common tree header (header.go) followed by
// max_size+1 (key, child_page_id) slots. Slot 0's key is never read or
// compared; it exists only so every slot has the same width and slot 0's
// value is always the leftmost child.
//
// An InternalPage does no I/O and holds no reference to the buffer pool:
// callers fetch the backing page, wrap its Data() here, mutate, mark the
// page dirty, and unpin. Reparenting a moved child (updating the child's
// parent_page_id after a split, merge or redistribute) is the caller's
// job, done via the moved child ids InternalPage's Move* methods return.
type InternalPage struct {
	data    []byte
	keySize int
}

// WrapInternalPage views an already-initialized internal page's bytes.
func WrapInternalPage(data []byte, keySize int) *InternalPage {
	return &InternalPage{data: data, keySize: keySize}
}

// InitInternalPage formats data as a fresh, empty internal page.
func InitInternalPage(data []byte, keySize, maxSize int, pageID, parentPageID storage.PageID) *InternalPage {
	for i := range data {
		data[i] = 0
	}
	setPageTypeOf(data, pageKindInternal)
	setSizeOf(data, 0)
	setMaxSizeOf(data, maxSize)
	setParentPageIDOf(data, parentPageID)
	setPageIDOf(data, pageID)
	return &InternalPage{data: data, keySize: keySize}
}

func (p *InternalPage) slotOffset(i int) int { return commonHeaderSize + i*(p.keySize+4) }

func (p *InternalPage) Size() int        { return sizeOf(p.data) }
func (p *InternalPage) SetSize(n int)    { setSizeOf(p.data, n) }
func (p *InternalPage) MaxSize() int     { return maxSizeOf(p.data) }
func (p *InternalPage) MinSize() int     { return (p.MaxSize() + 1) / 2 }
func (p *InternalPage) IsFull() bool     { return p.Size() > p.MaxSize() }
func (p *InternalPage) IsUnderflow() bool { return p.Size() < p.MinSize() }

func (p *InternalPage) ParentPageID() storage.PageID     { return parentPageIDOf(p.data) }
func (p *InternalPage) SetParentPageID(id storage.PageID) { setParentPageIDOf(p.data, id) }
func (p *InternalPage) PageID() storage.PageID           { return pageIDOf(p.data) }
func (p *InternalPage) IsRootPage() bool                 { return p.ParentPageID() == storage.HeaderPageID }

// KeyAt returns a view of slot i's key. It aliases the page's backing
// array; callers that need the bytes to outlive the page's latch must copy.
func (p *InternalPage) KeyAt(i int) Key {
	off := p.slotOffset(i)
	return Key(p.data[off : off+p.keySize])
}

func (p *InternalPage) SetKeyAt(i int, k Key) {
	off := p.slotOffset(i)
	copy(p.data[off:off+p.keySize], k)
}

func (p *InternalPage) ValueAt(i int) storage.PageID {
	off := p.slotOffset(i) + p.keySize
	return storage.PageID(getInt32(p.data, off))
}

func (p *InternalPage) SetValueAt(i int, v storage.PageID) {
	off := p.slotOffset(i) + p.keySize
	setInt32(p.data, off, int32(v))
}

// Lookup returns the child page id to descend into for key: the value at
// the last slot whose key is <= key (slot 0's unused key counts as -inf).
func (p *InternalPage) Lookup(key Key, cmp Comparator) storage.PageID {
	size := p.Size()
	lo, hi := 1, size
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(p.KeyAt(mid), key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return p.ValueAt(lo - 1)
}

// ValueIndex returns the slot index holding value, or -1 if absent.
func (p *InternalPage) ValueIndex(value storage.PageID) int {
	for i, n := 0, p.Size(); i < n; i++ {
		if p.ValueAt(i) == value {
			return i
		}
	}
	return -1
}

// InsertNodeAfter inserts (newKey, newValue) immediately after the slot
// holding oldValue, used to thread a newly split child's right half into
// its parent. Returns the new size.
func (p *InternalPage) InsertNodeAfter(oldValue storage.PageID, newKey Key, newValue storage.PageID) int {
	idx := p.ValueIndex(oldValue) + 1
	size := p.Size()
	for i := size; i > idx; i-- {
		p.SetKeyAt(i, p.KeyAt(i-1))
		p.SetValueAt(i, p.ValueAt(i-1))
	}
	p.SetKeyAt(idx, newKey)
	p.SetValueAt(idx, newValue)
	p.SetSize(size + 1)
	return size + 1
}

// PopulateNewRoot formats p (already Init'd) as a brand-new root with two
// children: the old root under slot 0, and newValue under slot 1 keyed by
// newKey - the split key produced when the old root split.
func (p *InternalPage) PopulateNewRoot(oldValue storage.PageID, newKey Key, newValue storage.PageID) {
	p.SetValueAt(0, oldValue)
	p.SetKeyAt(1, newKey)
	p.SetValueAt(1, newValue)
	p.SetSize(2)
}

// RemoveAt deletes the slot at idx, shifting later slots left.
func (p *InternalPage) RemoveAt(idx int) {
	size := p.Size()
	for i := idx; i < size-1; i++ {
		p.SetKeyAt(i, p.KeyAt(i+1))
		p.SetValueAt(i, p.ValueAt(i+1))
	}
	p.SetSize(size - 1)
}

// RemoveAndReturnOnlyChild empties p (which must hold exactly one child, in
// slot 0) and returns that child, for collapsing the root when it shrinks
// to a single child.
func (p *InternalPage) RemoveAndReturnOnlyChild() storage.PageID {
	v := p.ValueAt(0)
	p.SetSize(0)
	return v
}

// MoveHalfTo splits p in place: the upper half of its entries move to
// recipient (a freshly Init'd empty page). Returns the moved entries'
// child page ids so the caller can reparent them to recipient.
func (p *InternalPage) MoveHalfTo(recipient *InternalPage) []storage.PageID {
	size := p.Size()
	start := (size + 1) / 2
	moved := make([]storage.PageID, 0, size-start)
	for i := start; i < size; i++ {
		recipient.SetKeyAt(i-start, p.KeyAt(i))
		recipient.SetValueAt(i-start, p.ValueAt(i))
		moved = append(moved, p.ValueAt(i))
	}
	recipient.SetSize(size - start)
	p.SetSize(start)
	return moved
}

// MoveAllTo appends p's entire contents to the end of recipient during a
// merge. middleKey is the separator key pulled down from the parent to
// become the key for p's slot 0 child (whose own key was never stored).
// Returns the moved child ids for reparenting.
func (p *InternalPage) MoveAllTo(recipient *InternalPage, middleKey Key) []storage.PageID {
	rsize := recipient.Size()
	size := p.Size()
	moved := make([]storage.PageID, 0, size)

	recipient.SetKeyAt(rsize, middleKey)
	recipient.SetValueAt(rsize, p.ValueAt(0))
	moved = append(moved, p.ValueAt(0))
	for i := 1; i < size; i++ {
		recipient.SetKeyAt(rsize+i, p.KeyAt(i))
		recipient.SetValueAt(rsize+i, p.ValueAt(i))
		moved = append(moved, p.ValueAt(i))
	}
	recipient.SetSize(rsize + size)
	p.SetSize(0)
	return moved
}

// MoveFirstToEndOf borrows p's first child off to the end of recipient
// (redistribution from a right sibling into a left one that underflowed).
// middleKey is the parent's current separator key, which becomes the key
// for the borrowed entry in recipient; the returned newFirstKey is p's old
// second slot key, which the caller must install as the parent's new
// separator.
func (p *InternalPage) MoveFirstToEndOf(recipient *InternalPage, middleKey Key) (movedChild storage.PageID, newFirstKey Key) {
	rsize := recipient.Size()
	recipient.SetKeyAt(rsize, middleKey)
	recipient.SetValueAt(rsize, p.ValueAt(0))
	recipient.SetSize(rsize + 1)

	movedChild = p.ValueAt(0)
	newFirstKey = append(Key(nil), p.KeyAt(1)...)
	p.RemoveAt(0)
	return
}

// MoveLastToFrontOf borrows p's last child onto the front of recipient
// (redistribution from a left sibling into a right one that underflowed).
// Returns the moved child and the key that used to separate it from the
// rest of p, which the caller installs as the parent's new separator.
func (p *InternalPage) MoveLastToFrontOf(recipient *InternalPage, middleKey Key) (movedChild storage.PageID, newLastKey Key) {
	size := p.Size()
	movedChild = p.ValueAt(size - 1)
	newLastKey = append(Key(nil), p.KeyAt(size-1)...)

	for i := recipient.Size(); i > 0; i-- {
		recipient.SetKeyAt(i, recipient.KeyAt(i-1))
		recipient.SetValueAt(i, recipient.ValueAt(i-1))
	}
	recipient.SetValueAt(0, movedChild)
	recipient.SetKeyAt(1, middleKey)
	recipient.SetSize(recipient.Size() + 1)

	p.SetSize(size - 1)
	return
}
