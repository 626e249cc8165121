package bptree

import "github.com/arvindr-dev/bptreedb/core/storage"

// LeafPage is the leaf analogue of InternalPage: the common header plus a
// next_page_id pointer (header.go), followed by max_size+1 (key, value)
// slots kept in sorted key order. It is a borrowed, stateless view; the
// caller owns fetching, latching, dirtying and unpinning the backing page.
type LeafPage struct {
	data      []byte
	keySize   int
	valueSize int
}

// WrapLeafPage views an already-initialized leaf page's bytes.
func WrapLeafPage(data []byte, keySize, valueSize int) *LeafPage {
	return &LeafPage{data: data, keySize: keySize, valueSize: valueSize}
}

// InitLeafPage formats data as a fresh, empty leaf page with no sibling.
func InitLeafPage(data []byte, keySize, valueSize, maxSize int, pageID, parentPageID storage.PageID) *LeafPage {
	for i := range data {
		data[i] = 0
	}
	setPageTypeOf(data, pageKindLeaf)
	setSizeOf(data, 0)
	setMaxSizeOf(data, maxSize)
	setParentPageIDOf(data, parentPageID)
	setPageIDOf(data, pageID)
	setNextPageIDOf(data, storage.InvalidPageID)
	return &LeafPage{data: data, keySize: keySize, valueSize: valueSize}
}

func (p *LeafPage) slotOffset(i int) int { return leafHeaderSize + i*(p.keySize+p.valueSize) }

func (p *LeafPage) Size() int        { return sizeOf(p.data) }
func (p *LeafPage) SetSize(n int)    { setSizeOf(p.data, n) }
func (p *LeafPage) MaxSize() int     { return maxSizeOf(p.data) }
func (p *LeafPage) MinSize() int     { return (p.MaxSize() + 1) / 2 }
func (p *LeafPage) IsFull() bool     { return p.Size() > p.MaxSize() }
func (p *LeafPage) IsUnderflow() bool { return p.Size() < p.MinSize() }

func (p *LeafPage) ParentPageID() storage.PageID      { return parentPageIDOf(p.data) }
func (p *LeafPage) SetParentPageID(id storage.PageID) { setParentPageIDOf(p.data, id) }
func (p *LeafPage) PageID() storage.PageID            { return pageIDOf(p.data) }
func (p *LeafPage) IsRootPage() bool                  { return p.ParentPageID() == storage.HeaderPageID }

func (p *LeafPage) NextPageID() storage.PageID      { return nextPageIDOf(p.data) }
func (p *LeafPage) SetNextPageID(id storage.PageID) { setNextPageIDOf(p.data, id) }

func (p *LeafPage) KeyAt(i int) Key {
	off := p.slotOffset(i)
	return Key(p.data[off : off+p.keySize])
}

func (p *LeafPage) SetKeyAt(i int, k Key) {
	off := p.slotOffset(i)
	copy(p.data[off:off+p.keySize], k)
}

func (p *LeafPage) ValueAt(i int) Value {
	off := p.slotOffset(i) + p.keySize
	return Value(p.data[off : off+p.valueSize])
}

func (p *LeafPage) SetValueAt(i int, v Value) {
	off := p.slotOffset(i) + p.keySize
	copy(p.data[off:off+p.valueSize], v)
}

// KeyIndex returns the index of the first slot whose key is >= key (a
// lower bound), in [0, Size()].
func (p *LeafPage) KeyIndex(key Key, cmp Comparator) int {
	lo, hi := 0, p.Size()
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(p.KeyAt(mid), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Lookup returns the value stored for key, if present.
func (p *LeafPage) Lookup(key Key, cmp Comparator) (Value, bool) {
	idx := p.KeyIndex(key, cmp)
	if idx < p.Size() && cmp(p.KeyAt(idx), key) == 0 {
		return p.ValueAt(idx), true
	}
	return nil, false
}

// Insert inserts (key, value) in sorted position. Reports false without
// modifying p if key is already present. Returns the new size.
func (p *LeafPage) Insert(key Key, value Value, cmp Comparator) (int, bool) {
	idx := p.KeyIndex(key, cmp)
	size := p.Size()
	if idx < size && cmp(p.KeyAt(idx), key) == 0 {
		return size, false
	}
	for i := size; i > idx; i-- {
		p.SetKeyAt(i, p.KeyAt(i-1))
		p.SetValueAt(i, p.ValueAt(i-1))
	}
	p.SetKeyAt(idx, key)
	p.SetValueAt(idx, value)
	p.SetSize(size + 1)
	return size + 1, true
}

// RemoveAndDeleteRecord removes key if present, returning the resulting
// size (unchanged if key was absent).
func (p *LeafPage) RemoveAndDeleteRecord(key Key, cmp Comparator) int {
	idx := p.KeyIndex(key, cmp)
	size := p.Size()
	if idx >= size || cmp(p.KeyAt(idx), key) != 0 {
		return size
	}
	for i := idx; i < size-1; i++ {
		p.SetKeyAt(i, p.KeyAt(i+1))
		p.SetValueAt(i, p.ValueAt(i+1))
	}
	p.SetSize(size - 1)
	return size - 1
}

// MoveHalfTo splits p in place: its upper half of entries move to
// recipient, a freshly Init'd empty leaf. The leaf chain (next_page_id) is
// the caller's responsibility to relink.
func (p *LeafPage) MoveHalfTo(recipient *LeafPage) {
	size := p.Size()
	start := size / 2
	for i := start; i < size; i++ {
		recipient.SetKeyAt(i-start, p.KeyAt(i))
		recipient.SetValueAt(i-start, p.ValueAt(i))
	}
	recipient.SetSize(size - start)
	p.SetSize(start)
}

// MoveAllTo appends p's entire contents to the end of recipient during a
// merge.
func (p *LeafPage) MoveAllTo(recipient *LeafPage) {
	rsize := recipient.Size()
	size := p.Size()
	for i := 0; i < size; i++ {
		recipient.SetKeyAt(rsize+i, p.KeyAt(i))
		recipient.SetValueAt(rsize+i, p.ValueAt(i))
	}
	recipient.SetSize(rsize + size)
	p.SetSize(0)
}

// MoveFirstToEndOf borrows p's first entry onto the end of recipient.
func (p *LeafPage) MoveFirstToEndOf(recipient *LeafPage) {
	rsize := recipient.Size()
	recipient.SetKeyAt(rsize, p.KeyAt(0))
	recipient.SetValueAt(rsize, p.ValueAt(0))
	recipient.SetSize(rsize + 1)

	size := p.Size()
	for i := 0; i < size-1; i++ {
		p.SetKeyAt(i, p.KeyAt(i+1))
		p.SetValueAt(i, p.ValueAt(i+1))
	}
	p.SetSize(size - 1)
}

// MoveLastToFrontOf borrows p's last entry onto the front of recipient.
func (p *LeafPage) MoveLastToFrontOf(recipient *LeafPage) {
	size := p.Size()
	lastKey := append(Key(nil), p.KeyAt(size-1)...)
	lastVal := append(Value(nil), p.ValueAt(size-1)...)

	for i := recipient.Size(); i > 0; i-- {
		recipient.SetKeyAt(i, recipient.KeyAt(i-1))
		recipient.SetValueAt(i, recipient.ValueAt(i-1))
	}
	recipient.SetKeyAt(0, lastKey)
	recipient.SetValueAt(0, lastVal)
	recipient.SetSize(recipient.Size() + 1)

	p.SetSize(size - 1)
}
