package bptree

import (
	"context"
	"fmt"

	"github.com/arvindr-dev/bptreedb/core/storage"
)

// Iterator walks a tree's leaves in ascending key order, read-latching one
// leaf at a time (never more than one at once) so a long-lived scan can't
// starve writers the way holding every latch for the scan's duration would.
// The tree latch is held only while the root is latched at the start of
// the descent; a positioned iterator never holds it.
type Iterator struct {
	ctx   context.Context
	tree  *Tree
	page  *storage.Page
	leaf  *LeafPage
	index int
}

// End returns the past-the-end sentinel iterator, exhausted by
// construction. Compare a live iterator against it with Valid (End is
// never Valid) rather than an Equal check, matching how this package's
// callers actually write scan loops.
func (t *Tree) End() *Iterator { return &Iterator{tree: t} }

// Begin returns an iterator positioned at the tree's smallest key.
func (t *Tree) Begin(ctx context.Context) (*Iterator, error) {
	return t.beginAt(ctx, nil, false)
}

// BeginAt returns an iterator positioned at the first key >= key (a lower
// bound), the same "seek" semantics as a database range scan's start
// bound. Use BeginAtExact if you need to know whether key itself is
// present.
func (t *Tree) BeginAt(ctx context.Context, key Key) (*Iterator, error) {
	return t.beginAt(ctx, key, false)
}

// BeginAtExact returns an iterator positioned at key only if key is
// present exactly; otherwise it returns an exhausted iterator (Valid()
// false), never one pointing at the next larger key.
func (t *Tree) BeginAtExact(ctx context.Context, key Key) (*Iterator, error) {
	return t.beginAt(ctx, key, true)
}

func (t *Tree) beginAt(ctx context.Context, key Key, exact bool) (*Iterator, error) {
	t.treeLatch.RLock()
	root := t.rootPageID
	if root == storage.InvalidPageID {
		t.treeLatch.RUnlock()
		return t.End(), nil
	}
	page, err := t.bpm.Fetch(ctx, root)
	if err != nil {
		t.treeLatch.RUnlock()
		return nil, err
	}
	page.RLock()
	t.treeLatch.RUnlock()

	for kindOf(page) == pageKindInternal {
		internal := t.asInternal(page)
		var childID storage.PageID
		if key == nil {
			childID = internal.ValueAt(0)
		} else {
			childID = internal.Lookup(key, t.cmp)
		}
		child, err := t.bpm.Fetch(ctx, childID)
		if err != nil {
			page.RUnlock()
			t.bpm.Unpin(page.ID(), false)
			return nil, err
		}
		child.RLock()
		page.RUnlock()
		t.bpm.Unpin(page.ID(), false)
		page = child
	}

	leaf := t.asLeaf(page)
	idx := 0
	if key != nil {
		idx = leaf.KeyIndex(key, t.cmp)
		if exact && (idx >= leaf.Size() || t.cmp(leaf.KeyAt(idx), key) != 0) {
			page.RUnlock()
			t.bpm.Unpin(page.ID(), false)
			return t.End(), nil
		}
	}
	it := &Iterator{ctx: ctx, tree: t, page: page, leaf: leaf, index: idx}
	it.skipToNonEmpty()
	return it, nil
}

// skipToNonEmpty advances across empty or exhausted leaves, following
// next_page_id links, until it lands on a live entry or runs off the end.
// A Fetch failure here (pool exhaustion, most likely) has no return value to
// surface through, so it panics rather than silently reporting end-of-scan.
func (it *Iterator) skipToNonEmpty() {
	for it.page != nil && it.index >= it.leaf.Size() {
		next := it.leaf.NextPageID()
		it.page.RUnlock()
		it.tree.bpm.Unpin(it.page.ID(), false)
		it.page, it.leaf, it.index = nil, nil, 0
		if next == storage.InvalidPageID {
			return
		}
		page, err := it.tree.bpm.Fetch(it.ctx, next)
		if err != nil {
			panic(fmt.Errorf("bptree: iterator advance: %w", err))
		}
		page.RLock()
		it.page = page
		it.leaf = it.tree.asLeaf(page)
		it.index = 0
	}
}

// Valid reports whether the iterator is positioned at a live entry.
func (it *Iterator) Valid() bool { return it.page != nil }

// Key returns a copy of the current entry's key. Panics if !Valid.
func (it *Iterator) Key() Key { return append(Key(nil), it.leaf.KeyAt(it.index)...) }

// Value returns a copy of the current entry's value. Panics if !Valid.
func (it *Iterator) Value() Value { return append(Value(nil), it.leaf.ValueAt(it.index)...) }

// Next advances the iterator by one entry.
func (it *Iterator) Next() {
	if it.page == nil {
		return
	}
	it.index++
	it.skipToNonEmpty()
}

// Close releases the iterator's held latch, if any. Scans that run to
// exhaustion (Valid() becomes false) release it automatically; Close is
// for callers that stop early.
func (it *Iterator) Close() {
	if it.page == nil {
		return
	}
	it.page.RUnlock()
	it.tree.bpm.Unpin(it.page.ID(), false)
	it.page, it.leaf = nil, nil
}
