package bptree

import (
	"context"

	"github.com/arvindr-dev/bptreedb/core/storage"
	commonutils "github.com/arvindr-dev/bptreedb/internal/common_utils"
	"go.uber.org/zap"
)

// Remove deletes key. It fails with ErrEmptyTree if the tree currently has
// no root, and ErrKeyNotFound if the tree is non-empty but doesn't contain
// key. Like Insert, it tries an optimistic, leaf-only write latch first
// and falls back to a pessimistic, ancestor-retaining descent only when
// the leaf turns out unsafe to delete from.
func (t *Tree) Remove(ctx context.Context, key Key) error {
	ctx, finish := t.startOp(ctx, "remove")
	defer finish()

	if ok, err := t.removeOptimistic(ctx, key); ok {
		return err
	}
	return t.removePessimistic(ctx, key)
}

func removeSafe(size, minSize int) bool { return size > minSize }

func (t *Tree) removeOptimistic(ctx context.Context, key Key) (ok bool, err error) {
	t.treeLatch.RLock()
	root := t.rootPageID
	if root == storage.InvalidPageID {
		t.treeLatch.RUnlock()
		return true, ErrEmptyTree
	}
	page, ferr := t.bpm.Fetch(ctx, root)
	if ferr != nil {
		t.treeLatch.RUnlock()
		return true, ferr
	}
	if kindOf(page) == pageKindLeaf {
		page.WLock()
	} else {
		page.RLock()
	}
	t.treeLatch.RUnlock()

	isRoot := true
	for kindOf(page) == pageKindInternal {
		internal := t.asInternal(page)
		childID := internal.Lookup(key, t.cmp)
		child, ferr := t.bpm.Fetch(ctx, childID)
		if ferr != nil {
			page.RUnlock()
			t.bpm.Unpin(page.ID(), false)
			return true, ferr
		}
		if kindOf(child) == pageKindLeaf {
			child.WLock()
		} else {
			child.RLock()
		}
		page.RUnlock()
		t.bpm.Unpin(page.ID(), false)
		page = child
		isRoot = false
	}

	leaf := t.asLeaf(page)
	_, found := leaf.Lookup(key, t.cmp)
	if !found {
		page.WUnlock()
		t.bpm.Unpin(page.ID(), false)
		return true, ErrKeyNotFound
	}
	// A root leaf can safely shrink to zero with no sibling bookkeeping,
	// but emptying the tree still has to update rootPageID under
	// treeLatch, which this path no longer holds - defer to pessimistic.
	if !isRoot && !removeSafe(leaf.Size(), leaf.MinSize()) {
		page.WUnlock()
		t.bpm.Unpin(page.ID(), false)
		return false, nil
	}
	if isRoot && leaf.Size() <= 1 {
		page.WUnlock()
		t.bpm.Unpin(page.ID(), false)
		return false, nil
	}
	leaf.RemoveAndDeleteRecord(key, t.cmp)
	page.WUnlock()
	t.bpm.Unpin(page.ID(), true)
	return true, nil
}

func (t *Tree) removePessimistic(ctx context.Context, key Key) error {
	t.treeLatch.Lock()
	t.log.Debug("pessimistic remove descent", zap.Int64("goroutine", commonutils.GoID()))
	c := newCrabState(modeDelete)
	c.treeLatchHeld = true

	if t.rootPageID == storage.InvalidPageID {
		t.treeLatch.Unlock()
		return ErrEmptyTree
	}

	page, err := t.bpm.Fetch(ctx, t.rootPageID)
	if err != nil {
		t.treeLatch.Unlock()
		return err
	}
	c.push(page)
	// The root never releases the tree latch early: it alone can trigger a
	// root collapse, which mutates t.rootPageID.

	for kindOf(page) == pageKindInternal {
		internal := t.asInternal(page)
		childID := internal.Lookup(key, t.cmp)
		child, err := t.bpm.Fetch(ctx, childID)
		if err != nil {
			t.unwind(c)
			return err
		}
		c.push(child)
		if len(c.pages) > 1 && removeSafe(sizeOf(child.Data()), minSizeOfPage(child)) {
			c.releaseAncestors(t.bpm)
			if c.treeLatchHeld {
				t.treeLatch.Unlock()
				c.treeLatchHeld = false
			}
		}
		page = child
	}

	leaf := t.asLeaf(page)
	if _, found := leaf.Lookup(key, t.cmp); !found {
		t.unwind(c)
		return ErrKeyNotFound
	}
	leaf.RemoveAndDeleteRecord(key, t.cmp)

	return t.rebalanceAfterRemove(ctx, c, len(c.pages)-1)
}

func minSizeOfPage(page *storage.Page) int {
	return (maxSizeOf(page.Data()) + 1) / 2
}

// rebalanceAfterRemove fixes up underflow at c.pages[idx] after a key (or,
// on a recursive call, a child) was removed from it, borrowing from a
// sibling if one can spare an entry, merging with one otherwise, and
// recursing to idx-1 if the merge itself shrank the parent. idx==0 is the
// oldest page still held - the root while the tree latch is held, otherwise
// a page that was remove-safe on the way down - and is handled specially
// (collapse or allow to go empty).
func (t *Tree) rebalanceAfterRemove(ctx context.Context, c *crabState, idx int) error {
	node := c.pages[idx]
	isLeaf := kindOf(node) == pageKindLeaf

	if idx == 0 {
		if isLeaf {
			if t.asLeaf(node).Size() == 0 {
				c.markDeleted(node.ID())
				t.rootPageID = storage.InvalidPageID
				t.finishRemove(c)
				return t.persistRoot(ctx, storage.InvalidPageID)
			}
			t.finishRemove(c)
			return nil
		}
		root := t.asInternal(node)
		if root.Size() == 1 {
			childID := root.RemoveAndReturnOnlyChild()
			c.markDeleted(node.ID())
			t.met.RecordStructural(ctx, "root_collapse")
			t.rootPageID = childID
			t.finishRemove(c)
			if err := t.reparent(ctx, childID, storage.HeaderPageID); err != nil {
				return err
			}
			return t.persistRoot(ctx, childID)
		}
		t.finishRemove(c)
		return nil
	}

	minSize := minSizeOfPage(node)
	size := sizeOf(node.Data())
	if size >= minSize {
		t.finishRemove(c)
		return nil
	}

	parentPage := c.pages[idx-1]
	parent := t.asInternal(parentPage)
	slot := parent.ValueIndex(node.ID())

	if slot > 0 {
		leftID := parent.ValueAt(slot - 1)
		leftPage, err := t.bpm.Fetch(ctx, leftID)
		if err != nil {
			t.unwind(c)
			return err
		}
		leftPage.WLock()
		borrowed, err := t.tryBorrowLeft(ctx, node, leftPage, parent, slot)
		if err != nil {
			leftPage.WUnlock()
			t.bpm.Unpin(leftID, false)
			t.unwind(c)
			return err
		}
		if borrowed {
			t.met.RecordStructural(ctx, "redistribute")
			leftPage.WUnlock()
			t.bpm.Unpin(leftID, true)
			t.finishRemove(c)
			return nil
		}
		if err := t.mergeWithLeft(ctx, c, node, leftPage, parent, slot); err != nil {
			leftPage.WUnlock()
			t.bpm.Unpin(leftID, false)
			t.unwind(c)
			return err
		}
		leftPage.WUnlock()
		t.bpm.Unpin(leftID, true)
		return t.rebalanceAfterRemove(ctx, c, idx-1)
	}

	rightID := parent.ValueAt(slot + 1)
	rightPage, err := t.bpm.Fetch(ctx, rightID)
	if err != nil {
		t.unwind(c)
		return err
	}
	rightPage.WLock()
	borrowed, err := t.tryBorrowRight(ctx, node, rightPage, parent, slot)
	if err != nil {
		rightPage.WUnlock()
		t.bpm.Unpin(rightID, false)
		t.unwind(c)
		return err
	}
	if borrowed {
		t.met.RecordStructural(ctx, "redistribute")
		rightPage.WUnlock()
		t.bpm.Unpin(rightID, true)
		t.finishRemove(c)
		return nil
	}
	if err := t.mergeWithRight(ctx, c, node, rightPage, parent, slot); err != nil {
		rightPage.WUnlock()
		t.bpm.Unpin(rightID, false)
		t.unwind(c)
		return err
	}
	rightPage.WUnlock()
	t.bpm.Unpin(rightID, true)
	return t.rebalanceAfterRemove(ctx, c, idx-1)
}

// tryBorrowLeft redistributes one entry from leftPage into node if the two
// combined would overflow node's max size; otherwise it declines (false,
// nil) so the caller merges the pair instead. The decision is the combined
// size against max_size, not spare capacity above min_size - the two only
// coincide when max_size is odd.
func (t *Tree) tryBorrowLeft(ctx context.Context, node, leftPage *storage.Page, parent *InternalPage, slot int) (bool, error) {
	if sizeOf(node.Data())+sizeOf(leftPage.Data()) <= maxSizeOf(node.Data()) {
		return false, nil
	}
	if kindOf(node) == pageKindLeaf {
		left, right := t.asLeaf(leftPage), t.asLeaf(node)
		left.MoveLastToFrontOf(right)
		parent.SetKeyAt(slot, right.KeyAt(0))
		return true, nil
	}
	left, right := t.asInternal(leftPage), t.asInternal(node)
	movedChild, newLastKey := left.MoveLastToFrontOf(right, parent.KeyAt(slot))
	parent.SetKeyAt(slot, newLastKey)
	if err := t.reparent(ctx, movedChild, right.PageID()); err != nil {
		return false, err
	}
	return true, nil
}

// tryBorrowRight is tryBorrowLeft's mirror image, redistributing from
// rightPage instead.
func (t *Tree) tryBorrowRight(ctx context.Context, node, rightPage *storage.Page, parent *InternalPage, slot int) (bool, error) {
	if sizeOf(node.Data())+sizeOf(rightPage.Data()) <= maxSizeOf(node.Data()) {
		return false, nil
	}
	if kindOf(node) == pageKindLeaf {
		left, right := t.asLeaf(node), t.asLeaf(rightPage)
		right.MoveFirstToEndOf(left)
		parent.SetKeyAt(slot+1, right.KeyAt(0))
		return true, nil
	}
	left, right := t.asInternal(node), t.asInternal(rightPage)
	movedChild, newFirstKey := right.MoveFirstToEndOf(left, parent.KeyAt(slot+1))
	parent.SetKeyAt(slot+1, newFirstKey)
	if err := t.reparent(ctx, movedChild, left.PageID()); err != nil {
		return false, err
	}
	return true, nil
}

func (t *Tree) mergeWithLeft(ctx context.Context, c *crabState, node, leftPage *storage.Page, parent *InternalPage, slot int) error {
	if kindOf(node) == pageKindLeaf {
		left, right := t.asLeaf(leftPage), t.asLeaf(node)
		right.MoveAllTo(left)
		left.SetNextPageID(right.NextPageID())
	} else {
		left, right := t.asInternal(leftPage), t.asInternal(node)
		middleKey := append(Key(nil), parent.KeyAt(slot)...)
		moved := right.MoveAllTo(left, middleKey)
		for _, childID := range moved {
			if err := t.reparent(ctx, childID, left.PageID()); err != nil {
				return err
			}
		}
	}
	parent.RemoveAt(slot)
	c.markDeleted(node.ID())
	t.met.RecordStructural(ctx, "merge")
	return nil
}

func (t *Tree) mergeWithRight(ctx context.Context, c *crabState, node, rightPage *storage.Page, parent *InternalPage, slot int) error {
	if kindOf(node) == pageKindLeaf {
		left, right := t.asLeaf(node), t.asLeaf(rightPage)
		right.MoveAllTo(left)
		left.SetNextPageID(right.NextPageID())
	} else {
		left, right := t.asInternal(node), t.asInternal(rightPage)
		middleKey := append(Key(nil), parent.KeyAt(slot+1)...)
		moved := right.MoveAllTo(left, middleKey)
		for _, childID := range moved {
			if err := t.reparent(ctx, childID, left.PageID()); err != nil {
				return err
			}
		}
	}
	parent.RemoveAt(slot + 1)
	c.markDeleted(rightPage.ID())
	t.met.RecordStructural(ctx, "merge")
	return nil
}

func (t *Tree) finishRemove(c *crabState) {
	treeLatchHeld := c.treeLatchHeld
	c.releaseAll(t.bpm)
	if treeLatchHeld {
		t.treeLatch.Unlock()
	}
	t.finalizeDeletes(c)
}
