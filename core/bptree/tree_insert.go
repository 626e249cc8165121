package bptree

import (
	"context"
	"fmt"

	"github.com/arvindr-dev/bptreedb/core/storage"
	commonutils "github.com/arvindr-dev/bptreedb/internal/common_utils"
	"go.uber.org/zap"
)

// Insert adds (key, value). It fails with ErrDuplicateKey if key is
// already present. It first tries an optimistic descent that W-latches
// only the leaf; if the leaf turns out unsafe (inserting would overflow
// it), it releases everything and retries pessimistically.
func (t *Tree) Insert(ctx context.Context, key Key, value Value) error {
	ctx, finish := t.startOp(ctx, "insert")
	defer finish()

	if ok, err := t.insertOptimistic(ctx, key, value); ok {
		return err
	}
	return t.insertPessimistic(ctx, key, value)
}

// insertOptimistic returns ok=false when it could not determine the
// outcome without the pessimistic path (leaf unsafe, or tree empty).
func (t *Tree) insertOptimistic(ctx context.Context, key Key, value Value) (ok bool, err error) {
	t.treeLatch.RLock()
	root := t.rootPageID
	if root == storage.InvalidPageID {
		t.treeLatch.RUnlock()
		return false, nil
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
	}

	leaf := t.asLeaf(page)
	if leaf.Size() >= leaf.MaxSize() {
		page.WUnlock()
		t.bpm.Unpin(page.ID(), false)
		return false, nil
	}
	_, inserted := leaf.Insert(key, value, t.cmp)
	page.WUnlock()
	t.bpm.Unpin(page.ID(), true)
	if !inserted {
		return true, fmt.Errorf("%w: %x", ErrDuplicateKey, []byte(key))
	}
	return true, nil
}

func insertSafe(size, maxSize int) bool { return size < maxSize }

func (t *Tree) insertPessimistic(ctx context.Context, key Key, value Value) error {
	t.treeLatch.Lock()
	t.log.Debug("pessimistic insert descent", zap.Int64("goroutine", commonutils.GoID()))
	c := newCrabState(modeInsert)
	c.treeLatchHeld = true

	if t.rootPageID == storage.InvalidPageID {
		page, id, err := t.bpm.NewPage(ctx)
		if err != nil {
			t.treeLatch.Unlock()
			return err
		}
		leaf := InitLeafPage(page.Data(), t.keySize, t.valueSize, t.leafMaxSize, id, storage.HeaderPageID)
		leaf.Insert(key, value, t.cmp)
		t.bpm.Unpin(id, true)
		t.rootPageID = id
		t.treeLatch.Unlock()
		if err := t.persistRoot(ctx, id); err != nil {
			return err
		}
		t.met.RecordStructural(ctx, "create_root")
		return nil
	}

	page, err := t.bpm.Fetch(ctx, t.rootPageID)
	if err != nil {
		t.treeLatch.Unlock()
		return err
	}
	c.push(page)
	if insertSafe(sizeOf(page.Data()), maxSizeOf(page.Data())) {
		c.releaseAncestors(t.bpm)
		t.treeLatch.Unlock()
		c.treeLatchHeld = false
	}

	for kindOf(page) == pageKindInternal {
		internal := t.asInternal(page)
		childID := internal.Lookup(key, t.cmp)
		child, err := t.bpm.Fetch(ctx, childID)
		if err != nil {
			t.unwind(c)
			return err
		}
		c.push(child)
		if insertSafe(sizeOf(child.Data()), maxSizeOf(child.Data())) {
			c.releaseAncestors(t.bpm)
			if c.treeLatchHeld {
				t.treeLatch.Unlock()
				c.treeLatchHeld = false
			}
		}
		page = child
	}

	leaf := t.asLeaf(page)
	newSize, inserted := leaf.Insert(key, value, t.cmp)
	if !inserted {
		t.unwind(c)
		return fmt.Errorf("%w: %x", ErrDuplicateKey, []byte(key))
	}
	if newSize <= leaf.MaxSize() {
		t.finishInsert(c)
		return nil
	}

	// Leaf overflowed; split and propagate the split key upward.
	t.met.RecordStructural(ctx, "leaf_split")
	rPage, rID, err := t.bpm.NewPage(ctx)
	if err != nil {
		t.unwind(c)
		return err
	}
	right := InitLeafPage(rPage.Data(), t.keySize, t.valueSize, t.leafMaxSize, rID, leaf.ParentPageID())
	leaf.MoveHalfTo(right)
	right.SetNextPageID(leaf.NextPageID())
	leaf.SetNextPageID(rID)
	splitKey := append(Key(nil), right.KeyAt(0)...)
	t.bpm.Unpin(rID, true)

	return t.propagateSplit(ctx, c, len(c.pages)-1, splitKey, page.ID(), rID)
}

// propagateSplit threads (splitKey, rightID) - the result of splitting the
// page at c.pages[idx] into (that page, rightID) - into its parent, and
// recurses upward as long as the parent itself overflows. idx indexes the
// node that was just split; idx-1 is its parent, if any.
func (t *Tree) propagateSplit(ctx context.Context, c *crabState, idx int, splitKey Key, leftID, rightID storage.PageID) error {
	if idx == 0 {
		// The root itself split: build a brand new root over both halves.
		t.met.RecordStructural(ctx, "root_split")
		rootPage, rootID, err := t.bpm.NewPage(ctx)
		if err != nil {
			t.unwind(c)
			return err
		}
		newRoot := InitInternalPage(rootPage.Data(), t.keySize, t.internalMaxSize, rootID, storage.HeaderPageID)
		newRoot.PopulateNewRoot(leftID, splitKey, rightID)
		t.bpm.Unpin(rootID, true)

		if err := t.reparent(ctx, leftID, rootID); err != nil {
			t.unwind(c)
			return err
		}
		if err := t.reparent(ctx, rightID, rootID); err != nil {
			t.unwind(c)
			return err
		}
		t.rootPageID = rootID
		t.finishInsert(c)
		return t.persistRoot(ctx, rootID)
	}

	parentPage := c.pages[idx-1]
	parent := t.asInternal(parentPage)
	newSize := parent.InsertNodeAfter(leftID, splitKey, rightID)
	if err := t.reparent(ctx, rightID, parentPage.ID()); err != nil {
		t.unwind(c)
		return err
	}
	if newSize <= parent.MaxSize() {
		t.finishInsert(c)
		return nil
	}

	t.met.RecordStructural(ctx, "internal_split")
	rPage, rID, err := t.bpm.NewPage(ctx)
	if err != nil {
		t.unwind(c)
		return err
	}
	right := InitInternalPage(rPage.Data(), t.keySize, t.internalMaxSize, rID, parent.ParentPageID())
	movedKey := append(Key(nil), parent.KeyAt((parent.Size()+1)/2)...)
	movedChildren := parent.MoveHalfTo(right)
	t.bpm.Unpin(rID, true)
	for _, childID := range movedChildren {
		if err := t.reparent(ctx, childID, rID); err != nil {
			t.unwind(c)
			return err
		}
	}
	return t.propagateSplit(ctx, c, idx-1, movedKey, parentPage.ID(), rID)
}

func (t *Tree) reparent(ctx context.Context, childID, newParentID storage.PageID) error {
	page, err := t.bpm.Fetch(ctx, childID)
	if err != nil {
		return err
	}
	if kindOf(page) == pageKindLeaf {
		t.asLeaf(page).SetParentPageID(newParentID)
	} else {
		t.asInternal(page).SetParentPageID(newParentID)
	}
	t.bpm.Unpin(childID, true)
	if _, err := t.bpm.Flush(childID); err != nil {
		return err
	}
	return nil
}

func (t *Tree) finishInsert(c *crabState) {
	treeLatchHeld := c.treeLatchHeld
	c.releaseAll(t.bpm)
	if treeLatchHeld {
		t.treeLatch.Unlock()
	}
}
