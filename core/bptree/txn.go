package bptree

import "github.com/arvindr-dev/bptreedb/core/storage"

// latchMode selects which crabbing discipline a descent uses.
type latchMode int

const (
	modeRead latchMode = iota
	modeInsert
	modeDelete
)

// crabState tracks one Insert/Remove's held latches during a pessimistic
// descent, so ancestors can be released the moment a child proves safe, and
// anything still held can be unwound at the end. pages is root-to-current
// order; every page in it is write-latched and pinned.
//
// Optimistic descents (plain Get, and the optimistic-first attempt Insert
// and Remove make before falling back) don't use crabState at all: they
// latch hand over hand - read latches on internal pages, and for Insert
// and Remove a write latch on the leaf - and never accumulate a page set.
type crabState struct {
	mode          latchMode
	treeLatchHeld bool
	pages         []*storage.Page
	deleted       []storage.PageID
}

func newCrabState(mode latchMode) *crabState {
	return &crabState{mode: mode, pages: make([]*storage.Page, 0, 4)}
}

func (c *crabState) push(p *storage.Page) {
	p.WLock()
	c.pages = append(c.pages, p)
}

// releaseAncestors drops every held page except the most recently pushed
// one, used once a pessimistic descent reaches a node proven safe: its
// ancestors can no longer be touched by this operation, so their page
// latches are released early. It never touches the tree-wide latch or
// treeLatchHeld - the caller still owns that decision, since only it knows
// whether the root (the sole page allowed to keep the tree latch) is among
// what's being released.
func (c *crabState) releaseAncestors(bpm interface {
	Unpin(storage.PageID, bool) bool
}) {
	if len(c.pages) <= 1 {
		return
	}
	keep := c.pages[len(c.pages)-1]
	for _, p := range c.pages[:len(c.pages)-1] {
		p.WUnlock()
		bpm.Unpin(p.ID(), false)
	}
	c.pages = []*storage.Page{keep}
}

// releaseAll drops every remaining held page, marking each dirty (the
// operation that calls this always ends by touching whatever it still
// holds), and is the last step of any pessimistic descent.
func (c *crabState) releaseAll(bpm interface {
	Unpin(storage.PageID, bool) bool
}) {
	for _, p := range c.pages {
		p.WUnlock()
		bpm.Unpin(p.ID(), true)
	}
	c.pages = nil
	c.treeLatchHeld = false
}

func (c *crabState) markDeleted(id storage.PageID) {
	c.deleted = append(c.deleted, id)
}
