package bufferpool

import "errors"

var (
	// ErrPoolExhausted is returned by Fetch/NewPage when every frame is
	// pinned and the free list and replacer both have nothing to offer.
	ErrPoolExhausted = errors.New("bufferpool: pool exhausted, no evictable frame")
	// ErrPagePinned is returned by Delete when the page is still pinned.
	ErrPagePinned = errors.New("bufferpool: page is pinned")
)
