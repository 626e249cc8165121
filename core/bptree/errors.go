package bptree

import "errors"

var (
	// ErrDuplicateKey is returned by Insert when the key is already present.
	ErrDuplicateKey = errors.New("bptree: duplicate key")
	// ErrKeyNotFound is returned by Get and Remove when the key is absent.
	ErrKeyNotFound = errors.New("bptree: key not found")
	// ErrEmptyTree is returned by operations that require a root page when
	// the tree has none yet.
	ErrEmptyTree = errors.New("bptree: tree is empty")
	// ErrInvariantViolation marks a page layout or tree-shape invariant the
	// implementation assumes but found broken - a bug, not a caller error.
	ErrInvariantViolation = errors.New("bptree: invariant violation")
	// ErrIndexExists is returned by Create when an index of that name
	// already has a root in the header page.
	ErrIndexExists = errors.New("bptree: index already exists")
	// ErrIndexNotFound is returned when opening a name absent from the
	// header page.
	ErrIndexNotFound = errors.New("bptree: index not found")
	// ErrPoolTooSmall is returned by CreateTree/OpenTree when the backing
	// buffer pool has fewer frames than a single descent could ever need.
	ErrPoolTooSmall = errors.New("bptree: buffer pool too small for a tree")
)
