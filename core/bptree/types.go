// Package bptree implements a clustered, order-preserving B+-tree index
// over a bufferpool.Manager: fixed-size keys mapped to fixed-size values,
// with point lookup, insertion, deletion, and ordered range iteration,
// made safe for concurrent callers by the crabbing latch protocol in
// txn.go and tree.go.
package bptree

// Key is a fixed-size, opaque key. Every key handled by one Tree has the
// same length; the tree never interprets the bytes itself, only compares
// them via a Comparator.
type Key []byte

// Value is a fixed-size, opaque value - conventionally a record id (RID)
// pointing back into a heap file, though the tree itself doesn't care what
// the bytes mean.
type Value []byte

// Comparator orders two keys, returning <0, 0, or >0 exactly like
// bytes.Compare. The tree treats equal keys (cmp == 0) as the same key:
// Insert of an existing key is a duplicate, Lookup/Remove of it is a hit.
type Comparator func(a, b Key) int

// pageKind tags whether a tree page holds the internal or the leaf layout.
// The header page carries no kind tag.
type pageKind int32

const (
	pageKindInvalid pageKind = iota
	pageKindInternal
	pageKindLeaf
)
