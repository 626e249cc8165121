package bptree

import "bytes"

// cmpKeys adapts bytes.Compare to the Comparator signature for tests.
func cmpKeys(a, b Key) int { return bytes.Compare(a, b) }
