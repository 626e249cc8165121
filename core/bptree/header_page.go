package bptree

import (
	"encoding/binary"

	"github.com/arvindr-dev/bptreedb/core/storage"
)

// HeaderPage is the singleton page at storage.HeaderPageID: a small,
// linearly-scanned table mapping an index name to its root page id, so one
// database file can host more than one named tree. Layout: a 4-byte entry
// count, followed by that many (2-byte name length, name bytes, 4-byte
// root page id) records.
type HeaderPage struct {
	data []byte
}

const headerPageCountOff = 0
const headerPageEntriesOff = 4

// WrapHeaderPage views the header page's bytes. InitHeaderPage formats a
// freshly allocated page as an empty table.
func WrapHeaderPage(data []byte) *HeaderPage { return &HeaderPage{data: data} }

func InitHeaderPage(data []byte) *HeaderPage {
	for i := range data {
		data[i] = 0
	}
	return &HeaderPage{data: data}
}

func (h *HeaderPage) count() int { return int(getInt32(h.data, headerPageCountOff)) }

// RootPageID looks up name's root page id. ok is false if name is unknown.
func (h *HeaderPage) RootPageID(name string) (storage.PageID, bool) {
	off := headerPageEntriesOff
	for i, n := 0, h.count(); i < n; i++ {
		nameLen := int(binary.LittleEndian.Uint16(h.data[off:]))
		off += 2
		entryName := string(h.data[off : off+nameLen])
		off += nameLen
		rootID := storage.PageID(getInt32(h.data, off))
		off += 4
		if entryName == name {
			return rootID, true
		}
	}
	return storage.InvalidPageID, false
}

// SetRootPageID installs or updates name's root page id. Panics if the
// table has no room left before the page's trailing checksum footer - in
// practice a database hosts a handful of named indexes, far short of what
// even one page of table can hold.
func (h *HeaderPage) SetRootPageID(name string, rootID storage.PageID) {
	off := headerPageEntriesOff
	n := h.count()
	for i := 0; i < n; i++ {
		nameLen := int(binary.LittleEndian.Uint16(h.data[off:]))
		off += 2 + nameLen
		if string(h.data[off-nameLen:off]) == name {
			setInt32(h.data, off, int32(rootID))
			return
		}
		off += 4
	}
	needed := off + 2 + len(name) + 4
	if needed > len(h.data)-checksumSize {
		panic("bptree: header page out of room for another index entry")
	}
	// Append a new entry.
	binary.LittleEndian.PutUint16(h.data[off:], uint16(len(name)))
	off += 2
	copy(h.data[off:off+len(name)], name)
	off += len(name)
	setInt32(h.data, off, int32(rootID))
	setInt32(h.data, headerPageCountOff, int32(n+1))
}

// DeleteIndex removes name's entry, if present, compacting the table.
func (h *HeaderPage) DeleteIndex(name string) {
	type entry struct {
		name string
		root storage.PageID
	}
	off := headerPageEntriesOff
	n := h.count()
	entries := make([]entry, 0, n)
	for i := 0; i < n; i++ {
		nameLen := int(binary.LittleEndian.Uint16(h.data[off:]))
		off += 2
		entryName := string(h.data[off : off+nameLen])
		off += nameLen
		rootID := storage.PageID(getInt32(h.data, off))
		off += 4
		if entryName != name {
			entries = append(entries, entry{entryName, rootID})
		}
	}
	off = headerPageEntriesOff
	for _, e := range entries {
		binary.LittleEndian.PutUint16(h.data[off:], uint16(len(e.name)))
		off += 2
		copy(h.data[off:off+len(e.name)], e.name)
		off += len(e.name)
		setInt32(h.data, off, int32(e.root))
		off += 4
	}
	setInt32(h.data, headerPageCountOff, int32(len(entries)))
}
