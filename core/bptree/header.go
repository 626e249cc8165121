package bptree

import (
	"encoding/binary"

	"github.com/arvindr-dev/bptreedb/core/storage"
)

// Every tree page (internal or leaf) begins with the same 24-byte packed
// header; leaf pages append a 4-byte next_page_id after it. Fields are
// little-endian int32s, laid out exactly in this order so the on-disk
// format is bit-exact and portable across a big- or little-endian host.
const (
	offPageType      = 0
	offLSN           = 4
	offSize          = 8
	offMaxSize       = 12
	offParentPageID  = 16
	offPageID        = 20
	commonHeaderSize = 24

	offNextPageID  = commonHeaderSize
	leafHeaderSize = commonHeaderSize + 4
)

// checksumSize is the trailing CRC32 footprint storage.StampChecksum owns;
// tree code must never write past PageSize-checksumSize.
const checksumSize = 4

func getInt32(d []byte, off int) int32 { return int32(binary.LittleEndian.Uint32(d[off:])) }
func setInt32(d []byte, off int, v int32) {
	binary.LittleEndian.PutUint32(d[off:], uint32(v))
}

func pageTypeOf(d []byte) pageKind    { return pageKind(getInt32(d, offPageType)) }
func setPageTypeOf(d []byte, k pageKind) { setInt32(d, offPageType, int32(k)) }

func sizeOf(d []byte) int        { return int(getInt32(d, offSize)) }
func setSizeOf(d []byte, n int)  { setInt32(d, offSize, int32(n)) }

func maxSizeOf(d []byte) int       { return int(getInt32(d, offMaxSize)) }
func setMaxSizeOf(d []byte, n int) { setInt32(d, offMaxSize, int32(n)) }

func parentPageIDOf(d []byte) storage.PageID { return storage.PageID(getInt32(d, offParentPageID)) }
func setParentPageIDOf(d []byte, id storage.PageID) {
	setInt32(d, offParentPageID, int32(id))
}

func pageIDOf(d []byte) storage.PageID { return storage.PageID(getInt32(d, offPageID)) }
func setPageIDOf(d []byte, id storage.PageID) { setInt32(d, offPageID, int32(id)) }

func nextPageIDOf(d []byte) storage.PageID { return storage.PageID(getInt32(d, offNextPageID)) }
func setNextPageIDOf(d []byte, id storage.PageID) {
	setInt32(d, offNextPageID, int32(id))
}

// usableSize returns how many bytes of d, starting at headerSize, are
// available for slot storage before the trailing checksum footer.
func usableSize(d []byte, headerSize int) int {
	return len(d) - headerSize - checksumSize
}
