package storage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sync"

	"go.uber.org/zap"
)

const (
	dbMagic      uint32 = 0x42705472 // "BpTr"
	dbVersion    uint32 = 1
	checksumSize        = 4
)

// descriptor is the file's own preamble: format identification plus the
// free list head. It lives in a reserved block at raw file offset 0, one
// full PageSize wide, so that PageID 0 (the HeaderPageID) addresses the
// *next* block and is free for the B+-tree's header page record. The
// teacher's draft conflated these two - it wrote its DBFileHeader directly
// into what it called "page 0" - which would collide with the tree's own
// header page; this module keeps them in separate blocks instead.
type descriptor struct {
	Magic        uint32
	Version      uint32
	PageSize     uint32
	NumPages     int64
	FreeListHead PageID
}

func (d *descriptor) marshal() []byte {
	buf := make([]byte, PageSize)
	binary.LittleEndian.PutUint32(buf[0:4], d.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], d.Version)
	binary.LittleEndian.PutUint32(buf[8:12], d.PageSize)
	binary.LittleEndian.PutUint64(buf[12:20], uint64(d.NumPages))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(d.FreeListHead))
	return buf
}

func (d *descriptor) unmarshal(buf []byte) {
	d.Magic = binary.LittleEndian.Uint32(buf[0:4])
	d.Version = binary.LittleEndian.Uint32(buf[4:8])
	d.PageSize = binary.LittleEndian.Uint32(buf[8:12])
	d.NumPages = int64(binary.LittleEndian.Uint64(buf[12:20]))
	d.FreeListHead = PageID(binary.LittleEndian.Uint32(buf[20:24]))
}

// DiskManager is the block device underneath the buffer pool: it allocates,
// reads, writes, and deallocates fixed-size pages in a single backing file.
// It has no notion of tree structure, latches, or pinning - those are the
// buffer pool manager's and the tree's concerns.
type DiskManager struct {
	mu   sync.Mutex
	file *os.File
	desc descriptor
	log  *zap.Logger
}

// Create creates a new, empty database file at path and initializes its
// descriptor. It fails if the file already exists.
func Create(path string, log *zap.Logger) (*DiskManager, error) {
	log = orNop(log)
	if _, err := os.Stat(path); err == nil {
		return nil, ErrDBFileExists
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrIO, path, err)
	}
	dm := &DiskManager{
		file: f,
		desc: descriptor{Magic: dbMagic, Version: dbVersion, PageSize: PageSize, NumPages: 0, FreeListHead: InvalidPageID},
		log:  log,
	}
	if err := dm.writeDescriptor(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	log.Info("created database file", zap.String("path", path))
	return dm, nil
}

// Open opens an existing database file and validates its descriptor.
func Open(path string, log *zap.Logger) (*DiskManager, error) {
	log = orNop(log)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrDBFileNotFound
		}
		return nil, fmt.Errorf("%w: opening %s: %v", ErrIO, path, err)
	}
	dm := &DiskManager{file: f, log: log}
	if err := dm.readDescriptor(); err != nil {
		f.Close()
		return nil, err
	}
	if dm.desc.Magic != dbMagic {
		f.Close()
		return nil, ErrBadMagic
	}
	if dm.desc.PageSize != PageSize {
		f.Close()
		return nil, ErrPageSizeMismatch
	}
	log.Info("opened database file", zap.String("path", path), zap.Int64("num_pages", dm.desc.NumPages))
	return dm, nil
}

func (dm *DiskManager) writeDescriptor() error {
	if _, err := dm.file.WriteAt(dm.desc.marshal(), 0); err != nil {
		return fmt.Errorf("%w: writing descriptor: %v", ErrIO, err)
	}
	return nil
}

func (dm *DiskManager) readDescriptor() error {
	buf := make([]byte, PageSize)
	n, err := dm.file.ReadAt(buf, 0)
	if err != nil && n != len(buf) {
		return fmt.Errorf("%w: reading descriptor: %v", ErrIO, err)
	}
	dm.desc.unmarshal(buf)
	return nil
}

// offset returns the raw file offset of page id, accounting for the
// reserved descriptor block.
func offset(id PageID) int64 {
	return int64(PageSize) + int64(id)*int64(PageSize)
}

// AllocatePage returns a fresh page id, reusing a deallocated one from the
// free list before extending the file. The returned page's content on disk
// is not guaranteed to be zeroed; callers read it through the buffer pool,
// which always hands back a zeroed frame for a freshly allocated page.
func (dm *DiskManager) AllocatePage() (PageID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.desc.FreeListHead != InvalidPageID {
		id := dm.desc.FreeListHead
		buf := make([]byte, PageSize)
		if err := dm.readPageLocked(id, buf); err != nil {
			return InvalidPageID, err
		}
		next := PageID(binary.LittleEndian.Uint32(buf[0:4]))
		dm.desc.FreeListHead = next
		if err := dm.writeDescriptor(); err != nil {
			return InvalidPageID, err
		}
		dm.log.Debug("allocated page from free list", zap.Int32("page_id", int32(id)))
		return id, nil
	}

	id := PageID(dm.desc.NumPages)
	if _, err := dm.file.WriteAt(make([]byte, PageSize), offset(id)); err != nil {
		return InvalidPageID, fmt.Errorf("%w: extending file for page %d: %v", ErrIO, id, err)
	}
	dm.desc.NumPages++
	if err := dm.writeDescriptor(); err != nil {
		return InvalidPageID, err
	}
	dm.log.Debug("allocated new page", zap.Int32("page_id", int32(id)))
	return id, nil
}

// DeallocatePage pushes id onto the on-disk free list for reuse by a later
// AllocatePage.
func (dm *DiskManager) DeallocatePage(id PageID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if id == HeaderPageID || id == InvalidPageID {
		return fmt.Errorf("%w: %d", ErrInvalidPageID, id)
	}
	buf := make([]byte, PageSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(dm.desc.FreeListHead))
	if err := dm.writePageLocked(id, buf); err != nil {
		return err
	}
	dm.desc.FreeListHead = id
	if err := dm.writeDescriptor(); err != nil {
		return err
	}
	dm.log.Debug("deallocated page", zap.Int32("page_id", int32(id)))
	return nil
}

// ReadPage reads page id's raw bytes (including its trailing checksum)
// into buf, which must be exactly PageSize bytes.
func (dm *DiskManager) ReadPage(id PageID, buf []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.readPageLocked(id, buf)
}

func (dm *DiskManager) readPageLocked(id PageID, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("%w: buffer size %d != page size %d", ErrIO, len(buf), PageSize)
	}
	n, err := dm.file.ReadAt(buf, offset(id))
	if err != nil && n != PageSize {
		return fmt.Errorf("%w: reading page %d: %v", ErrIO, id, err)
	}
	return nil
}

// WritePage writes buf (exactly PageSize bytes) to page id's slot on disk.
func (dm *DiskManager) WritePage(id PageID, buf []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.writePageLocked(id, buf)
}

func (dm *DiskManager) writePageLocked(id PageID, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("%w: buffer size %d != page size %d", ErrIO, len(buf), PageSize)
	}
	if _, err := dm.file.WriteAt(buf, offset(id)); err != nil {
		return fmt.Errorf("%w: writing page %d: %v", ErrIO, id, err)
	}
	return nil
}

// Sync flushes all written data to stable storage.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrIO, err)
	}
	return nil
}

// Close syncs and closes the backing file.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	_ = dm.file.Sync()
	if err := dm.file.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrIO, err)
	}
	return nil
}

// checksumPage computes the CRC32 of a page's content, excluding the
// trailing checksumSize bytes reserved to hold it.
func checksumPage(data []byte) uint32 {
	return crc32.ChecksumIEEE(data[:len(data)-checksumSize])
}

// StampChecksum writes data's CRC32 into its own trailing checksumSize
// bytes. Called by the buffer pool manager just before a dirty page is
// written back.
func StampChecksum(data []byte) {
	binary.LittleEndian.PutUint32(data[len(data)-checksumSize:], checksumPage(data))
}

// VerifyChecksum reports whether data's trailing CRC32 matches its content.
// Called by the buffer pool manager just after a page is read from disk.
func VerifyChecksum(data []byte) bool {
	stored := binary.LittleEndian.Uint32(data[len(data)-checksumSize:])
	return stored == checksumPage(data)
}

func orNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
