// Package bufferpool implements the bounded, pinning, LRU-evicting page
// cache ("buffer pool manager") that sits between the B+-tree and the disk
// manager.
package bufferpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/arvindr-dev/bptreedb/core/storage"
	"github.com/arvindr-dev/bptreedb/pkg/telemetry"
	"go.uber.org/zap"
)

// Manager owns the frame array, the page table, the free list and the
// replacer behind a single mutex, per spec: every public method is
// serialized by mu, and all of their disk I/O (reads on a miss, page
// allocation, dirty-victim writeback, Flush/FlushAll, deallocation) runs
// while mu is held.
type Manager struct {
	mu sync.Mutex

	disk *storage.DiskManager
	log  *zap.Logger
	met  *telemetry.BPMMetrics

	frames    []*storage.Page
	pageTable map[storage.PageID]int
	freeList  []int
	replacer  *lruReplacer
}

// NewManager builds a buffer pool of poolSize frames backed by disk. log and
// met may be nil; a nil logger behaves as a no-op, a nil metrics recorder is
// tolerated by every Record* method.
// NewManager does not hard-fail on a pool too small for the tree that will
// eventually sit on top of it - the BPM has no notion of tree height, so it
// can only warn, not enforce. spec.md's minimum, tree_height + 3, is a
// budget the tree's own constructor (bptree.CreateTree/OpenTree) is
// responsible for sanity-checking against its own absolute floor.
func NewManager(poolSize int, disk *storage.DiskManager, log *zap.Logger, met *telemetry.BPMMetrics) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if poolSize < 3 {
		log.Warn("buffer pool smaller than the documented minimum (tree_height + 3); expect ErrPoolExhausted under any nontrivial descent", zap.Int("pool_size", poolSize))
	}
	m := &Manager{
		disk:      disk,
		log:       log,
		met:       met,
		frames:    make([]*storage.Page, poolSize),
		pageTable: make(map[storage.PageID]int, poolSize),
		freeList:  make([]int, poolSize),
		replacer:  newLRUReplacer(),
	}
	for i := 0; i < poolSize; i++ {
		m.frames[i] = storage.NewPage()
		m.freeList[i] = poolSize - 1 - i // drain frame 0 first
	}
	log.Info("buffer pool manager initialized", zap.Int("pool_size", poolSize))
	return m
}

// PoolSize returns the number of frames the pool was built with.
func (m *Manager) PoolSize() int { return len(m.frames) }

// Fetch returns the page identified by id, pinned once. The caller must
// call Unpin exactly once when done, regardless of whether it modified the
// page.
func (m *Manager) Fetch(ctx context.Context, id storage.PageID) (*storage.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frame, ok := m.pageTable[id]; ok {
		page := m.frames[frame]
		page.Pin()
		m.replacer.pin(frame)
		m.met.RecordHit(ctx)
		m.log.Debug("buffer pool hit", zap.Int32("page_id", int32(id)), zap.Int("frame", frame))
		return page, nil
	}

	m.met.RecordMiss(ctx)
	frame, err := m.acquireFrame(ctx)
	if err != nil {
		return nil, err
	}
	page := m.frames[frame]
	page.Reset()
	buf := page.Data()
	if err := m.disk.ReadPage(id, buf); err != nil {
		m.freeList = append(m.freeList, frame)
		return nil, err
	}
	if !storage.VerifyChecksum(buf) {
		m.freeList = append(m.freeList, frame)
		return nil, fmt.Errorf("%w: page %d", storage.ErrChecksumMismatch, id)
	}
	page.SetPageID(id)
	page.Pin()
	m.pageTable[id] = frame
	m.log.Debug("buffer pool miss, loaded from disk", zap.Int32("page_id", int32(id)), zap.Int("frame", frame))
	return page, nil
}

// NewPage allocates a fresh page on disk and installs it, pinned, in a
// frame. The page's content is zeroed.
func (m *Manager) NewPage(ctx context.Context) (*storage.Page, storage.PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frame, err := m.acquireFrame(ctx)
	if err != nil {
		return nil, storage.InvalidPageID, err
	}
	id, err := m.disk.AllocatePage()
	if err != nil {
		m.freeList = append(m.freeList, frame)
		return nil, storage.InvalidPageID, err
	}
	page := m.frames[frame]
	page.Reset()
	page.SetPageID(id)
	page.Pin()
	m.pageTable[id] = frame
	m.log.Debug("new page allocated", zap.Int32("page_id", int32(id)), zap.Int("frame", frame))
	return page, id, nil
}

// Unpin decrements id's pin count and ORs dirty into its dirty bit. It
// reports whether id was a known page. When the pin count reaches zero the
// frame becomes evictable.
func (m *Manager) Unpin(id storage.PageID, dirty bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	frame, ok := m.pageTable[id]
	if !ok {
		return false
	}
	page := m.frames[frame]
	if dirty {
		page.SetDirty(true)
	}
	if page.PinCount() > 0 {
		page.Unpin()
	}
	if page.PinCount() == 0 {
		m.replacer.unpin(frame)
	}
	return true
}

// Flush writes id's content to disk if dirty, stamping its checksum first.
// It does not require the page to be unpinned.
func (m *Manager) Flush(id storage.PageID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked(id)
}

func (m *Manager) flushLocked(id storage.PageID) (bool, error) {
	frame, ok := m.pageTable[id]
	if !ok {
		return false, nil
	}
	page := m.frames[frame]
	if !page.IsDirty() {
		return true, nil
	}
	buf := page.Data()
	storage.StampChecksum(buf)
	if err := m.disk.WritePage(id, buf); err != nil {
		return false, err
	}
	page.SetDirty(false)
	m.log.Debug("flushed page", zap.Int32("page_id", int32(id)))
	return true, nil
}

// FlushAll flushes every dirty page currently resident in the pool.
func (m *Manager) FlushAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.pageTable {
		if _, err := m.flushLocked(id); err != nil {
			return err
		}
	}
	return m.disk.Sync()
}

// Delete removes id from the pool and deallocates it on disk. It returns
// true (and succeeds vacuously) if id was not resident. It fails if id is
// resident and still pinned.
func (m *Manager) Delete(id storage.PageID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frame, ok := m.pageTable[id]
	if !ok {
		return true, nil
	}
	page := m.frames[frame]
	if page.PinCount() > 0 {
		return false, ErrPagePinned
	}
	m.replacer.pin(frame) // remove from the evictable set, if present
	delete(m.pageTable, id)
	page.Reset()
	m.freeList = append(m.freeList, frame)
	if err := m.disk.DeallocatePage(id); err != nil {
		return false, err
	}
	m.log.Debug("deleted page", zap.Int32("page_id", int32(id)))
	return true, nil
}

// acquireFrame returns a frame index ready to receive a new page: preferring
// the free list, then the replacer's LRU victim, flushing it first if
// dirty. Must be called with mu held.
func (m *Manager) acquireFrame(ctx context.Context) (int, error) {
	if n := len(m.freeList); n > 0 {
		frame := m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
		return frame, nil
	}

	frame, ok := m.replacer.victim()
	if !ok {
		return 0, ErrPoolExhausted
	}
	m.met.RecordEviction(ctx)
	victim := m.frames[frame]
	victimID := victim.ID()
	if victim.IsDirty() {
		storage.StampChecksum(victim.Data())
		if err := m.disk.WritePage(victimID, victim.Data()); err != nil {
			// Put the victim back in the replacer: it is still a valid,
			// unpinned page, just one we failed to evict.
			m.replacer.unpin(frame)
			return 0, fmt.Errorf("evicting page %d: %w", victimID, err)
		}
		victim.SetDirty(false)
	}
	delete(m.pageTable, victimID)
	m.log.Debug("evicted frame", zap.Int32("evicted_page_id", int32(victimID)), zap.Int("frame", frame))
	return frame, nil
}
