package bptree

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/arvindr-dev/bptreedb/core/bufferpool"
	"github.com/arvindr-dev/bptreedb/core/storage"
	"github.com/stretchr/testify/require"
)

const testKeySize = 8
const testValueSize = 8

func encodeN(n int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b
}

func decodeN(b []byte) int { return int(binary.BigEndian.Uint64(b)) }

func newTestTree(t *testing.T, name string, leafMax, internalMax int) *Tree {
	t.Helper()
	dm, err := storage.Create(filepath.Join(t.TempDir(), "db.bin"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	bpm := bufferpool.NewManager(64, dm, nil, nil)
	cfg := Config{KeySize: testKeySize, ValueSize: testValueSize, LeafMaxSize: leafMax, InternalMaxSize: internalMax}
	tree, err := CreateTree(context.Background(), name, bpm, cmpKeys, cfg, nil, nil)
	require.NoError(t, err)
	return tree
}

// 1. Sequential insert of keys 1..10 grows the tree past a single leaf and
// every key remains reachable by point lookup afterward.
func TestSequentialInsertThenLookupAll(t *testing.T) {
	tree := newTestTree(t, "seq", 4, 4)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		require.NoError(t, tree.Insert(ctx, encodeN(i), encodeN(i*100)))
	}
	stats, err := tree.Stats(ctx)
	require.NoError(t, err)
	require.Greater(t, stats.Height, 1, "10 keys with max_size 4 must have split into more than one level")
	require.Equal(t, 10, stats.KeyCount)
	require.Greater(t, stats.PageCount, 1, "10 keys with leaf max_size 4 must span more than one leaf")

	for i := 1; i <= 10; i++ {
		v, err := tree.Get(ctx, encodeN(i))
		require.NoError(t, err)
		require.Equal(t, i*100, decodeN(v))
	}
}

func TestInsertDuplicateFails(t *testing.T) {
	tree := newTestTree(t, "dup", 4, 4)
	ctx := context.Background()
	require.NoError(t, tree.Insert(ctx, encodeN(1), encodeN(1)))
	require.ErrorIs(t, tree.Insert(ctx, encodeN(1), encodeN(2)), ErrDuplicateKey)
}

// 2. Selectively remove a subset of keys and confirm a forward scan yields
// exactly the survivors in order.
func TestSelectiveRemovalThenScan(t *testing.T) {
	tree := newTestTree(t, "selective", 4, 4)
	ctx := context.Background()

	for i := 1; i <= 20; i++ {
		require.NoError(t, tree.Insert(ctx, encodeN(i), encodeN(i)))
	}
	removed := map[int]bool{}
	for i := 1; i <= 20; i += 3 {
		require.NoError(t, tree.Remove(ctx, encodeN(i)))
		removed[i] = true
	}

	it, err := tree.Begin(ctx)
	require.NoError(t, err)
	var got []int
	for it.Valid() {
		got = append(got, decodeN(it.Key()))
		it.Next()
	}

	var want []int
	for i := 1; i <= 20; i++ {
		if !removed[i] {
			want = append(want, i)
		}
	}
	require.Equal(t, want, got)

	for i := range removed {
		_, err := tree.Get(ctx, encodeN(i))
		require.ErrorIs(t, err, ErrKeyNotFound)
	}
}

// Two adjacent leaves whose sizes sum to no more than max_size must be
// coalesced into one on underflow, never left as two under-full leaves via
// redistribution: with leaf_max=4, inserting 1..5 splits into a 2-entry
// leaf and a 3-entry leaf; removing one key from the 2-entry leaf leaves it
// at size 1 next to a size-3 sibling, and 1+3<=4 mandates a merge.
func TestRemoveCoalescesInsteadOfRedistributingWhenCombinedSizeFits(t *testing.T) {
	tree := newTestTree(t, "coalesce", 4, 4)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, tree.Insert(ctx, encodeN(i), encodeN(i)))
	}
	preStats, err := tree.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, preStats.Height, "5 keys with leaf max_size 4 must have split once")
	require.Equal(t, 2, preStats.PageCount, "the split must have produced exactly two leaves")

	require.NoError(t, tree.Remove(ctx, encodeN(1)))

	postStats, err := tree.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, postStats.Height, "the two leaves must have merged back into a single root leaf")
	require.Equal(t, 1, postStats.PageCount)
	require.Equal(t, 4, postStats.KeyCount)

	_, err = tree.Get(ctx, encodeN(1))
	require.ErrorIs(t, err, ErrKeyNotFound)
	for i := 2; i <= 5; i++ {
		v, err := tree.Get(ctx, encodeN(i))
		require.NoError(t, err)
		require.Equal(t, i, decodeN(v))
	}
}

func TestRemoveUnknownKeyOnNonEmptyTree(t *testing.T) {
	tree := newTestTree(t, "unknown", 4, 4)
	ctx := context.Background()
	require.NoError(t, tree.Insert(ctx, encodeN(1), encodeN(1)))
	require.ErrorIs(t, tree.Remove(ctx, encodeN(999)), ErrKeyNotFound)
}

// 6. Removing from a tree that never had anything inserted must fail
// cleanly, not panic.
func TestRemoveOnEmptyTree(t *testing.T) {
	tree := newTestTree(t, "empty", 4, 4)
	ctx := context.Background()
	require.True(t, tree.IsEmpty())
	require.ErrorIs(t, tree.Remove(ctx, encodeN(1)), ErrEmptyTree)
}

func TestGetOnEmptyTree(t *testing.T) {
	tree := newTestTree(t, "empty-get", 4, 4)
	_, err := tree.Get(context.Background(), encodeN(1))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestInsertThenRemoveAllEmptiesTree(t *testing.T) {
	tree := newTestTree(t, "drain", 4, 4)
	ctx := context.Background()
	for i := 1; i <= 30; i++ {
		require.NoError(t, tree.Insert(ctx, encodeN(i), encodeN(i)))
	}
	for i := 1; i <= 30; i++ {
		require.NoError(t, tree.Remove(ctx, encodeN(i)))
	}
	require.True(t, tree.IsEmpty())
	require.ErrorIs(t, tree.Remove(ctx, encodeN(1)), ErrEmptyTree)
}

// 3. Concurrent insert and delete of disjoint key ranges must not corrupt
// the tree or lose updates.
func TestConcurrentDisjointInsertAndDelete(t *testing.T) {
	tree := newTestTree(t, "disjoint", 4, 4)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		require.NoError(t, tree.Insert(ctx, encodeN(i), encodeN(i)))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 100; i < 150; i++ {
			require.NoError(t, tree.Insert(ctx, encodeN(i), encodeN(i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			require.NoError(t, tree.Remove(ctx, encodeN(i)))
		}
	}()
	wg.Wait()

	for i := 0; i < 50; i++ {
		_, err := tree.Get(ctx, encodeN(i))
		require.ErrorIs(t, err, ErrKeyNotFound)
	}
	for i := 100; i < 150; i++ {
		v, err := tree.Get(ctx, encodeN(i))
		require.NoError(t, err)
		require.Equal(t, i, decodeN(v))
	}
}

// 5. Many goroutines inserting the full key set concurrently: every key
// must land exactly once and be findable afterward.
func TestConcurrentFullSetInsert(t *testing.T) {
	tree := newTestTree(t, "fullset", 4, 4)
	ctx := context.Background()
	const n = 200
	const workers = 4

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < n; i += workers {
				if err := tree.Insert(ctx, encodeN(i), encodeN(i)); err != nil {
					errs <- fmt.Errorf("key %d: %w", i, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	for i := 0; i < n; i++ {
		v, err := tree.Get(ctx, encodeN(i))
		require.NoError(t, err)
		require.Equal(t, i, decodeN(v))
	}
}

// 4. Four goroutines hammering random inserts and deletes, each over its own
// key range, must leave the tree in a state consistent with a sequential
// model of the same operations.
func TestConcurrentRandomInsertDeleteFuzz(t *testing.T) {
	tree := newTestTree(t, "fuzz", 4, 4)
	ctx := context.Background()
	const keySpace = 100
	const opsPerWorker = 300
	const workers = 4

	var mu sync.Mutex
	present := make(map[int]bool)

	var wg sync.WaitGroup
	rng := rand.New(rand.NewSource(1))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		seed := rng.Int63()
		go func(w int, seed int64) {
			defer wg.Done()
			local := rand.New(rand.NewSource(seed))
			for i := 0; i < opsPerWorker; i++ {
				key := w*keySpace + local.Intn(keySpace)
				if local.Intn(2) == 0 {
					err := tree.Insert(ctx, encodeN(key), encodeN(key))
					if err == nil {
						mu.Lock()
						present[key] = true
						mu.Unlock()
					} else {
						require.ErrorIs(t, err, ErrDuplicateKey)
					}
				} else {
					err := tree.Remove(ctx, encodeN(key))
					if err == nil {
						mu.Lock()
						present[key] = false
						mu.Unlock()
					} else {
						require.True(t, errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrEmptyTree),
							"remove of an absent key must fail with ErrKeyNotFound, or ErrEmptyTree on an empty tree: %v", err)
					}
				}
			}
		}(w, seed)
	}
	wg.Wait()

	it, err := tree.Begin(ctx)
	require.NoError(t, err)
	count := 0
	last := -1
	for it.Valid() {
		k := decodeN(it.Key())
		require.Greater(t, k, last, "scan must be strictly increasing")
		last = k
		count++
		it.Next()
	}

	var wantCount int
	for _, ok := range present {
		if ok {
			wantCount++
		}
	}
	require.Equal(t, wantCount, count, "final tree contents must match some serialization of the racing operations")
}

func TestBeginAtAndBeginAtExact(t *testing.T) {
	tree := newTestTree(t, "beginat", 4, 4)
	ctx := context.Background()
	for _, k := range []int{10, 20, 30, 40} {
		require.NoError(t, tree.Insert(ctx, encodeN(k), encodeN(k)))
	}

	it, err := tree.BeginAt(ctx, encodeN(25))
	require.NoError(t, err)
	require.True(t, it.Valid())
	require.Equal(t, 30, decodeN(it.Key()), "BeginAt seeks to the first key >= the given key")
	it.Close()

	it, err = tree.BeginAtExact(ctx, encodeN(25))
	require.NoError(t, err)
	require.False(t, it.Valid(), "BeginAtExact must not land on a larger key when the exact key is absent")

	it, err = tree.BeginAtExact(ctx, encodeN(30))
	require.NoError(t, err)
	require.True(t, it.Valid())
	require.Equal(t, 30, decodeN(it.Key()))
	it.Close()
}

func TestOpenTreeRoundTripsThroughHeaderPage(t *testing.T) {
	dm, err := storage.Create(filepath.Join(t.TempDir(), "db.bin"), nil)
	require.NoError(t, err)
	defer dm.Close()
	bpm := bufferpool.NewManager(64, dm, nil, nil)
	cfg := Config{KeySize: testKeySize, ValueSize: testValueSize, LeafMaxSize: 4, InternalMaxSize: 4}
	ctx := context.Background()

	created, err := CreateTree(ctx, "roundtrip", bpm, cmpKeys, cfg, nil, nil)
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		require.NoError(t, created.Insert(ctx, encodeN(i), encodeN(i)))
	}

	reopened, err := OpenTree(ctx, "roundtrip", bpm, cmpKeys, cfg, nil, nil)
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		v, err := reopened.Get(ctx, encodeN(i))
		require.NoError(t, err)
		require.Equal(t, i, decodeN(v))
	}

	_, err = CreateTree(ctx, "roundtrip", bpm, cmpKeys, cfg, nil, nil)
	require.ErrorIs(t, err, ErrIndexExists)

	_, err = OpenTree(ctx, "does-not-exist", bpm, cmpKeys, cfg, nil, nil)
	require.ErrorIs(t, err, ErrIndexNotFound)
}
