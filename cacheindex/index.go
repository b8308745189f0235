// Package cacheindex implements the server-side key -> entry mapping:
// fine-grained keyed locking so operations on distinct keys proceed in
// parallel while operations on the same key serialize, lazy TTL expiry,
// and reference-counted entry lifetime so a DELETE racing an in-flight
// GET's one-sided transfer never reclaims the pool bytes out from under
// it.
package cacheindex

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/raulk/clock"
)

// numShards controls lock granularity: operations on keys that hash to
// different shards never contend.
const numShards = 32

// Entry is one live cache record. All fields below
// refcount/tombstoned are set once at construction and read freely without
// synchronization; refcount and tombstoned are mutated only while holding
// the mutex of the shard that owns this entry's key (shardFor(key)), which
// every Index method already does.
type Entry struct {
	DataLength uint64
	PoolOffset uint64
	TTLSeconds uint64
	CreatedAt  time.Time

	refcount   int32
	tombstoned bool
}

// expired reports whether e has outlived its TTL as of now. TTLSeconds==0
// means the entry never expires.
func (e *Entry) expired(now time.Time) bool {
	if e.TTLSeconds == 0 {
		return false
	}
	return now.Sub(e.CreatedAt) >= time.Duration(e.TTLSeconds)*time.Second
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// Index is the sharded, TTL-aware cache index.
type Index struct {
	shards [numShards]*shard
	clock  clock.Clock

	// onReclaim is called exactly once per entry, once its refcount has
	// dropped to zero after being tombstoned (by DELETE, by a PUT replacing
	// it, or by lazy TTL expiry). It is the caller's pool.Deallocate, kept
	// as a callback so this package never imports package pool, keeping
	// Entry a leaf in the ownership graph.
	onReclaim func(offset, size uint64)
}

// New builds an Index. clk is injectable so tests can fast-forward TTL
// expiry instead of sleeping real wall-clock seconds;
// production callers pass clock.New(). onReclaim is invoked with the
// (offset, size) of any entry whose backing pool range becomes safe to
// free.
func New(clk clock.Clock, onReclaim func(offset, size uint64)) *Index {
	idx := &Index{clock: clk, onReclaim: onReclaim}
	for i := range idx.shards {
		idx.shards[i] = &shard{entries: make(map[string]*Entry)}
	}
	return idx
}

func (idx *Index) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return idx.shards[h.Sum32()%numShards]
}

// Put installs a new Entry for key, returning the entry it replaced (nil if
// none). The replaced entry's pool range is reclaimed immediately unless an
// in-flight GET still holds it, in which case reclamation is deferred to
// that GET's Release call.
func (idx *Index) Put(key string, e *Entry) (old *Entry) {
	sh := idx.shardFor(key)

	sh.mu.Lock()
	old = sh.entries[key]
	sh.entries[key] = e
	var reclaimOld bool
	if old != nil {
		old.tombstoned = true
		reclaimOld = old.refcount == 0
	}
	sh.mu.Unlock()

	if reclaimOld {
		idx.reclaim(old)
	}
	return old
}

// Get looks up key, lazily expiring it if its TTL has elapsed. On a live
// hit the entry's refcount is incremented before return; callers MUST
// call Release exactly once when done (after the one-sided transfer
// settles), so a concurrent Delete never frees bytes still being read.
func (idx *Index) Get(key string) (*Entry, bool) {
	sh := idx.shardFor(key)
	now := idx.clock.Now()

	sh.mu.Lock()
	e, ok := sh.entries[key]
	if ok && e.expired(now) {
		delete(sh.entries, key)
		e.tombstoned = true
		reclaimNow := e.refcount == 0
		sh.mu.Unlock()
		if reclaimNow {
			idx.reclaim(e)
		}
		return nil, false
	}
	if ok {
		e.refcount++
	}
	sh.mu.Unlock()
	return e, ok
}

// Release decrements e's refcount. If e has been tombstoned (by Delete, by
// a replacing Put, or by lazy expiry) and this was the last outstanding
// holder, e's pool range is reclaimed via onReclaim.
func (idx *Index) Release(key string, e *Entry) {
	sh := idx.shardFor(key)

	sh.mu.Lock()
	e.refcount--
	reclaimNow := e.refcount == 0 && e.tombstoned
	sh.mu.Unlock()

	if reclaimNow {
		idx.reclaim(e)
	}
}

// Delete removes key if present and returns whether it existed; it never
// fails. Reclamation of the removed entry's pool range is deferred if a
// GET is still holding it.
func (idx *Index) Delete(key string) (existed bool) {
	sh := idx.shardFor(key)

	sh.mu.Lock()
	e, ok := sh.entries[key]
	var reclaimNow bool
	if ok {
		delete(sh.entries, key)
		e.tombstoned = true
		reclaimNow = e.refcount == 0
	}
	sh.mu.Unlock()

	if reclaimNow {
		idx.reclaim(e)
	}
	return ok
}

func (idx *Index) reclaim(e *Entry) {
	if idx.onReclaim != nil {
		idx.onReclaim(e.PoolOffset, e.DataLength)
	}
}
