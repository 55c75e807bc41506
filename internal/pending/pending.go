// Package pending implements C4: the pending-update map that coalesces
// per-task metadata deltas between ingest events and the background
// updater's drains (spec.md §4.4).
//
// The reference guards the map with a spin lock (a single atomic flag
// acquired by busy-wait); spec.md §9 calls that acceptable but notes a
// plain mutex is a cleaner realization, and shards cheaply across
// multiple such locks to cut contention between the single ingest
// writer and the single updater reader further than a bare mutex
// would need to. Sharding key is an xxhash of the task-id, the same
// fast non-cryptographic hash the wider example corpus reaches for
// when it needs to bucket by key (see DESIGN.md).
package pending

import (
	"sync"

	"github.com/xtrace/reportstore/internal/xtypes"

	"github.com/cespare/xxhash/v2"
)

const defaultShardCount = 16

// Map is C4. record() is called by the ingest thread; swap() is called
// by the updater. Both are safe for concurrent use, though spec.md §5
// only ever has exactly those two callers.
type Map struct {
	shards []*shard
	mask   uint64
}

type shard struct {
	mu   sync.Mutex
	data map[xtypes.TaskID]*xtypes.PendingUpdate
}

// New builds a sharded pending-update map. shardCount is rounded up to
// the next power of two; 0 selects the default.
func New(shardCount int) *Map {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	n := 1
	for n < shardCount {
		n <<= 1
	}
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{data: make(map[xtypes.TaskID]*xtypes.PendingUpdate)}
	}
	return &Map{shards: shards, mask: uint64(n - 1)}
}

func (m *Map) shardFor(taskID xtypes.TaskID) *shard {
	h := xxhash.Sum64String(string(taskID))
	return m.shards[h&m.mask]
}

// Record atomically looks up or inserts the PendingUpdate for taskID
// and merges in one new report observation, per spec.md §4.4's merge
// rules (count += 1; title overwrites any-non-null; tags union).
func (m *Map) Record(taskID xtypes.TaskID, title string, tags map[string]struct{}) {
	s := m.shardFor(taskID)
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.data[taskID]
	if !ok {
		u = &xtypes.PendingUpdate{TaskID: taskID}
		s.data[taskID] = u
	}
	u.Merge(title, tags, 1)
}

// Swap atomically exchanges every shard's map with a fresh empty one
// and returns the drained contents merged into a single map, for the
// updater to apply. Swapping shard-by-shard (rather than holding every
// shard's lock at once) is safe because the ingest thread only ever
// touches one shard per Record call — there's never a cross-shard
// invariant for Swap to violate by not taking a global snapshot.
func (m *Map) Swap() map[xtypes.TaskID]*xtypes.PendingUpdate {
	drained := make(map[xtypes.TaskID]*xtypes.PendingUpdate)
	for _, s := range m.shards {
		s.mu.Lock()
		for k, v := range s.data {
			drained[k] = v
		}
		s.data = make(map[xtypes.TaskID]*xtypes.PendingUpdate)
		s.mu.Unlock()
	}
	return drained
}

// Len reports the total number of pending tasks across all shards, for
// metrics and tests.
func (m *Map) Len() int {
	total := 0
	for _, s := range m.shards {
		s.mu.Lock()
		total += len(s.data)
		s.mu.Unlock()
	}
	return total
}
