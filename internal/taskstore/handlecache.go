// Package taskstore implements C2 (Task File Store) and C3 (LRU Handle
// Cache) of the report store: per-task append-only files, directory
// sharded by task-id prefix, reached through a bounded-staleness cache
// of open write handles (spec.md §4.2, §4.3).
package taskstore

import (
	"container/list"
	"io"
	"sync"
	"time"

	"github.com/xtrace/reportstore/internal/xerrors"
	"github.com/xtrace/reportstore/internal/xtypes"

	"github.com/sirupsen/logrus"
)

// Opener creates a fresh append-mode writer for a task-id. The handle
// cache calls this on first access per task; the caller (FileStore)
// owns directory creation and path layout.
type Opener func(taskID xtypes.TaskID) (io.WriteCloser, error)

// entry is a CachedHandle (spec.md §3) plus its position in the
// recency list.
type entry struct {
	taskID           xtypes.TaskID
	writer           io.WriteCloser
	lastAccessMillis int64
	elem             *list.Element
}

// HandleCache is C3: a size-unbounded map keyed by task-id, ordered by
// access recency, handing out append-mode writers. On every insertion
// it inspects the least-recently-used entry and, if it has been idle
// longer than validFor, closes and evicts it before inserting the new
// one — so the cache only trims itself under sustained ingest
// pressure; idle tasks stay open until displaced (spec.md §4.3).
//
// All operations serialize on one mutex. That is safe for this store
// because only the single ingest thread ever writes a report body for
// a given task-id (spec.md §5) — the mutex here protects the cache's
// own bookkeeping, not cross-task-writer races.
type HandleCache struct {
	mu       sync.Mutex
	entries  map[xtypes.TaskID]*entry
	order    *list.List // front = most recently used
	validFor time.Duration
	opener   Opener
	logger   *logrus.Logger

	evictions int64
}

func NewHandleCache(validFor time.Duration, opener Opener, logger *logrus.Logger) *HandleCache {
	return &HandleCache{
		entries:  make(map[xtypes.TaskID]*entry),
		order:    list.New(),
		validFor: validFor,
		opener:   opener,
		logger:   logger,
	}
}

// Access returns the writer for taskID, opening one via Opener on
// first use, and bumps its recency. It returns a nil writer and an
// error if the handle couldn't be created — per spec.md §7's "Handle
// cache error" row, the caller is expected to drop the report rather
// than propagate.
func (c *HandleCache) Access(taskID xtypes.TaskID) (io.Writer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[taskID]; ok {
		c.order.MoveToFront(e.elem)
		e.lastAccessMillis = nowMillis()
		return e.writer, nil
	}

	c.evictStaleLRULocked()

	writer, err := c.opener(taskID)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeHandleCache, "taskstore", "Access", "failed to open task file").
			WithTaskID(string(taskID)).Wrap(err)
	}

	e := &entry{taskID: taskID, writer: writer, lastAccessMillis: nowMillis()}
	e.elem = c.order.PushFront(e)
	c.entries[taskID] = e
	return writer, nil
}

// evictStaleLRULocked inspects the back of the recency list (the
// least-recently-used entry) and, if it has been idle past validFor,
// closes its writer and removes it. Called with mu held, before every
// insertion, per spec.md §4.3.
func (c *HandleCache) evictStaleLRULocked() {
	back := c.order.Back()
	if back == nil {
		return
	}
	e := back.Value.(*entry)
	if nowMillis()-e.lastAccessMillis < c.validFor.Milliseconds() {
		return
	}
	c.order.Remove(back)
	delete(c.entries, e.taskID)
	c.evictions++
	if err := e.writer.Close(); err != nil && c.logger != nil {
		c.logger.WithFields(logrus.Fields{
			"component": "taskstore",
			"task_id":   e.taskID,
		}).Warn("error closing evicted handle: " + err.Error())
	}
}

// FlushAll flushes every open writer without closing it, where the
// writer supports flushing (buffered writers do; see bufferedWriteCloser).
func (c *HandleCache) FlushAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.order.Front(); e != nil; e = e.Next() {
		ent := e.Value.(*entry)
		if f, ok := ent.writer.(flusher); ok {
			if err := f.Flush(); err != nil && c.logger != nil {
				c.logger.WithFields(logrus.Fields{"task_id": ent.taskID}).Warn("flush failed: " + err.Error())
			}
		}
	}
}

// CloseAll flushes, closes, and empties the cache. Idempotent: calling
// it twice is a no-op the second time (spec.md §8, "idempotent
// shutdown").
func (c *HandleCache) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.order.Front(); e != nil; e = e.Next() {
		ent := e.Value.(*entry)
		if f, ok := ent.writer.(flusher); ok {
			_ = f.Flush()
		}
		if err := ent.writer.Close(); err != nil && c.logger != nil {
			c.logger.WithFields(logrus.Fields{"task_id": ent.taskID}).Warn("close failed: " + err.Error())
		}
	}
	c.entries = make(map[xtypes.TaskID]*entry)
	c.order.Init()
}

// Len reports the number of currently cached handles, for tests and metrics.
func (c *HandleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Evictions reports the cumulative count of staleness-triggered evictions.
func (c *HandleCache) Evictions() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}

type flusher interface {
	Flush() error
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
