package taskstore

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/xtrace/reportstore/internal/xtypes"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWriteCloser records whether it was closed, for eviction assertions.
type fakeWriteCloser struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (f *fakeWriteCloser) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.Write(p)
}
func (f *fakeWriteCloser) Flush() error { return nil }
func (f *fakeWriteCloser) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
func (f *fakeWriteCloser) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func fakeOpener(handles map[xtypes.TaskID]*fakeWriteCloser) Opener {
	return func(taskID xtypes.TaskID) (io.WriteCloser, error) {
		h := &fakeWriteCloser{}
		handles[taskID] = h
		return h, nil
	}
}

func TestHandleCache_AccessOpensOnce(t *testing.T) {
	handles := map[xtypes.TaskID]*fakeWriteCloser{}
	c := NewHandleCache(500*time.Millisecond, fakeOpener(handles), testLogger())

	w1, err := c.Access("ABCDEF0123")
	require.NoError(t, err)
	w2, err := c.Access("ABCDEF0123")
	require.NoError(t, err)

	assert.Same(t, w1, w2)
	assert.Equal(t, 1, c.Len())
}

func TestHandleCache_StaleEvictionOnInsertion(t *testing.T) {
	handles := map[xtypes.TaskID]*fakeWriteCloser{}
	c := NewHandleCache(20*time.Millisecond, fakeOpener(handles), testLogger())

	_, err := c.Access("AAAAAA0001")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	// A new task-id insertion should trigger inspection of the LRU
	// entry (AAAAAA0001) and, finding it stale, evict and close it.
	_, err = c.Access("BBBBBB0002")
	require.NoError(t, err)

	assert.True(t, handles["AAAAAA0001"].isClosed())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(1), c.Evictions())
}

func TestHandleCache_IdleTaskNotEvictedWithoutNewInsertion(t *testing.T) {
	handles := map[xtypes.TaskID]*fakeWriteCloser{}
	c := NewHandleCache(10*time.Millisecond, fakeOpener(handles), testLogger())

	_, err := c.Access("AAAAAA0001")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	assert.False(t, handles["AAAAAA0001"].isClosed())
	assert.Equal(t, 1, c.Len())
}

func TestHandleCache_CloseAllIsIdempotent(t *testing.T) {
	handles := map[xtypes.TaskID]*fakeWriteCloser{}
	c := NewHandleCache(500*time.Millisecond, fakeOpener(handles), testLogger())

	_, err := c.Access("AAAAAA0001")
	require.NoError(t, err)

	c.CloseAll()
	assert.True(t, handles["AAAAAA0001"].isClosed())
	assert.Equal(t, 0, c.Len())

	assert.NotPanics(t, func() { c.CloseAll() })
}

func TestHandleCache_RecencyBumpProtectsFromEviction(t *testing.T) {
	handles := map[xtypes.TaskID]*fakeWriteCloser{}
	c := NewHandleCache(25*time.Millisecond, fakeOpener(handles), testLogger())

	_, err := c.Access("AAAAAA0001")
	require.NoError(t, err)

	time.Sleep(15 * time.Millisecond)
	// touch it again, resetting its lastAccessMillis
	_, err = c.Access("AAAAAA0001")
	require.NoError(t, err)

	time.Sleep(15 * time.Millisecond)
	_, err = c.Access("BBBBBB0002")
	require.NoError(t, err)

	// AAAAAA0001 was accessed 15ms ago (< validFor 25ms), so it should
	// still be the one considered, not evicted, and BBBBBB0002 just
	// gets inserted alongside it.
	assert.False(t, handles["AAAAAA0001"].isClosed())
	assert.Equal(t, 2, c.Len())
}
