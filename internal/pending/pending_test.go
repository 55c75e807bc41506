package pending

import (
	"sync"
	"testing"

	"github.com/xtrace/reportstore/internal/xtypes"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_RecordMergesCountTitleTags(t *testing.T) {
	m := New(4)
	taskID := xtypes.TaskID("ABCDEF0123")

	m.Record(taskID, "", map[string]struct{}{"a": {}})
	m.Record(taskID, "hello", map[string]struct{}{"b": {}})
	m.Record(taskID, "", nil)

	drained := m.Swap()
	require.Contains(t, drained, taskID)
	u := drained[taskID]
	assert.Equal(t, int64(3), u.NewReportCount)
	assert.Equal(t, "hello", u.Title)
	assert.True(t, u.TitleSet)
	assert.Len(t, u.Tags, 2)
}

func TestMap_SwapDrainsAndResets(t *testing.T) {
	m := New(4)
	m.Record("AAAAAA0001", "", nil)
	m.Record("BBBBBB0002", "", nil)

	first := m.Swap()
	assert.Len(t, first, 2)
	assert.Equal(t, 0, m.Len())

	second := m.Swap()
	assert.Len(t, second, 0)
}

func TestMap_ConcurrentRecordAndSwap(t *testing.T) {
	m := New(8)
	taskID := xtypes.TaskID("ABCDEF0123")

	var wg sync.WaitGroup
	const writers = 50
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			m.Record(taskID, "", nil)
		}()
	}
	wg.Wait()

	drained := m.Swap()
	require.Contains(t, drained, taskID)
	assert.Equal(t, int64(writers), drained[taskID].NewReportCount)
}

func TestMap_DistinctTaskIDsDoNotCollide(t *testing.T) {
	m := New(4)
	for i := 0; i < 100; i++ {
		taskID := xtypes.TaskID(string(rune('A'+i%26)) + "00000" + string(rune('0'+i%10)))
		m.Record(taskID, "", nil)
	}
	drained := m.Swap()
	total := 0
	for _, u := range drained {
		total += int(u.NewReportCount)
	}
	assert.Equal(t, 100, total)
}
