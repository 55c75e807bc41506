package query

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/xtrace/reportstore/internal/index"
	"github.com/xtrace/reportstore/internal/taskstore"
	"github.com/xtrace/reportstore/internal/xtypes"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func newSurface(t *testing.T) (*Surface, *taskstore.FileStore, *index.Index) {
	t.Helper()
	root := t.TempDir()
	fs, err := taskstore.New(root, 500*time.Millisecond, testLogger())
	require.NoError(t, err)
	ix, err := index.Open(root)
	require.NoError(t, err)
	t.Cleanup(func() {
		fs.Shutdown()
		ix.Close()
	})
	return New(fs, ix, testLogger(), nil), fs, ix
}

func insertTask(t *testing.T, ix *index.Index, taskID xtypes.TaskID, firstSeen, lastUpdated time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, ix.Tx(ctx, func(tx *sql.Tx) error {
		return index.Insert(ctx, tx, taskID, "", string(taskID), 1, firstSeen)
	}))
	require.NoError(t, ix.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE tasks SET last_updated = ? WHERE task_id = ?`,
			lastUpdated.UnixMilli(), string(taskID))
		return err
	}))
}

func TestSurface_ReportsByTask_ParsesMultipleFrames(t *testing.T) {
	s, fs, _ := newSurface(t)
	taskID := xtypes.TaskID("ABCDEF0123")

	report1 := "X-Trace Report ver 1\nX-Trace: ABCDEF0123\nTitle: start\n"
	report2 := "X-Trace Report ver 1\nX-Trace: ABCDEF0123\nTitle: end\nTag: done\n"
	require.NoError(t, fs.Append(taskID, report1))
	require.NoError(t, fs.Append(taskID, report2))
	fs.FlushAll()

	reports := s.ReportsByTask(taskID)
	require.Len(t, reports, 2)
	assert.Equal(t, taskID, reports[0].TaskID)
	assert.Equal(t, taskID, reports[1].TaskID)
}

func TestSurface_ReportsByTask_MissingFileReturnsNil(t *testing.T) {
	s, _, _ := newSurface(t)
	reports := s.ReportsByTask(xtypes.TaskID("NOSUCHTASK"))
	assert.Nil(t, reports)
}

func TestSurface_OverlappingTasks_OneHop(t *testing.T) {
	s, _, ix := newSurface(t)

	epoch := time.UnixMilli(0)
	insertTask(t, ix, "TASKONE0001", epoch.Add(1*time.Second), epoch.Add(5*time.Second))
	insertTask(t, ix, "TASKTWO0002", epoch.Add(4*time.Second), epoch.Add(7*time.Second))
	insertTask(t, ix, "TASKTHREE03", epoch.Add(6*time.Second), epoch.Add(10*time.Second))
	insertTask(t, ix, "TASKFOUR004", epoch.Add(20*time.Second), epoch.Add(25*time.Second))

	got := s.OverlappingTasks(context.Background(), "TASKONE0001")
	ids := toSet(got)
	assert.Contains(t, ids, xtypes.TaskID("TASKONE0001"))
	assert.Contains(t, ids, xtypes.TaskID("TASKTWO0002"))
	assert.NotContains(t, ids, xtypes.TaskID("TASKTHREE03"))
	assert.NotContains(t, ids, xtypes.TaskID("TASKFOUR004"))
}

func TestSurface_AllOverlappingTasks_TransitiveClosure(t *testing.T) {
	s, _, ix := newSurface(t)

	epoch := time.UnixMilli(0)
	insertTask(t, ix, "TASKONE0001", epoch.Add(1*time.Second), epoch.Add(5*time.Second))
	insertTask(t, ix, "TASKTWO0002", epoch.Add(4*time.Second), epoch.Add(7*time.Second))
	insertTask(t, ix, "TASKTHREE03", epoch.Add(6*time.Second), epoch.Add(10*time.Second))
	insertTask(t, ix, "TASKFOUR004", epoch.Add(20*time.Second), epoch.Add(25*time.Second))

	got := s.AllOverlappingTasks(context.Background(), "TASKONE0001")
	ids := toSet(got)
	assert.Contains(t, ids, xtypes.TaskID("TASKONE0001"))
	assert.Contains(t, ids, xtypes.TaskID("TASKTWO0002"))
	assert.Contains(t, ids, xtypes.TaskID("TASKTHREE03"))
	assert.NotContains(t, ids, xtypes.TaskID("TASKFOUR004"))
}

func TestSurface_TagsForTask(t *testing.T) {
	s, _, ix := newSurface(t)
	epoch := time.UnixMilli(0)
	insertTask(t, ix, "TASKONE0001", epoch, epoch)
	require.NoError(t, ix.Tx(context.Background(), func(tx *sql.Tx) error {
		return index.SetTags(context.Background(), tx, "TASKONE0001", xtypes.TagsCSV(map[string]struct{}{"alpha": {}, "beta": {}}))
	}))

	tags := s.TagsForTask(context.Background(), "TASKONE0001")
	assert.ElementsMatch(t, []string{"alpha", "beta"}, tags)
}

func TestSurface_ListTasks_DefaultsToLatest(t *testing.T) {
	s, _, ix := newSurface(t)
	epoch := time.UnixMilli(0)
	insertTask(t, ix, "TASKONE0001", epoch, epoch.Add(1*time.Second))
	insertTask(t, ix, "TASKTWO0002", epoch, epoch.Add(2*time.Second))

	got := s.ListTasks(context.Background(), ListFilter{})
	require.Len(t, got, 2)
	assert.Equal(t, xtypes.TaskID("TASKTWO0002"), got[0].TaskID)
}

func TestSurface_ListTasks_ByTagExact(t *testing.T) {
	s, _, ix := newSurface(t)
	epoch := time.UnixMilli(0)
	insertTask(t, ix, "TASKONE0001", epoch, epoch)
	insertTask(t, ix, "TASKTWO0002", epoch, epoch)
	require.NoError(t, ix.Tx(context.Background(), func(tx *sql.Tx) error {
		return index.SetTags(context.Background(), tx, "TASKONE0001", xtypes.TagsCSV(map[string]struct{}{"prod": {}}))
	}))
	require.NoError(t, ix.Tx(context.Background(), func(tx *sql.Tx) error {
		return index.SetTags(context.Background(), tx, "TASKTWO0002", xtypes.TagsCSV(map[string]struct{}{"staging": {}}))
	}))

	got := s.ListTasks(context.Background(), ListFilter{Tag: "prod"})
	require.Len(t, got, 1)
	assert.Equal(t, xtypes.TaskID("TASKONE0001"), got[0].TaskID)
}

func TestSurface_ListTasks_ByTitleExact(t *testing.T) {
	s, _, ix := newSurface(t)
	epoch := time.UnixMilli(0)
	require.NoError(t, ix.Tx(context.Background(), func(tx *sql.Tx) error {
		return index.Insert(context.Background(), tx, "TASKONE0001", "", "nightly build", 1, epoch)
	}))

	got := s.ListTasks(context.Background(), ListFilter{TitleExact: "nightly build"})
	require.Len(t, got, 1)
	assert.Equal(t, xtypes.TaskID("TASKONE0001"), got[0].TaskID)
}

func TestSurface_TaskSummary(t *testing.T) {
	s, _, ix := newSurface(t)
	epoch := time.UnixMilli(0)
	insertTask(t, ix, "TASKONE0001", epoch, epoch.Add(1*time.Second))

	summary, ok := s.TaskSummary(context.Background(), "TASKONE0001")
	require.True(t, ok)
	assert.Equal(t, xtypes.TaskID("TASKONE0001"), summary.TaskID)

	_, ok = s.TaskSummary(context.Background(), "NOSUCHTASK")
	assert.False(t, ok)
}

func toSet(ids []xtypes.TaskID) map[xtypes.TaskID]struct{} {
	out := make(map[xtypes.TaskID]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
