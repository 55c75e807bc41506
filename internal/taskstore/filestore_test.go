package taskstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

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

func TestFileStore_AppendCreatesShardedFile(t *testing.T) {
	root := t.TempDir()
	fs, err := New(root, 500*time.Millisecond, testLogger())
	require.NoError(t, err)

	taskID := xtypes.TaskID("ABCDEF0123")
	require.NoError(t, fs.Append(taskID, "report one"))
	fs.FlushAll()

	assert.True(t, fs.Exists(taskID))
	path := filepath.Join(root, "AB", "ABCDEF0123.txt")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "report one\n\n", string(data))
}

func TestFileStore_MultipleAppendsAreOrdered(t *testing.T) {
	root := t.TempDir()
	fs, err := New(root, 500*time.Millisecond, testLogger())
	require.NoError(t, err)

	taskID := xtypes.TaskID("ABCDEF0123")
	for i := 0; i < 5; i++ {
		require.NoError(t, fs.Append(taskID, "report"))
	}
	fs.Shutdown()

	data, err := os.ReadFile(fs.Path(taskID))
	require.NoError(t, err)
	assert.Equal(t, "report\n\nreport\n\nreport\n\nreport\n\nreport\n\n", string(data))
}

func TestFileStore_RejectsShortTaskID(t *testing.T) {
	root := t.TempDir()
	fs, err := New(root, 500*time.Millisecond, testLogger())
	require.NoError(t, err)

	err = fs.Append(xtypes.TaskID("AB"), "x")
	assert.Error(t, err)
	assert.False(t, fs.Exists(xtypes.TaskID("AB")))
}

func TestFileStore_ShutdownIsIdempotent(t *testing.T) {
	root := t.TempDir()
	fs, err := New(root, 500*time.Millisecond, testLogger())
	require.NoError(t, err)

	require.NoError(t, fs.Append(xtypes.TaskID("ABCDEF0123"), "x"))
	fs.Shutdown()
	assert.NotPanics(t, func() { fs.Shutdown() })
}
