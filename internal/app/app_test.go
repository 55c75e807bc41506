package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeTestConfig writes a minimal YAML config rooted at a temp
// directory with every optional component disabled, so New can be
// exercised without a Kafka broker, a file-tail source, or a listening
// admin port.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "store:\n" +
		"  root_dir: " + dir + "\n" +
		"  updater_interval: 20ms\n" +
		"  handle_cache_staleness: 50ms\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestApp_StartStopLifecycle(t *testing.T) {
	a, err := New(writeTestConfig(t))
	require.NoError(t, err)

	require.NoError(t, a.Start())
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, a.Stop())
}

func TestApp_New_FailsOnUnwritableRootDir(t *testing.T) {
	dir := t.TempDir()
	// A regular file where a directory is needed: the root dir below
	// cannot be created, whatever the process's permissions.
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	path := filepath.Join(dir, "config.yaml")
	contents := "store:\n  root_dir: " + filepath.Join(blocker, "reports") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	_, err := New(path)
	require.Error(t, err)
}
