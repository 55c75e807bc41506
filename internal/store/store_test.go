package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtrace/reportstore/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestMain asserts that no goroutine started by any test in this
// package (the ingest loop, the updater loop) survives Shutdown.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.Store.RootDir = t.TempDir()
	cfg.Store.UpdaterInterval = 20 * time.Millisecond
	cfg.Store.HandleCacheStaleness = 50 * time.Millisecond
	return cfg
}

func TestStore_SubmitThenQueryEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg, testLogger(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer func() {
		cancel()
		s.Shutdown()
	}()

	raw := "X-Trace Report ver 1\nX-Trace: ABCDEF0123\nTitle: hello\nTag: x\nTag: y\n"
	require.NoError(t, s.Submit(ctx, raw))

	require.Eventually(t, func() bool {
		n, err := s.ix.NumReportsOf(ctx, "ABCDEF0123")
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	data, err := os.ReadFile(filepath.Join(cfg.Store.RootDir, "AB", "ABCDEF0123.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Title: hello")

	reports := s.Query.ReportsByTask("ABCDEF0123")
	require.Len(t, reports, 1)
	assert.Equal(t, "hello", reports[0].Title)
}

func TestStore_MalformedReportIsDropped(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg, testLogger(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer func() {
		cancel()
		s.Shutdown()
	}()

	require.NoError(t, s.Submit(ctx, "not a report"))
	time.Sleep(50 * time.Millisecond)

	n, err := s.ix.TotalTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestStore_ShutdownIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg, testLogger(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
	s.Shutdown()
	s.Shutdown()
}
