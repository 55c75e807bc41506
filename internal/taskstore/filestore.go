package taskstore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/xtrace/reportstore/internal/xerrors"
	"github.com/xtrace/reportstore/internal/xtypes"

	"github.com/sirupsen/logrus"
)

// reportSeparator is written after every raw report so that a forward
// scan can split on a blank line, per spec.md §4.2 and §6.
const reportSeparator = "\n\n"

// bufferedWriteCloser adapts a buffered writer over an *os.File so the
// handle cache can flush without closing and close (which flushes
// first) on eviction/shutdown.
type bufferedWriteCloser struct {
	file *os.File
	buf  *bufio.Writer
}

func (b *bufferedWriteCloser) Write(p []byte) (int, error) { return b.buf.Write(p) }
func (b *bufferedWriteCloser) Flush() error                { return b.buf.Flush() }
func (b *bufferedWriteCloser) Close() error {
	if err := b.buf.Flush(); err != nil {
		_ = b.file.Close()
		return err
	}
	return b.file.Close()
}

// FileStore is C2: it appends raw report text to a per-task file,
// directory-sharded by the first two characters of the task-id, via
// handles managed by a HandleCache (C3).
type FileStore struct {
	root   string
	cache  *HandleCache
	logger *logrus.Logger
}

// New constructs a FileStore rooted at root. validFor is the LRU
// staleness window C3 uses (spec.md §4.3 default: 500ms).
func New(root string, validFor time.Duration, logger *logrus.Logger) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, xerrors.Fatal("New", "report store root is not writable", err)
	}
	fs := &FileStore{root: root, logger: logger}
	fs.cache = NewHandleCache(validFor, fs.open, logger)
	return fs, nil
}

// CacheStats reports the handle cache's current open-handle count and
// cumulative staleness-eviction count, for metrics sampling.
func (fs *FileStore) CacheStats() (open int, evictions int64) {
	return fs.cache.Len(), fs.cache.Evictions()
}

// Path returns the on-disk path for taskID: <root>/<prefix>/<taskId>.txt.
func (fs *FileStore) Path(taskID xtypes.TaskID) string {
	return filepath.Join(fs.root, taskID.ShardPrefix(), string(taskID)+".txt")
}

func (fs *FileStore) open(taskID xtypes.TaskID) (io.WriteCloser, error) {
	dir := filepath.Join(fs.root, taskID.ShardPrefix())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(fs.Path(taskID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &bufferedWriteCloser{file: f, buf: bufio.NewWriter(f)}, nil
}

// Append writes rawText followed by the blank-line terminator for
// taskID, via the LRU handle cache. Flush is deferred (spec.md §4.2);
// any error is logged at WARN and returned, so the caller can drop that
// one report and carry on (spec.md §7).
func (fs *FileStore) Append(taskID xtypes.TaskID, rawText string) error {
	if !taskID.Valid() {
		err := xerrors.New(xerrors.CodeReportIO, "taskstore", "Append",
			fmt.Sprintf("task id shorter than minimum length %d", xtypes.MinTaskIDLength)).WithTaskID(string(taskID))
		fs.warn(err)
		return err
	}

	writer, err := fs.cache.Access(taskID)
	if err != nil {
		fs.warn(err)
		return err
	}

	if _, werr := writer.Write([]byte(rawText + reportSeparator)); werr != nil {
		wrapped := xerrors.New(xerrors.CodeReportIO, "taskstore", "Append", "write failed").
			WithTaskID(string(taskID)).Wrap(werr)
		fs.warn(wrapped)
		return wrapped
	}
	return nil
}

// Exists reports whether a task's on-disk file exists at all (spec.md
// §3 invariant: the file exists iff at least one report has been
// written).
func (fs *FileStore) Exists(taskID xtypes.TaskID) bool {
	_, err := os.Stat(fs.Path(taskID))
	return err == nil
}

// FlushAll flushes all currently open handles without closing them.
func (fs *FileStore) FlushAll() { fs.cache.FlushAll() }

// Shutdown flushes and closes every open handle. Safe to call more
// than once (spec.md §8's idempotent-shutdown property): CloseAll
// empties its bookkeeping on first call, so a second call iterates an
// empty cache and closes nothing.
func (fs *FileStore) Shutdown() { fs.cache.CloseAll() }

func (fs *FileStore) warn(err error) {
	if fs.logger == nil {
		return
	}
	fs.logger.WithFields(logrus.Fields{"component": "taskstore"}).Warn(err.Error())
}
