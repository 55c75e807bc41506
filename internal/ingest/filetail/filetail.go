// Package filetail adapts a set of local report-drop files into the
// store's ingest queue, grounded on the teacher's file_monitor tailer:
// nxadm/tail follows each path (with fsnotify-backed rotation
// detection), and fsnotify additionally watches the containing
// directories so newly created files are picked up without a restart.
// Created files are not filtered by name: every file created in a
// watched directory is tailed.
package filetail

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xtrace/reportstore/internal/config"

	"github.com/fsnotify/fsnotify"
	"github.com/nxadm/tail"
	"github.com/sirupsen/logrus"
)

// Submitter is the subset of *store.Store this adapter depends on.
type Submitter interface {
	Submit(ctx context.Context, raw string) error
}

// reportHeaderPrefix matches reportparser's; frames are reassembled
// here from lines the same way the on-disk task files are read back by
// the query surface: a header line starts a frame, a blank line ends it.
const reportHeaderPrefix = "X-Trace Report ver"

type Watcher struct {
	cfg    config.FileTailIngestConfig
	store  Submitter
	logger *logrus.Logger

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

func New(cfg config.FileTailIngestConfig, store Submitter, logger *logrus.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{cfg: cfg, store: store, logger: logger, watcher: fw}, nil
}

// Run tails every configured path until ctx is cancelled, and watches
// each path's directory, tailing every file created there later; no
// name or pattern check is applied to those files.
func (w *Watcher) Run(ctx context.Context) error {
	for _, path := range w.cfg.Paths {
		w.wg.Add(1)
		go w.tailOne(ctx, path)

		dir := filepath.Dir(path)
		if err := w.watcher.Add(dir); err != nil && w.logger != nil {
			w.logger.WithFields(logrus.Fields{"component": "filetail", "dir": dir}).Warn("watch failed: " + err.Error())
		}
	}

	w.wg.Add(1)
	go w.watchCreates(ctx)

	<-ctx.Done()
	w.wg.Wait()
	return w.watcher.Close()
}

func (w *Watcher) watchCreates(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create == fsnotify.Create {
				w.wg.Add(1)
				go w.tailOne(ctx, ev.Name)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) tailOne(ctx context.Context, path string) {
	defer w.wg.Done()

	t, err := tail.TailFile(path, tail.Config{
		Follow: true,
		ReOpen: true,
		Poll:   w.cfg.Poll,
	})
	if err != nil {
		if w.logger != nil {
			w.logger.WithFields(logrus.Fields{"component": "filetail", "path": path}).Warn("tail failed: " + err.Error())
		}
		return
	}
	defer t.Cleanup()

	var frame []string
	flush := func() {
		if len(frame) == 0 {
			return
		}
		raw := strings.Join(frame, "\n")
		if err := w.store.Submit(ctx, raw); err != nil && w.logger != nil {
			w.logger.WithFields(logrus.Fields{"component": "filetail", "path": path}).Warn("submit failed: " + err.Error())
		}
		frame = nil
	}

	for {
		select {
		case line, ok := <-t.Lines:
			if !ok {
				flush()
				return
			}
			if strings.TrimSpace(line.Text) == "" {
				flush()
				continue
			}
			if strings.HasPrefix(line.Text, reportHeaderPrefix) {
				flush()
			}
			frame = append(frame, line.Text)
		case <-ctx.Done():
			_ = t.Stop()
			return
		}
	}
}
