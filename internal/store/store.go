// Package store wires C1 through C7 into the single entry point the
// rest of the daemon drives: Submit feeds the ingest loop, Query
// exposes the read surface, and Shutdown tears everything down in the
// order spec.md §5 requires (flush/close the file store, stop the
// updater, close the index).
package store

import (
	"context"
	"sync"
	"time"

	"github.com/xtrace/reportstore/internal/config"
	"github.com/xtrace/reportstore/internal/index"
	"github.com/xtrace/reportstore/internal/metrics"
	"github.com/xtrace/reportstore/internal/pending"
	"github.com/xtrace/reportstore/internal/query"
	"github.com/xtrace/reportstore/internal/reportparser"
	"github.com/xtrace/reportstore/internal/taskstore"
	"github.com/xtrace/reportstore/internal/updater"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Store is the report store core. Exactly one ingest goroutine reads
// from the queue (spec.md §5's "ingest thread"); any number of callers
// may use Query concurrently.
type Store struct {
	cfg    *config.Config
	logger *logrus.Logger

	parser  *reportparser.Parser
	files   *taskstore.FileStore
	ix      *index.Index
	pending *pending.Map
	upd     *updater.Updater
	Query   *query.Surface
	tracer  oteltrace.Tracer

	queue chan string

	ingestDone    chan struct{}
	lastEvictions float64
	shutdownMu    sync.Mutex
	shutdown      bool
}

// New opens the file store and metadata index rooted at cfg.Store.RootDir
// and builds the pending map, updater, and query surface over them.
// Failure to open either underlying store is a startup error (spec.md
// §7) — New returns it rather than starting in a half-initialized state.
func New(cfg *config.Config, logger *logrus.Logger, tracer oteltrace.Tracer) (*Store, error) {
	if tracer == nil {
		tracer = otel.Tracer("noop")
	}

	files, err := taskstore.New(cfg.Store.RootDir, cfg.Store.HandleCacheStaleness, logger)
	if err != nil {
		return nil, err
	}
	ix, err := index.Open(cfg.Store.RootDir)
	if err != nil {
		files.Shutdown()
		return nil, err
	}

	pendingMap := pending.New(cfg.Store.PendingShardCount)
	upd := updater.New(pendingMap, ix, cfg.Store.UpdaterInterval, logger, tracer)

	return &Store{
		cfg:        cfg,
		logger:     logger,
		parser:     reportparser.New(logger),
		files:      files,
		ix:         ix,
		pending:    pendingMap,
		upd:        upd,
		Query:      query.New(files, ix, logger, tracer),
		tracer:     tracer,
		queue:      make(chan string, cfg.Store.IngestQueueSize),
		ingestDone: make(chan struct{}),
	}, nil
}

// Index exposes the underlying metadata index so the checkpoint loop
// can snapshot it without internal/checkpoint importing internal/store
// (which would create an import cycle, since store itself would want
// to depend on checkpoint's Loop).
func (s *Store) Index() *index.Index {
	return s.ix
}

// Start launches the background updater, the ingest loop, and the
// metrics sampler. It returns immediately; the ingest loop and the
// sampler run until ctx is cancelled, the updater until ctx is
// cancelled or Shutdown stops it.
func (s *Store) Start(ctx context.Context) {
	go s.upd.Run(ctx)
	go s.ingestLoop(ctx)
	go s.sampleMetrics(ctx)
}

// sampleMetrics periodically publishes gauges that reflect current
// state rather than a single event: open file handles and cumulative
// LRU evictions (C3), and the index's total task count (C5).
func (s *Store) sampleMetrics(ctx context.Context) {
	ticker := time.NewTicker(2 * s.cfg.Store.UpdaterInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			open, evictions := s.files.CacheStats()
			metrics.HandleCacheOpenHandles.Set(float64(open))
			metrics.HandleCacheEvictionsTotal.Add(float64(evictions) - s.lastEvictions)
			s.lastEvictions = float64(evictions)

			if total, err := s.ix.TotalTasks(ctx); err == nil {
				metrics.IndexSizeTasks.Set(float64(total))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Submit enqueues a single raw report message for ingestion. It blocks
// only on queue capacity, matching the "blocking queue of string
// messages" ingest interface spec.md §4's component table names; it
// never blocks on parsing or disk I/O since those happen later, on the
// ingest goroutine.
func (s *Store) Submit(ctx context.Context, raw string) error {
	select {
	case s.queue <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ingestLoop is the single-threaded consumer described in spec.md §5:
// for each message, parse, append to the file store (which itself
// takes C3's mutex briefly), then record the delta into the pending
// map. Malformed messages are dropped silently aside from the WARN the
// parser already logs (spec.md §7 "Malformed report" row).
func (s *Store) ingestLoop(ctx context.Context) {
	defer close(s.ingestDone)
	for {
		select {
		case raw := <-s.queue:
			s.ingestOne(ctx, raw)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) ingestOne(ctx context.Context, raw string) {
	_, span := s.tracer.Start(ctx, "store.ingestOne")
	defer span.End()

	result := s.parser.Parse(raw)
	if !result.OK {
		metrics.RecordDrop("malformed")
		return
	}
	report := result.Report

	if err := s.files.Append(report.TaskID, report.RawText); err != nil {
		metrics.RecordDrop("append_io_error")
		return
	}
	metrics.ReportsIngestedTotal.Inc()

	s.pending.Record(report.TaskID, report.Title, report.Tags)
	metrics.PendingMapDepth.Set(float64(s.pending.Len()))
}

// Shutdown waits for the ingest loop to exit (the caller must have
// already cancelled the context passed to Start), flushes and closes
// the file store, stops the updater (which performs one final
// drain-and-commit), and closes the index connection — idempotent,
// per spec.md §8.
func (s *Store) Shutdown() {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	if s.shutdown {
		return
	}
	s.shutdown = true

	<-s.ingestDone
	s.files.Shutdown()
	s.upd.Stop()
	if err := s.ix.Close(); err != nil && s.logger != nil {
		s.logger.WithFields(logrus.Fields{"component": "store"}).Warn("error closing index: " + err.Error())
	}
}
