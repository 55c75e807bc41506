// Package query implements C7: the read-side operations over the task
// file store (C2) and metadata index (C5) — per-task report iteration,
// tag/title/time search, and temporal-overlap graph traversal (spec.md
// §4.7).
package query

import (
	"bufio"
	"context"
	"os"
	"strings"
	"time"

	"github.com/xtrace/reportstore/internal/index"
	"github.com/xtrace/reportstore/internal/metrics"
	"github.com/xtrace/reportstore/internal/reportparser"
	"github.com/xtrace/reportstore/internal/taskstore"
	"github.com/xtrace/reportstore/internal/xtypes"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tagReadRetries = 3

// Surface is C7. It holds no state of its own beyond references to the
// file store and index it reads from — every method is safe to call
// concurrently from any number of query threads (spec.md §5).
type Surface struct {
	files  *taskstore.FileStore
	ix     *index.Index
	logger *logrus.Logger
	tracer oteltrace.Tracer
}

func New(files *taskstore.FileStore, ix *index.Index, logger *logrus.Logger, tracer oteltrace.Tracer) *Surface {
	if tracer == nil {
		tracer = otel.Tracer("noop")
	}
	return &Surface{files: files, ix: ix, logger: logger, tracer: tracer}
}

// ReportsByTask opens the task's on-disk file and returns every report
// frame found by a single forward scan. It is not restartable — a
// second call re-opens and re-scans the file from the start — and
// silently returns however much it managed to read if the file is
// missing or an I/O error interrupts the scan midway (spec.md §4.7,
// §7's "file read error" row).
func (s *Surface) ReportsByTask(taskID xtypes.TaskID) []xtypes.Report {
	start := time.Now()
	reports := s.scanReports(taskID)
	metrics.ObserveQuery("reports_by_task", time.Since(start).Seconds(), nil)
	return reports
}

func (s *Surface) scanReports(taskID xtypes.TaskID) []xtypes.Report {
	f, err := os.Open(s.files.Path(taskID))
	if err != nil {
		s.warn("ReportsByTask", taskID, err)
		return nil
	}
	defer f.Close()

	var (
		reports []xtypes.Report
		lines   []string
		collect bool
	)
	flush := func() {
		if len(lines) == 0 {
			return
		}
		raw := strings.Join(lines, "\n")
		parser := reportparser.New(s.logger)
		if res := parser.Parse(raw); res.OK {
			reports = append(reports, *res.Report)
		}
		lines = nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			collect = false
			continue
		}
		if strings.HasPrefix(line, "X-Trace Report ver") {
			flush()
			collect = true
		}
		if collect {
			lines = append(lines, line)
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		s.warn("ReportsByTask", taskID, err)
	}
	return reports
}

// TagsForTask looks up a task's current tag set, tolerating up to
// tagReadRetries transient failures from a concurrent updater commit
// (spec.md §4.7).
func (s *Surface) TagsForTask(ctx context.Context, taskID xtypes.TaskID) []string {
	start := time.Now()
	tags, err := s.ix.TagsOf(ctx, taskID, tagReadRetries)
	metrics.ObserveQuery("tags_for_task", time.Since(start).Seconds(), err)
	if err != nil {
		s.warn("TagsForTask", taskID, err)
		return nil
	}
	return tags
}

// OverlappingTasks returns every task (including taskID itself, since
// a task's own interval always intersects itself) whose
// [firstSeen, lastUpdated] interval intersects taskID's — a single hop
// of the overlap relation (spec.md §4.7).
func (s *Surface) OverlappingTasks(ctx context.Context, taskID xtypes.TaskID) []xtypes.TaskID {
	start := time.Now()
	first, last, err := s.ix.TimesOf(ctx, taskID)
	if err != nil {
		metrics.ObserveQuery("overlapping_tasks", time.Since(start).Seconds(), err)
		s.warn("OverlappingTasks", taskID, err)
		return nil
	}
	if first.IsZero() && last.IsZero() {
		metrics.ObserveQuery("overlapping_tasks", time.Since(start).Seconds(), nil)
		return nil
	}
	ids, err := s.ix.TasksBetween(ctx, last, first)
	metrics.ObserveQuery("overlapping_tasks", time.Since(start).Seconds(), err)
	if err != nil {
		s.warn("OverlappingTasks", taskID, err)
		return nil
	}
	return ids
}

// AllOverlappingTasks computes the transitive closure of the overlap
// relation starting from taskID: a BFS that maintains an expanding
// [lower, upper] bound over every interval seen so far, re-querying
// tasksBetween(upper, lower) from each newly discovered frontier and
// enqueuing ids it hasn't seen yet. Every task is enqueued at most
// once, so the walk always terminates (spec.md §4.7, invariant I-5).
// The result is best-effort: membership reflects the expanding
// bounding window at the moment each id was discovered, not a single
// fixed-point recomputation.
func (s *Surface) AllOverlappingTasks(ctx context.Context, taskID xtypes.TaskID) []xtypes.TaskID {
	ctx, span := s.tracer.Start(ctx, "query.AllOverlappingTasks")
	defer span.End()

	start := time.Now()

	seen := map[xtypes.TaskID]struct{}{taskID: {}}
	queue := []xtypes.TaskID{taskID}

	var lower, upper time.Time // lower = min firstSeen, upper = max lastUpdated, widened as we go

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		first, last, err := s.ix.TimesOf(ctx, id)
		if err != nil {
			s.warn("AllOverlappingTasks", id, err)
			continue
		}
		if first.IsZero() && last.IsZero() {
			continue
		}
		if lower.IsZero() || first.Before(lower) {
			lower = first
		}
		if last.After(upper) {
			upper = last
		}

		ids, err := s.ix.TasksBetween(ctx, upper, lower)
		if err != nil {
			s.warn("AllOverlappingTasks", id, err)
			continue
		}
		for _, candidate := range ids {
			if _, ok := seen[candidate]; ok {
				continue
			}
			seen[candidate] = struct{}{}
			queue = append(queue, candidate)
		}
	}

	out := make([]xtypes.TaskID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	metrics.ObserveQuery("all_overlapping_tasks", time.Since(start).Seconds(), nil)
	return out
}

// ListFilter narrows ListTasks to one of the §4.5 search paths: an
// exact tag, an exact or substring title, or a first-seen lower bound.
// When none are set, ListTasks falls back to the latest tasks by
// last-updated time. Only one of Tag/TitleExact/TitleContains/Since is
// consulted, checked in that order.
type ListFilter struct {
	Tag           string
	TitleExact    string
	TitleContains string
	Since         time.Time
	Offset        int
	Limit         int
}

const defaultListLimit = 50

// ListTasks is C7's list/filter operation: it dispatches filter to
// whichever prepared-query path it names, giving every one of the
// index's search methods (ByTagExact, ByTitle, ByTitleApprox,
// TasksSince, LatestTasks) a real caller.
func (s *Surface) ListTasks(ctx context.Context, filter ListFilter) []xtypes.TaskRecord {
	start := time.Now()

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var (
		tasks []xtypes.TaskRecord
		err   error
	)
	switch {
	case filter.Tag != "":
		tasks, err = s.ix.ByTagExact(ctx, filter.Tag, filter.Offset, limit)
	case filter.TitleExact != "":
		tasks, err = s.ix.ByTitle(ctx, filter.TitleExact)
	case filter.TitleContains != "":
		tasks, err = s.ix.ByTitleApprox(ctx, filter.TitleContains, filter.Offset, limit)
	case !filter.Since.IsZero():
		tasks, err = s.ix.TasksSince(ctx, filter.Since, filter.Offset, limit)
	default:
		tasks, err = s.ix.LatestTasks(ctx, filter.Offset, limit)
	}

	metrics.ObserveQuery("list_tasks", time.Since(start).Seconds(), err)
	if err != nil {
		s.warn("ListTasks", "", err)
		return nil
	}
	return tasks
}

// TaskSummary assembles a single-task snapshot independent of
// ListTasks's row-scan path, giving LastUpdatedOf a real caller
// distinct from the (first, last) pair TimesOf returns for overlap
// queries. ok is false if the task has no index row.
func (s *Surface) TaskSummary(ctx context.Context, taskID xtypes.TaskID) (summary xtypes.TaskRecord, ok bool) {
	start := time.Now()

	exists, err := s.ix.Exists(ctx, taskID)
	if err != nil {
		metrics.ObserveQuery("task_summary", time.Since(start).Seconds(), err)
		s.warn("TaskSummary", taskID, err)
		return xtypes.TaskRecord{}, false
	}
	if !exists {
		metrics.ObserveQuery("task_summary", time.Since(start).Seconds(), nil)
		return xtypes.TaskRecord{}, false
	}

	lastUpdated, err := s.ix.LastUpdatedOf(ctx, taskID)
	if err != nil {
		s.warn("TaskSummary", taskID, err)
	}
	numReports, err := s.ix.NumReportsOf(ctx, taskID)
	if err != nil {
		s.warn("TaskSummary", taskID, err)
	}
	tags, err := s.ix.TagsOf(ctx, taskID, tagReadRetries)
	if err != nil {
		s.warn("TaskSummary", taskID, err)
	}

	metrics.ObserveQuery("task_summary", time.Since(start).Seconds(), nil)
	return xtypes.TaskRecord{
		TaskID:      taskID,
		LastUpdated: lastUpdated,
		NumReports:  numReports,
		Tags:        tags,
	}, true
}

// Totals reports index-wide task and report counts, for the admin
// server's health endpoint — the one caller of the index's
// TotalReports aggregate.
type Totals struct {
	TotalTasks   int64 `json:"total_tasks"`
	TotalReports int64 `json:"total_reports"`
}

func (s *Surface) Totals(ctx context.Context) Totals {
	totalTasks, err := s.ix.TotalTasks(ctx)
	if err != nil {
		s.warn("Totals", "", err)
	}
	totalReports, err := s.ix.TotalReports(ctx)
	if err != nil {
		s.warn("Totals", "", err)
	}
	return Totals{TotalTasks: totalTasks, TotalReports: totalReports}
}

func (s *Surface) warn(operation string, taskID xtypes.TaskID, err error) {
	if s.logger == nil {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"component": "query",
		"operation": operation,
		"task_id":   taskID,
	}).Warn(err.Error())
}
