// Package updater implements C6: the single background worker that
// drains the pending-update map into the metadata index in
// transactional batches (spec.md §4.6).
package updater

import (
	"context"
	"database/sql"
	"time"

	"github.com/xtrace/reportstore/internal/index"
	"github.com/xtrace/reportstore/internal/metrics"
	"github.com/xtrace/reportstore/internal/pending"
	"github.com/xtrace/reportstore/internal/xerrors"
	"github.com/xtrace/reportstore/internal/xtypes"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Updater is C6. It owns no synchronization itself beyond its own
// lifecycle: the pending map and the index already serialize the
// access patterns it needs (spec.md §5).
type Updater struct {
	pending *pending.Map
	ix      *index.Index
	logger  *logrus.Logger
	sleep   time.Duration
	tracer  oteltrace.Tracer

	done chan struct{}
	stop chan struct{}
}

func New(pendingMap *pending.Map, ix *index.Index, sleepInterval time.Duration, logger *logrus.Logger, tracer oteltrace.Tracer) *Updater {
	if tracer == nil {
		tracer = otel.Tracer("noop")
	}
	return &Updater{
		pending: pendingMap,
		ix:      ix,
		logger:  logger,
		sleep:   sleepInterval,
		tracer:  tracer,
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

// Run is the updater loop described in spec.md §4.6: swap, and if
// nonempty, apply and commit; otherwise sleep. It exits once Stop has
// been requested or ctx is cancelled, AND it has drained and committed
// one final time, so in-flight work at the moment of shutdown is not
// silently lost (only a hard process kill loses pending deltas, per
// spec.md §5's cancellation rules). The final drain runs on a context
// detached from ctx's cancellation so its transaction can still begin.
func (u *Updater) Run(ctx context.Context) {
	defer close(u.done)
	final := context.WithoutCancel(ctx)

	for {
		select {
		case <-u.stop:
			u.drainOnce(final)
			return
		case <-ctx.Done():
			u.drainOnce(final)
			return
		default:
		}

		drained := u.pending.Swap()
		if len(drained) == 0 {
			select {
			case <-time.After(u.sleep):
			case <-u.stop:
				u.drainOnce(final)
				return
			case <-ctx.Done():
				u.drainOnce(final)
				return
			}
			continue
		}

		u.applyBatch(ctx, drained)
	}
}

// drainOnce performs exactly one swap+apply with no further sleeping,
// used on shutdown to flush any final pending deltas before exiting.
func (u *Updater) drainOnce(ctx context.Context) {
	drained := u.pending.Swap()
	if len(drained) > 0 {
		u.applyBatch(ctx, drained)
	}
}

// Stop requests shutdown and blocks until the updater has drained and
// exited. Idempotent: a second call finds the done channel already
// closed and returns immediately (spec.md §8).
func (u *Updater) Stop() {
	select {
	case <-u.stop:
		// already requested
	default:
		close(u.stop)
	}
	<-u.done
}

// applyBatch commits one batch transactionally, following the
// per-task ordering spec.md §4.6 requires: existence-check, then
// optional title, then optional tags, then the report-count bump.
// Each task's writes run inside their own SAVEPOINT so a per-task SQL
// failure is rolled back to that boundary, logged, and the task
// skipped without losing the rest of the batch; a commit failure is
// logged and the loop continues (disk is the source of truth, per
// spec.md §7).
func (u *Updater) applyBatch(ctx context.Context, drained map[xtypes.TaskID]*xtypes.PendingUpdate) {
	ctx, span := u.tracer.Start(ctx, "updater.applyBatch")
	defer span.End()

	start := time.Now()
	now := time.Now()
	applied := 0

	err := u.ix.Tx(ctx, func(tx *sql.Tx) error {
		for taskID, delta := range drained {
			if terr := u.applyOneWithSavepoint(ctx, tx, taskID, delta, now); terr != nil {
				metrics.UpdaterPerTaskErrorsTotal.Inc()
				u.logger.WithFields(logrus.Fields{
					"component": "updater",
					"task_id":   taskID,
				}).Warn(xerrors.New(xerrors.CodeIndexPerTask, "updater", "applyOne", "per-task update failed").
					WithTaskID(string(taskID)).Wrap(terr).Error())
				continue
			}
			applied++
		}
		return nil
	})

	if err != nil {
		u.logger.WithFields(logrus.Fields{"component": "updater"}).
			Warn(xerrors.New(xerrors.CodeIndexCommit, "updater", "applyBatch", "commit failed").Wrap(err).Error())
		return
	}

	metrics.UpdaterBatchSize.Observe(float64(len(drained)))
	metrics.UpdaterCommitDuration.Observe(time.Since(start).Seconds())
	u.logger.WithFields(logrus.Fields{
		"component":   "updater",
		"batch_size":  len(drained),
		"applied":     applied,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("applied pending batch")
}

// applyOneWithSavepoint wraps applyOne in a SAVEPOINT so that a
// mid-task failure (e.g. SetTitle succeeds but BumpReports fails)
// rolls back only that task's writes — the rest of the outer batch
// transaction, already written under their own released savepoints,
// is unaffected and still commits (spec.md §4.6).
func (u *Updater) applyOneWithSavepoint(ctx context.Context, tx *sql.Tx, taskID xtypes.TaskID, delta *xtypes.PendingUpdate, now time.Time) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT task_update"); err != nil {
		return err
	}

	if err := u.applyOne(ctx, tx, taskID, delta, now); err != nil {
		if _, rerr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT task_update"); rerr != nil {
			return rerr
		}
		if _, rerr := tx.ExecContext(ctx, "RELEASE SAVEPOINT task_update"); rerr != nil {
			return rerr
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT task_update"); err != nil {
		return err
	}
	return nil
}

func (u *Updater) applyOne(ctx context.Context, tx *sql.Tx, taskID xtypes.TaskID, delta *xtypes.PendingUpdate, now time.Time) error {
	exists, err := index.Exists(ctx, tx, taskID)
	if err != nil {
		return err
	}

	if !exists {
		title := delta.Title
		if title == "" {
			title = string(taskID)
		}
		return index.Insert(ctx, tx, taskID, xtypes.TagsCSV(delta.Tags), title, delta.NewReportCount, now)
	}

	if delta.TitleSet {
		if err := index.SetTitle(ctx, tx, taskID, delta.Title); err != nil {
			return err
		}
	}

	if len(delta.Tags) > 0 {
		existingCSV, err := index.ReadTags(ctx, tx, taskID)
		if err != nil {
			return err
		}
		merged := xtypes.UnionTagsCSV(existingCSV, delta.Tags)
		if err := index.SetTags(ctx, tx, taskID, merged); err != nil {
			return err
		}
	}

	return index.BumpReports(ctx, tx, taskID, delta.NewReportCount, now)
}
