// Package index implements C5: the embedded metadata index over task
// records, with one row per task-id and a prepared-query surface
// covering every search path in spec.md §4.5.
//
// The engine is modernc.org/sqlite, a CGO-free SQLite driver — chosen
// so the store has no C toolchain dependency, consistent with how the
// rest of the example corpus's embedded-database users (erigon,
// codefang) reach for it over the CGO mattn driver. The schema and
// prepared-query set are the contract; the engine is not.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/xtrace/reportstore/internal/xerrors"
	"github.com/xtrace/reportstore/internal/xtypes"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id      TEXT PRIMARY KEY,
	first_seen   INTEGER NOT NULL,
	last_updated INTEGER NOT NULL,
	num_reports  INTEGER NOT NULL DEFAULT 0,
	tags         TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_first_seen   ON tasks(first_seen);
CREATE INDEX IF NOT EXISTS idx_tasks_last_updated ON tasks(last_updated);
CREATE INDEX IF NOT EXISTS idx_tasks_tags         ON tasks(tags);
CREATE INDEX IF NOT EXISTS idx_tasks_title        ON tasks(title);
`

// Index wraps the single *sql.DB connection the updater and all query
// threads share. database/sql already serializes access for a
// single-writer engine like SQLite via its internal connection pool;
// this type additionally caps the pool to one connection so the
// "index connection is not thread-safe for concurrent write" guarantee
// in spec.md §5 is enforced at the driver boundary, not just assumed.
type Index struct {
	db *sql.DB
}

// Open creates or opens the embedded database at <root>/index.db and
// ensures the schema exists. Failure here is a startup error per
// spec.md §7 — the caller should fail fast, not retry.
func Open(root string) (*Index, error) {
	path := filepath.Join(root, "index.db")
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)")
	if err != nil {
		return nil, xerrors.Fatal("Open", "failed to open metadata index", err)
	}
	db.SetMaxOpenConns(1) // single-writer engine; see type doc.

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, xerrors.Fatal("Open", "failed to apply metadata index schema", err)
	}
	return &Index{db: db}, nil
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

// Tx runs fn inside a transaction, committing on success and rolling
// back on any error fn returns. Used by the updater for its
// per-batch commit (spec.md §4.6).
func (ix *Index) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.New(xerrors.CodeIndexCommit, "index", "Tx", "failed to begin transaction").Wrap(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerrors.New(xerrors.CodeIndexCommit, "index", "Tx", "commit failed").Wrap(err)
	}
	return nil
}

// --- Prepared query surface (spec.md §4.5) ---
// Every query method here returns a well-typed empty/default result on
// failure rather than raising, per spec.md §7's query-error policy.
// Mutating helpers (Insert/BumpReports/SetTitle/SetTags) are meant to
// be called inside a Tx by the updater; they take a *sql.Tx rather
// than *sql.DB so the updater can bracket each task's calls in its own
// SAVEPOINT and roll back just that task on failure without losing the
// rest of the batch (spec.md §4.6 ordering/error rules).

func Exists(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, taskID xtypes.TaskID) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE task_id = ?`, string(taskID)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func Insert(ctx context.Context, tx *sql.Tx, taskID xtypes.TaskID, tagsCSV, title string, numReports int64, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (task_id, first_seen, last_updated, num_reports, tags, title) VALUES (?, ?, ?, ?, ?, ?)`,
		string(taskID), now.UnixMilli(), now.UnixMilli(), numReports, tagsCSV, title)
	return err
}

func BumpReports(ctx context.Context, tx *sql.Tx, taskID xtypes.TaskID, delta int64, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE tasks SET num_reports = num_reports + ?, last_updated = ? WHERE task_id = ?`,
		delta, now.UnixMilli(), string(taskID))
	return err
}

func SetTitle(ctx context.Context, tx *sql.Tx, taskID xtypes.TaskID, title string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET title = ? WHERE task_id = ?`, title, string(taskID))
	return err
}

func ReadTags(ctx context.Context, tx *sql.Tx, taskID xtypes.TaskID) (string, error) {
	var csv string
	err := tx.QueryRowContext(ctx, `SELECT tags FROM tasks WHERE task_id = ?`, string(taskID)).Scan(&csv)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return csv, err
}

func SetTags(ctx context.Context, tx *sql.Tx, taskID xtypes.TaskID, csv string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET tags = ? WHERE task_id = ?`, csv, string(taskID))
	return err
}

// (Ix *Index) read-side methods below operate directly on the shared
// connection; each is independently safe to call from any query
// thread (spec.md §5).

func (ix *Index) Exists(ctx context.Context, taskID xtypes.TaskID) (bool, error) {
	return Exists(ctx, ix.db, taskID)
}

func (ix *Index) TasksSince(ctx context.Context, firstSeenAtLeast time.Time, offset, limit int) ([]xtypes.TaskRecord, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT task_id, first_seen, last_updated, num_reports, tags, title FROM tasks
		 WHERE first_seen >= ? ORDER BY last_updated DESC LIMIT ? OFFSET ?`,
		firstSeenAtLeast.UnixMilli(), limit+1, offset)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows, limit)
}

func (ix *Index) TasksBetween(ctx context.Context, firstSeenAtMost, lastUpdatedAtLeast time.Time) ([]xtypes.TaskID, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT task_id FROM tasks WHERE first_seen <= ? AND last_updated >= ?`,
		firstSeenAtMost.UnixMilli(), lastUpdatedAtLeast.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []xtypes.TaskID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, xtypes.TaskID(id))
	}
	return ids, rows.Err()
}

func (ix *Index) LatestTasks(ctx context.Context, offset, limit int) ([]xtypes.TaskRecord, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT task_id, first_seen, last_updated, num_reports, tags, title FROM tasks
		 ORDER BY last_updated DESC LIMIT ? OFFSET ?`, limit+1, offset)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows, limit)
}

// ByTag performs the LIKE-based substring search spec.md §4.5 names;
// callers must re-filter for exact tag equality — ByTagExact does that.
func (ix *Index) ByTag(ctx context.Context, substring string, offset, limit int) ([]xtypes.TaskRecord, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT task_id, first_seen, last_updated, num_reports, tags, title FROM tasks
		 WHERE tags LIKE ? ORDER BY last_updated DESC LIMIT ? OFFSET ?`,
		"%"+substring+"%", limit+1, offset)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows, limit)
}

// ByTagExact re-filters ByTag's substring matches down to records
// whose tag set actually contains tag, per spec.md §4.5/§9: exact-tag
// semantics only are returned to callers.
func (ix *Index) ByTagExact(ctx context.Context, tag string, offset, limit int) ([]xtypes.TaskRecord, error) {
	candidates, err := ix.ByTag(ctx, tag, offset, limit)
	if err != nil {
		return nil, err
	}
	out := make([]xtypes.TaskRecord, 0, len(candidates))
	for _, rec := range candidates {
		for _, t := range rec.Tags {
			if t == tag {
				out = append(out, rec)
				break
			}
		}
	}
	return out, nil
}

func (ix *Index) ByTitle(ctx context.Context, exact string) ([]xtypes.TaskRecord, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT task_id, first_seen, last_updated, num_reports, tags, title FROM tasks WHERE title = ?`, exact)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows, -1)
}

func (ix *Index) ByTitleApprox(ctx context.Context, substring string, offset, limit int) ([]xtypes.TaskRecord, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT task_id, first_seen, last_updated, num_reports, tags, title FROM tasks
		 WHERE title LIKE ? ORDER BY last_updated DESC LIMIT ? OFFSET ?`,
		"%"+substring+"%", limit+1, offset)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows, limit)
}

func (ix *Index) NumReportsOf(ctx context.Context, taskID xtypes.TaskID) (int64, error) {
	var n int64
	err := ix.db.QueryRowContext(ctx, `SELECT num_reports FROM tasks WHERE task_id = ?`, string(taskID)).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

func (ix *Index) LastUpdatedOf(ctx context.Context, taskID xtypes.TaskID) (time.Time, error) {
	var millis int64
	err := ix.db.QueryRowContext(ctx, `SELECT last_updated FROM tasks WHERE task_id = ?`, string(taskID)).Scan(&millis)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis), nil
}

// TimesOf returns (firstSeen, lastUpdated) for taskID.
func (ix *Index) TimesOf(ctx context.Context, taskID xtypes.TaskID) (first, last time.Time, err error) {
	var firstMillis, lastMillis int64
	row := ix.db.QueryRowContext(ctx, `SELECT first_seen, last_updated FROM tasks WHERE task_id = ?`, string(taskID))
	if scanErr := row.Scan(&firstMillis, &lastMillis); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return time.Time{}, time.Time{}, nil
		}
		return time.Time{}, time.Time{}, scanErr
	}
	return time.UnixMilli(firstMillis), time.UnixMilli(lastMillis), nil
}

// TagsOf retries up to maxRetries times, per spec.md §4.7's tolerance
// for a concurrent writer commit.
func (ix *Index) TagsOf(ctx context.Context, taskID xtypes.TaskID, maxRetries int) ([]string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		var csv string
		err := ix.db.QueryRowContext(ctx, `SELECT tags FROM tasks WHERE task_id = ?`, string(taskID)).Scan(&csv)
		if err == nil {
			return csvToSlice(csv), nil
		}
		if err == sql.ErrNoRows {
			return nil, nil
		}
		lastErr = err
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return nil, lastErr
}

func (ix *Index) TotalReports(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	err := ix.db.QueryRowContext(ctx, `SELECT SUM(num_reports) FROM tasks`).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n.Int64, nil
}

func (ix *Index) TotalTasks(ctx context.Context) (int64, error) {
	var n int64
	err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n)
	return n, err
}

// VacuumInto snapshots the database file to destPath for backup
// (internal/checkpoint), without disrupting concurrent readers/writers.
func (ix *Index) VacuumInto(ctx context.Context, destPath string) error {
	_, err := ix.db.ExecContext(ctx, fmt.Sprintf(`VACUUM INTO '%s'`, destPath))
	return err
}

func scanTasks(rows *sql.Rows, limit int) ([]xtypes.TaskRecord, error) {
	defer rows.Close()
	var out []xtypes.TaskRecord
	for rows.Next() {
		var (
			taskID               string
			firstSeen, lastUpdt  int64
			numReports           int64
			tagsCSV, title       string
		)
		if err := rows.Scan(&taskID, &firstSeen, &lastUpdt, &numReports, &tagsCSV, &title); err != nil {
			return nil, err
		}
		out = append(out, xtypes.TaskRecord{
			TaskID:      xtypes.TaskID(taskID),
			FirstSeen:   time.UnixMilli(firstSeen),
			LastUpdated: time.UnixMilli(lastUpdt),
			NumReports:  numReports,
			Title:       title,
			Tags:        csvToSlice(tagsCSV),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Pagination contract (spec.md §4.5): the caller set the row cap to
	// limit+1; trim back down to limit here.
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func csvToSlice(csv string) []string {
	set := xtypes.ParseTagsCSV(csv)
	if set == nil {
		return nil
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	return out
}
