// Package xtypes defines the core data structures shared across the
// report store: task identifiers, parsed reports, the committed task
// record, and the in-memory pending delta that bridges ingest and the
// index updater.
package xtypes

import (
	"strings"
	"time"
)

// TaskID is the opaque byte-string identifier threaded through every
// X-Trace report. Its string form is uppercase hexadecimal, length >= 6;
// the first two characters are the directory-shard prefix (see
// TaskID.ShardPrefix). Comparison is by value (string equality).
type TaskID string

// MinTaskIDLength is the shortest task-id the file store will accept.
const MinTaskIDLength = 6

// NormalizeTaskID applies the single case convention the store uses for
// both filenames and index keys (uppercase), per spec.md §9's open
// question on fast-path/slow-path case inconsistency.
func NormalizeTaskID(raw string) TaskID {
	return TaskID(strings.ToUpper(raw))
}

// Valid reports whether the id meets the minimum length the file store
// requires.
func (t TaskID) Valid() bool {
	return len(t) >= MinTaskIDLength
}

// ShardPrefix returns the two-character directory shard prefix used to
// lay out the on-disk store: <root>/<prefix>/<taskId>.txt.
func (t TaskID) ShardPrefix() string {
	if len(t) < 2 {
		return string(t)
	}
	return string(t[:2])
}

func (t TaskID) String() string { return string(t) }

// Report is a single parsed X-Trace report: the task-id extracted from
// its metadata line, optional title/tags, and the raw text exactly as
// it arrived (what actually gets persisted).
type Report struct {
	TaskID  TaskID
	Title   string
	Tags    map[string]struct{}
	RawText string
}

// TaskRecord is the committed, one-row-per-task view held in the
// metadata index (C5). FirstSeen/LastUpdated/NumReports/Title/Tags
// mirror spec.md §3 exactly.
type TaskRecord struct {
	TaskID      TaskID
	FirstSeen   time.Time
	LastUpdated time.Time
	NumReports  int64
	Title       string
	Tags        []string
}

// PendingUpdate accumulates the not-yet-committed delta for one task
// between successive updater drains. NewReportCount and Title/Tags are
// the only fields needing merge rules (count adds, title overwrites on
// any non-null arrival, tags union) — see spec.md §4.4.
type PendingUpdate struct {
	TaskID         TaskID
	Title          string
	TitleSet       bool
	Tags           map[string]struct{}
	NewReportCount int64
}

// Merge folds another observation into this pending delta in place,
// following the rules in spec.md §4.4: count adds; any non-empty title
// overwrites the one already recorded in this delta (an empty title
// leaves it unchanged); tags union. The updater then writes the title
// over the committed row only when TitleSet is true.
func (p *PendingUpdate) Merge(title string, tags map[string]struct{}, reportDelta int64) {
	p.NewReportCount += reportDelta
	if title != "" {
		p.Title = title
		p.TitleSet = true
	}
	if len(tags) > 0 {
		if p.Tags == nil {
			p.Tags = make(map[string]struct{}, len(tags))
		}
		for tag := range tags {
			p.Tags[tag] = struct{}{}
		}
	}
}

// TagsCSV renders the tag set as the comma-delimited form the index
// row stores it in.
func TagsCSV(tags map[string]struct{}) string {
	if len(tags) == 0 {
		return ""
	}
	out := make([]string, 0, len(tags))
	for tag := range tags {
		out = append(out, tag)
	}
	return strings.Join(out, ",")
}

// ParseTagsCSV is the inverse of TagsCSV.
func ParseTagsCSV(csv string) map[string]struct{} {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		if p != "" {
			out[p] = struct{}{}
		}
	}
	return out
}

// UnionTagsCSV unions a new tag set into an existing CSV and re-renders it.
func UnionTagsCSV(existingCSV string, newTags map[string]struct{}) string {
	existing := ParseTagsCSV(existingCSV)
	if existing == nil {
		existing = make(map[string]struct{}, len(newTags))
	}
	for tag := range newTags {
		existing[tag] = struct{}{}
	}
	return TagsCSV(existing)
}
