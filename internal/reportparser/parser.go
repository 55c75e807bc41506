// Package reportparser implements C1 of the report store: extraction of
// X-Trace metadata, optional title/tags, and raw body from a framed
// text report (spec.md §4.1).
//
// Two parse paths coexist for backward compatibility with older
// instrumented clients, exactly as spec.md §9 documents and resolves:
// a fast path that assumes the X-Trace line sits at a fixed header
// offset and falls through to the slow path the moment it sees a
// Title:/Tag: line immediately after it, and a slow, line-by-line scan
// that is always correct but costs a full pass over the report.
package reportparser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xtrace/reportstore/internal/xerrors"
	"github.com/xtrace/reportstore/internal/xtypes"

	"github.com/sirupsen/logrus"
)

// reportHeaderPrefix is the literal prefix of the first line every
// report must begin with; the fast path expects the X-Trace line on the
// line right after it.
const reportHeaderPrefix = "X-Trace Report ver"

var xtraceLineRe = regexp.MustCompile(`^X-Trace:\s+([0-9A-Fa-f]+)$`)

// ParseResult is the C1 output: a parsed report, or ok=false when the
// report was dropped. Dropping never raises — see spec.md §4.1's
// failure modes and §7's "Malformed report" policy.
type ParseResult struct {
	Report *xtypes.Report
	OK     bool
}

// Parser extracts reports from raw text buffers. It holds no mutable
// state and is safe for concurrent use, though in this store only the
// single ingest thread ever calls it (spec.md §5).
type Parser struct {
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *Parser {
	return &Parser{logger: logger}
}

// Parse extracts (taskId, title?, tags?, rawBody) from a single report
// buffer. It never returns an error to the caller: malformed input is
// logged at WARN and reported via ParseResult.OK=false, matching
// spec.md §4.1 and §7.
func (p *Parser) Parse(raw string) ParseResult {
	if !strings.HasPrefix(raw, reportHeaderPrefix) {
		p.warn("missing report header", raw)
		return ParseResult{OK: false}
	}

	if taskID, ok := p.tryFastPath(raw); ok {
		return ParseResult{OK: true, Report: &xtypes.Report{TaskID: taskID, RawText: raw}}
	}

	return p.slowPath(raw)
}

// tryFastPath implements the fast path described in spec.md §4.1: if
// the line immediately after the header is a well-formed X-Trace
// line, AND the line after that does not begin with Tag: or Title:,
// decode the task-id and return it. Any other shape falls through
// (ok=false) so the caller retries with the slow path.
func (p *Parser) tryFastPath(raw string) (xtypes.TaskID, bool) {
	lines := splitLines(raw)
	if len(lines) < 2 {
		return "", false
	}
	metaLine := lines[1]
	if !strings.HasPrefix(metaLine, "X-Trace:") {
		return "", false
	}
	if len(lines) >= 3 {
		next := lines[2]
		if strings.HasPrefix(next, "Tag:") || strings.HasPrefix(next, "Title:") {
			return "", false
		}
	}
	m := xtraceLineRe.FindStringSubmatch(strings.TrimSpace(metaLine))
	if m == nil {
		return "", false
	}
	taskID, err := decodeTaskID(m[1])
	if err != nil {
		p.warn(fmt.Sprintf("fast path metadata decode failed: %v", err), raw)
		return "", false
	}
	return taskID, true
}

// slowPath scans the report line-by-line, locating the X-Trace line
// wherever it appears and collecting the first Title: and the set of
// all Tag: values, per spec.md §4.1.
func (p *Parser) slowPath(raw string) ParseResult {
	var (
		taskID xtypes.TaskID
		found  bool
		title  string
		tags   map[string]struct{}
	)

	for _, line := range splitLines(raw) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			break // blank-line terminator
		}
		if m := xtraceLineRe.FindStringSubmatch(trimmed); m != nil && !found {
			id, err := decodeTaskID(m[1])
			if err != nil {
				p.warn(fmt.Sprintf("slow path metadata decode failed: %v", err), raw)
				continue
			}
			taskID = id
			found = true
			continue
		}
		if title == "" {
			if v, ok := fieldValue(trimmed, "Title:"); ok {
				title = v
				continue
			}
		}
		if v, ok := fieldValue(trimmed, "Tag:"); ok {
			if tags == nil {
				tags = make(map[string]struct{})
			}
			tags[v] = struct{}{}
		}
	}

	if !found {
		p.warn("no X-Trace line found", raw)
		return ParseResult{OK: false}
	}

	return ParseResult{
		OK: true,
		Report: &xtypes.Report{
			TaskID:  taskID,
			Title:   title,
			Tags:    tags,
			RawText: raw,
		},
	}
}

func fieldValue(line, key string) (string, bool) {
	if !strings.HasPrefix(line, key) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, key)), true
}

// decodeTaskID decodes the metadata hex string's leading task-id field
// and normalizes it to the store's single case convention (uppercase,
// per spec.md §9). The wire metadata codec proper (task-id + op-id +
// options) is out of scope; this decoder only needs the leading field.
func decodeTaskID(hexMeta string) (xtypes.TaskID, error) {
	if len(hexMeta) < xtypes.MinTaskIDLength {
		return "", fmt.Errorf("metadata too short to contain a task id: %q", hexMeta)
	}
	// The task-id is the leading field of the metadata; implementations
	// of the codec vary in how many hex characters that spans, but it
	// is always the prefix of the full metadata string.
	id := xtypes.NormalizeTaskID(hexMeta)
	if !id.Valid() {
		return "", fmt.Errorf("decoded task id shorter than minimum length: %q", id)
	}
	return id, nil
}

func splitLines(raw string) []string {
	return strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
}

func (p *Parser) warn(reason, raw string) {
	if p.logger == nil {
		return
	}
	snippet := raw
	if len(snippet) > 80 {
		snippet = snippet[:80]
	}
	p.logger.WithFields(logrus.Fields{
		"component": "reportparser",
		"reason":    reason,
	}).Warn("dropping malformed report: " + xerrors.New(xerrors.CodeReportMalformed, "reportparser", "Parse", reason).Error() + " snippet=" + snippet)
}
