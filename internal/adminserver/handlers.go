package adminserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/xtrace/reportstore/internal/query"
	"github.com/xtrace/reportstore/internal/workerpool"
	"github.com/xtrace/reportstore/internal/xtypes"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type handlers struct {
	surface *query.Surface
	pool    *workerpool.Pool
	logger  *logrus.Logger
}

// health reports process liveness plus a snapshot of index totals and
// worker pool activity, so an operator can tell from one endpoint
// whether the store is both up and keeping up.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"totals":      h.surface.Totals(r.Context()),
		"worker_pool": h.pool.Stats(),
	})
}

// listTasks is the C7 "list/filter tasks" operation: offset/limit
// paging over the latest tasks, narrowed by an exact tag, an exact or
// substring title, or a first-seen lower bound.
func (h *handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := query.ListFilter{
		Tag:           q.Get("tag"),
		TitleExact:    q.Get("title"),
		TitleContains: q.Get("title_contains"),
		Offset:        parseIntParam(q.Get("offset"), 0),
		Limit:         parseIntParam(q.Get("limit"), 50),
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = t
		}
	}
	writeJSON(w, http.StatusOK, h.surface.ListTasks(r.Context(), filter))
}

// taskSummary is a single-task detail view, distinct from the
// prepared-query paths listTasks dispatches across.
func (h *handlers) taskSummary(w http.ResponseWriter, r *http.Request) {
	taskID := xtypes.NormalizeTaskID(mux.Vars(r)["taskId"])
	summary, ok := h.surface.TaskSummary(r.Context(), taskID)
	if !ok {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func parseIntParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func (h *handlers) reportsByTask(w http.ResponseWriter, r *http.Request) {
	taskID := xtypes.NormalizeTaskID(mux.Vars(r)["taskId"])
	reports := h.surface.ReportsByTask(taskID)
	writeJSON(w, http.StatusOK, reports)
}

func (h *handlers) tagsForTask(w http.ResponseWriter, r *http.Request) {
	taskID := xtypes.NormalizeTaskID(mux.Vars(r)["taskId"])
	tags := h.surface.TagsForTask(r.Context(), taskID)
	writeJSON(w, http.StatusOK, tags)
}

func (h *handlers) overlap(w http.ResponseWriter, r *http.Request) {
	taskID := xtypes.NormalizeTaskID(mux.Vars(r)["taskId"])
	ids := h.surface.OverlappingTasks(r.Context(), taskID)
	writeJSON(w, http.StatusOK, ids)
}

// allOverlap runs the transitive BFS through the worker pool, since it
// is the one query operation whose cost scales with the size of the
// overlap set rather than with a single row lookup.
func (h *handlers) allOverlap(w http.ResponseWriter, r *http.Request) {
	taskID := xtypes.NormalizeTaskID(mux.Vars(r)["taskId"])

	result := make(chan []xtypes.TaskID, 1)
	submitErr := h.pool.SubmitTask(workerpool.Task{
		ID: "overlap:" + string(taskID),
		Execute: func(ctx context.Context) error {
			result <- h.surface.AllOverlappingTasks(ctx, taskID)
			return nil
		},
	})
	if submitErr != nil {
		http.Error(w, submitErr.Error(), http.StatusServiceUnavailable)
		return
	}

	select {
	case ids := <-result:
		writeJSON(w, http.StatusOK, ids)
	case <-r.Context().Done():
		http.Error(w, r.Context().Err().Error(), http.StatusRequestTimeout)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
