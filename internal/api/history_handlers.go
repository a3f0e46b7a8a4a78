package api

import (
	"encoding/csv"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dialcore/dialcore/internal/database"
	"github.com/dialcore/dialcore/internal/database/models"
)

// historyResponse is the JSON response for a single call log entry.
type historyResponse struct {
	ID           int64   `json:"id"`
	CallID       string  `json:"call_id"`
	Phone        string  `json:"phone"`
	Direction    string  `json:"direction"`
	Number       string  `json:"number"`
	Name         string  `json:"name,omitempty"`
	Presentation string  `json:"presentation"`
	StartTime    string  `json:"start_time"`
	AnswerTime   *string `json:"answer_time"`
	EndTime      string  `json:"end_time"`
	Duration     int     `json:"duration"`
	Cause        string  `json:"cause"`
	Missed       bool    `json:"missed"`
}

// toHistoryResponse converts a models.CallHistoryEntry to the API response.
func toHistoryResponse(e *models.CallHistoryEntry) historyResponse {
	resp := historyResponse{
		ID:           e.ID,
		CallID:       e.CallID,
		Phone:        e.Phone,
		Direction:    e.Direction,
		Number:       e.Number,
		Name:         e.Name,
		Presentation: e.Presentation,
		StartTime:    e.StartTime.Format(time.RFC3339),
		EndTime:      e.EndTime.Format(time.RFC3339),
		Duration:     e.Duration,
		Cause:        e.Cause,
		Missed:       e.Missed,
	}
	if e.AnswerTime != nil {
		s := e.AnswerTime.Format(time.RFC3339)
		resp.AnswerTime = &s
	}
	return resp
}

// parseHistoryFilter builds the store filter from query parameters,
// excluding pagination. Returns an error message on invalid input.
func parseHistoryFilter(r *http.Request) (database.HistoryListFilter, string) {
	q := r.URL.Query()

	direction := q.Get("direction")
	if direction != "" && direction != "incoming" && direction != "outgoing" {
		return database.HistoryListFilter{}, "direction must be \"incoming\" or \"outgoing\""
	}

	missed := false
	if raw := q.Get("missed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return database.HistoryListFilter{}, "missed must be a boolean"
		}
		missed = v
	}

	return database.HistoryListFilter{
		Search:    q.Get("search"),
		Direction: direction,
		Missed:    missed,
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
	}, ""
}

// handleListHistory returns call log entries with pagination and optional
// filters. Query params: limit, offset, search, direction, missed,
// start_date, end_date.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	filter, errMsg := parseHistoryFilter(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	filter.Limit = pg.Limit
	filter.Offset = pg.Offset

	entries, total, err := s.history.List(r.Context(), filter)
	if err != nil {
		slog.Error("list history: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]historyResponse, len(entries))
	for i := range entries {
		items[i] = toHistoryResponse(&entries[i])
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  items,
		Total:  total,
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}

// handleGetHistory returns a single call log entry by ID.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid history id")
		return
	}

	entry, err := s.history.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("get history: failed to query", "error", err, "history_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "history entry not found")
		return
	}

	writeJSON(w, http.StatusOK, toHistoryResponse(entry))
}

// handleDeleteHistory removes one call log entry.
func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid history id")
		return
	}

	entry, err := s.history.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("delete history: failed to query", "error", err, "history_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "history entry not found")
		return
	}

	if err := s.history.Delete(r.Context(), id); err != nil {
		slog.Error("delete history: failed to delete", "error", err, "history_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handlePurgeHistory removes entries older than the given number of days.
// Query param: older_than_days (required, non-negative).
func (s *Server) handlePurgeHistory(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("older_than_days")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "older_than_days is required")
		return
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 0 {
		writeError(w, http.StatusBadRequest, "older_than_days must be a non-negative integer")
		return
	}

	removed, err := s.history.DeleteOlderThan(r.Context(), days)
	if err != nil {
		slog.Error("purge history: failed to delete", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("call history purged", "older_than_days", days, "removed", removed)
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

// exportLimit caps how many entries a CSV export returns.
const exportLimit = 10000

// handleExportHistory exports the call log as CSV with the same filters
// as list.
func (s *Server) handleExportHistory(w http.ResponseWriter, r *http.Request) {
	filter, errMsg := parseHistoryFilter(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	filter.Limit = exportLimit

	entries, _, err := s.history.List(r.Context(), filter)
	if err != nil {
		slog.Error("export history: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=call-history.csv")

	cw := csv.NewWriter(w)
	cw.Write([]string{
		"ID", "Call-ID", "Phone", "Direction", "Number", "Name",
		"Start Time", "Answer Time", "End Time", "Duration", "Cause", "Missed",
	})

	for _, e := range entries {
		answerTime := ""
		if e.AnswerTime != nil {
			answerTime = e.AnswerTime.Format(time.RFC3339)
		}
		cw.Write([]string{
			strconv.FormatInt(e.ID, 10),
			e.CallID,
			e.Phone,
			e.Direction,
			e.Number,
			e.Name,
			e.StartTime.Format(time.RFC3339),
			answerTime,
			e.EndTime.Format(time.RFC3339),
			strconv.Itoa(e.Duration),
			e.Cause,
			strconv.FormatBool(e.Missed),
		})
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		slog.Error("export history: csv write error", "error", err)
	}
}
