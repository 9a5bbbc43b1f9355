package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alwayssunny/alwayssunny/pkg/log"
)

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "missing authentication", http.StatusUnauthorized)
		return
	}
	start, end, err := parseTimeRange(r, 31*24*time.Hour)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	sessions, err := s.storage.GetSessionHistory(ctx, user.ID, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get sessions", slog.Any("error", err))
		writeJSONError(w, "failed to get sessions", http.StatusInternalServerError)
		return
	}

	setHistoryCacheControl(w, end)
	writeJSON(w, sessions)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "missing authentication", http.StatusUnauthorized)
		return
	}
	start, end, err := parseTimeRange(r, 24*time.Hour)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	snapshots, err := s.storage.GetSnapshotHistory(ctx, user.ID, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get snapshots", slog.Any("error", err))
		writeJSONError(w, "failed to get snapshots", http.StatusInternalServerError)
		return
	}

	setHistoryCacheControl(w, end)
	writeJSON(w, snapshots)
}

// setHistoryCacheControl caches closed ranges for a day; ranges that include
// today change every tick and only get a minute.
func setHistoryCacheControl(w http.ResponseWriter, end time.Time) {
	today := time.Now().Truncate(24 * time.Hour)
	if end.Before(today) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}
}

func parseTimeRange(r *http.Request, maxRange time.Duration) (time.Time, time.Time, error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" || endStr == "" {
		// Default to last 24 hours if not specified
		end := time.Now()
		start := end.Add(-24 * time.Hour)
		return start, end, nil
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
	}

	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("start time must be before end time")
	}

	if end.Sub(start) > maxRange {
		return time.Time{}, time.Time{}, fmt.Errorf("time range cannot exceed %s", maxRange)
	}

	return start, end, nil
}
