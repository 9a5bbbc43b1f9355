package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alwayssunny/alwayssunny/pkg/log"
	"github.com/alwayssunny/alwayssunny/pkg/types"
	"github.com/alwayssunny/alwayssunny/pkg/vehicle"
)

// handleOverride sets or clears the manual amps override. A null amps value
// clears it. The loop picks the change up on its next tick; the override is
// only honored while the advisor is disabled.
func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "missing authentication", http.StatusUnauthorized)
		return
	}
	if !user.Admin {
		writeJSONError(w, "unauthorized", http.StatusForbidden)
		return
	}

	var req struct {
		Amps *int `json:"amps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Amps != nil && (*req.Amps < 0 || *req.Amps > vehicle.MaxChargeAmps) {
		writeJSONError(w, "amps out of range", http.StatusBadRequest)
		return
	}

	settings, _, err := s.getSettingsWithMigration(ctx, user.ID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	settings.ManualAmpsOverride = req.Amps
	if err := s.storage.SetSettings(ctx, user.ID, settings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save settings", slog.Any("error", err))
		writeJSONError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}

	if req.Amps != nil {
		log.Ctx(ctx).InfoContext(ctx, "manual override set", slog.Int("amps", *req.Amps))
	} else {
		log.Ctx(ctx).InfoContext(ctx, "manual override cleared")
	}
	w.WriteHeader(http.StatusOK)
}
