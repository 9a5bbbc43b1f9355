package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"encoding/json"

	"github.com/alwayssunny/alwayssunny/pkg/log"
	"github.com/alwayssunny/alwayssunny/pkg/secrets"
	"github.com/alwayssunny/alwayssunny/pkg/types"
	"github.com/alwayssunny/alwayssunny/pkg/vehicle"
)

func (s *Server) getSettingsWithMigration(ctx context.Context, userID string) (types.Settings, types.Credentials, error) {
	settings, version, err := s.storage.GetSettings(ctx, userID)
	if err != nil {
		return types.Settings{}, types.Credentials{}, err
	}

	if version < types.CurrentSettingsVersion {
		log.Ctx(ctx).InfoContext(ctx, "migrating settings",
			slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentSettingsVersion))
		newSettings, changed, err := types.MigrateSettings(settings, version)
		if err != nil {
			// Log error but return settings as is (best effort)
			log.Ctx(ctx).ErrorContext(ctx, "failed to migrate settings",
				slog.Int("currentVersion", version), slog.Any("error", err))
		} else if changed {
			settings = newSettings
			if err := s.storage.SetSettings(ctx, userID, newSettings, types.CurrentSettingsVersion); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to save migrated settings", slog.Any("error", err))
				// Return migrated settings even if save failed, so current
				// request works with new defaults
			}
		}
	}

	creds, err := secrets.DecryptCredentials(s.encryptionKey, settings.EncryptedCredentials)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decrypt credentials", slog.Any("error", err))
		return types.Settings{}, types.Credentials{}, err
	}

	return settings, creds, nil
}

// SettingsRes is the response type for GetSettings
type SettingsRes struct {
	types.Settings
	HasCredentials map[string]bool `json:"hasCredentials"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "missing authentication", http.StatusUnauthorized)
		return
	}

	settings, creds, err := s.getSettingsWithMigration(ctx, user.ID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	// remove encrypted credentials from response
	settings.EncryptedCredentials = nil

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, SettingsRes{
		Settings:       settings,
		HasCredentials: creds.Has(),
	})
}

func validateSettings(settings types.Settings) error {
	if settings.TargetSOC < 1 || settings.TargetSOC > 100 {
		return fmt.Errorf("target SOC must be between 1 and 100")
	}
	switch settings.ChargingStrategy {
	case types.StrategySolar, types.StrategyDeparture:
	default:
		return fmt.Errorf("unknown charging strategy: %s", settings.ChargingStrategy)
	}
	if settings.DepartureTime != "" {
		if _, err := time.Parse("15:04", settings.DepartureTime); err != nil {
			return fmt.Errorf("departure time must be HH:MM")
		}
	}
	if settings.DailyGridBudgetKWH < 0 {
		return fmt.Errorf("daily grid budget cannot be negative")
	}
	if settings.MaxGridImportW < 0 {
		return fmt.Errorf("max grid import cannot be negative")
	}
	if settings.CircuitVoltage <= 0 {
		return fmt.Errorf("circuit voltage must be positive")
	}
	if settings.BatteryCapacityKWH <= 0 {
		return fmt.Errorf("battery capacity must be positive")
	}
	if settings.ElectricityRate < 0 {
		return fmt.Errorf("electricity rate cannot be negative")
	}
	if o := settings.ManualAmpsOverride; o != nil && (*o < 0 || *o > vehicle.MaxChargeAmps) {
		return fmt.Errorf("manual amps override must be between 0 and %d", vehicle.MaxChargeAmps)
	}
	if settings.Timezone != "" {
		if _, err := time.LoadLocation(settings.Timezone); err != nil {
			return fmt.Errorf("invalid timezone: %s", settings.Timezone)
		}
	}
	return nil
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "missing authentication", http.StatusUnauthorized)
		return
	}
	if !user.Admin {
		log.Ctx(ctx).WarnContext(ctx, "unauthorized for settings update",
			slog.String("userID", user.ID), slog.String("email", user.Email))
		writeJSONError(w, "unauthorized", http.StatusForbidden)
		return
	}

	var req struct {
		types.Settings
		Credentials *types.Credentials `json:"credentials,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode settings", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	newSettings := req.Settings
	if err := validateSettings(newSettings); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Get existing credentials to preserve fields the request omits.
	existing, _, err := s.storage.GetSettings(ctx, user.ID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	if req.Credentials != nil {
		existingCreds, err := secrets.DecryptCredentials(s.encryptionKey, existing.EncryptedCredentials)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to decrypt credentials", slog.Any("error", err))
			writeJSONError(w, "failed to decrypt credentials", http.StatusInternalServerError)
			return
		}

		// merge per provider: a supplied group replaces that group only
		var changedSolax, changedTessie bool
		if req.Credentials.Solax != nil {
			existingCreds.Solax = req.Credentials.Solax
			changedSolax = true
		}
		if req.Credentials.Tessie != nil {
			existingCreds.Tessie = req.Credentials.Tessie
			changedTessie = true
		}
		if req.Credentials.Advisor != nil {
			existingCreds.Advisor = req.Credentials.Advisor
		}

		// Changed provider credentials are verified before they are saved,
		// so a typo surfaces here instead of as silent loop failures.
		if changedSolax {
			inv, err := s.inverters.User(ctx, user.ID, newSettings, existingCreds)
			if err == nil {
				err = inv.TestConnection(ctx)
			}
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "solar credentials verification failed", slog.Any("error", err))
				writeJSONError(w, fmt.Sprintf("failed to verify solar credentials: %v", err), http.StatusBadRequest)
				return
			}
		}
		if changedTessie {
			api, err := s.vehicles.User(ctx, user.ID, newSettings, existingCreds)
			if err == nil {
				err = api.TestConnection(ctx)
			}
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "vehicle credentials verification failed", slog.Any("error", err))
				writeJSONError(w, fmt.Sprintf("failed to verify vehicle credentials: %v", err), http.StatusBadRequest)
				return
			}
		}

		encrypted, err := secrets.EncryptCredentials(s.encryptionKey, existingCreds)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to encrypt credentials", slog.Any("error", err))
			writeJSONError(w, "failed to encrypt credentials", http.StatusInternalServerError)
			return
		}
		newSettings.EncryptedCredentials = encrypted
	} else {
		// Preserve existing encrypted credentials if not updating
		newSettings.EncryptedCredentials = existing.EncryptedCredentials
	}

	if err := s.storage.SetSettings(ctx, user.ID, newSettings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save settings", slog.Any("error", err))
		writeJSONError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "settings updated")
	w.WriteHeader(http.StatusOK)
}
