package loop

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alwayssunny/alwayssunny/pkg/advisor"
	"github.com/alwayssunny/alwayssunny/pkg/budget"
	"github.com/alwayssunny/alwayssunny/pkg/log"
	"github.com/alwayssunny/alwayssunny/pkg/presence"
	"github.com/alwayssunny/alwayssunny/pkg/secrets"
	"github.com/alwayssunny/alwayssunny/pkg/session"
	"github.com/alwayssunny/alwayssunny/pkg/storage"
	"github.com/alwayssunny/alwayssunny/pkg/strategy"
	"github.com/alwayssunny/alwayssunny/pkg/types"
	"github.com/alwayssunny/alwayssunny/pkg/vehicle"
)

// tick runs one full control cycle for one user: fetch, presence, budget,
// strategy, dispatch, session accounting, snapshot. Steps are strictly
// ordered; later steps assume earlier invariants.
func (l *Loop) tick(ctx context.Context, st *State) {
	now := l.now()

	// 1. Refresh settings and credentials from the store.
	if !l.refreshSettings(ctx, st) {
		st.commit(now, strategy.ModeDataUnavailable, types.ChargerLocationUnknown, types.DetectionNone, budget.Status{})
		return
	}
	settings := st.settings

	loc := time.UTC
	if settings.Timezone != "" {
		if tz, err := time.LoadLocation(settings.Timezone); err == nil {
			loc = tz
		} else {
			log.Ctx(ctx).WarnContext(ctx, "invalid timezone, using UTC", slog.String("timezone", settings.Timezone))
		}
	}
	now = now.In(loc)

	// 2. Fetch sensor data. A failed fetch keeps the previous snapshot; a
	// tick with no usable solar or vehicle reading at all sends no command.
	l.fetchSolar(ctx, st, now)
	api := l.fetchVehicle(ctx, st, now)
	if st.solar == nil || st.vehicle == nil {
		st.commit(now, strategy.ModeDataUnavailable, types.ChargerLocationUnknown, types.DetectionNone, budget.Status{})
		return
	}
	solarSnap := *st.solar
	vehicleSnap := *st.vehicle

	l.fetchLocation(ctx, st, api, now)
	l.maybeSetHomeCoords(ctx, st)
	l.fetchForecast(ctx, st, now)

	// 3. Presence. An unknown location assumes home: charging is never
	// blocked on missing telemetry.
	res := presence.Resolve(vehicleSnap, st.location, st.settings.HomeLat, st.settings.HomeLon)
	atHome := res.AtHome || res.ChargerStatus == types.ChargerLocationUnknown

	// 4. Daily grid budget off the cumulative import meter.
	l.loadCheckpoint(ctx, st)
	budgetStatus := st.budget.Update(ctx, now, solarSnap.GridImportMeterKWH, settings.DailyGridBudgetKWH, st.checkpoint, func(date string, baselineKWH float64) error {
		st.checkpoint.GridBaselineDate = date
		st.checkpoint.GridBaselineKWH = baselineKWH
		return l.db.SetCheckpoint(ctx, st.UserID, st.checkpoint)
	})

	// 5. Recover a session that was active before a restart.
	l.recoverSession(ctx, st, vehicleSnap, solarSnap, settings)

	night := st.forecast != nil && st.forecast.AfterSunset(now)
	minutesToDeparture := departureMinutes(now, settings.DepartureTime)

	// 6. Advisor. Returns the recommendation eligible to drive the
	// setpoint, or nil when the strategy engine must use rules.
	var forecastSnap types.ForecastSnapshot
	if st.forecast != nil {
		forecastSnap = *st.forecast
	}
	advisorIn := advisor.Input{
		Now:      now,
		Settings: settings,
		Creds:    st.creds,
		Solar:    solarSnap,
		Vehicle:  vehicleSnap,
		Forecast: forecastSnap,
		Budget:   budgetStatus,
		AtHome:   atHome,
		Night:    night,

		MinutesToDeparture: minutesToDeparture,
	}
	if active := st.session.Active(); active != nil {
		advisorIn.SessionActive = true
		advisorIn.SessionStartSOC = active.StartSOC
		advisorIn.SessionSolarPct = active.SolarPct
	}
	rec := st.advisor.Advise(ctx, advisorIn)

	// 7. Strategy. The rolling buffer smooths solar surplus so a passing
	// cloud does not whipsaw the amperage.
	st.pushAvailable(solarSnap.SolarW - solarSnap.HouseholdW)
	decision := strategy.Decide(strategy.Input{
		Now:                now,
		Settings:           settings,
		Solar:              solarSnap,
		Vehicle:            vehicleSnap,
		Budget:             budgetStatus,
		Recommendation:     rec,
		AtHome:             atHome,
		DataUsable:         true,
		SmoothedAvailableW: st.smoothedAvailable(),
		MinutesToDeparture: minutesToDeparture,
	})

	log.Ctx(ctx).DebugContext(ctx, "tick decision",
		slog.String("mode", decision.Mode),
		slog.Int("amps", decision.Amps),
		slog.Bool("stop", decision.Stop),
		slog.Float64("solarW", solarSnap.SolarW),
		slog.Float64("householdW", solarSnap.HouseholdW),
		slog.Float64("budgetUsedKWH", budgetStatus.UsedKWH),
	)

	// 8. Dispatch. After a budget stop no path below issues a start.
	l.dispatch(ctx, st, api, decision, vehicleSnap, settings)

	// 9. Session accounting.
	l.tickSession(ctx, st, now, solarSnap, vehicleSnap, settings, atHome)

	// 10. Snapshot for the history views. Best effort.
	snap := types.Snapshot{
		Timestamp:   now,
		SolarW:      solarSnap.SolarW,
		HouseholdW:  solarSnap.HouseholdW,
		GridImportW: solarSnap.GridImportW,
		BatterySOC:  int(solarSnap.BatterySOC),
		BatteryW:    solarSnap.BatteryW,
		VehicleSOC:  vehicleSnap.BatteryLevel,
		VehicleAmps: decision.Amps,
		Mode:        decision.Mode,
	}
	if last := st.advisor.Last(); last != nil {
		snap.AIRecommendedAmps = last.Amps
		snap.AIReasoning = last.Reasoning
		snap.AIConfidence = string(last.Confidence)
	}
	if err := l.db.InsertSnapshot(ctx, st.UserID, snap, types.CurrentSnapshotVersion); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to persist snapshot", slog.Any("error", err))
	}

	st.commit(now, decision.Mode, res.ChargerStatus, res.Method, budgetStatus)
}

// refreshSettings pulls settings once per tick, migrating and persisting as
// needed. Returns false when no settings have ever been loaded.
func (l *Loop) refreshSettings(ctx context.Context, st *State) bool {
	settings, version, err := l.db.GetSettings(ctx, st.UserID)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get settings", slog.Any("error", err))
		// keep the cached settings for this tick
		return st.settingsLoaded
	}

	settings, migrated, err := types.MigrateSettings(settings, version)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to migrate settings", slog.Any("error", err))
		return st.settingsLoaded
	}
	if migrated {
		if err := l.db.SetSettings(ctx, st.UserID, settings, types.CurrentSettingsVersion); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to persist migrated settings", slog.Any("error", err))
		}
	}

	creds, err := secrets.DecryptCredentials(l.encryptionKey, settings.EncryptedCredentials)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decrypt credentials", slog.Any("error", err))
		creds = types.Credentials{}
	}

	st.settings = settings
	st.creds = creds
	st.settingsLoaded = true
	return true
}

func (l *Loop) fetchSolar(ctx context.Context, st *State, now time.Time) {
	inv, err := l.inverters.User(ctx, st.UserID, st.settings, st.creds)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "solar provider unavailable", slog.Any("error", err))
		return
	}
	snap, err := inv.GetSnapshot(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "solar fetch failed, keeping previous reading", slog.Any("error", err))
		return
	}
	st.solar = &snap
}

func (l *Loop) fetchVehicle(ctx context.Context, st *State, now time.Time) vehicle.API {
	api, err := l.vehicles.User(ctx, st.UserID, st.settings, st.creds)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "vehicle provider unavailable", slog.Any("error", err))
		return nil
	}
	snap, err := api.GetState(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "vehicle fetch failed, keeping previous reading", slog.Any("error", err))
		return api
	}
	st.vehicle = &snap
	return api
}

// fetchLocation refreshes the vehicle location on a slow cadence; presence
// rarely changes and the endpoint is rate-limited.
func (l *Loop) fetchLocation(ctx context.Context, st *State, api vehicle.API, now time.Time) {
	if api == nil {
		return
	}
	if st.location != nil && now.Sub(st.lastLocationFetch) < locationFetchEvery {
		return
	}
	locSnap, err := api.GetLocation(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "location fetch failed", slog.Any("error", err))
		return
	}
	st.location = &locSnap
	st.lastLocationFetch = now
}

// maybeSetHomeCoords auto-populates the home coordinates from vehicle GPS the
// first time the vehicle is seen at its named home location, so the GPS
// fallback works without manual setup.
func (l *Loop) maybeSetHomeCoords(ctx context.Context, st *State) {
	if st.settings.HomeLat != 0 && st.settings.HomeLon != 0 {
		return
	}
	if st.location == nil || !st.location.AtNamedHome() {
		return
	}
	if st.location.Latitude == 0 || st.location.Longitude == 0 {
		return
	}

	st.settings.HomeLat = st.location.Latitude
	st.settings.HomeLon = st.location.Longitude
	if err := l.db.SetSettings(ctx, st.UserID, st.settings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to persist home coordinates", slog.Any("error", err))
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "auto-set home coordinates from vehicle GPS",
		slog.Float64("lat", st.settings.HomeLat),
		slog.Float64("lon", st.settings.HomeLon),
	)
}

func (l *Loop) fetchForecast(ctx context.Context, st *State, now time.Time) {
	if st.settings.HomeLat == 0 || st.settings.HomeLon == 0 {
		return
	}
	if st.forecast != nil && now.Sub(st.lastForecastFetch) < forecastFetchEvery {
		return
	}
	f, err := l.forecasts.GetForecast(ctx, st.settings.HomeLat, st.settings.HomeLon)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "forecast fetch failed", slog.Any("error", err))
		return
	}
	st.forecast = &f
	st.lastForecastFetch = now
}

func (l *Loop) loadCheckpoint(ctx context.Context, st *State) {
	if st.checkpointLoaded {
		return
	}
	cp, err := l.db.GetCheckpoint(ctx, st.UserID)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to load checkpoint", slog.Any("error", err))
		return
	}
	st.checkpoint = cp
	st.checkpointLoaded = true
}

// recoverSession restores an in-progress session from the store after a
// restart, so accumulated energy totals are not lost. Runs until it succeeds
// once.
func (l *Loop) recoverSession(ctx context.Context, st *State, vehicleSnap types.VehicleSnapshot, solarSnap types.SolarSnapshot, settings types.Settings) {
	if st.session.Recovered() || !vehicleSnap.PlugConnected {
		return
	}

	rec, err := l.db.GetActiveSession(ctx, st.UserID)
	if errors.Is(err, storage.ErrNoActiveSession) {
		st.session.MarkRecovered()
		return
	}
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to check for active session", slog.Any("error", err))
		return
	}

	startGrid := st.checkpoint.SessionStartGridKWH
	if startGrid == 0 {
		// No persisted meter baseline: use the current meter so grid_kwh
		// restarts from zero instead of a bogus whole-meter delta.
		startGrid = solarSnap.GridImportMeterKWH
		log.Ctx(ctx).WarnContext(ctx, "no persisted session meter baseline, using current meter")
	}
	st.session.Recover(rec, startGrid, settings.ElectricityRate)
	log.Ctx(ctx).InfoContext(ctx, "recovered active session",
		slog.Time("startedAt", rec.StartedAt),
		slog.Float64("kwhAdded", rec.KWHAdded),
	)
}

// dispatch sends at most one command sequence to the vehicle for this tick.
func (l *Loop) dispatch(ctx context.Context, st *State, api vehicle.API, dec strategy.Decision, vehicleSnap types.VehicleSnapshot, settings types.Settings) {
	if dec.Amps == strategy.NoCommand || api == nil {
		return
	}
	if !settings.VehicleCommandsEnabled {
		log.Ctx(ctx).DebugContext(ctx, "vehicle commands disabled, skipping dispatch",
			slog.Int("amps", dec.Amps))
		return
	}

	charging := vehicleSnap.ChargingState == types.ChargingStateCharging

	switch {
	case dec.Stop:
		if !charging {
			return
		}
		if err := api.StopCharging(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "stop command failed", slog.Any("error", err))
			return
		}
		st.lastAmpsSent = 0
		log.Ctx(ctx).InfoContext(ctx, "stopped charging", slog.String("mode", dec.Mode))

	case dec.Amps == 0:
		// A rule-based 0A pauses charging only while a budget or import
		// limit is actually being managed; with no limits the vehicle's
		// native behavior is left alone.
		if !charging || (settings.DailyGridBudgetKWH <= 0 && settings.MaxGridImportW <= 0) {
			return
		}
		if err := api.StopCharging(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "pause command failed", slog.Any("error", err))
			return
		}
		st.lastAmpsSent = 0
		log.Ctx(ctx).InfoContext(ctx, "paused charging", slog.String("mode", dec.Mode))

	case dec.Amps >= vehicle.MinChargeAmps:
		if !charging {
			if err := api.StartCharging(ctx); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "start command failed", slog.Any("error", err))
				return
			}
			if err := api.SetChargingAmps(ctx, dec.Amps); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "set amps failed", slog.Any("error", err))
				return
			}
			st.lastAmpsSent = dec.Amps
			log.Ctx(ctx).InfoContext(ctx, "started charging",
				slog.Int("amps", dec.Amps), slog.String("mode", dec.Mode))
			return
		}
		if dec.Amps == st.lastAmpsSent {
			return
		}
		if err := api.SetChargingAmps(ctx, dec.Amps); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "set amps failed", slog.Any("error", err))
			return
		}
		st.lastAmpsSent = dec.Amps
		log.Ctx(ctx).InfoContext(ctx, "set charging amps",
			slog.Int("amps", dec.Amps), slog.String("mode", dec.Mode))
	}
}

// tickSession advances the session state machine and persists lifecycle
// events.
func (l *Loop) tickSession(ctx context.Context, st *State, now time.Time, solarSnap types.SolarSnapshot, vehicleSnap types.VehicleSnapshot, settings types.Settings, atHome bool) {
	ev, rec := st.session.Tick(session.TickInput{
		Now:             now,
		PluggedIn:       vehicleSnap.PlugConnected,
		AtHome:          atHome,
		ChargingState:   vehicleSnap.ChargingState,
		VehicleSOC:      vehicleSnap.BatteryLevel,
		TargetSOC:       settings.TargetSOC,
		MeterKWH:        solarSnap.GridImportMeterKWH,
		EnergyAddedKWH:  vehicleSnap.EnergyAddedKWH,
		SolarToVehicleW: solarToVehicleW(solarSnap, vehicleSnap),
		ElectricityRate: settings.ElectricityRate,
	})

	switch ev {
	case session.EventStarted:
		// Persist the meter baseline before the session row so a crash in
		// between cannot produce a session with an unknown baseline.
		st.checkpoint.SessionStartGridKWH = solarSnap.GridImportMeterKWH
		if err := l.db.SetCheckpoint(ctx, st.UserID, st.checkpoint); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to persist session meter baseline", slog.Any("error", err))
		}
		if err := l.db.UpsertActiveSession(ctx, st.UserID, *rec); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to persist session start", slog.Any("error", err))
		}
		log.Ctx(ctx).InfoContext(ctx, "charging session started",
			slog.Int("startSOC", rec.StartSOC), slog.Int("targetSOC", rec.TargetSOC))

	case session.EventUpdated:
		active := st.session.Active()
		update := types.SessionRecord{
			ID:              active.ID,
			StartedAt:       active.StartedAt,
			StartSOC:        active.StartSOC,
			TargetSOC:       active.TargetSOC,
			KWHAdded:        active.KWHAdded,
			SolarKWH:        active.SolarKWH,
			GridKWH:         active.GridKWH,
			SolarPct:        active.SolarPct,
			SavedAmount:     active.SavedAmount,
			ElectricityRate: active.ElectricityRate,
		}
		if err := l.db.UpsertActiveSession(ctx, st.UserID, update); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to persist session progress", slog.Any("error", err))
		}

	case session.EventEnded:
		if err := l.db.FinishSession(ctx, st.UserID, *rec); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to persist session end", slog.Any("error", err))
		}
		st.advisor.ResetLatches()
		log.Ctx(ctx).InfoContext(ctx, "charging session ended",
			slog.Int("endSOC", rec.EndSOC),
			slog.Float64("kwhAdded", rec.KWHAdded),
			slog.Float64("solarPct", rec.SolarPct),
		)
	}
}

// solarToVehicleW estimates the solar power flowing into the vehicle right
// now: the solar output left after the rest of the household, capped at what
// the vehicle is drawing. HouseholdW includes the vehicle itself.
func solarToVehicleW(solarSnap types.SolarSnapshot, vehicleSnap types.VehicleSnapshot) float64 {
	chargingW := vehicleSnap.ChargingKW * 1000
	if chargingW <= 0 {
		return 0
	}
	otherW := solarSnap.HouseholdW - chargingW
	if otherW < 0 {
		otherW = 0
	}
	toVehicle := solarSnap.SolarW - otherW
	if toVehicle < 0 {
		return 0
	}
	if toVehicle > chargingW {
		return chargingW
	}
	return toVehicle
}

// departureMinutes returns the minutes until today's departure deadline in
// the given local time. Negative means the deadline already passed today;
// -1 when no deadline is configured.
func departureMinutes(now time.Time, departure string) float64 {
	if departure == "" {
		return -1
	}
	t, err := time.Parse("15:04", departure)
	if err != nil {
		return -1
	}
	deadline := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	return deadline.Sub(now).Minutes()
}
