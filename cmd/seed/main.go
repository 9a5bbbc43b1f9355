package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/alwayssunny/alwayssunny/pkg/log"
	"github.com/alwayssunny/alwayssunny/pkg/storage"
	"github.com/alwayssunny/alwayssunny/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Seeds a dev user with a day of snapshots and a couple of finished charging
// sessions against the Firestore emulator, so the frontend has something to
// show without real hardware.
func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	s := storage.Configured()
	lflag.Configure()

	ctx := context.Background()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data")

	const userID = "dev"
	if err := s.CreateUser(ctx, types.User{ID: userID, Email: "dev@localhost"}); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed user", "error", err)
		os.Exit(1)
	}

	settings := types.Settings{
		TargetSOC:              80,
		ChargingStrategy:       types.StrategySolar,
		DailyGridBudgetKWH:     10,
		CircuitVoltage:         240,
		BatteryCapacityKWH:     75,
		ElectricityRate:        10.83,
		VehicleCommandsEnabled: false,
		Timezone:               "UTC",
	}
	if err := s.SetSettings(ctx, userID, settings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed settings", "error", err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	now := time.Now()
	start := now.Truncate(24 * time.Hour)

	const (
		SolarPeakW   = 8000.0
		HouseholdAvg = 1200.0
	)
	vehicleSOC := 55

	// One snapshot every 10 minutes from midnight to now.
	for t := start; t.Before(now); t = t.Add(10 * time.Minute) {
		hourOfDay := float64(t.Hour()) + float64(t.Minute())/60

		// Solar bell curve peaking at 13:00
		solarW := 0.0
		if hourOfDay > 6 && hourOfDay < 19 {
			dist := hourOfDay - 13.0
			solarW = SolarPeakW * math.Exp(-(dist*dist)/12.0)
		}

		householdW := HouseholdAvg + rng.Float64()*600
		if hourOfDay >= 18 && hourOfDay < 22 {
			householdW += 2000 // evening load
		}

		// Charge during midday surplus until the target is reached
		amps := 0
		mode := "Idle – Unplugged"
		if hourOfDay >= 9 && hourOfDay < 16 && vehicleSOC < 80 {
			surplus := solarW - householdW
			if surplus > 1200 {
				amps = int(math.Min(surplus/240, 32))
				mode = "Solar-first"
			}
		}
		if amps > 0 && rng.Float64() < 0.2 {
			vehicleSOC++
		}

		gridW := householdW + float64(amps)*240 - solarW

		snap := types.Snapshot{
			Timestamp:   t,
			SolarW:      solarW,
			HouseholdW:  householdW,
			GridImportW: math.Max(0, gridW),
			BatterySOC:  70,
			VehicleSOC:  vehicleSOC,
			VehicleAmps: amps,
			Mode:        mode,
		}
		if err := s.InsertSnapshot(ctx, userID, snap, types.CurrentSnapshotVersion); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed snapshot", "error", err)
			os.Exit(1)
		}
	}

	// A few finished sessions over the past week.
	for day := 1; day <= 5; day++ {
		began := start.AddDate(0, 0, -day).Add(10 * time.Hour)
		kwh := 10 + rng.Float64()*15
		solarKWH := kwh * (0.5 + rng.Float64()*0.45)
		rec := types.SessionRecord{
			ID:              began.UTC().Format(time.RFC3339),
			StartedAt:       began,
			EndedAt:         began.Add(4 * time.Hour),
			StartSOC:        40 + rng.Intn(20),
			EndSOC:          78 + rng.Intn(4),
			TargetSOC:       80,
			DurationMins:    240,
			KWHAdded:        kwh,
			SolarKWH:        solarKWH,
			GridKWH:         kwh - solarKWH,
			SolarPct:        solarKWH / kwh * 100,
			SavedAmount:     solarKWH * settings.ElectricityRate,
			ElectricityRate: settings.ElectricityRate,
		}
		if err := s.FinishSession(ctx, userID, rec); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed session", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Seeded session on %s: %.1f kWh (%.0f%% solar)\n",
			began.Format("Jan 2"), rec.KWHAdded, rec.SolarPct)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data successfully")
}
