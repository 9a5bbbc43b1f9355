package strategy

import (
	"testing"
	"time"

	"github.com/alwayssunny/alwayssunny/pkg/budget"
	"github.com/alwayssunny/alwayssunny/pkg/types"
	"github.com/stretchr/testify/assert"
)

func baseInput(now time.Time) Input {
	return Input{
		Now: now,
		Settings: types.Settings{
			TargetSOC:          80,
			ChargingStrategy:   types.StrategySolar,
			DailyGridBudgetKWH: 25,
			CircuitVoltage:     240,
			BatteryCapacityKWH: 75,
		},
		Solar:              types.SolarSnapshot{SolarW: 3000, HouseholdW: 800},
		Vehicle:            types.VehicleSnapshot{PlugConnected: true, ChargingState: types.ChargingStateCharging, BatteryLevel: 60},
		Budget:             budget.Status{UsedKWH: 5, RemainingKWH: 20},
		AtHome:             true,
		DataUsable:         true,
		SmoothedAvailableW: 2200,
		MinutesToDeparture: -1,
	}
}

func TestHardStops(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("unplugged", func(t *testing.T) {
		in := baseInput(now)
		in.Vehicle.PlugConnected = false
		d := Decide(in)
		assert.Equal(t, NoCommand, d.Amps)
		assert.Equal(t, ModeUnplugged, d.Mode)
	})

	t.Run("away", func(t *testing.T) {
		in := baseInput(now)
		in.AtHome = false
		d := Decide(in)
		assert.Equal(t, NoCommand, d.Amps)
		assert.Equal(t, ModeAway, d.Mode)
	})

	t.Run("data unavailable", func(t *testing.T) {
		in := baseInput(now)
		in.DataUsable = false
		d := Decide(in)
		assert.Equal(t, NoCommand, d.Amps)
		assert.Equal(t, ModeDataUnavailable, d.Mode)
	})

	t.Run("budget exhausted stops", func(t *testing.T) {
		// Baseline 100.0, meter 125.1, budget 25: cutoff.
		in := baseInput(now)
		in.Budget = budget.Status{UsedKWH: 25.1, RemainingKWH: 0, Exhausted: true}
		d := Decide(in)
		assert.Equal(t, 0, d.Amps)
		assert.True(t, d.Stop)
		assert.Equal(t, ModeBudgetCutoff, d.Mode)
	})

	t.Run("budget cutoff outranks a fresh recommendation", func(t *testing.T) {
		in := baseInput(now)
		in.Settings.AIEnabled = true
		in.Recommendation = &types.Recommendation{Amps: 16, CreatedAt: now}
		in.Budget = budget.Status{UsedKWH: 26, Exhausted: true}
		d := Decide(in)
		assert.True(t, d.Stop)
		assert.Equal(t, 0, d.Amps)
	})
}

func TestManualOverride(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	amps := 12

	t.Run("honored when advisor off", func(t *testing.T) {
		in := baseInput(now)
		in.Settings.ManualAmpsOverride = &amps
		d := Decide(in)
		assert.Equal(t, 12, d.Amps)
		assert.Equal(t, ModeManualOverride, d.Mode)
	})

	t.Run("ignored while advisor on", func(t *testing.T) {
		in := baseInput(now)
		in.Settings.AIEnabled = true
		in.Settings.ManualAmpsOverride = &amps
		d := Decide(in)
		assert.NotEqual(t, ModeManualOverride, d.Mode)
	})

	t.Run("below hardware minimum pauses", func(t *testing.T) {
		for _, a := range []int{1, 2, 3, 4} {
			low := a
			in := baseInput(now)
			in.Settings.ManualAmpsOverride = &low
			d := Decide(in)
			assert.Equal(t, 0, d.Amps, "override of %dA", a)
			assert.Equal(t, ModeManualOverride, d.Mode)
		}
	})

	t.Run("zero pauses", func(t *testing.T) {
		zero := 0
		in := baseInput(now)
		in.Settings.ManualAmpsOverride = &zero
		d := Decide(in)
		assert.Equal(t, 0, d.Amps)
	})
}

func TestAISetpoint(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("fresh recommendation taken verbatim", func(t *testing.T) {
		in := baseInput(now)
		in.Settings.AIEnabled = true
		in.Recommendation = &types.Recommendation{Amps: 14, CreatedAt: now.Add(-100 * time.Second)}
		d := Decide(in)
		assert.Equal(t, 14, d.Amps)
		assert.Equal(t, ModeAI, d.Mode)
	})

	t.Run("expired recommendation falls through to rules", func(t *testing.T) {
		in := baseInput(now)
		in.Settings.AIEnabled = true
		in.Recommendation = &types.Recommendation{Amps: 14, CreatedAt: now.Add(-360 * time.Second)}
		d := Decide(in)
		assert.Equal(t, ModeSolarFirst, d.Mode)
		assert.NotEqual(t, 14, d.Amps)
	})

	t.Run("nil recommendation falls through", func(t *testing.T) {
		in := baseInput(now)
		in.Settings.AIEnabled = true
		d := Decide(in)
		assert.Equal(t, ModeSolarFirst, d.Mode)
	})
}

func TestNoLimitsPassthrough(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	in := baseInput(now)
	in.Settings.DailyGridBudgetKWH = 0
	in.Settings.MaxGridImportW = 0
	d := Decide(in)
	assert.Equal(t, NoCommand, d.Amps)
	assert.Equal(t, ModeNoLimits, d.Mode)
}

func TestSolarFirst(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("surplus sets amps", func(t *testing.T) {
		// 3000W solar, 800W household, 240V circuit: 2200/240 = 9A.
		in := baseInput(now)
		d := Decide(in)
		assert.Equal(t, 9, d.Amps)
		assert.Equal(t, ModeSolarFirst, d.Mode)
	})

	t.Run("pauses below hardware minimum", func(t *testing.T) {
		in := baseInput(now)
		in.SmoothedAvailableW = 900 // 3.75A
		d := Decide(in)
		assert.Equal(t, 0, d.Amps, "never trickle below 5A")
	})

	t.Run("no surplus pauses", func(t *testing.T) {
		in := baseInput(now)
		in.SmoothedAvailableW = -500
		d := Decide(in)
		assert.Equal(t, 0, d.Amps)
	})

	t.Run("clamps to maximum", func(t *testing.T) {
		in := baseInput(now)
		in.SmoothedAvailableW = 12000 // 50A worth of surplus
		d := Decide(in)
		assert.Equal(t, 32, d.Amps)
	})
}

func TestDeparture(t *testing.T) {
	now := time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)

	departureInput := func() Input {
		in := baseInput(now)
		in.Settings.ChargingStrategy = types.StrategyDeparture
		in.Settings.DepartureTime = "08:00"
		in.MinutesToDeparture = 120
		return in
	}

	t.Run("infeasible deadline flagged", func(t *testing.T) {
		// 20 point gap on a 75kWh pack is 15kWh in 2h at 240V: needs 32A.
		in := departureInput()
		in.Vehicle.BatteryLevel = 60
		d := Decide(in)
		assert.Equal(t, 32, d.Amps)
		assert.True(t, d.MayNotReach)
		assert.Equal(t, ModeDepartureUrgent, d.Mode)
	})

	t.Run("comfortable deadline floors at minimum need", func(t *testing.T) {
		// 4 point gap is 3kWh in 2h at 240V: 6.25A, ceil 7A. No solar
		// surplus and a 2400W import limit gives a 10A baseline.
		in := departureInput()
		in.Vehicle.BatteryLevel = 76
		in.SmoothedAvailableW = 0
		in.Settings.MaxGridImportW = 2400
		d := Decide(in)
		assert.Equal(t, 10, d.Amps)
		assert.False(t, d.MayNotReach)
	})

	t.Run("minimum enforced as floor over weak baseline", func(t *testing.T) {
		// Baseline would be 0 (no surplus, budget exhausted would stop
		// earlier, so remaining budget but tiny import limit).
		in := departureInput()
		in.Vehicle.BatteryLevel = 60
		in.MinutesToDeparture = 600 // 10h: 15kWh needs 6.25A -> 7A
		in.SmoothedAvailableW = 0
		in.Settings.MaxGridImportW = 480 // 2A baseline
		d := Decide(in)
		assert.Equal(t, 7, d.Amps, "departure minimum floors the baseline")
	})

	t.Run("raises to five instead of pausing", func(t *testing.T) {
		in := departureInput()
		in.Vehicle.BatteryLevel = 79 // tiny gap, tiny minimum
		in.SmoothedAvailableW = 0
		in.Settings.MaxGridImportW = 720 // 3A baseline
		d := Decide(in)
		assert.Equal(t, 5, d.Amps, "departure mode trickles at the minimum rather than pausing")
	})

	t.Run("deadline passed charges at maximum", func(t *testing.T) {
		in := departureInput()
		in.MinutesToDeparture = -30
		d := Decide(in)
		assert.Equal(t, 32, d.Amps)
		assert.True(t, d.DeparturePassed)
		assert.Equal(t, ModeDeparturePassed, d.Mode)
	})

	t.Run("already at target uses baseline only", func(t *testing.T) {
		in := departureInput()
		in.Vehicle.BatteryLevel = 85
		in.SmoothedAvailableW = 2200
		in.Settings.MaxGridImportW = 0
		d := Decide(in)
		// No minimum applies; baseline is unlimited import so max amps.
		assert.Equal(t, 32, d.Amps)
		assert.Equal(t, ModeTargetReached, d.Mode)
	})

	t.Run("deadline passed at target stays on baseline", func(t *testing.T) {
		// A passed deadline with no SoC gap never forces max charge.
		in := departureInput()
		in.Vehicle.BatteryLevel = 85
		in.MinutesToDeparture = -30
		in.SmoothedAvailableW = 0
		in.Settings.MaxGridImportW = 2400
		d := Decide(in)
		assert.Equal(t, 10, d.Amps)
		assert.Equal(t, ModeTargetReached, d.Mode)
		assert.True(t, d.DeparturePassed)
	})
}

func TestImportThrottle(t *testing.T) {
	t.Run("no limit is a passthrough", func(t *testing.T) {
		assert.Equal(t, 20, importThrottle(20, 10, 5000, 0, 240))
	})

	t.Run("over limit backs off from current", func(t *testing.T) {
		// 1000W over a 2000W limit at 240V: shed ceil(1000/240)=5A.
		assert.Equal(t, 11, importThrottle(20, 16, 3000, 2000, 240))
	})

	t.Run("over limit floors at zero", func(t *testing.T) {
		assert.Equal(t, 0, importThrottle(20, 2, 5000, 1000, 240))
	})

	t.Run("below band raises by headroom", func(t *testing.T) {
		// 500W import against a 2000W limit: 1500W headroom = 6A.
		assert.Equal(t, 16, importThrottle(20, 10, 500, 2000, 240))
	})

	t.Run("inside band holds steady", func(t *testing.T) {
		// 1700W import is 85% of the 2000W limit: hysteresis holds.
		assert.Equal(t, 10, importThrottle(20, 10, 1700, 2000, 240))
	})

	t.Run("target is always a ceiling", func(t *testing.T) {
		assert.Equal(t, 8, importThrottle(8, 10, 500, 2000, 240))
	})
}
