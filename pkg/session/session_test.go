package session

import (
	"testing"
	"time"

	"github.com/alwayssunny/alwayssunny/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseInput(now time.Time) TickInput {
	return TickInput{
		Now:             now,
		PluggedIn:       true,
		AtHome:          true,
		ChargingState:   types.ChargingStateCharging,
		VehicleSOC:      50,
		TargetSOC:       80,
		MeterKWH:        100.0,
		ElectricityRate: 10.83,
	}
}

func TestTrackerStart(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	t.Run("plug in at home", func(t *testing.T) {
		tr := &Tracker{}
		in := baseInput(now)
		ev, rec := tr.Tick(in)
		assert.Equal(t, EventStarted, ev)
		require.NotNil(t, rec)
		assert.Equal(t, 50, rec.StartSOC)
		assert.Equal(t, 80, rec.TargetSOC)
		assert.Equal(t, now.UTC().Format(time.RFC3339), rec.ID)
		require.NotNil(t, tr.Active())
		assert.Equal(t, 100.0, tr.Active().StartGridKWH)
		assert.Equal(t, rec.ID, tr.Active().ID)
	})

	t.Run("plug in away from home", func(t *testing.T) {
		tr := &Tracker{}
		in := baseInput(now)
		in.AtHome = false
		ev, _ := tr.Tick(in)
		assert.Equal(t, EventNone, ev)
		assert.Nil(t, tr.Active())
	})

	t.Run("charging transition while already plugged", func(t *testing.T) {
		tr := &Tracker{}
		in := baseInput(now)
		in.ChargingState = types.ChargingStateStopped
		tr.prevPlugged = true
		ev, _ := tr.Tick(in)
		assert.Equal(t, EventNone, ev)

		in.Now = now.Add(time.Minute)
		in.ChargingState = types.ChargingStateCharging
		ev, rec := tr.Tick(in)
		assert.Equal(t, EventStarted, ev)
		require.NotNil(t, rec)
	})

	t.Run("not plugged in", func(t *testing.T) {
		tr := &Tracker{}
		in := baseInput(now)
		in.PluggedIn = false
		ev, _ := tr.Tick(in)
		assert.Equal(t, EventNone, ev)
	})
}

func TestTrackerCounterReset(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tr := &Tracker{}
	in := baseInput(now)
	ev, _ := tr.Tick(in)
	require.Equal(t, EventStarted, ev)

	// Counter climbs to 4.2, resets to 0 on an interruption, then climbs
	// to 1.1. Session total must read 5.3, not 1.1.
	in.Now = in.Now.Add(time.Minute)
	in.EnergyAddedKWH = 4.2
	ev, _ = tr.Tick(in)
	require.Equal(t, EventUpdated, ev)
	assert.InDelta(t, 4.2, tr.Active().KWHAdded, 0.001)

	in.Now = in.Now.Add(time.Minute)
	in.EnergyAddedKWH = 0.0
	tr.Tick(in)
	assert.InDelta(t, 4.2, tr.Active().KWHAdded, 0.001)

	in.Now = in.Now.Add(time.Minute)
	in.EnergyAddedKWH = 1.1
	tr.Tick(in)
	assert.InDelta(t, 5.3, tr.Active().KWHAdded, 0.001)
}

func TestTrackerCounterJitter(t *testing.T) {
	// A dip smaller than the reset threshold is jitter, not a reset.
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tr := &Tracker{}
	in := baseInput(now)
	tr.Tick(in)

	in.Now = in.Now.Add(time.Minute)
	in.EnergyAddedKWH = 2.0
	tr.Tick(in)

	in.Now = in.Now.Add(time.Minute)
	in.EnergyAddedKWH = 1.95
	tr.Tick(in)
	assert.InDelta(t, 1.95, tr.Active().KWHAdded, 0.001)
}

func TestTrackerSolarAttribution(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tr := &Tracker{}
	in := baseInput(now)
	tr.Tick(in)

	// 7200W of solar to the vehicle for 30 minutes is 3.6 kWh.
	in.SolarToVehicleW = 7200
	for i := 1; i <= 30; i++ {
		in.Now = now.Add(time.Duration(i) * time.Minute)
		in.EnergyAddedKWH = float64(i) * 0.15
		tr.Tick(in)
	}
	a := tr.Active()
	require.NotNil(t, a)
	assert.InDelta(t, 3.6, a.SolarKWH, 0.01)
	assert.InDelta(t, 4.5, a.KWHAdded, 0.001)
	assert.InDelta(t, 80.0, a.SolarPct, 0.5)
	assert.InDelta(t, 3.6*10.83, a.SavedAmount, 0.1)
}

func TestTrackerSolarNeverExceedsAdded(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tr := &Tracker{}
	in := baseInput(now)
	tr.Tick(in)

	// Huge solar flow against a slow vehicle counter: attribution clamps
	// to what the vehicle actually took in.
	in.SolarToVehicleW = 20000
	for i := 1; i <= 60; i++ {
		in.Now = now.Add(time.Duration(i) * time.Minute)
		in.EnergyAddedKWH = float64(i) * 0.05
		tr.Tick(in)
		a := tr.Active()
		assert.LessOrEqual(t, a.SolarKWH, a.KWHAdded)
		assert.LessOrEqual(t, a.SolarPct, 100.0)
	}
}

func TestTrackerGridDelta(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tr := &Tracker{}
	in := baseInput(now)
	tr.Tick(in)

	in.Now = in.Now.Add(10 * time.Minute)
	in.MeterKWH = 102.5
	tr.Tick(in)
	assert.InDelta(t, 2.5, tr.Active().GridKWH, 0.001)

	// Meter going backwards clamps to zero instead of a negative delta.
	in.Now = in.Now.Add(time.Minute)
	in.MeterKWH = 99.0
	tr.Tick(in)
	assert.Equal(t, 0.0, tr.Active().GridKWH)
}

func TestTrackerEnd(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	t.Run("unplug ends", func(t *testing.T) {
		tr := &Tracker{}
		in := baseInput(now)
		tr.Tick(in)

		in.Now = now.Add(30 * time.Minute)
		in.EnergyAddedKWH = 3.0
		in.VehicleSOC = 62
		in.PluggedIn = false
		ev, rec := tr.Tick(in)
		assert.Equal(t, EventEnded, ev)
		require.NotNil(t, rec)
		assert.Equal(t, now.UTC().Format(time.RFC3339), rec.ID)
		assert.Equal(t, 62, rec.EndSOC)
		assert.Equal(t, 30, rec.DurationMins)
		assert.InDelta(t, 3.0, rec.KWHAdded, 0.001)
		assert.Nil(t, tr.Active())
	})

	t.Run("charge complete ends", func(t *testing.T) {
		tr := &Tracker{}
		in := baseInput(now)
		tr.Tick(in)

		in.Now = now.Add(time.Hour)
		in.ChargingState = types.ChargingStateComplete
		ev, rec := tr.Tick(in)
		assert.Equal(t, EventEnded, ev)
		require.NotNil(t, rec)
	})

	t.Run("reaching target SoC does not end", func(t *testing.T) {
		tr := &Tracker{}
		in := baseInput(now)
		tr.Tick(in)

		in.Now = now.Add(time.Hour)
		in.VehicleSOC = 85 // past the 80% target
		ev, _ := tr.Tick(in)
		assert.Equal(t, EventUpdated, ev)
		assert.NotNil(t, tr.Active())
	})
}

func TestTrackerRecover(t *testing.T) {
	now := time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC)
	tr := &Tracker{}
	tr.Recover(types.SessionRecord{
		ID:        "sess9",
		StartedAt: now.Add(-2 * time.Hour),
		StartSOC:  40,
		TargetSOC: 80,
		KWHAdded:  6.0,
		SolarKWH:  4.0,
	}, 95.0, 10.83)

	require.True(t, tr.Recovered())
	a := tr.Active()
	require.NotNil(t, a)
	assert.Equal(t, "sess9", a.ID)

	t.Run("counter kept running", func(t *testing.T) {
		in := baseInput(now)
		in.MeterKWH = 97.0
		in.EnergyAddedKWH = 6.3
		ev, _ := tr.Tick(in)
		assert.Equal(t, EventUpdated, ev)
		assert.InDelta(t, 6.3, tr.Active().KWHAdded, 0.001)
		assert.InDelta(t, 2.0, tr.Active().GridKWH, 0.001)
	})
}

func TestTrackerRecoverCounterReset(t *testing.T) {
	// The vehicle counter reset while the process was down: the persisted
	// total becomes an offset so progress is not lost.
	now := time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC)
	tr := &Tracker{}
	tr.Recover(types.SessionRecord{
		ID:        "sess9",
		StartedAt: now.Add(-2 * time.Hour),
		KWHAdded:  6.0,
	}, 95.0, 10.83)

	in := baseInput(now)
	in.EnergyAddedKWH = 0.5
	tr.Tick(in)
	assert.InDelta(t, 6.5, tr.Active().KWHAdded, 0.001)
}

func TestTrackerRecoverIdempotent(t *testing.T) {
	tr := &Tracker{}
	tr.MarkRecovered()
	tr.Recover(types.SessionRecord{ID: "late"}, 0, 0)
	assert.Nil(t, tr.Active())
}

func TestActiveView(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	a := &Active{
		StartedAt:   now.Add(-45 * time.Minute),
		KWHAdded:    5.0,
		SolarKWH:    4.0,
		GridKWH:     1.0,
		SolarPct:    80.0,
		SavedAmount: 43.32,
	}
	v := a.View(now)
	assert.Equal(t, 45, v.ElapsedMins)
	assert.Equal(t, 80.0, v.SolarPct)
}
