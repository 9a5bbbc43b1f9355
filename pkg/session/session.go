// Package session tracks the lifecycle and energy accounting of a single
// charging session: start/end detection, grid vs solar attribution, and the
// money saved by charging from solar.
package session

import (
	"time"

	"github.com/alwayssunny/alwayssunny/pkg/types"
)

// counterResetThresholdKWH is how far the vehicle's energy-added counter must
// drop before we treat it as a reset rather than jitter. The counter resets
// to zero whenever charging is interrupted and resumed.
const counterResetThresholdKWH = 0.1

// Event reports what the tracker observed on a tick.
type Event int

const (
	EventNone Event = iota
	EventStarted
	EventUpdated
	EventEnded
)

// Active is the in-memory state of a session in progress.
type Active struct {
	// ID is the persisted record id: the RFC3339 UTC start time, matching
	// the storage document id convention.
	ID        string
	StartedAt time.Time
	StartSOC  int
	TargetSOC int
	// cumulative grid meter at session start
	StartGridKWH    float64
	ElectricityRate float64

	KWHAdded    float64
	GridKWH     float64
	SolarKWH    float64
	SolarPct    float64
	SavedAmount float64
	CurrentSOC  int

	// carry across vehicle counter resets
	counterOffset float64
	lastCounter   float64
	counterSeen   bool

	lastTick time.Time
}

// View returns the dashboard summary of the session.
func (a *Active) View(now time.Time) types.SessionView {
	return types.SessionView{
		StartedAt:   a.StartedAt,
		ElapsedMins: int(now.Sub(a.StartedAt).Minutes()),
		KWHAdded:    a.KWHAdded,
		SolarKWH:    a.SolarKWH,
		GridKWH:     a.GridKWH,
		SolarPct:    a.SolarPct,
		SavedAmount: a.SavedAmount,
	}
}

// Tracker manages session lifecycle for a single user. It is owned by that
// user's loop state and never synchronized.
type Tracker struct {
	active      *Active
	prevPlugged bool
	prevState   types.ChargingState
	recovered   bool
}

// TickInput is everything the tracker needs for one update.
type TickInput struct {
	Now             time.Time
	PluggedIn       bool
	AtHome          bool
	ChargingState   types.ChargingState
	VehicleSOC      int
	TargetSOC       int
	MeterKWH        float64 // cumulative grid import meter
	EnergyAddedKWH  float64 // vehicle's own counter, resets on interruption
	SolarToVehicleW float64 // solar power flowing to the vehicle right now
	ElectricityRate float64
}

// Active returns the session in progress, or nil.
func (t *Tracker) Active() *Active {
	return t.active
}

// Recovered reports whether crash recovery has been attempted.
func (t *Tracker) Recovered() bool {
	return t.recovered
}

// MarkRecovered records that recovery was checked and found nothing.
func (t *Tracker) MarkRecovered() {
	t.recovered = true
}

// Recover reconstructs an active session from its persisted record after a
// process restart, so restart does not reset session progress to zero.
// startGridKWH is the persisted meter baseline from the session's start.
func (t *Tracker) Recover(rec types.SessionRecord, startGridKWH, electricityRate float64) {
	if t.recovered || t.active != nil {
		return
	}
	t.recovered = true
	t.active = &Active{
		ID:              rec.ID,
		StartedAt:       rec.StartedAt,
		StartSOC:        rec.StartSOC,
		TargetSOC:       rec.TargetSOC,
		StartGridKWH:    startGridKWH,
		ElectricityRate: electricityRate,
		KWHAdded:        rec.KWHAdded,
		SolarKWH:        rec.SolarKWH,
		GridKWH:         rec.GridKWH,
	}
	t.prevPlugged = true
	t.prevState = types.ChargingStateCharging
}

// Tick advances the state machine. On EventStarted the returned record is the
// new session to persist; on EventEnded it is the finalized record.
func (t *Tracker) Tick(in TickInput) (Event, *types.SessionRecord) {
	defer func() {
		t.prevPlugged = in.PluggedIn
		t.prevState = in.ChargingState
	}()

	if t.active == nil {
		// Start on plug-in at home, or on a charging transition while
		// already plugged at home (new day, same plug-in).
		plugIn := in.PluggedIn && in.AtHome && !t.prevPlugged
		chargeStart := in.PluggedIn && in.AtHome &&
			in.ChargingState == types.ChargingStateCharging &&
			t.prevState != types.ChargingStateCharging
		if !plugIn && !chargeStart {
			return EventNone, nil
		}

		t.active = &Active{
			ID:              in.Now.UTC().Format(time.RFC3339),
			StartedAt:       in.Now,
			StartSOC:        in.VehicleSOC,
			TargetSOC:       in.TargetSOC,
			StartGridKWH:    in.MeterKWH,
			ElectricityRate: in.ElectricityRate,
			CurrentSOC:      in.VehicleSOC,
			lastTick:        in.Now,
		}
		rec := &types.SessionRecord{
			ID:              t.active.ID,
			StartedAt:       in.Now,
			StartSOC:        in.VehicleSOC,
			TargetSOC:       in.TargetSOC,
			ElectricityRate: in.ElectricityRate,
		}
		return EventStarted, rec
	}

	// Session end fires only on physical unplug or the vehicle reporting
	// Complete. Reaching the target SoC does not end a session: the user
	// may raise the target mid-session, and ending here would fight the
	// strategy engine's own stop command.
	t.active.ElectricityRate = in.ElectricityRate
	t.update(in)

	if !in.PluggedIn || in.ChargingState == types.ChargingStateComplete {
		a := t.active
		rec := &types.SessionRecord{
			ID:              a.ID,
			StartedAt:       a.StartedAt,
			EndedAt:         in.Now,
			StartSOC:        a.StartSOC,
			EndSOC:          a.CurrentSOC,
			TargetSOC:       a.TargetSOC,
			DurationMins:    int(in.Now.Sub(a.StartedAt).Minutes()),
			KWHAdded:        a.KWHAdded,
			SolarKWH:        a.SolarKWH,
			GridKWH:         a.GridKWH,
			SolarPct:        a.SolarPct,
			SavedAmount:     a.SavedAmount,
			ElectricityRate: a.ElectricityRate,
		}
		t.active = nil
		return EventEnded, rec
	}

	return EventUpdated, nil
}

// update accumulates one tick of energy accounting.
func (t *Tracker) update(in TickInput) {
	a := t.active
	a.CurrentSOC = in.VehicleSOC

	// Whole-session grid delta off the cumulative meter.
	a.GridKWH = in.MeterKWH - a.StartGridKWH
	if a.GridKWH < 0 {
		a.GridKWH = 0
	}

	// The vehicle's energy-added counter resets to zero on interruption.
	// Fold the pre-reset value into an offset so session totals stay
	// monotonic across interruptions.
	if !a.counterSeen {
		a.counterSeen = true
		// First observation (possibly after crash recovery): if the
		// persisted total exceeds the live counter, the counter reset
		// while we were down.
		if a.KWHAdded > in.EnergyAddedKWH+counterResetThresholdKWH {
			a.counterOffset = a.KWHAdded - in.EnergyAddedKWH
		}
	} else if in.EnergyAddedKWH < a.lastCounter-counterResetThresholdKWH {
		a.counterOffset += a.lastCounter
	}
	a.lastCounter = in.EnergyAddedKWH
	a.KWHAdded = a.counterOffset + in.EnergyAddedKWH

	// Solar attribution is integrated tick by tick rather than derived by
	// subtraction, so transient counter dips cannot inflate it.
	if a.lastTick.IsZero() {
		a.lastTick = in.Now
	}
	elapsedHours := in.Now.Sub(a.lastTick).Hours()
	a.lastTick = in.Now
	if elapsedHours > 0 && in.SolarToVehicleW > 0 {
		a.SolarKWH += in.SolarToVehicleW * elapsedHours / 1000
	}
	if a.SolarKWH > a.KWHAdded {
		a.SolarKWH = a.KWHAdded
	}

	if a.KWHAdded > 0 {
		a.SolarPct = a.SolarKWH / a.KWHAdded * 100
	} else {
		a.SolarPct = 0
	}
	a.SavedAmount = a.SolarKWH * a.ElectricityRate
}
