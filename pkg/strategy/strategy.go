// Package strategy turns the current readings, budget state and advisor
// output into a single amperage setpoint with a human-readable mode label.
package strategy

import (
	"math"
	"time"

	"github.com/alwayssunny/alwayssunny/pkg/budget"
	"github.com/alwayssunny/alwayssunny/pkg/types"
	"github.com/alwayssunny/alwayssunny/pkg/vehicle"
)

// NoCommand is the sentinel amps value meaning the engine deliberately does
// not interfere with the vehicle's native charging behavior.
const NoCommand = -1

// importHysteresisLow is the fraction of the import limit below which the
// throttle allows amperage increases. Between this and the limit it holds
// steady to prevent oscillation.
const importHysteresisLow = 0.8

// Mode labels shown on the dashboard.
const (
	ModeUnplugged       = "Idle – Unplugged"
	ModeAway            = "Away – Not Managing"
	ModeDataUnavailable = "Suspended – Data Unavailable"
	ModeBudgetCutoff    = "Cutoff – Grid Budget Reached"
	ModeManualOverride  = "Manual Override"
	ModeAI              = "AI Advisor"
	ModeNoLimits        = "Unmanaged – No Limits"
	ModeSolarFirst      = "Solar-first"
	ModeDeparture       = "Ready by Departure"
	ModeDepartureUrgent = "Ready by Departure – Urgent"
	ModeDeparturePassed = "Departure Passed – Max Charge"
	ModeTargetReached   = "Target SoC Reached"
)

// Input is everything the engine needs for one decision.
type Input struct {
	Now      time.Time
	Settings types.Settings

	Solar   types.SolarSnapshot
	Vehicle types.VehicleSnapshot
	Budget  budget.Status

	// Fresh advisor recommendation, nil when the caller must use rules.
	Recommendation *types.Recommendation

	AtHome     bool
	DataUsable bool

	// 3-sample rolling average of solar minus household watts.
	SmoothedAvailableW float64

	// Minutes until the configured departure deadline. Negative means the
	// deadline already passed today (or none is configured, in which case
	// the departure strategy is never selected).
	MinutesToDeparture float64
}

// Decision is the engine's output for one tick.
type Decision struct {
	// Amps is the target amperage: 0 pauses charging, NoCommand leaves the
	// vehicle alone.
	Amps int
	Mode string

	// Stop requests an explicit stop command (budget cutoff).
	Stop bool

	// Departure feasibility flags.
	MayNotReach     bool
	DeparturePassed bool
}

// Decide runs the hard stops and the strategy priority chain. First match
// wins; later strategies never see the tick.
func Decide(in Input) Decision {
	// Hard stops come first. Once one fires nothing later in the tick may
	// issue a start or resume.
	if !in.Vehicle.PlugConnected {
		return Decision{Amps: NoCommand, Mode: ModeUnplugged}
	}
	if !in.AtHome {
		return Decision{Amps: NoCommand, Mode: ModeAway}
	}
	if !in.DataUsable {
		return Decision{Amps: NoCommand, Mode: ModeDataUnavailable}
	}
	if in.Budget.Exhausted {
		return Decision{Amps: 0, Mode: ModeBudgetCutoff, Stop: true}
	}

	// 1. Manual override, only while the advisor is off. An override below
	// the hardware minimum cannot be honored as a rate, so it pauses
	// charging instead.
	if !in.Settings.AIEnabled && in.Settings.ManualAmpsOverride != nil {
		amps := *in.Settings.ManualAmpsOverride
		if amps > 0 && amps < vehicle.MinChargeAmps {
			amps = 0
		}
		return Decision{Amps: amps, Mode: ModeManualOverride}
	}

	// 2. A fresh advisor setpoint is taken verbatim; the advisor already
	// weighed the constraints.
	if in.Settings.AIEnabled && in.Recommendation != nil && in.Recommendation.Fresh(in.Now) {
		return Decision{Amps: in.Recommendation.Amps, Mode: ModeAI}
	}

	// 3. With neither a budget nor an import limit configured there is
	// nothing to optimize against: leave the vehicle's native behavior
	// alone.
	if in.Settings.DailyGridBudgetKWH <= 0 && in.Settings.MaxGridImportW <= 0 {
		return Decision{Amps: NoCommand, Mode: ModeNoLimits}
	}

	if in.Settings.ChargingStrategy == types.StrategyDeparture && in.Settings.DepartureTime != "" {
		return decideDeparture(in)
	}
	return decideSolarFirst(in)
}

func decideSolarFirst(in Input) Decision {
	voltage := in.Settings.CircuitVoltage
	target := clampAmps(int(in.SmoothedAvailableW / float64(voltage)))
	target = importThrottle(target, in.Vehicle.ChargerActualAmps, in.Solar.GridImportW, in.Settings.MaxGridImportW, voltage)

	// Never trickle below the hardware minimum: pause instead.
	if target > 0 && target < vehicle.MinChargeAmps {
		target = 0
	}
	return Decision{Amps: target, Mode: ModeSolarFirst}
}

func decideDeparture(in Input) Decision {
	voltage := in.Settings.CircuitVoltage
	gapPct := in.Settings.TargetSOC - in.Vehicle.BatteryLevel

	if in.MinutesToDeparture < 0 && gapPct > 0 {
		// Deadline already elapsed with ground to make up: charge at
		// maximum regardless of solar.
		return Decision{Amps: vehicle.MaxChargeAmps, Mode: ModeDeparturePassed, DeparturePassed: true}
	}

	// Minimum amps needed to close the SoC gap before departure.
	var minAmps int
	var mayNotReach bool
	if gapPct > 0 && in.MinutesToDeparture > 0 {
		neededKWH := float64(gapPct) / 100 * in.Settings.BatteryCapacityKWH
		hours := in.MinutesToDeparture / 60
		required := neededKWH * 1000 / (hours * float64(voltage))
		minAmps = int(math.Ceil(required))
		if minAmps >= vehicle.MaxChargeAmps {
			minAmps = vehicle.MaxChargeAmps
			mayNotReach = true
		}
		if minAmps < vehicle.MinChargeAmps {
			minAmps = vehicle.MinChargeAmps
		}
	}

	// Baseline is solar surplus plus, while budget remains, an allowance up
	// to the import limit.
	baselineW := in.SmoothedAvailableW
	if in.Budget.Unlimited || in.Budget.RemainingKWH > 0 {
		if in.Settings.MaxGridImportW > 0 {
			baselineW += in.Settings.MaxGridImportW
		} else {
			baselineW = float64(vehicle.MaxChargeAmps * voltage)
		}
	}
	target := clampAmps(int(baselineW / float64(voltage)))
	target = importThrottle(target, in.Vehicle.ChargerActualAmps, in.Solar.GridImportW, in.Settings.MaxGridImportW, voltage)

	// The departure minimum is a floor over the baseline: the deadline
	// outranks solar purity.
	if target < minAmps {
		target = minAmps
	}
	if target > 0 && target < vehicle.MinChargeAmps {
		target = vehicle.MinChargeAmps
	}

	mode := ModeDeparture
	switch {
	case gapPct <= 0:
		mode = ModeTargetReached
	case mayNotReach:
		mode = ModeDepartureUrgent
	}
	return Decision{Amps: target, Mode: mode, MayNotReach: mayNotReach, DeparturePassed: in.MinutesToDeparture < 0}
}

// importThrottle applies the bidirectional grid-import limit as a ceiling
// over the target. Above the limit it backs off from the current amps, below
// 80% of the limit it raises toward the target by the available headroom,
// and inside the band it holds steady.
func importThrottle(target, current int, importW, limitW float64, voltage int) int {
	if limitW <= 0 || voltage <= 0 {
		return target
	}
	switch {
	case importW > limitW:
		amps := current - int(math.Ceil((importW-limitW)/float64(voltage)))
		if amps < 0 {
			amps = 0
		}
		return min(target, amps)
	case importW < importHysteresisLow*limitW:
		headroom := int((limitW - importW) / float64(voltage))
		return min(target, current+headroom)
	default:
		return min(target, current)
	}
}

func clampAmps(amps int) int {
	if amps < 0 {
		return 0
	}
	if amps > vehicle.MaxChargeAmps {
		return vehicle.MaxChargeAmps
	}
	return amps
}
