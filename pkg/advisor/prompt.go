package advisor

import (
	"fmt"
	"strings"
	"time"

	"github.com/alwayssunny/alwayssunny/pkg/budget"
	"github.com/alwayssunny/alwayssunny/pkg/types"
)

// Input is the context bundle the advisor reasons over for one decision.
type Input struct {
	Now      time.Time
	Settings types.Settings
	Creds    types.Credentials

	Solar    types.SolarSnapshot
	Vehicle  types.VehicleSnapshot
	Forecast types.ForecastSnapshot
	Budget   budget.Status

	AtHome bool
	Night  bool

	SessionActive   bool
	SessionStartSOC int
	SessionSolarPct float64

	// Minutes until the configured departure deadline, negative when no
	// deadline applies.
	MinutesToDeparture float64
}

const systemPrompt = `You are the charging controller for an electric vehicle on a home circuit with solar panels. Decide how many amps the vehicle should draw right now.

Rules:
- Respond with JSON only: {"amps": <int>, "reasoning": "<one or two sentences>", "confidence": "low"|"medium"|"high"}.
- amps must be 0 (pause charging) or between 5 and 32. The charger cannot sustain less than 5 amps.
- Prefer solar surplus over grid import. Respect the daily grid budget and the import limit.
- With a departure deadline, reaching the target charge on time outweighs solar purity.`

// buildPrompt renders the user prompt from the current readings.
func buildPrompt(in Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Time: %s\n", in.Now.Format("15:04"))
	fmt.Fprintf(&b, "Strategy: %s, target charge %d%%\n", in.Settings.ChargingStrategy, in.Settings.TargetSOC)

	fmt.Fprintf(&b, "\nSolar: producing %.0fW, household using %.0fW, surplus %.0fW\n",
		in.Solar.SolarW, in.Solar.HouseholdW, in.Solar.SolarW-in.Solar.HouseholdW)
	fmt.Fprintf(&b, "Grid: importing %.0fW, exporting %.0fW\n", in.Solar.GridImportW, in.Solar.GridExportW)

	if in.Settings.DailyGridBudgetKWH > 0 {
		fmt.Fprintf(&b, "Grid budget: %.1f of %.1f kWh used today (%.0f%%), %.1f kWh remaining\n",
			in.Budget.UsedKWH, in.Settings.DailyGridBudgetKWH, in.Budget.Pct(), in.Budget.RemainingKWH)
	} else {
		b.WriteString("Grid budget: unlimited\n")
	}
	if in.Settings.MaxGridImportW > 0 {
		fmt.Fprintf(&b, "Grid import limit: %.0fW\n", in.Settings.MaxGridImportW)
	}

	fmt.Fprintf(&b, "\nVehicle: battery %d%%, charging at %dA (%.1fkW), state %s\n",
		in.Vehicle.BatteryLevel, in.Vehicle.ChargerActualAmps, in.Vehicle.ChargingKW, in.Vehicle.ChargingState)
	fmt.Fprintf(&b, "Circuit voltage: %dV\n", in.Settings.CircuitVoltage)

	if in.MinutesToDeparture >= 0 {
		fmt.Fprintf(&b, "Departure in %.0f minutes\n", in.MinutesToDeparture)
	}

	if !in.Forecast.Sunset.IsZero() {
		fmt.Fprintf(&b, "\nDaylight left: %.1f hours (sunset %s)\n",
			in.Forecast.HoursUntilSunset(in.Now), in.Forecast.Sunset.Format("15:04"))
	}
	if in.Forecast.PeakWindowStart != "" {
		fmt.Fprintf(&b, "Peak solar window: %s-%s\n", in.Forecast.PeakWindowStart, in.Forecast.PeakWindowEnd)
	}

	if in.SessionActive {
		fmt.Fprintf(&b, "\nSession: started at %d%% battery, %.0f%% of the energy so far came from solar\n",
			in.SessionStartSOC, in.SessionSolarPct)
	}

	b.WriteString("\nHow many amps should the vehicle draw right now?")
	return b.String()
}
