package loop

import (
	"sync"
	"time"

	"github.com/alwayssunny/alwayssunny/pkg/advisor"
	"github.com/alwayssunny/alwayssunny/pkg/budget"
	"github.com/alwayssunny/alwayssunny/pkg/session"
	"github.com/alwayssunny/alwayssunny/pkg/strategy"
	"github.com/alwayssunny/alwayssunny/pkg/types"
)

// availableSamples is the size of the rolling available-watts buffer fed to
// the strategy engine.
const availableSamples = 3

// State is the in-memory loop state for one user. The trackers and buffers
// are owned exclusively by the tick goroutine and never synchronized; mu
// guards only the display fields committed at the end of each tick, which is
// all ProjectStatus reads.
type State struct {
	UserID string

	// last-known-good snapshots, kept across failed fetches. Tick-owned.
	solar    *types.SolarSnapshot
	vehicle  *types.VehicleSnapshot
	location *types.LocationSnapshot
	forecast *types.ForecastSnapshot

	lastLocationFetch time.Time
	lastForecastFetch time.Time

	availBuf []float64

	budget  budget.Tracker
	session session.Tracker
	advisor *advisor.Manager

	checkpoint       types.Checkpoint
	checkpointLoaded bool

	settings       types.Settings
	settingsLoaded bool
	creds          types.Credentials

	lastAmpsSent int

	mu   sync.Mutex
	view types.StatusView
}

func newState(userID string, advisors *advisor.Registry) *State {
	return &State{
		UserID:       userID,
		advisor:      advisor.NewManager(advisors),
		lastAmpsSent: strategy.NoCommand,
		view: types.StatusView{
			Mode: strategy.ModeUnplugged,
		},
	}
}

// pushAvailable appends one available-watts sample to the rolling buffer.
func (st *State) pushAvailable(w float64) {
	st.availBuf = append(st.availBuf, w)
	if len(st.availBuf) > availableSamples {
		st.availBuf = st.availBuf[len(st.availBuf)-availableSamples:]
	}
}

// smoothedAvailable returns the rolling average of the buffer, 0 when empty.
func (st *State) smoothedAvailable() float64 {
	if len(st.availBuf) == 0 {
		return 0
	}
	var sum float64
	for _, w := range st.availBuf {
		sum += w
	}
	return sum / float64(len(st.availBuf))
}

// commit projects the tick's outcome into the dashboard view. Called once on
// every tick exit path, with mode and presence describing the outcome.
func (st *State) commit(now time.Time, mode string, chargerStatus types.ChargerStatus, method types.DetectionMethod, budgetStatus budget.Status) {
	view := types.StatusView{
		Mode:                mode,
		ChargerStatus:       chargerStatus,
		HomeDetectionMethod: method,

		AIEnabled: st.settings.AIEnabled,
		AIStatus:  st.advisor.Status(),

		TargetSOC:        st.settings.TargetSOC,
		ChargingStrategy: st.settings.ChargingStrategy,
		DepartureTime:    st.settings.DepartureTime,

		GridBudgetTotalKWH: st.settings.DailyGridBudgetKWH,
		GridBudgetUsedKWH:  budgetStatus.UsedKWH,
		GridBudgetPct:      budgetStatus.Pct(),

		Timestamp: now,
	}

	if st.solar != nil {
		view.SolarW = st.solar.SolarW
		view.HouseholdW = st.solar.HouseholdW
		view.GridImportW = st.solar.GridImportW
		view.BatterySOC = int(st.solar.BatterySOC)
		view.BatteryW = st.solar.BatteryW
		view.SolarDataAgeSecs = int(st.solar.Age(now).Seconds())
	}
	if st.vehicle != nil {
		view.VehicleSOC = st.vehicle.BatteryLevel
		view.VehicleAmps = st.vehicle.ChargerActualAmps
		view.VehicleChargingKW = st.vehicle.ChargingKW
		view.PlugConnected = st.vehicle.PlugConnected
		view.ChargingState = st.vehicle.ChargingState
	}
	if rec := st.advisor.Last(); rec != nil {
		view.AIRecommendedAmps = rec.Amps
		view.AIReasoning = rec.Reasoning
		view.AIConfidence = rec.Confidence
		view.AITriggerReason = rec.TriggerReason
		view.AILastUpdatedSecs = int(rec.Age(now).Seconds())
	}
	if active := st.session.Active(); active != nil {
		v := active.View(now)
		view.Session = &v
	}
	if st.forecast != nil {
		f := *st.forecast
		view.Forecast = &f
	}

	st.mu.Lock()
	st.view = view
	st.mu.Unlock()
}

// ProjectStatus returns the externally visible dashboard shape derived from
// the loop state. It never mutates; a nil state yields the zero view.
func ProjectStatus(st *State) types.StatusView {
	if st == nil {
		return types.StatusView{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.view
}
