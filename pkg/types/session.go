package types

import "time"

// CurrentSnapshotVersion is the current version of stored tick snapshots.
const CurrentSnapshotVersion = 1

// SessionRecord is the persisted form of a charging session. An active
// session has a zero EndedAt; it is finalized exactly once on session end.
type SessionRecord struct {
	ID        string    `json:"id,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitempty"`

	StartSOC  int `json:"startSOC"`
	EndSOC    int `json:"endSOC,omitempty"`
	TargetSOC int `json:"targetSOC"`

	DurationMins    int     `json:"durationMins,omitempty"`
	KWHAdded        float64 `json:"kwhAdded"`
	SolarKWH        float64 `json:"solarKWH"`
	GridKWH         float64 `json:"gridKWH"`
	SolarPct        float64 `json:"solarPct"`
	SavedAmount     float64 `json:"savedAmount"`
	ElectricityRate float64 `json:"electricityRate"`
}

// SessionView is the live session summary shown on the dashboard.
type SessionView struct {
	StartedAt   time.Time `json:"startedAt"`
	ElapsedMins int       `json:"elapsedMins"`
	KWHAdded    float64   `json:"kwhAdded"`
	SolarKWH    float64   `json:"solarKWH"`
	GridKWH     float64   `json:"gridKWH"`
	SolarPct    float64   `json:"solarPct"`
	SavedAmount float64   `json:"savedAmount"`
}

// Snapshot is one per-tick record of the whole system, persisted for the
// history and session-detail views.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	SolarW      float64 `json:"solarW"`
	HouseholdW  float64 `json:"householdW"`
	GridImportW float64 `json:"gridImportW"`
	BatterySOC  int     `json:"batterySOC"`
	BatteryW    float64 `json:"batteryW"`

	VehicleSOC  int `json:"vehicleSOC"`
	VehicleAmps int `json:"vehicleAmps"` // amps decided this tick, -1 when no command

	AIRecommendedAmps int    `json:"aiRecommendedAmps,omitempty"`
	AIReasoning       string `json:"aiReasoning,omitempty"`
	AIConfidence      string `json:"aiConfidence,omitempty"`

	Mode string `json:"mode"`
}

// Checkpoint is loop state persisted so restarts do not lose the daily
// grid baseline or the active session's meter baseline. It is written
// before first use of a fresh baseline.
type Checkpoint struct {
	GridBaselineDate    string  `json:"gridBaselineDate"` // YYYY-MM-DD local
	GridBaselineKWH     float64 `json:"gridBaselineKWH"`
	SessionStartGridKWH float64 `json:"sessionStartGridKWH"`
}
