package types

import "time"

// ChargerStatus classifies where (and whether) the vehicle is plugged in.
type ChargerStatus string

const (
	ChargerNotConnected    ChargerStatus = "not_connected"
	ChargerAtHome          ChargerStatus = "charging_at_home"
	ChargerAway            ChargerStatus = "charging_away"
	ChargerLocationUnknown ChargerStatus = "location_unknown"
)

// DetectionMethod records which presence layer produced the answer.
type DetectionMethod string

const (
	DetectionNamedLocation DetectionMethod = "named_location"
	DetectionGPSProximity  DetectionMethod = "gps_proximity"
	DetectionNone          DetectionMethod = ""
)

// SolarTrend is the short-term direction of solar output.
type SolarTrend string

const (
	TrendUnknown SolarTrend = "unknown"
	TrendRising  SolarTrend = "rising"
	TrendStable  SolarTrend = "stable"
	TrendFalling SolarTrend = "falling"
)

// User represents a user of the system.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Admin bool   `json:"-"`
}

// StatusView is the externally visible dashboard shape. It is derived from
// loop state and never mutates it.
type StatusView struct {
	Mode                string          `json:"mode"`
	ChargerStatus       ChargerStatus   `json:"chargerStatus"`
	HomeDetectionMethod DetectionMethod `json:"homeDetectionMethod"`

	SolarW           float64 `json:"solarW"`
	HouseholdW       float64 `json:"householdW"`
	GridImportW      float64 `json:"gridImportW"`
	BatterySOC       int     `json:"batterySOC"`
	BatteryW         float64 `json:"batteryW"`
	SolarDataAgeSecs int     `json:"solarDataAgeSecs"`

	VehicleSOC        int           `json:"vehicleSOC"`
	VehicleAmps       int           `json:"vehicleAmps"`
	VehicleChargingKW float64       `json:"vehicleChargingKW"`
	PlugConnected     bool          `json:"plugConnected"`
	ChargingState     ChargingState `json:"chargingState"`

	AIEnabled          bool          `json:"aiEnabled"`
	AIStatus           AIStatus      `json:"aiStatus"`
	AIRecommendedAmps  int           `json:"aiRecommendedAmps"`
	AIReasoning        string        `json:"aiReasoning"`
	AIConfidence       Confidence    `json:"aiConfidence"`
	AITriggerReason    TriggerReason `json:"aiTriggerReason"`
	AILastUpdatedSecs  int           `json:"aiLastUpdatedSecs"`

	Session  *SessionView      `json:"session,omitempty"`
	Forecast *ForecastSnapshot `json:"forecast,omitempty"`

	TargetSOC        int      `json:"targetSOC"`
	ChargingStrategy Strategy `json:"chargingStrategy"`
	DepartureTime    string   `json:"departureTime"`

	GridBudgetTotalKWH float64 `json:"gridBudgetTotalKWH"`
	GridBudgetUsedKWH  float64 `json:"gridBudgetUsedKWH"`
	GridBudgetPct      float64 `json:"gridBudgetPct"`

	Timestamp time.Time `json:"timestamp"`
}
