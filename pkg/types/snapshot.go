package types

import (
	"strings"
	"time"
)

// ChargingState mirrors the vehicle's reported charging state.
type ChargingState string

const (
	ChargingStateDisconnected ChargingState = "Disconnected"
	ChargingStateStopped      ChargingState = "Stopped"
	ChargingStateCharging     ChargingState = "Charging"
	ChargingStateComplete     ChargingState = "Complete"
)

// SolarSnapshot is a single parsed reading from the solar inverter.
// Snapshots are immutable; a failed fetch keeps the previous one.
type SolarSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	SolarW             float64 `json:"solarW"`      // total PV output across all strings
	HouseholdW         float64 `json:"householdW"`  // total load including the vehicle
	GridImportW        float64 `json:"gridImportW"` // >= 0, import only
	GridExportW        float64 `json:"gridExportW"` // >= 0, export only
	BatterySOC         float64 `json:"batterySOC"`  // home battery, 0-100
	BatteryW           float64 `json:"batteryW"`    // home battery power
	YieldTodayKWH      float64 `json:"yieldTodayKWH"`
	GridImportMeterKWH float64 `json:"gridImportMeterKWH"` // cumulative, never resets
	InverterStatus     string  `json:"inverterStatus"`
}

// Age returns how long ago this snapshot was fetched.
func (s SolarSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// VehicleSnapshot is a single parsed reading of the vehicle's charge state.
type VehicleSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	PlugConnected       bool          `json:"plugConnected"`
	ChargingState       ChargingState `json:"chargingState"`
	BatteryLevel        int           `json:"batteryLevel"` // 0-100
	ChargerActualAmps   int           `json:"chargerActualAmps"`
	ChargerVoltage      int           `json:"chargerVoltage"`
	ChargingKW          float64       `json:"chargingKW"`
	EnergyAddedKWH      float64       `json:"energyAddedKWH"` // vehicle counter, resets on interruption
	ChargeLimitSOC      int           `json:"chargeLimitSOC"`
	MinutesToFullCharge int           `json:"minutesToFullCharge"`
	Latitude            float64       `json:"latitude"`
	Longitude           float64       `json:"longitude"`
}

// LocationSnapshot is the vehicle's location with named-location info.
type LocationSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Address       string  `json:"address"`
	SavedLocation string  `json:"savedLocation"` // e.g. "Home", empty if none
}

// AtNamedHome reports whether the provider's named location is "home".
func (l LocationSnapshot) AtNamedHome() bool {
	return strings.EqualFold(l.SavedLocation, "home")
}
