package types

import (
	"fmt"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 3

// Strategy selects the rule-based charging strategy used when the advisor
// is unavailable or disabled.
type Strategy string

const (
	StrategySolar     Strategy = "solar"     // charge from solar surplus only, pause otherwise
	StrategyDeparture Strategy = "departure" // guarantee target SoC by departure time
)

// Settings represents the per-user configuration stored in the database.
// These are dynamic settings that can be changed without redeploying. The
// control loop reads them fresh at the start of every tick and never
// re-parses strings downstream.
type Settings struct {
	// Charging goal
	TargetSOC        int      `json:"targetSOC"`
	ChargingStrategy Strategy `json:"chargingStrategy"`
	// Local "HH:MM" deadline for the departure strategy. Empty disables the
	// departure minimum.
	DepartureTime string `json:"departureTime"`

	// Grid constraints. Zero means unset/unlimited for both.
	DailyGridBudgetKWH float64 `json:"dailyGridBudgetKWH"`
	MaxGridImportW     float64 `json:"maxGridImportW"`

	// Electrical
	CircuitVoltage     int     `json:"circuitVoltage"`
	BatteryCapacityKWH float64 `json:"batteryCapacityKWH"`

	// Billing rate used for the solar-savings figure, in currency per kWh.
	ElectricityRate float64 `json:"electricityRate"`

	// Manual amps override. Only honored while the advisor is disabled.
	// Nil means no override is set.
	ManualAmpsOverride *int `json:"manualAmpsOverride,omitempty"`

	// Advisor
	AIEnabled          bool   `json:"aiEnabled"`
	AIPrimaryProvider  string `json:"aiPrimaryProvider"`
	AIPrimaryModel     string `json:"aiPrimaryModel"`
	AIFallbackProvider string `json:"aiFallbackProvider"`
	AIFallbackModel    string `json:"aiFallbackModel"`

	// Vehicle command dispatch. When false the loop still accounts energy
	// but never sends start/stop/amps commands.
	VehicleCommandsEnabled bool `json:"vehicleCommandsEnabled"`

	// Home coordinates for the GPS presence fallback. Zero means unset;
	// the loop auto-populates them from vehicle GPS at a named home.
	HomeLat float64 `json:"homeLat"`
	HomeLon float64 `json:"homeLon"`

	// IANA timezone for day boundaries and the departure deadline.
	Timezone string `json:"timezone"`

	// Credentials for external systems (encrypted)
	EncryptedCredentials []byte `json:"encryptedCredentials,omitempty"`
}

// Credentials for external systems
type Credentials struct {
	Solax   *SolaxCredentials   `json:"solax,omitempty"`
	Tessie  *TessieCredentials  `json:"tessie,omitempty"`
	Advisor *AdvisorCredentials `json:"advisor,omitempty"`
}

// Has reports which credential groups are present, without exposing values.
func (c Credentials) Has() map[string]bool {
	return map[string]bool{
		"solax":   c.Solax != nil,
		"tessie":  c.Tessie != nil,
		"advisor": c.Advisor != nil,
	}
}

// Credentials for SolaxCloud
type SolaxCredentials struct {
	TokenID string `json:"tokenID"`
	// WiFi dongle serial number, not the inverter serial.
	DongleSN string `json:"dongleSN"`
}

// Credentials for Tessie
type TessieCredentials struct {
	APIKey string `json:"apiKey"`
	VIN    string `json:"vin"`
}

// Credentials for advisor providers. Ollama needs no key, just a reachable
// server.
type AdvisorCredentials struct {
	OllamaURL       string `json:"ollamaURL,omitempty"`
	OpenAIAPIKey    string `json:"openaiAPIKey,omitempty"`
	AnthropicAPIKey string `json:"anthropicAPIKey,omitempty"`
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	// Loop through versions to apply migrations sequentially
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial electrical defaults
			if s.TargetSOC == 0 {
				s.TargetSOC = 80
				migrated = true
			}
			if s.ChargingStrategy == "" {
				s.ChargingStrategy = StrategyDeparture
				migrated = true
			}
			if s.CircuitVoltage == 0 {
				s.CircuitVoltage = 240
				migrated = true
			}
			if s.BatteryCapacityKWH == 0 {
				s.BatteryCapacityKWH = 75.0
				migrated = true
			}
			// grid budget and import limit intentionally stay 0 (unlimited)
		case 2:
			// version 2: advisor provider defaults
			if s.AIPrimaryProvider == "" {
				s.AIPrimaryProvider = "ollama"
				migrated = true
			}
			if s.AIPrimaryModel == "" {
				s.AIPrimaryModel = "qwen2.5:7b"
				migrated = true
			}
			if s.AIFallbackProvider == "" {
				s.AIFallbackProvider = "ollama"
				migrated = true
			}
			if s.AIFallbackModel == "" {
				s.AIFallbackModel = "qwen2.5:1.5b"
				migrated = true
			}
		case 3:
			// version 3: command dispatch on by default, rate default
			if !s.VehicleCommandsEnabled {
				s.VehicleCommandsEnabled = true
				migrated = true
			}
			if s.ElectricityRate == 0 {
				s.ElectricityRate = 10.83
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}
