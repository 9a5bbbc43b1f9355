// Package vehicle reads state from and sends charging commands to an
// electric vehicle (via Tessie).
package vehicle

import (
	"context"
	"sync"

	"github.com/alwayssunny/alwayssunny/pkg/types"
)

// MinChargeAmps and MaxChargeAmps bound the amperage a vehicle will accept
// as a command. Anything below the minimum stalls the onboard charger.
const (
	MinChargeAmps = 5
	MaxChargeAmps = 32
)

// API defines the interface for interacting with a vehicle.
type API interface {
	// GetState returns the current charge and drive state.
	GetState(ctx context.Context) (types.VehicleSnapshot, error)

	// GetLocation returns the vehicle's resolved location.
	GetLocation(ctx context.Context) (types.LocationSnapshot, error)

	// StartCharging tells the vehicle to begin charging.
	StartCharging(ctx context.Context) error

	// StopCharging tells the vehicle to stop charging.
	StopCharging(ctx context.Context) error

	// SetChargingAmps sets the charging amperage. Amps outside
	// [MinChargeAmps, MaxChargeAmps] are rejected.
	SetChargingAmps(ctx context.Context, amps int) error

	// ApplySettings updates the vehicle using the provided global settings
	// and credentials.
	ApplySettings(ctx context.Context, settings types.Settings, creds types.Credentials) error

	// TestConnection verifies the applied credentials can reach the API.
	TestConnection(ctx context.Context) error
}

// Configured sets up the vehicle provider Map.
func Configured() *Map {
	return NewMap()
}

// Map manages the vehicle instance for each user.
type Map struct {
	mu       sync.Mutex
	vehicles map[string]API
}

// NewMap creates a new vehicle Map.
func NewMap() *Map {
	return &Map{
		vehicles: make(map[string]API),
	}
}

// User returns the vehicle for the given userID.
// If the userID is new, it creates a new vehicle instance.
func (m *Map) User(ctx context.Context, userID string, settings types.Settings, creds types.Credentials) (API, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.vehicles[userID]; ok {
		if err := v.ApplySettings(ctx, settings, creds); err != nil {
			return nil, err
		}
		return v, nil
	}

	tv := newTessie()
	if err := tv.ApplySettings(ctx, settings, creds); err != nil {
		return nil, err
	}
	m.vehicles[userID] = tv
	return tv, nil
}

// SetVehicle sets the vehicle for a specific user. This is primarily used
// for testing.
func (m *Map) SetVehicle(userID string, v API) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vehicles[userID] = v
}
