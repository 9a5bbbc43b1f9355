// Package solar reads live production and grid flow data from a solar
// inverter (like Solax).
package solar

import (
	"context"
	"sync"

	"github.com/alwayssunny/alwayssunny/pkg/types"
)

// Inverter defines the interface for reading a solar inverter.
type Inverter interface {
	// GetSnapshot returns the current production and grid flow readings.
	GetSnapshot(ctx context.Context) (types.SolarSnapshot, error)

	// ApplySettings updates the inverter using the provided global settings
	// and credentials.
	ApplySettings(ctx context.Context, settings types.Settings, creds types.Credentials) error

	// TestConnection verifies the applied credentials can reach the cloud API.
	TestConnection(ctx context.Context) error
}

// Configured sets up the inverter provider Map.
func Configured() *Map {
	return NewMap()
}

// Map manages the inverter instance for each user.
type Map struct {
	mu        sync.Mutex
	inverters map[string]Inverter
}

// NewMap creates a new inverter Map.
func NewMap() *Map {
	return &Map{
		inverters: make(map[string]Inverter),
	}
}

// User returns the inverter for the given userID.
// If the userID is new, it creates a new inverter instance.
func (m *Map) User(ctx context.Context, userID string, settings types.Settings, creds types.Credentials) (Inverter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if inv, ok := m.inverters[userID]; ok {
		if err := inv.ApplySettings(ctx, settings, creds); err != nil {
			return nil, err
		}
		return inv, nil
	}

	s := newSolax()
	if err := s.ApplySettings(ctx, settings, creds); err != nil {
		return nil, err
	}
	m.inverters[userID] = s
	return s, nil
}

// SetInverter sets the inverter for a specific user. This is primarily used
// for testing.
func (m *Map) SetInverter(userID string, inv Inverter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inverters[userID] = inv
}
