// Package presence decides whether the vehicle is plugged in at home.
//
// Detection is two-layered: the vehicle provider's named location is
// authoritative when present, otherwise GPS proximity to the configured home
// coordinates is used. When neither layer can answer, the result is
// location_unknown and callers should assume home rather than block charging
// on missing telemetry.
package presence

import (
	"math"

	"github.com/alwayssunny/alwayssunny/pkg/types"
)

// HomeRadiusKM is the GPS proximity threshold for the fallback layer.
const HomeRadiusKM = 0.1

// Result is the outcome of a presence check.
type Result struct {
	AtHome        bool
	ChargerStatus types.ChargerStatus
	Method        types.DetectionMethod
}

// Resolve runs the two-layer home detection.
// location may be nil when the location fetch has never succeeded; homeLat
// and homeLon are zero when home coordinates are not configured.
func Resolve(vehicle types.VehicleSnapshot, location *types.LocationSnapshot, homeLat, homeLon float64) Result {
	if !vehicle.PlugConnected {
		return Result{ChargerStatus: types.ChargerNotConnected, Method: types.DetectionNone}
	}

	// Layer 1: named location from the vehicle provider
	if location != nil && location.SavedLocation != "" {
		if location.AtNamedHome() {
			return Result{AtHome: true, ChargerStatus: types.ChargerAtHome, Method: types.DetectionNamedLocation}
		}
		return Result{ChargerStatus: types.ChargerAway, Method: types.DetectionNamedLocation}
	}

	// Layer 2: GPS proximity fallback
	if homeLat != 0 && homeLon != 0 {
		if WithinHomeRadius(vehicle.Latitude, vehicle.Longitude, homeLat, homeLon) {
			return Result{AtHome: true, ChargerStatus: types.ChargerAtHome, Method: types.DetectionGPSProximity}
		}
		return Result{ChargerStatus: types.ChargerAway, Method: types.DetectionGPSProximity}
	}

	return Result{ChargerStatus: types.ChargerLocationUnknown, Method: types.DetectionNone}
}

// WithinHomeRadius reports whether the vehicle GPS position is within
// HomeRadiusKM of home. A flat-earth approximation is accurate enough at
// the ~100m scale.
func WithinHomeRadius(vehicleLat, vehicleLon, homeLat, homeLon float64) bool {
	latDiffKM := math.Abs(vehicleLat-homeLat) * 111.0
	lonDiffKM := math.Abs(vehicleLon-homeLon) * 111.0 * math.Cos(homeLat*math.Pi/180)
	distanceKM := math.Sqrt(latDiffKM*latDiffKM + lonDiffKM*lonDiffKM)
	return distanceKM <= HomeRadiusKM
}
