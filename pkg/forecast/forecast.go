// Package forecast fetches solar irradiance forecasts (via Open-Meteo).
package forecast

import (
	"context"

	"github.com/alwayssunny/alwayssunny/pkg/types"
)

// Service defines the interface for fetching a solar forecast.
type Service interface {
	// GetForecast returns today's hourly irradiance forecast for the
	// given coordinates along with sunrise/sunset and the peak window.
	GetForecast(ctx context.Context, latitude, longitude float64) (types.ForecastSnapshot, error)
}

// Configured sets up the forecast provider.
func Configured() Service {
	return newOpenMeteo()
}
