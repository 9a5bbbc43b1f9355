package types

import "time"

// ForecastHour is a single hour of the solar/weather forecast.
type ForecastHour struct {
	Hour          string  `json:"hour"` // "HH:MM" local time
	IrradianceWM2 float64 `json:"irradianceWM2"`
	CloudCoverPct float64 `json:"cloudCoverPct"`
	TemperatureC  float64 `json:"temperatureC"`
}

// ForecastSnapshot is a parsed solar/weather forecast for the current day.
// Sunrise/Sunset carry the site's timezone from the forecast provider.
type ForecastSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Sunrise time.Time      `json:"sunrise"`
	Sunset  time.Time      `json:"sunset"`
	Hourly  []ForecastHour `json:"hourly"`

	// Window where irradiance exceeds 70% of the day's maximum.
	PeakWindowStart string `json:"peakWindowStart"`
	PeakWindowEnd   string `json:"peakWindowEnd"`
}

// HoursUntilSunset returns the remaining daylight hours, never negative.
func (f ForecastSnapshot) HoursUntilSunset(now time.Time) float64 {
	if f.Sunset.IsZero() {
		return 0
	}
	h := f.Sunset.Sub(now).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// AfterSunset reports whether the sun has set.
func (f ForecastSnapshot) AfterSunset(now time.Time) bool {
	return !f.Sunset.IsZero() && f.HoursUntilSunset(now) <= 0
}
