package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecommendationFresh(t *testing.T) {
	now := time.Now()
	r := Recommendation{Amps: 12, CreatedAt: now}

	assert.True(t, r.Fresh(now))
	assert.True(t, r.Fresh(now.Add(359*time.Second)))
	assert.False(t, r.Fresh(now.Add(360*time.Second)), "exactly 360s old must not be fresh")
	assert.False(t, r.Fresh(now.Add(time.Hour)))
}

func TestForecastHoursUntilSunset(t *testing.T) {
	now := time.Date(2026, 2, 20, 14, 0, 0, 0, time.UTC)
	f := ForecastSnapshot{Sunset: now.Add(3*time.Hour + 30*time.Minute)}

	assert.InDelta(t, 3.5, f.HoursUntilSunset(now), 0.001)
	assert.False(t, f.AfterSunset(now))

	assert.Zero(t, f.HoursUntilSunset(now.Add(5*time.Hour)), "never negative")
	assert.True(t, f.AfterSunset(now.Add(5*time.Hour)))

	assert.Zero(t, ForecastSnapshot{}.HoursUntilSunset(now))
	assert.False(t, ForecastSnapshot{}.AfterSunset(now), "no forecast means no night suspension")
}
