package types

import "time"

// RecommendationFreshFor is the window during which an advisor
// recommendation is allowed to drive the amperage setpoint. Older
// recommendations stay inspectable but are never acted on.
const RecommendationFreshFor = 360 * time.Second

// Confidence is the advisor's self-reported confidence.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// TriggerReason records why the advisor was consulted.
type TriggerReason string

const (
	TriggerScheduled     TriggerReason = "scheduled"
	TriggerSolarShift    TriggerReason = "solar_shift"
	TriggerSOCThreshold  TriggerReason = "soc_threshold"
	TriggerBudgetWarning TriggerReason = "budget_warning"
	TriggerDepartureSoon TriggerReason = "departure_soon"
	TriggerStale         TriggerReason = "stale"
)

// AIStatus is the advisor state machine's externally visible state.
type AIStatus string

const (
	AIStatusStandby          AIStatus = "standby"
	AIStatusActive           AIStatus = "active"
	AIStatusFallback         AIStatus = "fallback"
	AIStatusSuspendedNight   AIStatus = "suspended_night"
	AIStatusSuspendedNoSolar AIStatus = "suspended_no_solar"
	AIStatusSuspendedAway    AIStatus = "suspended_away"
)

// Recommendation is a validated advisor output.
type Recommendation struct {
	Amps          int           `json:"amps"` // 0 or 5-32 after validation
	Reasoning     string        `json:"reasoning"`
	Confidence    Confidence    `json:"confidence"`
	TriggerReason TriggerReason `json:"triggerReason"`
	ProviderModel string        `json:"providerModel"` // "provider/model" that produced it
	CreatedAt     time.Time     `json:"createdAt"`
}

// Age returns the recommendation's age.
func (r Recommendation) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// Fresh reports whether the recommendation is recent enough to act on.
func (r Recommendation) Fresh(now time.Time) bool {
	return r.Age(now) < RecommendationFreshFor
}
