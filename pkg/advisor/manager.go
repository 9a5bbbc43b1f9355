package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/alwayssunny/alwayssunny/pkg/log"
	"github.com/alwayssunny/alwayssunny/pkg/types"
)

const (
	// scheduledAfter is how old a recommendation gets before a routine
	// refresh is due.
	scheduledAfter = 300 * time.Second

	// eventFloor is the minimum recommendation age before an event
	// trigger may fire, and also the minimum spacing between calls.
	eventFloor = 90 * time.Second

	// primaryAttempts and fallbackAttempts bound the retries per model.
	primaryAttempts  = 3
	fallbackAttempts = 2

	// backoffBase doubles with each retry.
	backoffBase = 5 * time.Second

	solarTrendSamples = 5
)

// sessionLatches are the one-shot event triggers. Each fires at most once
// per charging session; the loop resets them when a session ends.
type sessionLatches struct {
	socProgress75 bool
	socProgress95 bool
	budget80      bool
	budget95      bool
	departureSoon bool
}

// Manager owns the advisor state machine for a single user: when to consult
// a model, how to retry, and how to validate what comes back. It is owned by
// that user's loop state and never synchronized.
type Manager struct {
	registry *Registry

	rec        *types.Recommendation
	lastCallAt time.Time
	status     types.AIStatus
	latches    sessionLatches
	solarBuf   []float64

	// injectable for tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a Manager backed by the given provider registry.
func NewManager(registry *Registry) *Manager {
	return &Manager{
		registry: registry,
		status:   types.AIStatusStandby,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the advisor state machine's current state.
func (m *Manager) Status() types.AIStatus {
	return m.status
}

// Last returns the most recent recommendation regardless of age, for
// diagnostics. It may be stale.
func (m *Manager) Last() *types.Recommendation {
	return m.rec
}

// Fresh returns the recommendation if it is recent enough to act on,
// nil otherwise. A stale recommendation is kept for inspection, not deleted.
func (m *Manager) Fresh(now time.Time) *types.Recommendation {
	if m.rec == nil || !m.rec.Fresh(now) {
		return nil
	}
	return m.rec
}

// ResetLatches clears the one-shot triggers. Called when a session ends.
func (m *Manager) ResetLatches() {
	m.latches = sessionLatches{}
}

// Advise runs the trigger policy and, when due, consults a model. It returns
// the recommendation eligible to drive the setpoint, or nil when the caller
// must degrade to a rule-based strategy. It never returns an error: provider
// failure is a normal state, not an exceptional one.
func (m *Manager) Advise(ctx context.Context, in Input) *types.Recommendation {
	m.pushSolar(in.Solar.SolarW)

	if !in.Settings.AIEnabled {
		m.status = types.AIStatusStandby
		return nil
	}
	if !in.AtHome {
		m.status = types.AIStatusSuspendedAway
		return nil
	}
	if in.Night {
		m.status = types.AIStatusSuspendedNight
		return nil
	}
	if in.Solar.YieldTodayKWH <= 0 {
		m.status = types.AIStatusSuspendedNoSolar
		return nil
	}

	reason, fire := m.evaluate(in)
	if fire && !m.lastCallAt.IsZero() && in.Now.Sub(m.lastCallAt) < eventFloor {
		// Too soon after the previous call, even for a stale refresh.
		fire = false
	}
	if !fire {
		return m.Fresh(in.Now)
	}

	m.lastCallAt = in.Now
	rec, err := m.call(ctx, in, reason)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "advisor unavailable, degrading to rule-based strategy",
			slog.String("trigger", string(reason)),
			slog.Any("error", err),
		)
		m.status = types.AIStatusFallback
		return m.Fresh(in.Now)
	}

	m.rec = rec
	m.status = types.AIStatusActive
	log.Ctx(ctx).InfoContext(ctx, "new advisor recommendation",
		slog.Int("amps", rec.Amps),
		slog.String("confidence", string(rec.Confidence)),
		slog.String("trigger", string(reason)),
		slog.String("model", rec.ProviderModel),
	)
	return rec
}

// evaluate decides whether a model call is due and why.
func (m *Manager) evaluate(in Input) (types.TriggerReason, bool) {
	age := time.Duration(math.MaxInt64)
	if m.rec != nil {
		age = m.rec.Age(in.Now)
	}

	// A stale (or absent) recommendation forces a refresh regardless of
	// the one-shot latches.
	if age >= types.RecommendationFreshFor {
		return types.TriggerStale, true
	}
	if age > scheduledAfter {
		return types.TriggerScheduled, true
	}

	// Event triggers only apply once the recommendation has settled.
	if age <= eventFloor {
		return "", false
	}

	if m.solarTrend() != "stable" {
		return types.TriggerSolarShift, true
	}

	if in.SessionActive {
		gap := in.Settings.TargetSOC - in.SessionStartSOC
		if gap > 0 {
			progress := float64(in.Vehicle.BatteryLevel-in.SessionStartSOC) / float64(gap)
			if progress >= 0.95 && !m.latches.socProgress95 {
				m.latches.socProgress95 = true
				return types.TriggerSOCThreshold, true
			}
			if progress >= 0.75 && !m.latches.socProgress75 {
				m.latches.socProgress75 = true
				return types.TriggerSOCThreshold, true
			}
		}
	}

	if !in.Budget.Unlimited {
		pct := in.Budget.Pct()
		if pct >= 95 && !m.latches.budget95 {
			m.latches.budget95 = true
			return types.TriggerBudgetWarning, true
		}
		if pct >= 80 && !m.latches.budget80 {
			m.latches.budget80 = true
			return types.TriggerBudgetWarning, true
		}
	}

	if in.MinutesToDeparture >= 0 && in.MinutesToDeparture < 60 && !m.latches.departureSoon {
		m.latches.departureSoon = true
		return types.TriggerDepartureSoon, true
	}

	return "", false
}

func (m *Manager) pushSolar(w float64) {
	m.solarBuf = append(m.solarBuf, w)
	if len(m.solarBuf) > solarTrendSamples {
		m.solarBuf = m.solarBuf[len(m.solarBuf)-solarTrendSamples:]
	}
}

// solarTrend classifies the recent solar samples as rising, falling or
// stable. Fewer than a full buffer of samples is always stable.
func (m *Manager) solarTrend() string {
	if len(m.solarBuf) < solarTrendSamples {
		return "stable"
	}
	var sum float64
	for _, w := range m.solarBuf {
		sum += w
	}
	avg := sum / float64(len(m.solarBuf))
	if avg <= 0 {
		return "stable"
	}
	delta := m.solarBuf[len(m.solarBuf)-1] - m.solarBuf[0]
	if delta > 0.15*avg {
		return "rising"
	}
	if delta < -0.15*avg {
		return "falling"
	}
	return "stable"
}

// call consults the primary model with retries, then the fallback model.
func (m *Manager) call(ctx context.Context, in Input, reason types.TriggerReason) (*types.Recommendation, error) {
	system := systemPrompt
	prompt := buildPrompt(in)
	var creds types.AdvisorCredentials
	if in.Creds.Advisor != nil {
		creds = *in.Creds.Advisor
	}

	raw, err := m.generate(ctx, in.Settings.AIPrimaryProvider, Request{
		Model:  in.Settings.AIPrimaryModel,
		System: system,
		Prompt: prompt,
		Creds:  creds,
	}, primaryAttempts)
	if err == nil {
		return m.validate(ctx, raw, in.Now, reason, in.Settings.AIPrimaryProvider+"/"+in.Settings.AIPrimaryModel)
	}
	primaryErr := err

	log.Ctx(ctx).WarnContext(ctx, "primary advisor model failed, trying fallback",
		slog.String("provider", in.Settings.AIPrimaryProvider),
		slog.String("model", in.Settings.AIPrimaryModel),
		slog.Any("error", err),
	)

	raw, err = m.generate(ctx, in.Settings.AIFallbackProvider, Request{
		Model:  in.Settings.AIFallbackModel,
		System: system,
		Prompt: prompt,
		Creds:  creds,
	}, fallbackAttempts)
	if err != nil {
		return nil, fmt.Errorf("primary: %v; fallback: %w", primaryErr, err)
	}
	return m.validate(ctx, raw, in.Now, reason, in.Settings.AIFallbackProvider+"/"+in.Settings.AIFallbackModel)
}

// generate runs one model with exponential backoff on retryable errors.
func (m *Manager) generate(ctx context.Context, providerID string, req Request, attempts int) (string, error) {
	p, err := m.registry.Provider(providerID)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, err := p.Generate(ctx, req)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return "", err
		}
		if attempt < attempts {
			backoff := backoffBase * time.Duration(1<<(attempt-1))
			log.Ctx(ctx).DebugContext(ctx, "retrying advisor call",
				slog.String("provider", providerID),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.Any("error", err),
			)
			if err := m.sleep(ctx, backoff); err != nil {
				return "", err
			}
		}
	}
	return "", lastErr
}

type rawRecommendation struct {
	Amps       float64 `json:"amps"`
	Reasoning  string  `json:"reasoning"`
	Confidence string  `json:"confidence"`
}

// validate parses and sanitizes model output. Malformed or out-of-range
// values are corrected locally, never surfaced as errors.
func (m *Manager) validate(ctx context.Context, raw string, now time.Time, reason types.TriggerReason, providerModel string) (*types.Recommendation, error) {
	// Some models wrap the JSON in prose.
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model output: %q", raw)
	}

	var rr rawRecommendation
	if err := json.Unmarshal([]byte(raw[start:end+1]), &rr); err != nil {
		return nil, fmt.Errorf("failed to decode model output: %w", err)
	}

	amps := int(math.Round(rr.Amps))
	reasoning := rr.Reasoning
	confidence := types.Confidence(rr.Confidence)
	switch confidence {
	case types.ConfidenceLow, types.ConfidenceMedium, types.ConfidenceHigh:
	default:
		confidence = types.ConfidenceMedium
	}

	if amps < 0 || amps > 32 {
		log.Ctx(ctx).WarnContext(ctx, "advisor amps out of range, coercing to 0",
			slog.Int("amps", amps),
			slog.String("model", providerModel),
		)
		amps = 0
		confidence = types.ConfidenceLow
	} else if amps >= 1 && amps <= 4 {
		log.Ctx(ctx).InfoContext(ctx, "advisor amps below hardware minimum, pausing instead",
			slog.Int("amps", amps),
		)
		reasoning = fmt.Sprintf("Requested %dA but the charger cannot sustain under 5A, so charging is paused. %s", amps, reasoning)
		amps = 0
	}

	return &types.Recommendation{
		Amps:          amps,
		Reasoning:     reasoning,
		Confidence:    confidence,
		TriggerReason: reason,
		ProviderModel: providerModel,
		CreatedAt:     now,
	}, nil
}
