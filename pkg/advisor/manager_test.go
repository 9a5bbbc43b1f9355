package advisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alwayssunny/alwayssunny/pkg/budget"
	"github.com/alwayssunny/alwayssunny/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name     string
	response string
	errs     []error
	calls    int
	lastReq  Request
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, req Request) (string, error) {
	f.lastReq = req
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return f.response, nil
}

func testManager(primary, fallback *fakeProvider) *Manager {
	m := NewManager(NewRegistry(primary, fallback))
	m.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return m
}

func testInput(now time.Time) Input {
	return Input{
		Now: now,
		Settings: types.Settings{
			AIEnabled:          true,
			AIPrimaryProvider:  "primary",
			AIPrimaryModel:     "big",
			AIFallbackProvider: "backup",
			AIFallbackModel:    "small",
			TargetSOC:          80,
			CircuitVoltage:     240,
			ChargingStrategy:   types.StrategySolar,
		},
		Solar:              types.SolarSnapshot{SolarW: 3000, HouseholdW: 800, YieldTodayKWH: 5},
		Vehicle:            types.VehicleSnapshot{BatteryLevel: 60, ChargingState: types.ChargingStateCharging},
		Budget:             budget.Status{Unlimited: true},
		AtHome:             true,
		MinutesToDeparture: -1,
	}
}

func TestManagerSuspension(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p := &fakeProvider{name: "primary", response: `{"amps": 16, "reasoning": "ok", "confidence": "high"}`}
	f := &fakeProvider{name: "backup"}

	t.Run("disabled", func(t *testing.T) {
		m := testManager(p, f)
		in := testInput(now)
		in.Settings.AIEnabled = false
		assert.Nil(t, m.Advise(context.Background(), in))
		assert.Equal(t, types.AIStatusStandby, m.Status())
	})

	t.Run("night", func(t *testing.T) {
		m := testManager(p, f)
		in := testInput(now)
		in.Night = true
		assert.Nil(t, m.Advise(context.Background(), in))
		assert.Equal(t, types.AIStatusSuspendedNight, m.Status())
	})

	t.Run("no solar yield", func(t *testing.T) {
		m := testManager(p, f)
		in := testInput(now)
		in.Solar.YieldTodayKWH = 0
		assert.Nil(t, m.Advise(context.Background(), in))
		assert.Equal(t, types.AIStatusSuspendedNoSolar, m.Status())
	})

	t.Run("away", func(t *testing.T) {
		m := testManager(p, f)
		in := testInput(now)
		in.AtHome = false
		assert.Nil(t, m.Advise(context.Background(), in))
		assert.Equal(t, types.AIStatusSuspendedAway, m.Status())
	})
}

func TestManagerFirstCall(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p := &fakeProvider{name: "primary", response: `{"amps": 16, "reasoning": "plenty of sun", "confidence": "high"}`}
	m := testManager(p, &fakeProvider{name: "backup"})

	rec := m.Advise(context.Background(), testInput(now))
	require.NotNil(t, rec)
	assert.Equal(t, 16, rec.Amps)
	assert.Equal(t, types.TriggerStale, rec.TriggerReason)
	assert.Equal(t, "primary/big", rec.ProviderModel)
	assert.Equal(t, types.AIStatusActive, m.Status())
	assert.Equal(t, 1, p.calls)
}

func TestManagerCallSpacing(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p := &fakeProvider{name: "primary", response: `{"amps": 16, "reasoning": "r", "confidence": "high"}`}
	m := testManager(p, &fakeProvider{name: "backup"})

	in := testInput(now)
	require.NotNil(t, m.Advise(context.Background(), in))

	// Fresh recommendation, nothing due: no second call.
	in.Now = now.Add(60 * time.Second)
	rec := m.Advise(context.Background(), in)
	require.NotNil(t, rec)
	assert.Equal(t, 1, p.calls)

	// Past the scheduled refresh age, a new call fires.
	in.Now = now.Add(301 * time.Second)
	require.NotNil(t, m.Advise(context.Background(), in))
	assert.Equal(t, 2, p.calls)
}

func TestManagerHardFloorEvenWhenStale(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p := &fakeProvider{name: "primary", errs: []error{errors.New("bad"), errors.New("bad")}}
	f := &fakeProvider{name: "backup", errs: []error{errors.New("bad")}}
	m := testManager(p, f)

	in := testInput(now)
	assert.Nil(t, m.Advise(context.Background(), in))
	assert.Equal(t, types.AIStatusFallback, m.Status())

	// Still no recommendation (stale trigger), but only 30s since the
	// failed call: the floor blocks a retry storm.
	p.errs = nil
	p.response = `{"amps": 10, "reasoning": "r", "confidence": "medium"}`
	in.Now = now.Add(30 * time.Second)
	assert.Nil(t, m.Advise(context.Background(), in))
	assert.Equal(t, 1, p.calls)

	// After the floor the stale trigger goes through.
	in.Now = now.Add(91 * time.Second)
	require.NotNil(t, m.Advise(context.Background(), in))
	assert.Equal(t, 2, p.calls)
}

func TestManagerEventTriggers(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	seed := func(t *testing.T, m *Manager, p *fakeProvider, in *Input) {
		t.Helper()
		require.NotNil(t, m.Advise(context.Background(), *in))
		require.Equal(t, 1, p.calls)
		// Old enough for event triggers, too young for a scheduled one.
		in.Now = now.Add(120 * time.Second)
	}

	t.Run("budget latch fires once", func(t *testing.T) {
		p := &fakeProvider{name: "primary", response: `{"amps": 8, "reasoning": "r", "confidence": "medium"}`}
		m := testManager(p, &fakeProvider{name: "backup"})
		in := testInput(now)
		seed(t, m, p, &in)

		in.Budget = budget.Status{UsedKWH: 21, RemainingKWH: 4}
		rec := m.Advise(context.Background(), in)
		require.NotNil(t, rec)
		assert.Equal(t, types.TriggerBudgetWarning, rec.TriggerReason)
		assert.Equal(t, 2, p.calls)

		// Same threshold again: latched, no new call.
		in.Now = in.Now.Add(95 * time.Second)
		m.Advise(context.Background(), in)
		assert.Equal(t, 2, p.calls)

		// A new session resets the latches.
		m.ResetLatches()
		m.Advise(context.Background(), in)
		assert.Equal(t, 3, p.calls)
	})

	t.Run("soc progress latch", func(t *testing.T) {
		p := &fakeProvider{name: "primary", response: `{"amps": 8, "reasoning": "r", "confidence": "medium"}`}
		m := testManager(p, &fakeProvider{name: "backup"})
		in := testInput(now)
		seed(t, m, p, &in)

		in.SessionActive = true
		in.SessionStartSOC = 40
		in.Vehicle.BatteryLevel = 71 // 77.5% of the 40 point gap to 80
		rec := m.Advise(context.Background(), in)
		require.NotNil(t, rec)
		assert.Equal(t, types.TriggerSOCThreshold, rec.TriggerReason)
	})

	t.Run("departure soon", func(t *testing.T) {
		p := &fakeProvider{name: "primary", response: `{"amps": 8, "reasoning": "r", "confidence": "medium"}`}
		m := testManager(p, &fakeProvider{name: "backup"})
		in := testInput(now)
		seed(t, m, p, &in)

		in.MinutesToDeparture = 45
		rec := m.Advise(context.Background(), in)
		require.NotNil(t, rec)
		assert.Equal(t, types.TriggerDepartureSoon, rec.TriggerReason)
		assert.Equal(t, 2, p.calls)

		in.Now = in.Now.Add(95 * time.Second)
		m.Advise(context.Background(), in)
		assert.Equal(t, 2, p.calls, "one-shot")
	})

	t.Run("solar shift", func(t *testing.T) {
		p := &fakeProvider{name: "primary", response: `{"amps": 8, "reasoning": "r", "confidence": "medium"}`}
		m := testManager(p, &fakeProvider{name: "backup"})
		in := testInput(now)
		seed(t, m, p, &in)

		// Fill the trend buffer with a collapsing solar curve.
		for i, w := range []float64{3000, 2500, 2000, 1200} {
			in.Now = now.Add(time.Duration(120+i) * time.Second)
			in.Solar.SolarW = w
			m.Advise(context.Background(), in)
		}
		assert.Equal(t, 2, p.calls)
		rec := m.Last()
		require.NotNil(t, rec)
		assert.Equal(t, types.TriggerSolarShift, rec.TriggerReason)
	})
}

func TestManagerRetries(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("retryable errors retried", func(t *testing.T) {
		p := &fakeProvider{
			name:     "primary",
			errs:     []error{markRetryable(errors.New("timeout")), markRetryable(errors.New("timeout"))},
			response: `{"amps": 12, "reasoning": "r", "confidence": "medium"}`,
		}
		m := testManager(p, &fakeProvider{name: "backup"})
		rec := m.Advise(context.Background(), testInput(now))
		require.NotNil(t, rec)
		assert.Equal(t, 3, p.calls)
	})

	t.Run("terminal error skips straight to fallback", func(t *testing.T) {
		p := &fakeProvider{name: "primary", errs: []error{errors.New("bad config")}}
		f := &fakeProvider{name: "backup", response: `{"amps": 6, "reasoning": "r", "confidence": "low"}`}
		m := testManager(p, f)
		rec := m.Advise(context.Background(), testInput(now))
		require.NotNil(t, rec)
		assert.Equal(t, 1, p.calls)
		assert.Equal(t, 1, f.calls)
		assert.Equal(t, "backup/small", rec.ProviderModel)
		assert.Equal(t, types.AIStatusActive, m.Status())
	})

	t.Run("both models fail", func(t *testing.T) {
		p := &fakeProvider{name: "primary", errs: []error{
			markRetryable(errors.New("t")), markRetryable(errors.New("t")), markRetryable(errors.New("t")),
		}}
		f := &fakeProvider{name: "backup", errs: []error{
			markRetryable(errors.New("t")), markRetryable(errors.New("t")),
		}}
		m := testManager(p, f)
		assert.Nil(t, m.Advise(context.Background(), testInput(now)))
		assert.Equal(t, types.AIStatusFallback, m.Status())
		assert.Equal(t, 3, p.calls)
		assert.Equal(t, 2, f.calls)
	})
}

func TestManagerValidation(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	m := testManager(&fakeProvider{name: "primary"}, &fakeProvider{name: "backup"})
	ctx := context.Background()

	t.Run("out of range coerced to zero", func(t *testing.T) {
		rec, err := m.validate(ctx, `{"amps": 48, "reasoning": "go fast", "confidence": "high"}`, now, types.TriggerScheduled, "p/m")
		require.NoError(t, err)
		assert.Equal(t, 0, rec.Amps)
		assert.Equal(t, types.ConfidenceLow, rec.Confidence)
	})

	t.Run("below minimum paused with rewritten reasoning", func(t *testing.T) {
		rec, err := m.validate(ctx, `{"amps": 3, "reasoning": "trickle", "confidence": "high"}`, now, types.TriggerScheduled, "p/m")
		require.NoError(t, err)
		assert.Equal(t, 0, rec.Amps)
		assert.Contains(t, rec.Reasoning, "cannot sustain under 5A")
		assert.Contains(t, rec.Reasoning, "trickle")
	})

	t.Run("prose wrapped json", func(t *testing.T) {
		rec, err := m.validate(ctx, "Sure! Here you go:\n"+`{"amps": 16, "reasoning": "ok", "confidence": "medium"}`+"\nHope that helps.", now, types.TriggerScheduled, "p/m")
		require.NoError(t, err)
		assert.Equal(t, 16, rec.Amps)
	})

	t.Run("unknown confidence defaults to medium", func(t *testing.T) {
		rec, err := m.validate(ctx, `{"amps": 16, "reasoning": "ok", "confidence": "certain"}`, now, types.TriggerScheduled, "p/m")
		require.NoError(t, err)
		assert.Equal(t, types.ConfidenceMedium, rec.Confidence)
	})

	t.Run("no json is an error", func(t *testing.T) {
		_, err := m.validate(ctx, "I cannot help with that.", now, types.TriggerScheduled, "p/m")
		require.Error(t, err)
	})
}

func TestManagerFreshness(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	m := testManager(&fakeProvider{name: "primary"}, &fakeProvider{name: "backup"})
	m.rec = &types.Recommendation{Amps: 16, CreatedAt: now.Add(-361 * time.Second)}

	assert.Nil(t, m.Fresh(now), "expired recommendation must never drive amperage")
	assert.NotNil(t, m.Last(), "but it stays inspectable")

	m.rec.CreatedAt = now.Add(-359 * time.Second)
	assert.NotNil(t, m.Fresh(now))
}
