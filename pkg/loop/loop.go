// Package loop runs the per-user control loop: a recurring tick that fuses
// sensor readings, forecast data and the advisor's recommendation into a
// single amperage setpoint, dispatches vehicle commands, and accounts the
// charging session.
package loop

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/alwayssunny/alwayssunny/pkg/advisor"
	"github.com/alwayssunny/alwayssunny/pkg/forecast"
	"github.com/alwayssunny/alwayssunny/pkg/log"
	"github.com/alwayssunny/alwayssunny/pkg/solar"
	"github.com/alwayssunny/alwayssunny/pkg/storage"
	"github.com/alwayssunny/alwayssunny/pkg/vehicle"
	"github.com/levenlabs/go-lflag"
)

const (
	// tickTimeout bounds a whole tick. Individual calls carry their own
	// shorter timeouts; AI inference is the long pole.
	tickTimeout = 5 * time.Minute

	locationFetchEvery = 5 * time.Minute
	forecastFetchEvery = time.Hour
)

// Loop owns the registry of per-user control loops. All per-user state lives
// in the user's State; the Loop itself only tracks registration.
type Loop struct {
	db        storage.Database
	inverters *solar.Map
	vehicles  *vehicle.Map
	forecasts forecast.Service
	advisors  *advisor.Registry

	encryptionKey string
	interval      time.Duration
	now           func() time.Time

	mu    sync.Mutex
	users map[string]*userLoop
}

type userLoop struct {
	state *State
	stop  chan struct{}
	done  chan struct{}
}

// Configured sets up the Loop based on flags. The credentials encryption key
// is registered by the server and handed over via SetEncryptionKey; both
// packages share the one flag.
func Configured(db storage.Database, inverters *solar.Map, vehicles *vehicle.Map, forecasts forecast.Service, advisors *advisor.Registry) *Loop {
	interval := lflag.Duration("loop-interval", time.Minute, "Control loop tick interval")

	l := New(db, inverters, vehicles, forecasts, advisors, "", time.Minute)

	lflag.Do(func() {
		l.interval = *interval
	})

	return l
}

// SetEncryptionKey sets the key used to decrypt stored credentials. Must be
// called before any loop is registered.
func (l *Loop) SetEncryptionKey(key string) {
	l.encryptionKey = key
}

// New creates a Loop with explicit configuration.
func New(db storage.Database, inverters *solar.Map, vehicles *vehicle.Map, forecasts forecast.Service, advisors *advisor.Registry, encryptionKey string, interval time.Duration) *Loop {
	return &Loop{
		db:            db,
		inverters:     inverters,
		vehicles:      vehicles,
		forecasts:     forecasts,
		advisors:      advisors,
		encryptionKey: encryptionKey,
		interval:      interval,
		now:           time.Now,
		users:         make(map[string]*userLoop),
	}
}

// Register starts the control loop for a user. The first tick fires
// immediately. Registering an already-registered user is a no-op and never
// resets in-memory state.
func (l *Loop) Register(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.users[userID]; ok {
		return
	}

	u := &userLoop{
		state: newState(userID, l.advisors),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	l.users[userID] = u
	go l.run(u)

	log.Ctx(context.Background()).InfoContext(context.Background(), "registered control loop",
		slog.String("userID", userID))
}

// Unregister stops a user's loop and discards its state. An in-flight tick
// completes first; only future ticks are cancelled. Unregistering an unknown
// user is a no-op.
func (l *Loop) Unregister(userID string) {
	l.mu.Lock()
	u, ok := l.users[userID]
	if ok {
		delete(l.users, userID)
	}
	l.mu.Unlock()
	if !ok {
		return
	}

	close(u.stop)
	<-u.done

	log.Ctx(context.Background()).InfoContext(context.Background(), "unregistered control loop",
		slog.String("userID", userID))
}

// GetState returns the live loop state for a user, or nil when the user is
// not registered.
func (l *Loop) GetState(userID string) *State {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[userID]
	if !ok {
		return nil
	}
	return u.state
}

// Registered reports whether a user's loop is running.
func (l *Loop) Registered(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.users[userID]
	return ok
}

// Close stops every user loop and waits for in-flight ticks.
func (l *Loop) Close() {
	l.mu.Lock()
	users := make([]*userLoop, 0, len(l.users))
	for id, u := range l.users {
		users = append(users, u)
		delete(l.users, id)
	}
	l.mu.Unlock()

	for _, u := range users {
		close(u.stop)
		<-u.done
	}
}

// run is the per-user scheduler goroutine. Ticks run in this goroutine, so
// two ticks for the same user can never overlap: a tick that outlasts the
// interval simply delays the next one (time.Ticker drops missed fires rather
// than queueing them).
func (l *Loop) run(u *userLoop) {
	defer close(u.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.runTick(u.state)
	for {
		select {
		case <-u.stop:
			return
		case <-ticker.C:
			l.runTick(u.state)
		}
	}
}

// runTick executes one tick inside a panic boundary. A panic in one user's
// tick is logged and must never take down other users' loops.
func (l *Loop) runTick(st *State) {
	// The tick context is deliberately not tied to the stop channel:
	// unregistration cancels future ticks, never an in-flight one.
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()
	ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("userID", st.UserID)))

	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).ErrorContext(ctx, "panic in control tick",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	l.tick(ctx, st)
}
