package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alwayssunny/alwayssunny/pkg/advisor"
	"github.com/alwayssunny/alwayssunny/pkg/forecast"
	"github.com/alwayssunny/alwayssunny/pkg/log"
	"github.com/alwayssunny/alwayssunny/pkg/loop"
	"github.com/alwayssunny/alwayssunny/pkg/server"
	"github.com/alwayssunny/alwayssunny/pkg/solar"
	"github.com/alwayssunny/alwayssunny/pkg/storage"
	"github.com/alwayssunny/alwayssunny/pkg/vehicle"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	db := storage.Configured()
	inverters := solar.Configured()
	vehicles := vehicle.Configured()
	forecasts := forecast.Configured()
	advisors := advisor.Configured()
	l := loop.Configured(db, inverters, vehicles, forecasts, advisors)

	// init server
	srv := server.Configured(db, l, inverters, vehicles)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Resume control loops for every known user so charging keeps being
	// managed after a restart even before anyone opens the app.
	users, err := db.ListUsers(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list users", "error", err)
	}
	for _, u := range users {
		l.Register(u.ID)
	}
	log.Ctx(ctx).InfoContext(ctx, "control loops started", slog.Int("users", len(users)))

	defer func() {
		l.Close()
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	// Run blocks until the context is canceled or the listener fails.
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
