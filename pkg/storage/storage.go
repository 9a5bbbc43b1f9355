package storage

import (
	"context"
	"errors"
	"time"

	"github.com/alwayssunny/alwayssunny/pkg/types"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrNoActiveSession = errors.New("no active session")
)

// Database defines the interface for persisting data and retrieving settings.
type Database interface {
	// Settings
	GetSettings(ctx context.Context, userID string) (types.Settings, int, error)
	SetSettings(ctx context.Context, userID string, settings types.Settings, version int) error

	// Loop checkpoint (daily grid baseline, session meter baseline)
	GetCheckpoint(ctx context.Context, userID string) (types.Checkpoint, error)
	SetCheckpoint(ctx context.Context, userID string, cp types.Checkpoint) error

	// Sessions. The active session is stored separately from the finished
	// history so a restart can recover it without scanning.
	UpsertActiveSession(ctx context.Context, userID string, rec types.SessionRecord) error
	GetActiveSession(ctx context.Context, userID string) (types.SessionRecord, error)
	// FinishSession writes the finalized record to the history and clears
	// the active session.
	FinishSession(ctx context.Context, userID string, rec types.SessionRecord) error
	ClearActiveSession(ctx context.Context, userID string) error
	GetSessionHistory(ctx context.Context, userID string, start, end time.Time) ([]types.SessionRecord, error)

	// Per-tick snapshots
	InsertSnapshot(ctx context.Context, userID string, snap types.Snapshot, version int) error
	GetSnapshotHistory(ctx context.Context, userID string, start, end time.Time) ([]types.Snapshot, error)

	// Users
	GetUser(ctx context.Context, userID string) (types.User, error)
	CreateUser(ctx context.Context, user types.User) error
	UpdateUser(ctx context.Context, user types.User) error
	ListUsers(ctx context.Context) ([]types.User, error)

	// Lifecycle
	Close() error
}
