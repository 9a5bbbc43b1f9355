package storagemock

import (
	"context"
	"time"

	"github.com/alwayssunny/alwayssunny/pkg/storage"
	"github.com/alwayssunny/alwayssunny/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSettings(ctx context.Context, userID string) (types.Settings, int, error) {
	args := m.Called(ctx, userID)
	// return empty if not specified, or checks args
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, userID string, settings types.Settings, version int) error {
	args := m.Called(ctx, userID, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) GetCheckpoint(ctx context.Context, userID string) (types.Checkpoint, error) {
	args := m.Called(ctx, userID)
	if len(args) > 0 {
		return args.Get(0).(types.Checkpoint), args.Error(1)
	}
	return types.Checkpoint{}, nil
}

func (m *MockDatabase) SetCheckpoint(ctx context.Context, userID string, cp types.Checkpoint) error {
	args := m.Called(ctx, userID, cp)
	return args.Error(0)
}

func (m *MockDatabase) UpsertActiveSession(ctx context.Context, userID string, rec types.SessionRecord) error {
	args := m.Called(ctx, userID, rec)
	return args.Error(0)
}

func (m *MockDatabase) GetActiveSession(ctx context.Context, userID string) (types.SessionRecord, error) {
	args := m.Called(ctx, userID)
	if len(args) > 0 {
		return args.Get(0).(types.SessionRecord), args.Error(1)
	}
	return types.SessionRecord{}, nil
}

func (m *MockDatabase) FinishSession(ctx context.Context, userID string, rec types.SessionRecord) error {
	args := m.Called(ctx, userID, rec)
	return args.Error(0)
}

func (m *MockDatabase) ClearActiveSession(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockDatabase) GetSessionHistory(ctx context.Context, userID string, start, end time.Time) ([]types.SessionRecord, error) {
	args := m.Called(ctx, userID, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.SessionRecord), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) InsertSnapshot(ctx context.Context, userID string, snap types.Snapshot, version int) error {
	args := m.Called(ctx, userID, snap, version)
	return args.Error(0)
}

func (m *MockDatabase) GetSnapshotHistory(ctx context.Context, userID string, start, end time.Time) ([]types.Snapshot, error) {
	args := m.Called(ctx, userID, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.Snapshot), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetUser(ctx context.Context, userID string) (types.User, error) {
	args := m.Called(ctx, userID)
	if len(args) > 0 {
		return args.Get(0).(types.User), args.Error(1)
	}
	return types.User{}, nil
}

func (m *MockDatabase) CreateUser(ctx context.Context, user types.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockDatabase) UpdateUser(ctx context.Context, user types.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockDatabase) ListUsers(ctx context.Context) ([]types.User, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).([]types.User), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
