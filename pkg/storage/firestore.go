package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/alwayssunny/alwayssunny/pkg/log"
	"github.com/alwayssunny/alwayssunny/pkg/types"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. It persists settings, sessions, and tick snapshots to per-user
// sub-collections.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID verification could be here, but we allow empty if inferred.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) getCollection(userID, name string) (*firestore.CollectionRef, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID cannot be empty")
	}
	return f.client.Collection("users").Doc(userID).Collection(name), nil
}

// GetSettings retrieves the dynamic configuration from the "config/settings" document.
func (f *FirestoreProvider) GetSettings(ctx context.Context, userID string) (types.Settings, int, error) {
	coll, err := f.getCollection(userID, "config")
	if err != nil {
		return types.Settings{}, 0, err
	}
	doc, err := coll.Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Return default settings if not found
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	// Read version if available (default 0)
	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "settings doc missing json", slog.String("userID", userID))
		return types.Settings{}, 0, fmt.Errorf("settings document missing 'json' field: %w", err)
	}

	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "settings doc json not string", slog.String("userID", userID))
		return types.Settings{}, 0, fmt.Errorf("settings 'json' field is not a string")
	}

	var s types.Settings
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal settings json", slog.String("userID", userID), slog.Any("err", err))
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings json: %w", err)
	}
	return s, version, nil
}

// SetSettings saves the dynamic configuration to the "config/settings" document.
// It stores the settings as a JSON string for portability.
func (f *FirestoreProvider) SetSettings(ctx context.Context, userID string, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	coll, err := f.getCollection(userID, "config")
	if err != nil {
		return err
	}
	_, err = coll.Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves the loop checkpoint from the "config/checkpoint" document.
func (f *FirestoreProvider) GetCheckpoint(ctx context.Context, userID string) (types.Checkpoint, error) {
	coll, err := f.getCollection(userID, "config")
	if err != nil {
		return types.Checkpoint{}, err
	}
	doc, err := coll.Doc("checkpoint").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// A zero checkpoint means the baselines have not been seeded yet
			return types.Checkpoint{}, nil
		}
		return types.Checkpoint{}, fmt.Errorf("failed to fetch checkpoint doc: %w", err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "checkpoint doc missing json", slog.String("userID", userID))
		return types.Checkpoint{}, fmt.Errorf("checkpoint document missing 'json' field: %w", err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "checkpoint doc json not string", slog.String("userID", userID))
		return types.Checkpoint{}, fmt.Errorf("checkpoint 'json' field is not a string")
	}

	var cp types.Checkpoint
	if err := json.Unmarshal([]byte(jsonStr), &cp); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal checkpoint", slog.String("userID", userID), slog.Any("err", err))
		return types.Checkpoint{}, fmt.Errorf("failed to unmarshal checkpoint json: %w", err)
	}
	return cp, nil
}

// SetCheckpoint saves the loop checkpoint to the "config/checkpoint" document.
func (f *FirestoreProvider) SetCheckpoint(ctx context.Context, userID string, cp types.Checkpoint) error {
	jsonBytes, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	coll, err := f.getCollection(userID, "config")
	if err != nil {
		return err
	}
	_, err = coll.Doc("checkpoint").Set(ctx, map[string]interface{}{
		"json": string(jsonBytes),
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// UpsertActiveSession writes the in-progress session to the "state/session"
// document so a restart can recover accumulated energy totals.
func (f *FirestoreProvider) UpsertActiveSession(ctx context.Context, userID string, rec types.SessionRecord) error {
	jsonBytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	coll, err := f.getCollection(userID, "state")
	if err != nil {
		return err
	}
	_, err = coll.Doc("session").Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": rec.StartedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert active session: %w", err)
	}
	return nil
}

// GetActiveSession retrieves the in-progress session, if any. Returns
// ErrNoActiveSession when no session is being tracked.
func (f *FirestoreProvider) GetActiveSession(ctx context.Context, userID string) (types.SessionRecord, error) {
	coll, err := f.getCollection(userID, "state")
	if err != nil {
		return types.SessionRecord{}, err
	}
	doc, err := coll.Doc("session").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.SessionRecord{}, ErrNoActiveSession
		}
		return types.SessionRecord{}, fmt.Errorf("failed to fetch active session doc: %w", err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "active session doc missing json", slog.String("userID", userID))
		return types.SessionRecord{}, fmt.Errorf("active session document missing 'json' field: %w", err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "active session doc json not string", slog.String("userID", userID))
		return types.SessionRecord{}, fmt.Errorf("active session 'json' field is not a string")
	}

	var rec types.SessionRecord
	if err := json.Unmarshal([]byte(jsonStr), &rec); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal active session", slog.String("userID", userID), slog.Any("err", err))
		return types.SessionRecord{}, fmt.Errorf("failed to unmarshal active session json: %w", err)
	}
	return rec, nil
}

// ClearActiveSession deletes the in-progress session document. Deleting an
// already-absent document is not an error.
func (f *FirestoreProvider) ClearActiveSession(ctx context.Context, userID string) error {
	coll, err := f.getCollection(userID, "state")
	if err != nil {
		return err
	}
	if _, err := coll.Doc("session").Delete(ctx); err != nil {
		return fmt.Errorf("failed to clear active session: %w", err)
	}
	return nil
}

// FinishSession writes the finalized session record to the "sessions"
// collection and clears the active session. The document ID is the RFC3339
// start timestamp for lexicographic ordering and efficient range queries.
func (f *FirestoreProvider) FinishSession(ctx context.Context, userID string, rec types.SessionRecord) error {
	if rec.StartedAt.IsZero() {
		return fmt.Errorf("session record missing startedAt")
	}
	jsonBytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	coll, err := f.getCollection(userID, "sessions")
	if err != nil {
		return err
	}
	docID := rec.ID
	if docID == "" {
		docID = rec.StartedAt.UTC().Format(time.RFC3339)
	}
	_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": rec.StartedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}
	return f.ClearActiveSession(ctx, userID)
}

// GetSessionHistory retrieves finished sessions whose start time falls within
// the specified range. Uses document ID range queries for efficient filtering
// without reading all documents.
func (f *FirestoreProvider) GetSessionHistory(ctx context.Context, userID string, start, end time.Time) ([]types.SessionRecord, error) {
	startDocID := start.UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)

	coll, err := f.getCollection(userID, "sessions")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var sessions []types.SessionRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating sessions: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "session doc missing json", slog.String("docID", doc.Ref.ID), slog.String("userID", userID), slog.Any("err", err))
			return nil, fmt.Errorf("session document %s missing 'json' field: %w", doc.Ref.ID, err)
		}

		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "session doc json not string", slog.String("docID", doc.Ref.ID), slog.String("userID", userID))
			return nil, fmt.Errorf("session document %s 'json' field is not string", doc.Ref.ID)
		}

		var rec types.SessionRecord
		if err := json.Unmarshal([]byte(jsonStr), &rec); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal session", slog.String("docID", doc.Ref.ID), slog.String("userID", userID), slog.Any("err", err))
			return nil, fmt.Errorf("failed to unmarshal session (id=%s): %w", doc.Ref.ID, err)
		}
		sessions = append(sessions, rec)
	}
	return sessions, nil
}

// InsertSnapshot adds a per-tick snapshot to the "snapshots" collection as a
// JSON blob. The document ID is the RFC3339 timestamp for efficient range
// queries.
func (f *FirestoreProvider) InsertSnapshot(ctx context.Context, userID string, snap types.Snapshot, version int) error {
	if snap.Timestamp.IsZero() {
		return fmt.Errorf("snapshot missing timestamp")
	}
	jsonBytes, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	coll, err := f.getCollection(userID, "snapshots")
	if err != nil {
		return err
	}
	docID := snap.Timestamp.UTC().Format(time.RFC3339)
	_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": snap.Timestamp,
		"version":   version,
	})
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// GetSnapshotHistory retrieves snapshots within the specified time range.
func (f *FirestoreProvider) GetSnapshotHistory(ctx context.Context, userID string, start, end time.Time) ([]types.Snapshot, error) {
	startDocID := start.UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)

	coll, err := f.getCollection(userID, "snapshots")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var snaps []types.Snapshot
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating snapshots: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "snapshot doc missing json", slog.String("docID", doc.Ref.ID), slog.String("userID", userID), slog.Any("err", err))
			return nil, fmt.Errorf("snapshot document %s missing 'json' field: %w", doc.Ref.ID, err)
		}

		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "snapshot doc json not string", slog.String("docID", doc.Ref.ID), slog.String("userID", userID))
			return nil, fmt.Errorf("snapshot document %s 'json' field is not string", doc.Ref.ID)
		}

		var s types.Snapshot
		if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal snapshot", slog.String("docID", doc.Ref.ID), slog.String("userID", userID), slog.Any("err", err))
			return nil, fmt.Errorf("failed to unmarshal snapshot (id=%s): %w", doc.Ref.ID, err)
		}
		snaps = append(snaps, s)
	}
	return snaps, nil
}

// GetUser retrieves a user from the "users" collection.
func (f *FirestoreProvider) GetUser(ctx context.Context, userID string) (types.User, error) {
	doc, err := f.client.Collection("users").Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return types.User{}, fmt.Errorf("failed to get user %s: %w", userID, err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "user doc missing json", slog.String("userID", userID))
		return types.User{}, fmt.Errorf("user %s missing json: %w", userID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "user doc json not string", slog.String("userID", userID))
		return types.User{}, fmt.Errorf("user %s json not string", userID)
	}

	var user types.User
	if err := json.Unmarshal([]byte(jsonStr), &user); err != nil {
		return types.User{}, fmt.Errorf("failed to unmarshal user %s: %w", userID, err)
	}
	return user, nil
}

// CreateUser creates a new user document in the "users" collection.
func (f *FirestoreProvider) CreateUser(ctx context.Context, user types.User) error {
	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user %s: %w", user.ID, err)
	}
	_, err = f.client.Collection("users").Doc(user.ID).Create(ctx, map[string]interface{}{
		"json": string(userJSON),
	})
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", user.ID, err)
	}
	return nil
}

// UpdateUser updates an existing user document in the "users" collection.
func (f *FirestoreProvider) UpdateUser(ctx context.Context, user types.User) error {
	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user %s: %w", user.ID, err)
	}
	_, err = f.client.Collection("users").Doc(user.ID).Set(ctx, map[string]interface{}{
		"json": string(userJSON),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", user.ID, err)
	}
	return nil
}

// ListUsers retrieves all users from the "users" collection.
func (f *FirestoreProvider) ListUsers(ctx context.Context) ([]types.User, error) {
	iter := f.client.Collection("users").Documents(ctx)
	defer iter.Stop()

	var users []types.User
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating users: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "user doc missing json", slog.String("userID", doc.Ref.ID))
			// Skip malformed documents
			continue
		}
		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "user doc json not string", slog.String("userID", doc.Ref.ID))
			continue
		}

		var user types.User
		if err := json.Unmarshal([]byte(jsonStr), &user); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal user", slog.String("userID", doc.Ref.ID), slog.Any("err", err))
			// Skip malformed JSON
			continue
		}
		users = append(users, user)
	}
	return users, nil
}
