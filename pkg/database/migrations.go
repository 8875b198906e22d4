package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guardian/pkg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Migration struct {
	Version     int
	Description string
	Up          func(context.Context, *mongo.Database) error
	Down        func(context.Context, *mongo.Database) error
}

type Migrator struct {
	db         *mongo.Database
	migrations []Migration
	log        *logger.Logger
}

func NewMigrator(db *mongo.Database, log *logger.Logger) *Migrator {
	return &Migrator{
		db:         db,
		migrations: getMigrations(),
		log:        log,
	}
}

func (m *Migrator) Up(ctx context.Context) error {
	currentVersion, err := m.getCurrentVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range m.migrations {
		if migration.Version <= currentVersion {
			continue
		}

		m.log.WithField("version", migration.Version).Infof("Running migration: %s", migration.Description)

		if err := migration.Up(ctx, m.db); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := m.updateVersion(ctx, migration.Version); err != nil {
			return fmt.Errorf("failed to update migration version: %w", err)
		}
	}

	return nil
}

func (m *Migrator) Down(ctx context.Context, targetVersion int) error {
	currentVersion, err := m.getCurrentVersion(ctx)
	if err != nil {
		return err
	}

	for i := len(m.migrations) - 1; i >= 0; i-- {
		migration := m.migrations[i]
		if migration.Version > currentVersion || migration.Version <= targetVersion {
			continue
		}

		m.log.WithField("version", migration.Version).Infof("Reverting migration: %s", migration.Description)

		if err := migration.Down(ctx, m.db); err != nil {
			return fmt.Errorf("migration %d rollback failed: %w", migration.Version, err)
		}

		previousVersion := targetVersion
		if i > 0 {
			previousVersion = m.migrations[i-1].Version
		}
		if err := m.updateVersion(ctx, previousVersion); err != nil {
			return fmt.Errorf("failed to update migration version: %w", err)
		}
	}

	return nil
}

func (m *Migrator) getCurrentVersion(ctx context.Context) (int, error) {
	var result struct {
		Version int `bson:"version"`
	}

	err := m.db.Collection(collectionMigrations).FindOne(ctx, bson.D{}).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read migration version: %w", err)
	}

	return result.Version, nil
}

func (m *Migrator) updateVersion(ctx context.Context, version int) error {
	_, err := m.db.Collection(collectionMigrations).ReplaceOne(
		ctx,
		bson.D{},
		bson.D{{Key: "version", Value: version}, {Key: "updated_at", Value: time.Now().UTC()}},
		options.Replace().SetUpsert(true),
	)
	return err
}

// ActiveSessionIndex backs the one-active-session-per-owner rule; inserts that
// violate it fail with a duplicate key error.
const ActiveSessionIndex = "uniq_active_session_per_user"

func getMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create tracking_sessions indexes",
			Up:          createTrackingSessionIndexes,
			Down:        dropIndexes(CollectionTrackingSessions),
		},
		{
			Version:     2,
			Description: "Create alerts indexes",
			Up:          createAlertIndexes,
			Down:        dropIndexes(CollectionAlerts),
		},
		{
			Version:     3,
			Description: "Create notifications indexes",
			Up:          createNotificationIndexes,
			Down:        dropIndexes(CollectionNotifications),
		},
		{
			Version:     4,
			Description: "Create profiles indexes",
			Up:          createProfileIndexes,
			Down:        dropIndexes(CollectionProfiles),
		},
	}
}

func createTrackingSessionIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().
				SetName(ActiveSessionIndex).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": "active"}),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "started_at", Value: -1}},
			Options: options.Index().SetName("user_started_at"),
		},
		{
			Keys:    bson.D{{Key: "watcher_ids", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("watcher_status"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index().SetName("status"),
		},
		{
			Keys:    bson.D{{Key: "current_location", Value: "2dsphere"}},
			Options: options.Index().SetName("current_location_geo"),
		},
	}

	_, err := db.Collection(CollectionTrackingSessions).Indexes().CreateMany(ctx, indexes)
	return err
}

func createAlertIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("created_at"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("user_created_at"),
		},
		{
			Keys:    bson.D{{Key: "location", Value: "2dsphere"}},
			Options: options.Index().SetName("location_geo"),
		},
	}

	_, err := db.Collection(CollectionAlerts).Indexes().CreateMany(ctx, indexes)
	return err
}

func createNotificationIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("user_created_at"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "is_read", Value: 1}},
			Options: options.Index().SetName("user_is_read"),
		},
	}

	_, err := db.Collection(CollectionNotifications).Indexes().CreateMany(ctx, indexes)
	return err
}

func createProfileIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "device_tokens.token", Value: 1}},
			Options: options.Index().SetName("device_token"),
		},
		{
			Keys:    bson.D{{Key: "full_name", Value: 1}},
			Options: options.Index().SetName("full_name"),
		},
	}

	_, err := db.Collection(CollectionProfiles).Indexes().CreateMany(ctx, indexes)
	return err
}

func dropIndexes(collection string) func(context.Context, *mongo.Database) error {
	return func(ctx context.Context, db *mongo.Database) error {
		_, err := db.Collection(collection).Indexes().DropAll(ctx)
		return err
	}
}
