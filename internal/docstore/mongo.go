package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pubflow/internal/domain"
)

const StatusScheduled = "scheduled"

// Config points at the content collection whose documents receive scheduled dates.
type Config struct {
	URI        string
	Database   string
	Collection string
}

// Mongo writes scheduled dates back onto content documents.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger zerolog.Logger
}

func Connect(ctx context.Context, cfg Config, logger zerolog.Logger) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	logger.Info().Str("database", cfg.Database).Str("collection", cfg.Collection).Msg("connected to MongoDB")
	return &Mongo{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		logger: logger,
	}, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Apply upserts one document per assignment in a single unordered bulk write.
func (m *Mongo) Apply(ctx context.Context, as []domain.ScheduledAssignment) error {
	if len(as) == 0 {
		return nil
	}
	res, err := m.coll.BulkWrite(ctx, writeModels(as), options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("bulk update %d documents: %w", len(as), err)
	}
	m.logger.Info().
		Int64("matched", res.MatchedCount).
		Int64("modified", res.ModifiedCount).
		Int64("upserted", res.UpsertedCount).
		Msg("content documents scheduled")
	return nil
}

func writeModels(as []domain.ScheduledAssignment) []mongo.WriteModel {
	models := make([]mongo.WriteModel, 0, len(as))
	for _, a := range as {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": a.Item.ID}).
			SetUpdate(bson.M{"$set": scheduledFields(a)}).
			SetUpsert(true))
	}
	return models
}

func scheduledFields(a domain.ScheduledAssignment) bson.M {
	fields := bson.M{
		"status":       StatusScheduled,
		"scheduled_at": a.ScheduledAt,
		"created_at":   a.CreatedAt,
		"published_at": a.PublishedAt,
		"updated_at":   a.UpdatedAt,
	}
	if a.Item.Title != "" {
		fields["title"] = a.Item.Title
	}
	return fields
}
