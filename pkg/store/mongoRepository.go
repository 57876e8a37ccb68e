package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoRepository struct {
	client     *mongo.Client
	database   string
	collection string
}

func NewMongoRepository(client *mongo.Client, database, collection string) *MongoRepository {
	return &MongoRepository{
		client:     client,
		database:   database,
		collection: collection,
	}
}

func (m *MongoRepository) coll() *mongo.Collection {
	return m.client.Database(m.database).Collection(m.collection)
}

func (m *MongoRepository) Add(ctx context.Context, msg *OutboxMessage) (string, error) {
	err := withSpan(ctx, "mongodb", "Add", func(ctx context.Context) (int, error) {
		prepareAdd(msg, time.Now().UTC())
		filter := bson.M{"id": msg.ID}
		update := bson.M{
			"$set": bson.M{
				"type":           msg.Type,
				"payload":        msg.Payload,
				"metadata":       msg.Metadata,
				"status":         msg.Status,
				"failure_reason": msg.FailureReason,
				"updated_at":     msg.UpdatedAt,
			},
			"$setOnInsert": bson.M{
				"created_at": msg.CreatedAt,
			},
		}
		_, err := m.coll().UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
		if err != nil {
			return 0, err
		}
		return 1, nil
	})
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (m *MongoRepository) Update(ctx context.Context, msg *OutboxMessage) error {
	return withSpan(ctx, "mongodb", "Update", func(ctx context.Context) (int, error) {
		msg.UpdatedAt = time.Now().UTC()
		set := bson.M{
			"status":         msg.Status,
			"failure_reason": msg.FailureReason,
			"updated_at":     msg.UpdatedAt,
		}
		if msg.Metadata != nil {
			set["metadata"] = msg.Metadata
		}
		res, err := m.coll().UpdateOne(ctx, bson.M{"id": msg.ID}, bson.M{"$set": set})
		if err != nil {
			return 0, err
		}
		if res.MatchedCount == 0 {
			return 0, ErrNotFound
		}
		return int(res.ModifiedCount), nil
	})
}

func (m *MongoRepository) Get(ctx context.Context, id string) (*OutboxMessage, error) {
	var msg OutboxMessage
	err := withSpan(ctx, "mongodb", "Get", func(ctx context.Context) (int, error) {
		err := m.coll().FindOne(ctx, bson.M{"id": id}).Decode(&msg)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ErrNotFound
		}
		if err != nil {
			return 0, err
		}
		return 1, nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (m *MongoRepository) FetchPending(ctx context.Context, olderThan time.Time, limit int) ([]OutboxMessage, error) {
	var messages []OutboxMessage
	err := withSpan(ctx, "mongodb", "FetchPending", func(ctx context.Context) (int, error) {
		filter := bson.M{
			"status":     StatusPending,
			"updated_at": bson.M{"$lt": olderThan},
		}
		opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: 1}})
		if limit > 0 {
			opts.SetLimit(int64(limit))
		}
		cursor, err := m.coll().Find(ctx, filter, opts)
		if err != nil {
			return 0, err
		}
		defer cursor.Close(ctx)

		for cursor.Next(ctx) {
			var msg OutboxMessage
			if err := cursor.Decode(&msg); err != nil {
				return 0, err
			}
			messages = append(messages, msg)
		}
		if err := cursor.Err(); err != nil {
			return 0, err
		}
		return len(messages), nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}
