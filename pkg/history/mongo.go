// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/telekom/email-dispatcher/pkg/config"
	"github.com/telekom/email-dispatcher/pkg/metrics"
)

const statusIndexName = "status_idx"

type mongoDocument struct {
	ID              string     `bson:"_id"`
	Recipient       string     `bson:"recipient"`
	Subject         string     `bson:"subject"`
	Content         string     `bson:"content"`
	Status          string     `bson:"status"`
	ErrorMessage    *string    `bson:"errorMessage,omitempty"`
	Attempts        int        `bson:"attempts"`
	CreatedAt       time.Time  `bson:"createdAt"`
	LastAttemptTime *time.Time `bson:"lastAttemptTime,omitempty"`
}

func toMongoDocument(rec EmailHistory) mongoDocument {
	doc := mongoDocument{
		ID:           rec.ID,
		Recipient:    rec.Recipient,
		Subject:      rec.Subject,
		Content:      rec.Content,
		Status:       string(rec.Status),
		ErrorMessage: rec.ErrorMessage,
		Attempts:     rec.Attempts,
		CreatedAt:    rec.CreatedAt.UTC().Truncate(time.Millisecond),
	}
	if rec.LastAttemptTime != nil {
		ts := rec.LastAttemptTime.UTC().Truncate(time.Millisecond)
		doc.LastAttemptTime = &ts
	}
	return doc
}

func (d mongoDocument) toRecord() EmailHistory {
	rec := EmailHistory{
		ID:           d.ID,
		Recipient:    d.Recipient,
		Subject:      d.Subject,
		Content:      d.Content,
		Status:       Status(d.Status),
		ErrorMessage: d.ErrorMessage,
		Attempts:     d.Attempts,
		CreatedAt:    d.CreatedAt.UTC(),
	}
	if d.LastAttemptTime != nil {
		ts := d.LastAttemptTime.UTC()
		rec.LastAttemptTime = &ts
	}
	return rec
}

// MongoStore keeps history records as documents keyed by _id with an index on status.
type MongoStore struct {
	coll *mongo.Collection
	log  *zap.SugaredLogger
}

// NewMongoStore wraps an existing collection.
func NewMongoStore(coll *mongo.Collection, log *zap.SugaredLogger) *MongoStore {
	return &MongoStore{coll: coll, log: log.Named("mongo-store")}
}

// ConnectMongo dials MongoDB, pings it and ensures the status index exists.
// The returned function disconnects the client.
func ConnectMongo(ctx context.Context, cfg config.MongoConfig, log *zap.SugaredLogger) (*MongoStore, func(context.Context) error, error) {
	if cfg.URI == "" {
		return nil, nil, fmt.Errorf("mongo uri is required")
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("pinging mongo: %w", err)
	}

	store := NewMongoStore(client.Database(cfg.Database).Collection(cfg.Collection), log)
	if err := store.EnsureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}

	log.Infow("Connected to mongo history store",
		"database", cfg.Database,
		"collection", cfg.Collection)
	return store, client.Disconnect, nil
}

// EnsureIndexes creates the status index used by FindByStatus.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "status", Value: 1}},
		Options: options.Index().SetName(statusIndexName),
	})
	if err != nil {
		return fmt.Errorf("creating status index on %s: %w", s.coll.Name(), err)
	}
	return nil
}

func (s *MongoStore) Save(ctx context.Context, rec EmailHistory) error {
	_, err := s.coll.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: rec.ID}},
		toMongoDocument(rec),
		options.Replace().SetUpsert(true))
	if err != nil {
		metrics.HistoryStoreErrors.WithLabelValues("mongo", "save").Inc()
		return fmt.Errorf("saving history record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *MongoStore) FindByStatus(ctx context.Context, status Status) ([]EmailHistory, error) {
	cur, err := s.coll.Find(ctx, bson.D{{Key: "status", Value: string(status)}})
	if err != nil {
		metrics.HistoryStoreErrors.WithLabelValues("mongo", "find_by_status").Inc()
		return nil, fmt.Errorf("finding history records with status %s: %w", status, err)
	}
	defer func() {
		if cerr := cur.Close(ctx); cerr != nil {
			s.log.Debugw("Closing mongo cursor failed", "error", cerr)
		}
	}()

	var docs []mongoDocument
	if err := cur.All(ctx, &docs); err != nil {
		metrics.HistoryStoreErrors.WithLabelValues("mongo", "find_by_status").Inc()
		return nil, fmt.Errorf("decoding history records with status %s: %w", status, err)
	}
	out := make([]EmailHistory, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toRecord())
	}
	return out, nil
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (*EmailHistory, bool, error) {
	var doc mongoDocument
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		metrics.HistoryStoreErrors.WithLabelValues("mongo", "find_by_id").Inc()
		return nil, false, fmt.Errorf("finding history record %s: %w", id, err)
	}
	rec := doc.toRecord()
	return &rec, true, nil
}
