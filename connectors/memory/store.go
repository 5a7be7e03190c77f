// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

// Package memory stores conversation memory entries. Entries are archived
// durably in mongo and mirrored into a bounded per-user recent list in redis,
// which is what the routing tiers read for conversational context.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	// DefaultRecentMax bounds the per-user recent list in redis
	DefaultRecentMax = 20

	// DefaultRecentTTL expires idle recent lists
	DefaultRecentTTL = 30 * 24 * time.Hour

	// DefaultConnectTimeout is the mongo connection timeout
	DefaultConnectTimeout = 10 * time.Second

	recentKeyPrefix = "memory:recent:"
)

// Entry is one stored conversation memory.
type Entry struct {
	ID           string    `bson:"_id,omitempty" json:"id"`
	UserID       string    `bson:"user_id" json:"user_id"`
	Query        string    `bson:"query" json:"query"`
	Summary      string    `bson:"summary" json:"summary"`
	Tier         string    `bson:"tier" json:"tier"`
	Satisfaction float64   `bson:"satisfaction" json:"satisfaction"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
}

// Store archives entries in mongo and keeps a recent window in redis.
// The archive collection may be nil, in which case only the redis window
// is maintained.
type Store struct {
	archive   *mongo.Collection
	cache     *redis.Client
	recentMax int64
	recentTTL time.Duration
}

// Config contains configuration for the memory store.
type Config struct {
	MongoURL   string // Optional: archive disabled when empty
	Database   string // Mongo database name (default: "fiscalia")
	Collection string // Mongo collection name (default: "memories")
	RedisURL   string // Required: recent-window cache
	RecentMax  int64  // Optional: recent window size (default: 20)
	RecentTTL  time.Duration
}

// NewStore connects to redis (and mongo when configured) and returns a Store.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	if cfg.Database == "" {
		cfg.Database = "fiscalia"
	}
	if cfg.Collection == "" {
		cfg.Collection = "memories"
	}
	if cfg.RecentMax <= 0 {
		cfg.RecentMax = DefaultRecentMax
	}
	if cfg.RecentTTL <= 0 {
		cfg.RecentTTL = DefaultRecentTTL
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	cache := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	var archive *mongo.Collection
	if cfg.MongoURL != "" {
		clientOpts := options.Client().
			ApplyURI(cfg.MongoURL).
			SetConnectTimeout(DefaultConnectTimeout).
			SetRetryWrites(true).
			SetRetryReads(true).
			SetAppName("fiscalia-memory")

		connectCtx, connectCancel := context.WithTimeout(ctx, DefaultConnectTimeout)
		defer connectCancel()

		client, err := mongo.Connect(connectCtx, clientOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
			_ = client.Disconnect(ctx)
			return nil, fmt.Errorf("failed to ping mongo: %w", err)
		}
		archive = client.Database(cfg.Database).Collection(cfg.Collection)
	}

	return &Store{
		archive:   archive,
		cache:     cache,
		recentMax: cfg.RecentMax,
		recentTTL: cfg.RecentTTL,
	}, nil
}

// NewStoreWith builds a Store from existing handles. Used by tests and by
// callers that manage connection lifecycles themselves.
func NewStoreWith(archive *mongo.Collection, cache *redis.Client) *Store {
	return &Store{
		archive:   archive,
		cache:     cache,
		recentMax: DefaultRecentMax,
		recentTTL: DefaultRecentTTL,
	}
}

// Save archives the entry and pushes it onto the user's recent window.
// The archive write happens first so a redis failure cannot lose the
// durable copy.
func (s *Store) Save(ctx context.Context, e *Entry) error {
	if e.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	if s.archive != nil {
		if _, err := s.archive.InsertOne(ctx, e); err != nil {
			return fmt.Errorf("failed to archive memory entry: %w", err)
		}
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal memory entry: %w", err)
	}

	key := recentKeyPrefix + e.UserID
	pipe := s.cache.Pipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, s.recentMax-1)
	pipe.Expire(ctx, key, s.recentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update recent window: %w", err)
	}

	return nil
}

// Recent returns the newest entries for a user, most recent first.
// Reads only the redis window; the archive is not consulted.
func (s *Store) Recent(ctx context.Context, userID string, limit int64) ([]Entry, error) {
	if limit <= 0 || limit > s.recentMax {
		limit = s.recentMax
	}

	raw, err := s.cache.LRange(ctx, recentKeyPrefix+userID, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent window: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			// Skip malformed entries rather than failing the whole read
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// History returns archived entries for a user from mongo, newest first.
// Returns an empty slice when the archive is not configured.
func (s *Store) History(ctx context.Context, userID string, limit int64) ([]Entry, error) {
	if s.archive == nil {
		return []Entry{}, nil
	}
	if limit <= 0 {
		limit = 100
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := s.archive.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory archive: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var entries []Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode memory archive: %w", err)
	}
	return entries, nil
}

// HealthCheck verifies the redis connection (and mongo when configured).
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.cache.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unhealthy: %w", err)
	}
	if s.archive != nil {
		if err := s.archive.Database().Client().Ping(ctx, readpref.Primary()); err != nil {
			return fmt.Errorf("mongo unhealthy: %w", err)
		}
	}
	return nil
}
