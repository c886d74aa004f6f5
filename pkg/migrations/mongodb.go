// Package migrations prepares MongoDB collections used for reporting.
package migrations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureMetricsHistoryCollection creates the indexes of the snapshot
// collection. A positive retention adds a TTL index on timestamp so MongoDB
// expires old snapshots itself.
func EnsureMetricsHistoryCollection(ctx context.Context, db *mongo.Database, name string, retention time.Duration) error {
	collection := db.Collection(name)

	tsIndex := options.Index().SetName("idx_" + name + "_timestamp")
	if retention > 0 {
		tsIndex.SetExpireAfterSeconds(int32(retention.Seconds()))
	}

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "timestamp", Value: -1}},
			Options: tsIndex,
		},
		{
			Keys:    bson.D{{Key: "circuit_breaker.state", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_" + name + "_breaker_state_timestamp"),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil && !isIndexConflict(err) {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// isIndexConflict reports an index that exists with different options, for
// example after the retention setting changed. The old index keeps working.
func isIndexConflict(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "IndexOptionsConflict")
}
