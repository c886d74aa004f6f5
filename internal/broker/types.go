// Package broker publishes JSON messages to Kafka.
package broker

import (
	"context"
)

type Producer interface {
	// Publish encodes payload as JSON and writes it to topic under key.
	Publish(ctx context.Context, topic, key string, payload interface{}) error
	Close() error
}
