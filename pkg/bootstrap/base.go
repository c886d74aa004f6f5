// Package bootstrap opens and closes the external connections of the
// service.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"eventpipe/internal/broker"
	"eventpipe/internal/config"
	"eventpipe/internal/logger"
)

type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Producer broker.Producer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// InitBroker creates the Kafka producer when dead-letter notifications are
// enabled. Producer stays nil otherwise.
func (b *Base) InitBroker() error {
	if !b.Config.KafkaEnabled() {
		b.Logger.Infow("Kafka dead-letter notifications disabled")
		return nil
	}

	producer, err := broker.NewProducer(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}

	b.Producer = producer
	b.Logger.Infow("Kafka producer ready",
		"brokers", b.Config.Broker.Kafka.Brokers,
		"topic", b.Config.Broker.Kafka.DLQTopic,
	)
	return nil
}

func (b *Base) ShutdownBroker() error {
	if b.Producer == nil {
		return nil
	}
	if err := b.Producer.Close(); err != nil {
		return fmt.Errorf("producer close error: %w", err)
	}
	return nil
}

// Shutdown runs additionalShutdown and then closes the broker, which stays
// usable while the caller drains in-flight work. Every step runs even when an
// earlier one failed.
func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Infow("Shutting down application...")

	var errs []error
	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}
	if err := b.ShutdownBroker(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown errors: %w", err)
	}

	b.Logger.Infow("Application exited successfully")
	return nil
}
