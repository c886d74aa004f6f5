package worker

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"unicode/utf8"

	"eventpipe/internal/config"
	"eventpipe/pkg/cel"
	"eventpipe/pkg/models"
)

type InvalidEvent struct {
	Event  models.EnrichedEvent
	Reason string
}

// Validator re-checks drained events before they reach storage. Events can
// enter the buffer from a checkpoint or a retry, so ingestion-time checks
// are not relied upon.
type Validator struct {
	cfg   config.ValidationConfig
	rules *cel.RuleSet
}

func NewValidator(cfg config.ValidationConfig, rules *cel.RuleSet) *Validator {
	return &Validator{cfg: cfg, rules: rules}
}

func (v *Validator) Validate(ctx context.Context, ev models.EnrichedEvent) error {
	switch {
	case strings.TrimSpace(ev.EventID) == "":
		return fmt.Errorf("eventId is required")
	case strings.TrimSpace(ev.Timestamp) == "":
		return fmt.Errorf("timestamp is required")
	case strings.TrimSpace(ev.Service) == "":
		return fmt.Errorf("service is required")
	case strings.TrimSpace(ev.Message) == "":
		return fmt.Errorf("message is required")
	}

	if _, err := models.ParseTimestamp(ev.Timestamp); err != nil {
		return err
	}

	if limit := v.cfg.ServiceNameMaxLength; limit > 0 && utf8.RuneCountInString(ev.Service) > limit {
		return fmt.Errorf("service exceeds %d characters", limit)
	}
	if limit := v.cfg.MessageMaxLength; limit > 0 && utf8.RuneCountInString(ev.Message) > limit {
		return fmt.Errorf("message exceeds %d characters", limit)
	}

	failed, err := v.rules.Check(ctx, ev)
	if err != nil {
		return fmt.Errorf("rule evaluation failed: %s: %w", failed, err)
	}
	if failed != "" {
		return fmt.Errorf("rule not satisfied: %s", failed)
	}

	return nil
}

// Split partitions events into valid and invalid, preserving order. Large
// batches are processed in chunks with a scheduler yield between them.
func (v *Validator) Split(ctx context.Context, events []models.EnrichedEvent) ([]models.EnrichedEvent, []InvalidEvent) {
	valid := make([]models.EnrichedEvent, 0, len(events))
	var invalid []InvalidEvent

	chunk := len(events)
	if v.cfg.ChunkSize > 0 && len(events) > v.cfg.ChunkThreshold {
		chunk = v.cfg.ChunkSize
	}

	for start := 0; start < len(events); start += chunk {
		if start > 0 {
			runtime.Gosched()
		}
		for _, ev := range events[start:min(start+chunk, len(events))] {
			if err := v.Validate(ctx, ev); err != nil {
				invalid = append(invalid, InvalidEvent{Event: ev, Reason: err.Error()})
				continue
			}
			valid = append(valid, ev)
		}
	}

	return valid, invalid
}
