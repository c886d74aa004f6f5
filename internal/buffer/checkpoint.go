package buffer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"eventpipe/internal/config"
	"eventpipe/internal/logger"
	"eventpipe/pkg/metrics"
	"eventpipe/pkg/models"
)

// LoadResult summarizes a checkpoint replay.
type LoadResult struct {
	Loaded    int
	Skipped   int
	Truncated bool
}

// Checkpointer periodically writes the buffer's unconsumed events to disk
// and replays them on startup.
type Checkpointer struct {
	buf      *Buffer
	path     string
	interval time.Duration
	logger   logger.Logger

	mu sync.Mutex
}

func NewCheckpointer(buf *Buffer, cfg config.CheckpointConfig, log logger.Logger) *Checkpointer {
	return &Checkpointer{
		buf:      buf,
		path:     cfg.Path,
		interval: cfg.Interval,
		logger:   log,
	}
}

func (c *Checkpointer) Path() string {
	return c.path
}

// Load replays a checkpoint into the buffer. It must run before the buffer
// accepts new events. A missing file is not an error. The file is removed
// after a successful read so the same events are not replayed twice.
func (c *Checkpointer) Load(ctx context.Context) (LoadResult, error) {
	var res LoadResult

	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Debugw("No checkpoint file found", "path", c.path)
		return res, nil
	}
	if err != nil {
		metrics.IncCheckpoint("load", "error")
		return res, fmt.Errorf("read checkpoint %s: %w", c.path, err)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		metrics.IncCheckpoint("load", "invalid")
		c.logger.Warnw("Checkpoint file is not a valid JSON array, ignoring",
			"path", c.path,
			"error", err,
		)
		return res, nil
	}

	for _, raw := range records {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if c.buf.IsFull() {
			res.Truncated = true
			c.logger.Warnw("Buffer full while loading checkpoint, stopping",
				"loaded", res.Loaded,
				"capacity", c.buf.Capacity(),
				"remaining", len(records)-res.Loaded-res.Skipped,
			)
			break
		}

		ev, err := decodeCheckpointRecord(raw)
		if err != nil {
			res.Skipped++
			c.logger.Warnw("Invalid event in checkpoint, skipping",
				"error", err,
			)
			continue
		}

		if !c.buf.Enqueue(ev) {
			res.Truncated = true
			break
		}
		res.Loaded++
	}

	if res.Skipped > 0 {
		c.logger.Warnw("Checkpoint contained invalid events",
			"loaded", res.Loaded,
			"skipped", res.Skipped,
		)
	}
	if res.Loaded > 0 {
		c.logger.Infow("Recovered events from checkpoint",
			"loaded", res.Loaded,
			"path", c.path,
		)
	}

	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warnw("Failed to delete checkpoint file", "path", c.path, "error", err)
	}
	metrics.IncCheckpoint("load", "success")

	return res, nil
}

type checkpointRecord struct {
	EventID    *string         `json:"eventId"`
	Timestamp  *string         `json:"timestamp"`
	Service    *string         `json:"service"`
	Message    *string         `json:"message"`
	Metadata   json.RawMessage `json:"metadata"`
	IngestedAt *string         `json:"ingestedAt"`
	RetryCount int             `json:"retryCount"`
}

func decodeCheckpointRecord(raw json.RawMessage) (models.EnrichedEvent, error) {
	var rec checkpointRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.EnrichedEvent{}, fmt.Errorf("malformed record: %w", err)
	}

	switch {
	case rec.EventID == nil:
		return models.EnrichedEvent{}, errors.New("missing eventId")
	case rec.Timestamp == nil:
		return models.EnrichedEvent{}, errors.New("missing timestamp")
	case rec.Service == nil:
		return models.EnrichedEvent{}, errors.New("missing service")
	case rec.Message == nil:
		return models.EnrichedEvent{}, errors.New("missing message")
	case rec.IngestedAt == nil:
		return models.EnrichedEvent{}, errors.New("missing ingestedAt")
	}

	if !models.IsValidEventID(*rec.EventID) {
		return models.EnrichedEvent{}, fmt.Errorf("invalid eventId %q", *rec.EventID)
	}
	if _, err := models.ParseTimestamp(*rec.Timestamp); err != nil {
		return models.EnrichedEvent{}, fmt.Errorf("event %s: %w", *rec.EventID, err)
	}
	if _, err := models.ParseTimestamp(*rec.IngestedAt); err != nil {
		return models.EnrichedEvent{}, fmt.Errorf("event %s ingestedAt: %w", *rec.EventID, err)
	}

	ev := models.EnrichedEvent{
		EventID:    *rec.EventID,
		Timestamp:  *rec.Timestamp,
		Service:    *rec.Service,
		Message:    *rec.Message,
		IngestedAt: *rec.IngestedAt,
		RetryCount: rec.RetryCount,
	}
	if len(rec.Metadata) > 0 && string(rec.Metadata) != "null" {
		ev.Metadata = append(ev.Metadata, rec.Metadata...)
	}
	return ev, nil
}

// Save writes the current contents to a temporary file and renames it over
// the checkpoint path. An empty buffer leaves the previous checkpoint alone.
func (c *Checkpointer) Save(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := c.buf.Snapshot()
	if len(events) == 0 {
		return 0, nil
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	data, err := json.Marshal(events)
	if err != nil {
		metrics.IncCheckpoint("save", "error")
		return 0, fmt.Errorf("encode checkpoint: %w", err)
	}

	if err := writeFileAtomic(c.path, data); err != nil {
		metrics.IncCheckpoint("save", "error")
		return 0, err
	}

	metrics.IncCheckpoint("save", "success")
	c.logger.Debugw("Checkpoint saved", "events", len(events), "path", c.path)
	return len(events), nil
}

func writeFileAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open temp checkpoint: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp checkpoint: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Run saves on every interval until ctx is done. Save failures are logged
// and never stop the loop.
func (c *Checkpointer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Infow("Checkpointing started", "interval", c.interval.String(), "path", c.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.Save(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Errorw("Failed to save checkpoint", "path", c.path, "error", err)
			}
		}
	}
}

// Final writes a last checkpoint during shutdown, after the worker has
// drained what it could.
func (c *Checkpointer) Final(ctx context.Context) {
	n, err := c.Save(ctx)
	if err != nil {
		c.logger.Errorw("Failed to save final checkpoint", "path", c.path, "error", err)
		return
	}
	if n > 0 {
		c.logger.Infow("Saved final checkpoint", "events", n, "path", c.path)
	}
}
