// Package reporting derives read-only business metrics from stored events and
// keeps a history of pipeline snapshots.
package reporting

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"eventpipe/internal/config"
	"eventpipe/internal/constants"
	"eventpipe/internal/logger"
	"eventpipe/internal/storage"
)

const topServicesLimit = 10

type BusinessMetrics struct {
	TotalEvents            int64                  `json:"totalEvents"`
	EventsByService        map[string]int64       `json:"eventsByService"`
	EventsLast24Hours      int64                  `json:"eventsLast24Hours"`
	EventsLastHour         int64                  `json:"eventsLastHour"`
	AverageEventsPerMinute float64                `json:"averageEventsPerMinute"`
	TopServices            []storage.ServiceCount `json:"topServices"`
	EventsByHour           []storage.HourlyCount  `json:"eventsByHour"`
	GeneratedAt            time.Time              `json:"generatedAt"`
}

type BusinessService struct {
	agg    storage.AggregateReader
	cache  Cache
	ttl    time.Duration
	logger logger.Logger
	now    func() time.Time
}

// NewBusinessService computes metrics from agg. cache may be nil, in which
// case every call queries storage.
func NewBusinessService(agg storage.AggregateReader, cache Cache, cfg config.ReportingConfig, log logger.Logger) *BusinessService {
	return &BusinessService{
		agg:    agg,
		cache:  cache,
		ttl:    cfg.CacheTTL,
		logger: log,
		now:    time.Now,
	}
}

// BusinessMetrics returns the cached value while it is fresh. Cache failures
// fall through to a direct computation.
func (s *BusinessService) BusinessMetrics(ctx context.Context) (BusinessMetrics, error) {
	if cached, ok := s.fromCache(ctx); ok {
		return cached, nil
	}

	m, err := s.compute(ctx)
	if err != nil {
		return BusinessMetrics{}, err
	}

	s.store(ctx, m)
	return m, nil
}

func (s *BusinessService) fromCache(ctx context.Context) (BusinessMetrics, bool) {
	if s.cache == nil || s.ttl <= 0 {
		return BusinessMetrics{}, false
	}

	raw, err := s.cache.Get(ctx, constants.CacheKeyBusinessMetrics)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.WarnwCtx(ctx, "Business metrics cache read failed", "error", err)
		}
		return BusinessMetrics{}, false
	}

	var m BusinessMetrics
	if err := json.Unmarshal(raw, &m); err != nil {
		s.logger.WarnwCtx(ctx, "Discarding undecodable business metrics cache entry", "error", err)
		return BusinessMetrics{}, false
	}
	return m, true
}

func (s *BusinessService) store(ctx context.Context, m BusinessMetrics) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(m)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Failed to encode business metrics", "error", err)
		return
	}
	if err := s.cache.Set(ctx, constants.CacheKeyBusinessMetrics, raw, s.ttl); err != nil {
		s.logger.WarnwCtx(ctx, "Business metrics cache write failed", "error", err)
	}
}

func (s *BusinessService) compute(ctx context.Context) (BusinessMetrics, error) {
	now := s.now().UTC()
	last24h := now.Add(-24 * time.Hour)
	lastHour := now.Add(-time.Hour)

	var m BusinessMetrics
	var byService []storage.ServiceCount
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		m.TotalEvents, err = s.agg.CountEvents(gctx)
		return err
	})
	g.Go(func() (err error) {
		byService, err = s.agg.CountByService(gctx)
		return err
	})
	g.Go(func() (err error) {
		m.EventsLast24Hours, err = s.agg.CountSince(gctx, last24h)
		return err
	})
	g.Go(func() (err error) {
		m.EventsLastHour, err = s.agg.CountSince(gctx, lastHour)
		return err
	})
	g.Go(func() (err error) {
		m.EventsByHour, err = s.agg.CountByHour(gctx, last24h)
		return err
	})

	if err := g.Wait(); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to compute business metrics", "error", err)
		return BusinessMetrics{}, err
	}

	m.EventsByService = make(map[string]int64, len(byService))
	for _, sc := range byService {
		m.EventsByService[sc.Service] = sc.Count
	}
	m.TopServices = topServices(byService, topServicesLimit)
	if m.EventsByHour == nil {
		m.EventsByHour = []storage.HourlyCount{}
	}
	m.AverageEventsPerMinute = math.Round(float64(m.EventsLast24Hours)/(24*60)*100) / 100
	m.GeneratedAt = now

	return m, nil
}

// topServices expects counts sorted by count descending, as CountByService returns them.
func topServices(counts []storage.ServiceCount, limit int) []storage.ServiceCount {
	n := min(len(counts), limit)
	out := make([]storage.ServiceCount, n)
	copy(out, counts[:n])
	return out
}
