package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"keeprates/internal/events"
	"keeprates/internal/fetcher"
	"keeprates/internal/rates"
	"keeprates/internal/retry"
	"keeprates/internal/scheduler"
	"keeprates/internal/storage"
)

var errNilExtractor = errors.New("nil extractor")

// Recorder receives per-source and per-batch outcomes.
type Recorder interface {
	RecordResult(r rates.AttemptResult)
	RecordBatch(b rates.BatchResult)
	RecordPersistenceError(op string)
}

// Options configure the scraping service.
type Options struct {
	// Policies override DefaultPolicy per source id.
	Policies      map[string]retry.Policy
	DefaultPolicy retry.Policy
	// LockKey enables the Postgres advisory lock for scheduled batches when non-zero.
	LockKey   int64
	Scheduler *scheduler.Scheduler
	Publisher events.Publisher
	Metrics   Recorder
}

// Service orchestrates extraction, persistence and event fan-out.
type Service struct {
	registry  *fetcher.Registry
	retrier   *retry.Wrapper
	store     storage.RateStore
	locker    storage.AdvisoryLocker
	publisher events.Publisher
	metrics   Recorder
	scheduler *scheduler.Scheduler
	logger    zerolog.Logger

	policies      map[string]retry.Policy
	defaultPolicy retry.Policy
	lockKey       int64
	newJobID      func() string
}

// New constructs the scraping service. store may be nil, in which case
// results are reported but never persisted.
func New(opts Options, registry *fetcher.Registry, retrier *retry.Wrapper, store storage.RateStore, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	if registry == nil {
		registry, _ = fetcher.NewRegistry()
	}

	return &Service{
		registry:      registry,
		retrier:       retrier,
		store:         store,
		locker:        locker,
		publisher:     opts.Publisher,
		metrics:       opts.Metrics,
		scheduler:     opts.Scheduler,
		logger:        logger.With().Str("component", "service").Logger(),
		policies:      opts.Policies,
		defaultPolicy: opts.DefaultPolicy,
		lockKey:       opts.LockKey,
		newJobID:      uuid.NewString,
	}
}

// Sources lists registered source ids in registration order.
func (s *Service) Sources() []string {
	return s.registry.IDs()
}

// HasSource reports whether id is registered.
func (s *Service) HasSource(id string) bool {
	return s.registry.Has(id)
}

// ScrapeOne runs a single source with retries and persists a successful
// sample. A persistence failure is returned as *rates.PersistenceError while
// the result still reports the extraction as succeeded.
func (s *Service) ScrapeOne(ctx context.Context, id string) (rates.AttemptResult, error) {
	ex, ok := s.registry.Get(id)
	if !ok {
		err := &rates.UnknownSourceError{SourceID: id}
		return rates.Failure(id, err, 0, 0), err
	}

	res := s.retrier.Run(ctx, ex, s.policyFor(id))
	s.recordResult(res)
	if !res.Succeeded {
		return res, nil
	}

	persisted, err := s.persist(ctx, res)
	res.Persisted = persisted
	if err != nil {
		return res, err
	}
	return res, nil
}

// ScrapeAll runs every registered source concurrently and never fails.
func (s *Service) ScrapeAll(ctx context.Context) rates.BatchResult {
	return s.RunBatch(ctx, s.registry.Extractors())
}

// ScrapeSources runs the named subset as one batch.
func (s *Service) ScrapeSources(ctx context.Context, ids []string) (rates.BatchResult, error) {
	extractors := make([]fetcher.Extractor, 0, len(ids))
	for _, id := range ids {
		ex, ok := s.registry.Get(id)
		if !ok {
			return rates.BatchResult{}, &rates.UnknownSourceError{SourceID: id}
		}
		extractors = append(extractors, ex)
	}
	return s.RunBatch(ctx, extractors), nil
}

// RunBatch 并发执行给定来源, 结果按输入顺序排列, 并写入一条批次日志。
func (s *Service) RunBatch(ctx context.Context, extractors []fetcher.Extractor) rates.BatchResult {
	started := time.Now().UTC()
	jobID := s.newJobID()
	logger := s.logger.With().Str("job_id", jobID).Logger()
	logger.Info().Int("sources", len(extractors)).Msg("batch started")

	results := make([]rates.AttemptResult, len(extractors))
	var wg sync.WaitGroup
	for i, ex := range extractors {
		wg.Add(1)
		go func(i int, ex fetcher.Extractor) {
			defer wg.Done()
			results[i] = s.runTask(ctx, ex, logger)
		}(i, ex)
	}
	wg.Wait()

	batch := rates.NewBatchResult(jobID, started, results, time.Since(started))
	if s.metrics != nil {
		s.metrics.RecordBatch(batch)
	}

	if s.store != nil {
		if err := s.store.SaveBatchLog(ctx, storage.BatchLogFromResult(batch)); err != nil {
			s.recordPersistenceError("save_batch_log")
			logger.Error().Err(err).Msg("failed to save batch log")
		}
	}

	if s.publisher != nil {
		if err := s.publisher.PublishBatch(ctx, batch); err != nil {
			logger.Warn().Err(err).Msg("failed to publish batch events")
		}
	}

	logger.Info().
		Str("status", batch.Status()).
		Int("succeeded", batch.Succeeded).
		Int("failed", batch.Failed).
		Dur("elapsed", batch.Elapsed).
		Msg("batch finished")
	return batch
}

// Run begins the scheduled scraping loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.RunScheduledBatch)
}

// RunScheduledBatch scrapes every source for one scheduler slot. With an
// advisory lock configured only one replica runs per slot.
func (s *Service) RunScheduledBatch(ctx context.Context, slot time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("slot", slot).Msg("skip slot because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	s.ScrapeAll(ctx)
	return nil
}

func (s *Service) runTask(ctx context.Context, ex fetcher.Extractor, logger zerolog.Logger) (res rates.AttemptResult) {
	if ex == nil {
		return rates.Failure(rates.UnknownSourceID, errNilExtractor, 0, 0)
	}

	started := time.Now()
	sourceID := rates.UnknownSourceID
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("source", sourceID).Interface("panic", r).Msg("scrape task panicked")
			res = rates.Failure(sourceID, fmt.Errorf("scrape task panic: %v", r), res.Attempts, time.Since(started))
		}
	}()

	sourceID = ex.SourceID()
	res = s.retrier.Run(ctx, ex, s.policyFor(sourceID))
	s.recordResult(res)
	if !res.Succeeded {
		logger.Warn().Str("source", res.SourceID).Str("error_kind", res.ErrorKind).
			Int("attempts", res.Attempts).Str("error", res.Error).Msg("source failed")
		return res
	}

	// Persistence failures leave the extraction result intact.
	res.Persisted, _ = s.persist(ctx, res)
	return res
}

func (s *Service) persist(ctx context.Context, res rates.AttemptResult) (bool, error) {
	if s.store == nil || res.Sample == nil {
		return false, nil
	}
	if err := s.store.SaveSample(ctx, *res.Sample); err != nil {
		s.recordPersistenceError("save_sample")
		s.logger.Error().Err(err).Str("source", res.SourceID).Msg("failed to save sample")
		return false, &rates.PersistenceError{SourceID: res.SourceID, Op: "save sample", Err: err}
	}
	return true, nil
}

func (s *Service) policyFor(id string) retry.Policy {
	if p, ok := s.policies[id]; ok {
		return p
	}
	return s.defaultPolicy
}

func (s *Service) recordResult(res rates.AttemptResult) {
	if s.metrics != nil {
		s.metrics.RecordResult(res)
	}
}

func (s *Service) recordPersistenceError(op string) {
	if s.metrics != nil {
		s.metrics.RecordPersistenceError(op)
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
