package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"market-data-automation/internal/alerting"
	"market-data-automation/internal/config"
	"market-data-automation/internal/fetcher"
	"market-data-automation/internal/pipeline"
	"market-data-automation/internal/quote"
)

// ErrNoQuotes means the source returned nothing at all for the run.
var ErrNoQuotes = errors.New("no market data fetched")

// Persister stores cleaned batches and exposes the rows needed for dedupe.
type Persister interface {
	Persist(ctx context.Context, batch []quote.CleanQuote) (int, error)
	LoadExisting(ctx context.Context, symbols []string) ([]quote.StoredRecord, error)
}

// Metrics receives per-run counters. *metrics.Recorder implements it.
type Metrics interface {
	RecordQuotes(stage string, n int)
	RecordDropped(reason string, n int)
	RecordAlert(symbol, kind string)
	RecordLastPrice(symbol string, price float64)
	RecordStage(stage string, d time.Duration)
	RecordRun(success bool, at time.Time)
}

// Result summarises one run.
type Result struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Raw      []quote.RawQuote
	Clean    []quote.CleanQuote
	Report   pipeline.Report
	New      int
	Stored   int
	Alerts   []alerting.Event
}

// Service runs the fetch → clean → dedupe → persist and evaluate → notify flow.
type Service struct {
	symbols    []string
	thresholds alerting.ThresholdConfig
	source     fetcher.Source
	cleaner    *pipeline.Cleaner
	persister  Persister
	notifier   alerting.Notifier
	metrics    Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

// New constructs the batch service. notifier and metrics may be nil.
func New(cfg *config.Config, source fetcher.Source, cleaner *pipeline.Cleaner, persister Persister, notifier alerting.Notifier, metrics Metrics, logger zerolog.Logger) *Service {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		symbols:    cfg.Fetch.Symbols,
		thresholds: cfg.Thresholds(),
		source:     source,
		cleaner:    cleaner,
		persister:  persister,
		notifier:   notifier,
		metrics:    metrics,
		logger:     logger.With().Str("component", "service").Logger(),
		now:        time.Now,
	}
}

// Thresholds returns the evaluator configuration built at construction.
func (s *Service) Thresholds() alerting.ThresholdConfig { return s.thresholds }

// RunOnce executes a single batch. It fails on an empty fetch, a schema error
// or a storage failure; notification failures are only logged.
func (s *Service) RunOnce(ctx context.Context) (Result, error) {
	res := Result{RunID: uuid.NewString(), Started: s.now().UTC()}
	logger := s.logger.With().Str("run_id", res.RunID).Logger()
	logger.Info().Strs("symbols", s.symbols).Msg("run started")

	err := s.run(ctx, logger, &res)
	res.Duration = s.now().Sub(res.Started)
	s.metrics.RecordRun(err == nil, s.now())

	if err != nil {
		logger.Error().Err(err).Dur("duration", res.Duration).Msg("run failed")
		return res, err
	}
	logger.Info().
		Int("fetched", len(res.Raw)).
		Int("cleaned", len(res.Clean)).
		Int("new", res.New).
		Int("stored", res.Stored).
		Int("alerts", len(res.Alerts)).
		Dur("duration", res.Duration).
		Msg("run finished")
	return res, nil
}

func (s *Service) run(ctx context.Context, logger zerolog.Logger, res *Result) error {
	start := s.now()
	raw, err := s.source.Fetch(ctx, s.symbols)
	s.metrics.RecordStage("fetch", s.now().Sub(start))
	if err != nil {
		return fmt.Errorf("fetch quotes: %w", err)
	}
	res.Raw = raw
	s.metrics.RecordQuotes("fetched", len(raw))
	if len(raw) == 0 {
		return ErrNoQuotes
	}
	s.recordPrices(raw)

	start = s.now()
	clean, report, err := s.cleaner.Clean(raw)
	s.metrics.RecordStage("clean", s.now().Sub(start))
	if err != nil {
		return fmt.Errorf("clean quotes: %w", err)
	}
	res.Clean, res.Report = clean, report
	s.metrics.RecordQuotes("cleaned", len(clean))
	s.metrics.RecordDropped("missing_price", report.DroppedMissingPrice)
	s.metrics.RecordDropped("invalid_price", report.DroppedInvalidPrice)
	s.metrics.RecordDropped("non_positive_price", report.DroppedNonPositive)

	if len(clean) == 0 {
		logger.Warn().Msg("no valid rows after cleaning; skipping persistence")
	} else if err := s.store(ctx, logger, res); err != nil {
		return err
	}

	s.alert(ctx, logger, res)
	return nil
}

func (s *Service) store(ctx context.Context, logger zerolog.Logger, res *Result) error {
	start := s.now()
	defer func() { s.metrics.RecordStage("persist", s.now().Sub(start)) }()

	existing, err := s.persister.LoadExisting(ctx, pipeline.Symbols(res.Clean))
	if err != nil {
		// The unique constraint still rejects duplicates on insert.
		logger.Warn().Err(err).Msg("load existing rows failed; relying on store constraint")
		existing = nil
	}

	fresh := pipeline.Dedupe(res.Clean, existing)
	res.New = len(fresh)
	if len(fresh) == 0 {
		logger.Info().Msg("no new rows to persist")
		return nil
	}

	stored, err := s.persister.Persist(ctx, fresh)
	res.Stored = stored
	s.metrics.RecordQuotes("stored", stored)
	if err != nil {
		return fmt.Errorf("persist quotes: %w", err)
	}
	return nil
}

func (s *Service) alert(ctx context.Context, logger zerolog.Logger, res *Result) {
	res.Alerts = alerting.Evaluate(res.Raw, s.thresholds, s.now().UTC())
	for _, ev := range res.Alerts {
		s.metrics.RecordAlert(ev.Symbol, string(ev.ThresholdType))
	}
	if len(res.Alerts) == 0 || s.notifier == nil {
		return
	}

	logger.Info().Int("alerts", len(res.Alerts)).Msg("thresholds crossed")
	if err := s.notifier.Deliver(ctx, res.Alerts); err != nil {
		logger.Error().Err(err).Msg("failed to dispatch alerts")
	}
}

func (s *Service) recordPrices(raw []quote.RawQuote) {
	for _, q := range raw {
		symbol, _ := q.Lookup(quote.FieldSymbol)
		name, ok := symbol.(string)
		if !ok || name == "" {
			continue
		}
		price, _ := q.Lookup(quote.FieldPrice)
		if f, ok := pipeline.ToFloat(price); ok {
			s.metrics.RecordLastPrice(name, f)
		}
	}
}

// RunTick adapts RunOnce to the scheduler callback.
func (s *Service) RunTick(ctx context.Context, bucket time.Time) error {
	_, err := s.RunOnce(ctx)
	if errors.Is(err, ErrNoQuotes) {
		s.logger.Warn().Time("bucket", bucket).Msg("tick fetched nothing")
		return nil
	}
	return err
}

type noopMetrics struct{}

func (noopMetrics) RecordQuotes(string, int)          {}
func (noopMetrics) RecordDropped(string, int)         {}
func (noopMetrics) RecordAlert(string, string)        {}
func (noopMetrics) RecordLastPrice(string, float64)   {}
func (noopMetrics) RecordStage(string, time.Duration) {}
func (noopMetrics) RecordRun(bool, time.Time)         {}
