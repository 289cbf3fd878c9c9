package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/odyssey-erp/expenseflow/internal/jobs"
)

const (
	// TaskRatesWarmup refreshes cached exchange-rate tables ahead of traffic.
	TaskRatesWarmup = "rates:warmup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// RatesWarmupPayload restricts the warm-up to explicit bases. Empty means every
// base currency in use by a company.
type RatesWarmupPayload struct {
	Bases []string `json:"bases,omitempty"`
}

// NewRatesWarmupTask constructs the warm-up task.
func NewRatesWarmupTask(bases ...string) (*asynq.Task, error) {
	body, err := json.Marshal(RatesWarmupPayload{Bases: bases})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRatesWarmup, body, asynq.Queue(QueueDefault)), nil
}

// RateWarmer refreshes cached rate tables.
type RateWarmer interface {
	Warm(ctx context.Context, bases ...string) error
}

// RatesWarmupJob pre-populates the rate cache for active company bases.
type RatesWarmupJob struct {
	Rates   RateWarmer
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Timeout time.Duration
}

// NewRatesWarmupJob wires dependencies for the warm-up handler.
func NewRatesWarmupJob(rates RateWarmer, pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *RatesWarmupJob {
	return &RatesWarmupJob{Rates: rates, Pool: pool, Logger: logger, Metrics: metrics, Timeout: 30 * time.Second}
}

// Handle processes rate warm-up tasks.
func (j *RatesWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Rates == nil {
		return errors.New("rates warmup: handler not configured")
	}
	var payload RatesWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskRatesWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	logger := j.logger()
	bases := payload.Bases
	if len(bases) == 0 {
		var err error
		bases, err = j.fetchBases(ctx)
		if err != nil {
			resultErr = err
			logger.Error("load company bases", slog.Any("error", err))
			return resultErr
		}
	}
	if len(bases) == 0 {
		logger.Info("no bases discovered for warm-up")
		return resultErr
	}

	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	warmCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := j.Rates.Warm(warmCtx, bases...); err != nil {
		resultErr = err
		logger.Warn("rates warm-up incomplete", slog.Any("bases", bases), slog.Any("error", err))
		return resultErr
	}
	logger.Info("completed rates warm-up", slog.Int("bases", len(bases)), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *RatesWarmupJob) fetchBases(ctx context.Context) ([]string, error) {
	if j.Pool == nil {
		return nil, errors.New("rates warmup: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `SELECT DISTINCT base_currency_code FROM companies ORDER BY base_currency_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var bases []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		bases = append(bases, code)
	}
	return bases, rows.Err()
}

func (j *RatesWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRatesWarmup))
	}
	return slog.Default().With(slog.String("job", TaskRatesWarmup))
}

func (j *RatesWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
