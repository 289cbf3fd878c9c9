package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/odyssey-erp/expenseflow/internal/jobs"
	"github.com/odyssey-erp/expenseflow/jobs"
)

// EmailJob renders and sends queued notification e-mails.
type EmailJob struct {
	Renderer    *Renderer
	Sender      Sender
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	SendTimeout time.Duration
	Parallelism int
}

// Handle processes notify:email tasks. Delivery is at-least-once: any failed
// recipient fails the task and asynq retries it.
func (j *EmailJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Renderer == nil || j.Sender == nil {
		return errors.New("notify email: handler not configured")
	}
	var payload jobs.NotifyEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("notify email: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(jobs.TaskNotifyEmail)
	logger := j.logger().With(slog.String("kind", payload.Kind), slog.String("expense_id", payload.ExpenseID))

	messages := make([]Message, 0, len(payload.Recipients))
	for _, to := range payload.Recipients {
		msg, err := j.Renderer.Render(payload, to)
		if err != nil {
			logger.Error("render notification", slog.Any("error", err))
			return tracker.End(fmt.Errorf("%v: %w", err, asynq.SkipRetry))
		}
		messages = append(messages, msg)
	}

	var (
		mu     sync.Mutex
		failed []jobs.Recipient
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.parallelism())
	for _, msg := range messages {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(gctx, j.sendTimeout())
			defer cancel()
			if err := j.Sender.Send(sendCtx, msg); err != nil {
				logger.Warn("send notification", slog.String("to", msg.To.Email), slog.Any("error", err))
				mu.Lock()
				failed = append(failed, msg.To)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	sent := len(messages) - len(failed)
	j.metrics().AddEmails(payload.Kind, "sent", sent)
	j.metrics().AddEmails(payload.Kind, "failed", len(failed))
	if len(failed) == 0 {
		logger.Info("notification delivered", slog.Int("recipients", sent))
		return tracker.End(nil)
	}
	return tracker.End(fmt.Errorf("notify email: %d of %d deliveries failed", len(failed), len(messages)))
}

func (j *EmailJob) sendTimeout() time.Duration {
	if j.SendTimeout > 0 {
		return j.SendTimeout
	}
	return 10 * time.Second
}

func (j *EmailJob) parallelism() int {
	if j.Parallelism > 0 {
		return j.Parallelism
	}
	return 4
}

func (j *EmailJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", jobs.TaskNotifyEmail))
	}
	return slog.Default().With(slog.String("job", jobs.TaskNotifyEmail))
}

func (j *EmailJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}
