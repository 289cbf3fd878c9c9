package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotify carries outbound e-mail so slow SMTP never starves maintenance jobs.
	QueueNotify = "notify"
	// TaskNotifyEmail is the task type for expense notification e-mails.
	TaskNotifyEmail = "notify:email"
)

// Notification kinds rendered by the e-mail worker.
const (
	KindSubmitted    = "submitted"
	KindDecided      = "decided"
	KindReviewNeeded = "review_needed"
)

// Recipient is a single addressee of a notification.
type Recipient struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// NotifyEmailPayload describes one notification fanned out to its recipients.
type NotifyEmailPayload struct {
	Kind       string            `json:"kind"`
	ExpenseID  string            `json:"expense_id"`
	Recipients []Recipient       `json:"recipients"`
	Fields     map[string]string `json:"fields"`
}

// Validate rejects payloads the worker could never deliver.
func (p NotifyEmailPayload) Validate() error {
	switch p.Kind {
	case KindSubmitted, KindDecided, KindReviewNeeded:
	default:
		return fmt.Errorf("jobs: unknown notification kind %q", p.Kind)
	}
	if p.ExpenseID == "" {
		return errors.New("jobs: notification expense id required")
	}
	if len(p.Recipients) == 0 {
		return errors.New("jobs: notification recipients required")
	}
	return nil
}

// TaskID dedupes repeated enqueues of the same notification.
func (p NotifyEmailPayload) TaskID() string {
	parts := []string{TaskNotifyEmail, p.Kind, p.ExpenseID}
	if stage := p.Fields["stage"]; stage != "" {
		parts = append(parts, stage)
	}
	return strings.Join(parts, ":")
}

// NewNotifyEmailTask constructs an Asynq task.
func NewNotifyEmailTask(payload NotifyEmailPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyEmail, data, asynq.Queue(QueueNotify), asynq.MaxRetry(5)), nil
}
