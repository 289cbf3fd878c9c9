// Package notify delivers expense notifications by e-mail through the job queue.
package notify

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/odyssey-erp/expenseflow/internal/approval"
	"github.com/odyssey-erp/expenseflow/internal/directory"
	"github.com/odyssey-erp/expenseflow/internal/expenses"
	"github.com/odyssey-erp/expenseflow/jobs"
)

// Enqueuer hands notification payloads to the worker queue.
type Enqueuer interface {
	EnqueueNotifyEmail(ctx context.Context, payload jobs.NotifyEmailPayload) error
}

// Dispatcher turns expense events into queued e-mail tasks.
type Dispatcher struct {
	queue  Enqueuer
	logger *slog.Logger
}

var _ expenses.Notifier = (*Dispatcher)(nil)

// NewDispatcher constructs Dispatcher.
func NewDispatcher(queue Enqueuer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{queue: queue, logger: logger}
}

// NotifySubmission confirms receipt of an expense to its submitter.
func (d *Dispatcher) NotifySubmission(ctx context.Context, e expenses.Expense, submitter directory.User) error {
	fields := expenseFields(e)
	fields["submitter"] = submitter.Name
	return d.enqueue(ctx, jobs.KindSubmitted, e, []directory.User{submitter}, fields)
}

// NotifyDecision tells the submitter about an approval or rejection.
func (d *Dispatcher) NotifyDecision(ctx context.Context, e expenses.Expense, submitter, approver directory.User, decision approval.Decision, comment string) error {
	fields := expenseFields(e)
	fields["submitter"] = submitter.Name
	fields["approver"] = approver.Name
	fields["approver_role"] = string(approver.Role)
	fields["decision"] = string(decision)
	fields["comment"] = comment
	return d.enqueue(ctx, jobs.KindDecided, e, []directory.User{submitter}, fields)
}

// NotifyReviewNeeded asks the remaining approvers to act.
func (d *Dispatcher) NotifyReviewNeeded(ctx context.Context, e expenses.Expense, recipients []directory.User, approvedBy directory.User) error {
	if len(recipients) == 0 {
		return nil
	}
	fields := expenseFields(e)
	fields["approver"] = approvedBy.Name
	fields["approver_role"] = string(approvedBy.Role)
	return d.enqueue(ctx, jobs.KindReviewNeeded, e, recipients, fields)
}

func (d *Dispatcher) enqueue(ctx context.Context, kind string, e expenses.Expense, users []directory.User, fields map[string]string) error {
	recipients := make([]jobs.Recipient, 0, len(users))
	for _, u := range users {
		if u.Email == "" {
			continue
		}
		recipients = append(recipients, jobs.Recipient{Name: u.Name, Email: u.Email})
	}
	if len(recipients) == 0 {
		d.logger.Warn("notification without deliverable recipients", slog.String("kind", kind), slog.String("expense_id", e.ID.String()))
		return nil
	}
	payload := jobs.NotifyEmailPayload{
		Kind:       kind,
		ExpenseID:  e.ID.String(),
		Recipients: recipients,
		Fields:     fields,
	}
	if err := d.queue.EnqueueNotifyEmail(ctx, payload); err != nil {
		return err
	}
	d.logger.Debug("notification queued", slog.String("kind", kind), slog.String("expense_id", e.ID.String()), slog.Int("recipients", len(recipients)))
	return nil
}

func expenseFields(e expenses.Expense) map[string]string {
	return map[string]string{
		"stage":            strconv.FormatInt(e.Version, 10),
		"title":            e.Title,
		"category":         e.Category,
		"amount":           e.Amount.StringFixed(2),
		"currency":         e.Currency.Code,
		"converted_amount": e.ConvertedAmount.StringFixed(2),
		"status":           string(e.Status),
		"expense_date":     e.ExpenseDate.Format("2006-01-02"),
	}
}
