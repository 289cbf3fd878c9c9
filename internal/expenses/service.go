package expenses

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/expenseflow/internal/approval"
	"github.com/odyssey-erp/expenseflow/internal/currency"
	"github.com/odyssey-erp/expenseflow/internal/directory"
	"github.com/odyssey-erp/expenseflow/internal/shared"
	"github.com/odyssey-erp/expenseflow/internal/workflows"
)

const (
	defaultCallTimeout = 5 * time.Second
	maxTitleLength     = 200
)

// Deps bundles the collaborators of Service.
type Deps struct {
	Repo            Repository
	Workflows       WorkflowSource
	Directory       Directory
	Currency        CurrencyConverter
	Notifier        Notifier
	Locker          Locker
	Idempotency     IdempotencyPort
	Audit           AuditPort
	Metrics         Metrics
	Logger          *slog.Logger
	ReceiptMaxBytes int64
	// CallTimeout bounds conversion and notification calls.
	CallTimeout time.Duration
	Now         func() time.Time
}

// Service orchestrates expense submission and approval.
type Service struct {
	repo            Repository
	workflows       WorkflowSource
	directory       Directory
	currency        CurrencyConverter
	notifier        Notifier
	locker          Locker
	idempotency     IdempotencyPort
	audit           AuditPort
	metrics         Metrics
	logger          *slog.Logger
	receiptMaxBytes int64
	callTimeout     time.Duration
	now             func() time.Time
}

// NewService constructs Service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	timeout := deps.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Service{
		repo:            deps.Repo,
		workflows:       deps.Workflows,
		directory:       deps.Directory,
		currency:        deps.Currency,
		notifier:        deps.Notifier,
		locker:          deps.Locker,
		idempotency:     deps.Idempotency,
		audit:           deps.Audit,
		metrics:         deps.Metrics,
		logger:          logger,
		receiptMaxBytes: deps.ReceiptMaxBytes,
		callTimeout:     timeout,
		now:             now,
	}
}

// Submit validates, converts, routes and persists a new expense.
// A non-empty idempotency key makes retries of the same submission fail with a conflict.
func (s *Service) Submit(ctx context.Context, actor shared.Actor, draft Draft, idempotencyKey string) (Expense, error) {
	if err := validateDraft(draft, s.now()); err != nil {
		return Expense{}, err
	}
	submitter, err := s.activeMember(ctx, actor)
	if err != nil {
		return Expense{}, err
	}
	company, err := s.directory.GetCompany(ctx, submitter.CompanyID)
	if err != nil {
		return Expense{}, err
	}

	cur, err := s.resolveCurrency(draft, company)
	if err != nil {
		return Expense{}, err
	}
	conversion, err := s.convert(ctx, draft.Amount, cur.Code, company.BaseCurrency.Code)
	if err != nil {
		return Expense{}, err
	}
	if err := checkLimit(company, conversion.ConvertedAmount); err != nil {
		return Expense{}, err
	}
	receipt, err := PrepareReceipt(draft.Receipt, s.receiptMaxBytes)
	if err != nil {
		return Expense{}, err
	}

	now := s.now()
	expense := Expense{
		ID:          uuid.New(),
		CompanyID:   submitter.CompanyID,
		SubmittedBy: submitter.ID,
		Title:       strings.TrimSpace(draft.Title),
		Description: strings.TrimSpace(draft.Description),
		Currency:    cur,
		Category:    strings.TrimSpace(draft.Category),
		ExpenseDate: draft.ExpenseDate.UTC(),
		SubmittedAt: now,
		Status:      approval.StatusPending,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}.Reprice(draft.Amount, conversion.Rate)
	if receipt != nil {
		meta := receipt.ReceiptMeta
		expense.Receipt = &meta
	}

	wf, err := workflows.FindApplicable(ctx, s.workflows, expense.CompanyID, workflows.Subject{
		ConvertedAmount: expense.ConvertedAmount,
		Category:        expense.Category,
		Role:            submitter.Role,
	})
	if err != nil {
		return Expense{}, err
	}

	history := []approval.HistoryEntry{{
		ActorID: submitter.ID,
		Role:    submitter.Role,
		Action:  shared.ApprovalSubmit,
		At:      now,
	}}
	var autoApprover *directory.User
	if wf != nil {
		id := wf.ID
		expense.WorkflowID = &id
		if approverID, ok := approval.AutoApprover(wf, expense.State()); ok {
			approver, err := s.directory.GetUser(ctx, approverID)
			switch {
			case err == nil && approver.CompanyID == expense.CompanyID && approver.IsActive:
				if approval.ShouldAutoApprove(wf, expense.State(), approver.ID) {
					state, entry := approval.AutoApprove(expense.State(), approver.ID, approver.Role, now)
					expense = expense.WithState(state)
					history = append(history, entry)
					autoApprover = &approver
				}
			case err != nil && !errors.Is(err, directory.ErrUserNotFound):
				return Expense{}, err
			default:
				s.logger.Warn("auto-approver unavailable",
					slog.String("workflow_id", wf.ID.String()),
					slog.String("approver_id", approverID.String()))
			}
		}
		if !expense.AutoApproved {
			expense.Status = approval.StatusProcessing
		}
	}

	if idempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idempotencyKey, Module); err != nil {
			return Expense{}, err
		}
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.Insert(ctx, expense, receipt); err != nil {
			return err
		}
		for _, entry := range history {
			if err := tx.AppendHistory(ctx, expense.ID, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if idempotencyKey != "" && s.idempotency != nil {
			if delErr := s.idempotency.Delete(context.WithoutCancel(ctx), idempotencyKey, Module); delErr != nil {
				s.logger.Error("release idempotency key", slog.Any("error", delErr))
			}
		}
		return Expense{}, err
	}

	s.logger.Info("expense submitted",
		slog.String("expense_id", expense.ID.String()),
		slog.String("company_id", expense.CompanyID.String()),
		slog.String("status", string(expense.Status)),
		slog.Bool("auto_approved", expense.AutoApproved))
	if s.metrics != nil {
		s.metrics.ExpenseSubmitted(expense.Status, expense.AutoApproved)
	}
	s.recordAudit(ctx, submitter.ID, "EXPENSE_SUBMIT", expense.ID, map[string]any{
		"amount":           expense.Amount.String(),
		"currency":         expense.Currency.Code,
		"converted_amount": expense.ConvertedAmount.String(),
		"rate_source":      conversion.Source,
		"status":           string(expense.Status),
	})

	s.notify(ctx, "submission", func(ctx context.Context) error {
		return s.notifier.NotifySubmission(ctx, expense, submitter)
	})
	if autoApprover != nil {
		approver := *autoApprover
		s.notify(ctx, "decision", func(ctx context.Context) error {
			return s.notifier.NotifyDecision(ctx, expense, submitter, approver, approval.DecisionApproved, "auto-approved by workflow")
		})
	}
	return expense, nil
}

// ProcessApproval applies one approve or reject decision.
func (s *Service) ProcessApproval(ctx context.Context, actor shared.Actor, expenseID uuid.UUID, decision approval.Decision, comment string) (Result, error) {
	approver, err := s.activeMember(ctx, actor)
	if err != nil {
		return Result{}, err
	}
	expense, err := s.load(ctx, approver.CompanyID, expenseID)
	if err != nil {
		return Result{}, err
	}
	action := approval.Action{
		ApproverID: approver.ID,
		Role:       approver.Role,
		Decision:   decision,
		Comment:    strings.TrimSpace(comment),
	}
	// Guard violations surface without taking the lock.
	if err := approval.CheckAction(expense.State(), action); err != nil {
		return Result{}, err
	}

	var updated Expense
	err = s.locker.WithLock(ctx, shared.ExpenseLockKey(expenseID), func(ctx context.Context) error {
		current, err := s.load(ctx, approver.CompanyID, expenseID)
		if err != nil {
			return err
		}
		action.At = s.now()
		state, entry, err := approval.Apply(current.State(), action)
		if err != nil {
			return err
		}
		next := current.WithState(state)
		next.UpdatedAt = action.At
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			saved, err := tx.Update(ctx, next, nil)
			if err != nil {
				return err
			}
			if err := tx.AppendHistory(ctx, saved.ID, entry); err != nil {
				return err
			}
			updated = saved
			return nil
		})
	})
	if err != nil {
		return Result{}, err
	}

	s.logger.Info("expense decision",
		slog.String("expense_id", updated.ID.String()),
		slog.String("actor_id", approver.ID.String()),
		slog.String("role", string(approver.Role)),
		slog.String("decision", string(decision)),
		slog.String("status", string(updated.Status)))
	if s.metrics != nil {
		s.metrics.ApprovalDecided(decision, updated.Status)
	}
	s.recordAudit(ctx, approver.ID, "EXPENSE_"+strings.ToUpper(string(decision)), updated.ID, map[string]any{
		"role":   string(approver.Role),
		"status": string(updated.Status),
	})

	wf := s.workflowFor(ctx, updated)
	history, err := s.repo.History(ctx, updated.ID)
	if err != nil {
		s.logger.Warn("load approval history", slog.String("expense_id", updated.ID.String()), slog.Any("error", err))
	}
	result := Result{Expense: updated, Summary: approval.Summarize(updated.State(), wf, history)}

	submitter, err := s.directory.GetUser(ctx, updated.SubmittedBy)
	if err != nil {
		s.logger.Warn("resolve submitter for notification", slog.String("expense_id", updated.ID.String()), slog.Any("error", err))
		return result, nil
	}
	s.notify(ctx, "decision", func(ctx context.Context) error {
		return s.notifier.NotifyDecision(ctx, updated, submitter, approver, decision, action.Comment)
	})
	if updated.Status == approval.StatusProcessing {
		recipients := s.pendingReviewers(ctx, updated, wf, approver)
		if len(recipients) > 0 {
			s.notify(ctx, "review", func(ctx context.Context) error {
				return s.notifier.NotifyReviewNeeded(ctx, updated, recipients, approver)
			})
		}
	}
	return result, nil
}

// Get returns one expense visible to viewer.
func (s *Service) Get(ctx context.Context, viewer shared.Actor, id uuid.UUID) (Expense, error) {
	expense, err := s.load(ctx, viewer.CompanyID, id)
	if err != nil {
		return Expense{}, err
	}
	if err := canView(viewer, expense); err != nil {
		return Expense{}, err
	}
	return expense, nil
}

// Summary returns the approval summary of an expense visible to viewer.
func (s *Service) Summary(ctx context.Context, viewer shared.Actor, id uuid.UUID) (Result, error) {
	expense, err := s.Get(ctx, viewer, id)
	if err != nil {
		return Result{}, err
	}
	history, err := s.repo.History(ctx, id)
	if err != nil {
		return Result{}, err
	}
	wf := s.workflowFor(ctx, expense)
	return Result{Expense: expense, Summary: approval.Summarize(expense.State(), wf, history)}, nil
}

// List returns a page of expenses. Employees only see their own.
func (s *Service) List(ctx context.Context, viewer shared.Actor, filter Filter, page shared.Pagination) (ListResult, error) {
	filter.CompanyID = viewer.CompanyID
	if !viewer.Role.CanReview() {
		id := viewer.ID
		filter.SubmittedBy = &id
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return ListResult{}, shared.Validation(map[string]string{"status": "unknown status"})
	}
	page = shared.NewPagination(page.Page, page.PerPage, 0)
	filter.Limit = page.PerPage
	filter.Offset = page.Offset()
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return ListResult{}, err
	}
	if items == nil {
		items = []Expense{}
	}
	return ListResult{Items: items, Pagination: shared.NewPagination(page.Page, page.PerPage, total)}, nil
}

// History returns the approval log of an expense visible to viewer.
func (s *Service) History(ctx context.Context, viewer shared.Actor, id uuid.UUID) ([]approval.HistoryEntry, error) {
	if _, err := s.Get(ctx, viewer, id); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id)
}

// Receipt returns the stored receipt of an expense visible to viewer.
func (s *Service) Receipt(ctx context.Context, viewer shared.Actor, id uuid.UUID) (Receipt, error) {
	expense, err := s.Get(ctx, viewer, id)
	if err != nil {
		return Receipt{}, err
	}
	if expense.Receipt == nil {
		return Receipt{}, ErrNoReceipt
	}
	return s.repo.Receipt(ctx, id)
}

// Update edits a pending expense owned by actor. Amount or currency changes are re-converted.
func (s *Service) Update(ctx context.Context, actor shared.Actor, id uuid.UUID, patch Patch) (Expense, error) {
	expense, err := s.load(ctx, actor.CompanyID, id)
	if err != nil {
		return Expense{}, err
	}
	if expense.SubmittedBy != actor.ID {
		return Expense{}, ErrOwnerOnly
	}
	if expense.Status != approval.StatusPending {
		return Expense{}, ErrNotEditable
	}

	next := expense
	problems := map[string]string{}
	if patch.Title != nil {
		next.Title = strings.TrimSpace(*patch.Title)
		if next.Title == "" {
			problems["title"] = "title is required"
		} else if len(next.Title) > maxTitleLength {
			problems["title"] = "title is too long"
		}
	}
	if patch.Description != nil {
		next.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Category != nil {
		next.Category = strings.TrimSpace(*patch.Category)
		if next.Category == "" {
			problems["category"] = "category is required"
		}
	}
	if patch.ExpenseDate != nil {
		if patch.ExpenseDate.IsZero() {
			problems["expense_date"] = "expense date is required"
		} else if patch.ExpenseDate.After(s.now().Add(24 * time.Hour)) {
			problems["expense_date"] = "expense date cannot be in the future"
		}
		next.ExpenseDate = patch.ExpenseDate.UTC()
	}
	amount := expense.Amount
	if patch.Amount != nil {
		amount = *patch.Amount
		if msg := amountProblem(amount); msg != "" {
			problems["amount"] = msg
		}
	}
	if patch.CurrencyCode != nil {
		cur, err := s.currency.Lookup(*patch.CurrencyCode)
		if err != nil {
			problems["currency"] = "unknown currency"
		} else {
			next.Currency = cur
		}
	}
	if len(problems) > 0 {
		return Expense{}, shared.Validation(problems)
	}

	if patch.Amount != nil || patch.CurrencyCode != nil {
		company, err := s.directory.GetCompany(ctx, expense.CompanyID)
		if err != nil {
			return Expense{}, err
		}
		conversion, err := s.convert(ctx, amount, next.Currency.Code, company.BaseCurrency.Code)
		if err != nil {
			return Expense{}, err
		}
		next = next.Reprice(amount, conversion.Rate)
		if err := checkLimit(company, next.ConvertedAmount); err != nil {
			return Expense{}, err
		}
	}
	receipt, err := PrepareReceipt(patch.Receipt, s.receiptMaxBytes)
	if err != nil {
		return Expense{}, err
	}
	if receipt != nil {
		meta := receipt.ReceiptMeta
		next.Receipt = &meta
	}
	next.UpdatedAt = s.now()

	var saved Expense
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		saved, err = tx.Update(ctx, next, receipt)
		return err
	})
	if err != nil {
		return Expense{}, err
	}
	s.recordAudit(ctx, actor.ID, "EXPENSE_UPDATE", saved.ID, nil)
	return saved, nil
}

// Delete removes a pending expense owned by actor.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, id uuid.UUID) error {
	expense, err := s.load(ctx, actor.CompanyID, id)
	if err != nil {
		return err
	}
	if expense.SubmittedBy != actor.ID {
		return ErrOwnerOnly
	}
	if expense.Status != approval.StatusPending {
		return ErrNotEditable
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Delete(ctx, id, expense.Version)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor.ID, "EXPENSE_DELETE", id, nil)
	return nil
}

func (s *Service) activeMember(ctx context.Context, actor shared.Actor) (directory.User, error) {
	user, err := s.directory.GetUser(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return directory.User{}, shared.ErrUnauthenticated
		}
		return directory.User{}, err
	}
	if user.CompanyID != actor.CompanyID {
		return directory.User{}, shared.ErrUnauthenticated
	}
	if !user.IsActive {
		return directory.User{}, ErrInactiveUser
	}
	return user, nil
}

// load hides expenses of other companies behind ErrNotFound.
func (s *Service) load(ctx context.Context, companyID, id uuid.UUID) (Expense, error) {
	expense, err := s.repo.Get(ctx, id)
	if err != nil {
		return Expense{}, err
	}
	if expense.CompanyID != companyID {
		return Expense{}, ErrNotFound
	}
	return expense, nil
}

func (s *Service) resolveCurrency(draft Draft, company directory.Company) (currency.Currency, error) {
	if code := strings.TrimSpace(draft.CurrencyCode); code != "" {
		cur, err := s.currency.Lookup(code)
		if err != nil {
			return currency.Currency{}, shared.Validation(map[string]string{"currency": "unknown currency"})
		}
		return cur, nil
	}
	if country := strings.TrimSpace(draft.Country); country != "" {
		if cur, ok := s.currency.ResolveCountryCurrency(country); ok {
			return cur, nil
		}
	}
	return company.BaseCurrency, nil
}

func (s *Service) convert(ctx context.Context, amount decimal.Decimal, from, to string) (currency.Conversion, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	conversion, err := s.currency.Convert(callCtx, amount, from, to)
	if err == nil {
		return conversion, nil
	}
	if s.metrics != nil {
		s.metrics.ConversionFailed()
	}
	s.logger.Warn("currency conversion failed",
		slog.String("from", from),
		slog.String("to", to),
		slog.Any("error", err))
	switch shared.KindOf(err) {
	case shared.KindValidation, shared.KindConversionUnavailable:
		return currency.Conversion{}, err
	}
	return currency.Conversion{}, shared.Wrap(shared.KindConversionUnavailable, "exchange rate unavailable", err)
}

func (s *Service) workflowFor(ctx context.Context, expense Expense) *workflows.Workflow {
	if expense.WorkflowID == nil || s.workflows == nil {
		return nil
	}
	wf, err := s.workflows.Get(ctx, expense.CompanyID, *expense.WorkflowID)
	if err != nil {
		if !errors.Is(err, workflows.ErrNotFound) {
			s.logger.Warn("load workflow", slog.String("workflow_id", expense.WorkflowID.String()), slog.Any("error", err))
		}
		return nil
	}
	return &wf
}

// pendingReviewers lists who still has to act after a partial approval.
// Workflow approvers win; otherwise every user holding the unfilled role.
func (s *Service) pendingReviewers(ctx context.Context, expense Expense, wf *workflows.Workflow, actor directory.User) []directory.User {
	var (
		candidates []directory.User
		err        error
	)
	if ids := approval.RequiredApprovers(wf); len(ids) > 0 {
		candidates, err = s.directory.FindUsersByIDs(ctx, expense.CompanyID, ids)
	} else {
		role := shared.RoleManager
		if expense.Approvals.Manager.Approved {
			role = shared.RoleFinance
		}
		candidates, err = s.directory.FindUsersByRoleInCompany(ctx, expense.CompanyID, role)
	}
	if err != nil {
		s.logger.Warn("resolve pending reviewers", slog.String("expense_id", expense.ID.String()), slog.Any("error", err))
		return nil
	}
	out := make([]directory.User, 0, len(candidates))
	for _, u := range candidates {
		if u.ID == actor.ID || u.ID == expense.SubmittedBy || !u.IsActive {
			continue
		}
		out = append(out, u)
	}
	return out
}

// notify runs fn with its own deadline. Failures are logged and swallowed.
func (s *Service) notify(ctx context.Context, event string, fn func(context.Context) error) {
	if s.notifier == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
	defer cancel()
	if err := fn(callCtx); err != nil {
		s.logger.Error("notify", slog.String("event", event), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID uuid.UUID, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "expense",
		EntityID: id.String(),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

func canView(viewer shared.Actor, expense Expense) error {
	if expense.SubmittedBy == viewer.ID || viewer.Role.CanReview() {
		return nil
	}
	return ErrViewForbidden
}

func checkLimit(company directory.Company, converted decimal.Decimal) error {
	if company.ExpenseLimit == nil || company.ExpenseLimit.IsZero() {
		return nil
	}
	if converted.GreaterThan(*company.ExpenseLimit) {
		return shared.Validation(map[string]string{"amount": ErrLimitExceeded.Message})
	}
	return nil
}

func validateDraft(d Draft, now time.Time) error {
	problems := map[string]string{}
	title := strings.TrimSpace(d.Title)
	switch {
	case title == "":
		problems["title"] = "title is required"
	case len(title) > maxTitleLength:
		problems["title"] = "title is too long"
	}
	if msg := amountProblem(d.Amount); msg != "" {
		problems["amount"] = msg
	}
	if strings.TrimSpace(d.Category) == "" {
		problems["category"] = "category is required"
	}
	switch {
	case d.ExpenseDate.IsZero():
		problems["expense_date"] = "expense date is required"
	case d.ExpenseDate.After(now.Add(24 * time.Hour)):
		problems["expense_date"] = "expense date cannot be in the future"
	}
	if len(problems) > 0 {
		return shared.Validation(problems)
	}
	return nil
}

// amountProblem rejects amounts that are not positive or that carry sub-cent precision.
func amountProblem(amount decimal.Decimal) string {
	if !amount.IsPositive() {
		return "amount must be greater than zero"
	}
	if !amount.Equal(amount.Round(2)) {
		return "amount must have at most 2 decimal places"
	}
	return ""
}
