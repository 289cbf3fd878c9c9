package expenses

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/odyssey-erp/expenseflow/internal/approval"
	"github.com/odyssey-erp/expenseflow/internal/directory"
	"github.com/odyssey-erp/expenseflow/internal/shared"
	"github.com/odyssey-erp/expenseflow/internal/workflows"
)

type memoryExpenseRepo struct {
	mu       sync.Mutex
	expenses map[uuid.UUID]Expense
	receipts map[uuid.UUID]Receipt
	history  map[uuid.UUID][]approval.HistoryEntry
	// beforeUpdate runs inside the transaction, before the version check.
	beforeUpdate func(id uuid.UUID)
}

type memoryExpenseTx struct {
	repo     *memoryExpenseRepo
	expenses map[uuid.UUID]Expense
	receipts map[uuid.UUID]Receipt
	deleted  map[uuid.UUID]bool
	history  map[uuid.UUID][]approval.HistoryEntry
}

func newMemoryExpenseRepo() *memoryExpenseRepo {
	return &memoryExpenseRepo{
		expenses: map[uuid.UUID]Expense{},
		receipts: map[uuid.UUID]Receipt{},
		history:  map[uuid.UUID][]approval.HistoryEntry{},
	}
}

func (r *memoryExpenseRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryExpenseTx{
		repo:     r,
		expenses: map[uuid.UUID]Expense{},
		receipts: map[uuid.UUID]Receipt{},
		deleted:  map[uuid.UUID]bool{},
		history:  map[uuid.UUID][]approval.HistoryEntry{},
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, e := range tx.expenses {
		r.expenses[id] = e
	}
	for id, rc := range tx.receipts {
		r.receipts[id] = rc
	}
	for id := range tx.deleted {
		delete(r.expenses, id)
		delete(r.receipts, id)
	}
	for id, entries := range tx.history {
		r.history[id] = append(r.history[id], entries...)
	}
	return nil
}

func (r *memoryExpenseRepo) Get(_ context.Context, id uuid.UUID) (Expense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.expenses[id]
	if !ok {
		return Expense{}, ErrNotFound
	}
	return e, nil
}

func (r *memoryExpenseRepo) List(_ context.Context, filter Filter) ([]Expense, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Expense
	for _, e := range r.expenses {
		if e.CompanyID != filter.CompanyID {
			continue
		}
		if filter.SubmittedBy != nil && e.SubmittedBy != *filter.SubmittedBy {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
	}
	return out, len(out), nil
}

func (r *memoryExpenseRepo) History(_ context.Context, id uuid.UUID) ([]approval.HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]approval.HistoryEntry(nil), r.history[id]...), nil
}

func (r *memoryExpenseRepo) Receipt(_ context.Context, id uuid.UUID) (Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.receipts[id]
	if !ok {
		return Receipt{}, ErrNoReceipt
	}
	return rc, nil
}

func (r *memoryExpenseRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.expenses)
}

func (t *memoryExpenseTx) Insert(_ context.Context, e Expense, receipt *Receipt) error {
	t.expenses[e.ID] = e
	if receipt != nil {
		t.receipts[e.ID] = *receipt
	}
	return nil
}

func (t *memoryExpenseTx) Update(_ context.Context, e Expense, receipt *Receipt) (Expense, error) {
	if t.repo.beforeUpdate != nil {
		t.repo.beforeUpdate(e.ID)
	}
	stored, ok := t.repo.expenses[e.ID]
	if !ok || stored.Version != e.Version {
		return Expense{}, shared.ErrConcurrentUpdate
	}
	e.Version++
	t.expenses[e.ID] = e
	if receipt != nil {
		t.receipts[e.ID] = *receipt
	}
	return e, nil
}

func (t *memoryExpenseTx) Delete(_ context.Context, id uuid.UUID, version int64) error {
	stored, ok := t.repo.expenses[id]
	if !ok || stored.Version != version {
		return shared.ErrConcurrentUpdate
	}
	t.deleted[id] = true
	return nil
}

func (t *memoryExpenseTx) AppendHistory(_ context.Context, id uuid.UUID, entry approval.HistoryEntry) error {
	t.history[id] = append(t.history[id], entry)
	return nil
}

type memoryDirectory struct {
	companies map[uuid.UUID]directory.Company
	users     map[uuid.UUID]directory.User
}

func (d *memoryDirectory) GetCompany(_ context.Context, id uuid.UUID) (directory.Company, error) {
	c, ok := d.companies[id]
	if !ok {
		return directory.Company{}, directory.ErrCompanyNotFound
	}
	return c, nil
}

func (d *memoryDirectory) GetUser(_ context.Context, id uuid.UUID) (directory.User, error) {
	u, ok := d.users[id]
	if !ok {
		return directory.User{}, directory.ErrUserNotFound
	}
	return u, nil
}

func (d *memoryDirectory) FindUsersByRoleInCompany(_ context.Context, companyID uuid.UUID, role shared.Role) ([]directory.User, error) {
	var out []directory.User
	for _, u := range d.users {
		if u.CompanyID == companyID && u.Role == role && u.IsActive {
			out = append(out, u)
		}
	}
	return out, nil
}

func (d *memoryDirectory) FindUsersByIDs(_ context.Context, companyID uuid.UUID, ids []uuid.UUID) ([]directory.User, error) {
	var out []directory.User
	for _, id := range ids {
		if u, ok := d.users[id]; ok && u.CompanyID == companyID {
			out = append(out, u)
		}
	}
	return out, nil
}

type memoryWorkflows struct {
	items []workflows.Workflow
}

func (m *memoryWorkflows) ListActive(_ context.Context, companyID uuid.UUID) ([]workflows.Workflow, error) {
	var out []workflows.Workflow
	for _, wf := range m.items {
		if wf.CompanyID == companyID && wf.IsActive {
			out = append(out, wf)
		}
	}
	return out, nil
}

func (m *memoryWorkflows) Get(_ context.Context, companyID, id uuid.UUID) (workflows.Workflow, error) {
	for _, wf := range m.items {
		if wf.CompanyID == companyID && wf.ID == id {
			return wf, nil
		}
	}
	return workflows.Workflow{}, workflows.ErrNotFound
}

type notification struct {
	kind       string
	expenseID  uuid.UUID
	approver   uuid.UUID
	decision   approval.Decision
	recipients []uuid.UUID
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
	err  error
}

func (n *recordingNotifier) NotifySubmission(_ context.Context, e Expense, _ directory.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{kind: "submission", expenseID: e.ID})
	return n.err
}

func (n *recordingNotifier) NotifyDecision(_ context.Context, e Expense, _, approver directory.User, decision approval.Decision, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{kind: "decision", expenseID: e.ID, approver: approver.ID, decision: decision})
	return n.err
}

func (n *recordingNotifier) NotifyReviewNeeded(_ context.Context, e Expense, recipients []directory.User, approvedBy directory.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(recipients))
	for _, u := range recipients {
		ids = append(ids, u.ID)
	}
	n.sent = append(n.sent, notification{kind: "review", expenseID: e.ID, approver: approvedBy.ID, recipients: ids})
	return n.err
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.kind)
	}
	return out
}

func (n *recordingNotifier) last(kind string) (notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].kind == kind {
			return n.sent[i], true
		}
	}
	return notification{}, false
}

type memoryLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	calls int
}

func (l *memoryLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[string]*sync.Mutex{}
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.calls++
	l.mu.Unlock()
	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]bool{}
	}
	if m.keys[module+":"+key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+":"+key] = true
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+":"+key)
	return nil
}

type countingMetrics struct {
	mu        sync.Mutex
	submitted map[approval.Status]int
	decided   map[approval.Decision]int
	failed    int
}

func (m *countingMetrics) ExpenseSubmitted(status approval.Status, _ bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitted == nil {
		m.submitted = map[approval.Status]int{}
	}
	m.submitted[status]++
}

func (m *countingMetrics) ApprovalDecided(decision approval.Decision, _ approval.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decided == nil {
		m.decided = map[approval.Decision]int{}
	}
	m.decided[decision]++
}

func (m *countingMetrics) ConversionFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}
