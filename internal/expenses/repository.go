package expenses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/expenseflow/internal/approval"
	"github.com/odyssey-erp/expenseflow/internal/platform/db"
	"github.com/odyssey-erp/expenseflow/internal/shared"
)

// PgRepository persists expenses in PostgreSQL.
type PgRepository struct {
	pool      *pgxpool.Pool
	approvals *shared.ApprovalRecorder
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, logger *slog.Logger) *PgRepository {
	return &PgRepository{pool: pool, approvals: shared.NewApprovalRecorder(pool, logger)}
}

type txRepo struct {
	tx        pgx.Tx
	approvals *shared.ApprovalRecorder
}

// WithTx wraps callback in repeatable-read transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, approvals: r.approvals.WithTx(tx)})
	})
	if db.HasCode(err, db.CodeSerializationFailure) {
		return shared.ErrConcurrentUpdate
	}
	return err
}

const expenseColumns = `SELECT id, company_id, submitted_by, title, description, amount::text,
	currency_code, currency_name, currency_symbol, exchange_rate::text, converted_amount::text,
	category, expense_date, submitted_at, status,
	manager_approved, manager_approver, manager_at, manager_comment,
	finance_approved, finance_approver, finance_at, finance_comment,
	workflow_id, auto_approved, receipt_filename, receipt_content_type, receipt_size,
	version, created_at, updated_at
FROM expenses`

// Get fetches an expense without receipt content.
func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (Expense, error) {
	expense, err := scanExpense(r.pool.QueryRow(ctx, expenseColumns+` WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Expense{}, ErrNotFound
	}
	return expense, err
}

// List returns the filtered page and the total match count.
func (r *PgRepository) List(ctx context.Context, filter Filter) ([]Expense, int, error) {
	conditions := []string{"company_id = $1"}
	args := []any{filter.CompanyID}
	argPos := 2

	if filter.SubmittedBy != nil {
		conditions = append(conditions, fmt.Sprintf("submitted_by = $%d", argPos))
		args = append(args, *filter.SubmittedBy)
		argPos++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(filter.Status))
		argPos++
	}
	if filter.Category != "" {
		conditions = append(conditions, fmt.Sprintf("lower(category) = lower($%d)", argPos))
		args = append(args, filter.Category)
		argPos++
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM expenses`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query := expenseColumns + where + fmt.Sprintf(` ORDER BY submitted_at DESC, id DESC LIMIT $%d OFFSET $%d`, argPos, argPos+1)
	args = append(args, limit, filter.Offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Expense
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, expense)
	}
	return out, total, rows.Err()
}

// History returns the expense's approval log in recording order.
func (r *PgRepository) History(ctx context.Context, id uuid.UUID) ([]approval.HistoryEntry, error) {
	logs, err := r.approvals.List(ctx, Module, id)
	if err != nil {
		return nil, err
	}
	out := make([]approval.HistoryEntry, 0, len(logs))
	for _, l := range logs {
		out = append(out, approval.HistoryEntry{
			ActorID: l.ActorID,
			Role:    shared.Role(l.Role),
			Action:  l.Action,
			Note:    l.Note,
			At:      l.At,
		})
	}
	return out, nil
}

// Receipt loads the stored receipt content.
func (r *PgRepository) Receipt(ctx context.Context, id uuid.UUID) (Receipt, error) {
	var (
		name, contentType *string
		size              *int64
		data              []byte
	)
	err := r.pool.QueryRow(ctx, `SELECT receipt_filename, receipt_content_type, receipt_size, receipt_data FROM expenses WHERE id=$1`, id).
		Scan(&name, &contentType, &size, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, ErrNotFound
	}
	if err != nil {
		return Receipt{}, err
	}
	if name == nil || data == nil {
		return Receipt{}, ErrNoReceipt
	}
	receipt := Receipt{ReceiptMeta: ReceiptMeta{Filename: *name}, Data: data}
	if contentType != nil {
		receipt.ContentType = *contentType
	}
	if size != nil {
		receipt.Size = *size
	}
	return receipt, nil
}

func (t *txRepo) Insert(ctx context.Context, e Expense, receipt *Receipt) error {
	name, contentType, size, data := receiptParams(receipt)
	_, err := t.tx.Exec(ctx, `INSERT INTO expenses (id, company_id, submitted_by, title, description, amount,
	currency_code, currency_name, currency_symbol, exchange_rate, converted_amount, category, expense_date,
	submitted_at, status, manager_approved, manager_approver, manager_at, manager_comment,
	finance_approved, finance_approver, finance_at, finance_comment, workflow_id, auto_approved,
	receipt_filename, receipt_content_type, receipt_size, receipt_data, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6::numeric,$7,$8,$9,$10::numeric,$11::numeric,$12,$13,$14,$15,$16,$17,$18,$19,
	$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32)`,
		e.ID, e.CompanyID, e.SubmittedBy, e.Title, e.Description, e.Amount.String(),
		e.Currency.Code, e.Currency.Name, e.Currency.Symbol, e.ExchangeRate.String(), e.ConvertedAmount.String(),
		e.Category, e.ExpenseDate, e.SubmittedAt, string(e.Status),
		e.Approvals.Manager.Approved, e.Approvals.Manager.Approver, e.Approvals.Manager.At, e.Approvals.Manager.Comment,
		e.Approvals.Finance.Approved, e.Approvals.Finance.Approver, e.Approvals.Finance.At, e.Approvals.Finance.Comment,
		e.WorkflowID, e.AutoApproved, name, contentType, size, data, e.Version, e.CreatedAt, e.UpdatedAt)
	return err
}

// Update compares versions in the WHERE clause; a stale writer gets ErrConcurrentUpdate.
func (t *txRepo) Update(ctx context.Context, e Expense, receipt *Receipt) (Expense, error) {
	name, contentType, size, data := receiptParams(receipt)
	var (
		version   int64
		updatedAt time.Time
	)
	err := t.tx.QueryRow(ctx, `UPDATE expenses SET title=$3, description=$4, amount=$5::numeric,
	currency_code=$6, currency_name=$7, currency_symbol=$8, exchange_rate=$9::numeric, converted_amount=$10::numeric,
	category=$11, expense_date=$12, status=$13,
	manager_approved=$14, manager_approver=$15, manager_at=$16, manager_comment=$17,
	finance_approved=$18, finance_approver=$19, finance_at=$20, finance_comment=$21,
	auto_approved=$22,
	receipt_filename=COALESCE($23, receipt_filename), receipt_content_type=COALESCE($24, receipt_content_type),
	receipt_size=COALESCE($25, receipt_size), receipt_data=COALESCE($26, receipt_data),
	version=version+1, updated_at=$27
WHERE id=$1 AND version=$2
RETURNING version, updated_at`,
		e.ID, e.Version, e.Title, e.Description, e.Amount.String(),
		e.Currency.Code, e.Currency.Name, e.Currency.Symbol, e.ExchangeRate.String(), e.ConvertedAmount.String(),
		e.Category, e.ExpenseDate, string(e.Status),
		e.Approvals.Manager.Approved, e.Approvals.Manager.Approver, e.Approvals.Manager.At, e.Approvals.Manager.Comment,
		e.Approvals.Finance.Approved, e.Approvals.Finance.Approver, e.Approvals.Finance.At, e.Approvals.Finance.Comment,
		e.AutoApproved, name, contentType, size, data, e.UpdatedAt).Scan(&version, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Expense{}, shared.ErrConcurrentUpdate
	}
	if err != nil {
		return Expense{}, err
	}
	e.Version = version
	e.UpdatedAt = updatedAt
	return e, nil
}

func (t *txRepo) Delete(ctx context.Context, id uuid.UUID, version int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM expenses WHERE id=$1 AND version=$2`, id, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConcurrentUpdate
	}
	// Approval history is append-only and outlives the expense row.
	return nil
}

func (t *txRepo) AppendHistory(ctx context.Context, expenseID uuid.UUID, entry approval.HistoryEntry) error {
	return t.approvals.Record(ctx, shared.ApprovalLog{
		Module:  Module,
		RefID:   expenseID,
		ActorID: entry.ActorID,
		Role:    string(entry.Role),
		Action:  entry.Action,
		Note:    entry.Note,
		At:      entry.At,
	})
}

func receiptParams(r *Receipt) (name, contentType *string, size *int64, data []byte) {
	if r == nil {
		return nil, nil, nil, nil
	}
	n, ct, sz := r.Filename, r.ContentType, r.Size
	return &n, &ct, &sz, r.Data
}

func scanExpense(row pgx.Row) (Expense, error) {
	var (
		e                        Expense
		amount, rate, converted  string
		status                   string
		receiptName, receiptType *string
		receiptSize              *int64
	)
	err := row.Scan(&e.ID, &e.CompanyID, &e.SubmittedBy, &e.Title, &e.Description, &amount,
		&e.Currency.Code, &e.Currency.Name, &e.Currency.Symbol, &rate, &converted,
		&e.Category, &e.ExpenseDate, &e.SubmittedAt, &status,
		&e.Approvals.Manager.Approved, &e.Approvals.Manager.Approver, &e.Approvals.Manager.At, &e.Approvals.Manager.Comment,
		&e.Approvals.Finance.Approved, &e.Approvals.Finance.Approver, &e.Approvals.Finance.At, &e.Approvals.Finance.Comment,
		&e.WorkflowID, &e.AutoApproved, &receiptName, &receiptType, &receiptSize,
		&e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return Expense{}, err
	}
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return Expense{}, err
	}
	if e.ExchangeRate, err = decimal.NewFromString(rate); err != nil {
		return Expense{}, err
	}
	if e.ConvertedAmount, err = decimal.NewFromString(converted); err != nil {
		return Expense{}, err
	}
	e.Status = approval.Status(status)
	if receiptName != nil {
		e.Receipt = &ReceiptMeta{Filename: *receiptName}
		if receiptType != nil {
			e.Receipt.ContentType = *receiptType
		}
		if receiptSize != nil {
			e.Receipt.Size = *receiptSize
		}
	}
	return e, nil
}
