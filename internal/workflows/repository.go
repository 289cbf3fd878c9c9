package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/expenseflow/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for workflows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectColumns = `SELECT id, company_id, name, type, conditions, rules, levels, is_active, priority, seq, created_by, created_at, updated_at
FROM approval_workflows`

// ListActive returns active workflows in evaluation order.
func (r *Repository) ListActive(ctx context.Context, companyID uuid.UUID) ([]Workflow, error) {
	return r.query(ctx, selectColumns+` WHERE company_id=$1 AND is_active ORDER BY priority DESC, seq ASC`, companyID)
}

// List returns every workflow of the company in evaluation order.
func (r *Repository) List(ctx context.Context, companyID uuid.UUID) ([]Workflow, error) {
	return r.query(ctx, selectColumns+` WHERE company_id=$1 ORDER BY priority DESC, seq ASC`, companyID)
}

// Get fetches a workflow scoped to its company.
func (r *Repository) Get(ctx context.Context, companyID, id uuid.UUID) (Workflow, error) {
	row := r.pool.QueryRow(ctx, selectColumns+` WHERE company_id=$1 AND id=$2`, companyID, id)
	wf, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Workflow{}, ErrNotFound
		}
		return Workflow{}, err
	}
	return wf, nil
}

// Create inserts wf and returns it with generated columns populated.
func (r *Repository) Create(ctx context.Context, wf Workflow) (Workflow, error) {
	conditions, rules, levels, err := encodeBlocks(wf)
	if err != nil {
		return Workflow{}, err
	}
	var createdBy *uuid.UUID
	if wf.CreatedBy != uuid.Nil {
		createdBy = &wf.CreatedBy
	}
	err = r.pool.QueryRow(ctx, `INSERT INTO approval_workflows (id, company_id, name, type, conditions, rules, levels, is_active, priority, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING seq, created_at, updated_at`,
		wf.ID, wf.CompanyID, wf.Name, string(wf.Type), conditions, rules, levels, wf.IsActive, wf.Priority, createdBy,
	).Scan(&wf.Seq, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return Workflow{}, err
	}
	return wf, nil
}

// Update replaces the editable columns of wf.
func (r *Repository) Update(ctx context.Context, wf Workflow) (Workflow, error) {
	conditions, rules, levels, err := encodeBlocks(wf)
	if err != nil {
		return Workflow{}, err
	}
	err = r.pool.QueryRow(ctx, `UPDATE approval_workflows
SET name=$3, type=$4, conditions=$5, rules=$6, levels=$7, is_active=$8, priority=$9, updated_at=NOW()
WHERE company_id=$1 AND id=$2
RETURNING seq, created_at, updated_at`,
		wf.CompanyID, wf.ID, wf.Name, string(wf.Type), conditions, rules, levels, wf.IsActive, wf.Priority,
	).Scan(&wf.Seq, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Workflow{}, ErrNotFound
		}
		return Workflow{}, err
	}
	return wf, nil
}

// SetActive toggles whether the workflow takes part in matching.
func (r *Repository) SetActive(ctx context.Context, companyID, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE approval_workflows SET is_active=$3, updated_at=NOW() WHERE company_id=$1 AND id=$2`, companyID, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a workflow. The expenses foreign key restricts deleting referenced rows.
func (r *Repository) Delete(ctx context.Context, companyID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM approval_workflows WHERE company_id=$1 AND id=$2`, companyID, id)
	if err != nil {
		if db.HasCode(err, db.CodeForeignKeyViolation) {
			return ErrInUse
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InUse reports whether any expense was routed through the workflow.
func (r *Repository) InUse(ctx context.Context, companyID, id uuid.UUID) (bool, error) {
	var used bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM expenses WHERE company_id=$1 AND workflow_id=$2)`, companyID, id).Scan(&used)
	return used, err
}

func (r *Repository) query(ctx context.Context, sql string, args ...any) ([]Workflow, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func scanWorkflow(row pgx.Row) (Workflow, error) {
	var (
		wf                        Workflow
		typ                       string
		conditions, rules, levels []byte
		createdBy                 *uuid.UUID
	)
	if err := row.Scan(&wf.ID, &wf.CompanyID, &wf.Name, &typ, &conditions, &rules, &levels, &wf.IsActive, &wf.Priority, &wf.Seq, &createdBy, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return Workflow{}, err
	}
	wf.Type = Type(typ)
	if createdBy != nil {
		wf.CreatedBy = *createdBy
	}
	if err := json.Unmarshal(conditions, &wf.Conditions); err != nil {
		return Workflow{}, fmt.Errorf("workflows: decode conditions: %w", err)
	}
	if err := json.Unmarshal(rules, &wf.Rules); err != nil {
		return Workflow{}, fmt.Errorf("workflows: decode rules: %w", err)
	}
	if err := json.Unmarshal(levels, &wf.Levels); err != nil {
		return Workflow{}, fmt.Errorf("workflows: decode levels: %w", err)
	}
	return wf, nil
}

func encodeBlocks(wf Workflow) (conditions, rules, levels []byte, err error) {
	if conditions, err = json.Marshal(wf.Conditions); err != nil {
		return nil, nil, nil, err
	}
	if rules, err = json.Marshal(wf.Rules); err != nil {
		return nil, nil, nil, err
	}
	if wf.Levels == nil {
		wf.Levels = []Level{}
	}
	if levels, err = json.Marshal(wf.Levels); err != nil {
		return nil, nil, nil, err
	}
	return conditions, rules, levels, nil
}
