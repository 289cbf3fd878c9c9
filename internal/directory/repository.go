package directory

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/expenseflow/internal/platform/db"
	"github.com/odyssey-erp/expenseflow/internal/shared"
)

// TxRepository exposes transactional writes.
type TxRepository interface {
	InsertCompany(ctx context.Context, company Company) error
	InsertUser(ctx context.Context, user User) error
	UpdateUser(ctx context.Context, user User) error
	UpdateCompany(ctx context.Context, company Company) error
	CountActiveAdmins(ctx context.Context, companyID uuid.UUID) (int, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const companyColumns = `SELECT id, name, country, base_currency_code, base_currency_name, base_currency_symbol, expense_limit::text, created_at FROM companies`

const userColumns = `SELECT id, company_id, name, email, role, manager_id, password_hash, is_active, created_at FROM users`

// GetCompany fetches a company by id.
func (r *Repository) GetCompany(ctx context.Context, id uuid.UUID) (Company, error) {
	company, err := scanCompany(r.pool.QueryRow(ctx, companyColumns+` WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Company{}, ErrCompanyNotFound
	}
	return company, err
}

// GetUser fetches a user by id.
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, userColumns+` WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return user, err
}

// GetUserByEmail fetches a user by case-insensitive email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, userColumns+` WHERE lower(email)=lower($1)`, strings.TrimSpace(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return user, err
}

// ListUsers returns the company's users ordered by name.
func (r *Repository) ListUsers(ctx context.Context, companyID uuid.UUID) ([]User, error) {
	return r.queryUsers(ctx, userColumns+` WHERE company_id=$1 ORDER BY name, id`, companyID)
}

// FindUsersByRoleInCompany returns active users holding role.
func (r *Repository) FindUsersByRoleInCompany(ctx context.Context, companyID uuid.UUID, role shared.Role) ([]User, error) {
	return r.queryUsers(ctx, userColumns+` WHERE company_id=$1 AND role=$2 AND is_active ORDER BY name, id`, companyID, string(role))
}

// FindUsersByIDs returns the company's users among ids.
func (r *Repository) FindUsersByIDs(ctx context.Context, companyID uuid.UUID, ids []uuid.UUID) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryUsers(ctx, userColumns+` WHERE company_id=$1 AND id = ANY($2) ORDER BY name, id`, companyID, ids)
}

func (r *Repository) queryUsers(ctx context.Context, sql string, args ...any) ([]User, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (t *txRepo) InsertCompany(ctx context.Context, c Company) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO companies (id, name, country, base_currency_code, base_currency_name, base_currency_symbol, expense_limit)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric)`,
		c.ID, c.Name, c.Country, c.BaseCurrency.Code, c.BaseCurrency.Name, c.BaseCurrency.Symbol, decimalParam(c.ExpenseLimit))
	return err
}

func (t *txRepo) UpdateCompany(ctx context.Context, c Company) error {
	tag, err := t.tx.Exec(ctx, `UPDATE companies SET name=$2, country=$3, expense_limit=$4::numeric WHERE id=$1`,
		c.ID, c.Name, c.Country, decimalParam(c.ExpenseLimit))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCompanyNotFound
	}
	return nil
}

func (t *txRepo) InsertUser(ctx context.Context, u User) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO users (id, company_id, name, email, role, manager_id, password_hash, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.CompanyID, u.Name, strings.ToLower(u.Email), string(u.Role), u.ManagerID, u.PasswordHash, u.IsActive)
	if db.HasCode(err, db.CodeUniqueViolation) {
		return ErrEmailTaken
	}
	return err
}

func (t *txRepo) UpdateUser(ctx context.Context, u User) error {
	tag, err := t.tx.Exec(ctx, `UPDATE users SET name=$3, role=$4, manager_id=$5, is_active=$6 WHERE company_id=$1 AND id=$2`,
		u.CompanyID, u.ID, u.Name, string(u.Role), u.ManagerID, u.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (t *txRepo) CountActiveAdmins(ctx context.Context, companyID uuid.UUID) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE company_id=$1 AND role='admin' AND is_active`, companyID).Scan(&n)
	return n, err
}

func scanCompany(row pgx.Row) (Company, error) {
	var (
		c     Company
		limit *string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Country, &c.BaseCurrency.Code, &c.BaseCurrency.Name, &c.BaseCurrency.Symbol, &limit, &c.CreatedAt); err != nil {
		return Company{}, err
	}
	if limit != nil {
		d, err := decimal.NewFromString(*limit)
		if err != nil {
			return Company{}, err
		}
		c.ExpenseLimit = &d
	}
	return c, nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		u    User
		role string
	)
	if err := row.Scan(&u.ID, &u.CompanyID, &u.Name, &u.Email, &role, &u.ManagerID, &u.PasswordHash, &u.IsActive, &u.CreatedAt); err != nil {
		return User{}, err
	}
	u.Role = shared.Role(role)
	return u, nil
}

func decimalParam(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
