package directory

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/expenseflow/internal/currency"
	"github.com/odyssey-erp/expenseflow/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCompany(ctx context.Context, id uuid.UUID) (Company, error)
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context, companyID uuid.UUID) ([]User, error)
	FindUsersByRoleInCompany(ctx context.Context, companyID uuid.UUID, role shared.Role) ([]User, error)
	FindUsersByIDs(ctx context.Context, companyID uuid.UUID, ids []uuid.UUID) ([]User, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages companies and their members.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	cost   int
}

// NewService constructs the directory service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, cost: bcrypt.DefaultCost}
}

// WithHashCost overrides the bcrypt cost, used by tests.
func (s *Service) WithHashCost(cost int) *Service {
	s.cost = cost
	return s
}

// RegisterInput creates a company together with its first admin.
type RegisterInput struct {
	CompanyName   string
	Country       string
	CurrencyCode  string
	AdminName     string
	AdminEmail    string
	AdminPassword string
}

// RegisterCompany creates the company and its admin in one transaction.
func (s *Service) RegisterCompany(ctx context.Context, input RegisterInput) (Company, User, error) {
	base, err := resolveBaseCurrency(input.CurrencyCode, input.Country)
	if err != nil {
		return Company{}, User{}, err
	}
	hash, err := s.hash(input.AdminPassword)
	if err != nil {
		return Company{}, User{}, err
	}
	company := Company{
		ID:           uuid.New(),
		Name:         strings.TrimSpace(input.CompanyName),
		Country:      strings.ToUpper(strings.TrimSpace(input.Country)),
		BaseCurrency: base,
	}
	admin := User{
		ID:           uuid.New(),
		CompanyID:    company.ID,
		Name:         strings.TrimSpace(input.AdminName),
		Email:        strings.ToLower(strings.TrimSpace(input.AdminEmail)),
		Role:         shared.RoleAdmin,
		PasswordHash: hash,
		IsActive:     true,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertCompany(ctx, company); err != nil {
			return err
		}
		return tx.InsertUser(ctx, admin)
	})
	if err != nil {
		return Company{}, User{}, err
	}
	s.recordAudit(ctx, admin.ID, "COMPANY_REGISTER", "company", company.ID, map[string]any{"name": company.Name, "currency": base.Code})
	return company, admin, nil
}

func resolveBaseCurrency(code, country string) (currency.Currency, error) {
	if strings.TrimSpace(code) != "" {
		cur, err := currency.Lookup(code)
		if err != nil {
			return currency.Currency{}, shared.Validation(map[string]string{"currency": "unknown currency code"})
		}
		return cur, nil
	}
	if cur, ok := currency.ResolveCountryCurrency(country); ok {
		return cur, nil
	}
	return currency.Currency{}, shared.Validation(map[string]string{"currency": "cannot infer currency from country, provide one"})
}

// CreateUserInput adds a member to the admin's company.
type CreateUserInput struct {
	Name      string
	Email     string
	Password  string
	Role      string
	ManagerID *uuid.UUID
}

// CreateUser adds a user to the actor's company.
func (s *Service) CreateUser(ctx context.Context, actor shared.Actor, input CreateUserInput) (User, error) {
	if !actor.IsAdmin() {
		return User{}, ErrAdminOnly
	}
	role, ok := shared.ParseRole(input.Role)
	if !ok {
		return User{}, shared.Validation(map[string]string{"role": "must be one of admin, manager, finance, employee"})
	}
	if input.ManagerID != nil {
		if err := s.ensureMember(ctx, actor.CompanyID, *input.ManagerID); err != nil {
			return User{}, err
		}
	}
	hash, err := s.hash(input.Password)
	if err != nil {
		return User{}, err
	}
	user := User{
		ID:           uuid.New(),
		CompanyID:    actor.CompanyID,
		Name:         strings.TrimSpace(input.Name),
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		Role:         role,
		ManagerID:    input.ManagerID,
		PasswordHash: hash,
		IsActive:     true,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertUser(ctx, user)
	})
	if err != nil {
		return User{}, err
	}
	s.recordAudit(ctx, actor.ID, "USER_CREATE", "user", user.ID, map[string]any{"role": string(role)})
	return user, nil
}

// UpdateUserInput patches a member; nil fields are left unchanged.
type UpdateUserInput struct {
	Name      *string
	Role      *string
	ManagerID *uuid.UUID
	IsActive  *bool
}

// UpdateUser changes a member of the actor's company.
func (s *Service) UpdateUser(ctx context.Context, actor shared.Actor, id uuid.UUID, input UpdateUserInput) (User, error) {
	if !actor.IsAdmin() {
		return User{}, ErrAdminOnly
	}
	user, err := s.member(ctx, actor.CompanyID, id)
	if err != nil {
		return User{}, err
	}
	wasAdmin := user.Role == shared.RoleAdmin && user.IsActive
	if input.Name != nil {
		user.Name = strings.TrimSpace(*input.Name)
	}
	if input.Role != nil {
		role, ok := shared.ParseRole(*input.Role)
		if !ok {
			return User{}, shared.Validation(map[string]string{"role": "must be one of admin, manager, finance, employee"})
		}
		user.Role = role
	}
	if input.ManagerID != nil {
		if *input.ManagerID == user.ID {
			return User{}, shared.Validation(map[string]string{"manager_id": "cannot reference the user itself"})
		}
		if err := s.ensureMember(ctx, actor.CompanyID, *input.ManagerID); err != nil {
			return User{}, err
		}
		user.ManagerID = input.ManagerID
	}
	if input.IsActive != nil {
		user.IsActive = *input.IsActive
	}
	stillAdmin := user.Role == shared.RoleAdmin && user.IsActive
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if wasAdmin && !stillAdmin {
			admins, err := tx.CountActiveAdmins(ctx, actor.CompanyID)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return ErrLastAdmin
			}
		}
		return tx.UpdateUser(ctx, user)
	})
	if err != nil {
		return User{}, err
	}
	s.recordAudit(ctx, actor.ID, "USER_UPDATE", "user", user.ID, map[string]any{"role": string(user.Role), "active": user.IsActive})
	return user, nil
}

// CompanyPatch updates company settings; nil fields are left unchanged.
type CompanyPatch struct {
	Name         *string
	Country      *string
	ExpenseLimit *decimal.Decimal
	ClearLimit   bool
}

// UpdateCompany changes company settings. The base currency is fixed at registration.
func (s *Service) UpdateCompany(ctx context.Context, actor shared.Actor, patch CompanyPatch) (Company, error) {
	if !actor.IsAdmin() {
		return Company{}, ErrAdminOnly
	}
	company, err := s.repo.GetCompany(ctx, actor.CompanyID)
	if err != nil {
		return Company{}, err
	}
	if patch.Name != nil {
		company.Name = strings.TrimSpace(*patch.Name)
		if company.Name == "" {
			return Company{}, shared.Validation(map[string]string{"name": "is required"})
		}
	}
	if patch.Country != nil {
		company.Country = strings.ToUpper(strings.TrimSpace(*patch.Country))
	}
	if patch.ClearLimit {
		company.ExpenseLimit = nil
	} else if patch.ExpenseLimit != nil {
		if !patch.ExpenseLimit.IsPositive() {
			return Company{}, shared.Validation(map[string]string{"expense_limit": "must be > 0"})
		}
		limit := patch.ExpenseLimit.Round(2)
		company.ExpenseLimit = &limit
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateCompany(ctx, company)
	})
	if err != nil {
		return Company{}, err
	}
	s.recordAudit(ctx, actor.ID, "COMPANY_UPDATE", "company", company.ID, nil)
	return company, nil
}

// ListUsers returns the members of the actor's company.
func (s *Service) ListUsers(ctx context.Context, actor shared.Actor) ([]User, error) {
	if !actor.Role.CanReview() {
		return nil, ErrAdminOnly
	}
	return s.repo.ListUsers(ctx, actor.CompanyID)
}

// GetCompany returns a company by id.
func (s *Service) GetCompany(ctx context.Context, id uuid.UUID) (Company, error) {
	return s.repo.GetCompany(ctx, id)
}

// GetUser returns a user by id.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// GetUserByEmail returns a user by login email.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.repo.GetUserByEmail(ctx, email)
}

// FindUsersByRoleInCompany lists active users of a role.
func (s *Service) FindUsersByRoleInCompany(ctx context.Context, companyID uuid.UUID, role shared.Role) ([]User, error) {
	return s.repo.FindUsersByRoleInCompany(ctx, companyID, role)
}

// FindUsersByIDs resolves ids within a company; unknown ids are omitted.
func (s *Service) FindUsersByIDs(ctx context.Context, companyID uuid.UUID, ids []uuid.UUID) ([]User, error) {
	return s.repo.FindUsersByIDs(ctx, companyID, ids)
}

func (s *Service) member(ctx context.Context, companyID, id uuid.UUID) (User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if user.CompanyID != companyID {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (s *Service) ensureMember(ctx context.Context, companyID, id uuid.UUID) error {
	if _, err := s.member(ctx, companyID, id); err != nil {
		if shared.IsKind(err, shared.KindNotFound) {
			return shared.Validation(map[string]string{"manager_id": "must reference a user of the same company"})
		}
		return err
	}
	return nil
}

func (s *Service) hash(password string) (string, error) {
	if len(password) < 8 {
		return "", shared.Validation(map[string]string{"password": "must be at least 8 characters"})
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (s *Service) recordAudit(ctx context.Context, actorID uuid.UUID, action, entity string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: entity, EntityID: id.String(), Meta: meta}); err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
