package directory

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/expenseflow/internal/shared"
)

type memoryDirRepo struct {
	companies map[uuid.UUID]Company
	users     map[uuid.UUID]User
	failUser  bool
}

type memoryDirTx struct {
	repo      *memoryDirRepo
	companies map[uuid.UUID]Company
	users     map[uuid.UUID]User
}

func newMemoryDirRepo() *memoryDirRepo {
	return &memoryDirRepo{companies: map[uuid.UUID]Company{}, users: map[uuid.UUID]User{}}
}

func (r *memoryDirRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryDirTx{repo: r, companies: map[uuid.UUID]Company{}, users: map[uuid.UUID]User{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, c := range tx.companies {
		r.companies[id] = c
	}
	for id, u := range tx.users {
		r.users[id] = u
	}
	return nil
}

func (r *memoryDirRepo) GetCompany(_ context.Context, id uuid.UUID) (Company, error) {
	c, ok := r.companies[id]
	if !ok {
		return Company{}, ErrCompanyNotFound
	}
	return c, nil
}

func (r *memoryDirRepo) GetUser(_ context.Context, id uuid.UUID) (User, error) {
	u, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (r *memoryDirRepo) GetUserByEmail(_ context.Context, email string) (User, error) {
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (r *memoryDirRepo) ListUsers(_ context.Context, companyID uuid.UUID) ([]User, error) {
	var out []User
	for _, u := range r.users {
		if u.CompanyID == companyID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *memoryDirRepo) FindUsersByRoleInCompany(_ context.Context, companyID uuid.UUID, role shared.Role) ([]User, error) {
	var out []User
	for _, u := range r.users {
		if u.CompanyID == companyID && u.Role == role && u.IsActive {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *memoryDirRepo) FindUsersByIDs(_ context.Context, companyID uuid.UUID, ids []uuid.UUID) ([]User, error) {
	var out []User
	for _, id := range ids {
		if u, ok := r.users[id]; ok && u.CompanyID == companyID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (tx *memoryDirTx) InsertCompany(_ context.Context, c Company) error {
	tx.companies[c.ID] = c
	return nil
}

func (tx *memoryDirTx) InsertUser(_ context.Context, u User) error {
	if tx.repo.failUser {
		return ErrEmailTaken
	}
	for _, existing := range tx.repo.users {
		if existing.Email == u.Email {
			return ErrEmailTaken
		}
	}
	tx.users[u.ID] = u
	return nil
}

func (tx *memoryDirTx) UpdateUser(_ context.Context, u User) error {
	if _, ok := tx.repo.users[u.ID]; !ok {
		return ErrUserNotFound
	}
	tx.users[u.ID] = u
	return nil
}

func (tx *memoryDirTx) UpdateCompany(_ context.Context, c Company) error {
	tx.companies[c.ID] = c
	return nil
}

func (tx *memoryDirTx) CountActiveAdmins(_ context.Context, companyID uuid.UUID) (int, error) {
	n := 0
	for _, u := range tx.repo.users {
		if u.CompanyID == companyID && u.Role == shared.RoleAdmin && u.IsActive {
			n++
		}
	}
	return n, nil
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newTestService() (*Service, *memoryDirRepo, *recordingAudit) {
	repo := newMemoryDirRepo()
	audit := &recordingAudit{}
	return NewService(repo, audit, nil).WithHashCost(bcrypt.MinCost), repo, audit
}

func registerAcme(t *testing.T, svc *Service) (Company, User) {
	t.Helper()
	company, admin, err := svc.RegisterCompany(context.Background(), RegisterInput{
		CompanyName:   "Acme",
		Country:       "us",
		AdminName:     "Ada",
		AdminEmail:    "Ada@Example.com",
		AdminPassword: "supersecret",
	})
	require.NoError(t, err)
	return company, admin
}

func TestRegisterCompanyCreatesCompanyAndAdmin(t *testing.T) {
	svc, repo, audit := newTestService()
	company, admin := registerAcme(t, svc)

	require.Equal(t, "USD", company.BaseCurrency.Code)
	require.Equal(t, "US", company.Country)
	require.Equal(t, shared.RoleAdmin, admin.Role)
	require.Equal(t, "ada@example.com", admin.Email)
	require.Equal(t, company.ID, admin.CompanyID)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte("supersecret")))
	require.Len(t, repo.companies, 1)
	require.Len(t, repo.users, 1)
	require.Len(t, audit.logs, 1)
}

func TestRegisterCompanyIsAtomic(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.failUser = true
	_, _, err := svc.RegisterCompany(context.Background(), RegisterInput{
		CompanyName: "Acme", Country: "DE", AdminName: "A", AdminEmail: "a@example.com", AdminPassword: "supersecret",
	})
	require.ErrorIs(t, err, ErrEmailTaken)
	require.Empty(t, repo.companies)
	require.Empty(t, repo.users)
}

func TestRegisterCompanyExplicitCurrencyWins(t *testing.T) {
	svc, _, _ := newTestService()
	company, _, err := svc.RegisterCompany(context.Background(), RegisterInput{
		CompanyName: "Acme", Country: "US", CurrencyCode: "eur", AdminName: "A", AdminEmail: "a@example.com", AdminPassword: "supersecret",
	})
	require.NoError(t, err)
	require.Equal(t, "EUR", company.BaseCurrency.Code)
}

func TestRegisterCompanyRejectsUnknownCurrency(t *testing.T) {
	svc, _, _ := newTestService()
	_, _, err := svc.RegisterCompany(context.Background(), RegisterInput{
		CompanyName: "Acme", Country: "US", CurrencyCode: "QQQ", AdminName: "A", AdminEmail: "a@example.com", AdminPassword: "supersecret",
	})
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestCreateUserRequiresAdmin(t *testing.T) {
	svc, _, _ := newTestService()
	_, admin := registerAcme(t, svc)

	manager, err := svc.CreateUser(context.Background(), admin.Actor(), CreateUserInput{
		Name: "Max", Email: "max@example.com", Password: "supersecret", Role: "Manager",
	})
	require.NoError(t, err)
	require.Equal(t, shared.RoleManager, manager.Role)

	_, err = svc.CreateUser(context.Background(), manager.Actor(), CreateUserInput{
		Name: "Eve", Email: "eve@example.com", Password: "supersecret", Role: "employee",
	})
	require.ErrorIs(t, err, ErrAdminOnly)
}

func TestCreateUserRejectsForeignManager(t *testing.T) {
	svc, _, _ := newTestService()
	_, admin := registerAcme(t, svc)
	foreign := uuid.New()
	_, err := svc.CreateUser(context.Background(), admin.Actor(), CreateUserInput{
		Name: "Eve", Email: "eve@example.com", Password: "supersecret", Role: "employee", ManagerID: &foreign,
	})
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestUpdateUserKeepsLastAdmin(t *testing.T) {
	svc, _, _ := newTestService()
	_, admin := registerAcme(t, svc)
	role := "employee"
	_, err := svc.UpdateUser(context.Background(), admin.Actor(), admin.ID, UpdateUserInput{Role: &role})
	require.ErrorIs(t, err, ErrLastAdmin)
}

func TestUpdateCompanyExpenseLimit(t *testing.T) {
	svc, _, _ := newTestService()
	_, admin := registerAcme(t, svc)
	limit := decimal.RequireFromString("2500.555")
	company, err := svc.UpdateCompany(context.Background(), admin.Actor(), CompanyPatch{ExpenseLimit: &limit})
	require.NoError(t, err)
	require.Equal(t, "2500.56", company.ExpenseLimit.StringFixed(2))

	company, err = svc.UpdateCompany(context.Background(), admin.Actor(), CompanyPatch{ClearLimit: true})
	require.NoError(t, err)
	require.Nil(t, company.ExpenseLimit)
}
