package workflows

import (
	"context"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/expenseflow/internal/directory"
	"github.com/odyssey-erp/expenseflow/internal/shared"
)

type memoryWorkflowRepo struct {
	items map[uuid.UUID]Workflow
	seq   int64
	// referenced marks workflows that expenses were routed through.
	referenced map[uuid.UUID]bool
}

func newMemoryWorkflowRepo() *memoryWorkflowRepo {
	return &memoryWorkflowRepo{items: map[uuid.UUID]Workflow{}}
}

func (r *memoryWorkflowRepo) ordered(companyID uuid.UUID, activeOnly bool) []Workflow {
	var out []Workflow
	for _, wf := range r.items {
		if wf.CompanyID != companyID || (activeOnly && !wf.IsActive) {
			continue
		}
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

func (r *memoryWorkflowRepo) ListActive(_ context.Context, companyID uuid.UUID) ([]Workflow, error) {
	return r.ordered(companyID, true), nil
}

func (r *memoryWorkflowRepo) List(_ context.Context, companyID uuid.UUID) ([]Workflow, error) {
	return r.ordered(companyID, false), nil
}

func (r *memoryWorkflowRepo) Get(_ context.Context, companyID, id uuid.UUID) (Workflow, error) {
	wf, ok := r.items[id]
	if !ok || wf.CompanyID != companyID {
		return Workflow{}, ErrNotFound
	}
	return wf, nil
}

func (r *memoryWorkflowRepo) Create(_ context.Context, wf Workflow) (Workflow, error) {
	r.seq++
	wf.Seq = r.seq
	r.items[wf.ID] = wf
	return wf, nil
}

func (r *memoryWorkflowRepo) Update(_ context.Context, wf Workflow) (Workflow, error) {
	existing, ok := r.items[wf.ID]
	if !ok || existing.CompanyID != wf.CompanyID {
		return Workflow{}, ErrNotFound
	}
	wf.Seq = existing.Seq
	r.items[wf.ID] = wf
	return wf, nil
}

func (r *memoryWorkflowRepo) SetActive(_ context.Context, companyID, id uuid.UUID, active bool) error {
	wf, ok := r.items[id]
	if !ok || wf.CompanyID != companyID {
		return ErrNotFound
	}
	wf.IsActive = active
	r.items[id] = wf
	return nil
}

func (r *memoryWorkflowRepo) Delete(_ context.Context, companyID, id uuid.UUID) error {
	wf, ok := r.items[id]
	if !ok || wf.CompanyID != companyID {
		return ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *memoryWorkflowRepo) InUse(_ context.Context, companyID, id uuid.UUID) (bool, error) {
	wf, ok := r.items[id]
	return ok && wf.CompanyID == companyID && r.referenced[id], nil
}

type stubDirectory struct {
	users map[uuid.UUID]directory.User
}

func (d stubDirectory) FindUsersByIDs(_ context.Context, companyID uuid.UUID, ids []uuid.UUID) ([]directory.User, error) {
	var out []directory.User
	for _, id := range ids {
		if u, ok := d.users[id]; ok && u.CompanyID == companyID {
			out = append(out, u)
		}
	}
	return out, nil
}

type recordingLocker struct {
	keys []string
}

func (l *recordingLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	l.keys = append(l.keys, key)
	return fn(ctx)
}

type serviceFixture struct {
	svc      *Service
	repo     *memoryWorkflowRepo
	locker   *recordingLocker
	admin    shared.Actor
	manager  directory.User
	employee directory.User
	foreign  directory.User
}

func newServiceFixture() *serviceFixture {
	companyID := uuid.New()
	f := &serviceFixture{
		repo:     newMemoryWorkflowRepo(),
		locker:   &recordingLocker{},
		admin:    shared.Actor{ID: uuid.New(), CompanyID: companyID, Role: shared.RoleAdmin},
		manager:  directory.User{ID: uuid.New(), CompanyID: companyID, Role: shared.RoleManager, IsActive: true},
		employee: directory.User{ID: uuid.New(), CompanyID: companyID, Role: shared.RoleEmployee, IsActive: true},
		foreign:  directory.User{ID: uuid.New(), CompanyID: uuid.New(), Role: shared.RoleManager, IsActive: true},
	}
	dir := stubDirectory{users: map[uuid.UUID]directory.User{
		f.manager.ID:  f.manager,
		f.employee.ID: f.employee,
		f.foreign.ID:  f.foreign,
	}}
	f.svc = NewService(f.repo, dir, f.locker, nil, nil)
	return f
}

func specific(approver uuid.UUID, priority int) Workflow {
	return Workflow{
		Name:     "Designated",
		Type:     TypeSpecificApprover,
		Rules:    Rules{SpecificApprover: &SpecificApproverRule{Approver: approver, AutoApprove: true}},
		IsActive: true,
		Priority: priority,
	}
}

func TestCreateWorkflowScopesToActorCompany(t *testing.T) {
	f := newServiceFixture()
	wf, err := f.svc.Create(context.Background(), f.admin, specific(f.manager.ID, 5))
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, wf.ID)
	require.Equal(t, f.admin.CompanyID, wf.CompanyID)
	require.Equal(t, f.admin.ID, wf.CreatedBy)
	require.Equal(t, []string{shared.WorkflowSetLockKey(f.admin.CompanyID)}, f.locker.keys)

	active, err := f.svc.ListActive(context.Background(), f.admin.CompanyID)
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestCreateWorkflowRequiresAdmin(t *testing.T) {
	f := newServiceFixture()
	actor := shared.Actor{ID: f.manager.ID, CompanyID: f.manager.CompanyID, Role: shared.RoleManager}
	_, err := f.svc.Create(context.Background(), actor, specific(f.manager.ID, 1))
	require.ErrorIs(t, err, ErrAdminOnly)
	require.True(t, shared.IsKind(err, shared.KindForbidden))
	require.Empty(t, f.repo.items)
}

func TestCreateWorkflowRejectsIneligibleApprovers(t *testing.T) {
	f := newServiceFixture()
	for name, approver := range map[string]uuid.UUID{
		"employee": f.employee.ID,
		"foreign":  f.foreign.ID,
		"unknown":  uuid.New(),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), f.admin, specific(approver, 1))
			require.True(t, shared.IsKind(err, shared.KindValidation))
		})
	}
	require.Empty(t, f.repo.items)
}

func TestCreateWorkflowReportsRuleProblems(t *testing.T) {
	f := newServiceFixture()
	_, err := f.svc.Create(context.Background(), f.admin, Workflow{Name: "Broken", Type: TypePercentage})
	var classified *shared.Error
	require.ErrorAs(t, err, &classified)
	require.Equal(t, shared.KindValidation, classified.Kind)
	require.Contains(t, classified.Fields, "rules.percentage")
}

func TestUpdateAndToggleWorkflow(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	wf, err := f.svc.Create(ctx, f.admin, specific(f.manager.ID, 1))
	require.NoError(t, err)

	changed := specific(f.manager.ID, 9)
	changed.Name = "  Renamed "
	updated, err := f.svc.Update(ctx, f.admin, wf.ID, changed)
	require.NoError(t, err)
	require.Equal(t, "Renamed", updated.Name)
	require.Equal(t, 9, updated.Priority)
	require.Equal(t, wf.Seq, updated.Seq)

	require.NoError(t, f.svc.SetActive(ctx, f.admin, wf.ID, false))
	active, err := f.svc.ListActive(ctx, f.admin.CompanyID)
	require.NoError(t, err)
	require.Empty(t, active)
	all, err := f.svc.List(ctx, f.admin)
	require.NoError(t, err)
	require.Len(t, all, 1)

	other := shared.Actor{ID: uuid.New(), CompanyID: uuid.New(), Role: shared.RoleAdmin}
	_, err = f.svc.Update(ctx, other, wf.ID, changed)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, f.svc.Delete(ctx, other, wf.ID), ErrNotFound)

	require.NoError(t, f.svc.Delete(ctx, f.admin, wf.ID))
	_, err = f.svc.Get(ctx, f.admin, wf.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListWorkflowsForbiddenForEmployees(t *testing.T) {
	f := newServiceFixture()
	actor := shared.Actor{ID: f.employee.ID, CompanyID: f.employee.CompanyID, Role: shared.RoleEmployee}
	_, err := f.svc.List(context.Background(), actor)
	require.ErrorIs(t, err, ErrAdminOnly)
}

func TestDeleteWorkflowReferencedByExpensesConflicts(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	wf, err := f.svc.Create(ctx, f.admin, specific(f.manager.ID, 1))
	require.NoError(t, err)
	f.repo.referenced = map[uuid.UUID]bool{wf.ID: true}

	err = f.svc.Delete(ctx, f.admin, wf.ID)
	require.ErrorIs(t, err, ErrInUse)
	require.True(t, shared.IsKind(err, shared.KindConflict))
	kept, err := f.svc.Get(ctx, f.admin, wf.ID)
	require.NoError(t, err)
	require.Equal(t, wf.ID, kept.ID)

	require.NoError(t, f.svc.SetActive(ctx, f.admin, wf.ID, false))
	f.repo.referenced = nil
	require.NoError(t, f.svc.Delete(ctx, f.admin, wf.ID))
}
