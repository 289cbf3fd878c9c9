package workflows

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/expenseflow/internal/directory"
	"github.com/odyssey-erp/expenseflow/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	ActiveLister
	List(ctx context.Context, companyID uuid.UUID) ([]Workflow, error)
	Get(ctx context.Context, companyID, id uuid.UUID) (Workflow, error)
	Create(ctx context.Context, wf Workflow) (Workflow, error)
	Update(ctx context.Context, wf Workflow) (Workflow, error)
	SetActive(ctx context.Context, companyID, id uuid.UUID, active bool) error
	Delete(ctx context.Context, companyID, id uuid.UUID) error
	InUse(ctx context.Context, companyID, id uuid.UUID) (bool, error)
}

// DirectoryPort resolves approvers named by a workflow.
type DirectoryPort interface {
	FindUsersByIDs(ctx context.Context, companyID uuid.UUID, ids []uuid.UUID) ([]directory.User, error)
}

// Locker serialises writes to a company's workflow set.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service administers approval workflows.
type Service struct {
	repo      RepositoryPort
	directory DirectoryPort
	locker    Locker
	audit     AuditPort
	logger    *slog.Logger
}

// NewService constructs the workflow service. locker and audit may be nil.
func NewService(repo RepositoryPort, dir DirectoryPort, locker Locker, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, directory: dir, locker: locker, audit: audit, logger: logger}
}

// List returns the company's workflows in evaluation order. Reviewers may read them.
func (s *Service) List(ctx context.Context, actor shared.Actor) ([]Workflow, error) {
	if !actor.Role.CanReview() {
		return nil, ErrAdminOnly
	}
	return s.repo.List(ctx, actor.CompanyID)
}

// Get returns one workflow of the actor's company.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id uuid.UUID) (Workflow, error) {
	if !actor.Role.CanReview() {
		return Workflow{}, ErrAdminOnly
	}
	return s.repo.Get(ctx, actor.CompanyID, id)
}

// ListActive satisfies ActiveLister for callers holding a Service.
func (s *Service) ListActive(ctx context.Context, companyID uuid.UUID) ([]Workflow, error) {
	return s.repo.ListActive(ctx, companyID)
}

// Create validates and stores a new workflow.
func (s *Service) Create(ctx context.Context, actor shared.Actor, wf Workflow) (Workflow, error) {
	if !actor.IsAdmin() {
		return Workflow{}, ErrAdminOnly
	}
	wf.ID = uuid.New()
	wf.CompanyID = actor.CompanyID
	wf.CreatedBy = actor.ID
	wf = normalize(wf)
	if err := s.check(ctx, wf); err != nil {
		return Workflow{}, err
	}
	var created Workflow
	err := s.guard(ctx, actor.CompanyID, func(ctx context.Context) error {
		var err error
		created, err = s.repo.Create(ctx, wf)
		return err
	})
	if err != nil {
		return Workflow{}, err
	}
	s.logger.Info("workflow created",
		slog.String("workflow_id", created.ID.String()),
		slog.String("company_id", created.CompanyID.String()),
		slog.String("type", string(created.Type)),
		slog.Int("priority", created.Priority))
	s.recordAudit(ctx, actor.ID, "WORKFLOW_CREATE", created.ID, map[string]any{"type": string(created.Type), "priority": created.Priority})
	return created, nil
}

// Update replaces a workflow's definition. Expenses already routed keep their reference.
func (s *Service) Update(ctx context.Context, actor shared.Actor, id uuid.UUID, wf Workflow) (Workflow, error) {
	if !actor.IsAdmin() {
		return Workflow{}, ErrAdminOnly
	}
	existing, err := s.repo.Get(ctx, actor.CompanyID, id)
	if err != nil {
		return Workflow{}, err
	}
	wf.ID = existing.ID
	wf.CompanyID = existing.CompanyID
	wf.CreatedBy = existing.CreatedBy
	wf = normalize(wf)
	if err := s.check(ctx, wf); err != nil {
		return Workflow{}, err
	}
	var updated Workflow
	err = s.guard(ctx, actor.CompanyID, func(ctx context.Context) error {
		var err error
		updated, err = s.repo.Update(ctx, wf)
		return err
	})
	if err != nil {
		return Workflow{}, err
	}
	s.recordAudit(ctx, actor.ID, "WORKFLOW_UPDATE", updated.ID, map[string]any{"type": string(updated.Type), "priority": updated.Priority})
	return updated, nil
}

// SetActive activates or deactivates a workflow without touching its history.
func (s *Service) SetActive(ctx context.Context, actor shared.Actor, id uuid.UUID, active bool) error {
	if !actor.IsAdmin() {
		return ErrAdminOnly
	}
	err := s.guard(ctx, actor.CompanyID, func(ctx context.Context) error {
		return s.repo.SetActive(ctx, actor.CompanyID, id, active)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor.ID, "WORKFLOW_SET_ACTIVE", id, map[string]any{"active": active})
	return nil
}

// Delete removes a workflow no expense references.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, id uuid.UUID) error {
	if !actor.IsAdmin() {
		return ErrAdminOnly
	}
	err := s.guard(ctx, actor.CompanyID, func(ctx context.Context) error {
		used, err := s.repo.InUse(ctx, actor.CompanyID, id)
		if err != nil {
			return err
		}
		if used {
			return ErrInUse
		}
		return s.repo.Delete(ctx, actor.CompanyID, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor.ID, "WORKFLOW_DELETE", id, nil)
	return nil
}

// check validates the definition and that every named approver can approve in the company.
func (s *Service) check(ctx context.Context, wf Workflow) error {
	if err := Validate(wf); err != nil {
		return err
	}
	ids := wf.Approvers()
	if len(ids) == 0 || s.directory == nil {
		return nil
	}
	users, err := s.directory.FindUsersByIDs(ctx, wf.CompanyID, ids)
	if err != nil {
		return err
	}
	found := make(map[uuid.UUID]directory.User, len(users))
	for _, u := range users {
		found[u.ID] = u
	}
	problems := map[string]string{}
	for _, id := range ids {
		u, ok := found[id]
		switch {
		case !ok:
			problems["approvers"] = "unknown approver " + id.String()
		case !u.IsActive:
			problems["approvers"] = "approver " + id.String() + " is deactivated"
		case !u.Role.CanApprove() && u.Role != shared.RoleAdmin:
			problems["approvers"] = "approver " + id.String() + " cannot approve expenses"
		}
		if len(problems) > 0 {
			break
		}
	}
	if len(problems) > 0 {
		return shared.Validation(problems)
	}
	return nil
}

func (s *Service) guard(ctx context.Context, companyID uuid.UUID, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, shared.WorkflowSetLockKey(companyID), fn)
}

func (s *Service) recordAudit(ctx context.Context, actorID uuid.UUID, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "workflow", EntityID: id.String(), Meta: meta, At: time.Now().UTC()}); err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

func normalize(wf Workflow) Workflow {
	wf.Name = strings.TrimSpace(wf.Name)
	wf.Type = Type(strings.ToLower(strings.TrimSpace(string(wf.Type))))
	cats := make([]string, 0, len(wf.Conditions.Categories))
	for _, c := range wf.Conditions.Categories {
		cats = append(cats, strings.TrimSpace(c))
	}
	wf.Conditions.Categories = cats
	if wf.Levels == nil {
		wf.Levels = []Level{}
	}
	return wf
}
