package directory

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/expenseflow/internal/platform/httpx"
	"github.com/odyssey-erp/expenseflow/internal/shared"
)

// Handler exposes company registration and member administration.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountPublicRoutes registers unauthenticated routes.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Post("/register", h.register)
}

// MountRoutes registers routes that need an authenticated actor.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/company", h.getCompany)
	r.Patch("/company", h.updateCompany)
	r.Get("/users", h.listUsers)
	r.Post("/users", h.createUser)
	r.Patch("/users/{id}", h.updateUser)
}

type registerRequest struct {
	CompanyName string `json:"company_name" validate:"required,max=200"`
	Country     string `json:"country" validate:"required,len=2"`
	Currency    string `json:"currency" validate:"omitempty,len=3"`
	Name        string `json:"name" validate:"required,max=200"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
}

type registerResponse struct {
	Company Company `json:"company"`
	User    User    `json:"user"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	company, admin, err := h.service.RegisterCompany(r.Context(), RegisterInput{
		CompanyName:   req.CompanyName,
		Country:       req.Country,
		CurrencyCode:  req.Currency,
		AdminName:     req.Name,
		AdminEmail:    req.Email,
		AdminPassword: req.Password,
	})
	if err != nil {
		h.fail(w, "register company", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, registerResponse{Company: company, User: admin})
}

func (h *Handler) getCompany(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	company, err := h.service.GetCompany(r.Context(), actor.CompanyID)
	if err != nil {
		h.fail(w, "get company", err)
		return
	}
	httpx.JSON(w, http.StatusOK, company)
}

type updateCompanyRequest struct {
	Name              *string          `json:"name" validate:"omitempty,max=200"`
	Country           *string          `json:"country" validate:"omitempty,len=2"`
	ExpenseLimit      *decimal.Decimal `json:"expense_limit"`
	ClearExpenseLimit bool             `json:"clear_expense_limit"`
}

func (h *Handler) updateCompany(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	var req updateCompanyRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	company, err := h.service.UpdateCompany(r.Context(), actor, CompanyPatch{
		Name:         req.Name,
		Country:      req.Country,
		ExpenseLimit: req.ExpenseLimit,
		ClearLimit:   req.ClearExpenseLimit,
	})
	if err != nil {
		h.fail(w, "update company", err)
		return
	}
	httpx.JSON(w, http.StatusOK, company)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	users, err := h.service.ListUsers(r.Context(), actor)
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	if users == nil {
		users = []User{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": users})
}

type createUserRequest struct {
	Name      string     `json:"name" validate:"required,max=200"`
	Email     string     `json:"email" validate:"required,email"`
	Password  string     `json:"password" validate:"required,min=8"`
	Role      string     `json:"role" validate:"required,oneof=admin manager finance employee"`
	ManagerID *uuid.UUID `json:"manager_id"`
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	var req createUserRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.CreateUser(r.Context(), actor, CreateUserInput{
		Name:      req.Name,
		Email:     req.Email,
		Password:  req.Password,
		Role:      req.Role,
		ManagerID: req.ManagerID,
	})
	if err != nil {
		h.fail(w, "create user", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, user)
}

type updateUserRequest struct {
	Name      *string    `json:"name" validate:"omitempty,max=200"`
	Role      *string    `json:"role" validate:"omitempty,oneof=admin manager finance employee"`
	ManagerID *uuid.UUID `json:"manager_id"`
	IsActive  *bool      `json:"is_active"`
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, ErrUserNotFound)
		return
	}
	var req updateUserRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.UpdateUser(r.Context(), actor, id, UpdateUserInput{
		Name:      req.Name,
		Role:      req.Role,
		ManagerID: req.ManagerID,
		IsActive:  req.IsActive,
	})
	if err != nil {
		h.fail(w, "update user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.KindOf(err) == shared.KindInternal {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
