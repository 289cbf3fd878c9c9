package workflows

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/expenseflow/internal/platform/httpx"
	"github.com/odyssey-erp/expenseflow/internal/shared"
)

// Handler exposes workflow administration.
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

// MountRoutes registers workflow routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/workflows", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
		r.Post("/{id}/activate", h.setActive(true))
		r.Post("/{id}/deactivate", h.setActive(false))
	})
}

type workflowRequest struct {
	Name       string     `json:"name" validate:"required,max=200"`
	Type       string     `json:"type" validate:"required,oneof=percentage specific_approver hybrid"`
	Conditions Conditions `json:"conditions"`
	Rules      Rules      `json:"rules"`
	Levels     []Level    `json:"levels"`
	IsActive   *bool      `json:"is_active"`
	Priority   int        `json:"priority" validate:"gte=0"`
}

func (req workflowRequest) toWorkflow() Workflow {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return Workflow{
		Name:       req.Name,
		Type:       Type(req.Type),
		Conditions: req.Conditions,
		Rules:      req.Rules,
		Levels:     req.Levels,
		IsActive:   active,
		Priority:   req.Priority,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	items, err := h.service.List(r.Context(), actor)
	if err != nil {
		h.fail(w, "list workflows", err)
		return
	}
	if items == nil {
		items = []Workflow{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"workflows": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	wf, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "get workflow", err)
		return
	}
	httpx.JSON(w, http.StatusOK, wf)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	wf, err := h.service.Create(r.Context(), actor, req.toWorkflow())
	if err != nil {
		h.fail(w, "create workflow", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, wf)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	wf, err := h.service.Update(r.Context(), actor, id, req.toWorkflow())
	if err != nil {
		h.fail(w, "update workflow", err)
		return
	}
	httpx.JSON(w, http.StatusOK, wf)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		h.fail(w, "delete workflow", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := h.target(w, r)
		if !ok {
			return
		}
		if err := h.service.SetActive(r.Context(), actor, id, active); err != nil {
			h.fail(w, "toggle workflow", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (workflowRequest, bool) {
	var req workflowRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return req, false
	}
	if err := httpx.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return req, false
	}
	return req, true
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (shared.Actor, uuid.UUID, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return shared.Actor{}, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, ErrNotFound)
		return shared.Actor{}, uuid.Nil, false
	}
	return actor, id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.KindOf(err) == shared.KindInternal {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
