package expenses

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/expenseflow/internal/approval"
	"github.com/odyssey-erp/expenseflow/internal/platform/httpx"
	"github.com/odyssey-erp/expenseflow/internal/shared"
)

// IdempotencyHeader carries the client supplied submission key.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes expense endpoints.
type Handler struct {
	logger          *slog.Logger
	service         *Service
	receiptMaxBytes int64
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, receiptMaxBytes int64) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if receiptMaxBytes <= 0 {
		receiptMaxBytes = DefaultReceiptMaxBytes
	}
	return &Handler{logger: logger, service: service, receiptMaxBytes: receiptMaxBytes}
}

// MountRoutes registers expense routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/expenses", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.submit)
		r.Get("/{id}", h.get)
		r.Patch("/{id}", h.update)
		r.Delete("/{id}", h.delete)
		r.Post("/{id}/approval", h.decide)
		r.Get("/{id}/history", h.history)
		r.Get("/{id}/receipt", h.receipt)
	})
}

type submitRequest struct {
	Title       string          `json:"title" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=2000"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" validate:"omitempty,len=3"`
	Country     string          `json:"country" validate:"omitempty,len=2"`
	Category    string          `json:"category" validate:"required,max=100"`
	ExpenseDate string          `json:"expense_date" validate:"required"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	draft, err := h.readDraft(w, r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	expense, err := h.service.Submit(r.Context(), actor, draft, key)
	if err != nil {
		h.fail(w, "submit expense", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, expense)
}

func (h *Handler) readDraft(w http.ResponseWriter, r *http.Request) (Draft, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req submitRequest
		if err := httpx.DecodeJSON(w, r, &req); err != nil {
			return Draft{}, err
		}
		return draftFromRequest(req, nil)
	}

	// Form fields travel next to the receipt, so the body cap leaves room for both.
	r.Body = http.MaxBytesReader(w, r.Body, h.receiptMaxBytes+(1<<20))
	if err := r.ParseMultipartForm(h.receiptMaxBytes); err != nil {
		return Draft{}, shared.Validation(map[string]string{"body": "invalid multipart form"})
	}
	req := submitRequest{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Currency:    r.FormValue("currency"),
		Country:     r.FormValue("country"),
		Category:    r.FormValue("category"),
		ExpenseDate: r.FormValue("expense_date"),
	}
	if raw := strings.TrimSpace(r.FormValue("amount")); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return Draft{}, shared.Validation(map[string]string{"amount": "must be a decimal number"})
		}
		req.Amount = amount
	}
	upload, err := h.readReceipt(r)
	if err != nil {
		return Draft{}, err
	}
	return draftFromRequest(req, upload)
}

func (h *Handler) readReceipt(r *http.Request) (*ReceiptUpload, error) {
	file, header, err := r.FormFile("receipt")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, shared.Validation(map[string]string{"receipt": "unreadable upload"})
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, h.receiptMaxBytes+1))
	if err != nil {
		return nil, shared.Validation(map[string]string{"receipt": "unreadable upload"})
	}
	return &ReceiptUpload{Filename: header.Filename, Data: data}, nil
}

func draftFromRequest(req submitRequest, upload *ReceiptUpload) (Draft, error) {
	if err := httpx.ValidateStruct(req); err != nil {
		return Draft{}, err
	}
	date, err := parseDate(req.ExpenseDate)
	if err != nil {
		return Draft{}, shared.Validation(map[string]string{"expense_date": "must be RFC3339 or YYYY-MM-DD"})
	}
	return Draft{
		Title:        req.Title,
		Description:  req.Description,
		Amount:       req.Amount,
		CurrencyCode: req.Currency,
		Country:      req.Country,
		Category:     req.Category,
		ExpenseDate:  date,
		Receipt:      upload,
	}, nil
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	filter := Filter{
		Status:   approval.Status(strings.ToLower(q.Get("status"))),
		Category: q.Get("category"),
	}
	if q.Get("mine") == "true" {
		id := actor.ID
		filter.SubmittedBy = &id
	}
	result, err := h.service.List(r.Context(), actor, filter, shared.Pagination{Page: page, PerPage: perPage})
	if err != nil {
		h.fail(w, "list expenses", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	result, err := h.service.Summary(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "get expense", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type updateRequest struct {
	Title       *string          `json:"title" validate:"omitempty,max=200"`
	Description *string          `json:"description" validate:"omitempty,max=2000"`
	Amount      *decimal.Decimal `json:"amount"`
	Currency    *string          `json:"currency" validate:"omitempty,len=3"`
	Category    *string          `json:"category" validate:"omitempty,max=100"`
	ExpenseDate *string          `json:"expense_date"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	patch := Patch{
		Title:        req.Title,
		Description:  req.Description,
		Amount:       req.Amount,
		CurrencyCode: req.Currency,
		Category:     req.Category,
	}
	if req.ExpenseDate != nil {
		date, err := parseDate(*req.ExpenseDate)
		if err != nil {
			httpx.RespondError(w, shared.Validation(map[string]string{"expense_date": "must be RFC3339 or YYYY-MM-DD"}))
			return
		}
		patch.ExpenseDate = &date
	}
	expense, err := h.service.Update(r.Context(), actor, id, patch)
	if err != nil {
		h.fail(w, "update expense", err)
		return
	}
	httpx.JSON(w, http.StatusOK, expense)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		h.fail(w, "delete expense", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type decisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected"`
	Comment  string `json:"comment" validate:"max=1000"`
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.ProcessApproval(r.Context(), actor, id, approval.Decision(req.Decision), req.Comment)
	if err != nil {
		h.fail(w, "process approval", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	entries, err := h.service.History(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "expense history", err)
		return
	}
	if entries == nil {
		entries = []approval.HistoryEntry{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (h *Handler) receipt(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	receipt, err := h.service.Receipt(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "expense receipt", err)
		return
	}
	w.Header().Set("Content-Type", receipt.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(receipt.Data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": receipt.Filename}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(receipt.Data)
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
