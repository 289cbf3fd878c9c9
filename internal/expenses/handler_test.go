package expenses

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/expenseflow/internal/approval"
	"github.com/odyssey-erp/expenseflow/internal/directory"
	"github.com/odyssey-erp/expenseflow/internal/platform/httpx"
	"github.com/odyssey-erp/expenseflow/internal/shared"
)

func (f *fixture) do(t *testing.T, as *directory.User, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc, 1<<20)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if as != nil {
				req = req.WithContext(shared.ContextWithActor(req.Context(), as.Actor()))
			}
			next.ServeHTTP(w, req)
		})
	})
	h.MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	return problem
}

const submitBody = `{"title":"Taxi","amount":"42.50","currency":"USD","category":"Travel","expense_date":"2026-02-27"}`

func TestHandlerSubmitJSON(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, &f.employee, jsonRequest(http.MethodPost, "/expenses", submitBody))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var expense Expense
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &expense))
	assert.Equal(t, approval.StatusPending, expense.Status)
	assert.Equal(t, f.employee.ID, expense.SubmittedBy)
	requireDecimal(t, "42.50", expense.ConvertedAmount)
	assert.Equal(t, 1, f.repo.count())
}

func TestHandlerSubmitRequiresActor(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, nil, jsonRequest(http.MethodPost, "/expenses", submitBody))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, f.repo.count())
}

func TestHandlerSubmitValidationProblem(t *testing.T) {
	f := newFixture(t)
	body := `{"title":"Taxi","amount":"42.50","category":"Travel","expense_date":"last tuesday"}`
	rec := f.do(t, &f.employee, jsonRequest(http.MethodPost, "/expenses", body))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	problem := decodeProblem(t, rec)
	assert.Equal(t, string(shared.KindValidation), problem.Type)
	assert.Contains(t, problem.Errors, "expense_date")

	rec = f.do(t, &f.employee, jsonRequest(http.MethodPost, "/expenses", `{"title":"x","surprise":true}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerIdempotencyKeyConflicts(t *testing.T) {
	f := newFixture(t)
	first := jsonRequest(http.MethodPost, "/expenses", submitBody)
	first.Header.Set(IdempotencyHeader, "abc-123")
	require.Equal(t, http.StatusCreated, f.do(t, &f.employee, first).Code)

	again := jsonRequest(http.MethodPost, "/expenses", submitBody)
	again.Header.Set(IdempotencyHeader, "abc-123")
	rec := f.do(t, &f.employee, again)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, f.repo.count())
}

func TestHandlerMultipartReceiptRoundTrip(t *testing.T) {
	f := newFixture(t)
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range map[string]string{
		"title":        "Hotel",
		"amount":       "120",
		"currency":     "USD",
		"category":     "Travel",
		"expense_date": "2026-02-20",
	} {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("receipt", "hotel.png")
	require.NoError(t, err)
	_, err = part.Write(png)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/expenses", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := f.do(t, &f.employee, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var expense Expense
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &expense))
	require.NotNil(t, expense.Receipt)

	rec = f.do(t, &f.manager, httptest.NewRequest(http.MethodGet, "/expenses/"+expense.ID.String()+"/receipt", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "hotel.png")
	assert.Equal(t, png, rec.Body.Bytes())
}

func TestHandlerDecisionFlow(t *testing.T) {
	f := newFixture(t)
	expense := f.submit(t, f.employee, draft("80", "USD"))
	path := "/expenses/" + expense.ID.String() + "/approval"

	rec := f.do(t, &f.employee, jsonRequest(http.MethodPost, path, `{"decision":"approved"}`))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, &f.manager, jsonRequest(http.MethodPost, path, `{"decision":"maybe"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, &f.manager, jsonRequest(http.MethodPost, path, `{"decision":"approved","comment":"ok"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, approval.StatusProcessing, result.Expense.Status)
	assert.True(t, result.Summary.ManagerApproved)
	assert.True(t, result.Summary.PartiallyApproved)

	rec = f.do(t, &f.manager, jsonRequest(http.MethodPost, path, `{"decision":"approved"}`))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, &f.finance, jsonRequest(http.MethodPost, path, `{"decision":"approved"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, approval.StatusApproved, result.Expense.Status)
	assert.True(t, result.Summary.FullyApproved)

	rec = f.do(t, &f.employee, httptest.NewRequest(http.MethodGet, "/expenses/"+expense.ID.String()+"/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		History []approval.HistoryEntry `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history.History, 3)
}

func TestHandlerTenantIsolation(t *testing.T) {
	f := newFixture(t)
	expense := f.submit(t, f.employee, draft("15", "USD"))

	rec := f.do(t, &f.outsider, httptest.NewRequest(http.MethodGet, "/expenses/"+expense.ID.String(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(shared.KindNotFound), decodeProblem(t, rec).Type)

	rec = f.do(t, &f.manager, httptest.NewRequest(http.MethodGet, "/expenses/not-a-uuid", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerDeletePendingByOwner(t *testing.T) {
	f := newFixture(t)
	expense := f.submit(t, f.employee, draft("15", "USD"))
	path := "/expenses/" + expense.ID.String()

	rec := f.do(t, &f.other, httptest.NewRequest(http.MethodDelete, path, nil))
	require.NotEqual(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, &f.employee, httptest.NewRequest(http.MethodDelete, path, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, f.repo.count())
}
