package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// RateSource fetches live quotes for a base currency.
type RateSource interface {
	FetchRates(ctx context.Context, base string) (RateTable, error)
}

// HTTPSource reads rates from an exchangerate-api compatible endpoint: GET {baseURL}/{BASE}.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

type ratesResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// NewHTTPSource constructs the live source guarded by a circuit breaker.
func NewHTTPSource(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        "currency-rates",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	}
	return &HTTPSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker:    gobreaker.NewCircuitBreaker(settings),
		logger:     logger,
	}
}

// FetchRates implements RateSource.
func (s *HTTPSource) FetchRates(ctx context.Context, base string) (RateTable, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.fetch(ctx, base)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return RateTable{}, fmt.Errorf("currency: rate source unavailable: %w", err)
		}
		return RateTable{}, err
	}
	return result.(RateTable), nil
}

func (s *HTTPSource) fetch(ctx context.Context, base string) (RateTable, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", s.baseURL, base), nil)
	if err != nil {
		return RateTable{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return RateTable{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return RateTable{}, fmt.Errorf("currency: rate source returned status %d", resp.StatusCode)
	}
	var payload ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return RateTable{}, fmt.Errorf("currency: decode rates: %w", err)
	}
	if len(payload.Rates) == 0 {
		return RateTable{}, fmt.Errorf("currency: rate source returned no rates for %s", base)
	}
	table := RateTable{Base: NormalizeCode(payload.Base), Rates: make(map[string]decimal.Decimal, len(payload.Rates)), FetchedAt: time.Now().UTC()}
	if table.Base == "" {
		table.Base = base
	}
	for code, rate := range payload.Rates {
		table.Rates[NormalizeCode(code)] = rate
	}
	return table, nil
}
