package currency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// Conversion sources.
const (
	SourceIdentity = "identity"
	SourceCache    = "cache"
	SourceLive     = "live"
	SourceFallback = "fallback"
)

// rateScale matches the NUMERIC(24,10) column rates are stored in.
const rateScale = 10

// Conversion is the result of converting an amount.
type Conversion struct {
	ConvertedAmount decimal.Decimal
	Rate            decimal.Decimal
	Source          string
}

// Service converts amounts using cache, live source and a static fallback, in that order.
type Service struct {
	source   RateSource
	cache    RateCache
	fallback RateTable
	timeout  time.Duration
	logger   *slog.Logger
	group    singleflight.Group
}

// NewService wires the conversion chain. source and cache may be nil.
func NewService(source RateSource, cache RateCache, fallback RateTable, timeout time.Duration, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, cache: cache, fallback: fallback, timeout: timeout, logger: logger}
}

// Lookup validates an ISO-4217 code.
func (s *Service) Lookup(code string) (Currency, error) {
	return Lookup(code)
}

// ResolveCountryCurrency maps a country hint to its currency.
func (s *Service) ResolveCountryCurrency(country string) (Currency, bool) {
	return ResolveCountryCurrency(country)
}

// Convert converts amount from one currency to another. The converted amount is rounded to 2 places.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (Conversion, error) {
	from, to = NormalizeCode(from), NormalizeCode(to)
	if _, err := Lookup(from); err != nil {
		return Conversion{}, fmt.Errorf("%w: %s", err, from)
	}
	if _, err := Lookup(to); err != nil {
		return Conversion{}, fmt.Errorf("%w: %s", err, to)
	}
	if from == to {
		return Conversion{ConvertedAmount: amount.Round(2), Rate: decimal.NewFromInt(1), Source: SourceIdentity}, nil
	}
	rate, source, err := s.rate(ctx, from, to)
	if err != nil {
		return Conversion{}, err
	}
	rate = rate.Round(rateScale)
	return Conversion{ConvertedAmount: amount.Mul(rate).Round(2), Rate: rate, Source: source}, nil
}

func (s *Service) rate(ctx context.Context, from, to string) (decimal.Decimal, string, error) {
	if table, source, ok := s.table(ctx, from); ok {
		if r, found := table.Rate(to); found {
			return r, source, nil
		}
	}
	if r, ok := s.fallback.Cross(from, to); ok {
		s.logger.Warn("currency fallback rate used", slog.String("from", from), slog.String("to", to))
		return r, SourceFallback, nil
	}
	return decimal.Zero, "", fmt.Errorf("%w: %s to %s", ErrConversionUnavailable, from, to)
}

func (s *Service) table(ctx context.Context, base string) (RateTable, string, bool) {
	if s.cache != nil {
		table, ok, err := s.cache.Get(ctx, base)
		if err != nil {
			s.logger.Warn("rate cache read failed", slog.String("base", base), slog.Any("error", err))
		} else if ok && !table.Empty() {
			return table, SourceCache, true
		}
	}
	if s.source == nil {
		return RateTable{}, "", false
	}
	table, err := s.fetch(ctx, base)
	if err != nil {
		s.logger.Warn("live rate fetch failed", slog.String("base", base), slog.Any("error", err))
		return RateTable{}, "", false
	}
	return table, SourceLive, true
}

func (s *Service) fetch(ctx context.Context, base string) (RateTable, error) {
	v, err, _ := s.group.Do(base, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		table, err := s.source.FetchRates(fetchCtx, base)
		if err != nil {
			return RateTable{}, err
		}
		if s.cache != nil {
			if err := s.cache.Set(fetchCtx, table); err != nil {
				s.logger.Warn("rate cache write failed", slog.String("base", base), slog.Any("error", err))
			}
		}
		return table, nil
	})
	if err != nil {
		return RateTable{}, err
	}
	return v.(RateTable), nil
}

// Warm refreshes the cached tables for the given bases from the live source.
func (s *Service) Warm(ctx context.Context, bases ...string) error {
	if s.source == nil {
		return nil
	}
	var failed []string
	for _, base := range bases {
		base = NormalizeCode(base)
		if _, err := s.fetch(ctx, base); err != nil {
			s.logger.Warn("rate warm-up failed", slog.String("base", base), slog.Any("error", err))
			failed = append(failed, base)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("currency: warm-up failed for %v", failed)
	}
	return nil
}

// Fallback exposes the static table, used by operator tooling.
func (s *Service) Fallback() RateTable {
	return s.fallback
}
