package currency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/expenseflow/internal/shared"
)

func testFallback(t *testing.T) RateTable {
	t.Helper()
	table, err := ParseFallback([]byte("base: USD\nrates:\n  USD: 1\n  EUR: 0.9\n  IDR: 16000\n"))
	require.NoError(t, err)
	return table
}

type stubSource struct {
	calls int32
	table RateTable
	err   error
}

func (s *stubSource) FetchRates(_ context.Context, base string) (RateTable, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return RateTable{}, s.err
	}
	table := s.table
	table.Base = base
	return table, nil
}

func TestConvertIdentity(t *testing.T) {
	svc := NewService(nil, nil, testFallback(t), time.Second, nil)
	conv, err := svc.Convert(context.Background(), decimal.NewFromInt(100), "usd", "USD")
	require.NoError(t, err)
	require.True(t, conv.Rate.Equal(decimal.NewFromInt(1)))
	require.Equal(t, "100", conv.ConvertedAmount.String())
	require.Equal(t, SourceIdentity, conv.Source)
}

func TestConvertFallbackRoundTrip(t *testing.T) {
	svc := NewService(nil, nil, testFallback(t), time.Second, nil)
	ctx := context.Background()
	original := decimal.RequireFromString("123.45")

	there, err := svc.Convert(ctx, original, "USD", "EUR")
	require.NoError(t, err)
	require.Equal(t, SourceFallback, there.Source)
	require.Equal(t, "111.11", there.ConvertedAmount.StringFixed(2))

	back, err := svc.Convert(ctx, there.ConvertedAmount, "EUR", "USD")
	require.NoError(t, err)
	diff := back.ConvertedAmount.Sub(original).Abs()
	require.True(t, diff.LessThanOrEqual(decimal.RequireFromString("0.01")), "round trip drifted by %s", diff)
}

func TestConvertCrossRateThroughBase(t *testing.T) {
	svc := NewService(nil, nil, testFallback(t), time.Second, nil)
	conv, err := svc.Convert(context.Background(), decimal.NewFromInt(9), "EUR", "IDR")
	require.NoError(t, err)
	require.Equal(t, "160000.00", conv.ConvertedAmount.StringFixed(2))
}

func TestConvertUnavailable(t *testing.T) {
	svc := NewService(&stubSource{err: errors.New("down")}, nil, testFallback(t), time.Second, nil)
	_, err := svc.Convert(context.Background(), decimal.NewFromInt(10), "USD", "CHF")
	require.ErrorIs(t, err, ErrConversionUnavailable)
	require.Equal(t, shared.KindConversionUnavailable, shared.KindOf(err))
}

func TestConvertRejectsUnknownCode(t *testing.T) {
	svc := NewService(nil, nil, testFallback(t), time.Second, nil)
	_, err := svc.Convert(context.Background(), decimal.NewFromInt(10), "QQQ", "USD")
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestConvertPrefersLiveAndCaches(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	source := &stubSource{table: RateTable{Rates: map[string]decimal.Decimal{"EUR": decimal.RequireFromString("0.5")}}}
	svc := NewService(source, NewRedisCache(client, time.Minute), testFallback(t), time.Second, nil)
	ctx := context.Background()

	conv, err := svc.Convert(ctx, decimal.NewFromInt(10), "USD", "EUR")
	require.NoError(t, err)
	require.Equal(t, SourceLive, conv.Source)
	require.Equal(t, "5.00", conv.ConvertedAmount.StringFixed(2))
	require.True(t, mr.Exists("rates:USD"))

	conv, err = svc.Convert(ctx, decimal.NewFromInt(10), "USD", "EUR")
	require.NoError(t, err)
	require.Equal(t, SourceCache, conv.Source)
	require.Equal(t, int32(1), atomic.LoadInt32(&source.calls))
}

func TestConvertFallsBackWhenLiveLacksCode(t *testing.T) {
	source := &stubSource{table: RateTable{Rates: map[string]decimal.Decimal{"GBP": decimal.RequireFromString("0.8")}}}
	svc := NewService(source, nil, testFallback(t), time.Second, nil)
	conv, err := svc.Convert(context.Background(), decimal.NewFromInt(10), "USD", "EUR")
	require.NoError(t, err)
	require.Equal(t, SourceFallback, conv.Source)
	require.Equal(t, "9.00", conv.ConvertedAmount.StringFixed(2))
}

func TestHTTPSourceFetchesRates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/USD", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"base":"USD","rates":{"EUR":0.91,"jpy":150.25}}`)
	}))
	t.Cleanup(srv.Close)

	source := NewHTTPSource(srv.URL, time.Second, nil)
	table, err := source.FetchRates(context.Background(), "USD")
	require.NoError(t, err)
	require.Equal(t, "USD", table.Base)
	require.Equal(t, "150.25", table.Rates["JPY"].String())
}

func TestHTTPSourceOpensBreaker(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	source := NewHTTPSource(srv.URL, time.Second, nil)
	for i := 0; i < 5; i++ {
		_, err := source.FetchRates(context.Background(), "USD")
		require.Error(t, err)
	}
	require.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestWarmPopulatesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	source := &stubSource{table: RateTable{Rates: map[string]decimal.Decimal{"EUR": decimal.RequireFromString("0.9")}}}
	svc := NewService(source, NewRedisCache(client, time.Minute), testFallback(t), time.Second, nil)
	require.NoError(t, svc.Warm(context.Background(), "usd", "eur"))
	require.True(t, mr.Exists("rates:USD"))
	require.True(t, mr.Exists("rates:EUR"))
}

func TestResolveCountryCurrency(t *testing.T) {
	cur, ok := ResolveCountryCurrency("US")
	require.True(t, ok)
	require.Equal(t, "USD", cur.Code)
	require.Equal(t, "$", cur.Symbol)

	cur, ok = ResolveCountryCurrency("id")
	require.True(t, ok)
	require.Equal(t, "IDR", cur.Code)

	_, ok = ResolveCountryCurrency("")
	require.False(t, ok)
	_, ok = ResolveCountryCurrency("not-a-region")
	require.False(t, ok)
}

func TestLoadFallbackEmbedded(t *testing.T) {
	table, err := LoadFallback("")
	require.NoError(t, err)
	require.Equal(t, "USD", table.Base)
	_, ok := table.Rate("EUR")
	require.True(t, ok)
}

func TestParseFallbackRejectsNonPositive(t *testing.T) {
	_, err := ParseFallback([]byte("base: USD\nrates:\n  EUR: 0\n"))
	require.Error(t, err)
}
