// Package datasource provides market data adapters: an HTTP history
// source, a caching decorator, a concurrent multi-symbol fetch helper,
// and a realtime WebSocket feed.
package datasource

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"quantcore/internal/errs"
	"quantcore/pkg/types"
)

// Source is the market data contract. FetchBars returns daily bars for
// [start, end] sorted by ascending date; FetchRealtime returns a quote
// snapshot.
type Source interface {
	FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]types.Bar, error)
	FetchRealtime(ctx context.Context, symbol string) (*types.Quote, error)
}

// normalizeError wraps an adapter failure into a Data error with a
// normalized reason chosen by case-insensitive substring matching, so
// callers can branch on stable messages regardless of the upstream
// library's wording.
func normalizeError(action string, err error) error {
	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "429"),
		strings.Contains(message, "too many"),
		strings.Contains(message, "rate"):
		return errs.Wrap(err, errs.KindData, action+" failed: rate limit")
	case strings.Contains(message, "timeout"),
		strings.Contains(message, "network"),
		strings.Contains(message, "connection"):
		return errs.Wrap(err, errs.KindData, action+" failed: network error")
	case strings.Contains(message, "no data"),
		strings.Contains(message, "empty"):
		return errs.Wrap(err, errs.KindData, action+" failed: no data")
	default:
		return errs.Wrap(err, errs.KindData, action+" failed")
	}
}

// fetchConcurrency caps parallel upstream requests in FetchBarsMulti.
const fetchConcurrency = 4

// FetchBarsMulti fetches history for several symbols concurrently. The
// first failing fetch cancels the rest and is returned.
func FetchBarsMulti(ctx context.Context, src Source, symbols []string, start, end time.Time) (map[string][]types.Bar, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)

	results := make([]struct {
		symbol string
		bars   []types.Bar
	}, len(symbols))

	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			bars, err := src.FetchBars(ctx, symbol, start, end)
			if err != nil {
				return err
			}
			results[i].symbol = symbol
			results[i].bars = bars
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]types.Bar, len(symbols))
	for _, r := range results {
		out[r.symbol] = r.bars
	}
	return out, nil
}
