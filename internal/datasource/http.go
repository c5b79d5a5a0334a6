package datasource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"

	"quantcore/pkg/types"
)

// barRow is the upstream daily bar shape. Volume arrives as a float in
// some feeds, so it is decoded as float64 and truncated.
type barRow struct {
	TradeDate string  `json:"trade_date"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Amount    float64 `json:"amount"`
}

type historyResponse struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Data    []barRow `json:"data"`
}

type quoteResponse struct {
	Code    int     `json:"code"`
	Message string  `json:"message"`
	Symbol  string  `json:"symbol"`
	Price   float64 `json:"price"`
	Volume  float64 `json:"volume"`
	Time    int64   `json:"time"` // unix seconds
}

// HTTPSource fetches daily history and realtime quotes from a REST API.
// Requests are retried on transport errors and 5xx responses.
type HTTPSource struct {
	http *resty.Client
}

// NewHTTPSource creates a source against baseURL. An empty token skips
// the auth header.
func NewHTTPSource(baseURL, token string) *HTTPSource {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPSource{http: client}
}

// FetchBars fetches daily bars for [start, end], sorted by ascending date.
func (s *HTTPSource) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]types.Bar, error) {
	var result historyResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("start_date", start.Format("20060102")).
		SetQueryParam("end_date", end.Format("20060102")).
		SetResult(&result).
		Get("/history")
	if err != nil {
		return nil, normalizeError("fetch_bars", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, normalizeError("fetch_bars",
			fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
	}
	if result.Code != 0 {
		return nil, normalizeError("fetch_bars",
			fmt.Errorf("api code %d: %s", result.Code, result.Message))
	}
	if len(result.Data) == 0 {
		return nil, normalizeError("fetch_bars", errors.New("no data"))
	}

	bars := make([]types.Bar, 0, len(result.Data))
	for _, row := range result.Data {
		bar, err := normalizeBar(symbol, row)
		if err != nil {
			return nil, normalizeError("fetch_bars", err)
		}
		bars = append(bars, bar)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Datetime.Before(bars[j].Datetime) })
	return bars, nil
}

// FetchRealtime fetches one quote snapshot.
func (s *HTTPSource) FetchRealtime(ctx context.Context, symbol string) (*types.Quote, error) {
	var result quoteResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&result).
		Get("/quote")
	if err != nil {
		return nil, normalizeError("fetch_realtime", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, normalizeError("fetch_realtime",
			fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
	}
	if result.Code != 0 {
		return nil, normalizeError("fetch_realtime",
			fmt.Errorf("api code %d: %s", result.Code, result.Message))
	}

	return &types.Quote{
		Symbol:    symbol,
		Price:     result.Price,
		Volume:    int64(result.Volume),
		Timestamp: time.Unix(result.Time, 0).UTC(),
	}, nil
}

func normalizeBar(symbol string, row barRow) (types.Bar, error) {
	dt, err := types.ParseDate(row.TradeDate)
	if err != nil {
		return types.Bar{}, err
	}
	return types.Bar{
		Symbol:   symbol,
		Datetime: dt,
		Open:     row.Open,
		High:     row.High,
		Low:      row.Low,
		Close:    row.Close,
		Volume:   int64(row.Volume),
		Amount:   row.Amount,
	}, nil
}
