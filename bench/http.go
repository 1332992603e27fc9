// Copyright 2021-2022
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bench

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wealth-vault/wv-api/observability/opentelemetry"
	"github.com/wealth-vault/wv-api/valuation"
)

const (
	candleEndpoint = "%s/api/v1/stock/candle?symbol=%s&resolution=D&from=%d&to=%d&token=%s"
	quoteEndpoint  = "%s/api/v1/quote?symbol=%s&token=%s"
)

// RateLimiter throttles outbound provider calls.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// IntervalLimiter spaces calls at least Interval apart.
type IntervalLimiter struct {
	Interval time.Duration
	last     time.Time
}

func (lim *IntervalLimiter) Wait(ctx context.Context) error {
	if lim.Interval <= 0 {
		return nil
	}
	wake := lim.last.Add(lim.Interval)
	now := time.Now()
	if wake.After(now) {
		timer := time.NewTimer(wake.Sub(now))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	lim.last = time.Now()
	return nil
}

type candleResponse struct {
	Status     string    `json:"s"`
	Timestamps []int64   `json:"t"`
	Close      []float64 `json:"c"`
}

type quoteResponse struct {
	Current   float64 `json:"c"`
	Timestamp int64   `json:"t"`
}

// HTTPSource fetches daily close candles from a finnhub-style API.
type HTTPSource struct {
	apiKey  string
	baseURL string
	limiter RateLimiter
	client  *http.Client
}

// NewHTTPSource configures a provider from benchmark.api_key and
// benchmark.url; the limiter may be nil.
func NewHTTPSource(limiter RateLimiter) *HTTPSource {
	baseURL := viper.GetString("benchmark.url")
	if baseURL == "" {
		baseURL = "https://finnhub.io"
	}
	return &HTTPSource{
		apiKey:  viper.GetString("benchmark.api_key"),
		baseURL: baseURL,
		limiter: limiter,
		client:  http.DefaultClient,
	}
}

func (src *HTTPSource) Prices(ctx context.Context, symbol string, begin time.Time, end time.Time) ([]valuation.Point, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "bench.Prices")
	defer span.End()
	span.SetAttributes(
		attribute.String("Symbol", symbol),
		attribute.String("StartTime", begin.Format("2006-01-02")),
		attribute.String("EndTime", end.Format("2006-01-02")),
	)

	subLog := log.With().Str("Source", "bench.http").Str("Symbol", symbol).Logger()

	if symbol == "" {
		return nil, ErrMissingSymbol
	}
	if src.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if end.Before(begin) {
		return nil, ErrInvalidRange
	}
	if src.limiter != nil {
		if err := src.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	// candle 'to' is inclusive of the end day
	from := time.Date(begin.Year(), begin.Month(), begin.Day(), 0, 0, 0, 0, time.UTC).Unix()
	to := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1).Unix() - 1

	reqURL := fmt.Sprintf(candleEndpoint, src.baseURL, url.QueryEscape(symbol), from, to, src.apiKey)
	body, err := src.fetch(ctx, reqURL, subLog.With().Str("Endpoint", "candle").Logger())
	if err != nil {
		return nil, err
	}

	candles := candleResponse{}
	if err := json.Unmarshal(body, &candles); err != nil {
		subLog.Warn().Err(err).Msg("could not unmarshal candle response")
		return nil, err
	}
	if candles.Status != "ok" {
		subLog.Warn().Str("Status", candles.Status).Msg("provider candle status not ok")
		return nil, ErrProviderStatus
	}
	if len(candles.Timestamps) != len(candles.Close) {
		subLog.Warn().Int("NumTimestamps", len(candles.Timestamps)).Int("NumClose", len(candles.Close)).Msg("mismatched candle arrays")
		return nil, ErrNoUsableRows
	}

	byDate := make(map[time.Time]float64, len(candles.Timestamps))
	for idx, ts := range candles.Timestamps {
		price := candles.Close[idx]
		if price <= 0 {
			continue
		}
		d := valuation.Day(time.Unix(ts, 0).UTC())
		if d.Before(begin) || d.After(end) {
			continue
		}
		byDate[d] = price
	}
	if len(byDate) == 0 {
		return nil, ErrNoUsableRows
	}

	prices := valuation.Sorted(byDate)
	subLog.Debug().Int("NumPoints", len(prices)).Msg("fetched benchmark candles")
	return prices, nil
}

// LatestQuote returns the most recent close for a symbol.
func (src *HTTPSource) LatestQuote(ctx context.Context, symbol string) (valuation.Point, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "bench.LatestQuote")
	defer span.End()
	span.SetAttributes(attribute.String("Symbol", symbol))

	subLog := log.With().Str("Source", "bench.http").Str("Symbol", symbol).Logger()

	if symbol == "" {
		return valuation.Point{}, ErrMissingSymbol
	}
	if src.apiKey == "" {
		return valuation.Point{}, ErrMissingAPIKey
	}
	if src.limiter != nil {
		if err := src.limiter.Wait(ctx); err != nil {
			return valuation.Point{}, err
		}
	}

	reqURL := fmt.Sprintf(quoteEndpoint, src.baseURL, url.QueryEscape(symbol), src.apiKey)
	body, err := src.fetch(ctx, reqURL, subLog.With().Str("Endpoint", "quote").Logger())
	if err != nil {
		return valuation.Point{}, err
	}

	quote := quoteResponse{}
	if err := json.Unmarshal(body, &quote); err != nil {
		subLog.Warn().Err(err).Msg("could not unmarshal quote response")
		return valuation.Point{}, err
	}
	if quote.Current <= 0 || quote.Timestamp == 0 {
		return valuation.Point{}, ErrNoUsableRows
	}

	return valuation.Point{
		Date:  valuation.Day(time.Unix(quote.Timestamp, 0).UTC()),
		Value: quote.Current,
	}, nil
}

func (src *HTTPSource) fetch(ctx context.Context, reqURL string, subLog zerolog.Logger) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := src.client.Do(req)
	if err != nil {
		subLog.Warn().Err(err).Msg("provider request failed")
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		subLog.Warn().Int("StatusCode", resp.StatusCode).Msg("provider returned error status")
		return nil, ErrProviderStatus
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		subLog.Warn().Err(err).Msg("could not read provider response")
		return nil, err
	}
	return body, nil
}
