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

// Package bench supplies benchmark close-price series for
// benchmark-relative reporting. Sources are layered: cache in front,
// CSV files and HTTP providers behind, with ordered fallback. A
// missing or failing benchmark never fails a report; it only blanks
// the benchmark columns.
package bench

import (
	"context"
	"errors"
	"time"

	"github.com/wealth-vault/wv-api/valuation"
)

var (
	ErrMissingSymbol  = errors.New("missing benchmark symbol")
	ErrMissingAPIKey  = errors.New("missing provider api key")
	ErrInvalidRange   = errors.New("invalid date range: end before start")
	ErrProviderStatus = errors.New("provider returned non-ok status")
	ErrNoUsableRows   = errors.New("provider returned 0 usable rows")
	ErrNoSource       = errors.New("no benchmark source produced data")
)

// Source yields a date-ascending close-price series for a symbol over
// [begin, end]. Implementations must deduplicate by date (last wins)
// and drop non-positive prices.
type Source interface {
	Prices(ctx context.Context, symbol string, begin time.Time, end time.Time) ([]valuation.Point, error)
}

// Fallback tries each source in order and returns the first non-empty
// series.
type Fallback struct {
	sources []Source
}

func NewFallback(sources ...Source) *Fallback {
	return &Fallback{sources: sources}
}

func (f *Fallback) Prices(ctx context.Context, symbol string, begin time.Time, end time.Time) ([]valuation.Point, error) {
	var lastErr error
	for _, source := range f.sources {
		prices, err := source.Prices(ctx, symbol, begin, end)
		if err != nil {
			lastErr = err
			continue
		}
		if len(prices) > 0 {
			return prices, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNoSource
}
