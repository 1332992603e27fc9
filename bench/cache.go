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
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/wealth-vault/wv-api/common"
	"github.com/wealth-vault/wv-api/valuation"
)

// CachedSource memoizes another source's price series. Cache failures
// are invisible to callers; they only cost a provider round-trip.
type CachedSource struct {
	source Source
}

func NewCachedSource(source Source) *CachedSource {
	return &CachedSource{source: source}
}

func cacheKey(symbol string, begin time.Time, end time.Time) string {
	return fmt.Sprintf("bench:%s:%s:%s", symbol, begin.Format("2006-01-02"), end.Format("2006-01-02"))
}

func (src *CachedSource) Prices(ctx context.Context, symbol string, begin time.Time, end time.Time) ([]valuation.Point, error) {
	key := cacheKey(symbol, begin, end)
	if raw, err := common.CacheGet(key); err == nil && len(raw) > 0 {
		var prices []valuation.Point
		if err := json.Unmarshal(raw, &prices); err == nil {
			return prices, nil
		}
		log.Warn().Str("Key", key).Msg("discarding undecodable cache entry")
	}

	prices, err := src.source.Prices(ctx, symbol, begin, end)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(prices); err == nil {
		if err := common.CacheSet(key, raw); err != nil {
			log.Warn().Err(err).Str("Key", key).Msg("could not cache benchmark prices")
		}
	}
	return prices, nil
}
