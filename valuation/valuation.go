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

// Package valuation turns raw holdings snapshots into dated portfolio
// value series and provides the series arithmetic the performance
// calculations sit on: anchor selection inside grace windows, month-end
// downsampling and carry-forward lookups.
package valuation

import (
	"math"
	"strings"
	"time"
)

// sampling frequencies
const (
	MonthEnd = "month_end"
	Daily    = "daily"
)

// CashPrefix marks snapshot rows that represent a cash position rather
// than a security (e.g. "CASH:USD").
const CashPrefix = "CASH:"

// Point is a dated value observation.
type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// SnapshotItem is one row of a holdings snapshot.
type SnapshotItem struct {
	AccountID   int64   `json:"account_id"`
	Symbol      string  `json:"symbol,omitempty"`
	MarketValue float64 `json:"market_value"`

	// IsTotal marks an explicit account total (statement parses). A
	// total wins over summing positions and cash for that account/day.
	IsTotal bool `json:"is_total,omitempty"`
}

// Snapshot is a point-in-time capture of holdings for one portfolio.
// AsOf carries the capture timestamp; same-day captures are resolved
// latest-wins.
type Snapshot struct {
	ID          int64          `json:"id"`
	PortfolioID int64          `json:"portfolio_id"`
	AsOf        time.Time      `json:"as_of"`
	Items       []SnapshotItem `json:"items"`
}

// Day truncates a timestamp to its UTC date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Aggregator builds daily portfolio values from snapshots. The
// optional per-account cash balance series overrides snapshot cash
// when the snapshot itself reports none; imported cash balances are
// usually more reliable than cash rows in holdings feeds.
type Aggregator struct {
	cashByAccount map[int64][]Point
}

func NewAggregator(cashByAccount map[int64][]Point) *Aggregator {
	return &Aggregator{cashByAccount: cashByAccount}
}

type accountDay struct {
	accountID int64
	day       time.Time
}

type accountDayValue struct {
	asOf      time.Time
	positions float64
	cash      float64
	isTotal   bool
}

// DailyValues returns date -> total value per portfolio. For each
// (account, day) the latest capture wins; an explicit total wins over
// position + cash sums.
func (agg *Aggregator) DailyValues(snapshots []*Snapshot) map[int64]map[time.Time]float64 {
	latest := make(map[accountDay]*accountDayValue)
	portfolioByAccount := make(map[int64]int64)

	for _, snap := range snapshots {
		day := Day(snap.AsOf)
		positions := make(map[int64]float64)
		cash := make(map[int64]float64)
		totals := make(map[int64]float64)

		for _, item := range snap.Items {
			portfolioByAccount[item.AccountID] = snap.PortfolioID
			sym := strings.ToUpper(strings.TrimSpace(item.Symbol))
			if item.IsTotal && item.MarketValue > 0 {
				totals[item.AccountID] = item.MarketValue
				continue
			}
			if strings.HasPrefix(sym, CashPrefix) {
				cash[item.AccountID] += item.MarketValue
			} else if sym != "" {
				positions[item.AccountID] += item.MarketValue
			}
		}

		for acctID, total := range totals {
			key := accountDay{accountID: acctID, day: day}
			prev := latest[key]
			if prev == nil || !snap.AsOf.Before(prev.asOf) {
				latest[key] = &accountDayValue{asOf: snap.AsOf, positions: total, isTotal: true}
			}
		}
		for acctID, posValue := range positions {
			if _, ok := totals[acctID]; ok {
				continue
			}
			key := accountDay{accountID: acctID, day: day}
			prev := latest[key]
			if prev == nil || !snap.AsOf.Before(prev.asOf) {
				latest[key] = &accountDayValue{asOf: snap.AsOf, positions: posValue, cash: cash[acctID]}
			}
		}
		// cash-only rows (all-cash account)
		for acctID, cashValue := range cash {
			if _, ok := totals[acctID]; ok {
				continue
			}
			if _, ok := positions[acctID]; ok {
				continue
			}
			key := accountDay{accountID: acctID, day: day}
			prev := latest[key]
			if prev == nil || !snap.AsOf.Before(prev.asOf) {
				latest[key] = &accountDayValue{asOf: snap.AsOf, cash: cashValue}
			}
		}
	}

	// prefer the imported cash balance series unless the snapshot
	// itself carries cash or an explicit total
	for key, adv := range latest {
		if adv.isTotal || math.Abs(adv.cash) > 1e-9 {
			continue
		}
		series := agg.cashByAccount[key.accountID]
		if len(series) == 0 {
			continue
		}
		if balance, ok := ValueOnOrBefore(series, key.day); ok {
			adv.cash = balance
		}
	}

	out := make(map[int64]map[time.Time]float64)
	for key, adv := range latest {
		portfolioID := portfolioByAccount[key.accountID]
		values, ok := out[portfolioID]
		if !ok {
			values = make(map[time.Time]float64)
			out[portfolioID] = values
		}
		values[key.day] += adv.positions + adv.cash
	}
	return out
}
