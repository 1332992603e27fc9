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

// Package perf computes period performance for portfolios: chain-linked
// Modified Dietz time-weighted returns, money-weighted XIRR, Sharpe and
// volatility, and benchmark-relative excess return. Data problems
// surface as warnings with nil metrics; only malformed requests error.
package perf

import (
	"context"
	"errors"
	"time"

	"github.com/wealth-vault/wv-api/ledger"
	"github.com/wealth-vault/wv-api/valuation"
)

var (
	ErrInvalidDateRange = errors.New("invalid date range: end before start")
	ErrUnknownFrequency = errors.New("unknown sampling frequency")
)

// Portfolio is the reporting unit: a brokerage account or connection
// rolled up for display.
type Portfolio struct {
	ID           int64
	Name         string
	TaxpayerName string
	TaxpayerType string
}

// PortfolioSource lists portfolios in scope for a report.
type PortfolioSource interface {
	Portfolios(ctx context.Context) ([]*Portfolio, error)
}

// SnapshotSource provides holdings snapshots and the authoritative
// per-account cash balance series used to override snapshot cash.
type SnapshotSource interface {
	Snapshots(ctx context.Context, begin time.Time, end time.Time) ([]*valuation.Snapshot, error)
	CashBalances(ctx context.Context, end time.Time) (map[int64][]valuation.Point, error)
}

// TransactionSource provides a portfolio's transactions in a window.
type TransactionSource interface {
	Transactions(ctx context.Context, portfolioID int64, begin time.Time, end time.Time) ([]*ledger.Transaction, error)
}

// BenchmarkSource provides a benchmark close-price series; nil metrics
// when absent or failing.
type BenchmarkSource interface {
	Prices(ctx context.Context, symbol string, begin time.Time, end time.Time) ([]valuation.Point, error)
}

// Request describes one performance report.
type Request struct {
	Start time.Time
	End   time.Time

	// Frequency is the sampling frequency for valuation points:
	// valuation.MonthEnd (default) or valuation.Daily.
	Frequency string

	// GraceDays widens the anchor search window around period
	// boundaries.
	GraceDays int

	RiskFreeRate             float64
	BenchmarkSymbol          string
	IncludeCombined          bool
	IncludeSeries            bool
	IncludeWithholdingAsFlow bool
}

// Validate rejects malformed requests; data problems never error.
func (req *Request) Validate() error {
	if req.Start.IsZero() || req.End.IsZero() || req.End.Before(req.Start) {
		return ErrInvalidDateRange
	}
	if req.Frequency == "" {
		req.Frequency = valuation.MonthEnd
	}
	if req.Frequency != valuation.MonthEnd && req.Frequency != valuation.Daily {
		return ErrUnknownFrequency
	}
	if req.GraceDays < 0 {
		req.GraceDays = 0
	}
	return nil
}

func (req *Request) periodsPerYear() float64 {
	if req.Frequency == valuation.Daily {
		return DailyPeriodsPerYear
	}
	return MonthlyPeriodsPerYear
}

// PerformanceRow is the computed result for one portfolio (or the
// Combined roll-up). Nil pointers mean the metric is undefined for the
// period; the accompanying warnings say why.
type PerformanceRow struct {
	PortfolioID   int64  `json:"portfolio_id"`
	PortfolioName string `json:"portfolio_name"`
	TaxpayerName  string `json:"taxpayer_name"`
	TaxpayerType  string `json:"taxpayer_type"`

	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	CoverageStart   *time.Time `json:"coverage_start,omitempty"`
	CoverageEnd     *time.Time `json:"coverage_end,omitempty"`
	ValuationPoints int        `json:"valuation_points"`

	TxnStart *time.Time `json:"txn_start,omitempty"`
	TxnEnd   *time.Time `json:"txn_end,omitempty"`
	TxnCount int        `json:"txn_count"`

	BeginValue *float64 `json:"begin_value,omitempty"`
	EndValue   *float64 `json:"end_value,omitempty"`

	Contributions float64 `json:"contributions"`
	Withdrawals   float64 `json:"withdrawals"`
	NetFlow       float64 `json:"net_flow"`
	Fees          float64 `json:"fees"`
	Withholding   float64 `json:"withholding"`
	OtherCashOut  float64 `json:"other_cash_out"`
	TotalCashOut  float64 `json:"total_cash_out"`

	GainValue *float64 `json:"gain_value,omitempty"`

	XIRR       *float64 `json:"xirr,omitempty"`
	TWR        *float64 `json:"twr,omitempty"`
	Sharpe     *float64 `json:"sharpe,omitempty"`
	Volatility *float64 `json:"volatility,omitempty"`

	BenchmarkTWR    *float64 `json:"benchmark_twr,omitempty"`
	BenchmarkSharpe *float64 `json:"benchmark_sharpe,omitempty"`
	ExcessTWR       *float64 `json:"excess_twr,omitempty"`
	ExcessSharpe    *float64 `json:"excess_sharpe,omitempty"`

	Warnings []string `json:"warnings"`
}

// Report is the full response for a Request.
type Report struct {
	Rows     []*PerformanceRow `json:"rows"`
	Combined *PerformanceRow   `json:"combined,omitempty"`
	Warnings []string          `json:"warnings"`

	RequestedStart time.Time `json:"requested_start"`
	RequestedEnd   time.Time `json:"requested_end"`
	GraceDays      int       `json:"baseline_grace_days"`
	Frequency      string    `json:"frequency"`
	RiskFreeRate   float64   `json:"risk_free_rate_annual"`

	BenchmarkSymbol        string     `json:"benchmark_symbol"`
	BenchmarkTWR           *float64   `json:"benchmark_period_twr,omitempty"`
	BenchmarkSharpe        *float64   `json:"benchmark_period_sharpe,omitempty"`
	BenchmarkCoverageStart *time.Time `json:"benchmark_coverage_start,omitempty"`
	BenchmarkCoverageEnd   *time.Time `json:"benchmark_coverage_end,omitempty"`

	// Populated only when Request.IncludeSeries is set; charting data
	// that never feeds back into the metrics.
	TWRCurves      map[int64][]valuation.Point `json:"twr_curves,omitempty"`
	BenchmarkCurve []valuation.Point           `json:"benchmark_curve,omitempty"`
	FlowMarkers    map[int64][]ledger.Flow     `json:"transfer_flows,omitempty"`
}

func nanToPtr(v float64) *float64 {
	if v != v {
		return nil
	}
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// growthCurve converts sub-period returns into a growth-of-1 series
// aligned to the valuation dates.
func growthCurve(points []valuation.Point, subreturns []float64) []valuation.Point {
	if len(points) == 0 || len(subreturns) != len(points)-1 {
		return nil
	}
	curve := make([]valuation.Point, 0, len(points))
	g := 1.0
	curve = append(curve, valuation.Point{Date: points[0].Date, Value: g})
	for i, r := range subreturns {
		g *= 1.0 + r
		curve = append(curve, valuation.Point{Date: points[i+1].Date, Value: g})
	}
	return curve
}
