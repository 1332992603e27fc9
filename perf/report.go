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

package perf

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wealth-vault/wv-api/bench"
	"github.com/wealth-vault/wv-api/ledger"
	"github.com/wealth-vault/wv-api/observability/opentelemetry"
	"github.com/wealth-vault/wv-api/valuation"
)

// benchLookback pads the benchmark fetch so a prior close exists to
// anchor the period start (calendar-year reports measure from the
// 12/31 close).
const benchLookbackDays = 31

// Builder assembles performance reports from its data sources. The
// benchmark source may be nil; benchmark columns stay blank.
type Builder struct {
	portfolios PortfolioSource
	snapshots  SnapshotSource
	txns       TransactionSource
	benchmark  BenchmarkSource
}

func NewBuilder(portfolios PortfolioSource, snapshots SnapshotSource, txns TransactionSource, benchmark BenchmarkSource) *Builder {
	return &Builder{
		portfolios: portfolios,
		snapshots:  snapshots,
		txns:       txns,
		benchmark:  benchmark,
	}
}

type benchStats struct {
	series  []valuation.Point
	period  []valuation.Point
	twr     float64
	sharpe  float64
	rets    []float64
	curve   []valuation.Point
	hasData bool
}

// Build computes the report for a request. Only a malformed request or
// a failing portfolio listing errors; per-portfolio data problems
// surface as row warnings with nil metrics.
func (b *Builder) Build(ctx context.Context, req *Request) (*Report, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "perf.Build")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("StartTime", req.Start.Format("2006-01-02")),
		attribute.String("EndTime", req.End.Format("2006-01-02")),
		attribute.String("Frequency", req.Frequency),
	)
	subLog := log.With().
		Str("PeriodStart", req.Start.Format("2006-01-02")).
		Str("PeriodEnd", req.End.Format("2006-01-02")).
		Logger()

	report := &Report{
		Warnings:        []string{},
		RequestedStart:  req.Start,
		RequestedEnd:    req.End,
		GraceDays:       req.GraceDays,
		Frequency:       req.Frequency,
		RiskFreeRate:    req.RiskFreeRate,
		BenchmarkSymbol: req.BenchmarkSymbol,
	}
	if req.IncludeSeries {
		report.TWRCurves = make(map[int64][]valuation.Point)
		report.FlowMarkers = make(map[int64][]ledger.Flow)
	}

	baselineWindowStart := req.Start.AddDate(0, 0, -req.GraceDays)
	endWindowEnd := req.End.AddDate(0, 0, req.GraceDays)

	portfolios, err := b.portfolios.Portfolios(ctx)
	if err != nil {
		subLog.Error().Err(err).Msg("could not list portfolios")
		return nil, err
	}

	valuesByPortfolio := b.loadValuations(ctx, req, baselineWindowStart, endWindowEnd, report)
	benchmarks := b.loadBenchmark(ctx, req, report)

	for _, portfolio := range portfolios {
		row := b.portfolioRow(ctx, req, portfolio, valuesByPortfolio[portfolio.ID], benchmarks, report)
		report.Rows = append(report.Rows, row)
	}

	if req.IncludeCombined {
		report.Combined = b.combinedRow(ctx, req, valuesByPortfolio, benchmarks, report)
	}

	subLog.Info().Int("NumRows", len(report.Rows)).Msg("performance report built")
	return report, nil
}

func (b *Builder) loadValuations(ctx context.Context, req *Request, begin time.Time, end time.Time, report *Report) map[int64]map[time.Time]float64 {
	snapshots, err := b.snapshots.Snapshots(ctx, begin, end)
	if err != nil {
		log.Warn().Err(err).Msg("could not load holdings snapshots")
		report.Warnings = append(report.Warnings, fmt.Sprintf("Failed to load holdings snapshots: %v", err))
		return nil
	}

	cashByAccount, err := b.snapshots.CashBalances(ctx, end)
	if err != nil {
		log.Warn().Err(err).Msg("could not load cash balances")
		cashByAccount = nil
	}

	values := valuation.NewAggregator(cashByAccount).DailyValues(snapshots)
	if len(values) == 0 {
		report.Warnings = append(report.Warnings, "No holdings snapshots found in the selected period; TWR/Sharpe will be blank.")
	}
	return values
}

func (b *Builder) loadBenchmark(ctx context.Context, req *Request, report *Report) *benchStats {
	stats := &benchStats{twr: math.NaN(), sharpe: math.NaN()}
	if b.benchmark == nil || req.BenchmarkSymbol == "" {
		return stats
	}

	series, err := b.benchmark.Prices(ctx, req.BenchmarkSymbol, req.Start.AddDate(0, 0, -benchLookbackDays), req.End)
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("Failed to use benchmark series: %v", err))
		return stats
	}
	if len(series) == 0 {
		report.Warnings = append(report.Warnings, "Benchmark series was provided but contained 0 usable rows.")
		return stats
	}
	stats.series = series
	stats.hasData = true

	stats.period = bench.SeriesForPeriod(series, req.Start, req.End, req.Frequency)
	if len(stats.period) > 0 {
		report.BenchmarkCoverageStart = timePtr(stats.period[0].Date)
		report.BenchmarkCoverageEnd = timePtr(stats.period[len(stats.period)-1].Date)
	}
	if len(stats.period) >= 2 {
		twr, rets, _ := TWRFromSeries(stats.period, nil)
		stats.twr = twr
		stats.rets = rets
		if len(rets) > 0 {
			stats.sharpe = SharpeRatio(rets, req.RiskFreeRate, req.periodsPerYear())
			if req.IncludeSeries {
				stats.curve = growthCurve(stats.period, rets)
			}
		}
		covStart := stats.period[0].Date
		covEnd := stats.period[len(stats.period)-1].Date
		if covStart.After(req.Start) {
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"%s benchmark coverage starts at %s (missing earlier prices for selected period).",
				req.BenchmarkSymbol, covStart.Format("2006-01-02")))
		}
		if covEnd.Before(req.End) {
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"%s benchmark coverage ends at %s (missing later prices for selected period).",
				req.BenchmarkSymbol, covEnd.Format("2006-01-02")))
		}
	}

	report.BenchmarkTWR = nanToPtr(stats.twr)
	report.BenchmarkSharpe = nanToPtr(stats.sharpe)
	if req.IncludeSeries {
		report.BenchmarkCurve = stats.curve
	}
	return stats
}

func (b *Builder) portfolioRow(ctx context.Context, req *Request, portfolio *Portfolio, rawVals map[time.Time]float64, benchmarks *benchStats, report *Report) *PerformanceRow {
	row := &PerformanceRow{
		PortfolioID:   portfolio.ID,
		PortfolioName: portfolio.Name,
		TaxpayerName:  portfolio.TaxpayerName,
		TaxpayerType:  portfolio.TaxpayerType,
		PeriodStart:   req.Start,
		PeriodEnd:     req.End,
		Warnings:      []string{},
	}

	valsWindow := valuation.Downsample(rawVals, req.Frequency)
	row.ValuationPoints = len(valsWindow)
	if len(valsWindow) > 0 {
		row.CoverageStart = timePtr(valsWindow[0].Date)
		row.CoverageEnd = timePtr(valsWindow[len(valsWindow)-1].Date)
	}

	// anchors come from the full point set; month-end downsampling may
	// drop the exact point that should anchor a calendar-year report
	anchorPts := valuation.Sorted(rawVals)
	beginPt := valuation.SelectBeginAnchor(anchorPts, req.Start, req.GraceDays)
	endPt := valuation.SelectEndAnchor(anchorPts, req.End, req.GraceDays)

	// flows align to the valuation window actually used; flows in the
	// anchor gap would otherwise be misclassified as performance
	flowStart := req.Start
	flowEnd := req.End
	if beginPt != nil {
		flowStart = beginPt.Date
	}
	if endPt != nil {
		flowEnd = endPt.Date
	}

	transactions, err := b.txns.Transactions(ctx, portfolio.ID, flowStart, flowEnd)
	if err != nil {
		log.Warn().Err(err).Int64("PortfolioID", portfolio.ID).Msg("could not load transactions")
		row.Warnings = append(row.Warnings, fmt.Sprintf("Failed to load transactions: %v", err))
	}

	cashflows := ledger.Classify(transactions, ledger.ClassifierOptions{
		IncludeWithholdingAsFlow: req.IncludeWithholdingAsFlow,
	})
	if req.IncludeSeries {
		report.FlowMarkers[portfolio.ID] = cashflows.Flows
	}

	row.Contributions = cashflows.Contributions
	row.Withdrawals = cashflows.Withdrawals
	row.NetFlow = cashflows.NetFlow
	row.Fees = cashflows.Fees
	row.Withholding = cashflows.Withholding
	row.OtherCashOut = cashflows.OtherCashOut
	row.TotalCashOut = cashflows.TotalCashOut()

	row.TxnCount = len(transactions)
	if len(transactions) == 0 {
		row.Warnings = append(row.Warnings, fmt.Sprintf(
			"No transactions found in valuation window (%s → %s).",
			flowStart.Format("2006-01-02"), flowEnd.Format("2006-01-02")))
	} else {
		txnStart := transactions[0].Date
		txnEnd := transactions[0].Date
		for _, trx := range transactions[1:] {
			if trx.Date.Before(txnStart) {
				txnStart = trx.Date
			}
			if trx.Date.After(txnEnd) {
				txnEnd = trx.Date
			}
		}
		row.TxnStart = timePtr(txnStart)
		row.TxnEnd = timePtr(txnEnd)
		if txnStart.After(flowStart) {
			row.Warnings = append(row.Warnings, fmt.Sprintf(
				"Transactions start at %s (missing earlier activity in valuation window).", txnStart.Format("2006-01-02")))
		}
		if txnEnd.Before(flowEnd) {
			row.Warnings = append(row.Warnings, fmt.Sprintf(
				"Transactions end at %s (missing later activity in valuation window).", txnEnd.Format("2006-01-02")))
		}
	}

	if row.CoverageStart == nil {
		row.Warnings = append(row.Warnings, "No valuation points (holdings snapshots) found in this period.")
	} else if beginPt == nil {
		row.Warnings = append(row.Warnings, fmt.Sprintf(
			"Coverage starts at %s; upload a holdings snapshot near %s (±~%d days) for true period-to-date performance.",
			row.CoverageStart.Format("2006-01-02"), req.Start.Format("2006-01-02"), req.GraceDays))
	}
	if beginPt != nil && !beginPt.Date.Equal(req.Start) {
		row.Warnings = append(row.Warnings, fmt.Sprintf(
			"Using begin snapshot at %s (target %s).", beginPt.Date.Format("2006-01-02"), req.Start.Format("2006-01-02")))
	}
	if endPt != nil && !endPt.Date.Equal(req.End) {
		row.Warnings = append(row.Warnings, fmt.Sprintf(
			"Using end snapshot at %s (target %s).", endPt.Date.Format("2006-01-02"), req.End.Format("2006-01-02")))
	}
	if row.CoverageEnd != nil && row.CoverageEnd.Before(req.End.AddDate(0, 0, -req.GraceDays)) {
		row.Warnings = append(row.Warnings, fmt.Sprintf(
			"Coverage ends at %s; upload a holdings snapshot near %s (±~%d days) for true period-end performance.",
			row.CoverageEnd.Format("2006-01-02"), req.End.Format("2006-01-02"), req.GraceDays))
	}

	var valsDS []valuation.Point
	if beginPt != nil && endPt != nil && !endPt.Date.Before(beginPt.Date) {
		row.BeginValue = &beginPt.Value
		row.EndValue = &endPt.Value
		valsDS = valuation.Clip(valsWindow, *beginPt, *endPt)

		gain := endPt.Value - beginPt.Value - row.NetFlow
		row.GainValue = &gain

		if beginPt.Value >= 0 && endPt.Value > 10000 && beginPt.Value < 1000 &&
			beginPt.Value/math.Max(1.0, endPt.Value) < 0.001 {
			row.Warnings = append(row.Warnings, "Begin value looks unusually small vs end value; verify holdings snapshot totals (statement parsing).")
		}
	}

	// money-weighted return from the investor perspective: deposits
	// negative, withdrawals and the terminal value positive
	if beginPt != nil && endPt != nil && !beginPt.Date.Equal(endPt.Date) &&
		beginPt.Value > 0 && endPt.Value >= 0 {
		cfs := make([]ledger.Flow, 0, len(cashflows.Flows)+2)
		cfs = append(cfs, ledger.Flow{Date: beginPt.Date, Amount: -beginPt.Value})
		for _, flow := range cashflows.Flows {
			cfs = append(cfs, ledger.Flow{Date: flow.Date, Amount: -flow.Amount})
		}
		cfs = append(cfs, ledger.Flow{Date: endPt.Date, Amount: endPt.Value})
		row.XIRR = nanToPtr(XIRR(cfs))
	} else if beginPt != nil {
		row.Warnings = append(row.Warnings, "IRR/XIRR needs at least 2 valuation points in the period.")
	}

	var subrets []float64
	if len(valsDS) >= 2 {
		twr, rets, twrWarn := TWRFromSeries(valsDS, cashflows.Flows)
		row.TWR = nanToPtr(twr)
		row.Warnings = append(row.Warnings, twrWarn...)
		subrets = rets
	}

	if len(subrets) > 0 {
		row.Sharpe = nanToPtr(SharpeRatio(subrets, req.RiskFreeRate, req.periodsPerYear()))
		row.Volatility = nanToPtr(Volatility(subrets, req.periodsPerYear()))
	}
	if row.Sharpe == nil && len(valsDS) >= 2 {
		if len(subrets) < 2 {
			row.Warnings = append(row.Warnings, "Sharpe requires at least 2 period returns (≥3 valuation points).")
		} else {
			row.Warnings = append(row.Warnings, "Sharpe is undefined for this period (insufficient return variability).")
		}
	}

	row.BenchmarkTWR = nanToPtr(benchmarks.twr)
	row.BenchmarkSharpe = nanToPtr(benchmarks.sharpe)
	if benchmarks.hasData && row.BenchmarkTWR != nil && len(valsDS) < 2 {
		row.Warnings = append(row.Warnings, fmt.Sprintf(
			"%s benchmark shown for selected period; portfolio has <2 valuation points.", req.BenchmarkSymbol))
	}
	if row.TWR != nil && row.BenchmarkTWR != nil {
		excess := *row.TWR - *row.BenchmarkTWR
		row.ExcessTWR = &excess
	}
	if row.Sharpe != nil && row.BenchmarkSharpe != nil {
		excess := *row.Sharpe - *row.BenchmarkSharpe
		row.ExcessSharpe = &excess
	}

	if req.IncludeSeries {
		report.TWRCurves[portfolio.ID] = growthCurve(valsDS, subrets)
	}

	return row
}

func (b *Builder) combinedRow(ctx context.Context, req *Request, valuesByPortfolio map[int64]map[time.Time]float64, benchmarks *benchStats, report *Report) *PerformanceRow {
	baselineWindowStart := req.Start.AddDate(0, 0, -req.GraceDays)
	baselineWindowEnd := req.Start.AddDate(0, 0, req.GraceDays)

	row := &PerformanceRow{
		PortfolioID:   0,
		PortfolioName: "Combined",
		TaxpayerName:  "Combined",
		TaxpayerType:  "—",
		PeriodStart:   req.Start,
		PeriodEnd:     req.End,
		Warnings:      []string{},
	}

	// only portfolios with a baseline snapshot near period start
	// participate; mixing unanchored ones would misstate the roll-up
	baselineIDs := make([]int64, 0, len(report.Rows))
	excluded := make([]string, 0)
	for _, r := range report.Rows {
		anchored := r.CoverageStart != nil &&
			!r.CoverageStart.Before(baselineWindowStart) &&
			!r.CoverageStart.After(baselineWindowEnd) &&
			r.BeginValue != nil
		if anchored {
			baselineIDs = append(baselineIDs, r.PortfolioID)
		} else {
			excluded = append(excluded, r.PortfolioName)
		}
	}
	if len(excluded) > 0 {
		row.Warnings = append(row.Warnings,
			"Combined metrics exclude portfolios without a baseline snapshot near period start: "+strings.Join(excluded, ", "))
	}
	if len(baselineIDs) == 0 {
		return nil
	}

	// union of valuation dates, carry-forward per portfolio
	perPortfolio := make(map[int64][]valuation.Point, len(baselineIDs))
	dateSet := make(map[time.Time]bool)
	for _, pid := range baselineIDs {
		perPortfolio[pid] = valuation.Sorted(valuesByPortfolio[pid])
		for d := range valuesByPortfolio[pid] {
			dateSet[d] = true
		}
	}
	dates := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	combinedVals := make(map[time.Time]float64, len(dates))
	for _, d := range dates {
		total := 0.0
		missing := 0
		for _, pts := range perPortfolio {
			if v, ok := valuation.ValueOnOrBefore(pts, d); ok {
				total += v
			} else {
				missing++
			}
		}
		if missing > 0 {
			row.Warnings = append(row.Warnings, fmt.Sprintf(
				"Combined value on %s missing %d portfolio(s); using carry-forward where available.",
				d.Format("2006-01-02"), missing))
		}
		combinedVals[d] = total
	}

	combinedPts := valuation.Sorted(combinedVals)
	beginPt := valuation.SelectBeginAnchor(combinedPts, req.Start, req.GraceDays)
	endPt := valuation.SelectEndAnchor(combinedPts, req.End, req.GraceDays)

	var combinedDS []valuation.Point
	if beginPt != nil && endPt != nil && !endPt.Date.Before(beginPt.Date) {
		inRange := make(map[time.Time]float64)
		for d, v := range combinedVals {
			if !d.Before(beginPt.Date) && !d.After(endPt.Date) {
				inRange[d] = v
			}
		}
		combinedDS = valuation.Clip(valuation.Downsample(inRange, req.Frequency), *beginPt, *endPt)
	} else {
		combinedDS = valuation.Downsample(combinedVals, req.Frequency)
	}

	// combined flows cover the requested period, not the anchor window
	combinedFlows := make([]ledger.Flow, 0)
	fees := 0.0
	withholding := 0.0
	otherCashOut := 0.0
	for _, pid := range baselineIDs {
		transactions, err := b.txns.Transactions(ctx, pid, req.Start, req.End)
		if err != nil {
			log.Warn().Err(err).Int64("PortfolioID", pid).Msg("could not load transactions for combined row")
			continue
		}
		cashflows := ledger.Classify(transactions, ledger.ClassifierOptions{
			IncludeWithholdingAsFlow: req.IncludeWithholdingAsFlow,
		})
		combinedFlows = append(combinedFlows, cashflows.Flows...)
	}
	for _, r := range report.Rows {
		include := false
		for _, pid := range baselineIDs {
			if r.PortfolioID == pid {
				include = true
				break
			}
		}
		if !include {
			continue
		}
		fees += r.Fees
		withholding += r.Withholding
		otherCashOut += r.OtherCashOut
	}

	for _, flow := range combinedFlows {
		row.NetFlow += flow.Amount
		if flow.Amount >= 0 {
			row.Contributions += flow.Amount
		} else {
			row.Withdrawals += -flow.Amount
		}
	}
	row.Fees = fees
	row.Withholding = withholding
	row.OtherCashOut = otherCashOut
	row.TotalCashOut = row.Withdrawals + fees + withholding + otherCashOut

	var subrets []float64
	if len(combinedDS) >= 2 {
		twr, rets, twrWarn := TWRFromSeries(combinedDS, combinedFlows)
		row.TWR = nanToPtr(twr)
		row.Warnings = append(row.Warnings, twrWarn...)
		subrets = rets
	} else if len(combinedDS) > 0 {
		row.Warnings = append(row.Warnings, "Combined TWR needs at least 2 valuation points in the period.")
	}

	if beginPt != nil && endPt != nil {
		row.BeginValue = &beginPt.Value
		row.EndValue = &endPt.Value
		gain := endPt.Value - beginPt.Value - row.NetFlow
		row.GainValue = &gain
		row.CoverageStart = timePtr(beginPt.Date)
		row.CoverageEnd = timePtr(endPt.Date)
	} else if len(combinedDS) > 0 {
		row.BeginValue = &combinedDS[0].Value
		row.EndValue = &combinedDS[len(combinedDS)-1].Value
		row.CoverageStart = timePtr(combinedDS[0].Date)
		row.CoverageEnd = timePtr(combinedDS[len(combinedDS)-1].Date)
	}
	row.ValuationPoints = len(combinedDS)

	if beginPt != nil && endPt != nil && !beginPt.Date.Equal(endPt.Date) {
		cfs := make([]ledger.Flow, 0, len(combinedFlows)+2)
		cfs = append(cfs, ledger.Flow{Date: beginPt.Date, Amount: -beginPt.Value})
		for _, flow := range combinedFlows {
			cfs = append(cfs, ledger.Flow{Date: flow.Date, Amount: -flow.Amount})
		}
		cfs = append(cfs, ledger.Flow{Date: endPt.Date, Amount: endPt.Value})
		row.XIRR = nanToPtr(XIRR(cfs))
	} else if len(combinedDS) > 0 {
		row.Warnings = append(row.Warnings, "Combined IRR/XIRR needs at least 2 valuation points in the period.")
	}

	if len(subrets) > 0 {
		row.Sharpe = nanToPtr(SharpeRatio(subrets, req.RiskFreeRate, req.periodsPerYear()))
		row.Volatility = nanToPtr(Volatility(subrets, req.periodsPerYear()))
	}

	row.BenchmarkTWR = nanToPtr(benchmarks.twr)
	row.BenchmarkSharpe = nanToPtr(benchmarks.sharpe)
	if row.TWR != nil && row.BenchmarkTWR != nil {
		excess := *row.TWR - *row.BenchmarkTWR
		row.ExcessTWR = &excess
	}
	if row.Sharpe != nil && row.BenchmarkSharpe != nil {
		excess := *row.Sharpe - *row.BenchmarkSharpe
		row.ExcessSharpe = &excess
	}

	if req.IncludeSeries {
		report.TWRCurves[0] = growthCurve(combinedDS, subrets)
		report.FlowMarkers[0] = combinedFlows
	}

	return row
}
