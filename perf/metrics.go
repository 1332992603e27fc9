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
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/wealth-vault/wv-api/ledger"
	"github.com/wealth-vault/wv-api/valuation"
)

// periods per year by sampling frequency
const (
	MonthlyPeriodsPerYear = 12.0
	DailyPeriodsPerYear   = 252.0
)

const (
	valueEpsilon = 1e-9
	npvTolerance = 1e-6
	stepTolerance = 1e-9
	rateFloor    = -0.999999
)

func daysBetween(d0 time.Time, d1 time.Time) float64 {
	return d1.Sub(d0).Hours() / 24.0
}

// TWRFromSeries chain-links Modified Dietz sub-period returns between
// consecutive valuation points. Flows are from the portfolio
// perspective (contributions positive). Returns NaN when no valid
// sub-period exists; sub-period returns and warnings always come back.
func TWRFromSeries(values []valuation.Point, flows []ledger.Flow) (float64, []float64, []string) {
	warnings := []string{}
	if len(values) < 2 {
		return math.NaN(), nil, []string{"Need at least 2 valuation points."}
	}

	sorted := make([]valuation.Point, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	// net flows by date
	flowByDate := make(map[time.Time]float64, len(flows))
	flowDates := make([]time.Time, 0, len(flows))
	for _, flow := range flows {
		if _, ok := flowByDate[flow.Date]; !ok {
			flowDates = append(flowDates, flow.Date)
		}
		flowByDate[flow.Date] += flow.Amount
	}

	rets := make([]float64, 0, len(sorted)-1)
	prod := 1.0
	for i := 1; i < len(sorted); i++ {
		d0, v0 := sorted[i-1].Date, sorted[i-1].Value
		d1, v1 := sorted[i].Date, sorted[i].Value
		if v0 <= valueEpsilon {
			warnings = append(warnings, fmt.Sprintf("Skipped period starting %s: begin value is zero.", d0.Format("2006-01-02")))
			continue
		}
		if !d1.After(d0) {
			warnings = append(warnings, fmt.Sprintf("Skipped period starting %s: invalid date ordering.", d0.Format("2006-01-02")))
			continue
		}
		totalDays := daysBetween(d0, d1)

		// Modified Dietz weights: fraction of the period remaining
		// after each flow
		netFlow := 0.0
		weightedFlow := 0.0
		for _, fd := range flowDates {
			if fd.After(d0) && !fd.After(d1) {
				amt := flowByDate[fd]
				netFlow += amt
				w := daysBetween(fd, d1) / totalDays
				if w < 0 {
					w = 0
				} else if w > 1 {
					w = 1
				}
				weightedFlow += amt * w
			}
		}

		denom := v0 + weightedFlow
		if math.Abs(denom) <= valueEpsilon {
			warnings = append(warnings, fmt.Sprintf("Skipped period starting %s: denominator is zero (begin value + weighted flows).", d0.Format("2006-01-02")))
			continue
		}
		r := (v1 - v0 - netFlow) / denom
		rets = append(rets, r)
		prod *= (1.0 + r)
	}

	if len(rets) == 0 {
		if len(warnings) == 0 {
			warnings = append(warnings, "No valid subperiod returns.")
		}
		return math.NaN(), nil, warnings
	}
	return prod - 1.0, rets, warnings
}

// SharpeRatio annualizes the mean/stddev of per-period excess returns
// over the risk-free rate. Sample standard deviation (n-1). NaN with
// fewer than 2 returns or zero variance.
func SharpeRatio(periodReturns []float64, riskFreeAnnual float64, periodsPerYear float64) float64 {
	if len(periodReturns) < 2 {
		return math.NaN()
	}
	rfPeriod := riskFreeAnnual / periodsPerYear
	excess := make([]float64, len(periodReturns))
	for i, r := range periodReturns {
		excess[i] = r - rfPeriod
	}
	meanExcess := stat.Mean(excess, nil)
	std := stat.StdDev(excess, nil)
	if std <= 0 || math.IsNaN(std) {
		return math.NaN()
	}
	return (meanExcess / std) * math.Sqrt(periodsPerYear)
}

// Volatility is the annualized sample standard deviation of per-period
// returns. NaN with fewer than 2 returns.
func Volatility(periodReturns []float64, periodsPerYear float64) float64 {
	if len(periodReturns) < 2 {
		return math.NaN()
	}
	std := stat.StdDev(periodReturns, nil)
	if math.IsNaN(std) {
		return math.NaN()
	}
	return std * math.Sqrt(periodsPerYear)
}
