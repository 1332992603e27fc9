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

package perf_test

import (
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wealth-vault/wv-api/ledger"
	"github.com/wealth-vault/wv-api/perf"
	"github.com/wealth-vault/wv-api/valuation"
)

func day(year int, month time.Month, dayOfMonth int) time.Time {
	return time.Date(year, month, dayOfMonth, 0, 0, 0, 0, time.UTC)
}

func pt(year int, month time.Month, dayOfMonth int, value float64) valuation.Point {
	return valuation.Point{Date: day(year, month, dayOfMonth), Value: value}
}

var _ = Describe("TWRFromSeries", func() {
	Context("with a single sub-period and a mid-period flow", func() {
		It("should compute the Modified Dietz return", func() {
			values := []valuation.Point{
				pt(2025, 1, 1, 100),
				pt(2025, 1, 31, 115),
			}
			flows := []ledger.Flow{{Date: day(2025, 1, 15), Amount: 10}}

			twr, rets, warnings := perf.TWRFromSeries(values, flows)

			// (115 - 100 - 10) / (100 + 10 * 16/30)
			Expect(twr).To(BeNumerically("~", 0.0474683544, 1e-9))
			Expect(rets).To(HaveLen(1))
			Expect(warnings).To(BeEmpty())
		})
	})

	Context("with chained sub-periods", func() {
		It("should geometrically link the returns", func() {
			values := []valuation.Point{
				pt(2025, 1, 1, 100),
				pt(2025, 2, 1, 110),
				pt(2025, 3, 1, 104.5),
			}

			twr, rets, _ := perf.TWRFromSeries(values, nil)

			Expect(rets).To(HaveLen(2))
			Expect(rets[0]).To(BeNumerically("~", 0.10, 1e-9))
			Expect(rets[1]).To(BeNumerically("~", -0.05, 1e-9))
			Expect(twr).To(BeNumerically("~", 0.045, 1e-9))
		})
	})

	Context("with a zero begin value", func() {
		It("should skip the sub-period with a warning", func() {
			values := []valuation.Point{
				pt(2025, 1, 1, 0),
				pt(2025, 2, 1, 100),
				pt(2025, 3, 1, 110),
			}

			twr, rets, warnings := perf.TWRFromSeries(values, nil)

			Expect(warnings).To(ContainElement("Skipped period starting 2025-01-01: begin value is zero."))
			Expect(rets).To(HaveLen(1))
			Expect(twr).To(BeNumerically("~", 0.10, 1e-9))
		})
	})

	Context("with a flow on the period begin date", func() {
		It("should exclude it from the sub-period", func() {
			values := []valuation.Point{
				pt(2025, 1, 1, 100),
				pt(2025, 2, 1, 110),
			}
			flows := []ledger.Flow{{Date: day(2025, 1, 1), Amount: 50}}

			twr, _, _ := perf.TWRFromSeries(values, flows)

			Expect(twr).To(BeNumerically("~", 0.10, 1e-9))
		})
	})

	Context("with fewer than 2 points", func() {
		It("should return NaN and a warning", func() {
			twr, rets, warnings := perf.TWRFromSeries([]valuation.Point{pt(2025, 1, 1, 100)}, nil)

			Expect(math.IsNaN(twr)).To(BeTrue())
			Expect(rets).To(BeNil())
			Expect(warnings).To(ContainElement("Need at least 2 valuation points."))
		})
	})
})

var _ = Describe("SharpeRatio", func() {
	Context("with monthly returns and no risk-free rate", func() {
		It("should annualize mean over stddev", func() {
			sharpe := perf.SharpeRatio([]float64{0.01, 0.02, 0.03}, 0, perf.MonthlyPeriodsPerYear)
			Expect(sharpe).To(BeNumerically("~", 2.0*math.Sqrt(12), 1e-9))
		})
	})

	Context("with a risk-free rate", func() {
		It("should subtract the per-period rate", func() {
			sharpe := perf.SharpeRatio([]float64{0.01, 0.02, 0.03}, 0.12, perf.MonthlyPeriodsPerYear)
			Expect(sharpe).To(BeNumerically("~", math.Sqrt(12), 1e-9))
		})
	})

	Context("with degenerate inputs", func() {
		It("should return NaN for fewer than 2 returns", func() {
			Expect(math.IsNaN(perf.SharpeRatio([]float64{0.01}, 0, 12))).To(BeTrue())
		})

		It("should return NaN for zero variance", func() {
			Expect(math.IsNaN(perf.SharpeRatio([]float64{0.01, 0.01}, 0, 12))).To(BeTrue())
		})
	})
})

var _ = Describe("Volatility", func() {
	It("should annualize the sample standard deviation", func() {
		vol := perf.Volatility([]float64{0.01, 0.02, 0.03}, perf.MonthlyPeriodsPerYear)
		Expect(vol).To(BeNumerically("~", 0.01*math.Sqrt(12), 1e-9))
	})

	It("should return NaN for fewer than 2 returns", func() {
		Expect(math.IsNaN(perf.Volatility([]float64{0.01}, 12))).To(BeTrue())
	})
})

var _ = Describe("XIRR", func() {
	Context("with a one-year round trip", func() {
		It("should solve the exact annual rate", func() {
			// 365 days apart, so the year fraction is exactly 1
			rate := perf.XIRR([]ledger.Flow{
				{Date: day(2020, 1, 1), Amount: -1000},
				{Date: day(2020, 12, 31), Amount: 1100},
			})
			Expect(rate).To(BeNumerically("~", 0.10, 1e-6))
		})
	})

	Context("with an interim contribution", func() {
		It("should solve the blended rate", func() {
			rate := perf.XIRR([]ledger.Flow{
				{Date: day(2020, 1, 1), Amount: -1000},
				{Date: day(2020, 7, 1), Amount: -500},
				{Date: day(2021, 1, 1), Amount: 1650},
			})
			Expect(rate).To(BeNumerically("~", 0.1202, 1e-3))
		})
	})

	Context("with degenerate inputs", func() {
		It("should return NaN when flows share a sign", func() {
			rate := perf.XIRR([]ledger.Flow{
				{Date: day(2020, 1, 1), Amount: -1000},
				{Date: day(2020, 6, 1), Amount: -500},
			})
			Expect(math.IsNaN(rate)).To(BeTrue())
		})

		It("should return NaN for a single flow", func() {
			Expect(math.IsNaN(perf.XIRR([]ledger.Flow{{Date: day(2020, 1, 1), Amount: -1000}}))).To(BeTrue())
		})
	})

	Context("with a deep loss", func() {
		It("should find a strongly negative rate", func() {
			rate := perf.XIRR([]ledger.Flow{
				{Date: day(2020, 1, 1), Amount: -1000},
				{Date: day(2020, 12, 31), Amount: 300},
			})
			Expect(rate).To(BeNumerically("~", -0.70, 1e-6))
		})
	})
})
