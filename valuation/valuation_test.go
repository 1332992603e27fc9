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

package valuation_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wealth-vault/wv-api/valuation"
)

var _ = Describe("Aggregator", func() {
	var agg *valuation.Aggregator

	BeforeEach(func() {
		agg = valuation.NewAggregator(nil)
	})

	Context("with positions and cash rows", func() {
		It("should sum them per portfolio day", func() {
			values := agg.DailyValues([]*valuation.Snapshot{
				{
					ID: 1, PortfolioID: 7, AsOf: day(2025, 1, 15),
					Items: []valuation.SnapshotItem{
						{AccountID: 1, Symbol: "VOO", MarketValue: 9000},
						{AccountID: 1, Symbol: "CASH:USD", MarketValue: 1000},
					},
				},
			})

			Expect(values[7]).To(HaveLen(1))
			Expect(values[7][day(2025, 1, 15)]).To(BeNumerically("~", 10000))
		})
	})

	Context("with same-day captures", func() {
		It("should keep the latest capture per account", func() {
			morning := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
			evening := time.Date(2025, 1, 15, 17, 0, 0, 0, time.UTC)

			values := agg.DailyValues([]*valuation.Snapshot{
				{
					ID: 1, PortfolioID: 7, AsOf: morning,
					Items: []valuation.SnapshotItem{{AccountID: 1, Symbol: "VOO", MarketValue: 9000}},
				},
				{
					ID: 2, PortfolioID: 7, AsOf: evening,
					Items: []valuation.SnapshotItem{{AccountID: 1, Symbol: "VOO", MarketValue: 9500}},
				},
			})

			Expect(values[7][day(2025, 1, 15)]).To(BeNumerically("~", 9500))
		})
	})

	Context("with an explicit account total", func() {
		It("should prefer the total over position sums", func() {
			values := agg.DailyValues([]*valuation.Snapshot{
				{
					ID: 1, PortfolioID: 7, AsOf: day(2025, 1, 15),
					Items: []valuation.SnapshotItem{
						{AccountID: 1, Symbol: "VOO", MarketValue: 9000},
						{AccountID: 1, Symbol: "CASH:USD", MarketValue: 1000},
						{AccountID: 1, MarketValue: 10500, IsTotal: true},
					},
				},
			})

			Expect(values[7][day(2025, 1, 15)]).To(BeNumerically("~", 10500))
		})
	})

	Context("with an imported cash balance series", func() {
		It("should fill cash when the snapshot has none", func() {
			agg = valuation.NewAggregator(map[int64][]valuation.Point{
				1: {pt(2025, 1, 10, 1200)},
			})

			values := agg.DailyValues([]*valuation.Snapshot{
				{
					ID: 1, PortfolioID: 7, AsOf: day(2025, 1, 15),
					Items: []valuation.SnapshotItem{{AccountID: 1, Symbol: "VOO", MarketValue: 9000}},
				},
			})

			Expect(values[7][day(2025, 1, 15)]).To(BeNumerically("~", 10200))
		})

		It("should not override snapshot cash", func() {
			agg = valuation.NewAggregator(map[int64][]valuation.Point{
				1: {pt(2025, 1, 10, 1200)},
			})

			values := agg.DailyValues([]*valuation.Snapshot{
				{
					ID: 1, PortfolioID: 7, AsOf: day(2025, 1, 15),
					Items: []valuation.SnapshotItem{
						{AccountID: 1, Symbol: "VOO", MarketValue: 9000},
						{AccountID: 1, Symbol: "CASH:USD", MarketValue: 500},
					},
				},
			})

			Expect(values[7][day(2025, 1, 15)]).To(BeNumerically("~", 9500))
		})
	})

	Context("with accounts across portfolios", func() {
		It("should keep portfolio totals separate", func() {
			values := agg.DailyValues([]*valuation.Snapshot{
				{
					ID: 1, PortfolioID: 7, AsOf: day(2025, 1, 15),
					Items: []valuation.SnapshotItem{{AccountID: 1, Symbol: "VOO", MarketValue: 9000}},
				},
				{
					ID: 2, PortfolioID: 8, AsOf: day(2025, 1, 15),
					Items: []valuation.SnapshotItem{{AccountID: 2, Symbol: "QQQ", MarketValue: 4000}},
				},
			})

			Expect(values[7][day(2025, 1, 15)]).To(BeNumerically("~", 9000))
			Expect(values[8][day(2025, 1, 15)]).To(BeNumerically("~", 4000))
		})
	})
})
