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

package bench_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wealth-vault/wv-api/bench"
	"github.com/wealth-vault/wv-api/valuation"
)

type stubSource struct {
	series []valuation.Point
	err    error
}

func (s *stubSource) Prices(_ context.Context, _ string, _ time.Time, _ time.Time) ([]valuation.Point, error) {
	return s.series, s.err
}

func day(year int, month time.Month, dayOfMonth int) time.Time {
	return time.Date(year, month, dayOfMonth, 0, 0, 0, 0, time.UTC)
}

func pt(year int, month time.Month, dayOfMonth int, value float64) valuation.Point {
	return valuation.Point{Date: day(year, month, dayOfMonth), Value: value}
}

var _ = Describe("SeriesForPeriod", func() {
	Context("with data before the period start", func() {
		It("should anchor on the prior close", func() {
			series := []valuation.Point{
				pt(2024, 12, 31, 50),
				pt(2025, 1, 15, 52),
				pt(2025, 2, 28, 55),
			}

			out := bench.SeriesForPeriod(series, day(2025, 1, 1), day(2025, 3, 1), valuation.Daily)

			Expect(out).To(HaveLen(3))
			Expect(out[0].Date).To(Equal(day(2024, 12, 31)))
			Expect(out[len(out)-1].Date).To(Equal(day(2025, 2, 28)))
		})
	})

	Context("with no data before the period start", func() {
		It("should fall back to the first observation inside it", func() {
			series := []valuation.Point{
				pt(2025, 1, 15, 52),
				pt(2025, 2, 28, 55),
			}

			out := bench.SeriesForPeriod(series, day(2025, 1, 1), day(2025, 3, 1), valuation.Daily)

			Expect(out[0].Date).To(Equal(day(2025, 1, 15)))
		})
	})

	Context("with month_end sampling", func() {
		It("should keep the latest observation per month plus the anchors", func() {
			series := []valuation.Point{
				pt(2024, 12, 31, 50),
				pt(2025, 1, 10, 51),
				pt(2025, 1, 31, 52),
				pt(2025, 2, 14, 53),
				pt(2025, 2, 28, 54),
			}

			out := bench.SeriesForPeriod(series, day(2025, 1, 1), day(2025, 3, 1), valuation.MonthEnd)

			Expect(out).To(HaveLen(3))
			Expect(out[0].Date).To(Equal(day(2024, 12, 31)))
			Expect(out[1].Date).To(Equal(day(2025, 1, 31)))
			Expect(out[2].Date).To(Equal(day(2025, 2, 28)))
		})
	})

	Context("with a series that cannot cover the period", func() {
		It("should return nil when all data is after the period", func() {
			series := []valuation.Point{pt(2025, 6, 1, 60)}
			out := bench.SeriesForPeriod(series, day(2025, 1, 1), day(2025, 3, 1), valuation.Daily)
			Expect(out).To(BeNil())
		})

		It("should return nil for an inverted range", func() {
			series := []valuation.Point{pt(2025, 1, 15, 52)}
			out := bench.SeriesForPeriod(series, day(2025, 3, 1), day(2025, 1, 1), valuation.Daily)
			Expect(out).To(BeNil())
		})
	})
})

var _ = Describe("Fallback", func() {
	It("should return the first non-empty series", func() {
		empty := &stubSource{}
		full := &stubSource{series: []valuation.Point{pt(2025, 1, 15, 52)}}

		prices, err := bench.NewFallback(empty, full).Prices(context.Background(), "VOO", day(2025, 1, 1), day(2025, 3, 1))

		Expect(err).To(BeNil())
		Expect(prices).To(HaveLen(1))
	})

	It("should surface the last error when every source fails", func() {
		failing := &stubSource{err: bench.ErrProviderStatus}

		_, err := bench.NewFallback(failing).Prices(context.Background(), "VOO", day(2025, 1, 1), day(2025, 3, 1))

		Expect(err).To(MatchError(bench.ErrProviderStatus))
	})

	It("should report when no source produced data", func() {
		_, err := bench.NewFallback(&stubSource{}).Prices(context.Background(), "VOO", day(2025, 1, 1), day(2025, 3, 1))
		Expect(err).To(MatchError(bench.ErrNoSource))
	})
})
