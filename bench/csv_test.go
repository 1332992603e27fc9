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
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wealth-vault/wv-api/bench"
)

func writeTempCSV(dir string, name string, content string) string {
	path := filepath.Join(dir, name)
	Expect(os.WriteFile(path, []byte(content), 0600)).To(Succeed())
	return path
}

var _ = Describe("LoadPriceSeries", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "bench-csv")
		Expect(err).To(BeNil())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	Context("with a comma-delimited file", func() {
		It("should parse dated close prices", func() {
			path := writeTempCSV(dir, "voo.csv", "Date,Close\n2021-01-04,340.50\n2021-01-05,342.10\n")

			series, err := bench.LoadPriceSeries(path)

			Expect(err).To(BeNil())
			Expect(series).To(HaveLen(2))
			Expect(series[0].Date).To(Equal(day(2021, 1, 4)))
			Expect(series[0].Value).To(BeNumerically("~", 340.50))
		})

		It("should keep the last value for duplicate dates", func() {
			path := writeTempCSV(dir, "voo.csv", "Date,Close\n2021-01-04,340.50\n2021-01-04,341.00\n")

			series, err := bench.LoadPriceSeries(path)

			Expect(err).To(BeNil())
			Expect(series).To(HaveLen(1))
			Expect(series[0].Value).To(BeNumerically("~", 341.00))
		})

		It("should drop unparseable and non-positive rows", func() {
			path := writeTempCSV(dir, "voo.csv",
				"Date,Close\nnot-a-date,100\n2021-01-04,(12.00)\n2021-01-05,0\n2021-01-06,343.00\n")

			series, err := bench.LoadPriceSeries(path)

			Expect(err).To(BeNil())
			Expect(series).To(HaveLen(1))
			Expect(series[0].Date).To(Equal(day(2021, 1, 6)))
		})

		It("should strip currency formatting", func() {
			path := writeTempCSV(dir, "voo.csv", "Date,Close\n2021-01-04,\"$1,340.50\"\n")

			series, err := bench.LoadPriceSeries(path)

			Expect(err).To(BeNil())
			Expect(series[0].Value).To(BeNumerically("~", 1340.50))
		})
	})

	Context("with provider header variants", func() {
		It("should prefer adjusted close over close", func() {
			path := writeTempCSV(dir, "voo.csv", "Date,Close,Adj Close\n2021-01-04,340.50,338.25\n")

			series, err := bench.LoadPriceSeries(path)

			Expect(err).To(BeNil())
			Expect(series[0].Value).To(BeNumerically("~", 338.25))
		})

		It("should sniff tab-delimited files", func() {
			path := writeTempCSV(dir, "voo.tsv", "Day\tValue\n1/4/2021\t340.50\n")

			series, err := bench.LoadPriceSeries(path)

			Expect(err).To(BeNil())
			Expect(series).To(HaveLen(1))
			Expect(series[0].Date).To(Equal(day(2021, 1, 4)))
		})
	})

	Context("with an unusable file", func() {
		It("should error on a header-only file", func() {
			path := writeTempCSV(dir, "voo.csv", "Date,Close\n")
			_, err := bench.LoadPriceSeries(path)
			Expect(err).To(MatchError(bench.ErrNoUsableRows))
		})

		It("should error when no recognized columns exist", func() {
			path := writeTempCSV(dir, "voo.csv", "Foo,Bar\n1,2\n")
			_, err := bench.LoadPriceSeries(path)
			Expect(err).To(MatchError(bench.ErrNoUsableRows))
		})
	})
})

var _ = Describe("CSVSource", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "bench-csv")
		Expect(err).To(BeNil())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("should bound the series to the requested range", func() {
		path := writeTempCSV(dir, "voo.csv",
			"Date,Close\n2020-12-15,330.00\n2021-01-04,340.50\n2021-02-01,345.00\n")
		src := &bench.CSVSource{Path: path}

		prices, err := src.Prices(context.Background(), "VOO", day(2021, 1, 1), day(2021, 1, 31))

		Expect(err).To(BeNil())
		Expect(prices).To(HaveLen(1))
		Expect(prices[0].Date).To(Equal(day(2021, 1, 4)))
	})

	It("should resolve per-symbol paths", func() {
		writeTempCSV(dir, "VOO.csv", "Date,Close\n2021-01-04,340.50\n")
		src := &bench.CSVSource{PathFor: func(symbol string) string {
			return filepath.Join(dir, symbol+".csv")
		}}

		prices, err := src.Prices(context.Background(), "VOO", day(2021, 1, 1), day(2021, 1, 31))

		Expect(err).To(BeNil())
		Expect(prices).To(HaveLen(1))
	})

	It("should error without a configured path", func() {
		src := &bench.CSVSource{}
		_, err := src.Prices(context.Background(), "VOO", day(2021, 1, 1), day(2021, 1, 31))
		Expect(err).To(MatchError(bench.ErrNoUsableRows))
	})
})
