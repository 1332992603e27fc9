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
	"encoding/csv"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wealth-vault/wv-api/valuation"
)

// CSVSource reads a previously downloaded price file. Column headers
// vary by provider, so it sniffs: the date column may be any of
// date/day/as_of/timestamp and the price column prefers adjusted close
// over close over value over price.
type CSVSource struct {
	// Path maps a symbol to its CSV file. Empty string falls back to
	// PathFor.
	Path string

	// PathFor resolves per-symbol files when Path is unset.
	PathFor func(symbol string) string
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func normCol(k string) string {
	s := strings.ToLower(strings.TrimSpace(k))
	return strings.Trim(nonAlnum.ReplaceAllString(s, "_"), "_")
}

func sniffDelimiter(text string) rune {
	lines := strings.SplitN(text, "\n", 31)
	sample := strings.Join(lines, "\n")
	best := ','
	bestCount := strings.Count(sample, ",")
	if n := strings.Count(sample, "\t"); n > bestCount {
		best, bestCount = '\t', n
	}
	if n := strings.Count(sample, ";"); n > bestCount {
		best = ';'
	}
	return best
}

func parseCSVDate(s string) (time.Time, bool) {
	t := strings.TrimSpace(s)
	if t == "" {
		return time.Time{}, false
	}
	if len(t) >= 10 {
		if d, err := time.Parse("2006-01-02", t[:10]); err == nil {
			return d, true
		}
	}
	first := strings.Fields(t)
	if len(first) == 0 {
		return time.Time{}, false
	}
	for _, layout := range []string{"1/2/2006", "1/2/06", "2006/1/2"} {
		if d, err := time.Parse(layout, first[0]); err == nil {
			return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// parsePrice handles broker-statement formatting: $ and thousands
// separators stripped, parenthesized values negative.
func parsePrice(s string) (float64, bool) {
	t := strings.TrimSpace(s)
	if t == "" {
		return 0, false
	}
	neg := false
	if strings.HasPrefix(t, "(") && strings.HasSuffix(t, ")") {
		neg = true
		t = t[1 : len(t)-1]
	}
	t = strings.NewReplacer("$", "", ",", "", "*", "").Replace(t)
	t = strings.TrimSpace(t)
	v, err := strconv.ParseFloat(t, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}

// LoadPriceSeries parses one CSV file into a date-ascending series,
// deduplicated by date (last wins), non-positive prices dropped.
func LoadPriceSeries(path string) ([]valuation.Point, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := strings.TrimPrefix(string(raw), "\ufeff")

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = sniffDelimiter(text)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, ErrNoUsableRows
	}

	header := records[0]
	colIdx := make(map[string]int, len(header))
	for idx, name := range header {
		key := normCol(name)
		if _, ok := colIdx[key]; !ok && key != "" {
			colIdx[key] = idx
		}
	}

	dateIdx := -1
	for _, key := range []string{"date", "day", "as_of", "timestamp"} {
		if idx, ok := colIdx[key]; ok {
			dateIdx = idx
			break
		}
	}
	priceIdx := -1
	// adjusted close is a better proxy for total return
	for _, key := range []string{"adj_close", "adjclose", "close", "value", "price"} {
		if idx, ok := colIdx[key]; ok {
			priceIdx = idx
			break
		}
	}
	if dateIdx < 0 || priceIdx < 0 {
		return nil, ErrNoUsableRows
	}

	byDate := make(map[time.Time]float64)
	for _, record := range records[1:] {
		if dateIdx >= len(record) || priceIdx >= len(record) {
			continue
		}
		d, ok := parseCSVDate(record[dateIdx])
		if !ok {
			continue
		}
		price, ok := parsePrice(record[priceIdx])
		if !ok || price <= 0 {
			continue
		}
		byDate[d] = price
	}

	if len(byDate) == 0 {
		return nil, ErrNoUsableRows
	}
	return valuation.Sorted(byDate), nil
}

func (src *CSVSource) Prices(ctx context.Context, symbol string, begin time.Time, end time.Time) ([]valuation.Point, error) {
	path := src.Path
	if path == "" && src.PathFor != nil {
		path = src.PathFor(symbol)
	}
	if path == "" {
		return nil, ErrNoUsableRows
	}

	series, err := LoadPriceSeries(path)
	if err != nil {
		log.Warn().Err(err).Str("Path", path).Str("Symbol", symbol).Msg("could not load benchmark csv")
		return nil, err
	}

	out := make([]valuation.Point, 0, len(series))
	for _, pt := range series {
		if pt.Date.Before(begin) || pt.Date.After(end) {
			continue
		}
		out = append(out, pt)
	}
	return out, nil
}
