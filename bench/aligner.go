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
	"sort"
	"time"

	"github.com/wealth-vault/wv-api/valuation"
)

// SeriesForPeriod aligns a benchmark price series to a reporting
// period. The start anchor prefers the last observation on/before
// start (the prior close, so calendar-year returns measure from the
// 12/31 close); without earlier data it falls back to the first
// observation on/after start. The end anchor is the last observation
// on/before end. Month-end sampling keeps the latest observation per
// month with both anchors forced in; duplicates collapse last-wins.
// An empty result means the series cannot cover the period.
func SeriesForPeriod(series []valuation.Point, start time.Time, end time.Time, frequency string) []valuation.Point {
	if len(series) == 0 || end.Before(start) {
		return nil
	}

	sorted := make([]valuation.Point, len(series))
	copy(sorted, series)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	startPt := valuation.PointOnOrBefore(sorted, start)
	if startPt == nil {
		startPt = valuation.PointOnOrAfter(sorted, start)
	}
	endPt := valuation.PointOnOrBefore(sorted, end)
	if startPt == nil || endPt == nil {
		return nil
	}

	inRange := make([]valuation.Point, 0, len(sorted))
	for _, pt := range sorted {
		if pt.Date.Before(start) || pt.Date.After(end) {
			continue
		}
		inRange = append(inRange, pt)
	}

	var out []valuation.Point
	if frequency == valuation.MonthEnd {
		byMonth := make(map[int]valuation.Point)
		order := make([]int, 0)
		for _, pt := range inRange {
			key := pt.Date.Year()*100 + int(pt.Date.Month())
			if prev, ok := byMonth[key]; !ok || pt.Date.After(prev.Date) {
				if !ok {
					order = append(order, key)
				}
				byMonth[key] = pt
			}
		}
		out = make([]valuation.Point, 0, len(order)+2)
		for _, key := range order {
			out = append(out, byMonth[key])
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	} else {
		out = inRange
	}

	if len(out) == 0 || !out[0].Date.Equal(startPt.Date) {
		out = append([]valuation.Point{*startPt}, out...)
	}
	if !out[len(out)-1].Date.Equal(endPt.Date) {
		out = append(out, *endPt)
	}

	return valuation.Dedupe(out)
}
