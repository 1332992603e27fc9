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

package valuation

import (
	"sort"
	"time"
)

// Sorted flattens a date -> value map into a date-ascending series.
func Sorted(values map[time.Time]float64) []Point {
	points := make([]Point, 0, len(values))
	for d, v := range values {
		points = append(points, Point{Date: d, Value: v})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points
}

type monthKey struct {
	year  int
	month time.Month
}

// Downsample reduces a series to the requested frequency. MonthEnd
// keeps the latest point of each month and always retains the first
// and last observations; any other frequency returns all points.
func Downsample(values map[time.Time]float64, frequency string) []Point {
	points := Sorted(values)
	if frequency != MonthEnd {
		return points
	}

	byMonth := make(map[monthKey]Point)
	for _, pt := range points {
		key := monthKey{year: pt.Date.Year(), month: pt.Date.Month()}
		if prev, ok := byMonth[key]; !ok || pt.Date.After(prev.Date) {
			byMonth[key] = pt
		}
	}

	out := make([]Point, 0, len(byMonth))
	for _, pt := range byMonth {
		out = append(out, pt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	if len(points) > 0 && len(out) > 0 {
		if !out[0].Date.Equal(points[0].Date) {
			out = append([]Point{points[0]}, out...)
		}
		if !out[len(out)-1].Date.Equal(points[len(points)-1].Date) {
			out = append(out, points[len(points)-1])
		}
	}
	return out
}

// PointOnOrBefore returns the latest point with date <= d, or nil.
func PointOnOrBefore(series []Point, d time.Time) *Point {
	idx := sort.Search(len(series), func(i int) bool { return series[i].Date.After(d) })
	if idx == 0 {
		return nil
	}
	pt := series[idx-1]
	return &pt
}

// PointOnOrAfter returns the earliest point with date >= d, or nil.
func PointOnOrAfter(series []Point, d time.Time) *Point {
	idx := sort.Search(len(series), func(i int) bool { return !series[i].Date.Before(d) })
	if idx >= len(series) {
		return nil
	}
	pt := series[idx]
	return &pt
}

// ValueOnOrBefore is the carry-forward lookup: the most recent value at
// or before d.
func ValueOnOrBefore(series []Point, d time.Time) (float64, bool) {
	pt := PointOnOrBefore(series, d)
	if pt == nil {
		return 0, false
	}
	return pt.Value, true
}

// SelectBeginAnchor picks the begin valuation anchor inside the grace
// window around start: the last point on/before start wins; otherwise
// the first point after it.
func SelectBeginAnchor(series []Point, start time.Time, graceDays int) *Point {
	windowStart := start.AddDate(0, 0, -graceDays)
	windowEnd := start.AddDate(0, 0, graceDays)

	var before *Point
	var after *Point
	for i := range series {
		pt := series[i]
		if pt.Date.Before(windowStart) || pt.Date.After(windowEnd) {
			continue
		}
		if !pt.Date.After(start) {
			if before == nil || pt.Date.After(before.Date) {
				cp := pt
				before = &cp
			}
		} else {
			if after == nil || pt.Date.Before(after.Date) {
				cp := pt
				after = &cp
			}
		}
	}
	if before != nil {
		return before
	}
	return after
}

// SelectEndAnchor picks the end valuation anchor inside the grace
// window around end: the first point on/after end wins; otherwise the
// last point before it.
func SelectEndAnchor(series []Point, end time.Time, graceDays int) *Point {
	windowStart := end.AddDate(0, 0, -graceDays)
	windowEnd := end.AddDate(0, 0, graceDays)

	var before *Point
	var after *Point
	for i := range series {
		pt := series[i]
		if pt.Date.Before(windowStart) || pt.Date.After(windowEnd) {
			continue
		}
		if !pt.Date.Before(end) {
			if after == nil || pt.Date.Before(after.Date) {
				cp := pt
				after = &cp
			}
		} else {
			if before == nil || pt.Date.After(before.Date) {
				cp := pt
				before = &cp
			}
		}
	}
	if after != nil {
		return after
	}
	return before
}

// Clip bounds a series to [begin, end] and force-includes both anchors
// so downsampling cannot drop them.
func Clip(points []Point, begin Point, end Point) []Point {
	out := make([]Point, 0, len(points)+2)
	for _, pt := range points {
		if pt.Date.Before(begin.Date) || pt.Date.After(end.Date) {
			continue
		}
		out = append(out, pt)
	}
	if len(out) > 0 && !out[0].Date.Equal(begin.Date) {
		out = append([]Point{begin}, out...)
	}
	if len(out) > 0 && !out[len(out)-1].Date.Equal(end.Date) {
		out = append(out, end)
	}
	if len(out) == 0 {
		out = append(out, begin)
		if !end.Date.Equal(begin.Date) {
			out = append(out, end)
		}
	}
	return out
}

// Dedupe collapses identical dates keeping the last value seen.
func Dedupe(points []Point) []Point {
	byDate := make(map[time.Time]float64, len(points))
	for _, pt := range points {
		byDate[pt.Date] = pt.Value
	}
	return Sorted(byDate)
}
