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
	"math"
	"sort"

	"github.com/wealth-vault/wv-api/ledger"
)

// npv discounts irregular cash flows at an annual rate with years
// measured from the first flow date.
func npv(rate float64, cashflows []ledger.Flow) float64 {
	if rate <= rateFloor {
		return math.Inf(1)
	}
	d0 := cashflows[0].Date
	out := 0.0
	for _, cf := range cashflows {
		years := daysBetween(d0, cf.Date) / 365.0
		out += cf.Amount / math.Pow(1.0+rate, years)
	}
	return out
}

// newtonSeeds tried in order before falling back to bisection.
var newtonSeeds = []float64{0.1, 0.05, 0.2, 0.0, -0.2}

// XIRR solves the internal rate of return for irregular cash flows
// (investor perspective: deposits negative, proceeds positive).
// Newton-Raphson with a numerical derivative across several seeds,
// then wide-bracket bisection. NaN when flows don't span both signs or
// no bracketed root exists.
func XIRR(cashflows []ledger.Flow) float64 {
	cfs := make([]ledger.Flow, 0, len(cashflows))
	cfs = append(cfs, cashflows...)
	sort.SliceStable(cfs, func(i, j int) bool { return cfs[i].Date.Before(cfs[j].Date) })
	if len(cfs) < 2 {
		return math.NaN()
	}

	hasPos := false
	hasNeg := false
	for _, cf := range cfs {
		if cf.Amount > 0 {
			hasPos = true
		}
		if cf.Amount < 0 {
			hasNeg = true
		}
	}
	if !hasPos || !hasNeg {
		return math.NaN()
	}

	for _, guess := range newtonSeeds {
		r := guess
		for iter := 0; iter < 50; iter++ {
			f := npv(r, cfs)
			if math.Abs(f) < npvTolerance {
				return r
			}
			eps := 1e-6
			f1 := npv(r+eps, cfs)
			df := (f1 - f) / eps
			if df == 0 || math.IsInf(df, 0) || math.IsNaN(df) {
				break
			}
			step := f / df
			r2 := r - step
			if r2 <= rateFloor || math.IsInf(r2, 0) || math.IsNaN(r2) {
				break
			}
			if math.Abs(r2-r) < stepTolerance {
				return r2
			}
			r = r2
		}
	}

	// bisection fallback with wide bounds
	lo, hi := -0.95, 10.0
	fLo := npv(lo, cfs)
	fHi := npv(hi, cfs)
	if math.IsInf(fLo, 0) || math.IsNaN(fLo) || math.IsInf(fHi, 0) || math.IsNaN(fHi) {
		return math.NaN()
	}
	if fLo == 0 {
		return lo
	}
	if fHi == 0 {
		return hi
	}
	if fLo*fHi > 0 {
		return math.NaN()
	}
	for iter := 0; iter < 200; iter++ {
		mid := (lo + hi) / 2.0
		fMid := npv(mid, cfs)
		if math.IsInf(fMid, 0) || math.IsNaN(fMid) {
			hi = mid
			continue
		}
		if math.Abs(fMid) < npvTolerance {
			return mid
		}
		if fLo*fMid <= 0 {
			hi = mid
			fHi = fMid
		} else {
			lo = mid
			fLo = fMid
		}
		if math.Abs(hi-lo) < stepTolerance {
			return (lo + hi) / 2.0
		}
	}
	return math.NaN()
}
