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

package ledger

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Flow is an investor cash flow: positive into the portfolio, negative
// out of it.
type Flow struct {
	Date   time.Time
	Amount float64
}

// ClassifierOptions control how transactions map to investor flows.
type ClassifierOptions struct {
	// IncludeWithholdingAsFlow treats tax withholding as an investor
	// withdrawal rather than as drag. Off by default.
	IncludeWithholdingAsFlow bool
}

// CashFlows is the classified view of a transaction window.
type CashFlows struct {
	Flows []Flow

	Contributions float64
	Withdrawals   float64
	NetFlow       float64

	// Cash-out drag; these never enter the flow-weighted return math.
	Fees         float64
	Withholding  float64
	OtherCashOut float64
}

// TotalCashOut sums withdrawals and all drag categories.
func (cf *CashFlows) TotalCashOut() float64 {
	return cf.Withdrawals + cf.Fees + cf.Withholding + cf.OtherCashOut
}

// Classify maps a window of transactions onto investor cash flows.
// TRANSFER amounts become flows after internal transfer noise is removed;
// FEE / WITHHOLDING / negative OTHER are accumulated as drag. Duplicate
// provider rows (same SourceID) count once.
func Classify(transactions []*Transaction, opts ClassifierOptions) *CashFlows {
	cf := &CashFlows{
		Flows: make([]Flow, 0, len(transactions)),
	}

	transfers := make([]transferCandidate, 0, len(transactions))
	seen := make(map[string]bool, len(transactions))

	for _, trx := range transactions {
		kind := strings.ToUpper(trx.Kind)
		switch kind {
		case TransferTransaction:
			if sourceID, err := trx.SourceID(); err == nil {
				if seen[sourceID] {
					log.Debug().Str("SourceID", sourceID).Msg("skipping duplicate transfer")
					continue
				}
				seen[sourceID] = true
			}
			transfers = append(transfers, transferCandidate{
				Date:        trx.Date,
				Amount:      trx.Amount,
				RawType:     trx.Metadata.RawType,
				Description: trx.FullDescription(),
			})
		case FeeTransaction:
			if trx.Amount < 0 {
				cf.Fees += -trx.Amount
			}
		case WithholdingTransaction:
			cf.Withholding += math.Abs(trx.Amount)
			if opts.IncludeWithholdingAsFlow {
				if sourceID, err := trx.SourceID(); err == nil {
					if seen[sourceID] {
						continue
					}
					seen[sourceID] = true
				}
				cf.Flows = append(cf.Flows, Flow{Date: trx.Date, Amount: trx.Amount})
			}
		case OtherTransaction:
			if trx.Amount < 0 && !looksLikeInternalMechanic(trx.Metadata.RawType, trx.FullDescription()) {
				cf.OtherCashOut += -trx.Amount
			}
		}
	}

	cf.Flows = append(cf.Flows, filterInternalTransferPairs(transfers)...)

	sort.SliceStable(cf.Flows, func(i, j int) bool {
		if cf.Flows[i].Date.Equal(cf.Flows[j].Date) {
			return cf.Flows[i].Amount < cf.Flows[j].Amount
		}
		return cf.Flows[i].Date.Before(cf.Flows[j].Date)
	})

	for _, flow := range cf.Flows {
		if flow.Amount >= 0 {
			cf.Contributions += flow.Amount
		} else {
			cf.Withdrawals += -flow.Amount
		}
		cf.NetFlow += flow.Amount
	}

	return cf
}

type transferCandidate struct {
	Date        time.Time
	Amount      float64
	RawType     string
	Description string
}

// looksLikeInternalMechanic recognizes broker-internal cash movement by
// its description: deposit sweeps, multi-currency settlement shuttles and
// sister-account shuffles. These net to zero economically and must not be
// counted as investor flows.
func looksLikeInternalMechanic(rawType string, description string) bool {
	rt := strings.ToUpper(strings.TrimSpace(rawType))
	d := strings.ToUpper(strings.TrimSpace(description))
	if strings.Contains(d, "DEPOSIT SWEEP") {
		return true
	}
	if rt == "UNKNOWN" && strings.Contains(d, "MULTI") && strings.Contains(d, "CURRENCY") {
		return true
	}
	if strings.Contains(d, "SHADO") {
		return true
	}
	if strings.Contains(d, "REC FR SIS") || strings.Contains(d, "REC TRSF SIS") {
		return true
	}
	if strings.Contains(d, "TRSF TO SIS") || strings.Contains(d, "TRSF SIS") {
		return true
	}
	if strings.Contains(d, "FX") && (strings.Contains(d, "SETTLEMENT") || strings.Contains(d, "TRAD")) {
		return true
	}
	if (strings.Contains(d, "MULTI") && strings.Contains(d, "CURRENCY")) || strings.Contains(d, "MULTICURRENCY") {
		return true
	}
	if strings.Contains(d, "INTERNAL") && strings.Contains(d, "TRANSFER") {
		return true
	}
	return false
}

func roundCents(v float64) float64 {
	// avoid float drift when matching internal transfer pairs
	return math.Round(v*100) / 100
}

// filterInternalTransferPairs drops transfers whose description marks
// them internal, then pairs remaining +X / -X amounts (rounded to cents)
// on the same date and removes matched pairs. Residuals survive.
func filterInternalTransferPairs(transfers []transferCandidate) []Flow {
	type bucketKey struct {
		date   string
		amount float64
	}

	buckets := make(map[bucketKey]*struct {
		date time.Time
		pos  []float64
		neg  []float64
	})
	order := make([]bucketKey, 0, len(transfers))

	for _, xfer := range transfers {
		if looksLikeInternalMechanic(xfer.RawType, xfer.Description) {
			continue
		}
		amt := roundCents(xfer.Amount)
		if math.Abs(amt) <= 1e-9 {
			continue
		}
		key := bucketKey{
			date:   xfer.Date.Format("2006-01-02"),
			amount: roundCents(math.Abs(amt)),
		}
		bucket, ok := buckets[key]
		if !ok {
			bucket = &struct {
				date time.Time
				pos  []float64
				neg  []float64
			}{date: xfer.Date}
			buckets[key] = bucket
			order = append(order, key)
		}
		if amt >= 0 {
			bucket.pos = append(bucket.pos, amt)
		} else {
			bucket.neg = append(bucket.neg, amt)
		}
	}

	flows := make([]Flow, 0, len(transfers))
	for _, key := range order {
		bucket := buckets[key]
		dropPairs := len(bucket.pos)
		if len(bucket.neg) < dropPairs {
			dropPairs = len(bucket.neg)
		}
		for _, amt := range bucket.pos[dropPairs:] {
			flows = append(flows, Flow{Date: bucket.date, Amount: amt})
		}
		for _, amt := range bucket.neg[dropPairs:] {
			flows = append(flows, Flow{Date: bucket.date, Amount: amt})
		}
	}
	return flows
}
