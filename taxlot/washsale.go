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

package taxlot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wealth-vault/wv-api/ledger"
)

// substantiallyIdentical reports whether two tickers are the same
// security for wash-sale purposes: equal, or members of the same
// substitute group.
func (eng *Engine) substantiallyIdentical(tickerA string, tickerB string) bool {
	a := strings.ToUpper(strings.TrimSpace(tickerA))
	b := strings.ToUpper(strings.TrimSpace(tickerB))
	if a == b {
		return true
	}
	groupA, okA := eng.opts.SubstituteGroups[a]
	groupB, okB := eng.opts.SubstituteGroups[b]
	return okA && okB && groupA == groupB
}

// applyWashSales scans the replay's disposals for loss sales and
// allocates deferred losses to replacement buys in the 61-day window.
// Replacements in taxable accounts with a reconstructed lot get a basis
// increase (APPLIED); tax-advantaged replacements and buys without a
// reconstructed lot are FLAGGED with no basis change.
func (eng *Engine) applyWashSales(transactions []*ledger.Transaction, res *Result) int {
	created := 0

	txnByID := make(map[int64]*ledger.Transaction, len(transactions))
	for _, trx := range transactions {
		txnByID[trx.ID] = trx
	}

	lotByBuyID := make(map[int64]*TaxLot, len(res.Lots))
	for _, lot := range res.Lots {
		if lot.SourceTxnID != 0 {
			lotByBuyID[lot.SourceTxnID] = lot
		}
	}

	// realized gain totals per sale; sales with only basis-unknown
	// disposals stay out of wash-sale consideration
	type saleGain struct {
		total    float64
		hasBasis bool
	}
	gains := make(map[int64]*saleGain)
	saleOrder := make([]int64, 0)
	for _, disposal := range res.Disposals {
		sg, ok := gains[disposal.SellTxnID]
		if !ok {
			sg = &saleGain{}
			gains[disposal.SellTxnID] = sg
			saleOrder = append(saleOrder, disposal.SellTxnID)
		}
		if disposal.RealizedGain != nil {
			sg.total += *disposal.RealizedGain
			sg.hasBasis = true
		}
	}

	sort.Slice(saleOrder, func(i, j int) bool { return saleOrder[i] < saleOrder[j] })

	for _, sellTxnID := range saleOrder {
		sg := gains[sellTxnID]
		sale := txnByID[sellTxnID]
		if sale == nil || sale.Kind != ledger.SellTransaction || strings.TrimSpace(sale.Ticker) == "" {
			continue
		}
		if !sg.hasBasis || sg.total >= lossGate {
			continue
		}
		qtySold := sale.Shares
		if qtySold <= 0 {
			continue
		}
		lossAbs := -sg.total
		windowStart := sale.Date.AddDate(0, 0, -washWindowDays)
		windowEnd := sale.Date.AddDate(0, 0, washWindowDays)

		buys := eng.replacementBuys(transactions, sale.Ticker, windowStart, windowEnd)
		if len(buys) == 0 {
			continue
		}

		remainingShares := qtySold
		for _, buy := range buys {
			if buy.Shares <= 0 || remainingShares <= shareEpsilon {
				continue
			}
			take := buy.Shares
			if remainingShares < take {
				take = remainingShares
			}
			deferred := lossAbs * (take / qtySold)

			adj := &WashSaleAdjustment{
				ID:                uuid.New(),
				LossSaleTxnID:     sellTxnID,
				ReplacementTxnID:  buy.ID,
				ReplacementShares: take,
				DeferredLoss:      deferred,
				BasisIncrease:     deferred,
				WindowStart:       windowStart,
				WindowEnd:         windowEnd,
				Status:            WashApplied,
			}

			if acct := eng.accounts[buy.AccountID]; acct != nil && acct.TaxAdvantaged() {
				// wash loss into a tax-advantaged account may be
				// permanently disallowed; surface it, do not model it
				adj.Status = WashFlagged
				adj.BasisIncrease = 0
				adj.IRAReplacement = true
			}

			replacementLot := lotByBuyID[buy.ID]
			if replacementLot == nil {
				adj.Status = WashFlagged
				adj.BasisIncrease = 0
				adj.MissingLot = true
			} else {
				lotID := replacementLot.ID
				adj.ReplacementLotID = &lotID
			}

			if adj.Status == WashApplied && replacementLot != nil {
				basis := deferred
				if replacementLot.BasisOpen != nil {
					basis += *replacementLot.BasisOpen
				}
				replacementLot.BasisOpen = float64Ptr(basis)
			}

			res.WashAdjustments = append(res.WashAdjustments, adj)
			created++
			remainingShares -= take
		}

		if remainingShares <= qtySold-shareEpsilon && remainingShares > shareEpsilon {
			res.Summary.Warnings = append(res.Summary.Warnings,
				fmt.Sprintf("Wash sale: not enough replacement shares to defer full loss for sale txn_id=%d.", sellTxnID))
		}
	}

	return created
}

// replacementBuys returns executed BUYs of a substantially identical
// ticker inside the window, limited to wash-sale scope accounts, in
// chronological order.
func (eng *Engine) replacementBuys(transactions []*ledger.Transaction, saleTicker string, windowStart, windowEnd time.Time) []*ledger.Transaction {
	buys := make([]*ledger.Transaction, 0)
	for _, trx := range transactions {
		if trx.Kind != ledger.BuyTransaction {
			continue
		}
		acct := eng.accounts[trx.AccountID]
		if acct == nil {
			continue
		}
		if !acct.Taxable() && !(eng.opts.WashIncludeIRA && acct.TaxAdvantaged()) {
			continue
		}
		if trx.Date.Before(windowStart) || trx.Date.After(windowEnd) {
			continue
		}
		if !eng.substantiallyIdentical(saleTicker, trx.Ticker) {
			continue
		}
		buys = append(buys, trx)
	}
	sort.SliceStable(buys, func(i, j int) bool {
		if buys[i].Date.Equal(buys[j].Date) {
			return buys[i].ID < buys[j].ID
		}
		return buys[i].Date.Before(buys[j].Date)
	})
	return buys
}
