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
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wealth-vault/wv-api/ledger"
)

// EngineOptions tune a replay.
type EngineOptions struct {
	// WashIncludeIRA widens the wash-sale replacement scope to the
	// taxpayer's tax-advantaged accounts. Replacements found there are
	// FLAGGED, never APPLIED.
	WashIncludeIRA bool

	// SubstituteGroups maps ticker -> substitute group id. Tickers in
	// the same group are substantially identical for wash-sale
	// matching.
	SubstituteGroups map[string]string
}

// Engine deterministically reconstructs tax lots from the full
// transaction history of one taxpayer entity. It is a pure in-memory
// computation; persistence lives in Store.
type Engine struct {
	taxpayerID int64
	accounts   map[int64]*ledger.Account
	opts       EngineOptions
}

// NewEngine prepares a replay for one taxpayer over its accounts.
func NewEngine(taxpayerID int64, accounts []*ledger.Account, opts EngineOptions) *Engine {
	acctMap := make(map[int64]*ledger.Account, len(accounts))
	for _, acct := range accounts {
		acctMap[acct.ID] = acct
	}
	return &Engine{
		taxpayerID: taxpayerID,
		accounts:   acctMap,
		opts:       opts,
	}
}

type lotKey struct {
	accountID int64
	ticker    string
}

// Replay rebuilds lots, disposals and wash-sale adjustments from
// scratch. Transactions may arrive in any order; corporate actions may
// arrive applied or not (applied ones are ignored). The same inputs
// always produce the same outputs.
func (eng *Engine) Replay(transactions []*ledger.Transaction, actions []*CorporateAction) *Result {
	subLog := log.With().Int64("TaxpayerID", eng.taxpayerID).Logger()

	res := &Result{
		Summary: &RebuildSummary{
			TaxpayerID: eng.taxpayerID,
			Warnings:   []string{},
		},
	}

	taxableIDs := eng.taxableAccountIDs()
	res.Summary.AccountsIncluded = taxableIDs
	if len(taxableIDs) == 0 {
		res.Summary.Warnings = append(res.Summary.Warnings, "No taxable accounts for taxpayer; no lots built.")
		return res
	}

	taxable := make(map[int64]bool, len(taxableIDs))
	for _, id := range taxableIDs {
		taxable[id] = true
	}

	txns := replayableTransactions(transactions, taxable)
	res.Summary.TxnsScanned = len(txns)

	pending := pendingActions(actions)
	res.Actions = pending
	actionIdx := 0

	openLots := make(map[lotKey][]*TaxLot)
	syntheticLots := make(map[lotKey]*TaxLot)

	for _, trx := range txns {
		// apply corporate actions dated on or before this transaction
		for actionIdx < len(pending) && !pending[actionIdx].ActionDate.After(trx.Date) {
			eng.applyAction(pending[actionIdx], openLots, res.Summary)
			actionIdx++
		}

		ticker := strings.ToUpper(strings.TrimSpace(trx.Ticker))
		if ticker == "" {
			continue
		}
		key := lotKey{accountID: trx.AccountID, ticker: ticker}

		switch trx.Kind {
		case ledger.BuyTransaction:
			if trx.Shares <= 0 {
				res.Summary.Warnings = append(res.Summary.Warnings, fmt.Sprintf("BUY txn missing qty: txn_id=%d", trx.ID))
				continue
			}
			lot := eng.newLot(trx, ticker, float64Ptr(math.Abs(trx.Amount)))
			openLots[key] = append(openLots[key], lot)
			res.Lots = append(res.Lots, lot)
			res.Summary.LotsCreated++
		case ledger.TransferTransaction:
			// transfer-in with shares attached; best-effort basis
			if trx.Shares <= 0 {
				continue
			}
			var basis *float64
			if trx.Metadata.BasisTotal != nil {
				basis = float64Ptr(*trx.Metadata.BasisTotal)
			} else if math.Abs(trx.Amount) > shareEpsilon {
				basis = float64Ptr(math.Abs(trx.Amount))
			}
			lot := eng.newLot(trx, ticker, basis)
			openLots[key] = append(openLots[key], lot)
			res.Lots = append(res.Lots, lot)
			res.Summary.LotsCreated++
		case ledger.SellTransaction:
			if trx.Shares <= 0 {
				res.Summary.Warnings = append(res.Summary.Warnings, fmt.Sprintf("SELL txn missing qty: txn_id=%d", trx.ID))
				continue
			}
			eng.consumeFIFO(trx, ticker, key, openLots, syntheticLots, res)
		default:
			// OTHER makes no lot changes; splits arrive as corporate
			// action events
			continue
		}
	}

	washCreated := eng.applyWashSales(transactions, res)
	res.Summary.WashAdjustmentsCreated = washCreated

	subLog.Info().
		Int("TxnsScanned", res.Summary.TxnsScanned).
		Int("LotsCreated", res.Summary.LotsCreated).
		Int("DisposalsCreated", res.Summary.DisposalsCreated).
		Int("WashAdjustmentsCreated", washCreated).
		Int("Warnings", len(res.Summary.Warnings)).
		Msg("replay complete")

	return res
}

func (eng *Engine) taxableAccountIDs() []int64 {
	ids := make([]int64, 0, len(eng.accounts))
	for _, acct := range eng.accounts {
		if acct.Taxable() {
			ids = append(ids, acct.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// replayableTransactions selects lot-affecting transactions in taxable
// accounts, ordered by date then insertion id so replays are stable.
func replayableTransactions(transactions []*ledger.Transaction, taxable map[int64]bool) []*ledger.Transaction {
	txns := make([]*ledger.Transaction, 0, len(transactions))
	for _, trx := range transactions {
		if !taxable[trx.AccountID] {
			continue
		}
		if strings.TrimSpace(trx.Ticker) == "" {
			continue
		}
		switch trx.Kind {
		case ledger.BuyTransaction, ledger.SellTransaction, ledger.TransferTransaction, ledger.OtherTransaction:
			txns = append(txns, trx)
		}
	}
	sort.SliceStable(txns, func(i, j int) bool {
		if txns[i].Date.Equal(txns[j].Date) {
			return txns[i].ID < txns[j].ID
		}
		return txns[i].Date.Before(txns[j].Date)
	})
	return txns
}

func pendingActions(actions []*CorporateAction) []*CorporateAction {
	pending := make([]*CorporateAction, 0, len(actions))
	for _, action := range actions {
		if !action.Applied {
			pending = append(pending, action)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].ActionDate.Equal(pending[j].ActionDate) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].ActionDate.Before(pending[j].ActionDate)
	})
	return pending
}

func (eng *Engine) newLot(trx *ledger.Transaction, ticker string, basis *float64) *TaxLot {
	return &TaxLot{
		ID:               uuid.New(),
		TaxpayerID:       eng.taxpayerID,
		AccountID:        trx.AccountID,
		Ticker:           ticker,
		AcquiredDate:     trx.Date,
		QuantityOpen:     trx.Shares,
		BasisOpen:        basis,
		Source:           Reconstructed,
		SourceTxnID:      trx.ID,
		OriginalQuantity: trx.Shares,
		OriginalBasis:    basis,
	}
}

// applyAction scales matching open-lot quantities by the split factor.
// Basis is unchanged; only share counts move.
func (eng *Engine) applyAction(action *CorporateAction, openLots map[lotKey][]*TaxLot, summary *RebuildSummary) {
	action.Applied = true

	if action.ActionType != Split && action.ActionType != ReverseSplit {
		action.ApplyNotes += " Unsupported action_type; not applied."
		return
	}
	if action.Ratio == nil {
		action.ApplyNotes += " Missing ratio; not applied."
		summary.Warnings = append(summary.Warnings, "Corporate action missing ratio; marked applied but no change made.")
		return
	}

	ratio := *action.Ratio
	if action.ActionType == ReverseSplit {
		if ratio == 0 {
			summary.Warnings = append(summary.Warnings, "Reverse split ratio=0; skipped.")
			action.ApplyNotes = "Invalid ratio"
			return
		}
		ratio = 1.0 / ratio
	}
	if ratio <= 0 {
		summary.Warnings = append(summary.Warnings, "Corporate action split ratio <= 0; skipped.")
		return
	}

	ticker := strings.ToUpper(strings.TrimSpace(action.Ticker))
	touched := 0
	for key, lots := range openLots {
		if ticker != "" && key.ticker != ticker {
			continue
		}
		if action.AccountID != 0 && key.accountID != action.AccountID {
			continue
		}
		for _, lot := range lots {
			if lot.QuantityOpen <= 0 {
				continue
			}
			lot.QuantityOpen *= ratio
			touched++
		}
	}
	action.ApplyNotes = fmt.Sprintf("Applied %s ratio=%v (effective factor %v) to %d open lot(s).", action.ActionType, *action.Ratio, ratio, touched)
}

// consumeFIFO walks open lots oldest-first, emitting one disposal per
// lot consumed. When holdings run out the remainder disposes against
// the synthetic unknown-basis lot for the (account, ticker) pair.
func (eng *Engine) consumeFIFO(trx *ledger.Transaction, ticker string, key lotKey, openLots map[lotKey][]*TaxLot, syntheticLots map[lotKey]*TaxLot, res *Result) {
	proceeds := math.Abs(trx.Amount)
	qty := trx.Shares
	remaining := qty

	lots := openLots[key]
	sort.SliceStable(lots, func(i, j int) bool {
		if lots[i].AcquiredDate.Equal(lots[j].AcquiredDate) {
			return lots[i].SourceTxnID < lots[j].SourceTxnID
		}
		return lots[i].AcquiredDate.Before(lots[j].AcquiredDate)
	})
	openLots[key] = lots

	for remaining > shareEpsilon {
		var lot *TaxLot
		for _, candidate := range lots {
			if candidate.QuantityOpen > shareEpsilon {
				lot = candidate
				break
			}
		}

		if lot == nil {
			// not enough lots; basis unknown for the remainder
			res.Summary.Warnings = append(res.Summary.Warnings,
				fmt.Sprintf("Insufficient lots for SELL txn_id=%d ticker=%s; basis unknown for %v.", trx.ID, ticker, remaining))
			synthetic, ok := syntheticLots[key]
			if !ok {
				synthetic = &TaxLot{
					ID:           uuid.New(),
					TaxpayerID:   eng.taxpayerID,
					AccountID:    trx.AccountID,
					Ticker:       ticker,
					AcquiredDate: trx.Date,
					QuantityOpen: 0,
					BasisOpen:    nil,
					Source:       Reconstructed,
					Synthetic:    true,
				}
				syntheticLots[key] = synthetic
				res.Lots = append(res.Lots, synthetic)
			}
			res.Disposals = append(res.Disposals, &LotDisposal{
				ID:           uuid.New(),
				SellTxnID:    trx.ID,
				LotID:        synthetic.ID,
				QuantitySold: remaining,
				Proceeds:     proceeds * (remaining / qty),
				Term:         TermUnknown,
				AsOf:         trx.Date,
				BasisUnknown: true,
			})
			res.Summary.DisposalsCreated++
			break
		}

		take := math.Min(remaining, lot.QuantityOpen)
		portionProceeds := proceeds * (take / qty)

		disposal := &LotDisposal{
			ID:           uuid.New(),
			SellTxnID:    trx.ID,
			LotID:        lot.ID,
			QuantitySold: take,
			Proceeds:     portionProceeds,
			Term:         TermUnknown,
			AsOf:         trx.Date,
		}
		if lot.BasisOpen != nil && lot.QuantityOpen > shareEpsilon {
			basisPerShare := *lot.BasisOpen / lot.QuantityOpen
			basisAlloc := basisPerShare * take
			disposal.Basis = float64Ptr(basisAlloc)
			disposal.RealizedGain = float64Ptr(portionProceeds - basisAlloc)
			disposal.Term = term(lot.AcquiredDate, trx.Date)
			lot.BasisOpen = float64Ptr(*lot.BasisOpen - basisAlloc)
		} else {
			disposal.BasisUnknown = true
			res.Summary.Warnings = append(res.Summary.Warnings,
				fmt.Sprintf("Basis unknown lot used for SELL txn_id=%d ticker=%s.", trx.ID, ticker))
		}
		lot.QuantityOpen -= take
		res.Disposals = append(res.Disposals, disposal)
		res.Summary.DisposalsCreated++
		remaining -= take
	}
}
