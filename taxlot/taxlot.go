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
	"errors"
	"time"

	"github.com/google/uuid"
)

// capital gains terms
const (
	LongTerm  = "LT"
	ShortTerm = "ST"
	// TermUnknown marks disposals whose holding period cannot be
	// established because the lot has no known basis.
	TermUnknown = "UNKNOWN"
)

// lot provenance
const (
	Reconstructed = "RECONSTRUCTED"
)

// corporate action types
const (
	Split        = "SPLIT"
	ReverseSplit = "REVERSE_SPLIT"
)

// wash sale adjustment status
const (
	WashApplied = "APPLIED"
	WashFlagged = "FLAGGED"
)

const (
	// shareEpsilon guards share arithmetic against float residue.
	shareEpsilon = 1e-9
	// lossGate: sales with total realized gain above this are not
	// losses for wash-sale purposes.
	lossGate = -0.01
	// washWindowDays on each side of the loss sale.
	washWindowDays = 30
	// longTermDays is the minimum holding period for LT treatment.
	longTermDays = 365
)

var (
	ErrTaxpayerNotFound = errors.New("taxpayer entity not found")
	ErrRebuildFailed    = errors.New("lot rebuild failed")
)

// TaxLot is a reconstructed planning-grade tax lot. BasisOpen is nil
// when the basis could not be established (transfer-in without basis,
// synthetic shortfall lots).
type TaxLot struct {
	ID           uuid.UUID `json:"id"`
	TaxpayerID   int64     `json:"taxpayer_id"`
	AccountID    int64     `json:"account_id"`
	Ticker       string    `json:"ticker"`
	AcquiredDate time.Time `json:"acquired_date"`
	QuantityOpen float64   `json:"quantity_open"`
	BasisOpen    *float64  `json:"basis_open,omitempty"`
	Source       string    `json:"source"`
	SourceTxnID  int64     `json:"source_txn_id"` // 0 for synthetic lots

	// Synthetic marks the per (account, ticker) unknown-basis lot
	// that absorbs sales exceeding reconstructed holdings.
	Synthetic bool `json:"synthetic"`

	OriginalQuantity float64  `json:"original_quantity"`
	OriginalBasis    *float64 `json:"original_basis,omitempty"`
}

// BasisUnknown reports whether the lot carries no usable basis.
func (lot *TaxLot) BasisUnknown() bool {
	return lot.BasisOpen == nil
}

// LotDisposal links a portion of a sale to the lot it consumed. Basis
// and RealizedGain are nil when the consumed lot had no known basis.
type LotDisposal struct {
	ID           uuid.UUID
	SellTxnID    int64
	LotID        uuid.UUID
	QuantitySold float64
	Proceeds     float64
	Basis        *float64
	RealizedGain *float64
	Term         string
	AsOf         time.Time
	BasisUnknown bool
}

// WashSaleAdjustment records a deferred loss allocation from a loss
// sale to a replacement buy. FLAGGED adjustments carry the deferral
// amount for reporting but make no basis change.
type WashSaleAdjustment struct {
	ID                uuid.UUID
	LossSaleTxnID     int64
	ReplacementTxnID  int64
	ReplacementLotID  *uuid.UUID
	ReplacementShares float64
	DeferredLoss      float64
	BasisIncrease     float64
	WindowStart       time.Time
	WindowEnd         time.Time
	Status            string
	IRAReplacement    bool
	MissingLot        bool
}

// CorporateAction is an operator-entered split event. Ticker == ""
// applies to every ticker; AccountID == 0 applies to every account.
type CorporateAction struct {
	ID         int64
	TaxpayerID int64
	ActionType string
	Ticker     string
	AccountID  int64
	Ratio      *float64
	ActionDate time.Time
	Applied    bool
	ApplyNotes string
}

// RebuildSummary describes a completed rebuild.
type RebuildSummary struct {
	TaxpayerID             int64    `json:"taxpayer_id"`
	AccountsIncluded       []int64  `json:"accounts_included"`
	TxnsScanned            int      `json:"txns_scanned"`
	LotsCreated            int      `json:"lots_created"`
	DisposalsCreated       int      `json:"disposals_created"`
	WashAdjustmentsCreated int      `json:"wash_adjustments_created"`
	Warnings               []string `json:"warnings"`
}

// Result is the full in-memory output of a replay; the store persists
// it atomically.
type Result struct {
	Lots            []*TaxLot
	Disposals       []*LotDisposal
	WashAdjustments []*WashSaleAdjustment
	Actions         []*CorporateAction
	Summary         *RebuildSummary
}

func term(acquired time.Time, sold time.Time) string {
	if int(sold.Sub(acquired).Hours()/24) >= longTermDays {
		return LongTerm
	}
	return ShortTerm
}

func float64Ptr(v float64) *float64 {
	return &v
}
