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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"
)

// transaction kinds as normalized from brokerage activity feeds
const (
	BuyTransaction         = "BUY"
	SellTransaction        = "SELL"
	TransferTransaction    = "TRANSFER"
	DividendTransaction    = "DIVIDEND"
	InterestTransaction    = "INTEREST"
	FeeTransaction         = "FEE"
	WithholdingTransaction = "WITHHOLDING"
	SplitTransaction       = "SPLIT"
	OtherTransaction       = "OTHER"
)

// account types
const (
	Taxable     = "TAXABLE"
	IRA         = "IRA"
	Roth        = "ROTH"
	TaxDeferred = "DEFERRED"
)

// taxpayer entity types
const (
	Personal = "PERSONAL"
	Trust    = "TRUST"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrTaxpayerNotFound   = errors.New("taxpayer entity not found")
	ErrGenerateHash       = errors.New("could not create a hash")
	ErrSourceIDIncomplete = errors.New("provider account or transaction id missing")
)

// Taxpayer is the tax-reporting entity that owns one or more accounts.
// Lot reconstruction and wash-sale matching operate per taxpayer, never
// per account.
type Taxpayer struct {
	ID   int64
	Name string
	Type string
}

// Account is a single brokerage account tied to a taxpayer entity.
type Account struct {
	ID         int64
	TaxpayerID int64
	Name       string
	Type       string
}

// Taxable returns true when the account participates in capital gains
// reporting. Tax-advantaged accounts never produce lots or disposals.
func (acct *Account) Taxable() bool {
	return strings.ToUpper(acct.Type) == Taxable
}

// TaxAdvantaged returns true for IRA / Roth / deferred accounts.
func (acct *Account) TaxAdvantaged() bool {
	switch strings.ToUpper(acct.Type) {
	case IRA, Roth, TaxDeferred:
		return true
	}
	return false
}

// TransactionMetadata carries the raw provider fields that survive
// normalization. BasisTotal is only present for transfers that arrived
// with cost basis attached.
type TransactionMetadata struct {
	Description       string   `json:"description,omitempty"`
	AdditionalDetail  string   `json:"additional_detail,omitempty"`
	RawType           string   `json:"raw_type,omitempty"`
	ProviderAccountID string   `json:"provider_account_id,omitempty"`
	ProviderTxnID     string   `json:"provider_txn_id,omitempty"`
	BasisTotal        *float64 `json:"basis_total,omitempty"`
}

// Transaction is a normalized ledger row. Amount is from the portfolio's
// perspective: positive for cash in, negative for cash out. Shares <= 0
// means the provider did not report a quantity.
type Transaction struct {
	ID        int64
	AccountID int64
	Date      time.Time
	Kind      string
	Ticker    string
	Shares    float64
	Amount    float64
	Metadata  TransactionMetadata
}

// FullDescription joins the provider description with any additional
// detail field; pattern matching for internal mechanics runs against it.
func (trx *Transaction) FullDescription() string {
	if trx.Metadata.AdditionalDetail == "" {
		return trx.Metadata.Description
	}
	if trx.Metadata.Description == "" {
		return trx.Metadata.AdditionalDetail
	}
	return trx.Metadata.Description + " " + trx.Metadata.AdditionalDetail
}

// SourceID computes a stable dedupe key from the provider account and
// transaction identifiers. Transactions sharing a SourceID are the same
// provider row imported more than once.
func (trx *Transaction) SourceID() (string, error) {
	if trx.Metadata.ProviderAccountID == "" || trx.Metadata.ProviderTxnID == "" {
		return "", ErrSourceIDIncomplete
	}
	h := blake3.New()
	if _, err := h.WriteString(fmt.Sprintf("%s|%s", trx.Metadata.ProviderAccountID, trx.Metadata.ProviderTxnID)); err != nil {
		log.Error().Err(err).Msg("error writing provider ids to blake3 hash")
		return "", ErrGenerateHash
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
