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

package taxlot_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wealth-vault/wv-api/ledger"
	"github.com/wealth-vault/wv-api/taxlot"
)

func day(year int, month time.Month, dayOfMonth int) time.Time {
	return time.Date(year, month, dayOfMonth, 0, 0, 0, 0, time.UTC)
}

func buy(id int64, acct int64, date time.Time, ticker string, shares float64, amount float64) *ledger.Transaction {
	return &ledger.Transaction{
		ID:        id,
		AccountID: acct,
		Date:      date,
		Kind:      ledger.BuyTransaction,
		Ticker:    ticker,
		Shares:    shares,
		Amount:    amount,
	}
}

func sell(id int64, acct int64, date time.Time, ticker string, shares float64, amount float64) *ledger.Transaction {
	return &ledger.Transaction{
		ID:        id,
		AccountID: acct,
		Date:      date,
		Kind:      ledger.SellTransaction,
		Ticker:    ticker,
		Shares:    shares,
		Amount:    amount,
	}
}

func ratioPtr(v float64) *float64 {
	return &v
}

var _ = Describe("Engine replay", func() {
	var (
		accounts []*ledger.Account
		eng      *taxlot.Engine
	)

	BeforeEach(func() {
		accounts = []*ledger.Account{
			{ID: 1, TaxpayerID: 10, Name: "Brokerage", Type: ledger.Taxable},
			{ID: 2, TaxpayerID: 10, Name: "IRA", Type: ledger.IRA},
		}
		eng = taxlot.NewEngine(10, accounts, taxlot.EngineOptions{})
	})

	Context("with FIFO consumption across two lots", func() {
		It("should allocate basis oldest lot first", func() {
			res := eng.Replay([]*ledger.Transaction{
				buy(1, 1, day(2023, 1, 10), "VOO", 10, -100),
				buy(2, 1, day(2024, 3, 10), "VOO", 10, -200),
				sell(3, 1, day(2024, 6, 1), "VOO", 15, 450),
			}, nil)

			Expect(res.Summary.LotsCreated).To(Equal(2))
			Expect(res.Disposals).To(HaveLen(2))

			first := res.Disposals[0]
			Expect(first.QuantitySold).To(BeNumerically("~", 10))
			Expect(first.Proceeds).To(BeNumerically("~", 300))
			Expect(*first.Basis).To(BeNumerically("~", 100))
			Expect(*first.RealizedGain).To(BeNumerically("~", 200))
			Expect(first.Term).To(Equal(taxlot.LongTerm))

			second := res.Disposals[1]
			Expect(second.QuantitySold).To(BeNumerically("~", 5))
			Expect(second.Proceeds).To(BeNumerically("~", 150))
			Expect(*second.Basis).To(BeNumerically("~", 100))
			Expect(*second.RealizedGain).To(BeNumerically("~", 50))
			Expect(second.Term).To(Equal(taxlot.ShortTerm))
		})

		It("should leave the residual quantity open on the newer lot", func() {
			res := eng.Replay([]*ledger.Transaction{
				buy(1, 1, day(2023, 1, 10), "VOO", 10, -100),
				buy(2, 1, day(2024, 3, 10), "VOO", 10, -200),
				sell(3, 1, day(2024, 6, 1), "VOO", 15, 450),
			}, nil)

			var newer *taxlot.TaxLot
			for _, lot := range res.Lots {
				if lot.SourceTxnID == 2 {
					newer = lot
				}
			}
			Expect(newer).ToNot(BeNil())
			Expect(newer.QuantityOpen).To(BeNumerically("~", 5))
			Expect(*newer.BasisOpen).To(BeNumerically("~", 100))
		})
	})

	Context("with a sale exceeding reconstructed holdings", func() {
		It("should dispose the remainder against a synthetic lot", func() {
			res := eng.Replay([]*ledger.Transaction{
				buy(1, 1, day(2024, 1, 5), "AAPL", 10, -1000),
				sell(2, 1, day(2024, 8, 5), "AAPL", 25, 5000),
			}, nil)

			Expect(res.Summary.Warnings).To(ContainElement(
				"Insufficient lots for SELL txn_id=2 ticker=AAPL; basis unknown for 15."))

			Expect(res.Disposals).To(HaveLen(2))
			shortfall := res.Disposals[1]
			Expect(shortfall.BasisUnknown).To(BeTrue())
			Expect(shortfall.Basis).To(BeNil())
			Expect(shortfall.Term).To(Equal(taxlot.TermUnknown))
			Expect(shortfall.QuantitySold).To(BeNumerically("~", 15))
			Expect(shortfall.Proceeds).To(BeNumerically("~", 3000))
		})

		It("should reuse one synthetic lot per account and ticker", func() {
			res := eng.Replay([]*ledger.Transaction{
				sell(1, 1, day(2024, 2, 1), "AAPL", 5, 500),
				sell(2, 1, day(2024, 3, 1), "AAPL", 5, 600),
			}, nil)

			synthetics := 0
			for _, lot := range res.Lots {
				if lot.Synthetic {
					synthetics++
				}
			}
			Expect(synthetics).To(Equal(1))
			Expect(res.Disposals).To(HaveLen(2))
			Expect(res.Disposals[0].LotID).To(Equal(res.Disposals[1].LotID))
		})
	})

	Context("with transfer-in lots", func() {
		It("should use the attached basis when present", func() {
			basis := 750.0
			trx := &ledger.Transaction{
				ID: 1, AccountID: 1, Date: day(2024, 1, 2), Kind: ledger.TransferTransaction,
				Ticker: "MSFT", Shares: 5,
				Metadata: ledger.TransactionMetadata{BasisTotal: &basis},
			}
			res := eng.Replay([]*ledger.Transaction{trx}, nil)

			Expect(res.Lots).To(HaveLen(1))
			Expect(*res.Lots[0].BasisOpen).To(BeNumerically("~", 750))
		})

		It("should leave basis unknown when no basis arrives", func() {
			trx := &ledger.Transaction{
				ID: 1, AccountID: 1, Date: day(2024, 1, 2), Kind: ledger.TransferTransaction,
				Ticker: "MSFT", Shares: 5,
			}
			res := eng.Replay([]*ledger.Transaction{
				trx,
				sell(2, 1, day(2024, 5, 1), "MSFT", 5, 900),
			}, nil)

			Expect(res.Lots[0].BasisUnknown()).To(BeTrue())
			Expect(res.Disposals).To(HaveLen(1))
			Expect(res.Disposals[0].BasisUnknown).To(BeTrue())
			Expect(res.Summary.Warnings).To(ContainElement(
				"Basis unknown lot used for SELL txn_id=2 ticker=MSFT."))
		})
	})

	Context("with corporate actions", func() {
		It("should scale open quantities by the split factor before later sales", func() {
			actions := []*taxlot.CorporateAction{
				{ID: 1, TaxpayerID: 10, ActionType: taxlot.Split, Ticker: "NVDA", Ratio: ratioPtr(2), ActionDate: day(2024, 2, 1)},
			}
			res := eng.Replay([]*ledger.Transaction{
				buy(1, 1, day(2024, 1, 1), "NVDA", 10, -100),
				sell(2, 1, day(2024, 3, 1), "NVDA", 20, 400),
			}, actions)

			Expect(res.Disposals).To(HaveLen(1))
			Expect(res.Disposals[0].QuantitySold).To(BeNumerically("~", 20))
			Expect(*res.Disposals[0].Basis).To(BeNumerically("~", 100))
			Expect(*res.Disposals[0].RealizedGain).To(BeNumerically("~", 300))
			Expect(res.Actions[0].Applied).To(BeTrue())
		})

		It("should invert the ratio for reverse splits", func() {
			actions := []*taxlot.CorporateAction{
				{ID: 1, TaxpayerID: 10, ActionType: taxlot.ReverseSplit, Ticker: "SIRI", Ratio: ratioPtr(10), ActionDate: day(2024, 2, 1)},
			}
			res := eng.Replay([]*ledger.Transaction{
				buy(1, 1, day(2024, 1, 1), "SIRI", 100, -500),
				sell(2, 1, day(2024, 3, 1), "SIRI", 10, 600),
			}, actions)

			Expect(res.Disposals).To(HaveLen(1))
			Expect(*res.Disposals[0].Basis).To(BeNumerically("~", 500))
			Expect(res.Summary.Warnings).To(BeEmpty())
		})

		It("should skip a reverse split with ratio zero", func() {
			actions := []*taxlot.CorporateAction{
				{ID: 1, TaxpayerID: 10, ActionType: taxlot.ReverseSplit, Ticker: "SIRI", Ratio: ratioPtr(0), ActionDate: day(2024, 2, 1)},
			}
			res := eng.Replay([]*ledger.Transaction{
				buy(1, 1, day(2024, 1, 1), "SIRI", 100, -500),
			}, actions)

			Expect(res.Summary.Warnings).To(ContainElement("Reverse split ratio=0; skipped."))
		})

		It("should warn on a missing ratio but mark the action applied", func() {
			actions := []*taxlot.CorporateAction{
				{ID: 1, TaxpayerID: 10, ActionType: taxlot.Split, Ticker: "SIRI", ActionDate: day(2024, 2, 1)},
			}
			res := eng.Replay([]*ledger.Transaction{
				buy(1, 1, day(2024, 1, 1), "SIRI", 100, -500),
				sell(2, 1, day(2024, 3, 1), "SIRI", 100, 600),
			}, actions)

			Expect(res.Summary.Warnings).To(ContainElement(
				"Corporate action missing ratio; marked applied but no change made."))
			Expect(res.Actions[0].Applied).To(BeTrue())
		})

		It("should ignore already-applied actions", func() {
			actions := []*taxlot.CorporateAction{
				{ID: 1, TaxpayerID: 10, ActionType: taxlot.Split, Ticker: "NVDA", Ratio: ratioPtr(2), ActionDate: day(2024, 2, 1), Applied: true},
			}
			res := eng.Replay([]*ledger.Transaction{
				buy(1, 1, day(2024, 1, 1), "NVDA", 10, -100),
				sell(2, 1, day(2024, 3, 1), "NVDA", 10, 400),
			}, actions)

			Expect(res.Actions).To(BeEmpty())
			Expect(res.Disposals[0].QuantitySold).To(BeNumerically("~", 10))
		})
	})

	Context("with account scoping", func() {
		It("should ignore transactions in tax-advantaged accounts", func() {
			res := eng.Replay([]*ledger.Transaction{
				buy(1, 2, day(2024, 1, 1), "VOO", 10, -100),
			}, nil)

			Expect(res.Lots).To(BeEmpty())
			Expect(res.Summary.TxnsScanned).To(Equal(0))
			Expect(res.Summary.AccountsIncluded).To(Equal([]int64{1}))
		})

		It("should warn when the taxpayer has no taxable accounts", func() {
			iraOnly := taxlot.NewEngine(10, []*ledger.Account{
				{ID: 2, TaxpayerID: 10, Name: "IRA", Type: ledger.IRA},
			}, taxlot.EngineOptions{})

			res := iraOnly.Replay([]*ledger.Transaction{
				buy(1, 2, day(2024, 1, 1), "VOO", 10, -100),
			}, nil)

			Expect(res.Summary.Warnings).To(ContainElement("No taxable accounts for taxpayer; no lots built."))
			Expect(res.Lots).To(BeEmpty())
		})
	})

	Context("with out-of-order input", func() {
		It("should produce the same result regardless of input order", func() {
			txns := []*ledger.Transaction{
				sell(3, 1, day(2024, 6, 1), "VOO", 15, 450),
				buy(2, 1, day(2024, 3, 10), "VOO", 10, -200),
				buy(1, 1, day(2023, 1, 10), "VOO", 10, -100),
			}
			res := eng.Replay(txns, nil)

			Expect(res.Disposals).To(HaveLen(2))
			Expect(*res.Disposals[0].RealizedGain).To(BeNumerically("~", 200))
			Expect(*res.Disposals[1].RealizedGain).To(BeNumerically("~", 50))
		})
	})
})
