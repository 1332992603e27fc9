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

package ledger_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wealth-vault/wv-api/ledger"
)

func day(year int, month time.Month, dayOfMonth int) time.Time {
	return time.Date(year, month, dayOfMonth, 0, 0, 0, 0, time.UTC)
}

func transfer(id int64, date time.Time, amount float64, description string) *ledger.Transaction {
	return &ledger.Transaction{
		ID:        id,
		AccountID: 1,
		Date:      date,
		Kind:      ledger.TransferTransaction,
		Amount:    amount,
		Metadata: ledger.TransactionMetadata{
			Description: description,
		},
	}
}

var _ = Describe("Classify", func() {
	var opts ledger.ClassifierOptions

	BeforeEach(func() {
		opts = ledger.ClassifierOptions{}
	})

	Context("with a deposit and a withdrawal", func() {
		It("should total contributions and withdrawals separately", func() {
			cf := ledger.Classify([]*ledger.Transaction{
				transfer(1, day(2025, 1, 5), 1000, "ACH DEPOSIT"),
				transfer(2, day(2025, 2, 10), -250, "ACH WITHDRAWAL"),
			}, opts)

			Expect(cf.Flows).To(HaveLen(2))
			Expect(cf.Contributions).To(BeNumerically("~", 1000))
			Expect(cf.Withdrawals).To(BeNumerically("~", 250))
			Expect(cf.NetFlow).To(BeNumerically("~", 750))
		})
	})

	Context("with an offsetting same-day pair", func() {
		It("should drop both legs", func() {
			cf := ledger.Classify([]*ledger.Transaction{
				transfer(1, day(2025, 3, 3), 100, "JOURNAL"),
				transfer(2, day(2025, 3, 3), -100, "JOURNAL"),
			}, opts)

			Expect(cf.Flows).To(BeEmpty())
			Expect(cf.NetFlow).To(BeNumerically("~", 0))
		})

		It("should keep the unmatched residual", func() {
			cf := ledger.Classify([]*ledger.Transaction{
				transfer(1, day(2025, 3, 3), 100, "JOURNAL"),
				transfer(2, day(2025, 3, 3), -100, "JOURNAL"),
				transfer(3, day(2025, 3, 3), -25, "JOURNAL"),
			}, opts)

			Expect(cf.Flows).To(HaveLen(1))
			Expect(cf.Flows[0].Amount).To(BeNumerically("~", -25))
			Expect(cf.Withdrawals).To(BeNumerically("~", 25))
		})

		It("should not pair flows on different days", func() {
			cf := ledger.Classify([]*ledger.Transaction{
				transfer(1, day(2025, 3, 3), 100, "JOURNAL"),
				transfer(2, day(2025, 3, 4), -100, "JOURNAL"),
			}, opts)

			Expect(cf.Flows).To(HaveLen(2))
		})
	})

	Context("with broker-internal cash mechanics", func() {
		It("should drop deposit sweeps", func() {
			cf := ledger.Classify([]*ledger.Transaction{
				transfer(1, day(2025, 4, 1), 500, "CASH DEPOSIT SWEEP"),
			}, opts)
			Expect(cf.Flows).To(BeEmpty())
		})

		It("should drop sister-account shuffles", func() {
			cf := ledger.Classify([]*ledger.Transaction{
				transfer(1, day(2025, 4, 1), 500, "REC FR SIS ACCT"),
				transfer(2, day(2025, 4, 2), -500, "TRSF TO SIS ACCT"),
			}, opts)
			Expect(cf.Flows).To(BeEmpty())
		})

		It("should drop multi-currency settlement shuttles", func() {
			trx := transfer(1, day(2025, 4, 1), 120, "MULTI CURRENCY SETTLEMENT")
			trx.Metadata.RawType = "UNKNOWN"
			cf := ledger.Classify([]*ledger.Transaction{trx}, opts)
			Expect(cf.Flows).To(BeEmpty())
		})

		It("should keep real deposits", func() {
			cf := ledger.Classify([]*ledger.Transaction{
				transfer(1, day(2025, 4, 1), 500, "WIRE FROM CHECKING"),
			}, opts)
			Expect(cf.Flows).To(HaveLen(1))
		})
	})

	Context("with duplicate provider rows", func() {
		It("should count the transfer once", func() {
			a := transfer(1, day(2025, 5, 1), 300, "ACH DEPOSIT")
			a.Metadata.ProviderAccountID = "ext-1"
			a.Metadata.ProviderTxnID = "txn-99"
			b := transfer(2, day(2025, 5, 1), 300, "ACH DEPOSIT")
			b.Metadata.ProviderAccountID = "ext-1"
			b.Metadata.ProviderTxnID = "txn-99"

			cf := ledger.Classify([]*ledger.Transaction{a, b}, opts)
			Expect(cf.Flows).To(HaveLen(1))
			Expect(cf.Contributions).To(BeNumerically("~", 300))
		})
	})

	Context("with drag transactions", func() {
		It("should accumulate negative fees as drag", func() {
			cf := ledger.Classify([]*ledger.Transaction{
				{ID: 1, AccountID: 1, Date: day(2025, 6, 1), Kind: ledger.FeeTransaction, Amount: -9.95},
				{ID: 2, AccountID: 1, Date: day(2025, 6, 2), Kind: ledger.FeeTransaction, Amount: 5.00},
			}, opts)

			Expect(cf.Fees).To(BeNumerically("~", 9.95))
			Expect(cf.Flows).To(BeEmpty())
		})

		It("should accumulate withholding by absolute value", func() {
			cf := ledger.Classify([]*ledger.Transaction{
				{ID: 1, AccountID: 1, Date: day(2025, 6, 1), Kind: ledger.WithholdingTransaction, Amount: -15},
			}, opts)

			Expect(cf.Withholding).To(BeNumerically("~", 15))
			Expect(cf.Flows).To(BeEmpty())
		})

		It("should treat withholding as a flow when requested", func() {
			opts.IncludeWithholdingAsFlow = true
			cf := ledger.Classify([]*ledger.Transaction{
				{ID: 1, AccountID: 1, Date: day(2025, 6, 1), Kind: ledger.WithholdingTransaction, Amount: -15},
			}, opts)

			Expect(cf.Withholding).To(BeNumerically("~", 15))
			Expect(cf.Flows).To(HaveLen(1))
			Expect(cf.Flows[0].Amount).To(BeNumerically("~", -15))
		})

		It("should count negative non-internal OTHER as cash out", func() {
			internal := &ledger.Transaction{
				ID: 2, AccountID: 1, Date: day(2025, 6, 3), Kind: ledger.OtherTransaction, Amount: -40,
				Metadata: ledger.TransactionMetadata{Description: "INTERNAL TRANSFER ADJ"},
			}
			cf := ledger.Classify([]*ledger.Transaction{
				{ID: 1, AccountID: 1, Date: day(2025, 6, 2), Kind: ledger.OtherTransaction, Amount: -30},
				internal,
				{ID: 3, AccountID: 1, Date: day(2025, 6, 4), Kind: ledger.OtherTransaction, Amount: 20},
			}, opts)

			Expect(cf.OtherCashOut).To(BeNumerically("~", 30))
		})

		It("should total cash out across categories", func() {
			cf := ledger.Classify([]*ledger.Transaction{
				transfer(1, day(2025, 6, 1), -100, "ACH WITHDRAWAL"),
				{ID: 2, AccountID: 1, Date: day(2025, 6, 1), Kind: ledger.FeeTransaction, Amount: -10},
				{ID: 3, AccountID: 1, Date: day(2025, 6, 1), Kind: ledger.WithholdingTransaction, Amount: -5},
			}, opts)

			Expect(cf.TotalCashOut()).To(BeNumerically("~", 115))
		})
	})

	Context("with flows out of order", func() {
		It("should sort flows by date", func() {
			cf := ledger.Classify([]*ledger.Transaction{
				transfer(1, day(2025, 7, 20), -50, "ACH WITHDRAWAL"),
				transfer(2, day(2025, 7, 1), 200, "ACH DEPOSIT"),
			}, opts)

			Expect(cf.Flows).To(HaveLen(2))
			Expect(cf.Flows[0].Date).To(Equal(day(2025, 7, 1)))
			Expect(cf.Flows[1].Date).To(Equal(day(2025, 7, 20)))
		})
	})
})

var _ = Describe("Transaction", func() {
	Describe("SourceID", func() {
		It("should error when provider ids are missing", func() {
			trx := &ledger.Transaction{}
			_, err := trx.SourceID()
			Expect(err).To(MatchError(ledger.ErrSourceIDIncomplete))
		})

		It("should be stable for the same provider row", func() {
			a := &ledger.Transaction{Metadata: ledger.TransactionMetadata{ProviderAccountID: "x", ProviderTxnID: "1"}}
			b := &ledger.Transaction{Metadata: ledger.TransactionMetadata{ProviderAccountID: "x", ProviderTxnID: "1"}}
			idA, err := a.SourceID()
			Expect(err).To(BeNil())
			idB, err := b.SourceID()
			Expect(err).To(BeNil())
			Expect(idA).To(Equal(idB))
		})

		It("should differ across provider rows", func() {
			a := &ledger.Transaction{Metadata: ledger.TransactionMetadata{ProviderAccountID: "x", ProviderTxnID: "1"}}
			b := &ledger.Transaction{Metadata: ledger.TransactionMetadata{ProviderAccountID: "x", ProviderTxnID: "2"}}
			idA, _ := a.SourceID()
			idB, _ := b.SourceID()
			Expect(idA).ToNot(Equal(idB))
		})
	})

	Describe("FullDescription", func() {
		It("should join description and additional detail", func() {
			trx := &ledger.Transaction{Metadata: ledger.TransactionMetadata{Description: "WIRE", AdditionalDetail: "FROM CHECKING"}}
			Expect(trx.FullDescription()).To(Equal("WIRE FROM CHECKING"))
		})
	})
})

var _ = Describe("Account", func() {
	It("should classify taxable accounts", func() {
		acct := &ledger.Account{Type: ledger.Taxable}
		Expect(acct.Taxable()).To(BeTrue())
		Expect(acct.TaxAdvantaged()).To(BeFalse())
	})

	It("should classify tax-advantaged accounts", func() {
		for _, kind := range []string{ledger.IRA, ledger.Roth, ledger.TaxDeferred} {
			acct := &ledger.Account{Type: kind}
			Expect(acct.Taxable()).To(BeFalse())
			Expect(acct.TaxAdvantaged()).To(BeTrue())
		}
	})
})
