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
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"

	"github.com/wealth-vault/wv-api/database"
	"github.com/wealth-vault/wv-api/ledger"
	"github.com/wealth-vault/wv-api/pgxmockhelper"
	"github.com/wealth-vault/wv-api/taxlot"
)

var _ = Describe("Store", func() {
	var (
		ctx    context.Context
		dbPool pgxmock.PgxConnIface
		store  *taxlot.Store
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)

		store = taxlot.NewStore()
	})

	Describe("Rebuild", func() {
		Context("with a taxable account history", func() {
			BeforeEach(func() {
				pgxmockhelper.MockRebuildBegin(dbPool)
				pgxmockhelper.MockTaxpayer(dbPool, "Jordan Family")
				pgxmockhelper.MockAccounts(dbPool, pgxmock.NewRows(
					[]string{"id", "taxpayer_id", "name", "account_type"}).
					AddRow(int64(1), int64(10), "Brokerage", ledger.Taxable).
					AddRow(int64(2), int64(10), "IRA", ledger.IRA))
				pgxmockhelper.MockTransactions(dbPool, pgxmockhelper.NewCSVRows(
					"testdata/transactions.csv", map[string]string{
						"id":         "int64",
						"account_id": "int64",
						"event_date": "date",
						"shares":     "float64",
						"amount":     "float64",
						"metadata":   "bytes",
					}).Rows())
				pgxmockhelper.MockPendingActions(dbPool, pgxmock.NewRows(
					[]string{"id", "taxpayer_id", "action_type", "ticker", "account_id",
						"ratio", "action_date", "applied", "apply_notes"}))
				pgxmockhelper.MockSubstituteGroups(dbPool, pgxmock.NewRows(
					[]string{"ticker", "substitute_group_id"}))
				pgxmockhelper.MockWipe(dbPool)
				pgxmockhelper.MockInserts(dbPool, 1, 1, 0)
				dbPool.ExpectCommit()
			})

			It("should replay and persist the reconstruction", func() {
				summary, err := store.Rebuild(ctx, 10, taxlot.EngineOptions{})

				Expect(err).To(BeNil())
				Expect(summary.TaxpayerID).To(Equal(int64(10)))
				Expect(summary.AccountsIncluded).To(Equal([]int64{1}))
				Expect(summary.TxnsScanned).To(Equal(2))
				Expect(summary.LotsCreated).To(Equal(1))
				Expect(summary.DisposalsCreated).To(Equal(1))
				Expect(summary.WashAdjustmentsCreated).To(Equal(0))
				Expect(dbPool.ExpectationsWereMet()).To(Succeed())
			})
		})

		Context("with an unknown taxpayer", func() {
			BeforeEach(func() {
				pgxmockhelper.MockRebuildBegin(dbPool)
				pgxmockhelper.MockTaxpayerMissing(dbPool)
				dbPool.ExpectRollback()
			})

			It("should roll back with a not-found error", func() {
				_, err := store.Rebuild(ctx, 99, taxlot.EngineOptions{})

				Expect(err).To(MatchError(taxlot.ErrTaxpayerNotFound))
				Expect(dbPool.ExpectationsWereMet()).To(Succeed())
			})
		})

		Context("with an invalid taxpayer id", func() {
			It("should refuse the transaction", func() {
				_, err := store.Rebuild(ctx, 0, taxlot.EngineOptions{})
				Expect(err).To(MatchError(database.ErrInvalidTaxpayerID))
			})
		})
	})
})
