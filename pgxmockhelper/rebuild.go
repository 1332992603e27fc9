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

// Package pgxmockhelper sets up pgxmock expectations for the database
// conversations the stores hold, and loads mock row sets from CSV
// fixtures.
package pgxmockhelper

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/pashagolub/pgxmock"
	"github.com/rs/zerolog/log"
)

// CSVRows loads a CSV fixture into pgxmock rows. The typeMap converts
// named columns: "date" (2006-01-02), "int64", "float64", "bytes";
// unmapped columns stay strings.
type CSVRows struct {
	rows    [][]any
	header  []string
	dateCol int
}

func NewCSVRows(csvFn string, typeMap map[string]string) *CSVRows {
	subLog := log.With().Str("CsvFn", csvFn).Logger()

	csvRows := &CSVRows{
		dateCol: -1,
		rows:    make([][]any, 0),
	}
	rawData, err := os.ReadFile(csvFn)
	if err != nil {
		subLog.Panic().Err(err).Msg("could not read fixture")
	}

	lines := strings.Split(strings.TrimRight(string(rawData), "\n"), "\n")
	if len(lines) < 2 {
		subLog.Panic().Int("NumLines", len(lines)).Msg("fixture needs a header and at least one row")
	}

	csvRows.header = strings.Split(lines[0], ",")

	for _, line := range lines[1:] {
		cols := make([]any, len(csvRows.header))
		parts := strings.Split(line, ",")
		for idx, val := range parts {
			colName := csvRows.header[idx]
			switch typeMap[colName] {
			case "date":
				parsed, err := time.Parse("2006-01-02", val)
				if err != nil {
					subLog.Panic().Err(err).Str("Val", val).Msg("could not parse date column")
				}
				cols[idx] = parsed
				csvRows.dateCol = idx
			case "int64":
				parsed, err := strconv.ParseInt(val, 10, 64)
				if err != nil {
					subLog.Panic().Err(err).Str("Val", val).Msg("could not parse int64 column")
				}
				cols[idx] = parsed
			case "float64":
				parsed, err := strconv.ParseFloat(val, 64)
				if err != nil {
					subLog.Panic().Err(err).Str("Val", val).Msg("could not parse float64 column")
				}
				cols[idx] = parsed
			case "bytes":
				cols[idx] = []byte(val)
			default:
				cols[idx] = val
			}
		}
		csvRows.rows = append(csvRows.rows, cols)
	}

	return csvRows
}

// Between keeps rows whose date column falls in [a, b].
func (csvRows *CSVRows) Between(a time.Time, b time.Time) *CSVRows {
	if len(csvRows.rows) == 0 {
		return csvRows
	}
	if csvRows.dateCol == -1 {
		log.Panic().Time("a", a).Time("b", b).Msg("no date column in fixture")
	}
	kept := make([][]any, 0, len(csvRows.rows))
	for _, row := range csvRows.rows {
		t := row[csvRows.dateCol].(time.Time)
		if !t.Before(a) && !t.After(b) {
			kept = append(kept, row)
		}
	}
	csvRows.rows = kept
	return csvRows
}

func (csvRows *CSVRows) Rows() *pgxmock.Rows {
	r := pgxmock.NewRows(csvRows.header)
	for _, row := range csvRows.rows {
		r.AddRow(row...)
	}
	return r
}

// MockRebuildBegin expects the locked transaction a lot rebuild opens.
func MockRebuildBegin(db pgxmock.PgxConnIface) {
	db.ExpectBegin()
	db.ExpectExec("SELECT pg_advisory_xact_lock").
		WillReturnResult(pgconn.CommandTag("SELECT 1"))
}

// MockTaxpayer answers the taxpayer existence probe.
func MockTaxpayer(db pgxmock.PgxConnIface, name string) {
	db.ExpectQuery("SELECT name FROM taxpayers").
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow(name))
}

// MockTaxpayerMissing makes the existence probe come back empty.
func MockTaxpayerMissing(db pgxmock.PgxConnIface) {
	db.ExpectQuery("SELECT name FROM taxpayers").WillReturnError(pgx.ErrNoRows)
}

func MockAccounts(db pgxmock.PgxConnIface, rows *pgxmock.Rows) {
	db.ExpectQuery("SELECT id, taxpayer_id, name, account_type FROM accounts").
		WillReturnRows(rows)
}

func MockTransactions(db pgxmock.PgxConnIface, rows *pgxmock.Rows) {
	db.ExpectQuery("FROM transactions t").WillReturnRows(rows)
}

func MockPendingActions(db pgxmock.PgxConnIface, rows *pgxmock.Rows) {
	db.ExpectQuery("FROM corporate_action_events").WillReturnRows(rows)
}

func MockSubstituteGroups(db pgxmock.PgxConnIface, rows *pgxmock.Rows) {
	db.ExpectQuery("SELECT ticker, substitute_group_id FROM securities").
		WillReturnRows(rows)
}

// MockWipe expects the three deletes that clear a prior reconstruction.
func MockWipe(db pgxmock.PgxConnIface) {
	db.ExpectExec("DELETE FROM wash_sale_adjustments").
		WillReturnResult(pgconn.CommandTag("DELETE 0"))
	db.ExpectExec("DELETE FROM lot_disposals").
		WillReturnResult(pgconn.CommandTag("DELETE 0"))
	db.ExpectExec("DELETE FROM tax_lots").
		WillReturnResult(pgconn.CommandTag("DELETE 0"))
}

// MockInserts expects the given number of lot, disposal and adjustment
// inserts, in store order.
func MockInserts(db pgxmock.PgxConnIface, lots int, disposals int, adjustments int) {
	for ii := 0; ii < lots; ii++ {
		db.ExpectExec("INSERT INTO tax_lots").
			WillReturnResult(pgconn.CommandTag("INSERT 0 1"))
	}
	for ii := 0; ii < disposals; ii++ {
		db.ExpectExec("INSERT INTO lot_disposals").
			WillReturnResult(pgconn.CommandTag("INSERT 0 1"))
	}
	for ii := 0; ii < adjustments; ii++ {
		db.ExpectExec("INSERT INTO wash_sale_adjustments").
			WillReturnResult(pgconn.CommandTag("INSERT 0 1"))
	}
}
