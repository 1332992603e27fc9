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
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/wealth-vault/wv-api/database"
	"github.com/wealth-vault/wv-api/ledger"
	"github.com/wealth-vault/wv-api/observability/opentelemetry"
	"github.com/wealth-vault/wv-api/valuation"
)

// PgSource backs the report Builder with the shared database pool. It
// implements PortfolioSource, SnapshotSource and TransactionSource.
type PgSource struct{}

func NewPgSource() *PgSource {
	return &PgSource{}
}

func pgRollback(ctx context.Context, trx pgx.Tx, subLog zerolog.Logger) {
	if err := trx.Rollback(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
	}
}

func (src *PgSource) Portfolios(ctx context.Context) ([]*Portfolio, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "perf.Portfolios")
	defer span.End()

	subLog := log.With().Str("Source", "perf.pg").Logger()

	trx, err := database.Trx(ctx)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	sql := `SELECT p.id, p.name, t.name, t.taxpayer_type
		FROM portfolios p
		JOIN taxpayers t ON t.id = p.taxpayer_id
		WHERE p.active = 't'
		ORDER BY p.name ASC, p.id ASC`
	rows, err := trx.Query(ctx, sql)
	if err != nil {
		subLog.Warn().Stack().Err(err).Str("Query", sql).Msg("could not query portfolios")
		pgRollback(ctx, trx, subLog)
		return nil, err
	}

	portfolios := make([]*Portfolio, 0, 16)
	for rows.Next() {
		p := &Portfolio{}
		if err := rows.Scan(&p.ID, &p.Name, &p.TaxpayerName, &p.TaxpayerType); err != nil {
			subLog.Warn().Stack().Err(err).Msg("could not scan portfolio row")
			pgRollback(ctx, trx, subLog)
			return nil, err
		}
		portfolios = append(portfolios, p)
	}
	if err := rows.Err(); err != nil {
		pgRollback(ctx, trx, subLog)
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not commit transaction")
		return nil, err
	}
	return portfolios, nil
}

func (src *PgSource) Snapshots(ctx context.Context, begin time.Time, end time.Time) ([]*valuation.Snapshot, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "perf.Snapshots")
	defer span.End()

	subLog := log.With().Str("Source", "perf.pg").Logger()

	trx, err := database.Trx(ctx)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	sql := `SELECT s.id, s.portfolio_id, s.as_of,
			i.account_id, COALESCE(i.symbol, ''), i.market_value, i.is_total
		FROM holdings_snapshots s
		JOIN holdings_snapshot_items i ON i.snapshot_id = s.id
		WHERE s.as_of >= $1 AND s.as_of < $2
		ORDER BY s.as_of ASC, s.id ASC`
	rows, err := trx.Query(ctx, sql, begin, end.AddDate(0, 0, 1))
	if err != nil {
		subLog.Warn().Stack().Err(err).Str("Query", sql).Msg("could not query holdings snapshots")
		pgRollback(ctx, trx, subLog)
		return nil, err
	}

	snapshots := make([]*valuation.Snapshot, 0, 64)
	byID := make(map[int64]*valuation.Snapshot)
	for rows.Next() {
		var snapID, portfolioID int64
		var asOf time.Time
		item := valuation.SnapshotItem{}
		if err := rows.Scan(&snapID, &portfolioID, &asOf, &item.AccountID, &item.Symbol, &item.MarketValue, &item.IsTotal); err != nil {
			subLog.Warn().Stack().Err(err).Msg("could not scan snapshot row")
			pgRollback(ctx, trx, subLog)
			return nil, err
		}
		snap, ok := byID[snapID]
		if !ok {
			snap = &valuation.Snapshot{ID: snapID, PortfolioID: portfolioID, AsOf: asOf}
			byID[snapID] = snap
			snapshots = append(snapshots, snap)
		}
		snap.Items = append(snap.Items, item)
	}
	if err := rows.Err(); err != nil {
		pgRollback(ctx, trx, subLog)
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not commit transaction")
		return nil, err
	}
	return snapshots, nil
}

func (src *PgSource) CashBalances(ctx context.Context, end time.Time) (map[int64][]valuation.Point, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "perf.CashBalances")
	defer span.End()

	subLog := log.With().Str("Source", "perf.pg").Logger()

	trx, err := database.Trx(ctx)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	sql := `SELECT account_id, as_of, balance
		FROM cash_balances
		WHERE as_of <= $1
		ORDER BY account_id ASC, as_of ASC`
	rows, err := trx.Query(ctx, sql, end)
	if err != nil {
		subLog.Warn().Stack().Err(err).Str("Query", sql).Msg("could not query cash balances")
		pgRollback(ctx, trx, subLog)
		return nil, err
	}

	out := make(map[int64][]valuation.Point)
	for rows.Next() {
		var accountID int64
		var asOf time.Time
		var balance float64
		if err := rows.Scan(&accountID, &asOf, &balance); err != nil {
			subLog.Warn().Stack().Err(err).Msg("could not scan cash balance row")
			pgRollback(ctx, trx, subLog)
			return nil, err
		}
		out[accountID] = append(out[accountID], valuation.Point{Date: valuation.Day(asOf), Value: balance})
	}
	if err := rows.Err(); err != nil {
		pgRollback(ctx, trx, subLog)
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not commit transaction")
		return nil, err
	}
	return out, nil
}

func (src *PgSource) Transactions(ctx context.Context, portfolioID int64, begin time.Time, end time.Time) ([]*ledger.Transaction, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "perf.Transactions")
	defer span.End()

	subLog := log.With().Str("Source", "perf.pg").Int64("PortfolioID", portfolioID).Logger()

	trx, err := database.Trx(ctx)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	sql := `SELECT t.id, t.account_id, t.event_date, t.kind,
			COALESCE(t.ticker, ''), COALESCE(t.shares, 0), t.amount,
			COALESCE(t.metadata, '{}')
		FROM transactions t
		JOIN portfolio_accounts pa ON pa.account_id = t.account_id
		WHERE pa.portfolio_id = $1 AND t.event_date >= $2 AND t.event_date <= $3
		ORDER BY t.event_date ASC, t.id ASC`
	rows, err := trx.Query(ctx, sql, portfolioID, begin, end)
	if err != nil {
		subLog.Warn().Stack().Err(err).Str("Query", sql).Msg("could not query transactions")
		pgRollback(ctx, trx, subLog)
		return nil, err
	}

	transactions := make([]*ledger.Transaction, 0, 128)
	for rows.Next() {
		trn := &ledger.Transaction{}
		var metadata []byte
		if err := rows.Scan(&trn.ID, &trn.AccountID, &trn.Date, &trn.Kind, &trn.Ticker, &trn.Shares, &trn.Amount, &metadata); err != nil {
			subLog.Warn().Stack().Err(err).Msg("could not scan transaction row")
			pgRollback(ctx, trx, subLog)
			return nil, err
		}
		if err := json.Unmarshal(metadata, &trn.Metadata); err != nil {
			subLog.Warn().Err(err).Int64("TransactionID", trn.ID).Msg("could not unmarshal transaction metadata")
		}
		transactions = append(transactions, trn)
	}
	if err := rows.Err(); err != nil {
		pgRollback(ctx, trx, subLog)
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not commit transaction")
		return nil, err
	}
	return transactions, nil
}
