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
	"context"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/wealth-vault/wv-api/database"
	"github.com/wealth-vault/wv-api/ledger"
	"github.com/wealth-vault/wv-api/observability/opentelemetry"
)

// Store persists rebuild results. A rebuild is a single transaction:
// prior reconstructed rows are wiped and the new replay inserted, all
// under the taxpayer advisory lock.
type Store struct{}

// NewStore returns a Store bound to the shared database pool.
func NewStore() *Store {
	return &Store{}
}

// Rebuild replays the taxpayer's full history and replaces all
// reconstructed lots, disposals and wash adjustments. Running it twice
// on unchanged inputs yields equivalent rows.
func (store *Store) Rebuild(ctx context.Context, taxpayerID int64, opts EngineOptions) (*RebuildSummary, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "taxlot.Rebuild")
	defer span.End()

	subLog := log.With().Int64("TaxpayerID", taxpayerID).Logger()

	trx, err := database.TrxForTaxpayer(ctx, taxpayerID)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not begin rebuild transaction")
		return nil, err
	}

	if err := store.checkTaxpayer(ctx, trx, taxpayerID); err != nil {
		rollback(ctx, trx, subLog)
		return nil, err
	}

	accounts, err := store.loadAccounts(ctx, trx, taxpayerID)
	if err != nil {
		rollback(ctx, trx, subLog)
		return nil, err
	}

	transactions, err := store.loadTransactions(ctx, trx, taxpayerID)
	if err != nil {
		rollback(ctx, trx, subLog)
		return nil, err
	}

	actions, err := store.loadPendingActions(ctx, trx, taxpayerID)
	if err != nil {
		rollback(ctx, trx, subLog)
		return nil, err
	}

	if opts.SubstituteGroups == nil {
		opts.SubstituteGroups, err = store.loadSubstituteGroups(ctx, trx)
		if err != nil {
			rollback(ctx, trx, subLog)
			return nil, err
		}
	}

	engine := NewEngine(taxpayerID, accounts, opts)
	res := engine.Replay(transactions, actions)

	if err := store.wipe(ctx, trx, taxpayerID); err != nil {
		rollback(ctx, trx, subLog)
		return nil, err
	}
	if err := store.insert(ctx, trx, res); err != nil {
		rollback(ctx, trx, subLog)
		return nil, err
	}
	if err := store.markActionsApplied(ctx, trx, res.Actions); err != nil {
		rollback(ctx, trx, subLog)
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not commit rebuild")
		return nil, err
	}

	return res.Summary, nil
}

func rollback(ctx context.Context, trx pgx.Tx, subLog zerolog.Logger) {
	if err := trx.Rollback(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
	}
}

func (store *Store) checkTaxpayer(ctx context.Context, trx pgx.Tx, taxpayerID int64) error {
	var name string
	err := trx.QueryRow(ctx, "SELECT name FROM taxpayers WHERE id=$1", taxpayerID).Scan(&name)
	if err == pgx.ErrNoRows {
		return ErrTaxpayerNotFound
	}
	return err
}

func (store *Store) loadAccounts(ctx context.Context, trx pgx.Tx, taxpayerID int64) ([]*ledger.Account, error) {
	sql := `SELECT id, taxpayer_id, name, account_type FROM accounts WHERE taxpayer_id=$1 ORDER BY id ASC`
	rows, err := trx.Query(ctx, sql, taxpayerID)
	if err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Msg("load accounts failed")
		return nil, err
	}

	accounts := make([]*ledger.Account, 0, 8)
	for rows.Next() {
		acct := &ledger.Account{}
		if err := rows.Scan(&acct.ID, &acct.TaxpayerID, &acct.Name, &acct.Type); err != nil {
			log.Warn().Stack().Err(err).Msg("account scan failed")
			continue
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

func (store *Store) loadTransactions(ctx context.Context, trx pgx.Tx, taxpayerID int64) ([]*ledger.Transaction, error) {
	sql := `SELECT t.id, t.account_id, t.event_date, t.kind, COALESCE(t.ticker, ''),
		COALESCE(t.shares, 0), t.amount, COALESCE(t.metadata, '{}')
	FROM transactions t
	JOIN accounts a ON (a.id = t.account_id)
	WHERE a.taxpayer_id=$1
	ORDER BY t.event_date ASC, t.id ASC`
	rows, err := trx.Query(ctx, sql, taxpayerID)
	if err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Msg("load transactions failed")
		return nil, err
	}

	transactions := make([]*ledger.Transaction, 0, 1024)
	for rows.Next() {
		trn := &ledger.Transaction{}
		var metadata []byte
		if err := rows.Scan(&trn.ID, &trn.AccountID, &trn.Date, &trn.Kind, &trn.Ticker, &trn.Shares, &trn.Amount, &metadata); err != nil {
			log.Warn().Stack().Err(err).Msg("transaction scan failed")
			continue
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &trn.Metadata); err != nil {
				log.Warn().Stack().Err(err).Int64("TxnID", trn.ID).Msg("could not parse transaction metadata")
			}
		}
		transactions = append(transactions, trn)
	}
	return transactions, rows.Err()
}

func (store *Store) loadPendingActions(ctx context.Context, trx pgx.Tx, taxpayerID int64) ([]*CorporateAction, error) {
	sql := `SELECT id, taxpayer_id, action_type, COALESCE(ticker, ''), COALESCE(account_id, 0),
		ratio, action_date, applied, COALESCE(apply_notes, '')
	FROM corporate_action_events
	WHERE taxpayer_id=$1 AND applied='f'
	ORDER BY action_date ASC, id ASC`
	rows, err := trx.Query(ctx, sql, taxpayerID)
	if err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Msg("load corporate actions failed")
		return nil, err
	}

	actions := make([]*CorporateAction, 0, 8)
	for rows.Next() {
		action := &CorporateAction{}
		if err := rows.Scan(&action.ID, &action.TaxpayerID, &action.ActionType, &action.Ticker,
			&action.AccountID, &action.Ratio, &action.ActionDate, &action.Applied, &action.ApplyNotes); err != nil {
			log.Warn().Stack().Err(err).Msg("corporate action scan failed")
			continue
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

func (store *Store) loadSubstituteGroups(ctx context.Context, trx pgx.Tx) (map[string]string, error) {
	sql := `SELECT ticker, substitute_group_id FROM securities WHERE substitute_group_id IS NOT NULL`
	rows, err := trx.Query(ctx, sql)
	if err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Msg("load substitute groups failed")
		return nil, err
	}

	groups := make(map[string]string)
	for rows.Next() {
		var ticker, groupID string
		if err := rows.Scan(&ticker, &groupID); err != nil {
			log.Warn().Stack().Err(err).Msg("substitute group scan failed")
			continue
		}
		groups[ticker] = groupID
	}
	return groups, rows.Err()
}

// wipe removes the prior reconstruction. Order matters: adjustments
// reference disposals and lots, disposals reference lots.
func (store *Store) wipe(ctx context.Context, trx pgx.Tx, taxpayerID int64) error {
	statements := []string{
		`DELETE FROM wash_sale_adjustments WHERE loss_sale_txn_id IN (
			SELECT t.id FROM transactions t
			JOIN accounts a ON (a.id = t.account_id)
			WHERE a.taxpayer_id=$1 AND t.kind='SELL')`,
		`DELETE FROM lot_disposals WHERE sell_txn_id IN (
			SELECT t.id FROM transactions t
			JOIN accounts a ON (a.id = t.account_id)
			WHERE a.taxpayer_id=$1 AND t.kind='SELL')`,
		`DELETE FROM tax_lots WHERE taxpayer_id=$1 AND source='RECONSTRUCTED'`,
	}
	for _, sql := range statements {
		if _, err := trx.Exec(ctx, sql, taxpayerID); err != nil {
			log.Error().Stack().Err(err).Str("Query", sql).Msg("wipe prior reconstruction failed")
			return err
		}
	}
	return nil
}

func (store *Store) insert(ctx context.Context, trx pgx.Tx, res *Result) error {
	lotSQL := `INSERT INTO tax_lots (
		id, taxpayer_id, account_id, ticker, acquired_date, quantity_open,
		basis_open, source, source_txn_id, synthetic, original_quantity, original_basis
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	for _, lot := range res.Lots {
		var sourceTxnID *int64
		if lot.SourceTxnID != 0 {
			id := lot.SourceTxnID
			sourceTxnID = &id
		}
		if _, err := trx.Exec(ctx, lotSQL, lot.ID, lot.TaxpayerID, lot.AccountID, lot.Ticker,
			lot.AcquiredDate, lot.QuantityOpen, lot.BasisOpen, lot.Source, sourceTxnID,
			lot.Synthetic, lot.OriginalQuantity, lot.OriginalBasis); err != nil {
			log.Error().Stack().Err(err).Object("TaxLot", lot).Msg("insert tax lot failed")
			return err
		}
	}

	disposalSQL := `INSERT INTO lot_disposals (
		id, sell_txn_id, tax_lot_id, quantity_sold, proceeds_allocated,
		basis_allocated, realized_gain, term, as_of_date, basis_unknown
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	for _, disposal := range res.Disposals {
		if _, err := trx.Exec(ctx, disposalSQL, disposal.ID, disposal.SellTxnID, disposal.LotID,
			disposal.QuantitySold, disposal.Proceeds, disposal.Basis, disposal.RealizedGain,
			disposal.Term, disposal.AsOf, disposal.BasisUnknown); err != nil {
			log.Error().Stack().Err(err).Object("LotDisposal", disposal).Msg("insert lot disposal failed")
			return err
		}
	}

	adjSQL := `INSERT INTO wash_sale_adjustments (
		id, loss_sale_txn_id, replacement_buy_txn_id, replacement_lot_id,
		replacement_shares, deferred_loss, basis_increase, window_start,
		window_end, status, ira_replacement, missing_replacement_lot
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	for _, adj := range res.WashAdjustments {
		if _, err := trx.Exec(ctx, adjSQL, adj.ID, adj.LossSaleTxnID, adj.ReplacementTxnID,
			adj.ReplacementLotID, adj.ReplacementShares, adj.DeferredLoss, adj.BasisIncrease,
			adj.WindowStart, adj.WindowEnd, adj.Status, adj.IRAReplacement, adj.MissingLot); err != nil {
			log.Error().Stack().Err(err).Object("WashSaleAdjustment", adj).Msg("insert wash sale adjustment failed")
			return err
		}
	}

	return nil
}

func (store *Store) markActionsApplied(ctx context.Context, trx pgx.Tx, actions []*CorporateAction) error {
	sql := `UPDATE corporate_action_events SET applied=$2, apply_notes=$3 WHERE id=$1`
	for _, action := range actions {
		if !action.Applied {
			continue
		}
		if _, err := trx.Exec(ctx, sql, action.ID, action.Applied, action.ApplyNotes); err != nil {
			log.Error().Stack().Err(err).Int64("ActionID", action.ID).Msg("mark corporate action applied failed")
			return err
		}
	}
	return nil
}

// OpenLots loads the current reconstructed open lots for a taxpayer,
// oldest first. Read-only; runs outside the rebuild lock.
func (store *Store) OpenLots(ctx context.Context, taxpayerID int64) ([]*TaxLot, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		return nil, err
	}

	sql := `SELECT id, taxpayer_id, account_id, ticker, acquired_date, quantity_open,
		basis_open, source, COALESCE(source_txn_id, 0), synthetic,
		original_quantity, original_basis
	FROM tax_lots
	WHERE taxpayer_id=$1 AND source='RECONSTRUCTED' AND quantity_open > $2
	ORDER BY acquired_date ASC, id ASC`
	rows, err := trx.Query(ctx, sql, taxpayerID, shareEpsilon)
	if err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Msg("load open lots failed")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	lots := make([]*TaxLot, 0, 64)
	for rows.Next() {
		lot := &TaxLot{}
		if err := rows.Scan(&lot.ID, &lot.TaxpayerID, &lot.AccountID, &lot.Ticker, &lot.AcquiredDate,
			&lot.QuantityOpen, &lot.BasisOpen, &lot.Source, &lot.SourceTxnID, &lot.Synthetic,
			&lot.OriginalQuantity, &lot.OriginalBasis); err != nil {
			log.Warn().Stack().Err(err).Msg("tax lot scan failed")
			continue
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
	}
	return lots, nil
}
