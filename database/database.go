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

package database

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// PgxIface is the subset of pgxpool.Pool the rest of the code depends
// on; pgxmock satisfies it in tests.
type PgxIface interface {
	Begin(context.Context) (pgx.Tx, error)
}

var (
	ErrInvalidTaxpayerID = errors.New("taxpayer id must be positive")
	ErrNoPool            = errors.New("database pool is not initialized")
)

var pool PgxIface
var openTransactions map[string]string

// SetPool replaces the shared connection pool; tests install a pgxmock
// connection here.
func SetPool(myPool PgxIface) {
	openTransactions = make(map[string]string)
	pool = myPool
}

// Connect establishes the shared pgx pool from the database.url setting.
func Connect(ctx context.Context) error {
	myPool, err := pgxpool.Connect(ctx, viper.GetString("database.url"))
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not connect to pool")
		return err
	}
	if err = myPool.Ping(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not ping database server")
		return err
	}
	SetPool(myPool)
	return nil
}

// LogOpenTransactions writes an INFO log for each open transaction
func LogOpenTransactions() {
	for k, v := range openTransactions {
		log.Info().Str("TrxId", k).Str("Caller", v).Msg("open transaction")
	}
}

// Trx begins a tracked transaction on the shared pool.
func Trx(ctx context.Context) (pgx.Tx, error) {
	if pool == nil {
		return nil, ErrNoPool
	}
	trx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}

	// record transactions in openTransaction log
	_, file, lineno, ok := runtime.Caller(1)
	caller := fmt.Sprintf("[%v] %s:%d", ok, file, lineno)
	trxID := uuid.New().String()
	openTransactions[trxID] = caller

	return &wvDbTx{
		id: trxID,
		tx: trx,
	}, nil
}

// TrxForTaxpayer begins a transaction and takes the per-taxpayer
// advisory lock, serializing concurrent lot rebuilds for the same
// taxpayer entity. The lock releases automatically at commit/rollback.
func TrxForTaxpayer(ctx context.Context, taxpayerID int64) (pgx.Tx, error) {
	if taxpayerID <= 0 {
		log.Error().Stack().Int64("TaxpayerID", taxpayerID).Msg("refusing transaction for invalid taxpayer id")
		return nil, ErrInvalidTaxpayerID
	}

	trx, err := Trx(ctx)
	if err != nil {
		return nil, err
	}

	subLog := log.With().Int64("TaxpayerID", taxpayerID).Logger()
	if _, err := trx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", taxpayerID); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not acquire taxpayer advisory lock")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	return trx, nil
}
