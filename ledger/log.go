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
	"github.com/rs/zerolog"
)

func (trx *Transaction) MarshalZerologObject(e *zerolog.Event) {
	e.Int64("ID", trx.ID)
	e.Int64("AccountID", trx.AccountID)
	e.Time("Date", trx.Date)
	e.Str("Kind", trx.Kind)
	e.Str("Ticker", trx.Ticker)
	e.Float64("Shares", trx.Shares)
	e.Float64("Amount", trx.Amount)
}

func (acct *Account) MarshalZerologObject(e *zerolog.Event) {
	e.Int64("ID", acct.ID)
	e.Int64("TaxpayerID", acct.TaxpayerID)
	e.Str("Name", acct.Name)
	e.Str("Type", acct.Type)
}
