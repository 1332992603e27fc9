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
	"github.com/rs/zerolog"
)

func (lot *TaxLot) MarshalZerologObject(e *zerolog.Event) {
	e.Str("ID", lot.ID.String())
	e.Int64("TaxpayerID", lot.TaxpayerID)
	e.Int64("AccountID", lot.AccountID)
	e.Str("Ticker", lot.Ticker)
	e.Time("AcquiredDate", lot.AcquiredDate)
	e.Float64("QuantityOpen", lot.QuantityOpen)
	if lot.BasisOpen != nil {
		e.Float64("BasisOpen", *lot.BasisOpen)
	} else {
		e.Bool("BasisUnknown", true)
	}
	e.Bool("Synthetic", lot.Synthetic)
}

func (disposal *LotDisposal) MarshalZerologObject(e *zerolog.Event) {
	e.Str("ID", disposal.ID.String())
	e.Int64("SellTxnID", disposal.SellTxnID)
	e.Str("LotID", disposal.LotID.String())
	e.Float64("QuantitySold", disposal.QuantitySold)
	e.Float64("Proceeds", disposal.Proceeds)
	if disposal.RealizedGain != nil {
		e.Float64("RealizedGain", *disposal.RealizedGain)
	}
	e.Str("Term", disposal.Term)
	e.Time("AsOf", disposal.AsOf)
	e.Bool("BasisUnknown", disposal.BasisUnknown)
}

func (adj *WashSaleAdjustment) MarshalZerologObject(e *zerolog.Event) {
	e.Str("ID", adj.ID.String())
	e.Int64("LossSaleTxnID", adj.LossSaleTxnID)
	e.Int64("ReplacementTxnID", adj.ReplacementTxnID)
	e.Float64("ReplacementShares", adj.ReplacementShares)
	e.Float64("DeferredLoss", adj.DeferredLoss)
	e.Float64("BasisIncrease", adj.BasisIncrease)
	e.Str("Status", adj.Status)
	e.Bool("IRAReplacement", adj.IRAReplacement)
	e.Bool("MissingLot", adj.MissingLot)
}
