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

package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	"github.com/wealth-vault/wv-api/observability/opentelemetry"
	"github.com/wealth-vault/wv-api/taxlot"
)

// TaxlotHandler serves tax-lot reconstruction.
type TaxlotHandler struct {
	store *taxlot.Store
}

func NewTaxlotHandler(store *taxlot.Store) *TaxlotHandler {
	return &TaxlotHandler{store: store}
}

func taxpayerIDParam(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		log.Warn().Err(err).Str("ID", c.Params("id")).Msg("cannot parse taxpayer id")
		return 0, fiber.ErrBadRequest
	}
	return id, nil
}

// Rebuild replays the taxpayer's transaction history into fresh lots,
// disposals and wash-sale adjustments.
//
// POST /v1/taxpayers/:id/rebuild
func (h *TaxlotHandler) Rebuild(c *fiber.Ctx) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(c.Context(), "handler.Rebuild")
	defer span.End()
	span.SetAttributes(opentelemetry.SpanAttributesFromFiber(c)...)

	taxpayerID, err := taxpayerIDParam(c)
	if err != nil {
		return err
	}

	opts := taxlot.EngineOptions{
		WashIncludeIRA: viper.GetBool("washsale.include_ira"),
	}

	summary, err := h.store.Rebuild(ctx, taxpayerID, opts)
	if err != nil {
		if err == taxlot.ErrTaxpayerNotFound {
			return fiber.ErrNotFound
		}
		log.Error().Stack().Err(err).Int64("TaxpayerID", taxpayerID).Msg("rebuild failed")
		return fiber.ErrInternalServerError
	}

	return c.JSON(summary)
}

// OpenLots lists the taxpayer's reconstructed open lots.
//
// GET /v1/taxpayers/:id/lots
func (h *TaxlotHandler) OpenLots(c *fiber.Ctx) error {
	taxpayerID, err := taxpayerIDParam(c)
	if err != nil {
		return err
	}

	lots, err := h.store.OpenLots(c.Context(), taxpayerID)
	if err != nil {
		log.Error().Stack().Err(err).Int64("TaxpayerID", taxpayerID).Msg("could not list open lots")
		return fiber.ErrInternalServerError
	}

	return c.JSON(lots)
}
