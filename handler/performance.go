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
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	"github.com/wealth-vault/wv-api/observability/opentelemetry"
	"github.com/wealth-vault/wv-api/perf"
	"github.com/wealth-vault/wv-api/valuation"
)

// PerformanceHandler serves performance reports.
type PerformanceHandler struct {
	builder *perf.Builder
}

func NewPerformanceHandler(builder *perf.Builder) *PerformanceHandler {
	return &PerformanceHandler{builder: builder}
}

// GetReport computes a performance report for the requested period.
//
// GET /v1/performance?startDate=2025-01-01&endDate=2025-12-31
func (h *PerformanceHandler) GetReport(c *fiber.Ctx) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(c.Context(), "handler.GetReport")
	defer span.End()
	span.SetAttributes(opentelemetry.SpanAttributesFromFiber(c)...)

	startDateStr := c.Query("startDate")
	endDateStr := c.Query("endDate", "now")

	startDate, err := time.Parse("2006-01-02", startDateStr)
	if err != nil {
		log.Warn().Err(err).Str("StartDateStr", startDateStr).Msg("cannot parse start date query parameter")
		return fiber.ErrNotAcceptable
	}

	var endDate time.Time
	if endDateStr == "now" {
		endDate = valuation.Day(time.Now())
	} else {
		endDate, err = time.Parse("2006-01-02", endDateStr)
		if err != nil {
			log.Warn().Err(err).Str("EndDateStr", endDateStr).Msg("cannot parse end date query parameter")
			return fiber.ErrNotAcceptable
		}
	}

	graceDays := viper.GetInt("performance.grace_days")
	if v := c.Query("graceDays"); v != "" {
		graceDays, err = strconv.Atoi(v)
		if err != nil {
			log.Warn().Err(err).Str("GraceDays", v).Msg("cannot parse graceDays query parameter")
			return fiber.ErrBadRequest
		}
	}

	includeCombined, err := strconv.ParseBool(c.Query("combined", "true"))
	if err != nil {
		return fiber.ErrBadRequest
	}
	includeSeries, err := strconv.ParseBool(c.Query("series", "false"))
	if err != nil {
		return fiber.ErrBadRequest
	}

	benchmarkSymbol := c.Query("benchmark", viper.GetString("benchmark.symbol"))

	req := &perf.Request{
		Start:                    startDate,
		End:                      endDate,
		Frequency:                c.Query("frequency", valuation.MonthEnd),
		GraceDays:                graceDays,
		RiskFreeRate:             viper.GetFloat64("performance.risk_free_rate"),
		BenchmarkSymbol:          benchmarkSymbol,
		IncludeCombined:          includeCombined,
		IncludeSeries:            includeSeries,
		IncludeWithholdingAsFlow: viper.GetBool("performance.include_withholding_as_flow"),
	}

	report, err := h.builder.Build(ctx, req)
	if err != nil {
		switch err {
		case perf.ErrInvalidDateRange, perf.ErrUnknownFrequency:
			return fiber.ErrBadRequest
		default:
			log.Error().Stack().Err(err).Msg("could not build performance report")
			return fiber.ErrInternalServerError
		}
	}

	return c.JSON(report)
}
