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

package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/wealth-vault/wv-api/handler"
)

// SetupRoutes setup router api
func SetupRoutes(app *fiber.App, performance *handler.PerformanceHandler, taxlots *handler.TaxlotHandler) {
	api := app.Group("/v1")
	api.Get("/", handler.Ping)

	// Performance
	api.Get("/performance", performance.GetReport)

	// Tax lots
	taxpayers := api.Group("/taxpayers")
	taxpayers.Post("/:id/rebuild", taxlots.Rebuild)
	taxpayers.Get("/:id/lots", taxlots.OpenLots)
}
