// Copyright 2021-2023
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
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/penny-vault/pvbt/backtest"
	"github.com/penny-vault/pvbt/observability/opentelemetry"
	"github.com/penny-vault/pvbt/portfolio"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// Runner executes a backtest for a validated spec; *backtest.Engine implements it
type Runner interface {
	Run(ctx context.Context, spec *portfolio.Spec) (*backtest.Backtest, error)
}

// RunBacktest returns a handler that parses a backtest request, runs it with
// runner and responds with the portfolio and benchmark performance. timeout
// bounds the whole request; zero disables it
func RunBacktest(runner Runner, timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, span := otel.Tracer(opentelemetry.Name).Start(c.UserContext(), "handler.RunBacktest")
		defer span.End()
		span.SetAttributes(opentelemetry.SpanAttributesFromFiber(c)...)

		req := backtest.Request{}
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("could not parse backtest request body")
			verr := &portfolio.ValidationError{}
			verr.Add("invalid JSON body: "+err.Error(), "body")
			return verr
		}

		spec, err := req.ToSpec()
		if err != nil {
			return err
		}

		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		bt, err := runner.Run(ctx, spec)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "backtest failed")
			return err
		}

		return c.JSON(bt.Response())
	}
}
