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

package data

import (
	"context"
	"time"

	"github.com/penny-vault/pvbt/data/database"
	"github.com/penny-vault/pvbt/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const eodSQL = `SELECT event_date, open, high, low, adj_close FROM eod WHERE ticker=$1 AND event_date BETWEEN $2 AND $3 ORDER BY event_date`

// PvDb reads end-of-day prices from the penny vault PostgreSQL database
type PvDb struct {
}

// NewPvDb Create a new PVDB data provider
func NewPvDb() *PvDb {
	return &PvDb{}
}

func (p *PvDb) Name() string {
	return "pvdb"
}

// GetEod fetches adjusted EOD bars for ticker from the eod table
func (p *PvDb) GetEod(ctx context.Context, ticker string, interval *Interval) (*PriceSeries, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "pvdb.GetEod")
	defer span.End()

	span.SetAttributes(
		attribute.String("Ticker", ticker),
		attribute.String("Interval", interval.String()),
	)

	subLog := log.With().Str("Ticker", ticker).Object("Interval", interval).Logger()

	rows, err := database.Query(ctx, eodSQL, ticker, interval.Begin, interval.End)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "database query failed")
		subLog.Error().Stack().Err(err).Msg("could not query eod prices")
		return nil, &UpstreamFetchError{Provider: p.Name(), Ticker: ticker, Err: err}
	}
	defer rows.Close()

	bars := make([]Eod, 0, 252)
	for rows.Next() {
		var dt time.Time
		var bar Eod
		if err := rows.Scan(&dt, &bar.Open, &bar.High, &bar.Low, &bar.Close); err != nil {
			span.RecordError(err)
			subLog.Error().Stack().Err(err).Msg("could not SCAN DB result")
			return nil, &UpstreamFetchError{Provider: p.Name(), Ticker: ticker, Err: err}
		}

		bar.Date = NormalizeDate(dt)
		if bars, err = appendBar(bars, bar); err != nil {
			span.RecordError(err)
			subLog.Error().Err(err).Msg("database returned unordered bars")
			return nil, &UpstreamFetchError{Provider: p.Name(), Ticker: ticker, Err: err}
		}
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "row iteration failed")
		subLog.Error().Stack().Err(err).Msg("eod query read failed")
		return nil, &UpstreamFetchError{Provider: p.Name(), Ticker: ticker, Err: err}
	}

	subLog.Debug().Int("NumBars", len(bars)).Msg("loaded eod bars from database")
	return finishSeries(ticker, bars)
}
