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
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/penny-vault/pvbt/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tiingoAPI = "https://api.tiingo.com"

type tiingo struct {
	httpSource
	apikey string
}

type tiingoJSONResponse struct {
	Date     string  `json:"date"`
	Close    float64 `json:"close"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Open     float64 `json:"open"`
	AdjClose float64 `json:"adjClose"`
	AdjHigh  float64 `json:"adjHigh"`
	AdjLow   float64 `json:"adjLow"`
	AdjOpen  float64 `json:"adjOpen"`
}

// NewTiingo Create a new Tiingo data provider
func NewTiingo(key string, client *http.Client, limiter *rate.Limiter) *tiingo {
	return &tiingo{
		httpSource: httpSource{
			name:    "tiingo",
			client:  client,
			limiter: limiter,
		},
		apikey: key,
	}
}

func (t *tiingo) Name() string {
	return t.name
}

// GetEod downloads adjusted daily prices from tiingo
func (t *tiingo) GetEod(ctx context.Context, ticker string, interval *Interval) (*PriceSeries, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "tiingo.GetEod")
	defer span.End()

	span.SetAttributes(
		attribute.String("Ticker", ticker),
		attribute.String("Interval", interval.String()),
	)

	subLog := log.With().Str("Ticker", ticker).Object("Interval", interval).Logger()

	endpoint := fmt.Sprintf("%s/tiingo/daily/%s/prices?startDate=%s&endDate=%s&token=%s", tiingoAPI,
		url.PathEscape(ticker), interval.Begin.Format("2006-01-02"), interval.End.Format("2006-01-02"), url.QueryEscape(t.apikey))

	body, err := t.get(ctx, ticker, endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tiingo request failed")
		return nil, err
	}

	rows := []tiingoJSONResponse{}
	if err := json.Unmarshal(body, &rows); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "could not unmarshal json")
		subLog.Error().Err(err).Bytes("Body", body).Msg("could not unmarshal tiingo response")
		return nil, &UpstreamFetchError{Provider: t.name, Ticker: ticker, Err: fmt.Errorf("%w: %s", ErrMalformedResponse, err)}
	}

	bars := make([]Eod, 0, len(rows))
	for _, row := range rows {
		if len(row.Date) < 10 {
			subLog.Error().Str("DateStr", row.Date).Msg("invalid date format")
			return nil, &UpstreamFetchError{Provider: t.name, Ticker: ticker, Err: ErrMalformedResponse}
		}

		dt, err := time.Parse("2006-01-02", row.Date[:10])
		if err != nil {
			subLog.Error().Err(err).Str("DateStr", row.Date).Msg("cannot parse date string")
			return nil, &UpstreamFetchError{Provider: t.name, Ticker: ticker, Err: fmt.Errorf("%w: %s", ErrMalformedResponse, err)}
		}

		bar := Eod{
			Date:  dt,
			Open:  row.AdjOpen,
			High:  row.AdjHigh,
			Low:   row.AdjLow,
			Close: row.AdjClose,
		}

		if !interval.ContainsDate(bar.Date) {
			continue
		}

		if bars, err = appendBar(bars, bar); err != nil {
			span.RecordError(err)
			subLog.Error().Err(err).Msg("tiingo returned unordered bars")
			return nil, &UpstreamFetchError{Provider: t.name, Ticker: ticker, Err: err}
		}
	}

	subLog.Debug().Int("NumBars", len(bars)).Msg("loaded tiingo bars")
	return finishSeries(ticker, bars)
}
