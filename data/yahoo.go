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

var yahooAPI = "https://query1.finance.yahoo.com"

type yahoo struct {
	httpSource
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol               string `json:"symbol"`
				ExchangeTimezoneName string `json:"exchangeTimezoneName"`
				GmtOffset            int    `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open  []*float64 `json:"open"`
					High  []*float64 `json:"high"`
					Low   []*float64 `json:"low"`
					Close []*float64 `json:"close"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// NewYahoo creates a provider backed by the Yahoo Finance chart API
func NewYahoo(client *http.Client, limiter *rate.Limiter) *yahoo {
	return &yahoo{
		httpSource: httpSource{
			name:    "yahoo",
			client:  client,
			limiter: limiter,
		},
	}
}

func (y *yahoo) Name() string {
	return y.name
}

// GetEod downloads daily bars; closes are dividend and split adjusted and
// open/high/low are scaled by the same factor
func (y *yahoo) GetEod(ctx context.Context, ticker string, interval *Interval) (*PriceSeries, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "yahoo.GetEod")
	defer span.End()

	span.SetAttributes(
		attribute.String("Ticker", ticker),
		attribute.String("Interval", interval.String()),
	)

	subLog := log.With().Str("Ticker", ticker).Object("Interval", interval).Logger()

	// period2 is exclusive
	query := url.Values{}
	query.Set("period1", fmt.Sprintf("%d", interval.Begin.Unix()))
	query.Set("period2", fmt.Sprintf("%d", interval.End.AddDate(0, 0, 1).Unix()))
	query.Set("interval", "1d")
	query.Set("events", "div,split")
	query.Set("includeAdjustedClose", "true")
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", yahooAPI, url.PathEscape(ticker), query.Encode())

	body, err := y.get(ctx, ticker, endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "yahoo request failed")
		return nil, err
	}

	chart := yahooChartResponse{}
	if err := json.Unmarshal(body, &chart); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "could not unmarshal json")
		subLog.Error().Err(err).Bytes("Body", body).Msg("could not unmarshal yahoo chart response")
		return nil, &UpstreamFetchError{Provider: y.name, Ticker: ticker, Err: fmt.Errorf("%w: %s", ErrMalformedResponse, err)}
	}

	if chart.Chart.Error != nil {
		subLog.Info().Str("Code", chart.Chart.Error.Code).Str("Description", chart.Chart.Error.Description).Msg("yahoo returned error")
		return nil, &DataUnavailableError{Ticker: ticker, Err: fmt.Errorf("%w: %s", ErrNotFound, chart.Chart.Error.Description)}
	}

	if len(chart.Chart.Result) == 0 {
		return nil, &DataUnavailableError{Ticker: ticker, Err: ErrNoData}
	}

	result := chart.Chart.Result[0]
	if len(result.Timestamp) == 0 || len(result.Indicators.Quote) == 0 {
		return nil, &DataUnavailableError{Ticker: ticker, Err: ErrNoData}
	}

	loc, err := time.LoadLocation(result.Meta.ExchangeTimezoneName)
	if err != nil || result.Meta.ExchangeTimezoneName == "" {
		loc = time.FixedZone("exchange", result.Meta.GmtOffset)
	}

	quote := result.Indicators.Quote[0]
	var adjClose []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adjClose = result.Indicators.AdjClose[0].AdjClose
	}

	bars := make([]Eod, 0, len(result.Timestamp))
	for idx, ts := range result.Timestamp {
		closePrice := valueAt(quote.Close, idx)
		if closePrice == nil {
			// yahoo emits null rows for halted sessions
			subLog.Debug().Int64("Timestamp", ts).Msg("skipping bar without close")
			continue
		}

		factor := 1.0
		if adj := valueAt(adjClose, idx); adj != nil && *closePrice != 0 {
			factor = *adj / *closePrice
		}

		bar := Eod{
			Date:  NormalizeDate(time.Unix(ts, 0).In(loc)),
			Open:  orDefault(valueAt(quote.Open, idx), *closePrice) * factor,
			High:  orDefault(valueAt(quote.High, idx), *closePrice) * factor,
			Low:   orDefault(valueAt(quote.Low, idx), *closePrice) * factor,
			Close: *closePrice * factor,
		}

		if !interval.ContainsDate(bar.Date) {
			continue
		}

		if bars, err = appendBar(bars, bar); err != nil {
			span.RecordError(err)
			subLog.Error().Err(err).Msg("yahoo returned unordered bars")
			return nil, &UpstreamFetchError{Provider: y.name, Ticker: ticker, Err: err}
		}
	}

	subLog.Debug().Int("NumBars", len(bars)).Msg("loaded yahoo bars")
	return finishSeries(ticker, bars)
}

func valueAt(vals []*float64, idx int) *float64 {
	if idx >= len(vals) {
		return nil
	}
	return vals[idx]
}

func orDefault(val *float64, def float64) float64 {
	if val == nil {
		return def
	}
	return *val
}
