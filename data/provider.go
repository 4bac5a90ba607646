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
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

// Provider fetches daily bars for a single ticker
type Provider interface {
	// Name identifies the provider in cache keys and logs
	Name() string

	// GetEod returns the bars for ticker that fall within interval
	GetEod(ctx context.Context, ticker string, interval *Interval) (*PriceSeries, error)
}

const userAgent = "pvbt (+https://github.com/penny-vault/pvbt)"

// NewProviderFromConfig builds the provider selected by data.provider
func NewProviderFromConfig() (Provider, error) {
	client := &http.Client{
		Timeout: viper.GetDuration("data.fetch_timeout"),
	}

	limit := rate.Inf
	if rps := viper.GetFloat64("data.requests_per_second"); rps > 0 {
		limit = rate.Limit(rps)
	}
	burst := viper.GetInt("data.burst")
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)

	name := strings.ToLower(viper.GetString("data.provider"))
	switch name {
	case "", "yahoo":
		return NewYahoo(client, limiter), nil
	case "tiingo":
		token := viper.GetString("data.tiingo_token")
		if token == "" {
			log.Error().Msg("tiingo provider selected but data.tiingo_token is not set")
			return nil, fmt.Errorf("%w: tiingo requires an api token", ErrUnknownProvider)
		}
		return NewTiingo(token, client, limiter), nil
	case "pvdb":
		return NewPvDb(), nil
	default:
		log.Error().Str("Provider", name).Msg("unknown price provider")
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
}

// httpSource holds the plumbing shared by providers that speak HTTP
type httpSource struct {
	name    string
	client  *http.Client
	limiter *rate.Limiter
}

// get issues a rate limited GET and classifies failures into
// DataUnavailableError (the request itself is bad) or UpstreamFetchError
// (the source is unhealthy)
func (src *httpSource) get(ctx context.Context, ticker, url string) ([]byte, error) {
	subLog := log.With().Str("Provider", src.name).Str("Ticker", ticker).Logger()

	if err := src.limiter.Wait(ctx); err != nil {
		subLog.Warn().Err(err).Msg("rate limiter wait aborted")
		return nil, &UpstreamFetchError{Provider: src.name, Ticker: ticker, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &UpstreamFetchError{Provider: src.name, Ticker: ticker, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := src.client.Do(req)
	if err != nil {
		subLog.Warn().Err(err).Msg("http request failed")
		return nil, &UpstreamFetchError{Provider: src.name, Ticker: ticker, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		subLog.Warn().Err(err).Int("HTTPResponseStatusCode", resp.StatusCode).Msg("could not read response body")
		return nil, &UpstreamFetchError{Provider: src.name, Ticker: ticker, StatusCode: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode < 400:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		subLog.Info().Int("HTTPResponseStatusCode", resp.StatusCode).Msg("ticker not found")
		return nil, &DataUnavailableError{Ticker: ticker, Err: ErrNotFound}
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		subLog.Info().Int("HTTPResponseStatusCode", resp.StatusCode).Bytes("Body", body).Msg("price source rejected request")
		return nil, &DataUnavailableError{Ticker: ticker, Err: fmt.Errorf("%w: price source rejected the request", ErrNotFound)}
	default:
		subLog.Error().Int("HTTPResponseStatusCode", resp.StatusCode).Bytes("Body", body).Msg("price source returned error status")
		return nil, &UpstreamFetchError{
			Provider:   src.name,
			Ticker:     ticker,
			StatusCode: resp.StatusCode,
			Err:        ErrUpstream,
		}
	}
}

// appendBar adds bar to bars keeping dates strictly increasing; a repeated
// date replaces the previous bar
func appendBar(bars []Eod, bar Eod) ([]Eod, error) {
	if n := len(bars); n > 0 {
		last := bars[n-1].Date
		if bar.Date.Equal(last) {
			bars[n-1] = bar
			return bars, nil
		}
		if bar.Date.Before(last) {
			return bars, fmt.Errorf("%w: %s follows %s", ErrUnsortedSeries,
				bar.Date.Format("2006-01-02"), last.Format("2006-01-02"))
		}
	}
	return append(bars, bar), nil
}

// finishSeries wraps bars into a PriceSeries or reports that the window was empty
func finishSeries(ticker string, bars []Eod) (*PriceSeries, error) {
	if len(bars) == 0 {
		return nil, &DataUnavailableError{Ticker: ticker, Err: ErrNoData}
	}
	return &PriceSeries{Ticker: ticker, Bars: bars}, nil
}

// IsRetryable reports whether err is a transient upstream failure
func IsRetryable(err error) bool {
	var upstream *UpstreamFetchError
	if !errors.As(err, &upstream) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
