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
	"strings"
	"sync"

	"github.com/penny-vault/pvbt/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// Manager fans requests for several tickers out to a provider through the
// price cache using a bounded pool of workers
type Manager struct {
	provider       Provider
	cache          *PriceCache
	maxConcurrency int
	retries        int
}

// NewManager creates a manager; cache may be nil to disable caching
func NewManager(provider Provider, cache *PriceCache, maxConcurrency, retries int) *Manager {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if retries < 0 {
		retries = 0
	}
	return &Manager{
		provider:       provider,
		cache:          cache,
		maxConcurrency: maxConcurrency,
		retries:        retries,
	}
}

// NewManagerFromConfig wires the configured provider and cache together
func NewManagerFromConfig() (*Manager, error) {
	provider, err := NewProviderFromConfig()
	if err != nil {
		return nil, err
	}

	cache, err := NewPriceCacheFromConfig()
	if err != nil {
		return nil, err
	}

	return NewManager(provider, cache, viper.GetInt("data.max_concurrency"), viper.GetInt("data.retries")), nil
}

// Cache returns the price cache used by the manager (may be nil)
func (manager *Manager) Cache() *PriceCache {
	return manager.cache
}

// Fetch returns the series for one ticker, consulting the cache first
func (manager *Manager) Fetch(ctx context.Context, ticker string, interval *Interval) (*PriceSeries, error) {
	ticker = strings.ToUpper(ticker)
	load := func(ctx context.Context) (*PriceSeries, error) {
		return manager.fetchWithRetry(ctx, ticker, interval)
	}

	if manager.cache == nil {
		return load(ctx)
	}

	key := CacheKey{
		Provider: manager.provider.Name(),
		Ticker:   ticker,
		Begin:    interval.Begin,
		End:      interval.End,
	}
	return manager.cache.GetOrFetch(ctx, key, load)
}

// FetchAll downloads every ticker concurrently. The first failure cancels the
// remaining downloads and is returned; no partial result is ever produced.
func (manager *Manager) FetchAll(ctx context.Context, tickers []string, interval *Interval) (map[string]*PriceSeries, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "data.FetchAll")
	defer span.End()

	span.SetAttributes(
		attribute.StringSlice("Tickers", tickers),
		attribute.String("Interval", interval.String()),
	)

	if err := interval.Valid(); err != nil {
		return nil, err
	}

	var locker sync.Mutex
	res := make(map[string]*PriceSeries, len(tickers))

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(manager.maxConcurrency)

	for _, ticker := range uniqueTickers(tickers) {
		ticker := ticker
		grp.Go(func() error {
			series, err := manager.Fetch(grpCtx, ticker, interval)
			if err != nil {
				log.Warn().Err(err).Str("Ticker", ticker).Msg("cannot download ticker data")
				return err
			}
			locker.Lock()
			res[ticker] = series
			locker.Unlock()
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}

	return res, nil
}

func (manager *Manager) fetchWithRetry(ctx context.Context, ticker string, interval *Interval) (*PriceSeries, error) {
	var err error
	for attempt := 0; attempt <= manager.retries; attempt++ {
		var series *PriceSeries
		series, err = manager.provider.GetEod(ctx, ticker, interval)
		if err == nil {
			return series, nil
		}

		if !IsRetryable(err) || ctx.Err() != nil {
			return nil, err
		}

		log.Warn().Err(err).Str("Ticker", ticker).Int("Attempt", attempt+1).Msg("upstream fetch failed")
	}
	return nil, err
}

func uniqueTickers(tickers []string) []string {
	seen := make(map[string]bool, len(tickers))
	res := make([]string, 0, len(tickers))
	for _, ticker := range tickers {
		ticker = strings.ToUpper(ticker)
		if seen[ticker] {
			continue
		}
		seen[ticker] = true
		res = append(res, ticker)
	}
	return res
}
