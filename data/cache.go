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
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru"
	"github.com/penny-vault/pvbt/common"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"
)

const redisKeyPrefix = "pvbt:eod:"

// DefaultSharedFetchTimeout bounds a shared fetch when no timeout is configured
const DefaultSharedFetchTimeout = time.Minute

// CacheKey identifies a fetched series
type CacheKey struct {
	Provider string
	Ticker   string
	Begin    time.Time
	End      time.Time
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Provider, k.Ticker, k.Begin.Format("2006-01-02"), k.End.Format("2006-01-02"))
}

// redisKey hashes the key so arbitrary ticker strings never leak into redis key syntax
func (k CacheKey) redisKey() string {
	sum := blake3.Sum256([]byte(k.String()))
	return redisKeyPrefix + hex.EncodeToString(sum[:])
}

// FetchFunc loads a series on a cache miss
type FetchFunc func(ctx context.Context) (*PriceSeries, error)

// PriceCache is a read-through cache of price series. Concurrent callers
// asking for the same missing key share a single in-flight fetch; errors are
// never cached.
type PriceCache struct {
	local    *lru.Cache
	rdb      *redis.Client
	ttl      time.Duration
	inflight singleflight.Group

	// fetchTimeout bounds a shared fetch; it is detached from the callers'
	// contexts so one caller giving up never fails the others
	fetchTimeout time.Duration

	hits    uint64
	misses  uint64
	fetches uint64
}

// NewPriceCache creates a cache holding up to size series locally. rdb may be
// nil in which case only the local tier is used.
func NewPriceCache(size int, rdb *redis.Client, ttl time.Duration) (*PriceCache, error) {
	if size < 1 {
		size = 1
	}
	local, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &PriceCache{
		local:        local,
		rdb:          rdb,
		ttl:          ttl,
		fetchTimeout: DefaultSharedFetchTimeout,
	}, nil
}

// SetFetchTimeout changes the upper bound of a shared fetch. Non-positive
// values restore DefaultSharedFetchTimeout.
func (cache *PriceCache) SetFetchTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultSharedFetchTimeout
	}
	cache.fetchTimeout = timeout
}

// NewPriceCacheFromConfig builds the cache from the cache.* settings
func NewPriceCacheFromConfig() (*PriceCache, error) {
	var rdb *redis.Client
	if viper.GetBool("cache.redis") {
		opt, err := redis.ParseURL(viper.GetString("cache.redis_url"))
		if err != nil {
			log.Error().Err(err).Msg("could not parse redis URL")
			return nil, err
		}
		rdb = redis.NewClient(opt)
	}

	cache, err := NewPriceCache(viper.GetInt("cache.local_size"), rdb, viper.GetDuration("cache.ttl"))
	if err != nil {
		return nil, err
	}

	// every attempt of a retried fetch gets the full per-request timeout
	attempts := viper.GetInt("data.retries") + 1
	if attempts < 1 {
		attempts = 1
	}
	cache.SetFetchTimeout(viper.GetDuration("data.fetch_timeout") * time.Duration(attempts))

	return cache, nil
}

// GetOrFetch returns the cached series for key or calls fetch exactly once
// for all concurrent callers of the same key
func (cache *PriceCache) GetOrFetch(ctx context.Context, key CacheKey, fetch FetchFunc) (*PriceSeries, error) {
	k := key.String()
	if val, ok := cache.local.Get(k); ok {
		atomic.AddUint64(&cache.hits, 1)
		return val.(*PriceSeries), nil
	}

	ch := cache.inflight.DoChan(k, func() (interface{}, error) {
		// another caller may have finished between the miss above and here
		if val, ok := cache.local.Get(k); ok {
			return val, nil
		}

		// keep values (logger, span) but not the first caller's cancellation
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cache.fetchTimeout)
		defer cancel()

		if series, ok := cache.getShared(ctx, key); ok {
			cache.local.Add(k, series)
			return series, nil
		}

		atomic.AddUint64(&cache.fetches, 1)
		series, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		cache.local.Add(k, series)
		cache.setShared(ctx, key, series)
		return series, nil
	})

	atomic.AddUint64(&cache.misses, 1)

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*PriceSeries), nil
	case <-ctx.Done():
		return nil, &UpstreamFetchError{Provider: key.Provider, Ticker: key.Ticker, Err: ctx.Err()}
	}
}

// Purge empties the local tier
func (cache *PriceCache) Purge() {
	n := cache.local.Len()
	cache.local.Purge()
	log.Info().Int("NumEntries", n).Msg("purged local price cache")
}

// PurgeShared deletes every series stored in redis
func (cache *PriceCache) PurgeShared(ctx context.Context) (int, error) {
	if cache.rdb == nil {
		return 0, nil
	}

	deleted := 0
	iter := cache.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := cache.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, err
		}
		deleted++
	}

	return deleted, iter.Err()
}

// Len returns the number of series in the local tier
func (cache *PriceCache) Len() int {
	return cache.local.Len()
}

// Stats returns hit, miss and upstream fetch counters
func (cache *PriceCache) Stats() (hits, misses, fetches uint64) {
	return atomic.LoadUint64(&cache.hits), atomic.LoadUint64(&cache.misses), atomic.LoadUint64(&cache.fetches)
}

func (cache *PriceCache) getShared(ctx context.Context, key CacheKey) (*PriceSeries, bool) {
	if cache.rdb == nil {
		return nil, false
	}

	subLog := log.With().Str("CacheKey", key.String()).Logger()

	compressed, err := cache.rdb.Get(ctx, key.redisKey()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			subLog.Warn().Err(err).Msg("redis get failed")
		}
		return nil, false
	}

	raw, err := common.Decompress(compressed)
	if err != nil {
		subLog.Warn().Err(err).Msg("could not decompress cached series")
		return nil, false
	}

	series := &PriceSeries{}
	if err := json.Unmarshal(raw, series); err != nil {
		subLog.Warn().Err(err).Msg("could not unmarshal cached series")
		return nil, false
	}

	return series, true
}

func (cache *PriceCache) setShared(ctx context.Context, key CacheKey, series *PriceSeries) {
	if cache.rdb == nil {
		return
	}

	subLog := log.With().Str("CacheKey", key.String()).Logger()

	raw, err := json.Marshal(series)
	if err != nil {
		subLog.Warn().Err(err).Msg("could not marshal series for redis")
		return
	}

	compressed, err := common.Compress(raw)
	if err != nil {
		subLog.Warn().Err(err).Msg("could not compress series for redis")
		return
	}

	if err := cache.rdb.Set(ctx, key.redisKey(), compressed, cache.ttl).Err(); err != nil {
		subLog.Warn().Err(err).Msg("redis set failed")
	}
}
