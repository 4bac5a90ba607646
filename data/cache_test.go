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

package data_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pvbt/data"
)

var _ = Describe("PriceCache", func() {
	var (
		ctx    context.Context
		cache  *data.PriceCache
		key    data.CacheKey
		series *data.PriceSeries
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		cache, err = data.NewPriceCache(16, nil, time.Hour)
		Expect(err).To(BeNil())

		key = data.CacheKey{
			Provider: "test",
			Ticker:   "VFINX",
			Begin:    day(2022, 8, 1),
			End:      day(2022, 8, 9),
		}
		series = &data.PriceSeries{
			Ticker: "VFINX",
			Bars: []data.Eod{
				{Date: day(2022, 8, 1), Close: 10},
				{Date: day(2022, 8, 2), Close: 11},
			},
		}
	})

	It("renders keys with provider, ticker and range", func() {
		Expect(key.String()).To(Equal("test:VFINX:2022-08-01:2022-08-09"))
	})

	It("fetches on a miss and serves later reads from memory", func() {
		var calls int32
		fetch := func(ctx context.Context) (*data.PriceSeries, error) {
			atomic.AddInt32(&calls, 1)
			return series, nil
		}

		res, err := cache.GetOrFetch(ctx, key, fetch)
		Expect(err).To(BeNil())
		Expect(res).To(BeIdenticalTo(series))

		res, err = cache.GetOrFetch(ctx, key, fetch)
		Expect(err).To(BeNil())
		Expect(res).To(BeIdenticalTo(series))

		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(1)))
		Expect(cache.Len()).To(Equal(1))

		hits, misses, fetches := cache.Stats()
		Expect(hits).To(Equal(uint64(1)))
		Expect(misses).To(Equal(uint64(1)))
		Expect(fetches).To(Equal(uint64(1)))
	})

	It("issues a single upstream call for concurrent requests of the same key", func() {
		var calls int32
		started := make(chan struct{})
		release := make(chan struct{})
		fetch := func(ctx context.Context) (*data.PriceSeries, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				close(started)
			}
			<-release
			return series, nil
		}

		var wg sync.WaitGroup
		results := make([]*data.PriceSeries, 8)
		errs := make([]error, 8)

		wg.Add(1)
		go func() {
			defer GinkgoRecover()
			defer wg.Done()
			results[0], errs[0] = cache.GetOrFetch(ctx, key, fetch)
		}()
		Eventually(started).Should(BeClosed())

		for ii := 1; ii < 8; ii++ {
			wg.Add(1)
			go func(idx int) {
				defer GinkgoRecover()
				defer wg.Done()
				results[idx], errs[idx] = cache.GetOrFetch(ctx, key, fetch)
			}(ii)
		}

		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(1)))
		for ii := range results {
			Expect(errs[ii]).To(BeNil())
			Expect(results[ii]).To(BeIdenticalTo(series))
		}
	})

	It("does not cache failures", func() {
		var calls int32
		failure := errors.New("boom")
		fetch := func(ctx context.Context) (*data.PriceSeries, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return nil, failure
			}
			return series, nil
		}

		_, err := cache.GetOrFetch(ctx, key, fetch)
		Expect(err).To(MatchError(failure))
		Expect(cache.Len()).To(Equal(0))

		res, err := cache.GetOrFetch(ctx, key, fetch)
		Expect(err).To(BeNil())
		Expect(res).To(BeIdenticalTo(series))
		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(2)))
	})

	It("stops waiting when the caller's context ends", func() {
		release := make(chan struct{})
		defer close(release)

		fetch := func(context.Context) (*data.PriceSeries, error) {
			<-release
			return series, nil
		}

		shortCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()

		_, err := cache.GetOrFetch(shortCtx, key, fetch)
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())

		var upstreamErr *data.UpstreamFetchError
		Expect(errors.As(err, &upstreamErr)).To(BeTrue())
		Expect(upstreamErr.Ticker).To(Equal("VFINX"))
		Expect(upstreamErr.Provider).To(Equal("test"))
	})

	It("finishes a shared fetch for other callers after the first caller cancels", func() {
		var calls int32
		started := make(chan struct{})
		fetch := func(fetchCtx context.Context) (*data.PriceSeries, error) {
			atomic.AddInt32(&calls, 1)
			close(started)
			select {
			case <-time.After(200 * time.Millisecond):
				return series, nil
			case <-fetchCtx.Done():
				return nil, fetchCtx.Err()
			}
		}

		firstCtx, cancelFirst := context.WithCancel(ctx)
		firstErr := make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			_, err := cache.GetOrFetch(firstCtx, key, fetch)
			firstErr <- err
		}()
		Eventually(started).Should(BeClosed())

		var (
			res       *data.PriceSeries
			secondErr error
		)
		done := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(done)
			res, secondErr = cache.GetOrFetch(context.Background(), key, fetch)
		}()

		time.Sleep(20 * time.Millisecond)
		cancelFirst()

		Eventually(firstErr).Should(Receive(MatchError(context.Canceled)))
		Eventually(done, time.Second).Should(BeClosed())
		Expect(secondErr).To(BeNil())
		Expect(res).To(BeIdenticalTo(series))
		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(1)))
		Expect(cache.Len()).To(Equal(1))
	})

	It("bounds a shared fetch by the configured timeout", func() {
		cache.SetFetchTimeout(10 * time.Millisecond)
		_, err := cache.GetOrFetch(ctx, key, func(fetchCtx context.Context) (*data.PriceSeries, error) {
			<-fetchCtx.Done()
			return nil, fetchCtx.Err()
		})
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
	})

	It("empties the local tier on purge", func() {
		_, err := cache.GetOrFetch(ctx, key, func(context.Context) (*data.PriceSeries, error) {
			return series, nil
		})
		Expect(err).To(BeNil())
		Expect(cache.Len()).To(Equal(1))

		cache.Purge()
		Expect(cache.Len()).To(Equal(0))

		deleted, err := cache.PurgeShared(ctx)
		Expect(err).To(BeNil())
		Expect(deleted).To(Equal(0))
	})
})
