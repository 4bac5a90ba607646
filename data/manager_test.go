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

// scriptedProvider returns canned series and can fail the first N calls per ticker
type scriptedProvider struct {
	locker    sync.Mutex
	failures  map[string][]error
	calls     map[string]int
	active    int32
	maxActive int32
	delay     time.Duration
}

func newScriptedProvider() *scriptedProvider {
	return &scriptedProvider{
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) GetEod(ctx context.Context, ticker string, interval *data.Interval) (*data.PriceSeries, error) {
	active := atomic.AddInt32(&p.active, 1)
	defer atomic.AddInt32(&p.active, -1)
	for {
		current := atomic.LoadInt32(&p.maxActive)
		if active <= current || atomic.CompareAndSwapInt32(&p.maxActive, current, active) {
			break
		}
	}

	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.locker.Lock()
	idx := p.calls[ticker]
	p.calls[ticker]++
	var err error
	if idx < len(p.failures[ticker]) {
		err = p.failures[ticker][idx]
	}
	p.locker.Unlock()

	if err != nil {
		return nil, err
	}

	return &data.PriceSeries{
		Ticker: ticker,
		Bars: []data.Eod{
			{Date: interval.Begin, Close: 100},
			{Date: interval.End, Close: 101},
		},
	}, nil
}

func (p *scriptedProvider) callCount(ticker string) int {
	p.locker.Lock()
	defer p.locker.Unlock()
	return p.calls[ticker]
}

var _ = Describe("Manager", func() {
	var (
		ctx      context.Context
		provider *scriptedProvider
		interval *data.Interval
	)

	BeforeEach(func() {
		ctx = context.Background()
		provider = newScriptedProvider()
		interval = data.NewInterval(day(2021, 1, 4), day(2021, 12, 31))
	})

	It("fetches every unique ticker", func() {
		manager := data.NewManager(provider, nil, 4, 1)
		res, err := manager.FetchAll(ctx, []string{"vfinx", "PRIDX", "VFINX"}, interval)
		Expect(err).To(BeNil())
		Expect(res).To(HaveLen(2))
		Expect(res).To(HaveKey("VFINX"))
		Expect(res).To(HaveKey("PRIDX"))
		Expect(provider.callCount("VFINX")).To(Equal(1))
	})

	It("never runs more workers than the configured limit", func() {
		provider.delay = 10 * time.Millisecond
		manager := data.NewManager(provider, nil, 2, 0)
		_, err := manager.FetchAll(ctx, []string{"A", "B", "C", "D", "E", "F"}, interval)
		Expect(err).To(BeNil())
		Expect(atomic.LoadInt32(&provider.maxActive)).To(BeNumerically("<=", 2))
	})

	It("retries an upstream failure once", func() {
		provider.failures["VFINX"] = []error{&data.UpstreamFetchError{Provider: "scripted", Ticker: "VFINX", Err: data.ErrUpstream}}
		manager := data.NewManager(provider, nil, 4, 1)
		res, err := manager.FetchAll(ctx, []string{"VFINX"}, interval)
		Expect(err).To(BeNil())
		Expect(res["VFINX"].Len()).To(Equal(2))
		Expect(provider.callCount("VFINX")).To(Equal(2))
	})

	It("gives up after the retry budget is spent", func() {
		upstream := &data.UpstreamFetchError{Provider: "scripted", Ticker: "VFINX", Err: data.ErrUpstream}
		provider.failures["VFINX"] = []error{upstream, upstream}
		manager := data.NewManager(provider, nil, 4, 1)
		_, err := manager.FetchAll(ctx, []string{"VFINX"}, interval)

		var target *data.UpstreamFetchError
		Expect(errors.As(err, &target)).To(BeTrue())
		Expect(provider.callCount("VFINX")).To(Equal(2))
	})

	It("does not retry when the data is unavailable", func() {
		provider.failures["NOPE"] = []error{&data.DataUnavailableError{Ticker: "NOPE", Err: data.ErrNotFound}}
		manager := data.NewManager(provider, nil, 4, 1)
		res, err := manager.FetchAll(ctx, []string{"VFINX", "NOPE"}, interval)

		Expect(res).To(BeNil())
		var target *data.DataUnavailableError
		Expect(errors.As(err, &target)).To(BeTrue())
		Expect(target.Ticker).To(Equal("NOPE"))
		Expect(provider.callCount("NOPE")).To(Equal(1))
	})

	It("serves repeated requests from the cache", func() {
		cache, err := data.NewPriceCache(8, nil, time.Hour)
		Expect(err).To(BeNil())
		manager := data.NewManager(provider, cache, 4, 1)

		for ii := 0; ii < 3; ii++ {
			_, err := manager.FetchAll(ctx, []string{"VFINX", "PRIDX"}, interval)
			Expect(err).To(BeNil())
		}

		Expect(provider.callCount("VFINX")).To(Equal(1))
		Expect(provider.callCount("PRIDX")).To(Equal(1))
		Expect(manager.Cache().Len()).To(Equal(2))
	})

	It("rejects an inverted interval", func() {
		manager := data.NewManager(provider, nil, 4, 1)
		_, err := manager.FetchAll(ctx, []string{"VFINX"}, data.NewInterval(day(2022, 1, 1), day(2021, 1, 1)))
		Expect(err).To(MatchError(data.ErrBeginAfterEnd))
	})
})
