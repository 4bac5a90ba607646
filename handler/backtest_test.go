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

package handler_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pvbt/backtest"
	"github.com/penny-vault/pvbt/data"
	"github.com/penny-vault/pvbt/dataframe"
	"github.com/penny-vault/pvbt/handler"
	"github.com/penny-vault/pvbt/portfolio"
)

type stubRunner struct {
	result   *backtest.Backtest
	err      error
	spec     *portfolio.Spec
	deadline bool
}

func (r *stubRunner) Run(ctx context.Context, spec *portfolio.Spec) (*backtest.Backtest, error) {
	r.spec = spec
	_, r.deadline = ctx.Deadline()
	return r.result, r.err
}

const validBody = `{
	"assets": [{"ticker": "VFINX", "weight": 0.6}, {"ticker": "VUSTX", "weight": 0.4}],
	"initial_investment": 10000,
	"start_date": "2021-01-01",
	"end_date": "2021-12-31",
	"benchmark_ticker": null,
	"rebalance": "Monthly"
}`

func post(app *fiber.App, body string) (int, map[string]interface{}) {
	req := httptest.NewRequest("POST", "/backtest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	Expect(err).To(BeNil())
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	Expect(err).To(BeNil())
	parsed := map[string]interface{}{}
	Expect(json.Unmarshal(raw, &parsed)).To(Succeed(), string(raw))
	return resp.StatusCode, parsed
}

func sampleBacktest() *backtest.Backtest {
	sharpe := 1.25
	annualized := 0.08
	curve := &portfolio.EquityCurve{
		Dates:  []time.Time{time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC), time.Date(2021, 1, 5, 0, 0, 0, 0, time.UTC)},
		Values: []float64{10_000, 10_100},
	}
	return &backtest.Backtest{
		Portfolio: &backtest.Performance{
			Curve: curve,
			Metrics: &portfolio.Metrics{
				FinalValue:       10_100,
				TotalReturn:      0.01,
				AnnualizedReturn: &annualized,
				SharpeRatio:      &sharpe,
			},
		},
	}
}

var _ = Describe("RunBacktest", func() {
	var (
		app    *fiber.App
		runner *stubRunner
	)

	BeforeEach(func() {
		runner = &stubRunner{result: sampleBacktest()}
		app = fiber.New(fiber.Config{ErrorHandler: handler.ErrorHandler})
		app.Post("/backtest", handler.RunBacktest(runner, 5*time.Second))
	})

	It("returns the performance report", func() {
		code, body := post(app, validBody)
		Expect(code).To(Equal(fiber.StatusOK))
		Expect(body).To(HaveKey("portfolio_performance"))
		Expect(body).ToNot(HaveKey("benchmark_performance"))

		perf := body["portfolio_performance"].(map[string]interface{})
		Expect(perf["dates"]).To(Equal([]interface{}{"2021-01-04", "2021-01-05"}))
		Expect(perf["values"]).To(Equal([]interface{}{10_000.0, 10_100.0}))
		Expect(perf["final_value"]).To(Equal(10_100.0))
		Expect(perf["sharpe_ratio"]).To(Equal(1.25))
		Expect(perf["max_drawdown"]).To(Equal(0.0))

		Expect(runner.spec.Rebalance).To(Equal(portfolio.RebalanceMonthly))
		Expect(runner.deadline).To(BeTrue())
	})

	It("serializes undefined metrics as null", func() {
		runner.result.Portfolio.Metrics.SharpeRatio = nil
		_, body := post(app, validBody)
		perf := body["portfolio_performance"].(map[string]interface{})
		Expect(perf).To(HaveKeyWithValue("sharpe_ratio", BeNil()))
	})

	It("lists validation problems with their location", func() {
		code, body := post(app, `{
			"assets": [{"ticker": "VFINX", "weight": 0.5}, {"ticker": "VUSTX", "weight": 0.4}],
			"start_date": "2021-01-01",
			"end_date": "2021-12-31"
		}`)
		Expect(code).To(Equal(fiber.StatusUnprocessableEntity))
		detail := body["detail"].([]interface{})
		Expect(detail).To(HaveLen(1))
		issue := detail[0].(map[string]interface{})
		Expect(issue["loc"]).To(Equal([]interface{}{"body", "assets"}))
		Expect(issue["type"]).To(Equal("value_error"))
		Expect(issue["msg"]).To(ContainSubstring("sum to 1"))
		Expect(runner.spec).To(BeNil())
	})

	It("rejects malformed JSON", func() {
		code, body := post(app, `{"assets": [`)
		Expect(code).To(Equal(fiber.StatusUnprocessableEntity))
		issue := body["detail"].([]interface{})[0].(map[string]interface{})
		Expect(issue["loc"]).To(Equal([]interface{}{"body"}))
	})

	DescribeTable("maps engine errors to statuses",
		func(err error, status int) {
			runner.err = err
			runner.result = nil
			code, body := post(app, validBody)
			Expect(code).To(Equal(status))
			Expect(body["detail"]).To(BeAssignableToTypeOf(""))
		},
		Entry("unknown ticker", &data.DataUnavailableError{Ticker: "XXXX", Err: data.ErrNotFound}, fiber.StatusNotFound),
		Entry("too little data", &dataframe.InsufficientDataError{NumDates: 1}, fiber.StatusConflict),
		Entry("missing bar", &dataframe.MissingBarError{Ticker: "VFINX", Err: dataframe.ErrBarMissing}, fiber.StatusConflict),
		Entry("upstream failure", &data.UpstreamFetchError{Provider: "yahoo", Ticker: "VFINX", StatusCode: 503, Err: data.ErrUpstream}, fiber.StatusBadGateway),
		Entry("upstream timeout", &data.UpstreamFetchError{Provider: "yahoo", Ticker: "VFINX", Err: context.DeadlineExceeded}, fiber.StatusGatewayTimeout),
		Entry("abandoned wait", &data.UpstreamFetchError{Provider: "yahoo", Ticker: "VFINX", Err: context.Canceled}, fiber.StatusBadGateway),
		Entry("wrapped failure", fmt.Errorf("fetch: %w", &data.DataUnavailableError{Ticker: "X", Err: data.ErrNoData}), fiber.StatusNotFound),
		Entry("anything else", errors.New("boom"), fiber.StatusInternalServerError),
	)

	It("hides internal error messages", func() {
		runner.err = errors.New("secret connection string")
		runner.result = nil
		_, body := post(app, validBody)
		Expect(body["detail"]).To(Equal("internal server error"))
	})
})
