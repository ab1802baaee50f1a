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
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/modelfolio/folio/data"
)

const infyURL = "https://api.tiingo.com/iex/?tickers=infy&token=TEST"

func isPermanent(err error) bool {
	var permanent *backoff.PermanentError
	return errors.As(err, &permanent)
}

var _ = Describe("Tiingo", func() {
	var (
		tiingo *data.Tiingo
		infy   data.SymbolKey
	)

	BeforeEach(func() {
		httpmock.Activate()
		tiingo = data.NewTiingo("TEST", "", 0)
		infy = data.SymbolKey{Ticker: "INFY", Exchange: data.NSE}
	})

	AfterEach(func() {
		httpmock.DeactivateAndReset()
	})

	It("returns the tiingo last price", func() {
		content, err := os.ReadFile("../testdata/tiingo_iex_infy.json")
		Expect(err).To(BeNil())
		httpmock.RegisterResponder("GET", infyURL, httpmock.NewBytesResponder(200, content))

		quote, err := tiingo.Fetch(context.Background(), infy)
		Expect(err).To(BeNil())
		Expect(quote.Price.String()).To(Equal("17.64"))
		Expect(quote.AsOf).To(BeTemporally("==", time.Date(2023, 7, 17, 10, 0, 0, 0, time.UTC)))
	})

	It("falls back to the last sale price", func() {
		httpmock.RegisterResponder("GET", infyURL,
			httpmock.NewStringResponder(200, `[{"ticker":"INFY","timestamp":"2023-07-17T10:00:00Z","tngoLast":null,"last":17.65}]`))

		quote, err := tiingo.Fetch(context.Background(), infy)
		Expect(err).To(BeNil())
		Expect(quote.Price.String()).To(Equal("17.65"))
	})

	DescribeTable("classifies failed responses",
		func(status int, body string, expected error, permanent bool) {
			httpmock.RegisterResponder("GET", infyURL, httpmock.NewStringResponder(status, body))

			_, err := tiingo.Fetch(context.Background(), infy)
			Expect(err).To(MatchError(expected))
			Expect(isPermanent(err)).To(Equal(permanent))
		},
		Entry("rate limited", 429, "", data.ErrProviderStatus, false),
		Entry("server error", 503, "", data.ErrProviderStatus, false),
		Entry("bad token", 401, "", data.ErrProviderStatus, true),
		Entry("unknown ticker", 200, "[]", data.ErrSymbolNotFound, true),
		Entry("malformed body", 200, "<html>", data.ErrInvalidQuote, true),
		Entry("no price", 200, `[{"ticker":"INFY","timestamp":"2023-07-17T10:00:00Z"}]`, data.ErrInvalidQuote, true),
		Entry("zero price", 200, `[{"ticker":"INFY","timestamp":"2023-07-17T10:00:00Z","tngoLast":0}]`, data.ErrInvalidQuote, true),
	)

	It("treats transport errors as retryable", func() {
		httpmock.RegisterResponder("GET", infyURL, httpmock.NewErrorResponder(errors.New("connection reset by peer")))

		_, err := tiingo.Fetch(context.Background(), infy)
		Expect(err).ToNot(BeNil())
		Expect(isPermanent(err)).To(BeFalse())
	})

	It("refuses exchanges it does not serve without calling upstream", func() {
		supriya := data.SymbolKey{Ticker: "SUPRIYA", Exchange: data.BSE}

		_, err := tiingo.Fetch(context.Background(), supriya)
		Expect(err).To(MatchError(data.ErrUnsupportedExchange))
		Expect(isPermanent(err)).To(BeTrue())
		Expect(httpmock.GetTotalCallCount()).To(Equal(0))
	})

	It("maps configured exchanges onto the provider ticker", func() {
		httpmock.RegisterResponder("GET", "https://api.tiingo.com/iex/?tickers=supriya.bse&token=TEST",
			httpmock.NewStringResponder(200, `[{"ticker":"SUPRIYA.BSE","timestamp":"2023-07-17T10:00:00Z","tngoLast":412.35}]`))

		quote, err := tiingo.WithExchange(data.BSE, ".bse").Fetch(context.Background(), data.SymbolKey{Ticker: "SUPRIYA", Exchange: data.BSE})
		Expect(err).To(BeNil())
		Expect(quote.Price.String()).To(Equal("412.35"))
	})

	It("honors a cancelled context", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := tiingo.Fetch(ctx, infy)
		Expect(err).To(MatchError(context.Canceled))
		Expect(httpmock.GetTotalCallCount()).To(Equal(0))
	})
})
