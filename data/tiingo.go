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
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/modelfolio/folio/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

const DefaultTiingoURL = "https://api.tiingo.com"

type tiingoIEXResponse struct {
	Ticker    string              `json:"ticker"`
	Timestamp time.Time           `json:"timestamp"`
	TngoLast  decimal.NullDecimal `json:"tngoLast"`
	Last      decimal.NullDecimal `json:"last"`
	PrevClose decimal.NullDecimal `json:"prevClose"`
}

// Tiingo fetches last traded prices from the Tiingo IEX endpoint
type Tiingo struct {
	apikey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter

	// exchange -> suffix appended to the ticker sent upstream
	exchanges map[Exchange]string
}

// NewTiingo creates a quote provider. A zero ratePerSecond disables rate limiting.
func NewTiingo(apikey, baseURL string, ratePerSecond float64) *Tiingo {
	if baseURL == "" {
		baseURL = DefaultTiingoURL
	}

	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}

	return &Tiingo{
		apikey:  apikey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		limiter: rate.NewLimiter(limit, 1),

		exchanges: map[Exchange]string{NSE: ""},
	}
}

// WithExchange lets the provider serve ex by appending suffix to the ticker.
// Only NSE is served by default.
func (t *Tiingo) WithExchange(ex Exchange, suffix string) *Tiingo {
	t.exchanges[ex] = suffix
	return t
}

func (t *Tiingo) providerTicker(key SymbolKey) (string, error) {
	suffix, ok := t.exchanges[key.Exchange]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedExchange, key)
	}
	return strings.ToLower(key.Ticker + suffix), nil
}

// Fetch returns the latest quote for key. Errors that cannot be cured by
// retrying are wrapped with backoff.Permanent.
func (t *Tiingo) Fetch(ctx context.Context, key SymbolKey) (*Quote, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "tiingo.Fetch")
	defer span.End()

	subLog := log.With().Str("Symbol", key.String()).Logger()

	span.SetAttributes(
		attribute.KeyValue{
			Key:   "Symbol",
			Value: attribute.StringValue(key.String()),
		},
	)

	ticker, err := t.providerTicker(key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "exchange not served")
		subLog.Warn().Msg("tiingo does not serve this exchange")
		return nil, backoff.Permanent(err)
	}

	if err := t.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limiter wait failed")
		return nil, err
	}

	params := url.Values{}
	params.Set("tickers", ticker)
	params.Set("token", t.apikey)
	reqURL := fmt.Sprintf("%s/iex/?%s", t.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		span.RecordError(err)
		return nil, backoff.Permanent(err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		span.RecordError(err)
		msg := "tiingo http request failed"
		span.SetStatus(codes.Error, msg)
		subLog.Warn().Err(err).Msg(msg)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		span.SetAttributes(attribute.KeyValue{
			Key:   "StatusCode",
			Value: attribute.IntValue(resp.StatusCode),
		})
		msg := "tiingo returned invalid response code"
		span.SetStatus(codes.Error, msg)
		subLog.Warn().Int("HTTPResponseStatusCode", resp.StatusCode).Msg(msg)
		err := fmt.Errorf("%w: %d", ErrProviderStatus, resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		msg := "could not read tiingo body"
		span.SetStatus(codes.Error, msg)
		subLog.Warn().Err(err).Msg(msg)
		return nil, err
	}

	jsonResp := []tiingoIEXResponse{}
	if err := json.Unmarshal(body, &jsonResp); err != nil {
		span.RecordError(err)
		msg := "could not unmarshal json"
		span.SetStatus(codes.Error, msg)
		subLog.Error().Err(err).Bytes("Body", body).Msg(msg)
		return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrInvalidQuote, err))
	}

	if len(jsonResp) == 0 {
		span.SetStatus(codes.Error, "symbol not found")
		return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrSymbolNotFound, key))
	}

	quote := jsonResp[0]
	var price decimal.Decimal
	switch {
	case quote.TngoLast.Valid:
		price = quote.TngoLast.Decimal
	case quote.Last.Valid:
		price = quote.Last.Decimal
	default:
		span.SetStatus(codes.Error, "no last price")
		return nil, backoff.Permanent(fmt.Errorf("%w: no last price for %s", ErrInvalidQuote, key))
	}

	if !price.IsPositive() {
		return nil, backoff.Permanent(fmt.Errorf("%w: non-positive price %s for %s", ErrInvalidQuote, price, key))
	}

	return &Quote{
		Price: price,
		AsOf:  quote.Timestamp,
	}, nil
}
