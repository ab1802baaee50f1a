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

package messenger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/modelfolio/folio/portfolio"
)

var (
	ErrInvalidRequest = errors.New("invalid valuation request")
)

// ValuationRequest asks the serve daemon to value a portfolio out of schedule
type ValuationRequest struct {
	PortfolioID string `json:"portfolio_id"`
	Mode        string `json:"mode"`
	RequestTime string `json:"request_time"`
}

func NewValuationRequest(id uuid.UUID, mode portfolio.PriceMode, now time.Time) *ValuationRequest {
	return &ValuationRequest{
		PortfolioID: id.String(),
		Mode:        mode.String(),
		RequestTime: now.Format(time.RFC3339),
	}
}

// Parse validates the request and returns the portfolio id and price mode
func (req *ValuationRequest) Parse() (uuid.UUID, portfolio.PriceMode, error) {
	id, err := uuid.Parse(req.PortfolioID)
	if err != nil {
		return uuid.Nil, portfolio.RegularPrice, fmt.Errorf("%w: portfolio id %q", ErrInvalidRequest, req.PortfolioID)
	}
	mode, err := portfolio.ParsePriceMode(req.Mode)
	if err != nil {
		return uuid.Nil, portfolio.RegularPrice, fmt.Errorf("%w: %s", ErrInvalidRequest, err)
	}
	return id, mode, nil
}

// DecodeValuationRequest parses a queued request payload
func DecodeValuationRequest(data []byte) (*ValuationRequest, error) {
	req := &ValuationRequest{}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, err)
	}
	if _, _, err := req.Parse(); err != nil {
		return nil, err
	}
	return req, nil
}

// RequestValuation queues a valuation request
func (m *Messenger) RequestValuation(subject string, req *ValuationRequest) error {
	return m.Publish(subject, req)
}

// pullSubscription is the part of *nats.Subscription the request queue uses
type pullSubscription interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
	Drain() error
}

// RequestQueue pulls valuation requests from a durable consumer through a
// single subscription that lives until Close
type RequestQueue struct {
	sub  pullSubscription
	wait time.Duration
}

// ValuationRequests binds to the durable consumer on subject. The consumer must
// already exist.
func (m *Messenger) ValuationRequests(subject, consumer string) (*RequestQueue, error) {
	if m == nil || m.jetStream == nil {
		return nil, ErrNotConnected
	}

	sub, err := m.jetStream.PullSubscribe(subject, consumer)
	if err != nil {
		log.Error().Err(err).Str("Subject", subject).Str("Consumer", consumer).Msg("could not connect to durable consumer (note: make sure the consumer already exists)")
		return nil, err
	}

	return newRequestQueue(sub, 5*time.Second), nil
}

func newRequestQueue(sub pullSubscription, wait time.Duration) *RequestQueue {
	return &RequestQueue{sub: sub, wait: wait}
}

// Next waits up to the queue's poll interval for one request. A nil message
// with a nil error means the queue is empty. Callers must Ack, Nak or Term the
// returned message. Malformed payloads are terminated and reported as
// ErrInvalidRequest.
func (q *RequestQueue) Next(ctx context.Context) (*ValuationRequest, *nats.Msg, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, q.wait)
	defer cancel()

	msgs, err := q.sub.Fetch(1, nats.Context(fetchCtx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			log.Debug().Msg("no valuation requests available in queue")
			return nil, nil, nil
		}
		log.Error().Err(err).Msg("could not fetch new messages")
		return nil, nil, err
	}

	if len(msgs) == 0 {
		return nil, nil, nil
	}

	msg := msgs[0]
	req, err := DecodeValuationRequest(msg.Data)
	if err != nil {
		log.Warn().Err(err).Str("Payload", string(msg.Data)).Msg("discarding malformed valuation request")
		if termErr := msg.Term(); termErr != nil {
			log.Error().Err(termErr).Msg("could not terminate malformed message")
		}
		return nil, nil, err
	}

	return req, msg, nil
}

// Close drains the subscription so in-flight messages finish before it is removed
func (q *RequestQueue) Close() error {
	return q.sub.Drain()
}
