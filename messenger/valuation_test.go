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

package messenger_test

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/modelfolio/folio/messenger"
	"github.com/modelfolio/folio/portfolio"
)

var _ = Describe("ValuationRequest", func() {
	It("round trips through the queue payload", func() {
		id := uuid.New()
		at := time.Date(2023, 7, 17, 16, 0, 0, 0, time.UTC)
		payload, err := json.Marshal(messenger.NewValuationRequest(id, portfolio.ClosingPrice, at))
		Expect(err).To(BeNil())
		Expect(string(payload)).To(ContainSubstring(`"mode":"closing"`))

		req, err := messenger.DecodeValuationRequest(payload)
		Expect(err).To(BeNil())
		parsedID, mode, err := req.Parse()
		Expect(err).To(BeNil())
		Expect(parsedID).To(Equal(id))
		Expect(mode).To(Equal(portfolio.ClosingPrice))
		Expect(req.RequestTime).To(Equal("2023-07-17T16:00:00Z"))
	})

	DescribeTable("rejects malformed requests",
		func(payload string) {
			_, err := messenger.DecodeValuationRequest([]byte(payload))
			Expect(err).To(MatchError(messenger.ErrInvalidRequest))
		},
		Entry("not json", `portfolio please`),
		Entry("bad portfolio id", `{"portfolio_id":"abc","mode":"regular"}`),
		Entry("unknown mode", `{"portfolio_id":"8b7d7e59-8a9e-4d5a-9b59-5f0a3c4f7a11","mode":"intraday"}`),
	)

	It("defaults an empty mode to regular pricing", func() {
		req, err := messenger.DecodeValuationRequest([]byte(`{"portfolio_id":"8b7d7e59-8a9e-4d5a-9b59-5f0a3c4f7a11"}`))
		Expect(err).To(BeNil())
		_, mode, err := req.Parse()
		Expect(err).To(BeNil())
		Expect(mode).To(Equal(portfolio.RegularPrice))
	})

	It("refuses to publish without a connection", func() {
		var m *messenger.Messenger
		Expect(m.Publish("folio.ingest.summary", map[string]int{"total": 1})).To(MatchError(messenger.ErrNotConnected))
	})
})
