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
	"errors"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected = errors.New("not connected to NATS server")
)

// Config describes how to reach the NATS server
type Config struct {
	Server      string
	Credentials string
}

// Messenger publishes folio events on NATS JetStream and consumes queued
// valuation requests
type Messenger struct {
	conn      *nats.Conn
	jetStream nats.JetStreamContext
}

func Connect(cfg Config) (*Messenger, error) {
	log.Info().Str("NATSServer", cfg.Server).Str("Credentials", cfg.Credentials).Msg("connecting to NATS server")

	opts := []nats.Option{nats.Name("folio")}
	if cfg.Credentials != "" {
		opts = append(opts, nats.UserCredentials(cfg.Credentials))
	}

	conn, err := nats.Connect(cfg.Server, opts...)
	if err != nil {
		log.Error().Err(err).Msg("could not connect to NATS server")
		return nil, err
	}

	// get jetstream connection
	js, err := conn.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		log.Error().Err(err).Msg("could not create jetstream context")
		conn.Close()
		return nil, err
	}

	return &Messenger{
		conn:      conn,
		jetStream: js,
	}, nil
}

// Publish serializes v to JSON and publishes it on subject
func (m *Messenger) Publish(subject string, v interface{}) error {
	if m == nil || m.jetStream == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("Subject", subject).Msg("could not serialize message to JSON")
		return err
	}

	if _, err := m.jetStream.Publish(subject, payload); err != nil {
		log.Error().Err(err).Str("Subject", subject).Msg("could not publish message")
		return err
	}

	return nil
}

// Close drains pending messages and closes the connection
func (m *Messenger) Close() {
	if m == nil || m.conn == nil {
		return
	}
	if err := m.conn.Drain(); err != nil {
		log.Warn().Err(err).Msg("could not drain NATS connection")
	}
}
