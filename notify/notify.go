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

// Package notify delivers operator alerts such as ingestion failure reports.
package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

var (
	ErrNoRecipient     = errors.New("notification has no recipient")
	ErrDeliveryFailed  = errors.New("notification delivery failed")
	ErrMissingAPIKey   = errors.New("sendgrid api key is not configured")
	ErrMissingFromAddr = errors.New("notification sender address is not configured")
)

// Notifier sends a message to a single recipient
type Notifier interface {
	Notify(ctx context.Context, recipient, subject, body string) error
}

// Log writes notifications to the application log. It is used when no
// e-mail provider is configured.
type Log struct{}

func (Log) Notify(ctx context.Context, recipient, subject, body string) error {
	if recipient == "" {
		return ErrNoRecipient
	}
	log.Warn().Str("Recipient", recipient).Str("Subject", subject).Str("Body", body).Msg("notification")
	return nil
}
