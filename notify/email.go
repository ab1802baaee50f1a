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

package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const DefaultSendGridHost = "https://api.sendgrid.com"

// Email delivers notifications through the SendGrid v3 mail API
type Email struct {
	APIKey      string
	Host        string
	FromName    string
	FromAddress string
}

func NewEmail(apiKey, fromName, fromAddress string) (*Email, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if fromAddress == "" {
		return nil, ErrMissingFromAddr
	}
	return &Email{
		APIKey:      apiKey,
		Host:        DefaultSendGridHost,
		FromName:    fromName,
		FromAddress: fromAddress,
	}, nil
}

func (e *Email) Notify(ctx context.Context, recipient, subject, body string) error {
	if recipient == "" {
		return ErrNoRecipient
	}

	subLog := log.With().Str("Recipient", recipient).Str("Subject", subject).Logger()

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(e.FromName, e.FromAddress))
	m.Subject = subject

	person := mail.NewPersonalization()
	person.AddTos(mail.NewEmail("", recipient))
	m.AddPersonalizations(person)
	m.AddContent(mail.NewContent("text/plain", body))

	request := sendgrid.GetRequest(e.APIKey, "/v3/mail/send", e.Host)
	request.Method = "POST"
	request.Body = mail.GetRequestBody(m)

	response, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not send notification e-mail")
		return fmt.Errorf("%w: %s", ErrDeliveryFailed, err)
	}

	if response.StatusCode >= 300 {
		subLog.Error().Int("StatusCode", response.StatusCode).Str("Body", response.Body).Msg("sendgrid rejected notification e-mail")
		return fmt.Errorf("%w: status %d", ErrDeliveryFailed, response.StatusCode)
	}

	subLog.Info().Int("StatusCode", response.StatusCode).Strs("MessageID", response.Headers["X-Message-Id"]).Msg("sent notification e-mail")
	return nil
}
