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

package ingest

import "time"

// Config controls batching, retries and alerting of ingestion runs
type Config struct {
	BatchSize    int
	BatchDelay   time.Duration
	RetryDelay   time.Duration
	FetchTimeout time.Duration
	MaxAttempts  int

	// AlertFailureRate is the fraction of failed symbols above which the
	// alert recipients are notified
	AlertFailureRate float64
	AlertRecipients  []string
	SummarySubject   string

	RegularSchedules []string
	ClosingSchedule  string
}

func DefaultConfig() Config {
	return Config{
		BatchSize:        50,
		BatchDelay:       2 * time.Second,
		RetryDelay:       time.Second,
		FetchTimeout:     30 * time.Second,
		MaxAttempts:      3,
		AlertFailureRate: 0.2,
		SummarySubject:   "folio.ingest.summary",
		RegularSchedules: []string{"@open 15", "@close -60"},
		ClosingSchedule:  "@close 15",
	}
}

// normalize replaces unusable values with their defaults
func (cfg Config) normalize() Config {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	return cfg
}
