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

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"

	"github.com/modelfolio/folio/data"
)

var (
	ErrFetchExhausted      = errors.New("price fetch retries exhausted")
	ErrProviderUnreachable = errors.New("price provider is unreachable")
	ErrUnknownRunKind      = errors.New("unknown run kind")
)

type RunKind int

const (
	RegularRun RunKind = iota
	ClosingRun
)

func (k RunKind) String() string {
	if k == ClosingRun {
		return "closing"
	}
	return "regular"
}

func (k RunKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func ParseRunKind(s string) (RunKind, error) {
	switch s {
	case "regular":
		return RegularRun, nil
	case "closing":
		return ClosingRun, nil
	default:
		return RegularRun, fmt.Errorf("%w: %q", ErrUnknownRunKind, s)
	}
}

// Failure records a symbol whose price could not be fetched. It matches
// ErrFetchExhausted with errors.Is and unwraps to the last provider error.
type Failure struct {
	Symbol   data.SymbolKey `json:"symbol"`
	Attempts int            `json:"attempts"`
	Reason   string         `json:"reason"`
	Err      error          `json:"-"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s after %d attempt(s): %s", f.Symbol, ErrFetchExhausted, f.Attempts, f.Reason)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func (f *Failure) Is(target error) bool {
	return target == ErrFetchExhausted
}

// Kind classifies the failure for callers that map errors to kinds
func (f *Failure) Kind() string {
	return "IngestionBatchFailure"
}

// RunSummary describes the outcome of one ingestion run
type RunSummary struct {
	RunID     uuid.UUID     `json:"run_id"`
	Kind      RunKind       `json:"kind"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Total     int           `json:"total"`
	Updated   int           `json:"updated"`
	Failures  []*Failure    `json:"failures"`
}

func newRunSummary(kind RunKind, startedAt time.Time) *RunSummary {
	return &RunSummary{
		RunID:     uuid.New(),
		Kind:      kind,
		StartedAt: startedAt,
		Failures:  make([]*Failure, 0),
	}
}

// FailureRate is the fraction of tracked symbols that failed; zero when
// nothing was tracked
func (s *RunSummary) FailureRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(len(s.Failures)) / float64(s.Total)
}

func (s *RunSummary) MarshalZerologObject(e *zerolog.Event) {
	e.Str("RunID", s.RunID.String())
	e.Str("Kind", s.Kind.String())
	e.Time("StartedAt", s.StartedAt)
	e.Dur("Duration", s.Duration)
	e.Int("Total", s.Total)
	e.Int("Updated", s.Updated)
	e.Int("Failed", len(s.Failures))
}

// Subject is the headline used for alert notifications
func (s *RunSummary) Subject() string {
	return fmt.Sprintf("folio %s price ingestion: %d of %d symbols failed", s.Kind, len(s.Failures), s.Total)
}

// Report renders the summary as plain text with a table of failures
func (s *RunSummary) Report() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Run:       %s\n", s.RunID)
	fmt.Fprintf(&sb, "Kind:      %s\n", s.Kind)
	fmt.Fprintf(&sb, "Started:   %s\n", s.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Duration:  %s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(&sb, "Updated:   %d of %d\n", s.Updated, s.Total)
	fmt.Fprintf(&sb, "Failed:    %d (%.1f%%)\n\n", len(s.Failures), s.FailureRate()*100)

	if len(s.Failures) == 0 {
		return sb.String()
	}

	table := tablewriter.NewWriter(&sb)
	table.SetHeader([]string{"Symbol", "Attempts", "Reason"})
	table.SetAutoWrapText(false)
	for _, f := range s.Failures {
		table.Append([]string{f.Symbol.String(), strconv.Itoa(f.Attempts), f.Reason})
	}
	table.Render()

	return sb.String()
}
