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

package portfolio

import (
	"time"

	"github.com/google/uuid"
)

// Step tags one stage of a valuation run in the calculation trace
type Step string

const (
	StepPriceFetch       Step = "STEP_1_PRICE_FETCH"
	StepHoldingValuation Step = "STEP_2_HOLDING_VALUATION"
	StepMinInvestment    Step = "STEP_3_MIN_INVESTMENT_CHECK"
	StepCashBalance      Step = "STEP_4_CASH_BALANCE"
	StepTotalValue       Step = "STEP_5_TOTAL_VALUE"
	StepSummary          Step = "STEP_6_SUMMARY"
	StepCompletion       Step = "COMPLETION"
	StepCriticalError    Step = "CRITICAL_ERROR"
)

const (
	StatusCompleted         = "completed"
	StatusCompletedWarnings = "completed_with_warnings"
	StatusFailed            = "failed"
)

type TraceEntry struct {
	Step    Step              `json:"step"`
	At      time.Time         `json:"at"`
	Input   map[string]string `json:"input,omitempty"`
	Output  map[string]string `json:"output,omitempty"`
	Message string            `json:"message,omitempty"`
}

// CalculationLog is the audit trace of one valuation run
type CalculationLog struct {
	ID          uuid.UUID    `json:"id"`
	PortfolioID uuid.UUID    `json:"portfolioID"`
	Mode        string       `json:"mode"`
	Status      string       `json:"status"`
	StartedAt   time.Time    `json:"startedAt"`
	CompletedAt time.Time    `json:"completedAt"`
	Steps       []TraceEntry `json:"steps"`
	Warnings    []string     `json:"warnings,omitempty"`
}

func newCalculationLog(portfolioID uuid.UUID, mode PriceMode, now time.Time) *CalculationLog {
	return &CalculationLog{
		ID:          uuid.New(),
		PortfolioID: portfolioID,
		Mode:        mode.String(),
		StartedAt:   now,
		Steps:       make([]TraceEntry, 0, 7),
	}
}

func (l *CalculationLog) record(step Step, at time.Time, input, output map[string]string) {
	l.Steps = append(l.Steps, TraceEntry{
		Step:   step,
		At:     at,
		Input:  input,
		Output: output,
	})
}

func (l *CalculationLog) warn(msg string) {
	l.Warnings = append(l.Warnings, msg)
}

func (l *CalculationLog) fail(at time.Time, err error) {
	l.Steps = append(l.Steps, TraceEntry{
		Step:    StepCriticalError,
		At:      at,
		Message: err.Error(),
	})
	l.Status = StatusFailed
	l.CompletedAt = at
}

func (l *CalculationLog) complete(at time.Time) {
	l.record(StepCompletion, at, nil, nil)
	l.Status = StatusCompleted
	if len(l.Warnings) > 0 {
		l.Status = StatusCompletedWarnings
	}
	l.CompletedAt = at
}

// Failed reports whether the run ended in a CRITICAL_ERROR
func (l *CalculationLog) Failed() bool {
	return l.Status == StatusFailed
}
