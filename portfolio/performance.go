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
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

const tradingDaysPerYear = 252.0

// DrawDown is a period in which the portfolio fell from a previous peak
type DrawDown struct {
	Begin       time.Time `json:"begin"`
	End         time.Time `json:"end"`
	Recovery    time.Time `json:"recovery"`
	LossPercent float64   `json:"lossPercent"`
}

// Performance summarizes a series of daily price logs
type Performance struct {
	Begin                time.Time `json:"begin"`
	End                  time.Time `json:"end"`
	StartValue           float64   `json:"startValue"`
	EndValue             float64   `json:"endValue"`
	TotalReturn          float64   `json:"totalReturn"`
	CAGR                 float64   `json:"cagr"`
	MeanDailyReturn      float64   `json:"meanDailyReturn"`
	DailyStdDev          float64   `json:"dailyStdDev"`
	AnnualizedVolatility float64   `json:"annualizedVolatility"`
	SharpeRatio          float64   `json:"sharpeRatio"`
	MaxDrawDown          *DrawDown `json:"maxDrawDown,omitempty"`
	Days                 int       `json:"days"`
}

// CalculatePerformance computes return and risk statistics over logs, which
// must be ordered oldest first. Statistics that need more observations than
// are available are NaN.
func CalculatePerformance(logs []*PriceLog) *Performance {
	perf := &Performance{
		TotalReturn:          math.NaN(),
		CAGR:                 math.NaN(),
		MeanDailyReturn:      math.NaN(),
		DailyStdDev:          math.NaN(),
		AnnualizedVolatility: math.NaN(),
		SharpeRatio:          math.NaN(),
		Days:                 len(logs),
	}

	if len(logs) == 0 {
		return perf
	}

	values := make([]float64, len(logs))
	for idx, entry := range logs {
		values[idx] = entry.TotalValue.InexactFloat64()
	}

	first := logs[0]
	last := logs[len(logs)-1]
	perf.Begin = first.Date
	perf.End = last.Date
	perf.StartValue = values[0]
	perf.EndValue = values[len(values)-1]

	if len(values) < 2 || perf.StartValue == 0 {
		return perf
	}

	perf.TotalReturn = perf.EndValue/perf.StartValue - 1.0

	// CAGR = (End / Start)^(1 / years) - 1
	years := last.Date.Sub(first.Date).Hours() / 24 / 365.25
	if years >= 1.0 {
		perf.CAGR = math.Pow(perf.EndValue/perf.StartValue, 1.0/years) - 1.0
	} else {
		perf.CAGR = perf.TotalReturn
	}

	rets := dailyReturns(values)
	perf.MeanDailyReturn = stat.Mean(rets, nil)
	if len(rets) > 1 {
		perf.DailyStdDev = stat.StdDev(rets, nil)
		perf.AnnualizedVolatility = perf.DailyStdDev * math.Sqrt(tradingDaysPerYear)
		if perf.DailyStdDev > 0 {
			// risk free rate is taken as zero
			perf.SharpeRatio = perf.MeanDailyReturn / perf.DailyStdDev * math.Sqrt(tradingDaysPerYear)
		}
	}

	perf.MaxDrawDown = maxDrawDown(logs, values)
	return perf
}

func dailyReturns(values []float64) []float64 {
	rets := make([]float64, 0, len(values)-1)
	for idx := 1; idx < len(values); idx++ {
		if values[idx-1] == 0 {
			continue
		}
		rets = append(rets, values[idx]/values[idx-1]-1.0)
	}
	return rets
}

// maxDrawDown returns the deepest peak to trough decline, or nil if the value
// never fell below a previous peak
func maxDrawDown(logs []*PriceLog, values []float64) *DrawDown {
	var (
		worst   *DrawDown
		current *DrawDown
		peak    = values[0]
		peakIdx = 0
	)

	for idx, v := range values {
		if v >= peak {
			if current != nil {
				current.Recovery = logs[idx].Date
				current = nil
			}
			peak = v
			peakIdx = idx
			continue
		}

		loss := v/peak - 1.0
		if current == nil {
			current = &DrawDown{Begin: logs[peakIdx].Date}
		}
		if loss < current.LossPercent {
			current.LossPercent = loss
			current.End = logs[idx].Date
		}
		if worst == nil || current.LossPercent < worst.LossPercent {
			worst = current
		}
	}

	return worst
}

func (o *DrawDown) MarshalZerologObject(e *zerolog.Event) {
	e.Time("Begin", o.Begin).Time("End", o.End).Time("RecoveryDate", o.Recovery).Float64("LossPercent", o.LossPercent)
}
