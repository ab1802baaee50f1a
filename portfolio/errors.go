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
	"errors"

	"github.com/modelfolio/folio/data"
)

// Kinder is implemented by errors from other packages that carry their own kind
type Kinder interface {
	Kind() string
}

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrInsufficientCash, "InsufficientCash"},
	{ErrInvalidQuantity, "InvalidQuantity"},
	{ErrInvalidPrice, "InvalidPrice"},
	{ErrAlreadyClosed, "AlreadyClosed"},
	{ErrHoldingNotFound, "HoldingNotFound"},
	{ErrPortfolioNotFound, "PortfolioNotFound"},
	{ErrPortfolioExists, "PortfolioExists"},
	{ErrConcurrentModification, "ConcurrentModification"},
	{ErrNegativeCash, "CriticalError"},
	{ErrNegativeQuantity, "CriticalError"},
	{ErrUnknownOrderKind, "InvalidOrder"},
	{data.ErrPriceUnavailable, "PriceUnavailable"},
	{data.ErrSymbolNotFound, "PriceUnavailable"},
}

// ErrorKind maps err to a machine readable kind for callers. Unknown errors
// are "Internal" and nil is "".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}

	var k Kinder
	if errors.As(err, &k) {
		return k.Kind()
	}

	for _, ek := range errorKinds {
		if errors.Is(err, ek.err) {
			return ek.kind
		}
	}

	return "Internal"
}
