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

// SourceID recomputes the fingerprint of t from its fields
func SourceID(t *Transaction) []byte {
	clone := *t
	if err := computeTransactionSourceID(&clone); err != nil {
		panic(err)
	}
	return clone.SourceID
}

// HeldLocks reports how many portfolios currently have a lock entry
func (pr *Processor) HeldLocks() int {
	pr.locksMu.Lock()
	defer pr.locksMu.Unlock()
	return len(pr.locks)
}
