// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lineup

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInning   = errors.New("inning out of range")
	ErrNoSourceInning  = errors.New("no earlier inning to copy from")
	ErrNotSwappable    = errors.New("players cannot be swapped in this inning")
	ErrUnknownMode     = errors.New("unknown swap mode")
	ErrUnknownPosition = errors.New("unknown field position")
	ErrUnknownPlayer   = errors.New("player is not in this inning")

	// ErrIneligible is wrapped by every IneligibleSwapError.
	ErrIneligible = errors.New("ineligible swap")
)

// IneligibleSwapError reports a batting slot entry that breaks the starter
// or substitute re-entry rules. It is always recoverable: the swap was not
// applied.
type IneligibleSwapError struct {
	Player PlayerID
	Slot   int
	Reason string
}

func (e *IneligibleSwapError) Error() string {
	return fmt.Sprintf("player %d cannot enter slot #%d: %s", e.Player, e.Slot, e.Reason)
}

func (e *IneligibleSwapError) Unwrap() error {
	return ErrIneligible
}
