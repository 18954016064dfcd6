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
	"fmt"
)

// Rejection reasons returned by CanEnterSlot.
const (
	ReasonAlreadyReentered = "already re-entered once"
	ReasonSubstituteRule   = "cannot re-enter (substitute rule)"
	ReasonInvalidSlot      = "invalid slot"
)

// Decision is the outcome of an eligibility check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// CanEnterSlot decides whether player id may take batting slot (1-based) in
// the given inning.
//
// A starter may come back once, and only into their original slot. A
// substitute may enter any slot the first time, and never again once they
// have batted and been taken out.
func CanEnterSlot(id PlayerID, slot int, s *InningState) Decision {
	if slot < 1 || slot > Slots {
		return Decision{Reason: ReasonInvalidSlot}
	}
	original := s.OriginalSlots[id]

	if s.IsStarter(id) {
		if s.ReentryCount[id] >= 1 {
			return Decision{Reason: ReasonAlreadyReentered}
		}
		if original != 0 && slot != original {
			return Decision{Reason: fmt.Sprintf("must enter original slot #%d", original)}
		}
		return Decision{Allowed: true}
	}

	if s.IsRemoved(id) {
		return Decision{Reason: ReasonSubstituteRule}
	}
	if original == 0 {
		return Decision{Allowed: true}
	}
	// Batted before but not yet marked removed.
	return Decision{Reason: ReasonSubstituteRule}
}

// SwapOption is one candidate move offered for a player.
type SwapOption struct {
	Player Player `json:"player"`
	Slot   int    `json:"slot"`
	Decision
}

// SwapOptions lists the moves available to id in the given inning. For a
// batter, it is every bench player checked against the batter's slot. For a
// bench player, it is every slot checked for id. An unknown id yields nil.
func SwapOptions(id PlayerID, s *InningState) []SwapOption {
	if slot := s.BattingSlot(id); slot > 0 {
		opts := make([]SwapOption, 0, len(s.Subs))
		for _, sub := range s.Subs {
			opts = append(opts, SwapOption{Player: sub, Slot: slot, Decision: CanEnterSlot(sub.ID, slot, s)})
		}
		return opts
	}
	if !s.OnBench(id) {
		return nil
	}
	opts := make([]SwapOption, 0, len(s.BattingOrder))
	for i, p := range s.BattingOrder {
		opts = append(opts, SwapOption{Player: p, Slot: i + 1, Decision: CanEnterSlot(id, i+1, s)})
	}
	return opts
}

// Status describes where id stands with respect to the batting order.
func Status(id PlayerID, s *InningState) string {
	if slot := s.BattingSlot(id); slot > 0 {
		return fmt.Sprintf("Currently batting #%d", slot)
	}
	if s.IsStarter(id) {
		if s.ReentryCount[id] >= 1 {
			return "Starter - already used re-entry"
		}
		return fmt.Sprintf("Starter - can re-enter slot #%d", s.OriginalSlots[id])
	}
	if s.IsRemoved(id) {
		return "Sub - cannot re-enter batting order"
	}
	return "Sub - available to enter"
}
