// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package state

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusEnded   Status = "ended"
)

var (
	ErrAuctionNotFound   = errors.New("auction not found")
	ErrInvalidTransition = errors.New("invalid auction status transition")
)

// allowed transitions. An auction that was never opened may still be
// closed
var transitions = map[Status][]Status{
	StatusPending: {StatusActive, StatusEnded},
	StatusActive:  {StatusPaused, StatusEnded},
	StatusPaused:  {StatusActive, StatusEnded},
}

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusActive, StatusPaused, StatusEnded:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown auction status %q", s)
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, tmp := range transitions[s] {
		if tmp == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible
func (s Status) Terminal() bool {
	return s == StatusEnded
}
