// Copyright 2026 Blink Labs Software
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

package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNotDeployed means no contract code exists at the configured address
	// on the current network. It is recoverable and drives retry.
	ErrNotDeployed = errors.New("contract not deployed at address")

	ErrUserDeclined        = errors.New("user declined the action")
	ErrIdentityUnavailable = errors.New("identity unavailable")
)

// ConnectionError wraps a failure to reach the node while probing for the
// contract
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("ledger connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ReadError is a transient failure of a read operation
type ReadError struct {
	Op  string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("ledger read %s failed: %v", e.Op, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// SubmissionRejectedError is returned when an action is refused, either by
// local validation or by the ledger
type SubmissionRejectedError struct {
	Action string
	Reason string
	Err    error
}

func (e *SubmissionRejectedError) Error() string {
	if e.Reason == "" && e.Err != nil {
		return fmt.Sprintf("%s rejected: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("%s rejected: %s", e.Action, e.Reason)
}

func (e *SubmissionRejectedError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a read or connection failure that may
// succeed on retry
func IsTransient(err error) bool {
	var readErr *ReadError
	var connErr *ConnectionError
	return errors.As(err, &readErr) || errors.As(err, &connErr)
}
