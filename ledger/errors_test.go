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

package ledger_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blinklabs-io/fundwatch/ledger"
)

func TestIsTransient(t *testing.T) {
	base := errors.New("connection reset")
	assert.True(t, ledger.IsTransient(
		fmt.Errorf("bootstrap: %w", &ledger.ReadError{Op: "campaigns", Err: base}),
	))
	assert.True(t, ledger.IsTransient(&ledger.ConnectionError{Err: base}))
	assert.False(t, ledger.IsTransient(ledger.ErrNotDeployed))
	assert.False(t, ledger.IsTransient(&ledger.SubmissionRejectedError{
		Action: "fund",
		Reason: "campaign closed",
	}))
}

func TestSubmissionRejectedError(t *testing.T) {
	err := &ledger.SubmissionRejectedError{Action: "stop", Reason: "not creator"}
	assert.Equal(t, "stop rejected: not creator", err.Error())
	wrapped := &ledger.SubmissionRejectedError{Action: "fund", Err: errBase}
	assert.ErrorIs(t, wrapped, errBase)
	assert.Equal(t, "fund rejected: execution reverted", wrapped.Error())
}

var errBase = errors.New("execution reverted")
