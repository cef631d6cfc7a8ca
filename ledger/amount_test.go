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
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/fundwatch/ledger"
)

func TestParseEther(t *testing.T) {
	testDefs := []struct {
		input    string
		expected string
		wantErr  bool
	}{
		{input: "1", expected: "1000000000000000000"},
		{input: "0.5", expected: "500000000000000000"},
		{input: "0.000000000000000001", expected: "1"},
		{input: "0.0000000000000000001", wantErr: true},
		{input: "-1", wantErr: true},
		{input: "abc", wantErr: true},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.input, func(t *testing.T) {
			wei, err := ledger.ParseEther(testDef.input)
			if testDef.wantErr {
				require.ErrorIs(t, err, ledger.ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testDef.expected, wei.String())
		})
	}
}

func TestFormatEther(t *testing.T) {
	wei, ok := new(big.Int).SetString("1500000000000000000", 10)
	require.True(t, ok)
	assert.Equal(t, "1.5", ledger.FormatEther(wei))
	assert.Equal(t, "0", ledger.FormatEther(nil))
}

func TestWithdrawShare(t *testing.T) {
	assert.Equal(t, int64(95), ledger.WithdrawShare(big.NewInt(100)).Int64())
	assert.Equal(t, int64(0), ledger.WithdrawShare(nil).Int64())
}
