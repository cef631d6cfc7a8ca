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
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	etherDecimals = 18

	// WithdrawSharePercent is the portion of funds raised paid to the creator
	// on withdrawal. The contract computes the exact amount.
	WithdrawSharePercent = 95
)

var ErrInvalidAmount = errors.New("invalid amount")

// FormatEther renders a wei amount in ether without trailing zeros
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).String()
}

// ParseEther converts a decimal ether string to wei. More than 18 fractional
// digits or a negative value is rejected.
func ParseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %s", ErrInvalidAmount, s)
	}
	wei := d.Shift(etherDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("%w: too many decimal places in %s", ErrInvalidAmount, s)
	}
	return wei.BigInt(), nil
}

// WithdrawShare estimates the creator's withdrawal for the given funds
func WithdrawShare(fundsRaised *big.Int) *big.Int {
	if fundsRaised == nil {
		return new(big.Int)
	}
	ret := new(big.Int).Mul(fundsRaised, big.NewInt(WithdrawSharePercent))
	return ret.Quo(ret, big.NewInt(100))
}
