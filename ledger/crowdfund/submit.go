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

package crowdfund

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/blinklabs-io/fundwatch/ledger"
)

// EIP-1193 code returned by wallets and external signers when the user
// rejects a request
const userRejectedCode = 4001

// ClassifySubmitError maps a transaction submission failure to the ledger
// error taxonomy
func ClassifySubmitError(action string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ledger.ErrUserDeclined) ||
		errors.Is(err, ledger.ErrIdentityUnavailable) {
		return err
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == userRejectedCode {
		return errors.Join(ledger.ErrUserDeclined, err)
	}
	rejected := &ledger.SubmissionRejectedError{Action: action, Err: err}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if reason, ok := revertReason(dataErr.ErrorData()); ok {
			rejected.Reason = reason
			return rejected
		}
	}
	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted: "); idx >= 0 {
		rejected.Reason = msg[idx+len("execution reverted: "):]
	}
	return rejected
}

func revertReason(data any) (string, bool) {
	hexData, ok := data.(string)
	if !ok {
		return "", false
	}
	raw, err := hexutil.Decode(hexData)
	if err != nil {
		return "", false
	}
	reason, err := abi.UnpackRevert(raw)
	if err != nil {
		return "", false
	}
	return reason, true
}
