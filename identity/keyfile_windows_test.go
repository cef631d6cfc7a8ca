//go:build windows

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

package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckDACL(t *testing.T) {
	tests := []struct {
		name string
		sddl string
		ok   bool
	}{
		{"owner only", "O:BAG:SYD:PAI(A;;FA;;;SY)(A;;FA;;;BA)", true},
		{"everyone", "D:(A;;FR;;;WD)", false},
		{"users sid", "D:(A;;FR;;;S-1-5-32-545)", false},
		{"deny everyone", "D:(D;;FA;;;WD)(A;;FA;;;SY)", true},
		{"no dacl", "O:BAG:SY", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := checkDACL("key", tc.sddl)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInsecureKeyFile)
			}
		})
	}
}
