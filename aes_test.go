// Copyright 2019 Google LLC
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

package scble_test

import (
	"encoding/hex"
	"errors"
	"testing"

	scble "github.com/pierreay/screaming-channels-ble"
)

// FIPS-197 appendix B vector.
func TestEncryptBlock(t *testing.T) {
	pt, _ := hex.DecodeString("3243f6a8885a308d313198a2e0370734")
	want, _ := hex.DecodeString("3925841d02dc09fbdc118597196a0b32")
	ct, err := scble.EncryptBlock(testKey, pt)
	if err != nil {
		t.Fatalf("EncryptBlock failed: %v", err)
	}
	if hex.EncodeToString(ct) != hex.EncodeToString(want) {
		t.Errorf("ct = %x, want %x", ct, want)
	}
}

func TestEncryptBlockRejectsBadLengths(t *testing.T) {
	if _, err := scble.EncryptBlock(testKey[:8], testKey); !errors.Is(err, scble.ErrConfig) {
		t.Errorf("short-key error = %v, want ErrConfig", err)
	}
	if _, err := scble.EncryptBlock(testKey, testKey[:8]); !errors.Is(err, scble.ErrConfig) {
		t.Errorf("short-block error = %v, want ErrConfig", err)
	}
}
