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
	"bytes"
	"errors"
	"testing"

	scble "github.com/pierreay/screaming-channels-ble"
)

func TestParseLeakageModelRoundTrip(t *testing.T) {
	for _, m := range scble.Models() {
		parsed, err := scble.ParseLeakageModel(m.String())
		if err != nil {
			t.Errorf("ParseLeakageModel(%q) failed: %v", m.String(), err)
		}
		if parsed != m {
			t.Errorf("ParseLeakageModel(%q) = %v, want %v", m.String(), parsed, m)
		}
	}
}

func TestParseLeakageModelUnknown(t *testing.T) {
	if _, err := scble.ParseLeakageModel("hw_sbox_in"); !errors.Is(err, scble.ErrConfig) {
		t.Errorf("unknown model error = %v, want ErrConfig", err)
	}
}

// Every model must emit labels inside its declared class range over the
// full (p, k) byte grid.
func TestLeakageValuesInRange(t *testing.T) {
	for _, m := range scble.Models() {
		if !m.Hypothesizable() {
			continue
		}
		n := m.NumClasses()
		for p := 0; p < 256; p++ {
			for k := 0; k < 256; k++ {
				v := m.Value(byte(p), byte(k))
				if v < 0 || v >= n {
					t.Fatalf("%v.Value(%#02x, %#02x) = %d outside [0, %d)", m, p, k, v, n)
				}
			}
		}
	}
}

// Distinct catalog entries are distinct leakage variables: for every model
// pair there is some (p, k) input the two label differently.
func TestLeakageModelsDistinct(t *testing.T) {
	models := scble.Models()
	for i, a := range models {
		if !a.Hypothesizable() {
			continue
		}
		for _, b := range models[i+1:] {
			if !b.Hypothesizable() {
				continue
			}
			differ := false
			for p := 0; p < 256 && !differ; p++ {
				for k := 0; k < 256; k++ {
					if a.Value(byte(p), byte(k)) != b.Value(byte(p), byte(k)) {
						differ = true
						break
					}
				}
			}
			if !differ {
				t.Errorf("models %v and %v label the full input grid identically", a, b)
			}
		}
	}
}

func TestSboxOutLabels(t *testing.T) {
	ts := scble.TraceSet{{
		Key:     testKey,
		Pt:      bytes.Repeat([]byte{0x00}, 16),
		Samples: []float64{0},
	}}
	m := scble.ModelSboxOut
	labels, err := m.Labels(ts, 0)
	if err != nil {
		t.Fatalf("Labels failed: %v", err)
	}
	if want := m.Value(0x00, testKey[0]); labels[0] != want {
		t.Errorf("label = %d, want %d", labels[0], want)
	}
}

// Ciphertext models need Ct populated first.
func TestCiphertextModelNeedsCiphertexts(t *testing.T) {
	ts := scble.TraceSet{{
		Key:     testKey,
		Pt:      bytes.Repeat([]byte{0x11}, 16),
		Samples: []float64{0},
	}}
	if _, err := scble.ModelHwC.Labels(ts, 0); !errors.Is(err, scble.ErrPrecondition) {
		t.Errorf("missing-ciphertext error = %v, want ErrPrecondition", err)
	}
	if err := ts.ComputeCiphertexts(); err != nil {
		t.Fatalf("ComputeCiphertexts failed: %v", err)
	}
	labels, err := scble.ModelHwC.Labels(ts, 3)
	if err != nil {
		t.Fatalf("Labels failed: %v", err)
	}
	if labels[0] < 0 || labels[0] >= scble.ModelHwC.NumClasses() {
		t.Errorf("label %d outside class range", labels[0])
	}
}

func TestFixedVsFixedIsBinary(t *testing.T) {
	m := scble.ModelFixedVsFixed
	if m.NumClasses() != 2 {
		t.Fatalf("NumClasses = %d, want 2", m.NumClasses())
	}
	if v := m.Value(48, 0); v != 1 {
		t.Errorf("matching pair labeled %d, want 1", v)
	}
	if v := m.Value(0, 0); v != 0 {
		t.Errorf("non-matching pair labeled %d, want 0", v)
	}
}

func TestHypothesizable(t *testing.T) {
	for _, m := range []scble.LeakageModel{scble.ModelC, scble.ModelHwC} {
		if m.Hypothesizable() {
			t.Errorf("%v should not be hypothesizable", m)
		}
	}
	if !scble.ModelSboxOut.Hypothesizable() {
		t.Error("sbox_out must be hypothesizable")
	}
}
