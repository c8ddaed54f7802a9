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
	"math"
	"reflect"
	"testing"

	scble "github.com/pierreay/screaming-channels-ble"
)

var testKey = []byte{
	0x2b, 0x7e, 0x15, 0x16, 0x28, 0xae, 0xd2, 0xa6,
	0xab, 0xf7, 0x15, 0x88, 0x09, 0xcf, 0x4f, 0x3c}

func TestSaveLoad(t *testing.T) {
	var err error
	var ts1, ts2 scble.TraceSet
	ts1 = scble.TraceSet{scble.Trace{
		Key:     testKey,
		Pt:      bytes.Repeat([]byte{2}, 16),
		Ct:      bytes.Repeat([]byte{3}, 16),
		Samples: []float64{4.5, 6.7}}}

	buf := bytes.Buffer{}
	if err := ts1.SaveIo(&buf); err != nil {
		t.Errorf("Save failed: %v", err)
	}
	if ts2, err = scble.LoadTraceSetIo(bytes.NewReader(buf.Bytes())); err != nil {
		t.Errorf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(ts1, ts2) {
		t.Errorf("Loaded trace set (%v) did not match original (%v)", ts2, ts1)
	}
}

func TestValidateRejectsRaggedSamples(t *testing.T) {
	ts := scble.TraceSet{
		{Key: testKey, Pt: bytes.Repeat([]byte{1}, 16), Samples: []float64{1, 2, 3}},
		{Key: testKey, Pt: bytes.Repeat([]byte{2}, 16), Samples: []float64{1, 2}},
	}
	if err := ts.Validate(); !errors.Is(err, scble.ErrPrecondition) {
		t.Errorf("Validate = %v, want ErrPrecondition", err)
	}
}

func TestFixedKey(t *testing.T) {
	fixed := scble.TraceSet{
		{Key: testKey, Pt: bytes.Repeat([]byte{1}, 16), Samples: []float64{0}},
		{Key: testKey, Pt: bytes.Repeat([]byte{2}, 16), Samples: []float64{0}},
	}
	if !fixed.FixedKey() {
		t.Error("FixedKey = false for a constant-key set")
	}
	other := append([]byte(nil), testKey...)
	other[5] ^= 0xff
	varying := append(scble.TraceSet{}, fixed...)
	varying = append(varying, scble.Trace{
		Key: other, Pt: bytes.Repeat([]byte{3}, 16), Samples: []float64{0}})
	if varying.FixedKey() {
		t.Error("FixedKey = true for a varying-key set")
	}
}

func TestComputeCiphertexts(t *testing.T) {
	pt := bytes.Repeat([]byte{0xa5}, 16)
	ts := scble.TraceSet{{Key: testKey, Pt: pt, Samples: []float64{0}}}
	if err := ts.ComputeCiphertexts(); err != nil {
		t.Fatalf("ComputeCiphertexts failed: %v", err)
	}
	want, _ := scble.EncryptBlock(testKey, pt)
	if !bytes.Equal(ts[0].Ct, want) {
		t.Errorf("Ct = %x, want %x", ts[0].Ct, want)
	}
}

// A trace with zero variance must not normalize to NaN.
func TestNormalizeZScoreConstantTrace(t *testing.T) {
	ts := scble.TraceSet{{
		Key: testKey, Pt: bytes.Repeat([]byte{1}, 16),
		Samples: []float64{3, 3, 3, 3}}}
	ts.NormalizeZScore(false)
	for i, s := range ts[0].Samples {
		if math.IsNaN(s) {
			t.Fatalf("sample %d is NaN after normalization", i)
		}
		if s != 3 {
			t.Errorf("sample %d = %v, want untouched value 3", i, s)
		}
	}
}

func TestWindow(t *testing.T) {
	ts := scble.TraceSet{{
		Key: testKey, Pt: bytes.Repeat([]byte{1}, 16),
		Samples: []float64{0, 1, 2, 3, 4}}}
	w, err := ts.Window(1, 4)
	if err != nil {
		t.Fatalf("Window failed: %v", err)
	}
	if !reflect.DeepEqual(w[0].Samples, []float64{1, 2, 3}) {
		t.Errorf("windowed samples = %v", w[0].Samples)
	}
	if _, err := ts.Window(3, 10); !errors.Is(err, scble.ErrConfig) {
		t.Errorf("out-of-range window error = %v, want ErrConfig", err)
	}
}
