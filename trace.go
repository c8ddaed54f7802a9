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

// In-memory trace sets handed over by the acquisition layer.
package scble

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/golang/glog"
	"gonum.org/v1/gonum/mat"
)

// Trace is one radio capture of a single AES execution: the samples plus the
// key and plaintext the target was driven with. Ct is derived, not measured.
type Trace struct {
	Key     []byte    `json:"k"`
	Pt      []byte    `json:"pt"`
	Ct      []byte    `json:"ct"`
	Samples []float64 `json:"s"`
}

type TraceSet []Trace

// Exported for testing.
func LoadTraceSetIo(src io.Reader) (TraceSet, error) {
	var ts TraceSet
	zipper, err := gzip.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("gzip NewReader failed %v", err)
	}
	decoder := json.NewDecoder(zipper)
	if err = decoder.Decode(&ts); err != nil {
		return nil, fmt.Errorf("JSON decoder failed %v", err)
	}
	return ts, nil
}

// Loads a trace set from file.
func LoadTraceSet(filename string) (TraceSet, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("Error opening trace set file: %v", err)
	}
	defer f.Close()
	return LoadTraceSetIo(f)
}

// Exported for testing.
func (ts TraceSet) SaveIo(dst io.Writer) error {
	var err error
	zipper := gzip.NewWriter(dst)
	encoder := json.NewEncoder(zipper)
	if err = encoder.Encode(ts); err != nil {
		return fmt.Errorf("JSON encoder failed %v", err)
	}
	if err = zipper.Close(); err != nil {
		return fmt.Errorf("gzip close failed %v", err)
	}
	return nil
}

func (ts TraceSet) Save(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("Error creating trace set file: %v", err)
	}
	defer f.Close()
	return ts.SaveIo(f)
}

func (ts TraceSet) NumTraces() int {
	return len(ts)
}

func (ts TraceSet) NumSamples() int {
	if len(ts) == 0 {
		return 0
	}
	return len(ts[0].Samples)
}

// Validate checks the invariants the analysis relies on: at least one trace,
// equal trace lengths, and 16-byte key/plaintext vectors on every trace.
func (ts TraceSet) Validate() error {
	if len(ts) == 0 {
		return fmt.Errorf("%w: empty trace set", ErrPrecondition)
	}
	n := len(ts[0].Samples)
	for i, t := range ts {
		if len(t.Samples) != n {
			return fmt.Errorf("%w: trace %d has %d samples, want %d",
				ErrPrecondition, i, len(t.Samples), n)
		}
		if len(t.Key) != 16 || len(t.Pt) != 16 {
			return fmt.Errorf("%w: trace %d key/pt must be 16 bytes", ErrPrecondition, i)
		}
	}
	return nil
}

// FixedKey reports whether every trace in the set was captured with the same
// key. Attacking a variable-key set only makes sense for plaintext-bound
// leakage models.
func (ts TraceSet) FixedKey() bool {
	for i := 1; i < len(ts); i++ {
		if !bytes.Equal(ts[i].Key, ts[0].Key) {
			return false
		}
	}
	return true
}

// ComputeCiphertexts fills in Ct for every trace using the AES-128 forward
// function. Done once after load; the ciphertext leakage models read Ct.
func (ts TraceSet) ComputeCiphertexts() error {
	for i := range ts {
		ct, err := EncryptBlock(ts[i].Key, ts[i].Pt)
		if err != nil {
			return err
		}
		ts[i].Ct = ct
	}
	return nil
}

// Collects all samples in a single m (#traces) by n (#samples) matrix.
//  _         _
// | -- T1  -- |
// | -- T2  -- |
// | -- ..  -- |
// | -- TM  -- |
// |_         _|
//
func (ts TraceSet) SamplesMatrix() *mat.Dense {
	rows := len(ts)
	cols := len(ts[0].Samples)
	data := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		copy(data[i*cols:(i+1)*cols], ts[i].Samples)
	}
	return mat.NewDense(rows, cols, data)
}

// MeanTrace averages all traces sample-wise.
func (ts TraceSet) MeanTrace() []float64 {
	n := ts.NumSamples()
	avg := make([]float64, n)
	for _, t := range ts {
		for i, v := range t.Samples {
			avg[i] += v
		}
	}
	for i := range avg {
		avg[i] /= float64(len(ts))
	}
	return avg
}

// NormalizeZScore normalizes samples in place: x = (x - mean) / std. With
// perSet false each trace is normalized individually; with perSet true the
// mean and std are computed sample-wise over the whole set. A zero std
// leaves the data untouched.
func (ts TraceSet) NormalizeZScore(perSet bool) {
	if perSet {
		n := ts.NumSamples()
		mu := ts.MeanTrace()
		std := make([]float64, n)
		for _, t := range ts {
			for i, v := range t.Samples {
				d := v - mu[i]
				std[i] += d * d
			}
		}
		for i := range std {
			std[i] = math.Sqrt(std[i] / float64(len(ts)))
		}
		for _, t := range ts {
			for i := range t.Samples {
				if std[i] != 0 {
					t.Samples[i] = (t.Samples[i] - mu[i]) / std[i]
				}
			}
		}
		return
	}
	for _, t := range ts {
		var mu float64
		for _, v := range t.Samples {
			mu += v
		}
		mu /= float64(len(t.Samples))
		var ss float64
		for _, v := range t.Samples {
			d := v - mu
			ss += d * d
		}
		std := math.Sqrt(ss / float64(len(t.Samples)))
		if std == 0 {
			glog.V(1).Info("skipping z-score of constant trace")
			continue
		}
		for i := range t.Samples {
			t.Samples[i] = (t.Samples[i] - mu) / std
		}
	}
}

// Window truncates every trace to the [start, end) sample window. end <= 0
// means the full trace length. The window is recorded in profiles so attack
// sets can be cut identically.
func (ts TraceSet) Window(start, end int) (TraceSet, error) {
	n := ts.NumSamples()
	if end <= 0 {
		end = n
	}
	if start < 0 || start >= end || end > n {
		return nil, fmt.Errorf("%w: window [%d, %d) outside trace of %d samples",
			ErrConfig, start, end, n)
	}
	out := make(TraceSet, len(ts))
	for i, t := range ts {
		out[i] = Trace{Key: t.Key, Pt: t.Pt, Ct: t.Ct,
			Samples: append([]float64(nil), t.Samples[start:end]...)}
	}
	return out, nil
}
