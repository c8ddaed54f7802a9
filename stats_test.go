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
	"errors"
	"math"
	"math/rand"
	"testing"

	scble "github.com/pierreay/screaming-channels-ble"
)

// synthHwTraces builds a synthetic trace set whose amplitude at sample
// leakIdx+10*b carries the Hamming weight of the S-box output for key byte
// b, plus Gaussian noise everywhere. Deterministic via a fixed seed.
func synthHwTraces(numTraces, numSamples, leakIdx, numKeyBytes int,
	noise float64, fixedKey bool) scble.TraceSet {
	rng := rand.New(rand.NewSource(1))
	ts := make(scble.TraceSet, numTraces)
	for i := range ts {
		key := testKey
		if !fixedKey {
			key = make([]byte, 16)
			rng.Read(key)
		}
		pt := make([]byte, 16)
		rng.Read(pt)
		samples := make([]float64, numSamples)
		for s := range samples {
			samples[s] = noise * rng.NormFloat64()
		}
		for b := 0; b < numKeyBytes; b++ {
			samples[leakIdx+10*b] += float64(scble.ModelHwSboxOut.Value(pt[b], key[b]))
		}
		ts[i] = scble.Trace{Key: key, Pt: pt, Samples: samples}
	}
	return ts
}

func argmaxAbs(xs []float64) int {
	best := 0
	for i, v := range xs {
		if math.Abs(v) > math.Abs(xs[best]) {
			best = i
		}
	}
	return best
}

// A constant signal has zero within-class variance; SNR must yield zeros,
// never NaN.
func TestSNRConstantSignal(t *testing.T) {
	ts := synthHwTraces(20, 10, 0, 0, 0, true)
	for i := range ts {
		for s := range ts[i].Samples {
			ts[i].Samples[s] = 7
		}
	}
	labels := make([]int, len(ts))
	for i := range labels {
		labels[i] = i % 2
	}
	snr := scble.EstimateClassStats(ts, labels, 2).SNR()
	for i, v := range snr {
		if math.IsNaN(v) {
			t.Fatalf("SNR[%d] is NaN", i)
		}
		if v != 0 {
			t.Errorf("SNR[%d] = %v, want 0", i, v)
		}
	}
}

func TestSNRPeaksAtLeak(t *testing.T) {
	const leakIdx = 25
	ts := synthHwTraces(500, 50, leakIdx, 1, 0.05, false)
	labels, err := scble.ModelHwSboxOut.Labels(ts, 0)
	if err != nil {
		t.Fatal(err)
	}
	snr := scble.EstimateClassStats(ts, labels, 9).SNR()
	if got := argmaxAbs(snr); got != leakIdx {
		t.Errorf("SNR argmax = %d, want %d", got, leakIdx)
	}
}

func TestSOADPeaksAtLeak(t *testing.T) {
	const leakIdx = 25
	ts := synthHwTraces(500, 50, leakIdx, 1, 0.05, false)
	labels, err := scble.ModelHwSboxOut.Labels(ts, 0)
	if err != nil {
		t.Fatal(err)
	}
	soad := scble.EstimateClassStats(ts, labels, 9).SOAD()
	if got := argmaxAbs(soad); got != leakIdx {
		t.Errorf("SOAD argmax = %d, want %d", got, leakIdx)
	}
}

func TestWelchTTestPeaksAtLeak(t *testing.T) {
	const leakIdx = 10
	rng := rand.New(rand.NewSource(2))
	ts := make(scble.TraceSet, 200)
	labels := make([]int, len(ts))
	for i := range ts {
		labels[i] = i % 2
		samples := make([]float64, 50)
		for s := range samples {
			samples[s] = 0.1 * rng.NormFloat64()
		}
		samples[leakIdx] += float64(labels[i])
		ts[i] = scble.Trace{Key: testKey, Pt: testKey, Samples: samples}
	}
	tvals, pvals, err := scble.EstimateClassStats(ts, labels, 2).WelchTTest()
	if err != nil {
		t.Fatalf("WelchTTest failed: %v", err)
	}
	if got := argmaxAbs(tvals); got != leakIdx {
		t.Errorf("t statistic argmax = %d, want %d", got, leakIdx)
	}
	if math.Abs(tvals[leakIdx]) < 10 {
		t.Errorf("t[%d] = %v, want a strongly significant value", leakIdx, tvals[leakIdx])
	}
	if pvals[leakIdx] > 1e-6 {
		t.Errorf("p[%d] = %v, want near zero", leakIdx, pvals[leakIdx])
	}
}

func TestWelchTTestDegenerate(t *testing.T) {
	ts := synthHwTraces(3, 10, 0, 1, 0.1, true)
	labels := []int{0, 0, 1}
	if _, _, err := scble.EstimateClassStats(ts, labels, 2).WelchTTest(); !errors.Is(err, scble.ErrDegenerate) {
		t.Errorf("single-trace class error = %v, want ErrDegenerate", err)
	}
}

func TestDirectCorrelationPeaksAtLeak(t *testing.T) {
	const leakIdx = 25
	ts := synthHwTraces(500, 50, leakIdx, 1, 0.05, false)
	labels, err := scble.ModelHwSboxOut.Labels(ts, 0)
	if err != nil {
		t.Fatal(err)
	}
	rs, ps, err := scble.DirectCorrelation(ts, labels)
	if err != nil {
		t.Fatalf("DirectCorrelation failed: %v", err)
	}
	if got := argmaxAbs(rs); got != leakIdx {
		t.Errorf("correlation argmax = %d, want %d", got, leakIdx)
	}
	if rs[leakIdx] < 0.9 {
		t.Errorf("r[%d] = %v, want close to 1", leakIdx, rs[leakIdx])
	}
	if ps[leakIdx] > 1e-6 {
		t.Errorf("p[%d] = %v, want near zero", leakIdx, ps[leakIdx])
	}
}

func TestRhoTestPeaksAtLeak(t *testing.T) {
	const leakIdx = 10
	rng := rand.New(rand.NewSource(3))
	ts := make(scble.TraceSet, 100)
	labels := make([]int, len(ts))
	for i := range ts {
		labels[i] = i % 2
		samples := make([]float64, 30)
		for s := range samples {
			samples[s] = 0.1 * rng.NormFloat64()
		}
		samples[leakIdx] += float64(labels[i])
		ts[i] = scble.Trace{Key: testKey, Pt: testKey, Samples: samples}
	}
	rs, rzs, _, err := scble.RhoTest(ts, labels, 2, 5)
	if err != nil {
		t.Fatalf("RhoTest failed: %v", err)
	}
	if got := argmaxAbs(rs); got != leakIdx {
		t.Errorf("rho argmax = %d, want %d", got, leakIdx)
	}
	for i, v := range rzs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("rz[%d] = %v, want finite", i, v)
		}
	}
	if rzs[leakIdx] < rzs[0] {
		t.Errorf("rz at the leak (%v) not above baseline (%v)", rzs[leakIdx], rzs[0])
	}
}

// A class that only occurs inside the held-out fold cannot be profiled from
// the remaining folds.
func TestRhoTestMissingClass(t *testing.T) {
	ts := synthHwTraces(20, 10, 0, 1, 0.1, true)
	labels := make([]int, len(ts))
	for i := 0; i < 10; i++ {
		labels[i] = 1
	}
	if _, _, _, err := scble.RhoTest(ts, labels, 2, 2); !errors.Is(err, scble.ErrPrecondition) {
		t.Errorf("missing-class error = %v, want ErrPrecondition", err)
	}
}

func TestFindPOIsSpacing(t *testing.T) {
	curve := []float64{0, 1, 9, 8, 0, 0, 7, 0, 5, 0, 0, 3}
	pois, err := scble.FindPOIs(curve, 3, 2)
	if err != nil {
		t.Fatalf("FindPOIs failed: %v", err)
	}
	if pois[0] != 2 {
		t.Errorf("first POI = %d, want the argmax 2", pois[0])
	}
	for i := 0; i < len(pois); i++ {
		for j := i + 1; j < len(pois); j++ {
			d := pois[i] - pois[j]
			if d < 0 {
				d = -d
			}
			if d <= 2 {
				t.Errorf("POIs %d and %d closer than the spacing", pois[i], pois[j])
			}
		}
	}
}

func TestFindPOIsExhausted(t *testing.T) {
	curve := []float64{1, 2, 3, 4, 5}
	if _, err := scble.FindPOIs(curve, 2, 10); !errors.Is(err, scble.ErrConfig) {
		t.Errorf("exhausted-curve error = %v, want ErrConfig", err)
	}
	if _, err := scble.FindPOIs(curve, 6, 0); !errors.Is(err, scble.ErrConfig) {
		t.Errorf("too-many-POIs error = %v, want ErrConfig", err)
	}
}
