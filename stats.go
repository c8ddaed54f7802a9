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

// Per-class statistics and the informativeness metrics used to locate
// points of interest.
package scble

import (
	"fmt"
	"math"

	"github.com/golang/glog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ClassStats accumulates per-class per-sample mean and variance with
// Welford's online update, so a trace set never has to be materialized
// per class. Memory is #classes x #samples regardless of trace count.
type ClassStats struct {
	counts []int
	mean   *mat.Dense // classes x samples
	m2     *mat.Dense
}

func NewClassStats(numClasses, numSamples int) *ClassStats {
	return &ClassStats{
		counts: make([]int, numClasses),
		mean:   mat.NewDense(numClasses, numSamples, nil),
		m2:     mat.NewDense(numClasses, numSamples, nil),
	}
}

// Push folds one trace into its class accumulator.
func (s *ClassStats) Push(class int, samples []float64) {
	s.counts[class]++
	n := float64(s.counts[class])
	mean := s.mean.RawRowView(class)
	m2 := s.m2.RawRowView(class)
	for i, x := range samples {
		delta := x - mean[i]
		mean[i] += delta / n
		m2[i] += delta * (x - mean[i])
	}
}

func (s *ClassStats) NumClasses() int { return len(s.counts) }

func (s *ClassStats) NumSamples() int {
	_, c := s.mean.Dims()
	return c
}

func (s *ClassStats) Count(class int) int { return s.counts[class] }

// Mean returns the per-sample mean of one class. The slice aliases internal
// storage; callers must not modify it. Undefined (all zeros) for an empty
// class.
func (s *ClassStats) Mean(class int) []float64 {
	return s.mean.RawRowView(class)
}

// Variance returns the per-sample population variance of one class.
func (s *ClassStats) Variance(class int) []float64 {
	out := make([]float64, s.NumSamples())
	if s.counts[class] == 0 {
		return out
	}
	n := float64(s.counts[class])
	m2 := s.m2.RawRowView(class)
	for i := range out {
		out[i] = m2[i] / n
	}
	return out
}

// Std returns the per-sample population standard deviation of one class.
func (s *ClassStats) Std(class int) []float64 {
	out := s.Variance(class)
	for i := range out {
		out[i] = math.Sqrt(out[i])
	}
	return out
}

func (s *ClassStats) sampleVariance(class int) []float64 {
	out := make([]float64, s.NumSamples())
	if s.counts[class] < 2 {
		return out
	}
	n := float64(s.counts[class])
	m2 := s.m2.RawRowView(class)
	for i := range out {
		out[i] = m2[i] / (n - 1)
	}
	return out
}

// EstimateClassStats computes the per-class mean/variance tables for one
// key-byte position in a single pass over the trace set.
func EstimateClassStats(ts TraceSet, labels []int, numClasses int) *ClassStats {
	s := NewClassStats(numClasses, ts.NumSamples())
	for i, t := range ts {
		s.Push(labels[i], t.Samples)
	}
	return s
}

// SNR is the per-sample side-channel signal-to-noise ratio: the variance
// across class means over the mean within-class variance. Samples where the
// within-class variance is zero (a constant signal) yield 0, never NaN.
func (s *ClassStats) SNR() []float64 {
	numSamples := s.NumSamples()
	out := make([]float64, numSamples)
	occupied := s.occupiedClasses()
	if len(occupied) < 2 {
		return out
	}
	for i := 0; i < numSamples; i++ {
		var sum, sumSq, noise float64
		for _, c := range occupied {
			m := s.mean.At(c, i)
			sum += m
			sumSq += m * m
			noise += s.m2.At(c, i) / float64(s.counts[c])
		}
		k := float64(len(occupied))
		signal := sumSq/k - (sum/k)*(sum/k)
		noise /= k
		if noise == 0 {
			continue
		}
		out[i] = signal / noise
	}
	return out
}

// SOAD is the per-sample sum of absolute differences between the mean
// traces of every unordered class pair. Its scale grows with the number of
// classes and is only comparable within one configuration.
func (s *ClassStats) SOAD() []float64 {
	numSamples := s.NumSamples()
	out := make([]float64, numSamples)
	occupied := s.occupiedClasses()
	for a := 1; a < len(occupied); a++ {
		for b := 0; b < a; b++ {
			mi := s.mean.RawRowView(occupied[a])
			mj := s.mean.RawRowView(occupied[b])
			for i := 0; i < numSamples; i++ {
				out[i] += math.Abs(mi[i] - mj[i])
			}
		}
	}
	return out
}

func (s *ClassStats) occupiedClasses() []int {
	var occ []int
	for c, n := range s.counts {
		if n > 0 {
			occ = append(occ, c)
		}
	}
	return occ
}

// WelchTTest compares class 1 against class 0 with the unequal-variance
// two-sample t-test, returning the per-sample t statistic and two-sided
// p-value. Meant for binary leakage models.
func (s *ClassStats) WelchTTest() (ts, ps []float64, err error) {
	if s.NumClasses() < 2 {
		return nil, nil, fmt.Errorf("%w: t-test needs two classes", ErrConfig)
	}
	n0, n1 := s.counts[0], s.counts[1]
	if n0 < 2 || n1 < 2 {
		return nil, nil, fmt.Errorf("%w: t-test needs at least 2 traces per class (have %d, %d)",
			ErrDegenerate, n0, n1)
	}
	numSamples := s.NumSamples()
	ts = make([]float64, numSamples)
	ps = make([]float64, numSamples)
	v0 := s.sampleVariance(0)
	v1 := s.sampleVariance(1)
	mean0 := s.mean.RawRowView(0)
	mean1 := s.mean.RawRowView(1)
	fn0, fn1 := float64(n0), float64(n1)
	for i := 0; i < numSamples; i++ {
		a := v1[i] / fn1
		b := v0[i] / fn0
		den := math.Sqrt(a + b)
		if den == 0 {
			ts[i], ps[i] = 0, 1
			continue
		}
		t := (mean1[i] - mean0[i]) / den
		df := (a + b) * (a + b) / (a*a/(fn1-1) + b*b/(fn0-1))
		ts[i] = t
		ps[i] = 2 * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.CDF(-math.Abs(t))
	}
	return ts, ps, nil
}

// pearson returns the correlation coefficient and its two-sided p-value.
// A zero-variance input has no defined correlation and yields (0, 1).
func pearson(x, y []float64) (r, p float64) {
	r = stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0, 1
	}
	n := float64(len(x))
	if n < 3 {
		return r, 1
	}
	if r*r >= 1 {
		return r, 0
	}
	t := r * math.Sqrt((n-2)/(1-r*r))
	p = 2 * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: n - 2}.CDF(-math.Abs(t))
	return r, p
}

func hasNaN(xs []float64) bool {
	for _, v := range xs {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// DirectCorrelation computes the per-sample Pearson correlation (and
// p-value) between the trace amplitude and the leakage value itself. Valid
// mainly when the chosen model matches the physical leakage function, e.g.
// a Hamming-weight model on a Hamming-weight leak.
func DirectCorrelation(ts TraceSet, labels []int) (rs, ps []float64, err error) {
	numSamples := ts.NumSamples()
	rs = make([]float64, numSamples)
	ps = make([]float64, numSamples)
	y := make([]float64, len(ts))
	for i, cla := range labels {
		y[i] = float64(cla)
	}
	T := mat.DenseCopyOf(ts.SamplesMatrix().T())
	for i := 0; i < numSamples; i++ {
		x := T.RawRowView(i)
		if hasNaN(x) {
			return nil, nil, fmt.Errorf("%w: NaN in trace samples at %d", ErrPrecondition, i)
		}
		rs[i], ps[i] = pearson(x, y)
	}
	return rs, ps, nil
}

// RhoTest is the k-fold cross-validated correlation metric. The set is cut
// into k contiguous folds; each fold in turn is held out, class means are
// profiled from the remainder, every held-out trace is predicted from its
// own class mean, and the per-sample Pearson correlation between actual and
// predicted values is averaged over folds. The Fisher-z transform
// 0.5*ln((1+r)/(1-r))*sqrt(N-3) turns the average into a significance score
// comparable across sample positions.
func RhoTest(ts TraceSet, labels []int, numClasses, kFold int) (rs, rzs, ps []float64, err error) {
	n := len(ts)
	numSamples := ts.NumSamples()
	if kFold < 2 || n/kFold == 0 {
		return nil, nil, nil, fmt.Errorf("%w: cannot split %d traces into %d folds", ErrConfig, n, kFold)
	}
	nTest := n / kFold

	rs = make([]float64, numSamples)
	ps = make([]float64, numSamples)
	actual := make([]float64, nTest)
	predicted := make([]float64, nTest)

	for fold := 0; fold < kFold; fold++ {
		glog.V(1).Infof("rho-test fold %d/%d", fold+1, kFold)
		lo, hi := fold*nTest, (fold+1)*nTest

		// Profile class means from the other k-1 folds.
		profile := NewClassStats(numClasses, numSamples)
		for i := 0; i < n; i++ {
			if i >= lo && i < hi {
				continue
			}
			profile.Push(labels[i], ts[i].Samples)
		}
		for i := lo; i < hi; i++ {
			if profile.Count(labels[i]) == 0 {
				return nil, nil, nil, fmt.Errorf(
					"%w: class %d of held-out trace %d has no profiling traces in fold %d; use more traces",
					ErrPrecondition, labels[i], i, fold)
			}
		}

		for s := 0; s < numSamples; s++ {
			for i := lo; i < hi; i++ {
				actual[i-lo] = ts[i].Samples[s]
				predicted[i-lo] = profile.Mean(labels[i])[s]
			}
			if hasNaN(actual) || hasNaN(predicted) {
				return nil, nil, nil, fmt.Errorf("%w: NaN in rho-test inputs at sample %d", ErrPrecondition, s)
			}
			r, p := pearson(actual, predicted)
			rs[s] += r
			ps[s] += p
		}
	}

	rzs = make([]float64, numSamples)
	scale := math.Sqrt(float64(n) - 3)
	for s := 0; s < numSamples; s++ {
		rs[s] /= float64(kFold)
		ps[s] /= float64(kFold)
		// Clamp so a perfect correlation stays finite.
		r := math.Max(-1+1e-12, math.Min(1-1e-12, rs[s]))
		rzs[s] = math.Atanh(r) * scale
	}
	return rs, rzs, ps, nil
}

// FindPOIs selects numPois points of interest from an informativeness curve
// by repeatedly taking the argmax and suppressing a +-spacing window around
// it, so two POIs from the same narrow leakage event are never returned.
func FindPOIs(curve []float64, numPois, spacing int) ([]int, error) {
	if numPois < 1 || numPois > len(curve) {
		return nil, fmt.Errorf("%w: requested %d POIs from a %d-sample curve",
			ErrConfig, numPois, len(curve))
	}
	suppressed := make([]bool, len(curve))
	pois := make([]int, 0, numPois)
	for len(pois) < numPois {
		best := -1
		for i, v := range curve {
			if suppressed[i] {
				continue
			}
			if best < 0 || v > curve[best] {
				best = i
			}
		}
		if best < 0 {
			return nil, fmt.Errorf("%w: only %d POIs available with spacing %d, requested %d",
				ErrConfig, len(pois), spacing, numPois)
		}
		pois = append(pois, best)
		lo := best - spacing
		if lo < 0 {
			lo = 0
		}
		hi := best + spacing
		if hi >= len(curve) {
			hi = len(curve) - 1
		}
		for i := lo; i <= hi; i++ {
			suppressed[i] = true
		}
	}
	return pois, nil
}
