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

// Cross-correlation based time alignment of traces.
package scble

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/golang/glog"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Second-order Butterworth low-pass biquad. High-frequency noise corrupts
// the cross-correlation peak, so both signals are filtered before
// correlating.
func lowPass(x []float64, cutoff, sampleRate float64) []float64 {
	w0 := 2 * math.Pi * cutoff / sampleRate
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	q := 1 / math.Sqrt2
	alpha := sinw / (2 * q)

	a0 := 1 + alpha
	b0 := (1 - cosw) / 2 / a0
	b1 := (1 - cosw) / a0
	b2 := (1 - cosw) / 2 / a0
	a1 := -2 * cosw / a0
	a2 := (1 - alpha) / a0

	y := make([]float64, len(x))
	var x1, x2, y1, y2 float64
	for i, v := range x {
		y[i] = b0*v + b1*x1 + b2*x2 - a1*y1 - a2*y2
		x2, x1 = x1, v
		y2, y1 = y1, y[i]
	}
	return y
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Full cross-correlation of target against template, length
// len(target)+len(template)-1. Computed as an FFT convolution with the
// reversed template.
func crossCorrelate(target, template []float64) []float64 {
	n := len(target) + len(template) - 1
	size := nextPow2(n)
	fft := fourier.NewFFT(size)

	a := make([]float64, size)
	copy(a, target)
	b := make([]float64, size)
	for i, v := range template {
		b[len(template)-1-i] = v
	}

	ca := fft.Coefficients(nil, a)
	cb := fft.Coefficients(nil, b)
	for i := range ca {
		ca[i] *= cb[i]
	}
	out := fft.Sequence(nil, ca)

	corr := make([]float64, n)
	scale := 1 / float64(size)
	for i := range corr {
		corr[i] = out[i] * scale
	}
	return corr
}

// AlignShift returns the shift maximizing the cross-correlation of target
// against template. A positive shift means the target lags the template.
func AlignShift(template, target []float64, sampleRate float64) int {
	cutoff := sampleRate / 4
	corr := crossCorrelate(
		lowPass(target, cutoff, sampleRate),
		lowPass(template, cutoff, sampleRate))
	best := 0
	for i, v := range corr {
		if v > corr[best] {
			best = i
		}
	}
	return best - (len(template) - 1)
}

// Shift moves xs by n samples, left for negative n, right for positive n.
// Vacated samples are zero-filled; the length is preserved.
func Shift(xs []float64, n int) []float64 {
	out := make([]float64, len(xs))
	if n >= 0 {
		copy(out[n:], xs[:len(xs)-n])
	} else {
		copy(out, xs[-n:])
	}
	return out
}

// Align shifts target so that it lines up with template, zero-filling the
// vacated samples. With ignoreHighShift false, a shift above ~10% of the
// trace length is treated as an upstream detection failure and returns
// ErrPrecondition instead of a garbage alignment.
func Align(template, target []float64, sampleRate float64, ignoreHighShift bool) ([]float64, error) {
	if len(template) != len(target) {
		return nil, fmt.Errorf("%w: template has %d samples, target %d",
			ErrPrecondition, len(template), len(target))
	}
	shift := AlignShift(template, target, sampleRate)
	glog.V(2).Infof("shift to maximize cross correlation is %d", shift)
	if !ignoreHighShift && abs(shift) > len(template)/10 {
		return nil, fmt.Errorf("%w: alignment shift %d exceeds 10%% of trace length %d",
			ErrPrecondition, shift, len(template))
	}
	return Shift(target, -shift), nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// AlignAll aligns every trace in the set against template, or against the
// first trace when template is nil. Alignments are independent per trace and
// run on a worker per CPU.
func AlignAll(ts TraceSet, sampleRate float64, template []float64) (TraceSet, error) {
	if err := ts.Validate(); err != nil {
		return nil, err
	}
	if template == nil {
		template = ts[0].Samples
	}

	out := make(TraceSet, len(ts))
	errs := make([]error, len(ts))
	var wg sync.WaitGroup
	workers := runtime.NumCPU()
	if workers > len(ts) {
		workers = len(ts)
	}
	idx := make(chan int)
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range idx {
				aligned, err := Align(template, ts[i].Samples, sampleRate, true)
				if err != nil {
					errs[i] = err
					continue
				}
				out[i] = Trace{Key: ts[i].Key, Pt: ts[i].Pt, Ct: ts[i].Ct, Samples: aligned}
			}
		}()
	}
	for i := range ts {
		idx <- i
	}
	close(idx)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("aligning trace %d: %w", i, err)
		}
	}
	return out, nil
}
