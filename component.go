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

package scble

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Component selects which real-valued observable is derived from the complex
// I/Q samples delivered by the radio front-end. Amplitude and phase rotation
// are physically distinct channels; attacks against them can be recombined.
type Component int

const (
	Amplitude Component = iota
	PhaseRot
)

func (c Component) String() string {
	switch c {
	case Amplitude:
		return "AMPLITUDE"
	case PhaseRot:
		return "PHASE_ROT"
	default:
		return fmt.Sprintf("Component(%d)", int(c))
	}
}

func ParseComponent(name string) (Component, error) {
	switch name {
	case "AMPLITUDE":
		return Amplitude, nil
	case "PHASE_ROT":
		return PhaseRot, nil
	default:
		return 0, fmt.Errorf("%w: unknown component %q", ErrConfig, name)
	}
}

// FromIQ converts one trace of I/Q samples to the requested component.
// Amplitude preserves the trace length; phase rotation is the sample-to-
// sample difference of the unwrapped instantaneous phase and is one sample
// shorter.
func FromIQ(iq []complex128, c Component) []float64 {
	switch c {
	case PhaseRot:
		phase := make([]float64, len(iq))
		for i, v := range iq {
			phase[i] = cmplx.Phase(v)
		}
		unwrap(phase)
		out := make([]float64, len(iq)-1)
		for i := range out {
			out[i] = phase[i+1] - phase[i]
		}
		return out
	default:
		out := make([]float64, len(iq))
		for i, v := range iq {
			out[i] = cmplx.Abs(v)
		}
		return out
	}
}

// unwrap removes the 2*pi jumps the principal-value phase introduces.
func unwrap(phase []float64) {
	var offset float64
	for i := 1; i < len(phase); i++ {
		d := phase[i] + offset - phase[i-1]
		for d > math.Pi {
			offset -= 2 * math.Pi
			d -= 2 * math.Pi
		}
		for d < -math.Pi {
			offset += 2 * math.Pi
			d += 2 * math.Pi
		}
		phase[i] += offset
	}
}
