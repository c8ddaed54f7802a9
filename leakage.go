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

// Leakage models: map a (plaintext, key) byte pair (or a ciphertext byte) to
// a discrete leakage class.
package scble

import "fmt"

// LeakageModel is a closed catalog of leakage variables. Each entry carries
// its class set size and labeling function; unknown names are rejected at
// parse time, not silently defaulted.
type LeakageModel int

const (
	// ModelSboxOut leaks the S-box output sbox(p ^ k); 256 classes.
	ModelSboxOut LeakageModel = iota
	// ModelHwSboxOut leaks the Hamming weight of sbox(p ^ k); 9 classes.
	ModelHwSboxOut
	// ModelPXorK leaks p ^ k; 256 classes.
	ModelPXorK
	// ModelHwPXorK leaks the Hamming weight of p ^ k; 9 classes.
	ModelHwPXorK
	// ModelP leaks the raw plaintext byte; plaintext-bound, 256 classes.
	ModelP
	// ModelHwP leaks the Hamming weight of the plaintext byte;
	// plaintext-bound, 9 classes.
	ModelHwP
	// ModelK leaks the raw key byte; 256 classes.
	ModelK
	// ModelHwK leaks the Hamming weight of the key byte; 9 classes.
	ModelHwK
	// ModelHD leaks the Hamming distance between the S-box input and
	// output, offset to labels 0..6; 7 classes.
	ModelHD
	// ModelC leaks the raw ciphertext byte; 256 classes.
	ModelC
	// ModelHwC leaks the Hamming weight of the ciphertext byte; 9 classes.
	ModelHwC
	// ModelFixedVsFixed labels whether the fixed (p, k) pair matches a
	// constant; 2 classes.
	ModelFixedVsFixed

	numLeakageModels
)

// fixedVsFixedConst is the p^k value the binary fixed-vs-fixed model tests.
const fixedVsFixedConst = 48

var modelNames = map[LeakageModel]string{
	ModelSboxOut:      "sbox_out",
	ModelHwSboxOut:    "hw_sbox_out",
	ModelPXorK:        "p_xor_k",
	ModelHwPXorK:      "hw_p_xor_k",
	ModelP:            "p",
	ModelHwP:          "hw_p",
	ModelK:            "k",
	ModelHwK:          "hw_k",
	ModelHD:           "hd",
	ModelC:            "c",
	ModelHwC:          "hw_c",
	ModelFixedVsFixed: "fixed_vs_fixed",
}

func (m LeakageModel) String() string {
	if name, ok := modelNames[m]; ok {
		return name
	}
	return fmt.Sprintf("LeakageModel(%d)", int(m))
}

// ParseLeakageModel resolves a catalog name. Any other string is a caller
// error.
func ParseLeakageModel(name string) (LeakageModel, error) {
	for m, n := range modelNames {
		if n == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: leakage model %q is not supported", ErrConfig, name)
}

// NumClasses returns the size of the ordered class set; labels are
// 0..NumClasses-1.
func (m LeakageModel) NumClasses() int {
	switch m {
	case ModelSboxOut, ModelPXorK, ModelP, ModelK, ModelC:
		return 256
	case ModelHD:
		return 7
	case ModelFixedVsFixed:
		return 2
	default:
		return 9
	}
}

// PlaintextOnly reports whether the model leaks a plaintext-bound value:
// the attack then recovers the plaintext byte rather than the key byte, and
// ranking uses the plaintext as ground truth.
func (m LeakageModel) PlaintextOnly() bool {
	return m == ModelP || m == ModelHwP
}

// Hypothesizable reports whether the class can be derived from a plaintext
// byte and a key hypothesis alone. Ciphertext models profile fine but cannot
// drive hypothesis scoring.
func (m LeakageModel) Hypothesizable() bool {
	return m != ModelC && m != ModelHwC
}

// Value computes the leakage class for one (plaintext, key) byte pair.
// Not defined for the ciphertext models; see Labels.
func (m LeakageModel) Value(p, k byte) int {
	switch m {
	case ModelSboxOut:
		return int(sbox[p^k])
	case ModelHwSboxOut:
		return hammingWeight(sbox[p^k])
	case ModelPXorK:
		return int(p ^ k)
	case ModelHwPXorK:
		return hammingWeight(p ^ k)
	case ModelP:
		return int(p)
	case ModelHwP:
		return hammingWeight(p)
	case ModelK:
		return int(k)
	case ModelHwK:
		return hammingWeight(k)
	case ModelHD:
		return hammingWeight((p^k)^sbox[p^k]) - 1
	case ModelFixedVsFixed:
		if p^k == fixedVsFixedConst {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// Labels assigns the class of every trace for one key-byte index.
func (m LeakageModel) Labels(ts TraceSet, byteIdx int) ([]int, error) {
	labels := make([]int, len(ts))
	switch m {
	case ModelC:
		for i, t := range ts {
			if len(t.Ct) != 16 {
				return nil, fmt.Errorf("%w: trace %d has no ciphertext; call ComputeCiphertexts first",
					ErrPrecondition, i)
			}
			labels[i] = int(t.Ct[byteIdx])
		}
	case ModelHwC:
		for i, t := range ts {
			if len(t.Ct) != 16 {
				return nil, fmt.Errorf("%w: trace %d has no ciphertext; call ComputeCiphertexts first",
					ErrPrecondition, i)
			}
			labels[i] = hammingWeight(t.Ct[byteIdx])
		}
	default:
		for i, t := range ts {
			labels[i] = m.Value(t.Pt[byteIdx], t.Key[byteIdx])
		}
	}
	return labels, nil
}

// Models lists the full catalog in declaration order.
func Models() []LeakageModel {
	all := make([]LeakageModel, 0, int(numLeakageModels))
	for m := LeakageModel(0); m < numLeakageModels; m++ {
		all = append(all, m)
	}
	return all
}
