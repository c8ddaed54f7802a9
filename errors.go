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

import "errors"

// Error kinds discriminated by callers with errors.Is.
var (
	// ErrConfig marks an invalid caller configuration: unknown leakage model
	// or POI metric, more POIs requested than available, bruteforce with an
	// unsupported key-byte count. The invocation is aborted with no result.
	ErrConfig = errors.New("invalid configuration")

	// ErrPrecondition marks input that makes the result meaningless: a
	// key-bound leakage model applied to a variable-key trace set, NaN in
	// correlation inputs, or an alignment shift large enough to signal a
	// detection failure upstream.
	ErrPrecondition = errors.New("precondition violated")

	// ErrDegenerate marks statistics that cannot be formed from the observed
	// data, such as a class with no traces. Callers usually recover by
	// skipping the class.
	ErrDegenerate = errors.New("degenerate data")

	// ErrUnavailable marks the external key-ranking service being absent.
	// Attack results remain valid without it.
	ErrUnavailable = errors.New("service unavailable")
)
