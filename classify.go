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

import "fmt"

// ClassPartition indexes traces by leakage class for one key-byte position:
// element c holds the indices of all traces whose label is c. Traces are
// referenced, never copied. A class that never occurs has an empty slice;
// statistics on it are undefined and must be guarded.
type ClassPartition [][]int

// Classify buckets trace indices by label in a single linear pass.
func Classify(labels []int, numClasses int) (ClassPartition, error) {
	part := make(ClassPartition, numClasses)
	for i, cla := range labels {
		if cla < 0 || cla >= numClasses {
			return nil, fmt.Errorf("%w: trace %d labeled %d, outside [0, %d)",
				ErrPrecondition, i, cla, numClasses)
		}
		part[cla] = append(part[cla], i)
	}
	return part, nil
}

// Count returns the number of traces in one class.
func (p ClassPartition) Count(class int) int {
	return len(p[class])
}
