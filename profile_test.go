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
	"reflect"
	"testing"

	scble "github.com/pierreay/screaming-channels-ble"
)

func buildTestProfile(t *testing.T) *scble.Profile {
	t.Helper()
	ts := synthHwTraces(800, 30, 10, 2, 0.05, false)
	p, err := scble.BuildProfile(ts, scble.ModelHwSboxOut, scble.ProfileConfig{
		NumKeyBytes: 2,
		Algo:        scble.PoisSNR,
		NumPois:     1,
		PoiSpacing:  2,
	})
	if err != nil {
		t.Fatalf("BuildProfile failed: %v", err)
	}
	return p
}

// The bit-indicator fit needs a value-level model; a Hamming-weight label
// never exercises the high bits.
func buildFittedProfile(t *testing.T) *scble.Profile {
	t.Helper()
	ts := synthHwTraces(800, 30, 10, 2, 0.05, false)
	p, err := scble.BuildProfile(ts, scble.ModelSboxOut, scble.ProfileConfig{
		NumKeyBytes: 2,
		Algo:        scble.PoisSNR,
		NumPois:     1,
		PoiSpacing:  2,
		Fit:         true,
	})
	if err != nil {
		t.Fatalf("BuildProfile failed: %v", err)
	}
	return p
}

// The POI of each key byte must land on the sample that actually leaks it.
func TestBuildProfileFindsLeak(t *testing.T) {
	p := buildTestProfile(t)
	if p.Pois[0][0] != 10 {
		t.Errorf("byte 0 POI = %d, want 10", p.Pois[0][0])
	}
	if p.Pois[1][0] != 20 {
		t.Errorf("byte 1 POI = %d, want 20", p.Pois[1][0])
	}
}

// Higher Hamming weight classes must profile to higher means at the POI.
func TestBuildProfileClassMeansOrdered(t *testing.T) {
	p := buildTestProfile(t)
	// Extreme classes are rare under random inputs and may be empty; the
	// middle of the weight distribution is always populated.
	for cla := 2; cla < 6; cla++ {
		if p.Means[0][cla+1][0] <= p.Means[0][cla][0] {
			t.Errorf("mean of class %d (%v) not above class %d (%v)",
				cla+1, p.Means[0][cla+1][0], cla, p.Means[0][cla][0])
		}
	}
}

func TestBuildProfileRejectsBadConfig(t *testing.T) {
	ts := synthHwTraces(50, 30, 10, 1, 0.05, false)
	_, err := scble.BuildProfile(ts, scble.ModelHwSboxOut, scble.ProfileConfig{
		NumKeyBytes: 17,
		Algo:        scble.PoisSNR,
		NumPois:     1,
	})
	if !errors.Is(err, scble.ErrConfig) {
		t.Errorf("bad key byte count error = %v, want ErrConfig", err)
	}
}

func TestProfileSaveLoadRoundTrip(t *testing.T) {
	p1 := buildTestProfile(t)
	dir := t.TempDir()
	if err := p1.Save(dir); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	p2, err := scble.LoadProfile(dir)
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}
	if !reflect.DeepEqual(p1, p2) {
		t.Errorf("loaded profile did not match original")
	}
}

// The fitted linear model replaces the empirical means and invalidates the
// covariance; a fitted profile must not advertise one.
func TestFittedProfileHasNoCovariance(t *testing.T) {
	p1 := buildFittedProfile(t)
	if p1.Covs != nil {
		t.Fatal("fitted profile still carries a covariance")
	}
	dir := t.TempDir()
	if err := p1.Save(dir); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	p2, err := scble.LoadProfile(dir)
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}
	if p2.Covs != nil {
		t.Error("covariance reappeared after a save/load cycle")
	}
}
