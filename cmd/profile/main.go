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

// Builds a leakage profile from a training trace set captured with random
// keys and plaintexts.
//
// $ go run ./cmd/profile -logtostderr -v=1 \
//     -input captures/train_amplitude.json.gz -output profiles/amplitude \
//     -model hw_sbox_out -pois-algo snr -num-pois 2 -poi-spacing 5
package main

import (
	"flag"

	scble "github.com/pierreay/screaming-channels-ble"

	"github.com/golang/glog"
)

var (
	inputFlag  = flag.String("input", "", "Training trace set (json.gz)")
	outputFlag = flag.String("output", "", "Directory to store the profile in")

	modelFlag       = flag.String("model", "hw_sbox_out", "Leakage model")
	poisAlgoFlag    = flag.String("pois-algo", "snr", "POI selection metric: snr, soad, t, corr, r")
	numPoisFlag     = flag.Int("num-pois", 1, "Number of points of interest per key byte")
	poiSpacingFlag  = flag.Int("poi-spacing", 5, "Minimum distance between POIs")
	numKeyBytesFlag = flag.Int("num-key-bytes", 16, "Number of key bytes to profile")
	kFoldFlag       = flag.Int("k-fold", 10, "Folds for the r POI metric")
	fitFlag         = flag.Bool("fit", false, "Replace empirical class means with a fitted linear model")

	startPointFlag = flag.Int("start-point", 0, "First sample of the window of interest")
	endPointFlag   = flag.Int("end-point", 0, "One past the last sample (0 = end of trace)")

	alignFlag      = flag.Bool("align", false, "Align traces against the first trace before profiling")
	sampleRateFlag = flag.Float64("sample-rate", 8e6, "Sample rate used for the alignment low-pass filter")
	normFlag       = flag.Bool("norm", false, "z-score normalize each trace")
)

func init() {
	flag.Parse()
}

func main() {
	defer glog.Flush()

	model, err := scble.ParseLeakageModel(*modelFlag)
	if err != nil {
		glog.Fatal(err)
	}
	algo, err := scble.ParsePoisAlgo(*poisAlgoFlag)
	if err != nil {
		glog.Fatal(err)
	}

	ts, err := scble.LoadTraceSet(*inputFlag)
	if err != nil {
		glog.Fatal(err)
	}
	glog.Infof("Loaded %d traces / %d samples per trace", ts.NumTraces(), ts.NumSamples())

	if *startPointFlag != 0 || *endPointFlag != 0 {
		if ts, err = ts.Window(*startPointFlag, *endPointFlag); err != nil {
			glog.Fatal(err)
		}
	}
	if *alignFlag {
		if ts, err = scble.AlignAll(ts, *sampleRateFlag, nil); err != nil {
			glog.Fatal(err)
		}
	}
	if *normFlag {
		ts.NormalizeZScore(false)
	}

	p, err := scble.BuildProfile(ts, model, scble.ProfileConfig{
		NumKeyBytes: *numKeyBytesFlag,
		Algo:        algo,
		NumPois:     *numPoisFlag,
		PoiSpacing:  *poiSpacingFlag,
		KFold:       *kFoldFlag,
		Fit:         *fitFlag,
		PointStart:  *startPointFlag,
		PointEnd:    *endPointFlag,
	})
	if err != nil {
		glog.Fatal(err)
	}

	if err := p.Save(*outputFlag); err != nil {
		glog.Fatal(err)
	}
	glog.Infof("Profile for model %v stored under %s", model, *outputFlag)
}
