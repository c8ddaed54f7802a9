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

// Recovers an AES-128 key from a fixed-key attack trace set with a
// previously built profile. A second profile/trace-set pair may be given to
// fuse two extracted channels (amplitude and phase rotation) of the same
// capture.
//
// $ go run ./cmd/attack -logtostderr -v=1 \
//     -input captures/attack_amplitude.json.gz -profile profiles/amplitude \
//     -model hw_sbox_out -algo pcc
package main

import (
	"flag"
	"fmt"

	scble "github.com/pierreay/screaming-channels-ble"

	"github.com/golang/glog"
)

var (
	inputFlag   = flag.String("input", "", "Attack trace set (json.gz)")
	profileFlag = flag.String("profile", "", "Profile directory")

	input2Flag   = flag.String("input2", "", "Second-channel attack trace set (optional)")
	profile2Flag = flag.String("profile2", "", "Second-channel profile directory (optional)")

	modelFlag       = flag.String("model", "hw_sbox_out", "Leakage model")
	algoFlag        = flag.String("algo", "pcc", "Scoring algorithm: pcc or pdf")
	numPoisFlag     = flag.Int("num-pois", 0, "POIs to use (0 = all profiled)")
	numKeyBytesFlag = flag.Int("num-key-bytes", 0, "Key bytes to attack (0 = all profiled)")
	windowFlag      = flag.Int("window", 0, "Samples averaged around each POI")
	pooledCovFlag   = flag.Bool("pooled-cov", false, "Share one covariance across classes (pdf)")
	avgBytesFlag    = flag.Bool("average-bytes", false, "Average per-byte profiles into one (pcc)")

	alignFlag      = flag.Bool("align", false, "Align traces against the profile mean trace")
	sampleRateFlag = flag.Float64("sample-rate", 8e6, "Sample rate used for the alignment low-pass filter")
	normFlag       = flag.Bool("norm", false, "z-score normalize each trace")

	rankerFlag      = flag.String("ranker", "", "Base URL of the key ranking service (optional)")
	mergeFlag       = flag.Int("merge", 2, "Histogram merge factor for ranking")
	binsFlag        = flag.Int("bins", 512, "Histogram bins for ranking")
	bruteforceFlag  = flag.Bool("bruteforce", false, "Enumerate keys when the best guess misses")
	bitBoundEndFlag = flag.Int("bit-bound-end", 30, "Enumeration depth in key rank bits")
)

func init() {
	flag.Parse()
}

// attackChannel loads one profile/trace-set pair and runs the attack over
// it, returning the processed set alongside the result for enumeration.
func attackChannel(inputFile, profileDir string, cfg scble.AttackConfig) (*scble.AttackResult, scble.TraceSet, error) {
	p, err := scble.LoadProfile(profileDir)
	if err != nil {
		return nil, nil, err
	}
	ts, err := scble.LoadTraceSet(inputFile)
	if err != nil {
		return nil, nil, err
	}
	glog.Infof("Loaded %d traces / %d samples per trace", ts.NumTraces(), ts.NumSamples())

	if p.PointStart != 0 || p.PointEnd != 0 {
		if ts, err = ts.Window(p.PointStart, p.PointEnd); err != nil {
			return nil, nil, err
		}
	}
	if *alignFlag {
		if ts, err = scble.AlignAll(ts, *sampleRateFlag, p.MeanTrace); err != nil {
			return nil, nil, err
		}
	}
	if *normFlag {
		ts.NormalizeZScore(false)
	}
	res, err := p.Attack(ts, cfg)
	return res, ts, err
}

func main() {
	defer glog.Flush()

	model, err := scble.ParseLeakageModel(*modelFlag)
	if err != nil {
		glog.Fatal(err)
	}
	algo, err := scble.ParseAttackAlgo(*algoFlag)
	if err != nil {
		glog.Fatal(err)
	}
	cfg := scble.AttackConfig{
		Model:        model,
		Algo:         algo,
		NumKeyBytes:  *numKeyBytesFlag,
		NumPois:      *numPoisFlag,
		Window:       *windowFlag,
		PooledCov:    *pooledCovFlag,
		AverageBytes: *avgBytesFlag,
	}

	res, ts, err := attackChannel(*inputFlag, *profileFlag, cfg)
	if err != nil {
		glog.Fatal(err)
	}
	if *input2Flag != "" {
		res2, _, err := attackChannel(*input2Flag, *profile2Flag, cfg)
		if err != nil {
			glog.Fatal(err)
		}
		if res, err = scble.Recombine(res, res2); err != nil {
			glog.Fatal(err)
		}
	}

	fmt.Print(res.Summary())

	var ranker scble.KeyRanker
	if *rankerFlag != "" {
		ranker = scble.NewHelClient(*rankerFlag)
	}
	if est := scble.RankOrSkip(ranker, res, *mergeFlag, *binsFlag); est != nil {
		glog.Infof("Estimated key rank: 2^%.1f [2^%.1f, 2^%.1f]",
			est.Rounded, est.Min, est.Max)
	}
	if *bruteforceFlag {
		if err := ts.ComputeCiphertexts(); err != nil {
			glog.Fatal(err)
		}
		if key := scble.BruteforceOrSkip(ranker, res, ts,
			*mergeFlag, *binsFlag, *bitBoundEndFlag); key != nil {
			glog.Infof("Key recovered by enumeration: %x", key)
		}
	}
}
