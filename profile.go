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

// Profile construction from a training trace set, and profile persistence.
package scble

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// PoisAlgo selects the informativeness metric for POI search.
type PoisAlgo int

const (
	PoisSNR PoisAlgo = iota
	PoisSOAD
	PoisTTest
	PoisCorr
	PoisRho
)

var poisAlgoNames = map[PoisAlgo]string{
	PoisSNR:   "snr",
	PoisSOAD:  "soad",
	PoisTTest: "t",
	PoisCorr:  "corr",
	PoisRho:   "r",
}

func (a PoisAlgo) String() string {
	if name, ok := poisAlgoNames[a]; ok {
		return name
	}
	return fmt.Sprintf("PoisAlgo(%d)", int(a))
}

func ParsePoisAlgo(name string) (PoisAlgo, error) {
	for a, n := range poisAlgoNames {
		if n == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: POIs algo %q is not supported", ErrConfig, name)
}

type ProfileConfig struct {
	NumKeyBytes int
	Algo        PoisAlgo
	NumPois     int
	PoiSpacing  int
	KFold       int // rho-test folds
	Fit         bool
	PointStart  int
	PointEnd    int
}

// Profile is the per-class statistical summary built from a training set
// with known secrets. Immutable once built or loaded; attacks read it only.
type Profile struct {
	Model       string
	NumKeyBytes int

	// Pois[b] are the selected sample indices for key byte b.
	Pois [][]int
	// Means/Stds[b][class] are per-POI vectors; Covs[b][class] is the
	// POIxPOI covariance matrix. Covs is nil when the means come from the
	// linear leakage fit, which discards the empirical covariance.
	Means [][][]float64
	Stds  [][][]float64
	Covs  [][][][]float64

	// Counts[b][class] is the number of training traces behind each class
	// summary. A zero count marks a class the training set never hit;
	// its mean and covariance entries are meaningless.
	Counts [][]int

	// Raw and Fisher-z rho-test curves over the full trace length; zero
	// unless the profile was built with PoisRho.
	Rs  [][]float64
	Rzs [][]float64

	// MeanTrace is the average of all training traces.
	MeanTrace []float64

	// Original trace window the profile was built from.
	PointStart int
	PointEnd   int
}

func (p *Profile) NumPois() int {
	if len(p.Pois) == 0 {
		return 0
	}
	return len(p.Pois[0])
}

// BuildProfile classifies the training set under the leakage model, locates
// POIs with the configured metric, and estimates per-class mean, std, and
// covariance restricted to the POIs.
func BuildProfile(ts TraceSet, model LeakageModel, cfg ProfileConfig) (*Profile, error) {
	if err := ts.Validate(); err != nil {
		return nil, err
	}
	if cfg.NumKeyBytes < 1 || cfg.NumKeyBytes > 16 {
		return nil, fmt.Errorf("%w: num key bytes %d outside [1, 16]", ErrConfig, cfg.NumKeyBytes)
	}
	numSamples := ts.NumSamples()
	numClasses := model.NumClasses()

	p := &Profile{
		Model:       model.String(),
		NumKeyBytes: cfg.NumKeyBytes,
		Pois:        make([][]int, cfg.NumKeyBytes),
		Means:       make([][][]float64, cfg.NumKeyBytes),
		Stds:        make([][][]float64, cfg.NumKeyBytes),
		Covs:        make([][][][]float64, cfg.NumKeyBytes),
		Counts:      make([][]int, cfg.NumKeyBytes),
		Rs:          make([][]float64, cfg.NumKeyBytes),
		Rzs:         make([][]float64, cfg.NumKeyBytes),
		MeanTrace:   ts.MeanTrace(),
		PointStart:  cfg.PointStart,
		PointEnd:    cfg.PointEnd,
	}

	for bnum := 0; bnum < cfg.NumKeyBytes; bnum++ {
		labels, err := model.Labels(ts, bnum)
		if err != nil {
			return nil, err
		}
		stats := EstimateClassStats(ts, labels, numClasses)

		p.Rs[bnum] = make([]float64, numSamples)
		p.Rzs[bnum] = make([]float64, numSamples)
		var curve []float64
		switch cfg.Algo {
		case PoisSNR:
			curve = stats.SNR()
		case PoisSOAD:
			curve = stats.SOAD()
		case PoisTTest:
			if curve, _, err = stats.WelchTTest(); err != nil {
				return nil, err
			}
		case PoisCorr:
			if curve, _, err = DirectCorrelation(ts, labels); err != nil {
				return nil, err
			}
		case PoisRho:
			rs, rzs, _, err := RhoTest(ts, labels, numClasses, cfg.KFold)
			if err != nil {
				return nil, err
			}
			p.Rs[bnum], p.Rzs[bnum] = rs, rzs
			curve = rs
		default:
			return nil, fmt.Errorf("%w: POIs algo %v is not supported", ErrConfig, cfg.Algo)
		}

		if p.Pois[bnum], err = FindPOIs(curve, cfg.NumPois, cfg.PoiSpacing); err != nil {
			return nil, err
		}
		glog.V(1).Infof("byte %d POIs: %v", bnum, p.Pois[bnum])

		part, err := Classify(labels, numClasses)
		if err != nil {
			return nil, err
		}
		p.Means[bnum], p.Stds[bnum], p.Covs[bnum] = profileClasses(ts, stats, part, p.Pois[bnum])
		p.Counts[bnum] = make([]int, numClasses)
		for cla := 0; cla < numClasses; cla++ {
			p.Counts[bnum][cla] = part.Count(cla)
		}

		if cfg.Fit {
			if p.Means[bnum], err = fitLinearModel(ts, labels, numClasses, p.Pois[bnum]); err != nil {
				return nil, err
			}
		}
	}

	if cfg.Fit {
		// Fitted means replace the empirical profile; covariance no longer
		// describes the model and template scoring must not use it.
		p.Covs = nil
	}
	return p, nil
}

// profileClasses restricts the class statistics to the POI dimensions and
// estimates the POIxPOI covariance of each class. A class with fewer than
// two traces has an undefined covariance and is left zeroed; template
// scoring skips it.
func profileClasses(ts TraceSet, stats *ClassStats, part ClassPartition, pois []int) (
	means, stds [][]float64, covs [][][]float64) {
	numClasses := stats.NumClasses()
	numPois := len(pois)
	means = make([][]float64, numClasses)
	stds = make([][]float64, numClasses)
	covs = make([][][]float64, numClasses)

	for cla := 0; cla < numClasses; cla++ {
		means[cla] = make([]float64, numPois)
		stds[cla] = make([]float64, numPois)
		covs[cla] = make([][]float64, numPois)
		for i := range covs[cla] {
			covs[cla][i] = make([]float64, numPois)
		}
		if part.Count(cla) == 0 {
			glog.Warningf("class %d has no traces; profile entries left zero", cla)
			continue
		}
		mean := stats.Mean(cla)
		std := stats.Std(cla)
		for i, poi := range pois {
			means[cla][i] = mean[poi]
			stds[cla][i] = std[poi]
		}
		if part.Count(cla) < 2 {
			continue
		}
		// Pairwise sample covariance over the class's traces at the POIs.
		cols := make([][]float64, numPois)
		for i, poi := range pois {
			col := make([]float64, part.Count(cla))
			for j, idx := range part[cla] {
				col[j] = ts[idx].Samples[poi]
			}
			cols[i] = col
		}
		for i := 0; i < numPois; i++ {
			for j := 0; j <= i; j++ {
				c := stat.Covariance(cols[i], cols[j], nil)
				covs[cla][i][j] = c
				covs[cla][j][i] = c
			}
		}
	}
	return means, stds, covs
}

// fitLinearModel replaces the empirical per-class means with predictions
// from an ordinary-least-squares regression of the per-POI amplitude
// against a bit-decomposition basis of the leakage value: eight bit
// indicators plus an intercept.
func fitLinearModel(ts TraceSet, labels []int, numClasses int, pois []int) ([][]float64, error) {
	const numBetas = 9
	numTraces := len(ts)
	numPois := len(pois)

	basis := func(v int) []float64 {
		row := make([]float64, numBetas)
		for bit := 0; bit < numBetas-1; bit++ {
			row[bit] = float64((v >> bit) & 1)
		}
		row[numBetas-1] = 1
		return row
	}

	A := mat.NewDense(numTraces, numBetas, nil)
	for t := 0; t < numTraces; t++ {
		A.SetRow(t, basis(labels[t]))
	}
	B := mat.NewDense(numTraces, numPois, nil)
	for t := 0; t < numTraces; t++ {
		for i, poi := range pois {
			B.Set(t, i, ts[t].Samples[poi])
		}
	}

	var qr mat.QR
	qr.Factorize(A)
	var betas mat.Dense // numBetas x numPois
	if err := qr.SolveTo(&betas, false, B); err != nil {
		return nil, fmt.Errorf("%w: linear fit is singular: %v", ErrDegenerate, err)
	}

	means := make([][]float64, numClasses)
	for cla := 0; cla < numClasses; cla++ {
		means[cla] = make([]float64, numPois)
		row := basis(cla)
		for i := 0; i < numPois; i++ {
			var v float64
			for b := 0; b < numBetas; b++ {
				v += row[b] * betas.At(b, i)
			}
			means[cla][i] = v
		}
	}
	return means, nil
}

// Profile directory artifacts, one numeric array per file.
const (
	poisFn      = "POIS.json.gz"
	rsFn        = "PROFILE_RS.json.gz"
	rzsFn       = "PROFILE_RZS.json.gz"
	meansFn     = "PROFILE_MEANS.json.gz"
	stdsFn      = "PROFILE_STDS.json.gz"
	covsFn      = "PROFILE_COVS.json.gz"
	countsFn    = "PROFILE_COUNTS.json.gz"
	meanTraceFn = "PROFILE_MEAN_TRACE.json.gz"
	metaFn      = "PROFILE_META.json.gz"
)

type profileMeta struct {
	Model       string `json:"model"`
	NumKeyBytes int    `json:"num_key_bytes"`
	PointStart  int    `json:"point_start"`
	PointEnd    int    `json:"point_end"`
}

func saveArtifact(filename string, v interface{}) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("Error creating profile artifact: %v", err)
	}
	defer f.Close()
	zipper := gzip.NewWriter(f)
	if err = json.NewEncoder(zipper).Encode(v); err != nil {
		return fmt.Errorf("JSON encoder failed %v", err)
	}
	if err = zipper.Close(); err != nil {
		return fmt.Errorf("gzip close failed %v", err)
	}
	return nil
}

func loadArtifact(filename string, v interface{}) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	zipper, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("gzip NewReader failed %v", err)
	}
	if err = json.NewDecoder(zipper).Decode(v); err != nil {
		return fmt.Errorf("JSON decoder failed %v", err)
	}
	return nil
}

// Save persists the profile as a fixed set of named artifacts inside dir.
// Existing artifacts are overwritten.
func (p *Profile) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	meta := profileMeta{p.Model, p.NumKeyBytes, p.PointStart, p.PointEnd}
	artifacts := map[string]interface{}{
		metaFn:      meta,
		poisFn:      p.Pois,
		rsFn:        p.Rs,
		rzsFn:       p.Rzs,
		meansFn:     p.Means,
		stdsFn:      p.Stds,
		countsFn:    p.Counts,
		meanTraceFn: p.MeanTrace,
	}
	if p.Covs != nil {
		artifacts[covsFn] = p.Covs
	}
	for name, v := range artifacts {
		if err := saveArtifact(filepath.Join(dir, name), v); err != nil {
			return err
		}
	}
	return nil
}

// LoadProfile reads a profile back from dir. Symmetric with Save:
// LoadProfile(Save(p)) reproduces every numeric field.
func LoadProfile(dir string) (*Profile, error) {
	p := &Profile{}
	var meta profileMeta
	if err := loadArtifact(filepath.Join(dir, metaFn), &meta); err != nil {
		return nil, err
	}
	p.Model = meta.Model
	p.NumKeyBytes = meta.NumKeyBytes
	p.PointStart = meta.PointStart
	p.PointEnd = meta.PointEnd

	for name, v := range map[string]interface{}{
		poisFn:      &p.Pois,
		rsFn:        &p.Rs,
		rzsFn:       &p.Rzs,
		meansFn:     &p.Means,
		stdsFn:      &p.Stds,
		countsFn:    &p.Counts,
		meanTraceFn: &p.MeanTrace,
	} {
		if err := loadArtifact(filepath.Join(dir, name), v); err != nil {
			return nil, err
		}
	}
	// Fitted profiles have no covariance artifact.
	err := loadArtifact(filepath.Join(dir, covsFn), &p.Covs)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return p, nil
}
