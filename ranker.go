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
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/glog"
)

// RankEstimate bounds the position of the true key in the enumeration
// order implied by the score matrix, as log2 bit counts.
type RankEstimate struct {
	Min     float64 `json:"min"`
	Rounded float64 `json:"rounded"`
	Max     float64 `json:"max"`
}

//go:generate mockgen -destination=mocks/key_ranker.go -package=mocks github.com/pierreay/screaming-channels-ble KeyRanker

// KeyRanker estimates how deep the true key sits in the hypothesis ranking
// and enumerates candidate keys up to a bit bound. The implementation is a
// separate service; attacks must stay usable when it is absent.
type KeyRanker interface {
	// Rank estimates the rank of knownKey under scores, a 16x256 matrix
	// of per-byte hypothesis scores. Higher merge and bins trade time for
	// tighter bounds.
	Rank(scores [][]float64, knownKey []byte, merge, bins int) (*RankEstimate, error)
	// Bruteforce enumerates keys between the two bit bounds in decreasing
	// likelihood and returns the first one that encrypts pt1 to ct1 and
	// pt2 to ct2, or nil when the bound is exhausted.
	Bruteforce(scores [][]float64, pt1, pt2, ct1, ct2 []byte,
		merge, bins, bitBoundStart, bitBoundEnd int) ([]byte, error)
}

// HelClient talks JSON over HTTP to a histogram-enumeration ranking
// service.
type HelClient struct {
	baseURL string
	client  *http.Client
}

func NewHelClient(baseURL string) *HelClient {
	return &HelClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

type rankRequest struct {
	Scores   [][]float64 `json:"scores"`
	KnownKey []byte      `json:"known_key"`
	Merge    int         `json:"merge"`
	Bins     int         `json:"bins"`
}

type bruteforceRequest struct {
	Scores        [][]float64 `json:"scores"`
	Pt1           []byte      `json:"pt1"`
	Pt2           []byte      `json:"pt2"`
	Ct1           []byte      `json:"ct1"`
	Ct2           []byte      `json:"ct2"`
	Merge         int         `json:"merge"`
	Bins          int         `json:"bins"`
	BitBoundStart int         `json:"bit_bound_start"`
	BitBoundEnd   int         `json:"bit_bound_end"`
}

type bruteforceResponse struct {
	Found bool   `json:"found"`
	Key   []byte `json:"key"`
}

func (c *HelClient) post(path string, req, resp interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpResp, err := c.client.Post(c.baseURL+path, "application/json",
		bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: ranking service: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: ranking service returned %s", ErrUnavailable, httpResp.Status)
	}
	return json.NewDecoder(httpResp.Body).Decode(resp)
}

func (c *HelClient) Rank(scores [][]float64, knownKey []byte, merge, bins int) (*RankEstimate, error) {
	if len(scores) != 16 {
		return nil, fmt.Errorf("%w: ranking needs scores for all 16 key bytes, got %d",
			ErrConfig, len(scores))
	}
	var est RankEstimate
	err := c.post("/rank", &rankRequest{
		Scores:   scores,
		KnownKey: knownKey,
		Merge:    merge,
		Bins:     bins,
	}, &est)
	if err != nil {
		return nil, err
	}
	return &est, nil
}

func (c *HelClient) Bruteforce(scores [][]float64, pt1, pt2, ct1, ct2 []byte,
	merge, bins, bitBoundStart, bitBoundEnd int) ([]byte, error) {
	if len(scores) != 16 {
		return nil, fmt.Errorf("%w: enumeration needs scores for all 16 key bytes, got %d",
			ErrConfig, len(scores))
	}
	var resp bruteforceResponse
	err := c.post("/bruteforce", &bruteforceRequest{
		Scores:        scores,
		Pt1:           pt1,
		Pt2:           pt2,
		Ct1:           ct1,
		Ct2:           ct2,
		Merge:         merge,
		Bins:          bins,
		BitBoundStart: bitBoundStart,
		BitBoundEnd:   bitBoundEnd,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, nil
	}
	// Trust but verify: the service's candidate must actually encrypt both
	// plaintext pairs.
	for _, pair := range [][2][]byte{{pt1, ct1}, {pt2, ct2}} {
		ct, err := EncryptBlock(resp.Key, pair[0])
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(ct, pair[1]) {
			return nil, fmt.Errorf("%w: ranking service returned a key that does not verify",
				ErrUnavailable)
		}
	}
	return resp.Key, nil
}

// RankOrSkip ranks when a service is configured and reachable; otherwise
// it logs and returns nil so attacks degrade gracefully.
func RankOrSkip(ranker KeyRanker, res *AttackResult, merge, bins int) *RankEstimate {
	if ranker == nil {
		return nil
	}
	est, err := ranker.Rank(res.Scores, res.Known, merge, bins)
	if err != nil {
		glog.Warningf("key rank estimation skipped: %v", err)
		return nil
	}
	return est
}

// BruteforceOrSkip enumerates candidate keys up to bitBoundEnd when the
// best guess missed, verifying against the first two traces' known
// plaintext/ciphertext pairs. Returns nil when no service is configured,
// the guess already matched, the pairs are unavailable, or the bound is
// exhausted.
func BruteforceOrSkip(ranker KeyRanker, res *AttackResult, ts TraceSet,
	merge, bins, bitBoundEnd int) []byte {
	if ranker == nil || res.Recovered() {
		return nil
	}
	if len(ts) < 2 || len(ts[0].Ct) != 16 || len(ts[1].Ct) != 16 {
		glog.Warning("key enumeration skipped: need two traces with ciphertexts to verify against")
		return nil
	}
	key, err := ranker.Bruteforce(res.Scores, ts[0].Pt, ts[1].Pt, ts[0].Ct, ts[1].Ct,
		merge, bins, 0, bitBoundEnd)
	if err != nil {
		glog.Warningf("key enumeration skipped: %v", err)
		return nil
	}
	return key
}
