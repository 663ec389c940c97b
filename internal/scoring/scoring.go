// Package scoring talks to the external frame quality scorer.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/mossy-p/fabcam/internal/models"
	"github.com/rs/zerolog/log"
)

// Scorer rates a captured frame, optionally against a reference image.
// Both images are base64 encoded.
type Scorer interface {
	Score(ctx context.Context, frame, reference string) (models.Scores, error)
}

var (
	// Fallback is returned when no external scorer is configured.
	Fallback = models.Scores{Uniformity: 0.87, Defects: 0.92, Coverage: 0.94, OverallFitness: 0.85}
	// Neutral is returned when the external scorer fails or answers garbage.
	Neutral = models.Scores{Uniformity: 0.5, Defects: 0.5, Coverage: 0.5, OverallFitness: 0.5}
)

// Fixed always returns the same scores.
type Fixed struct {
	Scores models.Scores
}

func (f Fixed) Score(context.Context, string, string) (models.Scores, error) {
	return f.Scores, nil
}

// Remote posts frames to an HTTP scoring service.
type Remote struct {
	url    string
	client *http.Client
}

func NewRemote(url string, timeout time.Duration) *Remote {
	return &Remote{url: url, client: &http.Client{Timeout: timeout}}
}

type remoteRequest struct {
	Frame     string `json:"frame"`
	Reference string `json:"reference,omitempty"`
}

// Score never fails: transport and decoding problems are logged and
// reported as Neutral scores.
func (r *Remote) Score(ctx context.Context, frame, reference string) (models.Scores, error) {
	scores, err := r.score(ctx, frame, reference)
	if err != nil {
		log.Warn().Err(err).Str("module", "scoring").Str("url", r.url).Msg("vision scoring failed")
		return Neutral, nil
	}
	return scores, nil
}

func (r *Remote) score(ctx context.Context, frame, reference string) (models.Scores, error) {
	body, err := json.Marshal(remoteRequest{Frame: frame, Reference: reference})
	if err != nil {
		return models.Scores{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return models.Scores{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return models.Scores{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return models.Scores{}, fmt.Errorf("scorer returned %s", resp.Status)
	}

	var raw map[string]*float64
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return models.Scores{}, fmt.Errorf("decode scores: %w", err)
	}
	return models.Scores{
		Uniformity:     pick(raw, "uniformity"),
		Coverage:       pick(raw, "coverage"),
		Defects:        pick(raw, "defects"),
		OverallFitness: pick(raw, "overall_fitness"),
	}, nil
}

// pick returns the clamped value of key, or 0.5 when it is missing.
func pick(raw map[string]*float64, key string) float64 {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0.5
	}
	return Clamp(*v)
}

// Clamp limits v to [0, 1]. NaN becomes 0.5.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0.5
	}
	return math.Max(0, math.Min(1, v))
}
