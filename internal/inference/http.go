package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPConfig configures a classifier reached over HTTP.
type HTTPConfig struct {
	URL            string        // e.g. http://localhost:1337/api/features
	SensitiveLabel string        // class reported for regions to redact
	OtherLabel     string        // the competing class
	Timeout        time.Duration // per request
}

// DefaultHTTPConfig matches a locally running model runner.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		URL:            "http://localhost:1337/api/features",
		SensitiveLabel: "green",
		OtherLabel:     "red",
		Timeout:        2 * time.Second,
	}
}

// HTTPClassifier posts prepared features to a model runner:
//
//	POST {"features": [...]}  ->  {"result": {"classification": {label: score}}}
type HTTPClassifier struct {
	cfg    HTTPConfig
	client *http.Client
}

type featuresRequest struct {
	Features []int `json:"features"`
}

type runnerResponse struct {
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
	Result  struct {
		Classification map[string]float64 `json:"classification"`
	} `json:"result"`
}

// NewHTTPClassifier returns a classifier bound to cfg. Empty label names
// fall back to the defaults.
func NewHTTPClassifier(cfg HTTPConfig) *HTTPClassifier {
	def := DefaultHTTPConfig()
	if cfg.SensitiveLabel == "" {
		cfg.SensitiveLabel = def.SensitiveLabel
	}
	if cfg.OtherLabel == "" {
		cfg.OtherLabel = def.OtherLabel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &HTTPClassifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Classify implements Classifier.
func (c *HTTPClassifier) Classify(ctx context.Context, input []byte) (Scores, error) {
	req := featuresRequest{Features: make([]int, len(input))}
	for i, v := range input {
		req.Features[i] = int(v)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Scores{}, fmt.Errorf("inference: marshal features: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Scores{}, fmt.Errorf("inference: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Scores{}, fmt.Errorf("inference: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Scores{}, fmt.Errorf("inference: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Scores{}, fmt.Errorf("%w: status %d: %s", ErrBadResponse, resp.StatusCode,
			strings.TrimSpace(string(respBody)))
	}
	return ParseRunnerResponse(respBody, c.cfg.SensitiveLabel, c.cfg.OtherLabel)
}

// ParseRunnerResponse extracts the two label scores from a runner answer.
// A missing label scores 0, as long as the classification object exists.
func ParseRunnerResponse(body []byte, sensitiveLabel, otherLabel string) (Scores, error) {
	var r runnerResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Scores{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if r.Success != nil && !*r.Success {
		return Scores{}, fmt.Errorf("%w: runner error: %s", ErrBadResponse, r.Error)
	}
	if r.Result.Classification == nil {
		return Scores{}, fmt.Errorf("%w: no classification in result", ErrBadResponse)
	}
	return Scores{
		Sensitive: r.Result.Classification[sensitiveLabel],
		Other:     r.Result.Classification[otherLabel],
	}, nil
}
