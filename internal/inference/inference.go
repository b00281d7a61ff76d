// Package inference defines the contract with the region classifier and the
// decision rule applied to its scores.
package inference

import (
	"context"
	"errors"

	"github.com/nardellimar25/vsg-gateway/pkg/types"
)

const (
	// InputSize is the side length of the square classifier input.
	InputSize = 96
	// DecisionMargin is how far the sensitive score must lead the other
	// score for a region to be redacted.
	DecisionMargin = 0.5
)

// ErrBadResponse is returned when the classifier answer cannot be used.
var ErrBadResponse = errors.New("inference: bad classifier response")

// Scores are the two class probabilities reported for one region.
type Scores struct {
	Sensitive float64 `json:"sensitive"`
	Other     float64 `json:"other"`
}

// Classifier scores one prepared input of InputSize*InputSize gray bytes.
// Implementations must be safe for use by a single goroutine at a time;
// the orchestrator never calls Classify concurrently.
type Classifier interface {
	Classify(ctx context.Context, input []byte) (Scores, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, input []byte) (Scores, error)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(ctx context.Context, input []byte) (Scores, error) {
	return f(ctx, input)
}

// Decide applies the margin rule: sensitive iff sensitive >= other + 0.5.
func Decide(s Scores) types.Label {
	if s.Sensitive >= s.Other+DecisionMargin {
		return types.LabelSensitive
	}
	return types.LabelNonSensitive
}

// Confidence returns the score of the chosen label.
func Confidence(s Scores, label types.Label) float64 {
	if label == types.LabelSensitive {
		return s.Sensitive
	}
	return s.Other
}
