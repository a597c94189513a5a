// Package classifier trains small probes on frozen token embeddings with gomlx and evaluates them.
package classifier

import (
	"fmt"
)

// Kind selects the probe architecture.
type Kind string

const (
	// Linear is a single dense layer from the embedding to the label logits.
	Linear Kind = "linear"
	// MLP adds a hidden relu layer as wide as its input, followed by dropout.
	MLP Kind = "mlp"
)

// DefaultDropout is the dropout rate after the hidden layer of an MLP probe.
const DefaultDropout = 0.5

type Config struct {
	Kind Kind
	// Contrastive probes take two embeddings per instance and classify their concatenation.
	Contrastive  bool
	NumClasses   int
	EmbeddingDim int
	Dropout      float64
}

// ParseKind accepts "linear" and "mlp", empty means linear.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", Linear:
		return Linear, nil
	case MLP:
		return MLP, nil
	}
	return "", fmt.Errorf("classifier %q is not supported, use %s or %s", s, Linear, MLP)
}

func (c Config) Validate() error {
	if _, err := ParseKind(string(c.Kind)); err != nil {
		return err
	}
	if c.NumClasses < 1 {
		return fmt.Errorf("probe needs at least one label, got %d", c.NumClasses)
	}
	if c.EmbeddingDim < 1 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.EmbeddingDim)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1), got %g", c.Dropout)
	}
	return nil
}

// Inputs is the number of embeddings per instance.
func (c Config) Inputs() int {
	if c.Contrastive {
		return 2
	}
	return 1
}
