// Package vocab maps tokens and labels to contiguous indices.
package vocab

import (
	"github.com/knights-analytics/linspector/intrinsic"
)

const (
	PaddingToken = "@@PADDING@@"
	OOVToken     = "@@UNKNOWN@@"

	PaddingIndex = 0
	OOVIndex     = 1
)

// Vocabulary holds two namespaces. The token namespace reserves index 0 for padding and index 1 for
// unknown tokens, the label namespace has no reserved entries and keeps the order labels first appear in.
type Vocabulary struct {
	tokens     []string
	tokenIndex map[string]int
	labels     []string
	labelIndex map[string]int
}

// New returns an empty vocabulary holding only the reserved tokens.
func New() *Vocabulary {
	return &Vocabulary{
		tokens:     []string{PaddingToken, OOVToken},
		tokenIndex: map[string]int{PaddingToken: PaddingIndex, OOVToken: OOVIndex},
		labelIndex: map[string]int{},
	}
}

// FromInstances builds a vocabulary over all tokens and labels of the given instance sets.
// Test data should be included, otherwise test tokens map to OOV and evaluation becomes unstable.
func FromInstances(sets ...[]intrinsic.Instance) *Vocabulary {
	v := New()
	for _, set := range sets {
		for _, instance := range set {
			for _, token := range instance.Tokens {
				v.AddToken(token)
			}
			v.AddLabel(instance.Label)
		}
	}
	return v
}

// AddToken adds token if unseen and returns its index.
func (v *Vocabulary) AddToken(token string) int {
	if i, ok := v.tokenIndex[token]; ok {
		return i
	}
	v.tokenIndex[token] = len(v.tokens)
	v.tokens = append(v.tokens, token)
	return len(v.tokens) - 1
}

// AddLabel adds label if unseen and returns its index.
func (v *Vocabulary) AddLabel(label string) int {
	if i, ok := v.labelIndex[label]; ok {
		return i
	}
	v.labelIndex[label] = len(v.labels)
	v.labels = append(v.labels, label)
	return len(v.labels) - 1
}

// TokenIndex returns the index of token, OOVIndex if unknown.
func (v *Vocabulary) TokenIndex(token string) int {
	if i, ok := v.tokenIndex[token]; ok {
		return i
	}
	return OOVIndex
}

// LabelIndex returns the index of label and whether it is known.
func (v *Vocabulary) LabelIndex(label string) (int, bool) {
	i, ok := v.labelIndex[label]
	return i, ok
}

func (v *Vocabulary) Token(i int) string {
	return v.tokens[i]
}

func (v *Vocabulary) Label(i int) string {
	return v.labels[i]
}

// TokenSize includes the reserved padding and OOV entries.
func (v *Vocabulary) TokenSize() int {
	return len(v.tokens)
}

func (v *Vocabulary) LabelSize() int {
	return len(v.labels)
}

// Tokens returns the non reserved tokens in index order.
func (v *Vocabulary) Tokens() []string {
	return v.tokens[OOVIndex+1:]
}

func (v *Vocabulary) Labels() []string {
	return v.labels
}
