package classifier

import (
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/types/tensors"

	"github.com/knights-analytics/linspector/embeddings"
	"github.com/knights-analytics/linspector/intrinsic"
	"github.com/knights-analytics/linspector/vocab"
)

// Dataset yields batches of frozen embeddings: one [batch, dim] float32 input per token slot and [batch, 1] int32
// label indices.
type Dataset struct {
	name      string
	tokens    [][]int // vocabulary indices, one slice per instance
	labels    []int32
	matrix    *embeddings.Matrix
	batchSize int
	order     []int
	next      int
	random    *rand.Rand
	verbose   bool
	batchN    int
}

var _ train.Dataset = (*Dataset)(nil)

// NewDataset looks up the instances in v. Every label must be known to v. A non-nil random shuffles the
// instances at the start of every epoch.
func NewDataset(name string, instances []intrinsic.Instance, v *vocab.Vocabulary, matrix *embeddings.Matrix, batchSize int, random *rand.Rand) (*Dataset, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("dataset %s has no instances", name)
	}
	d := &Dataset{
		name:      name,
		tokens:    make([][]int, len(instances)),
		labels:    make([]int32, len(instances)),
		matrix:    matrix,
		batchSize: batchSize,
		order:     make([]int, len(instances)),
		random:    random,
	}
	slots := len(instances[0].Tokens)
	for i, instance := range instances {
		if len(instance.Tokens) != slots {
			return nil, fmt.Errorf("dataset %s: instance %d has %d tokens, expected %d", name, i, len(instance.Tokens), slots)
		}
		label, ok := v.LabelIndex(instance.Label)
		if !ok {
			return nil, fmt.Errorf("dataset %s: unknown label %q", name, instance.Label)
		}
		d.labels[i] = int32(label)
		d.tokens[i] = make([]int, slots)
		for j, token := range instance.Tokens {
			d.tokens[i][j] = v.TokenIndex(token)
		}
		d.order[i] = i
	}
	d.shuffle()
	return d, nil
}

func (d *Dataset) SetVerbose(v bool) {
	d.verbose = v
}

func (d *Dataset) Name() string {
	return d.name
}

func (d *Dataset) Len() int {
	return len(d.labels)
}

// Labels returns the label indices in instance order.
func (d *Dataset) Labels() []int32 {
	return d.labels
}

func (d *Dataset) shuffle() {
	if d.random == nil {
		return
	}
	d.random.Shuffle(len(d.order), func(i, j int) {
		d.order[i], d.order[j] = d.order[j], d.order[i]
	})
}

func (d *Dataset) Reset() {
	if d.verbose {
		fmt.Printf("completed epoch of %s in %d batches of %d examples, resetting dataset\n", d.name, d.batchN, d.batchSize)
	}
	d.next = 0
	d.batchN = 0
	d.shuffle()
}

func (d *Dataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if d.next >= len(d.order) {
		return nil, nil, nil, io.EOF // return error for reset
	}
	end := min(d.next+d.batchSize, len(d.order))
	batch := d.order[d.next:end]
	d.next = end
	d.batchN++
	inputs, labels = d.tensors(batch)
	return nil, inputs, labels, nil
}

// All returns the whole dataset in instance order as one batch.
func (d *Dataset) All() (inputs []*tensors.Tensor, labels []*tensors.Tensor) {
	all := make([]int, len(d.labels))
	for i := range all {
		all[i] = i
	}
	return d.tensors(all)
}

func (d *Dataset) tensors(batch []int) ([]*tensors.Tensor, []*tensors.Tensor) {
	dim := d.matrix.Dim
	slots := len(d.tokens[batch[0]])
	inputs := make([]*tensors.Tensor, slots)
	for slot := range slots {
		backing := make([]float32, 0, len(batch)*dim)
		for _, i := range batch {
			backing = append(backing, d.matrix.Row(d.tokens[i][slot])...)
		}
		inputs[slot] = tensors.FromFlatDataAndDimensions(backing, len(batch), dim)
	}
	labels := make([]int32, len(batch))
	for k, i := range batch {
		labels[k] = d.labels[i]
	}
	return inputs, []*tensors.Tensor{tensors.FromFlatDataAndDimensions(labels, len(batch), 1)}
}
