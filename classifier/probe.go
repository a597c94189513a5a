package classifier

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"

	_ "github.com/gomlx/gomlx/backends/simplego"
)

// NewBackend creates the gomlx backend probes are trained on. config is a gomlx backend config such as "go" or
// "xla:cpu"; empty selects the pure Go backend.
func NewBackend(config string) (backends.Backend, error) {
	if config == "" {
		config = "go"
	}
	var backend backends.Backend
	err := exceptions.TryCatch[error](func() {
		backend = backends.NewWithConfig(config)
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s backend: %w", config, err)
	}
	return backend, nil
}

// logits builds the probe graph: the label logits for a batch of embeddings.
func (c Config) logits(ctx *context.Context, inputs []*graph.Node) *graph.Node {
	x := inputs[0]
	if c.Contrastive {
		x = graph.Concatenate(inputs, -1)
	}
	if c.Kind == MLP {
		g := x.Graph()
		x = layers.Dense(ctx.In("hidden"), x, true, x.Shape().Dim(-1))
		x = activations.Relu(x)
		if c.Dropout > 0 {
			x = layers.Dropout(ctx.In("dropout"), x, graph.Scalar(g, x.DType(), c.Dropout))
		}
	}
	return layers.Dense(ctx.In("logits"), x, true, c.NumClasses)
}

// Probe holds the gomlx state of one trained probe: its variables, training loop and inference executor.
type Probe struct {
	config  Config
	backend backends.Backend
	ctx     *context.Context
	loop    *train.Loop
	predict *context.Exec
}

type snapshot map[*context.Variable]*tensors.Tensor

func newProbe(backend backends.Backend, config Config, learningRate, stepClip float64) (*Probe, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	p := &Probe{config: config, backend: backend}
	err := exceptions.TryCatch[error](func() {
		// batches of different sizes build new graphs over the same variables
		p.ctx = context.New().Checked(false)
		if stepClip > 0 {
			p.ctx.SetParam(optimizers.ParamClipStepByValue, stepClip)
		}
		modelFn := func(ctx *context.Context, _ any, inputs []*graph.Node) []*graph.Node {
			return []*graph.Node{config.logits(ctx, inputs)}
		}
		trainer := train.NewTrainer(backend,
			p.ctx,
			modelFn,
			losses.SparseCategoricalCrossEntropyLogits,
			optimizers.Adam().LearningRate(learningRate).Done(),
			nil,
			nil)
		p.loop = train.NewLoop(trainer)
		p.predict = context.NewExec(backend, p.ctx.Reuse(), func(ctx *context.Context, inputs []*graph.Node) *graph.Node {
			return config.logits(ctx, inputs)
		})
		p.predict.SetMaxCache(-1)
	})
	if err != nil {
		return nil, fmt.Errorf("building %s probe: %w", config.Kind, err)
	}
	return p, nil
}

// epoch runs one pass over ds.
func (p *Probe) epoch(ds *Dataset) error {
	if ds.next > 0 {
		ds.Reset()
	}
	// errors from the dataset surface as panics inside the loop
	return exceptions.TryCatch[error](func() {
		if _, err := p.loop.RunEpochs(ds, 1); err != nil {
			panic(err)
		}
	})
}

// logitsOf returns the flat [ds.Len(), NumClasses] logits of ds in instance order.
func (p *Probe) logitsOf(ds *Dataset) ([]float32, error) {
	inputs, labels := ds.All()
	var outputs []*tensors.Tensor
	defer func() {
		for _, t := range append(append(inputs, labels...), outputs...) {
			t.FinalizeAll()
		}
	}()
	var logits []float32
	err := exceptions.TryCatch[error](func() {
		outputs = p.predict.Call(inputs)
		if len(outputs) != 1 || outputs[0].DType() != dtypes.Float32 {
			panic(fmt.Errorf("probe returned %d outputs", len(outputs)))
		}
		logits = tensors.CopyFlatData[float32](outputs[0])
	})
	return logits, err
}

// Evaluate scores the probe on ds with dropout disabled.
func (p *Probe) Evaluate(ds *Dataset) (Metrics, error) {
	logits, err := p.logitsOf(ds)
	if err != nil {
		return Metrics{}, err
	}
	return computeMetrics(ds.Labels(), logits, p.config.NumClasses)
}

// save copies the trainable variables.
func (p *Probe) save() (snapshot, error) {
	s := snapshot{}
	err := exceptions.TryCatch[error](func() {
		p.ctx.EnumerateVariables(func(v *context.Variable) {
			if !v.Trainable {
				return
			}
			value := v.Value()
			if value.DType() != dtypes.Float32 {
				return
			}
			s[v] = tensors.FromFlatDataAndDimensions(tensors.CopyFlatData[float32](value), value.Shape().Dimensions...)
		})
	})
	return s, err
}

// restore puts the saved values back. The snapshot must not be used afterwards.
func (p *Probe) restore(s snapshot) error {
	return exceptions.TryCatch[error](func() {
		for v, value := range s {
			v.SetValue(value)
		}
	})
}

func (s snapshot) finalize() {
	for _, value := range s {
		value.FinalizeAll()
	}
}

func (p *Probe) Destroy() {
	if p.predict != nil {
		p.predict.Finalize()
	}
	if p.ctx != nil {
		p.ctx.Finalize()
	}
}
