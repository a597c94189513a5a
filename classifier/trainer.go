package classifier

import (
	"context"
	"fmt"

	"github.com/gomlx/gomlx/backends"
)

// Training defaults.
const (
	DefaultEpochs       = 20
	DefaultPatience     = 5
	DefaultBatchSize    = 16
	DefaultStepClip     = 5.0
	DefaultLearningRate = 0.001
)

// Trainer trains probes with Adam and early stopping on validation accuracy.
type Trainer struct {
	Epochs int
	// Patience is the number of epochs without a better validation accuracy before training stops.
	Patience int
	// BatchSize overrides the batch size of the training dataset when positive.
	BatchSize int
	// StepClip bounds every Adam update to [-StepClip, StepClip]. Gradients themselves are not clipped. 0 disables it.
	StepClip     float64
	LearningRate float64
	Verbose      bool
	callbacks    []func(progress float64)
}

type TrainingStatistics struct {
	EpochTrainLosses       []float64
	EpochEvalLosses        []float64
	EpochEvalAccuracies    []float64
	BestEpoch              int // 1-based
	BestValidationAccuracy float64
	EpochsTrained          int
}

func NewTrainer() *Trainer {
	return &Trainer{
		Epochs:       DefaultEpochs,
		Patience:     DefaultPatience,
		BatchSize:    DefaultBatchSize,
		StepClip:     DefaultStepClip,
		LearningRate: DefaultLearningRate,
	}
}

// Subscribe registers fn to receive epoch/Epochs after every epoch. Callbacks run in registration order.
func (t *Trainer) Subscribe(fn func(progress float64)) {
	t.callbacks = append(t.callbacks, fn)
}

func (t *Trainer) report(progress float64) {
	for _, fn := range t.callbacks {
		fn(progress)
	}
}

func (t *Trainer) validate() error {
	if t.Epochs < 1 {
		return fmt.Errorf("epochs must be positive, got %d", t.Epochs)
	}
	if t.Patience < 1 {
		return fmt.Errorf("patience must be positive, got %d", t.Patience)
	}
	if t.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %g", t.LearningRate)
	}
	if t.BatchSize < 0 {
		return fmt.Errorf("batch size must not be negative, got %d", t.BatchSize)
	}
	if t.StepClip < 0 {
		return fmt.Errorf("step clipping must not be negative, got %g", t.StepClip)
	}
	return nil
}

// Train fits a probe on train, evaluating dev after every epoch. The weights of the epoch with the best dev
// accuracy are restored before returning. The caller owns the returned probe and must Destroy it.
func (t *Trainer) Train(ctx context.Context, backend backends.Backend, config Config, train, dev *Dataset) (probe *Probe, stats TrainingStatistics, err error) {
	if err = t.validate(); err != nil {
		return nil, stats, err
	}
	probe, err = newProbe(backend, config, t.LearningRate, t.StepClip)
	if err != nil {
		return nil, stats, err
	}
	var best snapshot
	defer func() {
		if best != nil {
			best.finalize()
		}
		if err != nil {
			probe.Destroy()
			probe = nil
		}
	}()

	if t.Verbose {
		fmt.Printf("Training %s probe for up to %d epochs on %d instances\n", config.Kind, t.Epochs, train.Len())
	}
	train.SetVerbose(t.Verbose)
	if t.BatchSize > 0 {
		train.batchSize = t.BatchSize
	}
	stale := 0
	for epoch := 1; epoch <= t.Epochs; epoch++ {
		if err = ctx.Err(); err != nil {
			return probe, stats, err
		}
		if err = probe.epoch(train); err != nil {
			return probe, stats, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		var trainMetrics, devMetrics Metrics
		if trainMetrics, err = probe.Evaluate(train); err != nil {
			return probe, stats, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		if devMetrics, err = probe.Evaluate(dev); err != nil {
			return probe, stats, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		stats.EpochsTrained = epoch
		stats.EpochTrainLosses = append(stats.EpochTrainLosses, trainMetrics.Loss)
		stats.EpochEvalLosses = append(stats.EpochEvalLosses, devMetrics.Loss)
		stats.EpochEvalAccuracies = append(stats.EpochEvalAccuracies, devMetrics.Accuracy)
		if t.Verbose {
			fmt.Printf("epoch %d: train loss %.4f, validation loss %.4f, validation accuracy %.4f\n", epoch, trainMetrics.Loss, devMetrics.Loss, devMetrics.Accuracy)
		}

		if stats.BestEpoch == 0 || devMetrics.Accuracy > stats.BestValidationAccuracy {
			stats.BestEpoch = epoch
			stats.BestValidationAccuracy = devMetrics.Accuracy
			stale = 0
			if best != nil {
				best.finalize()
			}
			if best, err = probe.save(); err != nil {
				return probe, stats, err
			}
		} else {
			stale++
		}
		t.report(float64(epoch) / float64(t.Epochs))
		if stale >= t.Patience {
			if t.Verbose {
				fmt.Printf("no improvement for %d epochs, stopping\n", stale)
			}
			break
		}
	}

	if stats.BestEpoch != stats.EpochsTrained {
		if t.Verbose {
			fmt.Printf("restoring weights of epoch %d\n", stats.BestEpoch)
		}
		restored := best
		best = nil
		if err = probe.restore(restored); err != nil {
			return probe, stats, err
		}
	}
	return probe, stats, nil
}

// Fit trains a probe and evaluates it on test.
func (t *Trainer) Fit(ctx context.Context, backend backends.Backend, config Config, train, dev, test *Dataset) (Metrics, TrainingStatistics, error) {
	probe, stats, err := t.Train(ctx, backend, config, train, dev)
	if err != nil {
		return Metrics{}, stats, err
	}
	defer probe.Destroy()
	metrics, err := probe.Evaluate(test)
	if err != nil {
		return Metrics{}, stats, fmt.Errorf("evaluating test split: %w", err)
	}
	return metrics, stats, nil
}
