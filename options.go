package linspector

import (
	"fmt"
	"os"

	"github.com/knights-analytics/linspector/classifier"
)

// MediaRootEnv names the environment variable holding the default media root.
const MediaRootEnv = "LINSPECTOR_MEDIA_ROOT"

type probeOptions struct {
	mediaRoot    string
	classifier   classifier.Kind
	dropout      float64
	epochs       int
	patience     int
	batchSize    int
	learningRate float64
	stepClip     float64
	seed         uint64
	trainBackend string
	verbose      bool
}

func defaultProbeOptions() *probeOptions {
	return &probeOptions{
		mediaRoot:    os.Getenv(MediaRootEnv),
		classifier:   classifier.Linear,
		dropout:      classifier.DefaultDropout,
		epochs:       classifier.DefaultEpochs,
		patience:     classifier.DefaultPatience,
		batchSize:    classifier.DefaultBatchSize,
		learningRate: classifier.DefaultLearningRate,
		stepClip:     classifier.DefaultStepClip,
		seed:         1,
		trainBackend: "go",
	}
}

// ProbeOption configures a Linspector.
type ProbeOption func(o *probeOptions) error

// WithMediaRoot sets the directory (or s3:// URL) holding intrinsic_data. Defaults to $LINSPECTOR_MEDIA_ROOT.
func WithMediaRoot(mediaRoot string) ProbeOption {
	return func(o *probeOptions) error {
		if mediaRoot == "" {
			return fmt.Errorf("media root must not be empty")
		}
		o.mediaRoot = mediaRoot
		return nil
	}
}

// WithClassifier selects the probe, "linear" (default) or "mlp".
func WithClassifier(kind string) ProbeOption {
	return func(o *probeOptions) error {
		parsed, err := classifier.ParseKind(kind)
		if err != nil {
			return err
		}
		o.classifier = parsed
		return nil
	}
}

// WithDropout sets the dropout rate of the mlp probe.
func WithDropout(rate float64) ProbeOption {
	return func(o *probeOptions) error {
		if rate < 0 || rate >= 1 {
			return fmt.Errorf("dropout must be in [0, 1), got %g", rate)
		}
		o.dropout = rate
		return nil
	}
}

func WithEpochs(epochs int) ProbeOption {
	return func(o *probeOptions) error {
		if epochs < 1 {
			return fmt.Errorf("epochs must be positive, got %d", epochs)
		}
		o.epochs = epochs
		return nil
	}
}

// WithPatience sets the number of epochs without a better validation accuracy before training stops.
func WithPatience(patience int) ProbeOption {
	return func(o *probeOptions) error {
		if patience < 1 {
			return fmt.Errorf("patience must be positive, got %d", patience)
		}
		o.patience = patience
		return nil
	}
}

func WithBatchSize(batchSize int) ProbeOption {
	return func(o *probeOptions) error {
		if batchSize < 1 {
			return fmt.Errorf("batch size must be positive, got %d", batchSize)
		}
		o.batchSize = batchSize
		return nil
	}
}

func WithLearningRate(rate float64) ProbeOption {
	return func(o *probeOptions) error {
		if rate <= 0 {
			return fmt.Errorf("learning rate must be positive, got %g", rate)
		}
		o.learningRate = rate
		return nil
	}
}

// WithStepClipping clips every optimizer step to [-value, value]. 0 disables clipping.
func WithStepClipping(value float64) ProbeOption {
	return func(o *probeOptions) error {
		if value < 0 {
			return fmt.Errorf("step clipping must not be negative, got %g", value)
		}
		o.stepClip = value
		return nil
	}
}

// WithSeed seeds shuffling and the initialization of tokens without a pretrained vector.
func WithSeed(seed uint64) ProbeOption {
	return func(o *probeOptions) error {
		o.seed = seed
		return nil
	}
}

// WithTrainingBackend sets the gomlx backend config probes are trained on, e.g. "xla:cpu". Defaults to "go".
func WithTrainingBackend(config string) ProbeOption {
	return func(o *probeOptions) error {
		o.trainBackend = config
		return nil
	}
}

// WithVerbose prints training progress per epoch.
func WithVerbose() ProbeOption {
	return func(o *probeOptions) error {
		o.verbose = true
		return nil
	}
}
