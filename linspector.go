// Package linspector probes word and contextual embeddings for linguistic properties.
//
// A probing run reads the intrinsic data of a task and language, obtains one vector per token from an
// EmbeddingSource (a layer of an onnx model or a static embeddings file), trains a small classifier on the
// frozen vectors and reports its test metrics.
package linspector

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/phuslu/log"

	"github.com/knights-analytics/linspector/classifier"
	"github.com/knights-analytics/linspector/embeddings"
	"github.com/knights-analytics/linspector/intrinsic"
	"github.com/knights-analytics/linspector/util/fileutil"
	"github.com/knights-analytics/linspector/vocab"
)

type (
	Language     = intrinsic.Language
	ProbingTask  = intrinsic.ProbingTask
	ProgressFunc = embeddings.ProgressFunc
)

// Metrics of a probing run. The embedded classifier metrics are measured on the test split.
type Metrics struct {
	classifier.Metrics
	EpochsTrained          int     `json:"epochs_trained"`
	BestEpoch              int     `json:"best_epoch"`
	BestValidationAccuracy float64 `json:"best_validation_accuracy"`
	EmbeddingDim           int     `json:"embedding_dim"`
	VocabularySize         int     `json:"vocabulary_size"`
	// FoundTokens is the number of vocabulary tokens with an extracted or pretrained vector.
	FoundTokens   int `json:"found_tokens"`
	SkippedTokens int `json:"skipped_tokens"`
}

// Linspector probes the embeddings of one source for one task and language.
type Linspector struct {
	language  Language
	task      ProbingTask
	source    EmbeddingSource
	options   *probeOptions
	callbacks []ProgressFunc
}

func New(language Language, task ProbingTask, source EmbeddingSource, opts ...ProbeOption) (*Linspector, error) {
	if language.Code == "" {
		return nil, errors.New("a language code is required")
	}
	if task.Name == "" {
		return nil, errors.New("a probing task name is required")
	}
	if source == nil {
		return nil, errors.New("an embedding source is required")
	}
	parsed := defaultProbeOptions()
	for _, opt := range opts {
		if err := opt(parsed); err != nil {
			return nil, err
		}
	}
	if parsed.mediaRoot == "" {
		return nil, fmt.Errorf("no media root, use WithMediaRoot or set %s", MediaRootEnv)
	}
	return &Linspector{language: language, task: task, source: source, options: parsed}, nil
}

// Subscribe registers fn to receive the progress of Probe in [0, 1]. Callbacks run in registration order on
// the goroutine calling Probe.
func (l *Linspector) Subscribe(fn ProgressFunc) {
	l.callbacks = append(l.callbacks, fn)
}

func (l *Linspector) report(progress float64) {
	for _, fn := range l.callbacks {
		fn(progress)
	}
}

// Probe runs the whole probing pipeline and returns the test metrics. Progress reaches 0.5 once embeddings
// are extracted and then grows with every training epoch. It stays below 1 when training stops early.
func (l *Linspector) Probe(ctx context.Context) (metrics *Metrics, err error) {
	o := l.options
	splits, err := intrinsic.ReadSplits(o.mediaRoot, l.task, l.language)
	if err != nil {
		return nil, err
	}
	v := vocab.FromInstances(splits.Train, splits.Dev, splits.Test)
	log.Info().Str("task", l.task.String()).Str("language", l.language.Code).Int("train", len(splits.Train)).
		Int("dev", len(splits.Dev)).Int("test", len(splits.Test)).Int("tokens", v.TokenSize()).Msg("intrinsic data loaded")
	l.report(embeddings.ExtractionStart)

	path, skipped, err := l.source.Embeddings(ctx, EmbeddingRequest{
		Language:  l.language,
		Task:      l.task,
		MediaRoot: o.mediaRoot,
		Progress:  l.report,
	})
	defer func() {
		err = errors.Join(err, fileutil.RemoveTemp(path))
		if err != nil {
			metrics = nil
		}
	}()
	if err != nil {
		return nil, fmt.Errorf("extracting embeddings: %w", err)
	}

	metrics, err = l.train(ctx, path, v, splits)
	if err != nil {
		return nil, err
	}
	metrics.SkippedTokens = skipped
	log.Info().Float64("accuracy", metrics.Accuracy).Float64("f1", metrics.F1).Int("epochs", metrics.EpochsTrained).
		Int("skipped", skipped).Msg("probing done")
	return metrics, nil
}

func (l *Linspector) train(ctx context.Context, path string, v *vocab.Vocabulary, splits intrinsic.Splits) (*Metrics, error) {
	o := l.options
	dim, err := embeddings.InferDimFile(path)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return nil, embeddings.ErrNoEmbeddings
	}
	matrix, found, err := embeddings.LoadMatrixFile(path, dim, v, o.seed)
	if err != nil {
		return nil, err
	}
	log.Info().Int("dim", dim).Int("found", found).Int("vocabulary", v.TokenSize()).Msg("embeddings loaded")

	random := rand.New(rand.NewPCG(o.seed, o.seed+1))
	train, err := classifier.NewDataset("train", splits.Train, v, matrix, o.batchSize, random)
	if err != nil {
		return nil, err
	}
	dev, err := classifier.NewDataset("dev", splits.Dev, v, matrix, o.batchSize, nil)
	if err != nil {
		return nil, err
	}
	test, err := classifier.NewDataset("test", splits.Test, v, matrix, o.batchSize, nil)
	if err != nil {
		return nil, err
	}

	backend, err := classifier.NewBackend(o.trainBackend)
	if err != nil {
		return nil, err
	}
	defer backend.Finalize()

	trainer := classifier.NewTrainer()
	trainer.Epochs = o.epochs
	trainer.Patience = o.patience
	trainer.BatchSize = o.batchSize
	trainer.LearningRate = o.learningRate
	trainer.StepClip = o.stepClip
	trainer.Verbose = o.verbose
	trainer.Subscribe(func(progress float64) {
		l.report(embeddings.TrainingProgress(progress))
	})

	config := classifier.Config{
		Kind:         o.classifier,
		Contrastive:  l.task.Contrastive,
		NumClasses:   v.LabelSize(),
		EmbeddingDim: dim,
		Dropout:      o.dropout,
	}
	testMetrics, stats, err := trainer.Fit(ctx, backend, config, train, dev, test)
	if err != nil {
		return nil, err
	}
	return &Metrics{
		Metrics:                testMetrics,
		EpochsTrained:          stats.EpochsTrained,
		BestEpoch:              stats.BestEpoch,
		BestValidationAccuracy: stats.BestValidationAccuracy,
		EmbeddingDim:           dim,
		VocabularySize:         v.TokenSize(),
		FoundTokens:            found,
	}, nil
}
