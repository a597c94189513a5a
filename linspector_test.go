package linspector

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knights-analytics/linspector/backends"
	"github.com/knights-analytics/linspector/embeddings"
	"github.com/knights-analytics/linspector/testcases/embedded"
)

func check(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err.Error())
	}
}

// downloaded by testcases/downloadModels.go
var testModelPath = filepath.Join(".", "models", "KnightsAnalytics_all-MiniLM-L6-v2")

var (
	german          = Language{Code: embedded.Language, Name: "German"}
	caseTask        = ProbingTask{Name: embedded.Task}
	sameCaseTask    = ProbingTask{Name: embedded.ContrastiveTask, Contrastive: true}
	fastTrainingOps = []ProbeOption{WithLearningRate(0.1), WithEpochs(10), WithSeed(3)}
)

// fixture writes the intrinsic data into a fresh media root and points temporary files to an empty directory.
func fixture(t *testing.T) (mediaRoot string, vectors string, tmpDir string) {
	t.Helper()
	mediaRoot = t.TempDir()
	vectors, err := embedded.WriteMediaRoot(mediaRoot)
	check(t, err)
	tmpDir = t.TempDir()
	t.Setenv("TMPDIR", tmpDir)
	return mediaRoot, vectors, tmpDir
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	check(t, err)
	assert.Empty(t, entries)
}

func assertProgress(t *testing.T, progress []float64, trained int, maxEpochs int) {
	t.Helper()
	require.NotEmpty(t, progress)
	assert.Equal(t, embeddings.ExtractionStart, progress[0])
	extraction := 0
	for i, p := range progress {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, p, progress[i-1], "progress decreased at %d", i)
		}
		if p <= embeddings.ExtractionEnd {
			extraction++
		}
	}
	assert.LessOrEqual(t, extraction, embeddings.MaxCallbacks+2)
	assert.Contains(t, progress, embeddings.ExtractionEnd)
	last := progress[len(progress)-1]
	assert.InDelta(t, embeddings.TrainingProgress(float64(trained)/float64(maxEpochs)), last, 1e-9)
}

func TestProbeStatic(t *testing.T) {
	mediaRoot, vectors, tmpDir := fixture(t)
	l, err := New(german, caseTask, StaticEmbeddings{Path: vectors}, append(fastTrainingOps, WithMediaRoot(mediaRoot))...)
	check(t, err)
	var progress []float64
	l.Subscribe(func(p float64) {
		progress = append(progress, p)
	})

	metrics, err := l.Probe(context.Background())
	check(t, err)
	assert.GreaterOrEqual(t, metrics.Accuracy, 0.9)
	assert.Equal(t, 20, metrics.Instances)
	assert.Equal(t, embedded.Dim, metrics.EmbeddingDim)
	assert.Equal(t, 100, metrics.FoundTokens)
	assert.Equal(t, 102, metrics.VocabularySize)
	assert.Equal(t, 0, metrics.SkippedTokens)
	assert.LessOrEqual(t, metrics.BestEpoch, metrics.EpochsTrained)

	assertProgress(t, progress, metrics.EpochsTrained, 10)
	assertNoTempFiles(t, tmpDir)
}

func TestProbeContrastive(t *testing.T) {
	mediaRoot, vectors, tmpDir := fixture(t)
	l, err := New(german, sameCaseTask, StaticEmbeddings{Path: vectors}, append(fastTrainingOps, WithMediaRoot(mediaRoot))...)
	check(t, err)
	metrics, err := l.Probe(context.Background())
	check(t, err)
	assert.GreaterOrEqual(t, metrics.Accuracy, 0.9)
	assertNoTempFiles(t, tmpDir)
}

func TestProbeMLP(t *testing.T) {
	mediaRoot, vectors, _ := fixture(t)
	t.Setenv(MediaRootEnv, mediaRoot)
	l, err := New(german, caseTask, StaticEmbeddings{Path: vectors}, append(fastTrainingOps, WithClassifier("mlp"))...)
	check(t, err)
	metrics, err := l.Probe(context.Background())
	check(t, err)
	assert.GreaterOrEqual(t, metrics.Accuracy, 0.9)
}

func TestProbeErrors(t *testing.T) {
	mediaRoot, vectors, tmpDir := fixture(t)

	// missing intrinsic data
	l, err := New(Language{Code: "fi"}, caseTask, StaticEmbeddings{Path: vectors}, WithMediaRoot(mediaRoot))
	check(t, err)
	_, err = l.Probe(context.Background())
	assert.Error(t, err)

	// no usable vectors
	empty := filepath.Join(t.TempDir(), "empty.vec")
	check(t, os.WriteFile(empty, []byte("h2o 0.1 0.2\n"), 0o644))
	l, err = New(german, caseTask, StaticEmbeddings{Path: empty}, WithMediaRoot(mediaRoot))
	check(t, err)
	_, err = l.Probe(context.Background())
	assert.ErrorIs(t, err, embeddings.ErrNoEmbeddings)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l, err = New(german, caseTask, StaticEmbeddings{Path: vectors}, WithMediaRoot(mediaRoot))
	check(t, err)
	_, err = l.Probe(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assertNoTempFiles(t, tmpDir)
}

func TestNew(t *testing.T) {
	t.Setenv(MediaRootEnv, "")
	source := StaticEmbeddings{Path: "vectors.vec"}
	_, err := New(german, caseTask, source)
	assert.Error(t, err)
	_, err = New(Language{}, caseTask, source, WithMediaRoot("media"))
	assert.Error(t, err)
	_, err = New(german, ProbingTask{}, source, WithMediaRoot("media"))
	assert.Error(t, err)
	_, err = New(german, caseTask, nil, WithMediaRoot("media"))
	assert.Error(t, err)

	for _, opt := range []ProbeOption{
		WithClassifier("svm"),
		WithEpochs(0),
		WithPatience(0),
		WithBatchSize(0),
		WithLearningRate(0),
		WithStepClipping(-1),
		WithDropout(1),
		WithMediaRoot(""),
	} {
		_, err = New(german, caseTask, source, WithMediaRoot("media"), opt)
		assert.Error(t, err)
	}

	l, err := New(german, caseTask, source, WithMediaRoot("media"), WithClassifier("mlp"), WithEpochs(3),
		WithPatience(2), WithBatchSize(4), WithDropout(0.2), WithStepClipping(0), WithTrainingBackend("go"), WithVerbose())
	check(t, err)
	assert.Equal(t, "media", l.options.mediaRoot)
	assert.Equal(t, 3, l.options.epochs)
	assert.Equal(t, 0.2, l.options.dropout)
	assert.True(t, l.options.verbose)
}

func TestSelectDownloadFiles(t *testing.T) {
	files, err := selectDownloadFiles([]string{"config.json", "model.onnx", "tokenizer.json", "README.md", "vocab.txt"}, "", "")
	check(t, err)
	assert.Equal(t, []string{"config.json", "vocab.txt", "model.onnx", "tokenizer.json"}, files)

	_, err = selectDownloadFiles([]string{"onnx/a.onnx", "onnx/b.onnx", "tokenizer.json"}, "", "")
	assert.Error(t, err)
	files, err = selectDownloadFiles([]string{"onnx/a.onnx", "onnx/b.onnx", "tokenizer.json", "onnx/b.onnx.data"}, "onnx/b.onnx", "onnx/b.onnx.data")
	check(t, err)
	assert.Equal(t, []string{"onnx/b.onnx.data", "onnx/b.onnx", "tokenizer.json"}, files)

	_, err = selectDownloadFiles([]string{"model.onnx"}, "", "")
	assert.Error(t, err)
	_, err = selectDownloadFiles([]string{"tokenizer.json"}, "", "")
	assert.Error(t, err)
}

func TestModelPath(t *testing.T) {
	assert.Equal(t, "models/KnightsAnalytics_all-MiniLM-L6-v2", ModelPath("KnightsAnalytics/all-MiniLM-L6-v2", "models"))
	assert.Equal(t, "models/org_model", ModelPath("org/model:rev", "models"))
}

func TestArchiveModel(t *testing.T) {
	if _, err := os.Stat(testModelPath); err != nil {
		t.Skipf("test model not downloaded: %s", err)
	}
	mediaRoot, _, tmpDir := fixture(t)
	session, err := NewGoSession()
	check(t, err)
	defer func() {
		check(t, session.Destroy())
	}()
	model, err := session.LoadArchiveModel(testModelPath, "")
	check(t, err)
	require.NotEmpty(t, model.Layers())
	assert.Equal(t, model.Layers()[0], model.Layer())
	assert.ErrorIs(t, model.SetLayer("no such layer"), backends.ErrLayerNotFound)

	output := backends.OutputLayers(model.Layers())[0]
	check(t, model.SetLayer(output.Name))
	assert.Equal(t, output, model.Layer())

	var progress []float64
	path, skipped, err := model.Embeddings(context.Background(), EmbeddingRequest{
		Language:  german,
		Task:      caseTask,
		MediaRoot: mediaRoot,
		Progress: func(p float64) {
			progress = append(progress, p)
		},
	})
	check(t, err)
	assert.Equal(t, 0, skipped)
	dim, err := embeddings.InferDimFile(path)
	check(t, err)
	assert.Equal(t, output.InputDim, dim)
	lines, err := os.ReadFile(path)
	check(t, err)
	assert.NotEmpty(t, lines)
	check(t, os.Remove(path))

	require.NotEmpty(t, progress)
	assert.LessOrEqual(t, len(progress), embeddings.MaxCallbacks+1)
	assert.Equal(t, embeddings.ExtractionEnd, progress[len(progress)-1])

	l, err := New(german, caseTask, model, WithMediaRoot(mediaRoot), WithEpochs(2))
	check(t, err)
	metrics, err := l.Probe(context.Background())
	check(t, err)
	assert.Equal(t, 20, metrics.Instances)
	assertNoTempFiles(t, tmpDir)
}
