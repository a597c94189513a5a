package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knights-analytics/linspector"
	"github.com/knights-analytics/linspector/config"
	"github.com/knights-analytics/linspector/options"
	"github.com/knights-analytics/linspector/testcases/embedded"
)

func check(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err.Error())
	}
}

// downloaded by testcases/downloadModels.go
var testModel = filepath.Join("..", "models", "KnightsAnalytics_all-MiniLM-L6-v2")

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	stdout := &bytes.Buffer{}
	app.Writer = stdout
	app.ErrWriter = &bytes.Buffer{}
	err := app.Run(append(os.Args[0:1], args...))
	return stdout.String(), err
}

func fixture(t *testing.T) (mediaRoot string, vectors string) {
	t.Helper()
	mediaRoot = t.TempDir()
	vectors, err := embedded.WriteMediaRoot(mediaRoot)
	check(t, err)
	t.Setenv("TMPDIR", t.TempDir())
	t.Setenv(linspector.MediaRootEnv, "")
	return mediaRoot, vectors
}

func TestProbeCli(t *testing.T) {
	mediaRoot, vectors := fixture(t)
	out, err := run(t, "probe", "--language", embedded.Language, "--task", embedded.Task, "--mediaRoot", mediaRoot,
		"--embeddings", vectors, "--epochs", "10", "--seed", "3")
	check(t, err)

	metrics := linspector.Metrics{}
	check(t, json.Unmarshal([]byte(out), &metrics))
	assert.Equal(t, 20, metrics.Instances)
	assert.Equal(t, embedded.Dim, metrics.EmbeddingDim)
	assert.LessOrEqual(t, metrics.EpochsTrained, 10)
	assert.Contains(t, out, `"accuracy"`)
}

func TestProbeCliConfig(t *testing.T) {
	mediaRoot, vectors := fixture(t)
	dir := t.TempDir()
	configFile := filepath.Join(dir, "probe.yaml")
	check(t, os.WriteFile(configFile, []byte(strings.Join([]string{
		"language: " + embedded.Language,
		"task: " + embedded.ContrastiveTask,
		"contrastive: true",
		"media_root: " + mediaRoot,
		"embeddings: " + vectors,
		"classifier: mlp",
		"epochs: 3",
	}, "\n")), 0o644))
	output := filepath.Join(dir, "metrics.json")

	// flags win over the file
	out, err := run(t, "probe", "--config", configFile, "--epochs", "2", "--output", output)
	check(t, err)
	assert.Empty(t, out)
	written, err := os.ReadFile(output)
	check(t, err)
	metrics := linspector.Metrics{}
	check(t, json.Unmarshal(written, &metrics))
	assert.Equal(t, 20, metrics.Instances)
	assert.LessOrEqual(t, metrics.EpochsTrained, 2)
}

func TestProbeCliErrors(t *testing.T) {
	mediaRoot, vectors := fixture(t)
	_, err := run(t, "probe", "--task", embedded.Task, "--mediaRoot", mediaRoot, "--embeddings", vectors)
	assert.Error(t, err)
	_, err = run(t, "probe", "--language", embedded.Language, "--task", embedded.Task, "--embeddings", vectors)
	assert.Error(t, err)
	_, err = run(t, "probe", "--language", embedded.Language, "--task", embedded.Task, "--mediaRoot", mediaRoot)
	assert.Error(t, err)
	_, err = run(t, "probe", "--language", embedded.Language, "--task", embedded.Task, "--mediaRoot", mediaRoot,
		"--embeddings", vectors, "--classifier", "svm")
	assert.Error(t, err)
	_, err = run(t, "probe", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDimCli(t *testing.T) {
	_, vectors := fixture(t)
	out, err := run(t, "dim", "--embeddings", vectors)
	check(t, err)
	assert.Equal(t, "5\n", out)

	_, err = run(t, "dim", "--embeddings", filepath.Join(t.TempDir(), "missing.vec"))
	assert.Error(t, err)
}

func TestLayersCli(t *testing.T) {
	if _, err := os.Stat(testModel); err != nil {
		t.Skipf("test model not downloaded: %s", err)
	}
	out, err := run(t, "layers", "--model", testModel, "--json")
	check(t, err)
	var layers []struct {
		Name string
	}
	check(t, json.Unmarshal([]byte(out), &layers))
	require.NotEmpty(t, layers)

	mediaRoot, _ := fixture(t)
	out, err = run(t, "probe", "--language", embedded.Language, "--task", embedded.Task, "--mediaRoot", mediaRoot,
		"--model", testModel, "--layer", layers[0].Name, "--epochs", "1")
	check(t, err)
	assert.Contains(t, out, `"instances": 20`)

	_, err = run(t, "probe", "--language", embedded.Language, "--task", embedded.Task, "--mediaRoot", mediaRoot,
		"--model", testModel, "--layer", "no such layer")
	assert.Error(t, err)
}

func TestNewSession(t *testing.T) {
	session, err := newSession("go")
	check(t, err)
	check(t, session.Destroy())
	_, err = newSession("TPU")
	assert.Error(t, err)
}

func TestResolveRuntime(t *testing.T) {
	for name, tc := range map[string]struct {
		probe    config.Probe
		flagSet  bool
		flag     string
		expected string
	}{
		"embeddings default":      {config.Probe{Embeddings: "v.vec"}, false, options.RuntimeGo, ""},
		"embeddings with flag":    {config.Probe{Embeddings: "v.vec"}, true, options.RuntimeORT, ""},
		"embeddings with runtime": {config.Probe{Embeddings: "v.vec", Runtime: options.RuntimeXLA}, false, options.RuntimeGo, ""},
		"model default":           {config.Probe{Model: "m"}, false, options.RuntimeGo, options.RuntimeGo},
		"model from file":         {config.Probe{Model: "m", Runtime: options.RuntimeXLA}, false, options.RuntimeGo, options.RuntimeXLA},
		"model flag wins":         {config.Probe{Model: "m", Runtime: options.RuntimeXLA}, true, options.RuntimeORT, options.RuntimeORT},
	} {
		t.Run(name, func(t *testing.T) {
			probe := tc.probe
			resolveRuntime(&probe, tc.flagSet, tc.flag)
			assert.Equal(t, tc.expected, probe.Runtime)
		})
	}
}
