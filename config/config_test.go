package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knights-analytics/linspector"
)

func check(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err.Error())
	}
}

func TestParse(t *testing.T) {
	t.Setenv(linspector.MediaRootEnv, "")
	probe, err := Parse([]byte(`
language: de
language_name: German
task: case marking
media_root: /data/linspector
classifier: mlp
dropout: 0.3
model: ./models/bert
layer: /encoder/layer.0/attention/self/query/MatMul
epochs: 10
seed: 7
step_clipping: 0
`))
	check(t, err)
	assert.Equal(t, "de", probe.Language)
	assert.Equal(t, "GO", probe.Runtime)
	require.NotNil(t, probe.Seed)
	assert.Equal(t, uint64(7), *probe.Seed)

	language, task := probe.LanguageAndTask()
	assert.Equal(t, linspector.Language{Code: "de", Name: "German"}, language)
	assert.Equal(t, "CaseMarking", task.CamelCase())
	assert.False(t, task.Contrastive)
	// media root, classifier, dropout, epochs, step clipping, seed
	assert.Len(t, probe.Options(), 6)
}

func TestParseInvalid(t *testing.T) {
	t.Setenv(linspector.MediaRootEnv, "")
	for name, document := range map[string]string{
		"empty":               ``,
		"no task":             "language: de\nembeddings: vectors.vec\nmedia_root: data\n",
		"no source":           "language: de\ntask: case\nmedia_root: data\n",
		"both sources":        "language: de\ntask: case\nmedia_root: data\nembeddings: v.vec\nmodel: m\n",
		"layer without model": "language: de\ntask: case\nmedia_root: data\nembeddings: v.vec\nlayer: x\n",
		"unknown classifier":  "language: de\ntask: case\nmedia_root: data\nembeddings: v.vec\nclassifier: svm\n",
		"unknown runtime":     "language: de\ntask: case\nmedia_root: data\nmodel: m\nruntime: TPU\n",
		"zero epochs":         "language: de\ntask: case\nmedia_root: data\nembeddings: v.vec\nepochs: 0\n",
		"unknown field":       "language: de\ntask: case\nmedia_root: data\nembeddings: v.vec\nlayers: 3\n",
		"no media root":       "language: de\ntask: case\nembeddings: v.vec\n",
		"not yaml":            "language: [de",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(document))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	check(t, os.WriteFile(envFile, []byte(linspector.MediaRootEnv+"=/from/env\n"), 0o644))
	configFile := filepath.Join(dir, "probe.yaml")
	check(t, os.WriteFile(configFile, []byte("language: de\ntask: case\nembeddings: vectors.vec\n"), 0o644))

	// godotenv does not override variables that are set, so start from an unset one
	t.Setenv(linspector.MediaRootEnv, "")
	check(t, os.Unsetenv(linspector.MediaRootEnv))
	check(t, LoadEnv(envFile))

	probe, err := Load(configFile)
	check(t, err)
	assert.Equal(t, "/from/env", probe.MediaRoot)
	assert.Equal(t, "", probe.Runtime)
	assert.Len(t, probe.Options(), 1)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
	assert.Error(t, LoadEnv(filepath.Join(dir, "missing.env")))
}
