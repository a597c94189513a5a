package options

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	opts, err := New(RuntimeGo)
	require.NoError(t, err)
	assert.Equal(t, RuntimeGo, opts.Backend)
	assert.False(t, opts.GoMLXOptions.XLA)
	assert.Nil(t, opts.ORTOptions.IntraOpNumThreads)
	assert.NoError(t, opts.Destroy())

	opts, err = New(RuntimeXLA)
	require.NoError(t, err)
	assert.True(t, opts.GoMLXOptions.XLA)
}

func TestNewUnknownRuntime(t *testing.T) {
	_, err := New("TPU")
	assert.Error(t, err)
}

func TestORTThreadDefaults(t *testing.T) {
	opts, err := New(RuntimeORT, WithIntraOpNumThreads(3))
	require.NoError(t, err)
	require.NotNil(t, opts.ORTOptions.IntraOpNumThreads)
	assert.Equal(t, 3, *opts.ORTOptions.IntraOpNumThreads)
	require.NotNil(t, opts.ORTOptions.InterOpNumThreads)
	assert.Equal(t, 1, *opts.ORTOptions.InterOpNumThreads)

	opts, err = New(RuntimeORT)
	require.NoError(t, err)
	require.NotNil(t, opts.ORTOptions.IntraOpNumThreads)
	assert.Positive(t, *opts.ORTOptions.IntraOpNumThreads)
}

func TestBackendSpecificOptions(t *testing.T) {
	_, err := New(RuntimeGo, WithTelemetry())
	assert.Error(t, err)
	_, err = New(RuntimeGo, WithCuda())
	assert.Error(t, err)

	opts, err := New(RuntimeXLA, WithCuda())
	require.NoError(t, err)
	assert.True(t, opts.GoMLXOptions.Cuda)

	opts, err = New(RuntimeORT, WithTelemetry())
	require.NoError(t, err)
	assert.True(t, *opts.ORTOptions.Telemetry)
}

func TestWithOnnxLibraryPath(t *testing.T) {
	library := filepath.Join(t.TempDir(), "libonnxruntime.so")
	require.NoError(t, os.WriteFile(library, []byte("stub"), 0o644))

	opts, err := New(RuntimeORT, WithOnnxLibraryPath(library))
	require.NoError(t, err)
	assert.Equal(t, library, *opts.ORTOptions.LibraryPath)

	_, err = New(RuntimeORT, WithOnnxLibraryPath(filepath.Join(t.TempDir(), "missing.so")))
	assert.Error(t, err)
}
