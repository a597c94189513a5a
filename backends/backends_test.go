package backends

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knights-analytics/linspector/options"
)

func check(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err.Error())
	}
}

// downloaded by testcases/downloadModels.go
var testModelPath = filepath.Join("..", "models", "KnightsAnalytics_all-MiniLM-L6-v2")

func TestBuildLayerRegistry(t *testing.T) {
	initializers := map[string][]int64{
		"query.weight": {384, 384},
		"classifier.W": {10, 384},
		"lstm.W":       {1, 1200, 300},
		"bias":         {384},
	}
	nodes := []GraphNode{
		{Name: "/encoder/layer.0/attention/self/query/MatMul", OpType: "MatMul", Inputs: []string{"hidden", "query.weight"}},
		{Name: "/encoder/Add", OpType: "Add", Inputs: []string{"hidden", "bias"}},
		{Name: "gather", OpType: "MatMul", Inputs: []string{"query.weight", "hidden"}},
		{Name: "", OpType: "Gemm", Inputs: []string{"pooled", "classifier.W"}, TransB: true},
		{Name: "lstm", OpType: "LSTM", Inputs: []string{"chars", "lstm.W", "lstm.R"}},
		{Name: "dynamic", OpType: "MatMul", Inputs: []string{"hidden", "other_activation"}},
	}
	outputs := []InputOutputInfo{
		{Name: "last_hidden_state", Dimensions: Shape{-1, -1, 384}},
		{Name: "/encoder/layer.0/attention/self/query/MatMul", Dimensions: Shape{-1, -1}},
	}

	layers := BuildLayerRegistry(nodes, initializers, outputs)
	require.Len(t, layers, 5)

	assert.Equal(t, Layer{
		Name:        "/encoder/layer.0/attention/self/query/MatMul",
		Description: "MatMul (encoder/layer.0/attention/self/query/MatMul)",
		OpType:      "MatMul",
		Tensor:      "hidden",
		InputDim:    384,
	}, layers[0])
	assert.Equal(t, "Gemm_3", layers[1].Name)
	assert.Equal(t, 384, layers[1].InputDim)
	assert.Equal(t, "chars", layers[2].Tensor)
	assert.Equal(t, 300, layers[2].InputDim)
	assert.Equal(t, "Output (last_hidden_state)", layers[3].Description)
	assert.Equal(t, 384, layers[3].InputDim)
	// names stay unique
	assert.Equal(t, "/encoder/layer.0/attention/self/query/MatMul_1", layers[4].Name)
	assert.Equal(t, 0, layers[4].InputDim)

	assert.Len(t, OutputLayers(layers), 2)

	found, err := FindLayer(layers, "lstm")
	check(t, err)
	assert.Equal(t, "LSTM", found.OpType)
	_, err = FindLayer(layers, "missing")
	assert.ErrorIs(t, err, ErrLayerNotFound)
}

func TestGemmWithoutTranspose(t *testing.T) {
	layers := BuildLayerRegistry([]GraphNode{
		{Name: "dense", OpType: "Gemm", Inputs: []string{"x", "W"}},
	}, map[string][]int64{"W": {128, 10}}, nil)
	require.Len(t, layers, 1)
	assert.Equal(t, 128, layers[0].InputDim)
}

func TestPoolCapture(t *testing.T) {
	vector, err := poolCapture([]float32{1, 2, 3}, []int{1, 3}, nil, 3)
	check(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vector)

	// padding positions are ignored
	vector, err = poolCapture([]float32{1, 2, 3, 4, 100, 100}, []int{1, 3, 2}, []uint32{1, 1, 0}, 2)
	check(t, err)
	assert.Equal(t, []float32{2, 3}, vector)

	// unknown layer dimension accepts any size
	vector, err = poolCapture([]float32{1, 2, 3, 4}, []int{1, 2, 2}, []uint32{1, 1}, 0)
	check(t, err)
	assert.Equal(t, []float32{2, 3}, vector)

	invalid := []struct {
		name string
		data []float32
		dims []int
		mask []uint32
		dim  int
	}{
		{"sequence first recurrent input", []float32{1, 2, 3, 4}, []int{2, 1, 2}, []uint32{1, 1}, 2},
		{"wrong trailing dimension", []float32{1, 2, 3}, []int{1, 3}, nil, 4},
		{"rank one", []float32{1, 2}, []int{2}, nil, 2},
		{"rank four", make([]float32, 4), []int{1, 1, 2, 2}, nil, 2},
		{"mask length mismatch", make([]float32, 4), []int{1, 2, 2}, []uint32{1}, 2},
		{"nothing attended", make([]float32, 4), []int{1, 2, 2}, []uint32{0, 0}, 2},
		{"data shorter than shape", []float32{1}, []int{1, 2}, nil, 2},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := poolCapture(tt.data, tt.dims, tt.mask, tt.dim)
			assert.ErrorIs(t, err, ErrInvalidCapture)
		})
	}
}

func TestInputValues(t *testing.T) {
	input := TokenizedInput{
		TokenIDs:      []uint32{101, 7592, 102},
		TypeIDs:       []uint32{0, 0, 0},
		AttentionMask: []uint32{1, 1, 1},
	}
	meta := []InputOutputInfo{{Name: "input_ids"}, {Name: "attention_mask"}, {Name: "token_type_ids"}, {Name: "position_ids"}}
	values, err := inputValues(input, meta)
	check(t, err)
	assert.Equal(t, [][]int64{{101, 7592, 102}, {1, 1, 1}, {0, 0, 0}, {0, 1, 2}}, values)

	_, err = inputValues(input, []InputOutputInfo{{Name: "pixel_values"}})
	assert.Error(t, err)
}

func TestGetOnnxModelPath(t *testing.T) {
	dir := t.TempDir()
	model := &Model{Path: dir}
	assert.Error(t, GetOnnxModelPath(model))

	check(t, os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("onnx"), 0o644))
	check(t, GetOnnxModelPath(model))
	assert.Equal(t, filepath.Join(dir, "model.onnx"), model.OnnxPath)

	check(t, os.MkdirAll(filepath.Join(dir, "onnx"), 0o755))
	check(t, os.WriteFile(filepath.Join(dir, "onnx", "quantized.onnx"), []byte("onnx"), 0o644))
	assert.Error(t, GetOnnxModelPath(&Model{Path: dir}))

	named := &Model{Path: dir, OnnxFilename: "quantized.onnx"}
	check(t, GetOnnxModelPath(named))
	assert.Equal(t, filepath.Join(dir, "onnx", "quantized.onnx"), named.OnnxPath)

	assert.Error(t, GetOnnxModelPath(&Model{Path: dir, OnnxFilename: "missing.onnx"}))
}

func TestLoadModelConfig(t *testing.T) {
	dir := t.TempDir()
	model := &Model{Path: dir}
	check(t, loadModelConfig(model))
	assert.Equal(t, 0, model.MaxPositionEmbeddings)

	check(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"max_position_embeddings": 512, "hidden_size": 384, "model_type": "bert"}`), 0o644))
	check(t, loadModelConfig(model))
	assert.Equal(t, 512, model.MaxPositionEmbeddings)
	assert.Equal(t, 384, model.HiddenSize)
}

func TestCaptureGo(t *testing.T) {
	if _, err := os.Stat(testModelPath); err != nil {
		t.Skipf("test model not downloaded: %s", err)
	}
	opts, err := options.New(options.RuntimeGo)
	check(t, err)
	model, err := LoadModel(testModelPath, "", opts)
	check(t, err)
	defer func() {
		check(t, model.Destroy())
	}()

	require.NotEmpty(t, model.Layers)
	layer := model.Layers[0]
	assert.Equal(t, "MatMul", layer.OpType)

	vector, err := model.Capture(layer, "hund")
	check(t, err)
	assert.Len(t, vector, layer.InputDim)

	outputs := OutputLayers(model.Layers)
	require.NotEmpty(t, outputs)
	vector, err = model.Capture(outputs[0], "katze")
	check(t, err)
	assert.Len(t, vector, model.HiddenSize)
}
