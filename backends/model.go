// Package backends loads ONNX models and captures the activations feeding their layers, on the GoMLX (GO, XLA)
// and onnxruntime (ORT) runtimes.
package backends

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gomlx/onnx-gomlx/onnx"
	jsoniter "github.com/json-iterator/go"

	"github.com/knights-analytics/linspector/options"
	"github.com/knights-analytics/linspector/util/fileutil"
)

type Model struct {
	ID                    string
	Path                  string
	OnnxFilename          string
	OnnxPath              string
	OnnxBytes             []byte
	Runtime               string
	ORTModel              *ORTModel
	GoMLXModel            *GoMLXModel
	Tokenizer             *Tokenizer
	InputsMeta            []InputOutputInfo
	OutputsMeta           []InputOutputInfo
	Layers                []Layer
	Destroy               func() error
	MaxPositionEmbeddings int
	HiddenSize            int
}

func LoadModel(path string, onnxFilename string, options *options.Options) (*Model, error) {
	model := &Model{
		ID:           path + ":" + onnxFilename,
		Path:         path,
		OnnxFilename: onnxFilename,
		Runtime:      options.Backend,
	}

	if err := GetOnnxModelPath(model); err != nil {
		return nil, err
	}
	onnxBytes, err := fileutil.ReadFileBytes(model.OnnxPath)
	if err != nil {
		return nil, err
	}
	model.OnnxBytes = onnxBytes

	if err = loadModelConfig(model); err != nil {
		return nil, err
	}

	parsed, err := onnx.Parse(model.OnnxBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", model.OnnxPath, err)
	}
	if err = CreateModelBackend(model, parsed, options); err != nil {
		return nil, err
	}
	model.Layers = layersFor(model, parsed)
	if len(model.Layers) == 0 {
		return nil, errors.Join(fmt.Errorf("model %s has no layer that can be probed", model.Path), model.destroyBackend())
	}

	if err = LoadTokenizer(model, options); err != nil {
		return nil, errors.Join(err, model.destroyBackend())
	}

	model.Destroy = func() error {
		var destroyErr error
		if model.Tokenizer != nil {
			destroyErr = model.Tokenizer.Destroy()
		}
		return errors.Join(destroyErr, model.destroyBackend())
	}
	return model, nil
}

// layersFor builds the layer registry. onnxruntime can only fetch graph outputs, so ORT models only list those.
func layersFor(model *Model, parsed *onnx.Model) []Layer {
	nodes, initializers := graphFromOnnx(parsed)
	layers := BuildLayerRegistry(nodes, initializers, model.OutputsMeta)
	if model.Runtime == "ORT" {
		return OutputLayers(layers)
	}
	return layers
}

func (m *Model) destroyBackend() error {
	switch m.Runtime {
	case "ORT":
		if m.ORTModel != nil {
			err := m.ORTModel.Destroy()
			m.ORTModel = nil
			return err
		}
	case "GO", "XLA":
		if m.GoMLXModel != nil {
			m.GoMLXModel.Destroy()
			m.GoMLXModel = nil
		}
	}
	return nil
}

func CreateModelBackend(model *Model, parsed *onnx.Model, s *options.Options) error {
	var err error
	switch s.Backend {
	case "ORT":
		err = createORTModelBackend(model, s)
	case "GO", "XLA":
		err = createGoMLXModelBackend(model, parsed, s)
	default:
		err = fmt.Errorf("runtime %s not recognized", s.Backend)
	}
	model.OnnxBytes = nil
	return err
}

func GetOnnxModelPath(model *Model) error {
	onnxFiles, err := getOnnxFiles(model.Path)
	if err != nil {
		return err
	}
	if len(onnxFiles) == 0 {
		return fmt.Errorf("no .onnx file detected at %s. There should be exactly .onnx file", model.Path)
	}
	if len(onnxFiles) > 1 {
		if model.OnnxFilename == "" {
			return fmt.Errorf("multiple .onnx file detected at %s and no OnnxFilename specified", model.Path)
		}
		for i := range onnxFiles {
			if onnxFiles[i][1] == model.OnnxFilename {
				model.OnnxPath = fileutil.PathJoinSafe(onnxFiles[i]...)
				return nil
			}
		}
		return fmt.Errorf("file %s not found at %s", model.OnnxFilename, model.Path)
	}
	model.OnnxPath = fileutil.PathJoinSafe(onnxFiles[0]...)
	return nil
}

func getOnnxFiles(path string) ([][]string, error) {
	var onnxFiles [][]string
	walker := func(_ context.Context, _ string, parent string, info os.FileInfo, _ io.Reader) (toContinue bool, err error) {
		if strings.HasSuffix(info.Name(), ".onnx") {
			onnxFiles = append(onnxFiles, []string{fileutil.PathJoinSafe(path, parent), info.Name()})
		}
		return true, nil
	}
	err := fileutil.WalkDir()(context.Background(), path, walker)
	return onnxFiles, err
}

type modelConfig struct {
	MaxPositionEmbeddings *float64 `json:"max_position_embeddings"`
	HiddenSize            *float64 `json:"hidden_size"`
}

// loadModelConfig reads config.json if it exists, to bound tokenized inputs.
func loadModelConfig(model *Model) error {
	configPath := fileutil.PathJoinSafe(model.Path, "config.json")
	exists, err := fileutil.FileExists(configPath)
	if err != nil || !exists {
		return err
	}
	configBytes, err := fileutil.ReadFileBytes(configPath)
	if err != nil {
		return err
	}
	var config modelConfig
	if err = jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(configBytes, &config); err != nil {
		return fmt.Errorf("reading %s: %w", configPath, err)
	}
	if config.MaxPositionEmbeddings != nil {
		model.MaxPositionEmbeddings = int(*config.MaxPositionEmbeddings)
	}
	if config.HiddenSize != nil {
		model.HiddenSize = int(*config.HiddenSize)
	}
	return nil
}
