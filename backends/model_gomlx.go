package backends

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/onnx-gomlx/onnx"

	"github.com/knights-analytics/linspector/options"
	"github.com/knights-analytics/linspector/util/fileutil"

	_ "github.com/gomlx/gomlx/backends/simplego"
)

type GoMLXModel struct {
	Backend   backends.Backend
	OnnxModel *onnx.Model
	Ctx       *context.Context // ctx with the model's weights.
	// execs holds one executor per captured tensor, created on first use.
	execs   map[string]*context.Exec
	Destroy func()
}

func loadExternalData(path string, model *onnx.Model) error {
	externalMap := map[string][]byte{}
	// load external data from same dir as the base model ONNX file
	for _, proto := range model.Proto.Graph.Initializer {
		// proto.Datalocation is 1 if data is external, 0 otherwise
		if proto.DataLocation == 1 {
			externalPath := ""
			offset := int64(0)
			length := int64(-1)

			for _, entry := range proto.ExternalData {
				switch entry.Key {
				case "location":
					externalPath = entry.Value
				case "offset":
					parsedOffset, err := strconv.ParseInt(entry.Value, 10, 64)
					if err != nil {
						return fmt.Errorf("parsing offset failed with err %w", err)
					}
					offset = parsedOffset
				case "length":
					parsedLength, err := strconv.ParseInt(entry.Value, 10, 64)
					if err != nil {
						return fmt.Errorf("parsing length failed with err %w", err)
					}
					length = parsedLength
				}
			}

			if _, ok := externalMap[externalPath]; !ok {
				bytes, err := fileutil.ReadFileBytes(fileutil.PathJoinSafe(path, externalPath))
				if err != nil {
					return err
				}
				externalMap[externalPath] = bytes
			}

			fullBytes := externalMap[externalPath]
			end := int64(len(fullBytes))
			if length >= 0 && offset+length <= int64(len(fullBytes)) {
				end = offset + length
			}
			proto.RawData = fullBytes[offset:end]
		}
	}
	return nil
}

func createGoMLXModelBackend(model *Model, parsed *onnx.Model, options *options.Options) error {
	if options.GoMLXOptions.XLA && !xlaEnabled {
		return errors.New("to enable XLA, run `go build -tags XLA` or `go build -tags ALL`")
	}
	var insideError, recoverErr error

	// we never want to panic so the calling program has a chance to shut down gracefully on error.
	// we therefore catch all panics from goMLX as errors.
	recoverErr = exceptions.TryCatch[error](func() {
		inputs, outputs := loadInputOutputMetaOnnx(parsed)

		if insideError = loadExternalData(model.Path, parsed); insideError != nil {
			return
		}

		// Mark it to reuse variables: it will be an error to create a new variable, for safety.
		ctx := context.New().Reuse()
		if insideError = parsed.VariablesToContext(ctx); insideError != nil {
			return
		}

		config := "go"
		if options.GoMLXOptions.Cuda {
			config = "xla:cuda"
		} else if options.GoMLXOptions.XLA {
			config = "xla:cpu"
		}

		backend := backends.NewWithConfig(config)

		goMLXModel := &GoMLXModel{
			Backend:   backend,
			OnnxModel: parsed,
			Ctx:       ctx,
			execs:     map[string]*context.Exec{},
		}
		goMLXModel.Destroy = func() {
			for _, exec := range goMLXModel.execs {
				exec.Finalize()
			}
			ctx.Finalize()
			backend.Finalize()
		}
		model.GoMLXModel = goMLXModel
		model.InputsMeta = inputs
		model.OutputsMeta = outputs
	})
	return errors.Join(insideError, recoverErr)
}

// execFor returns the executor computing tensorName from the model inputs. Intermediate values of the graph can be
// requested the same way as its outputs.
func (goMLXModel *GoMLXModel) execFor(model *Model, tensorName string) *context.Exec {
	if exec, ok := goMLXModel.execs[tensorName]; ok {
		return exec
	}
	exec := context.NewExec(goMLXModel.Backend, goMLXModel.Ctx, func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
		inputsMap := map[string]*graph.Node{}
		for i, inputMeta := range model.InputsMeta {
			inputsMap[inputMeta.Name] = inputs[i]
		}
		return goMLXModel.OnnxModel.CallGraph(ctx, inputs[0].Graph(), inputsMap, tensorName)
	})
	// every token has its own sequence length
	exec.SetMaxCache(-1)
	goMLXModel.execs[tensorName] = exec
	return exec
}

func captureGoMLX(model *Model, layer Layer, input TokenizedInput) ([]float32, []int, error) {
	values, err := inputValues(input, model.InputsMeta)
	if err != nil {
		return nil, nil, err
	}
	inputTensors := make([]*tensors.Tensor, len(values))
	for i, value := range values {
		inputTensors[i] = tensors.FromFlatDataAndDimensions(value, 1, len(value))
	}

	var outputTensors []*tensors.Tensor
	defer func() {
		for _, t := range inputTensors {
			t.FinalizeAll()
		}
		for _, t := range outputTensors {
			t.FinalizeAll()
		}
	}()

	var data []float32
	var dims []int
	err = exceptions.TryCatch[error](func() {
		outputTensors = model.GoMLXModel.execFor(model, layer.Tensor).Call(inputTensors)
		if len(outputTensors) != 1 {
			panic(fmt.Errorf("%w: %d tensors captured for %s", ErrInvalidCapture, len(outputTensors), layer.Tensor))
		}
		captured := outputTensors[0]
		if captured.DType() != dtypes.Float32 {
			panic(fmt.Errorf("%w: %s has dtype %s", ErrInvalidCapture, layer.Tensor, captured.DType()))
		}
		dims = captured.Shape().Dimensions
		data = tensors.CopyFlatData[float32](captured)
	})
	if err != nil {
		return nil, nil, err
	}
	return data, dims, nil
}
