//go:build cgo && (ORT || ALL)

package backends

import (
	"errors"
	"fmt"
	"slices"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/knights-analytics/linspector/options"
)

type ORTModel struct {
	Session        *ort.DynamicAdvancedSession
	SessionOptions *ort.SessionOptions
	Destroy        func() error
}

func createORTModelBackend(model *Model, options *options.Options) error {
	sessionOptions, ok := options.RuntimeOptions.(*ort.SessionOptions)
	if !ok {
		return errors.New("ORT session options are not initialised, create the model through an ORT session")
	}

	inputs, outputs, err := loadInputOutputMetaORT(model.OnnxBytes)
	if err != nil {
		return err
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(
		model.OnnxBytes,
		GetNames(inputs),
		GetNames(outputs),
		sessionOptions,
	)
	if err != nil {
		return err
	}

	model.ORTModel = &ORTModel{Session: session, SessionOptions: sessionOptions, Destroy: func() error {
		return session.Destroy()
	}}
	model.InputsMeta = inputs
	model.OutputsMeta = outputs
	return nil
}

func loadInputOutputMetaORT(onnxBytes []byte) ([]InputOutputInfo, []InputOutputInfo, error) {
	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(onnxBytes)
	if err != nil {
		return nil, nil, err
	}
	return convertORTInputOutputs(inputs), convertORTInputOutputs(outputs), nil
}

func captureORT(model *Model, layer Layer, input TokenizedInput) (data []float32, dims []int, err error) {
	outputIndex := slices.IndexFunc(model.OutputsMeta, func(info InputOutputInfo) bool {
		return info.Name == layer.Tensor
	})
	if outputIndex < 0 {
		return nil, nil, fmt.Errorf("%w: onnxruntime can only capture graph outputs", ErrLayerNotFound)
	}

	values, err := inputValues(input, model.InputsMeta)
	if err != nil {
		return nil, nil, err
	}
	inputTensors := make([]ort.Value, len(values))
	outputTensors := make([]ort.Value, len(model.OutputsMeta))
	defer func() {
		for _, t := range inputTensors {
			if t != nil {
				err = errors.Join(err, t.Destroy())
			}
		}
		for _, t := range outputTensors {
			if t != nil {
				err = errors.Join(err, t.Destroy())
			}
		}
	}()
	for i, value := range values {
		inputTensors[i], err = ort.NewTensor(ort.NewShape(1, int64(len(value))), value)
		if err != nil {
			return nil, nil, err
		}
	}

	// nil outputs are allocated by onnxruntime with their actual shape
	if err = model.ORTModel.Session.Run(inputTensors, outputTensors); err != nil {
		return nil, nil, err
	}
	captured, ok := outputTensors[outputIndex].(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s is not a float32 tensor", ErrInvalidCapture, layer.Tensor)
	}
	shape := captured.GetShape()
	dims = make([]int, len(shape))
	for i, d := range shape {
		dims[i] = int(d)
	}
	data = slices.Clone(captured.GetData())
	return data, dims, nil
}

func convertORTInputOutputs(inputOutputs []ort.InputOutputInfo) []InputOutputInfo {
	inputOutputsStandardised := make([]InputOutputInfo, len(inputOutputs))
	for i, inputOutput := range inputOutputs {
		inputOutputsStandardised[i] = InputOutputInfo{
			Name:       inputOutput.Name,
			Dimensions: Shape(inputOutput.Dimensions),
		}
	}
	return inputOutputsStandardised
}
