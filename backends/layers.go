package backends

import (
	"errors"
	"fmt"
	"strings"
)

// ErrLayerNotFound is returned when a layer name is not in the model's registry.
var ErrLayerNotFound = errors.New("layer not found")

// Layer is a point in the model graph whose input can be captured as a token representation.
type Layer struct {
	// Name identifies the layer within its model.
	Name string
	// Description is the display name, e.g. "MatMul (encoder/layer.0/attention/self/query/MatMul)".
	Description string
	OpType      string
	// Tensor is the name of the captured graph value.
	Tensor string
	// InputDim is the size of the last dimension of Tensor, 0 if unknown.
	InputDim int
}

// GraphNode is the part of an ONNX node the layer registry needs.
type GraphNode struct {
	Name    string
	OpType  string
	Inputs  []string
	Outputs []string
	TransB  bool
}

// inputDimRules maps supported op types to the rule deriving their input size from the weight initializer
// dimensions. Recurrent ops keep W as [num_directions, gates*hidden, input_size].
var inputDimRules = map[string]func(node GraphNode, initializers map[string][]int64) (int, bool){
	"MatMul": func(node GraphNode, initializers map[string][]int64) (int, bool) {
		return weightDim(node, initializers, 2, 0)
	},
	"Gemm": func(node GraphNode, initializers map[string][]int64) (int, bool) {
		if node.TransB {
			return weightDim(node, initializers, 2, 1)
		}
		return weightDim(node, initializers, 2, 0)
	},
	"LSTM": recurrentInputDim,
	"GRU":  recurrentInputDim,
	"RNN":  recurrentInputDim,
}

func recurrentInputDim(node GraphNode, initializers map[string][]int64) (int, bool) {
	return weightDim(node, initializers, 3, 2)
}

// weightDim returns dimension axis of the node's second input, which must be an initializer of the given rank.
func weightDim(node GraphNode, initializers map[string][]int64, rank, axis int) (int, bool) {
	if len(node.Inputs) < 2 {
		return 0, false
	}
	dims, ok := initializers[node.Inputs[1]]
	if !ok || len(dims) != rank {
		return 0, false
	}
	return int(dims[axis]), true
}

// BuildLayerRegistry lists the probe-able layers of a graph in graph order: every node of a supported op
// type whose first input is an activation and whose weight is a known initializer, followed by the graph
// outputs. The first entry is the default layer.
func BuildLayerRegistry(nodes []GraphNode, initializers map[string][]int64, outputs []InputOutputInfo) []Layer {
	var layers []Layer
	seen := map[string]int{}
	add := func(layer Layer) {
		base := layer.Name
		if n, ok := seen[base]; ok {
			layer.Name = fmt.Sprintf("%s_%d", base, n)
		}
		seen[base]++
		layers = append(layers, layer)
	}

	for i, node := range nodes {
		rule, ok := inputDimRules[node.OpType]
		if !ok || len(node.Inputs) == 0 {
			continue
		}
		if _, isWeight := initializers[node.Inputs[0]]; isWeight {
			continue
		}
		inputDim, ok := rule(node, initializers)
		if !ok {
			continue
		}
		name := node.Name
		if name == "" {
			name = fmt.Sprintf("%s_%d", node.OpType, i)
		}
		add(Layer{
			Name:        name,
			Description: describe(node.OpType, name),
			OpType:      node.OpType,
			Tensor:      node.Inputs[0],
			InputDim:    inputDim,
		})
	}

	for _, output := range outputs {
		inputDim := 0
		if n := len(output.Dimensions); n > 0 && output.Dimensions[n-1] > 0 {
			inputDim = int(output.Dimensions[n-1])
		}
		add(Layer{
			Name:        output.Name,
			Description: describe("Output", output.Name),
			OpType:      "Output",
			Tensor:      output.Name,
			InputDim:    inputDim,
		})
	}
	return layers
}

func describe(opType, name string) string {
	return fmt.Sprintf("%s (%s)", opType, strings.Trim(name, "_/"))
}

// FindLayer returns the layer called name.
func FindLayer(layers []Layer, name string) (Layer, error) {
	for _, layer := range layers {
		if layer.Name == name {
			return layer, nil
		}
	}
	return Layer{}, fmt.Errorf("%w: %s", ErrLayerNotFound, name)
}

// OutputLayers keeps the layers that are graph outputs.
func OutputLayers(layers []Layer) []Layer {
	var outputs []Layer
	for _, layer := range layers {
		if layer.OpType == "Output" {
			outputs = append(outputs, layer)
		}
	}
	return outputs
}
