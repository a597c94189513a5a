package backends

import (
	"github.com/gomlx/onnx-gomlx/onnx"
)

// graphFromOnnx extracts the nodes and initializer shapes of a parsed model.
func graphFromOnnx(model *onnx.Model) ([]GraphNode, map[string][]int64) {
	graph := model.Proto.Graph
	initializers := make(map[string][]int64, len(graph.Initializer))
	for _, initializer := range graph.Initializer {
		initializers[initializer.Name] = initializer.Dims
	}
	nodes := make([]GraphNode, 0, len(graph.Node))
	for _, node := range graph.Node {
		graphNode := GraphNode{
			Name:    node.Name,
			OpType:  node.OpType,
			Inputs:  node.Input,
			Outputs: node.Output,
		}
		for _, attribute := range node.Attribute {
			if attribute.Name == "transB" && attribute.I != 0 {
				graphNode.TransB = true
			}
		}
		nodes = append(nodes, graphNode)
	}
	return nodes, initializers
}

func loadInputOutputMetaOnnx(model *onnx.Model) ([]InputOutputInfo, []InputOutputInfo) {
	var inputs, outputs []InputOutputInfo
	for i, name := range model.InputsNames {
		shape := model.InputsShapes[i]
		dimensions := make([]int64, len(shape.Dimensions))
		for j, y := range shape.Dimensions {
			dimensions[j] = int64(y)
		}
		inputs = append(inputs, InputOutputInfo{
			Name:       name,
			Dimensions: dimensions,
		})
	}
	for i, name := range model.OutputsNames {
		shape := model.OutputsShapes[i]
		dimensions := make([]int64, len(shape.Dimensions))
		for j, y := range shape.Dimensions {
			dimensions[j] = int64(y)
		}
		outputs = append(outputs, InputOutputInfo{
			Name:       name,
			Dimensions: dimensions,
		})
	}
	return inputs, outputs
}
