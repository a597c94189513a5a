package backends

import (
	"errors"
	"fmt"
)

// ErrInvalidCapture is returned when the captured tensor of a layer cannot be turned into a single token vector,
// e.g. because a recurrent layer lays its input out sequence first.
var ErrInvalidCapture = errors.New("invalid capture")

// Capture runs the model on token and returns the input of layer as one vector.
func (m *Model) Capture(layer Layer, token string) ([]float32, error) {
	input, err := m.Tokenizer.Encode(token)
	if err != nil {
		return nil, err
	}
	if len(input.TokenIDs) == 0 {
		return nil, fmt.Errorf("%w: %q has no tokens", ErrInvalidCapture, token)
	}
	var data []float32
	var dims []int
	switch m.Runtime {
	case "ORT":
		data, dims, err = captureORT(m, layer, input)
	case "GO", "XLA":
		data, dims, err = captureGoMLX(m, layer, input)
	default:
		err = fmt.Errorf("runtime %s not recognized", m.Runtime)
	}
	if err != nil {
		return nil, err
	}
	return poolCapture(data, dims, input.AttentionMask, layer.InputDim)
}

// poolCapture turns a captured tensor into a single vector. [1, dim] is taken as is, [1, seq, dim] is mean pooled
// over the attended positions. dim must match inputDim unless inputDim is 0.
func poolCapture(data []float32, dims []int, attentionMask []uint32, inputDim int) ([]float32, error) {
	if len(dims) < 2 || len(dims) > 3 {
		return nil, fmt.Errorf("%w: unexpected rank %d of shape %v", ErrInvalidCapture, len(dims), dims)
	}
	if dims[0] != 1 {
		return nil, fmt.Errorf("%w: batch dimension is %d in shape %v", ErrInvalidCapture, dims[0], dims)
	}
	dim := dims[len(dims)-1]
	if dim <= 0 || (inputDim > 0 && dim != inputDim) {
		return nil, fmt.Errorf("%w: last dimension of shape %v, expected %d", ErrInvalidCapture, dims, inputDim)
	}
	size := 1
	for _, d := range dims {
		size *= d
	}
	if len(data) != size {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrInvalidCapture, len(data), dims)
	}
	if len(dims) == 2 {
		return append([]float32(nil), data...), nil
	}

	seqLen := dims[1]
	if len(attentionMask) != seqLen {
		return nil, fmt.Errorf("%w: sequence length %d does not match %d tokens", ErrInvalidCapture, seqLen, len(attentionMask))
	}
	pooled := make([]float32, dim)
	attended := 0
	for pos := range seqLen {
		if attentionMask[pos] == 0 {
			continue
		}
		attended++
		row := data[pos*dim : (pos+1)*dim]
		for j, v := range row {
			pooled[j] += v
		}
	}
	if attended == 0 {
		return nil, fmt.Errorf("%w: no attended position", ErrInvalidCapture)
	}
	for j := range pooled {
		pooled[j] /= float32(attended)
	}
	return pooled, nil
}
