package backends

import "fmt"

type InputOutputInfo struct {
	// The name of the input or output
	Name string
	// The input or output's dimensions, if it's a tensor. This should be
	// ignored for non-tensor types.
	Dimensions Shape
}

// Shape holds tensor dimensions, -1 for dynamic axes.
type Shape []int64

func GetNames(info []InputOutputInfo) []string {
	names := make([]string, 0, len(info))
	for _, v := range info {
		names = append(names, v.Name)
	}
	return names
}

// TokenizedInput holds the result of running tokenizer on an input.
type TokenizedInput struct {
	Raw               string
	Tokens            []string
	TokenIDs          []uint32
	TypeIDs           []uint32
	AttentionMask     []uint32
	SpecialTokensMask []uint32
}

// inputValues lays out the model inputs for a single tokenized input as [1, len(TokenIDs)] int64 rows,
// in the order of inputsMeta.
func inputValues(input TokenizedInput, inputsMeta []InputOutputInfo) ([][]int64, error) {
	seqLen := len(input.TokenIDs)
	values := make([][]int64, len(inputsMeta))
	for i, meta := range inputsMeta {
		row := make([]int64, seqLen)
		for pos := range seqLen {
			switch meta.Name {
			case "input_ids":
				row[pos] = int64(input.TokenIDs[pos])
			case "token_type_ids":
				if pos < len(input.TypeIDs) {
					row[pos] = int64(input.TypeIDs[pos])
				}
			case "attention_mask":
				if pos < len(input.AttentionMask) {
					row[pos] = int64(input.AttentionMask[pos])
				} else {
					row[pos] = 1
				}
			case "position_ids":
				row[pos] = int64(pos)
			default:
				return nil, fmt.Errorf("input %s not recognized", meta.Name)
			}
		}
		values[i] = row
	}
	return values, nil
}
