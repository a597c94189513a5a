package backends

import (
	"bytes"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

type GoTokenizer struct {
	Tokenizer *tokenizer.Tokenizer
}

func loadGoTokenizer(tokenizerBytes []byte, model *Model) error {
	tk, tkErr := pretrained.FromReader(bytes.NewReader(tokenizerBytes))
	if tkErr != nil {
		return tkErr
	}
	model.Tokenizer = &Tokenizer{Runtime: "GO", GoTokenizer: &GoTokenizer{Tokenizer: tk}, MaxAllowedTokens: model.MaxPositionEmbeddings, Destroy: func() error {
		return nil
	}}
	return nil
}

func encodeGo(tk *Tokenizer, text string) (TokenizedInput, error) {
	output, err := tk.GoTokenizer.Tokenizer.EncodeSingle(text, true)
	if err != nil {
		return TokenizedInput{}, err
	}
	return TokenizedInput{
		Raw:               text,
		Tokens:            output.Tokens,
		TokenIDs:          intsToUint32s(output.Ids),
		TypeIDs:           intsToUint32s(output.TypeIds),
		AttentionMask:     intsToUint32s(output.AttentionMask),
		SpecialTokensMask: intsToUint32s(output.SpecialTokenMask),
	}, nil
}

// intsToUint32s clamps negative values to 0.
func intsToUint32s(input []int) []uint32 {
	output := make([]uint32, len(input))
	for i, x := range input {
		if x > 0 {
			output[i] = uint32(x)
		}
	}
	return output
}
