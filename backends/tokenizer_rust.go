//go:build ORT || XLA || ALL

package backends

import (
	"errors"
	"fmt"

	"github.com/daulet/tokenizers"
)

type RustTokenizer struct {
	Tokenizer *tokenizers.Tokenizer
	Options   []tokenizers.EncodeOption
}

func loadRustTokenizer(tokenizerBytes []byte, model *Model) error {
	tk, tkErr := tokenizers.FromBytes(tokenizerBytes)
	if tkErr != nil {
		return tkErr
	}

	rustOptions, optErr := getRustTokenizerOptions(model.InputsMeta)
	if optErr != nil {
		return errors.Join(optErr, tk.Close())
	}
	model.Tokenizer = &Tokenizer{Runtime: "RUST", RustTokenizer: &RustTokenizer{Tokenizer: tk, Options: rustOptions}, MaxAllowedTokens: model.MaxPositionEmbeddings, Destroy: func() error {
		return tk.Close()
	}}
	return nil
}

func getRustTokenizerOptions(inputs []InputOutputInfo) ([]tokenizers.EncodeOption, error) {
	encodeOptions := []tokenizers.EncodeOption{
		tokenizers.WithReturnTokens(),
		tokenizers.WithReturnSpecialTokensMask(),
		// pooling needs the mask even if the model does not take it
		tokenizers.WithReturnAttentionMask(),
	}
	for _, input := range inputs {
		switch input.Name {
		case "input_ids", "attention_mask", "position_ids":
			continue
		case "token_type_ids":
			encodeOptions = append(encodeOptions, tokenizers.WithReturnTypeIDs())
		default:
			return nil, fmt.Errorf("input %s not recognized", input.Name)
		}
	}
	return encodeOptions, nil
}

func encodeRust(tk *Tokenizer, text string) TokenizedInput {
	rustTK := tk.RustTokenizer
	output := rustTK.Tokenizer.EncodeWithOptions(text, true, rustTK.Options...)
	return TokenizedInput{
		Raw:               text,
		Tokens:            output.Tokens,
		TokenIDs:          output.IDs,
		TypeIDs:           output.TypeIDs,
		AttentionMask:     output.AttentionMask,
		SpecialTokensMask: output.SpecialTokensMask,
	}
}
