package backends

import (
	"fmt"

	"github.com/knights-analytics/linspector/options"
	"github.com/knights-analytics/linspector/util/fileutil"
)

type Tokenizer struct {
	RustTokenizer    *RustTokenizer
	GoTokenizer      *GoTokenizer
	Destroy          func() error
	Runtime          string
	MaxAllowedTokens int
}

func LoadTokenizer(model *Model, s *options.Options) error {
	tokenizerPath := fileutil.PathJoinSafe(model.Path, "tokenizer.json")
	exists, err := fileutil.FileExists(tokenizerPath)
	if err != nil {
		return fmt.Errorf("error checking for existence of tokenizer.json: %w", err)
	}
	if !exists {
		return fmt.Errorf("no tokenizer.json found at %s", model.Path)
	}
	tokenizerBytes, err := fileutil.ReadFileBytes(tokenizerPath)
	if err != nil {
		return err
	}
	switch s.Backend {
	case "ORT", "XLA":
		return loadRustTokenizer(tokenizerBytes, model)
	case "GO":
		return loadGoTokenizer(tokenizerBytes, model)
	default:
		return fmt.Errorf("runtime %s not recognized", s.Backend)
	}
}

// Encode tokenizes text with special tokens, truncated to the model's maximum sequence length.
func (tk *Tokenizer) Encode(text string) (TokenizedInput, error) {
	var input TokenizedInput
	var err error
	switch tk.Runtime {
	case "RUST":
		input = encodeRust(tk, text)
	case "GO":
		input, err = encodeGo(tk, text)
	default:
		err = fmt.Errorf("tokenizer runtime %s not recognized", tk.Runtime)
	}
	if err != nil {
		return input, err
	}
	if limit := tk.MaxAllowedTokens; limit > 0 && len(input.TokenIDs) > limit {
		input.Tokens = input.Tokens[:min(len(input.Tokens), limit)]
		input.TokenIDs = input.TokenIDs[:limit]
		input.TypeIDs = input.TypeIDs[:min(len(input.TypeIDs), limit)]
		input.AttentionMask = input.AttentionMask[:min(len(input.AttentionMask), limit)]
		input.SpecialTokensMask = input.SpecialTokensMask[:min(len(input.SpecialTokensMask), limit)]
	}
	return input, nil
}
