//go:build !ORT && !XLA && !ALL

package backends

import "errors"

type RustTokenizer struct{}

func loadRustTokenizer(_ []byte, _ *Model) error {
	return errors.New("rust Tokenizer is not enabled")
}

func encodeRust(_ *Tokenizer, _ string) TokenizedInput {
	return TokenizedInput{}
}
