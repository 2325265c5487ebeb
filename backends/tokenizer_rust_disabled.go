//go:build !cgo || (!ORT && !ALL)

package backends

import "errors"

type RustTokenizer struct{}

func loadRustTokenizer(_ []byte, _ *Model) error {
	return errors.New("rust tokenizer is not enabled")
}

func tokenizeInputsRust(_ *PipelineBatch, _ *Tokenizer, _ []string) {}
