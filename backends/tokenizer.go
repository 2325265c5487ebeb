package backends

import (
	"fmt"

	"github.com/embedref/embedref/options"
	"github.com/embedref/embedref/util"
)

type Tokenizer struct {
	Runtime          string
	RustTokenizer    *RustTokenizer
	GoTokenizer      *GoTokenizer
	TokenizerTimings *Timings
	MaxAllowedTokens int
	Destroy          func() error
}

// LoadTokenizer reads tokenizer.json from the model path and initializes the
// tokenizer runtime matching the session backend. The huggingface tokenizer
// emits token ids in position order with an all-ones attention mask over real
// tokens, which is the input contract of the embedding graphs.
func LoadTokenizer(model *Model, s *options.Options) error {
	tokenizerPath := util.PathJoinSafe(model.Path, "tokenizer.json")
	exists, err := util.FileExists(tokenizerPath)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("tokenizer file not found at %s", tokenizerPath)
	}
	tokenizerBytes, err := util.ReadFileBytes(tokenizerPath)
	if err != nil {
		return err
	}

	switch s.Backend {
	case "ORT":
		return loadRustTokenizer(tokenizerBytes, model)
	case "GO":
		return loadGoTokenizer(tokenizerBytes, model)
	default:
		return fmt.Errorf("backend %s not recognized", s.Backend)
	}
}

func TokenizeInputs(batch *PipelineBatch, tk *Tokenizer, inputs []string) error {
	switch tk.Runtime {
	case "RUST":
		tokenizeInputsRust(batch, tk, inputs)
		return nil
	case "GO":
		return tokenizeInputsGo(batch, tk, inputs)
	}
	return fmt.Errorf("runtime %s not recognized", tk.Runtime)
}
