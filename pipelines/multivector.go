package pipelines

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/embedref/embedref/backends"
	"github.com/embedref/embedref/options"
	"github.com/embedref/embedref/util/safeconv"
)

// MultiVectorPipeline runs models of the bge-m3 family, which emit three
// representations per input: a dense sentence vector, per-token lexical
// weights over the vocabulary, and per-token ColBERT vectors. The model
// outputs are bound positionally: dense [batch, dim], sparse weights
// [batch, sequence], ColBERT [batch, sequence, dim].
type MultiVectorPipeline struct {
	*backends.BasePipeline
	SpecialTokenIDs map[uint32]struct{}
}

// MultiVectorResult holds the three embedding representations of one input.
type MultiVectorResult struct {
	Dense          []float32
	LexicalWeights map[string]float32
	Colbert        [][]float32
}

type MultiVectorOutput struct {
	Results []MultiVectorResult
}

func (t *MultiVectorOutput) GetOutput() []any {
	out := make([]any, len(t.Results))
	for i, result := range t.Results {
		out[i] = any(result)
	}
	return out
}

// PIPELINE OPTIONS

// WithSpecialTokenIDs overrides the token ids excluded from the lexical
// weights. The default is {0, 1, 2, 3}, the special tokens of the xlm-roberta
// vocabulary bge-m3 is built on.
func WithSpecialTokenIDs(ids []uint32) backends.PipelineOption[*MultiVectorPipeline] {
	return func(pipeline *MultiVectorPipeline) {
		set := make(map[uint32]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		pipeline.SpecialTokenIDs = set
	}
}

// NewMultiVectorPipeline init a multi vector pipeline.
func NewMultiVectorPipeline(config backends.PipelineConfig[*MultiVectorPipeline], s *options.Options, model *backends.Model) (*MultiVectorPipeline, error) {
	defaultPipeline, err := backends.NewBasePipeline(config, s, model)
	if err != nil {
		return nil, err
	}

	pipeline := &MultiVectorPipeline{
		BasePipeline: defaultPipeline,
		SpecialTokenIDs: map[uint32]struct{}{
			0: {}, 1: {}, 2: {}, 3: {},
		},
	}
	for _, o := range config.Options {
		o(pipeline)
	}

	err = pipeline.Validate()
	if err != nil {
		return nil, err
	}
	return pipeline, nil
}

// INTERFACE IMPLEMENTATIONS

func (p *MultiVectorPipeline) GetModel() *backends.Model {
	return p.BasePipeline.Model
}

func (p *MultiVectorPipeline) GetMetadata() backends.PipelineMetadata {
	outputs := make([]backends.OutputInfo, len(p.Model.OutputsMeta))
	for i, meta := range p.Model.OutputsMeta {
		outputs[i] = backends.OutputInfo{
			Name:       meta.Name,
			Dimensions: meta.Dimensions,
		}
	}
	return backends.PipelineMetadata{OutputsInfo: outputs}
}

// GetStats returns the runtime statistics for the pipeline.
func (p *MultiVectorPipeline) GetStats() []string {
	return []string{
		fmt.Sprintf("Statistics for pipeline: %s", p.PipelineName),
		fmt.Sprintf("Tokenizer: Total time=%s, Execution count=%d, Average query time=%s",
			safeconv.U64ToDuration(p.Model.Tokenizer.TokenizerTimings.TotalNS),
			p.Model.Tokenizer.TokenizerTimings.NumCalls,
			time.Duration(float64(p.Model.Tokenizer.TokenizerTimings.TotalNS)/math.Max(1, float64(p.Model.Tokenizer.TokenizerTimings.NumCalls)))),
		fmt.Sprintf("ONNX: Total time=%s, Execution count=%d, Average query time=%s",
			safeconv.U64ToDuration(p.PipelineTimings.TotalNS),
			p.PipelineTimings.NumCalls,
			time.Duration(float64(p.PipelineTimings.TotalNS)/math.Max(1, float64(p.PipelineTimings.NumCalls)))),
	}
}

// Validate checks that the model has the three outputs the pipeline binds to.
func (p *MultiVectorPipeline) Validate() error {
	var validationErrors []error

	if len(p.Model.OutputsMeta) != 3 {
		return fmt.Errorf("multi vector models must have exactly 3 outputs (dense, sparse weights, colbert vectors), got %d", len(p.Model.OutputsMeta))
	}
	expectedRanks := []int{2, 2, 3}
	for i, meta := range p.Model.OutputsMeta {
		if len(meta.Dimensions) != expectedRanks[i] {
			validationErrors = append(validationErrors, fmt.Errorf("output %s has dimensions %s, expected rank %d",
				meta.Name, meta.Dimensions.String(), expectedRanks[i]))
		}
	}
	for _, input := range p.Model.InputsMeta {
		nDynamicDimensions := 0
		for _, d := range input.Dimensions {
			if d == -1 {
				nDynamicDimensions++
			}
		}
		if nDynamicDimensions > 2 {
			validationErrors = append(validationErrors, fmt.Errorf(`input %s has dimensions: %s.
			There can only be max 2 dynamic dimensions (batch size and sequence length)`,
				input.Name, input.Dimensions.String()))
		}
	}
	return errors.Join(validationErrors...)
}

// Preprocess tokenizes the input strings.
func (p *MultiVectorPipeline) Preprocess(batch *backends.PipelineBatch, inputs []string) error {
	start := time.Now()
	if err := backends.TokenizeInputs(batch, p.Model.Tokenizer, inputs); err != nil {
		return err
	}
	atomic.AddUint64(&p.Model.Tokenizer.TokenizerTimings.NumCalls, 1)
	atomic.AddUint64(&p.Model.Tokenizer.TokenizerTimings.TotalNS, safeconv.DurationToU64(time.Since(start)))
	return backends.CreateInputTensors(batch, p.Model.InputsMeta, p.Runtime)
}

// Forward performs the forward inference of the pipeline.
func (p *MultiVectorPipeline) Forward(batch *backends.PipelineBatch) error {
	start := time.Now()
	err := backends.RunSessionOnBatch(batch, p.BasePipeline)
	if err != nil {
		return err
	}
	atomic.AddUint64(&p.PipelineTimings.NumCalls, 1)
	atomic.AddUint64(&p.PipelineTimings.TotalNS, safeconv.DurationToU64(time.Since(start)))
	return nil
}

// Postprocess assembles the three representations per input. Lexical weights
// keep only strictly positive weights of attended, non-special tokens, with
// the maximum weight per token id. ColBERT rows of padding positions are
// dropped by the output reshape.
func (p *MultiVectorPipeline) Postprocess(batch *backends.PipelineBatch) (*MultiVectorOutput, error) {
	dense, ok := batch.OutputValues[0].([][]float32)
	if !ok {
		return nil, fmt.Errorf("dense output has unexpected shape")
	}
	sparse, ok := batch.OutputValues[1].([][]float32)
	if !ok {
		return nil, fmt.Errorf("sparse weights output has unexpected shape")
	}
	colbert, ok := batch.OutputValues[2].([][][]float32)
	if !ok {
		return nil, fmt.Errorf("colbert output has unexpected shape")
	}

	results := make([]MultiVectorResult, len(batch.Input))
	for i, input := range batch.Input {
		results[i] = MultiVectorResult{
			Dense:          dense[i],
			LexicalWeights: lexicalWeights(sparse[i], input, p.SpecialTokenIDs),
			Colbert:        colbert[i],
		}
	}
	return &MultiVectorOutput{Results: results}, nil
}

func lexicalWeights(weights []float32, input backends.TokenizedInput, specialTokens map[uint32]struct{}) map[string]float32 {
	lexical := make(map[string]float32)
	for j, tokenID := range input.TokenIDs {
		if j >= len(weights) {
			break
		}
		if j >= len(input.AttentionMask) || input.AttentionMask[j] == 0 {
			continue
		}
		if _, isSpecial := specialTokens[tokenID]; isSpecial {
			continue
		}
		weight := weights[j]
		if weight <= 0 {
			continue
		}
		key := strconv.FormatUint(uint64(tokenID), 10)
		if weight > lexical[key] {
			lexical[key] = weight
		}
	}
	return lexical
}

// Run the pipeline on a batch of strings.
func (p *MultiVectorPipeline) Run(inputs []string) (backends.PipelineBatchOutput, error) {
	return p.RunPipeline(inputs)
}

// RunPipeline is like Run, but returns the concrete multi vector output type rather than the interface.
func (p *MultiVectorPipeline) RunPipeline(inputs []string) (*MultiVectorOutput, error) {
	var runErrors []error
	batch := backends.NewBatch()
	defer func(*backends.PipelineBatch) {
		runErrors = append(runErrors, batch.Destroy())
	}(batch)

	runErrors = append(runErrors, p.Preprocess(batch, inputs))
	if e := errors.Join(runErrors...); e != nil {
		return nil, e
	}

	runErrors = append(runErrors, p.Forward(batch))
	if e := errors.Join(runErrors...); e != nil {
		return nil, e
	}

	result, postErr := p.Postprocess(batch)
	runErrors = append(runErrors, postErr)
	return result, errors.Join(runErrors...)
}
