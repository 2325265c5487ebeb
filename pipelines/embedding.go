package pipelines

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/embedref/embedref/backends"
	"github.com/embedref/embedref/options"
	"github.com/embedref/embedref/util"
	"github.com/embedref/embedref/util/safeconv"
)

// EmbeddingPipeline produces one dense vector per input text. Models that
// return token-level embeddings are mean pooled over the attended tokens;
// models that already return sentence embeddings pass through unchanged.
type EmbeddingPipeline struct {
	*backends.BasePipeline
	Normalization bool
	InstructTask  string
	OutputName    string
	Output        backends.InputOutputInfo
}

type EmbeddingOutput struct {
	Embeddings [][]float32
}

func (t *EmbeddingOutput) GetOutput() []any {
	out := make([]any, len(t.Embeddings))
	for i, embedding := range t.Embeddings {
		out[i] = any(embedding)
	}
	return out
}

// PIPELINE OPTIONS

// WithNormalization applies L2 normalization to the pooled output of the pipeline.
func WithNormalization() backends.PipelineOption[*EmbeddingPipeline] {
	return func(pipeline *EmbeddingPipeline) {
		pipeline.Normalization = true
	}
}

// WithOutputName if there are multiple outputs from the underlying model, which output should
// be returned. If not passed, the first output from the model is returned.
func WithOutputName(outputName string) backends.PipelineOption[*EmbeddingPipeline] {
	return func(pipeline *EmbeddingPipeline) {
		pipeline.OutputName = outputName
	}
}

// WithInstructTask wraps every input in the instruction template used by the
// e5 instruct model family before tokenization.
func WithInstructTask(task string) backends.PipelineOption[*EmbeddingPipeline] {
	return func(pipeline *EmbeddingPipeline) {
		pipeline.InstructTask = task
	}
}

// DetailedInstruct formats a query with a task description the way the
// multilingual-e5-*-instruct models expect it.
func DetailedInstruct(task string, query string) string {
	return fmt.Sprintf("Instruct: %s\nQuery: %s", task, query)
}

// NewEmbeddingPipeline init an embedding pipeline.
func NewEmbeddingPipeline(config backends.PipelineConfig[*EmbeddingPipeline], s *options.Options, model *backends.Model) (*EmbeddingPipeline, error) {
	defaultPipeline, err := backends.NewBasePipeline(config, s, model)
	if err != nil {
		return nil, err
	}

	pipeline := &EmbeddingPipeline{BasePipeline: defaultPipeline}
	for _, o := range config.Options {
		o(pipeline)
	}

	// filter outputs
	if pipeline.OutputName != "" {
		for _, output := range model.OutputsMeta {
			if output.Name == pipeline.OutputName {
				pipeline.Output = output
				break
			}
		}
		if pipeline.Output.Name == "" {
			return nil, fmt.Errorf("output %s is not available, outputs are: %s", pipeline.OutputName, strings.Join(backends.GetNames(model.OutputsMeta), ", "))
		}
	} else {
		pipeline.Output = model.OutputsMeta[0] // we take the first output otherwise, like transformers does
	}

	// validate pipeline
	err = pipeline.Validate()
	if err != nil {
		return nil, err
	}
	return pipeline, nil
}

// INTERFACE IMPLEMENTATIONS

func (p *EmbeddingPipeline) GetModel() *backends.Model {
	return p.BasePipeline.Model
}

// GetMetadata returns metadata information about the pipeline, in particular:
// OutputInfo: names and dimensions of the output layer.
func (p *EmbeddingPipeline) GetMetadata() backends.PipelineMetadata {
	return backends.PipelineMetadata{
		OutputsInfo: []backends.OutputInfo{
			{
				Name:       p.Output.Name,
				Dimensions: p.Output.Dimensions,
			},
		},
	}
}

// GetStats returns the runtime statistics for the pipeline.
func (p *EmbeddingPipeline) GetStats() []string {
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

// Validate checks that the pipeline is valid.
func (p *EmbeddingPipeline) Validate() error {
	var validationErrors []error

	for _, input := range p.Model.InputsMeta {
		dims := []int64(input.Dimensions)
		if len(dims) > 3 {
			validationErrors = append(validationErrors, fmt.Errorf("inputs and outputs currently can have at most 3 dimensions"))
		}
		nDynamicDimensions := 0
		for _, d := range dims {
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

// Preprocess tokenizes the input strings, applying the instruct template first
// when one is configured.
func (p *EmbeddingPipeline) Preprocess(batch *backends.PipelineBatch, inputs []string) error {
	if p.InstructTask != "" {
		templated := make([]string, len(inputs))
		for i, input := range inputs {
			templated[i] = DetailedInstruct(p.InstructTask, input)
		}
		inputs = templated
	}
	start := time.Now()
	if err := backends.TokenizeInputs(batch, p.Model.Tokenizer, inputs); err != nil {
		return err
	}
	atomic.AddUint64(&p.Model.Tokenizer.TokenizerTimings.NumCalls, 1)
	atomic.AddUint64(&p.Model.Tokenizer.TokenizerTimings.TotalNS, safeconv.DurationToU64(time.Since(start)))
	return backends.CreateInputTensors(batch, p.Model.InputsMeta, p.Runtime)
}

// Forward performs the forward inference of the pipeline.
func (p *EmbeddingPipeline) Forward(batch *backends.PipelineBatch) error {
	start := time.Now()
	err := backends.RunSessionOnBatch(batch, p.BasePipeline)
	if err != nil {
		return err
	}
	atomic.AddUint64(&p.PipelineTimings.NumCalls, 1)
	atomic.AddUint64(&p.PipelineTimings.TotalNS, safeconv.DurationToU64(time.Since(start)))
	return nil
}

// Postprocess parses the model output into one embedding per input.
func (p *EmbeddingPipeline) Postprocess(batch *backends.PipelineBatch) (*EmbeddingOutput, error) {
	outputIndex := 0
	for i, meta := range p.Model.OutputsMeta {
		if meta.Name == p.Output.Name {
			outputIndex = i
			break
		}
	}
	output := batch.OutputValues[outputIndex]
	batchEmbeddings := make([][]float32, len(batch.Input))
	outputDimensions := []int64(p.Output.Dimensions)
	embeddingDimension := outputDimensions[len(outputDimensions)-1]

	switch result := output.(type) {
	case [][]float32:
		batchEmbeddings = result
	case [][][]float32:
		for batchIndex, tokens := range result {
			batchEmbeddings[batchIndex] = meanPooling(tokens, batch.Input[batchIndex], len(tokens), int(embeddingDimension))
		}
	default:
		return nil, fmt.Errorf("output %s has unexpected shape", p.Output.Name)
	}

	// Normalize embeddings (if asked), like the sentence-transformers implementations do
	if p.Normalization {
		for i, embedding := range batchEmbeddings {
			batchEmbeddings[i] = util.Normalize(embedding, 2)
		}
	}

	return &EmbeddingOutput{Embeddings: batchEmbeddings}, nil
}

func meanPooling(tokens [][]float32, input backends.TokenizedInput, maxSequence int, dimensions int) []float32 {
	length := len(input.AttentionMask)
	vector := make([]float32, dimensions)
	for j := 0; j < maxSequence; j++ {
		if j+1 <= length && input.AttentionMask[j] != 0 {
			for k, vectorValue := range tokens[j] {
				vector[k] = vector[k] + vectorValue
			}
		}
	}

	numAttentionTokens := float32(input.MaxAttentionIndex + 1)
	for v, vectorValue := range vector {
		vector[v] = vectorValue / numAttentionTokens
	}

	return vector
}

// Run the pipeline on a batch of strings.
func (p *EmbeddingPipeline) Run(inputs []string) (backends.PipelineBatchOutput, error) {
	return p.RunPipeline(inputs)
}

// RunPipeline is like Run, but returns the concrete embedding output type rather than the interface.
func (p *EmbeddingPipeline) RunPipeline(inputs []string) (*EmbeddingOutput, error) {
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
