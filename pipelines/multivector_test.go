package pipelines

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedref/embedref/backends"
)

func defaultSpecialTokens() map[uint32]struct{} {
	return map[uint32]struct{}{0: {}, 1: {}, 2: {}, 3: {}}
}

func TestMultiVectorRunPipelineTokenizerError(t *testing.T) {
	p := &MultiVectorPipeline{BasePipeline: &backends.BasePipeline{
		Model: &backends.Model{Tokenizer: &backends.Tokenizer{Runtime: "XLA"}},
	}}

	output, err := p.RunPipeline([]string{"a sentence"})
	assert.Nil(t, output)
	assert.ErrorContains(t, err, "not recognized")
}

func TestLexicalWeights(t *testing.T) {
	input := backends.TokenizedInput{
		TokenIDs:      []uint32{0, 581, 7986, 581, 2, 1},
		AttentionMask: []uint32{1, 1, 1, 1, 1, 0},
	}
	weights := []float32{0.9, 0.25, 0.5, 0.125, 0.8, 0.7}

	lexical := lexicalWeights(weights, input, defaultSpecialTokens())

	// special tokens (cls, sep, pad) are excluded even with high weights, the
	// padded position is excluded by the attention mask, and the repeated
	// token id keeps its maximum weight
	assert.Equal(t, map[string]float32{
		"581":  0.25,
		"7986": 0.5,
	}, lexical)
}

func TestLexicalWeightsDropsNonPositive(t *testing.T) {
	input := backends.TokenizedInput{
		TokenIDs:      []uint32{10, 11, 12},
		AttentionMask: []uint32{1, 1, 1},
	}
	weights := []float32{0, -0.5, 0.25}

	lexical := lexicalWeights(weights, input, defaultSpecialTokens())
	assert.Equal(t, map[string]float32{"12": 0.25}, lexical)
}

func TestLexicalWeightsShortWeightVector(t *testing.T) {
	input := backends.TokenizedInput{
		TokenIDs:      []uint32{10, 11, 12},
		AttentionMask: []uint32{1, 1, 1},
	}
	// weight vector shorter than the token sequence must not panic
	lexical := lexicalWeights([]float32{0.5}, input, defaultSpecialTokens())
	assert.Equal(t, map[string]float32{"10": 0.5}, lexical)
}

func TestWithSpecialTokenIDs(t *testing.T) {
	pipeline := &MultiVectorPipeline{SpecialTokenIDs: defaultSpecialTokens()}
	WithSpecialTokenIDs([]uint32{250001})(pipeline)

	assert.Equal(t, map[uint32]struct{}{250001: {}}, pipeline.SpecialTokenIDs)
}

func TestMultiVectorPostprocess(t *testing.T) {
	pipeline := &MultiVectorPipeline{
		BasePipeline:    &backends.BasePipeline{Model: &backends.Model{}},
		SpecialTokenIDs: defaultSpecialTokens(),
	}
	batch := &backends.PipelineBatch{
		Input: []backends.TokenizedInput{
			{
				TokenIDs:      []uint32{0, 581, 2},
				AttentionMask: []uint32{1, 1, 1},
			},
		},
		OutputValues: []any{
			[][]float32{{0.1, 0.2, 0.3}},
			[][]float32{{0.9, 0.5, 0.8}},
			[][][]float32{{{1, 2}, {3, 4}, {5, 6}}},
		},
	}

	output, err := pipeline.Postprocess(batch)
	require.NoError(t, err)
	require.Len(t, output.Results, 1)

	result := output.Results[0]
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, result.Dense)
	assert.Equal(t, map[string]float32{"581": 0.5}, result.LexicalWeights)
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}, {5, 6}}, result.Colbert)

	outputs := output.GetOutput()
	require.Len(t, outputs, 1)
	assert.Equal(t, result, outputs[0])
}

func TestMultiVectorPostprocessShapeMismatch(t *testing.T) {
	pipeline := &MultiVectorPipeline{
		BasePipeline:    &backends.BasePipeline{Model: &backends.Model{}},
		SpecialTokenIDs: defaultSpecialTokens(),
	}
	batch := &backends.PipelineBatch{
		Input: make([]backends.TokenizedInput, 1),
		OutputValues: []any{
			[][][]float32{{{1}}}, // wrong rank for the dense output
			[][]float32{{1}},
			[][][]float32{{{1}}},
		},
	}

	_, err := pipeline.Postprocess(batch)
	assert.ErrorContains(t, err, "unexpected shape")
}

func TestMultiVectorValidate(t *testing.T) {
	pipeline := &MultiVectorPipeline{
		BasePipeline: &backends.BasePipeline{
			Model: &backends.Model{
				OutputsMeta: []backends.InputOutputInfo{
					{Name: "dense", Dimensions: backends.NewShape(-1, 1024)},
				},
			},
		},
	}
	assert.ErrorContains(t, pipeline.Validate(), "exactly 3 outputs")

	pipeline.Model.OutputsMeta = []backends.InputOutputInfo{
		{Name: "dense", Dimensions: backends.NewShape(-1, 1024)},
		{Name: "sparse", Dimensions: backends.NewShape(-1, -1)},
		{Name: "colbert", Dimensions: backends.NewShape(-1, -1)}, // should be rank 3
	}
	assert.ErrorContains(t, pipeline.Validate(), "expected rank 3")

	pipeline.Model.OutputsMeta[2] = backends.InputOutputInfo{Name: "colbert", Dimensions: backends.NewShape(-1, -1, 1024)}
	assert.NoError(t, pipeline.Validate())
}
