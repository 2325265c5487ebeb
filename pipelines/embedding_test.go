package pipelines

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedref/embedref/backends"
)

func TestDetailedInstruct(t *testing.T) {
	formatted := DetailedInstruct("Given a web search query, retrieve relevant passages that answer the query", "how much protein should a female eat")
	assert.Equal(t, "Instruct: Given a web search query, retrieve relevant passages that answer the query\nQuery: how much protein should a female eat", formatted)
}

func TestEmbeddingRunPipelineTokenizerError(t *testing.T) {
	p := &EmbeddingPipeline{BasePipeline: &backends.BasePipeline{
		Model: &backends.Model{Tokenizer: &backends.Tokenizer{Runtime: "XLA"}},
	}}

	// a tokenization failure must abort the run instead of producing an
	// all-zero embedding for the input
	output, err := p.RunPipeline([]string{"a sentence"})
	assert.Nil(t, output)
	assert.ErrorContains(t, err, "not recognized")
}

func TestMeanPooling(t *testing.T) {
	tokens := [][]float32{
		{1, 3},
		{3, 5},
		{100, 100}, // not attended, must not contribute
	}
	input := backends.TokenizedInput{
		AttentionMask:     []uint32{1, 1, 0},
		MaxAttentionIndex: 1,
	}

	pooled := meanPooling(tokens, input, 3, 2)
	assert.Equal(t, []float32{2, 4}, pooled)
}

func TestEmbeddingPostprocessSentenceOutput(t *testing.T) {
	meta := backends.InputOutputInfo{Name: "sentence_embedding", Dimensions: backends.NewShape(-1, 4)}
	pipeline := &EmbeddingPipeline{
		BasePipeline: &backends.BasePipeline{
			Model: &backends.Model{OutputsMeta: []backends.InputOutputInfo{meta}},
		},
		Output:        meta,
		Normalization: true,
	}
	batch := &backends.PipelineBatch{
		Input:        make([]backends.TokenizedInput, 1),
		OutputValues: []any{[][]float32{{3, 0, 4, 0}}},
	}

	output, err := pipeline.Postprocess(batch)
	require.NoError(t, err)
	require.Len(t, output.Embeddings, 1)
	assert.InDeltaSlice(t, []float32{0.6, 0, 0.8, 0}, output.Embeddings[0], 1e-6)

	norm := 0.0
	for _, v := range output.Embeddings[0] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
}

func TestEmbeddingPostprocessTokenOutput(t *testing.T) {
	meta := backends.InputOutputInfo{Name: "last_hidden_state", Dimensions: backends.NewShape(-1, -1, 2)}
	pipeline := &EmbeddingPipeline{
		BasePipeline: &backends.BasePipeline{
			Model: &backends.Model{OutputsMeta: []backends.InputOutputInfo{meta}},
		},
		Output: meta,
	}
	batch := &backends.PipelineBatch{
		Input: []backends.TokenizedInput{
			{AttentionMask: []uint32{1, 1}, MaxAttentionIndex: 1},
		},
		OutputValues: []any{[][][]float32{{{1, 3}, {3, 5}}}},
	}

	output, err := pipeline.Postprocess(batch)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 4}}, output.Embeddings)
}

func TestEmbeddingPostprocessSelectsNamedOutput(t *testing.T) {
	metas := []backends.InputOutputInfo{
		{Name: "token_embeddings", Dimensions: backends.NewShape(-1, -1, 2)},
		{Name: "sentence_embedding", Dimensions: backends.NewShape(-1, 2)},
	}
	pipeline := &EmbeddingPipeline{
		BasePipeline: &backends.BasePipeline{
			Model: &backends.Model{OutputsMeta: metas},
		},
		Output:     metas[1],
		OutputName: "sentence_embedding",
	}
	batch := &backends.PipelineBatch{
		Input: make([]backends.TokenizedInput, 1),
		OutputValues: []any{
			[][][]float32{{{9, 9}}},
			[][]float32{{1, 2}},
		},
	}

	output, err := pipeline.Postprocess(batch)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}}, output.Embeddings)
}

func TestEmbeddingValidate(t *testing.T) {
	pipeline := &EmbeddingPipeline{
		BasePipeline: &backends.BasePipeline{
			Model: &backends.Model{
				InputsMeta: []backends.InputOutputInfo{
					{Name: "input_ids", Dimensions: backends.NewShape(-1, -1, -1)},
				},
			},
		},
	}
	assert.ErrorContains(t, pipeline.Validate(), "max 2 dynamic dimensions")

	pipeline.Model.InputsMeta = []backends.InputOutputInfo{
		{Name: "input_ids", Dimensions: backends.NewShape(-1, -1)},
		{Name: "attention_mask", Dimensions: backends.NewShape(-1, -1)},
	}
	assert.NoError(t, pipeline.Validate())
}
