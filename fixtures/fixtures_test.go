package fixtures

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiVectorCorpus(t *testing.T) {
	texts := MultiVectorCorpus()
	require.Len(t, texts, 8)

	assert.Contains(t, texts, "This is a simple test text.")
	assert.Contains(t, texts, "Hello world!")
	assert.Contains(t, texts, "") // the empty string is part of the corpus
	assert.Contains(t, texts, "English, Español, Русский, 中文, العربية, हिन्दी")
}

func TestInstructCases(t *testing.T) {
	cases := InstructCases("")
	require.Len(t, cases, 11)

	names := make([]string, len(cases))
	byName := make(map[string]string, len(cases))
	for i, c := range cases {
		names[i] = c.Name
		byName[c.Name] = c.Text
	}
	assert.Equal(t, []string{
		"instruct_protein_query",
		"instruct_pumpkin_query",
		"protein_document",
		"pumpkin_document",
		"simple_text",
		"empty_text",
		"multilingual_text",
		"long_text",
		"technical_text",
		"classification_query",
		"summarization_query",
	}, names)

	// query cases carry the instruct template, documents do not
	assert.Equal(t, "Instruct: "+RetrievalTask+"\nQuery: how much protein should a female eat", byName["instruct_protein_query"])
	assert.Equal(t, "Instruct: "+RetrievalTask+"\nQuery: 南瓜的家常做法", byName["instruct_pumpkin_query"])
	assert.False(t, strings.HasPrefix(byName["protein_document"], "Instruct:"))
	assert.False(t, strings.HasPrefix(byName["pumpkin_document"], "Instruct:"))
	assert.Empty(t, byName["empty_text"])

	// cases with their own task are unaffected by the retrieval task
	assert.Equal(t, "Instruct: Classify the sentiment of this text\nQuery: I love this product!", byName["classification_query"])
}

func TestInstructCasesCustomTask(t *testing.T) {
	cases := InstructCases("Find code snippets")
	assert.Equal(t, "Instruct: Find code snippets\nQuery: how much protein should a female eat", cases[0].Text)
	assert.Equal(t, "Instruct: Classify the sentiment of this text\nQuery: I love this product!", cases[9].Text)
}

func TestRecordJSONKeys(t *testing.T) {
	multiVector, err := json.Marshal(MultiVectorRecord{
		DenseVecs:      []float32{0.5},
		LexicalWeights: map[string]float32{"581": 0.25},
		ColbertVecs:    [][]float32{{0.125}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"dense_vecs": [0.5], "lexical_weights": {"581": 0.25}, "colbert_vecs": [[0.125]]}`, string(multiVector))

	instruct, err := json.Marshal(InstructRecord{
		Text:      "hello",
		Embedding: []float32{1, 0},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text": "hello", "embedding": [1, 0]}`, string(instruct))
}

func TestWriteJSON(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "reference_embeddings.json")
	records := map[string]InstructRecord{
		"simple_text": {Text: "This is a simple test text.", Embedding: []float32{0.5, 0.25}},
	}
	require.NoError(t, WriteJSON(dest, records))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  ") // two space indentation

	var read map[string]InstructRecord
	require.NoError(t, json.Unmarshal(data, &read))
	assert.Equal(t, records, read)

	// a second write replaces the file
	require.NoError(t, WriteJSON(dest, map[string]InstructRecord{}))
	data, err = os.ReadFile(dest)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestWriteJSONKeepsTextRaw(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "reference_embeddings.json")
	text := "Text with numbers: 12345 and symbols: !@#$%^&*()"
	require.NoError(t, WriteJSON(dest, map[string]InstructRecord{
		"technical_text": {Text: text, Embedding: []float32{0.5}},
	}))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)

	// corpus text must serialize byte for byte, without HTML escaping
	assert.Contains(t, string(data), text)
	assert.NotContains(t, string(data), `&`)
}
