// Package fixtures generates reference embedding files used to validate
// inference backends against known-good model outputs. Each generator runs a
// pipeline over a fixed corpus one text at a time and writes the results as
// indented JSON keyed the same way across runs.
package fixtures

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/embedref/embedref/pipelines"
	"github.com/embedref/embedref/util"
)

// MultiVectorRecord holds the three bge-m3 representations for one text.
type MultiVectorRecord struct {
	DenseVecs      []float32          `json:"dense_vecs"`
	LexicalWeights map[string]float32 `json:"lexical_weights"`
	ColbertVecs    [][]float32        `json:"colbert_vecs"`
}

// InstructRecord holds the encoded text and its dense embedding for one
// e5 instruct case.
type InstructRecord struct {
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}

// GenerateMultiVector encodes every corpus text through the multi-vector
// pipeline and returns records keyed by the input text. Texts are run one at
// a time so each record's token-level outputs are independent of batching.
func GenerateMultiVector(pipeline *pipelines.MultiVectorPipeline, texts []string) (map[string]MultiVectorRecord, error) {
	records := make(map[string]MultiVectorRecord, len(texts))
	for _, text := range texts {
		output, err := pipeline.RunPipeline([]string{text})
		if err != nil {
			return nil, fmt.Errorf("encoding %q: %w", text, err)
		}
		result := output.Results[0]
		records[text] = MultiVectorRecord{
			DenseVecs:      result.Dense,
			LexicalWeights: result.LexicalWeights,
			ColbertVecs:    result.Colbert,
		}
	}
	return records, nil
}

// GenerateInstruct encodes every case through the embedding pipeline and
// returns records keyed by case name.
func GenerateInstruct(pipeline *pipelines.EmbeddingPipeline, cases []Case) (map[string]InstructRecord, error) {
	records := make(map[string]InstructRecord, len(cases))
	for _, c := range cases {
		output, err := pipeline.RunPipeline([]string{c.Text})
		if err != nil {
			return nil, fmt.Errorf("encoding case %s: %w", c.Name, err)
		}
		records[c.Name] = InstructRecord{
			Text:      c.Text,
			Embedding: output.Embeddings[0],
		}
	}
	return records, nil
}

// jsonAPI keeps full float precision and sorted map keys. HTML escaping is off
// so corpus text containing & < > serializes raw.
var jsonAPI = jsoniter.Config{SortMapKeys: true, ValidateJsonRawMessage: true}.Froze()

// WriteJSON marshals records with two-space indentation and writes them to
// path, overwriting any previous file.
func WriteJSON(path string, records any) error {
	data, err := jsonAPI.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling records: %w", err)
	}
	writer, err := util.NewFileWriter(path, "application/json")
	if err != nil {
		return err
	}
	if _, err = writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return writer.Close()
}
