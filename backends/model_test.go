package backends

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	shape := NewShape(-1, -1, 1024)
	assert.Equal(t, "[-1 -1 1024]", shape.String())
	assert.Equal(t, []int{-1, -1, 1024}, shape.ValuesInt())
}

func TestGetNames(t *testing.T) {
	info := []InputOutputInfo{
		{Name: "input_ids"},
		{Name: "attention_mask"},
	}
	assert.Equal(t, []string{"input_ids", "attention_mask"}, GetNames(info))
}

func TestReshapeOutput2D(t *testing.T) {
	meta := InputOutputInfo{Name: "dense", Dimensions: NewShape(-1, 4)}
	paddingMask := [][]bool{
		{true, true, false},
		{true, false, false},
	}
	flat := []float32{1, 2, 3, 4, 5, 6, 7, 8}

	out := ReshapeOutput(flat, meta, paddingMask, 3)
	result, ok := out.([][]float32)
	require.True(t, ok)
	assert.Equal(t, [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}}, result)
}

func TestReshapeOutput2DDynamicLastDimension(t *testing.T) {
	// per-token outputs of shape [batch, sequence] have a dynamic trailing
	// dimension which must resolve to the batch sequence length
	meta := InputOutputInfo{Name: "sparse", Dimensions: NewShape(-1, -1)}
	paddingMask := [][]bool{
		{true, true, false},
		{true, false, false},
	}
	flat := []float32{0.5, 0.25, 0, 0.75, 0, 0}

	out := ReshapeOutput(flat, meta, paddingMask, 3)
	result, ok := out.([][]float32)
	require.True(t, ok)
	assert.Equal(t, [][]float32{{0.5, 0.25, 0}, {0.75, 0, 0}}, result)
}

func TestReshapeOutput3DSkipsPaddedTokens(t *testing.T) {
	meta := InputOutputInfo{Name: "colbert", Dimensions: NewShape(-1, -1, 2)}
	paddingMask := [][]bool{
		{true, true, false},
		{true, false, false},
	}
	flat := []float32{
		1, 2, 3, 4, 5, 6, // first input: two valid tokens, one padded
		7, 8, 9, 10, 11, 12, // second input: one valid token, two padded
	}

	out := ReshapeOutput(flat, meta, paddingMask, 3)
	result, ok := out.([][][]float32)
	require.True(t, ok)
	require.Len(t, result, 2)
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}}, result[0])
	assert.Equal(t, [][]float32{{7, 8}}, result[1])
}

func TestReshapeOutputInt64(t *testing.T) {
	meta := InputOutputInfo{Name: "ids", Dimensions: NewShape(-1, 2)}
	out := ReshapeOutput([]int64{1, 2, 3, 4}, meta, [][]bool{{true}, {true}}, 1)
	result, ok := out.([][]int64)
	require.True(t, ok)
	assert.Equal(t, [][]int64{{1, 2}, {3, 4}}, result)
}

func TestLoadOnnxModelBytesNoModel(t *testing.T) {
	model := &Model{Path: t.TempDir()}
	err := LoadOnnxModelBytes(model)
	assert.ErrorContains(t, err, "no .onnx file detected")
}

func TestLoadOnnxModelBytesAmbiguous(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("first"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model_quantized.onnx"), []byte("second"), 0o644))

	model := &Model{Path: dir}
	err := LoadOnnxModelBytes(model)
	assert.ErrorContains(t, err, "multiple .onnx files")

	model = &Model{Path: dir, OnnxFilename: "model_quantized.onnx"}
	require.NoError(t, LoadOnnxModelBytes(model))
	assert.Equal(t, []byte("second"), model.OnnxBytes)

	model = &Model{Path: dir, OnnxFilename: "missing.onnx"}
	err = LoadOnnxModelBytes(model)
	assert.ErrorContains(t, err, "missing.onnx not found")
}

func TestLoadModelConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"),
		[]byte(`{"max_position_embeddings": 8192, "model_type": "xlm-roberta"}`), 0o644))

	model := &Model{Path: dir}
	require.NoError(t, loadModelConfig(model))
	assert.Equal(t, 8192, model.MaxPositionEmbeddings)

	model = &Model{Path: t.TempDir()}
	require.NoError(t, loadModelConfig(model))
	assert.Equal(t, 0, model.MaxPositionEmbeddings)
}

func TestUnknownRuntime(t *testing.T) {
	batch := NewBatch()
	err := CreateInputTensors(batch, nil, "XLA")
	assert.ErrorContains(t, err, "not recognized")

	err = RunSessionOnBatch(batch, &BasePipeline{Runtime: "XLA"})
	assert.ErrorContains(t, err, "not recognized")
}
