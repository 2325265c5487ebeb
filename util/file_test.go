package util

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPathType(t *testing.T) {
	assert.Equal(t, "S3", GetPathType("s3://bucket/models"))
	assert.Equal(t, "os", GetPathType("/home/user/models"))
	assert.Equal(t, "os", GetPathType("relative/path"))
}

func TestPathJoinSafe(t *testing.T) {
	assert.Equal(t, filepath.Join("a", "b", "c"), PathJoinSafe("a", "b", "c"))
	// the s3 scheme's double slash must survive joining
	assert.Equal(t, "s3://bucket/models/bge-m3", PathJoinSafe("s3://bucket", "models", "bge-m3"))
	assert.Equal(t, "s3://bucket/models/bge-m3", PathJoinSafe("s3://bucket/", "models", "bge-m3"))
}

func TestCreateAndDeleteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "models")
	require.NoError(t, CreateFile(dir, true))

	exists, err := FileExists(dir)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, DeleteFile(dir))
	exists, err = FileExists(dir)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFileExistsAndReadFileBytes(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "config.json")

	exists, err := FileExists(filename)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, os.WriteFile(filename, []byte(`{"max_position_embeddings": 8192}`), 0o644))

	exists, err = FileExists(filename)
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := ReadFileBytes(filename)
	require.NoError(t, err)
	assert.Equal(t, `{"max_position_embeddings": 8192}`, string(data))
}

func TestNewFileWriterReplacesExisting(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, os.WriteFile(filename, []byte("old content that is longer"), 0o644))

	writer, err := NewFileWriter(filename, "application/json")
	require.NoError(t, err)
	_, err = writer.Write([]byte("new"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	data, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	from := filepath.Join(dir, "model.onnx")
	to := filepath.Join(dir, "copy.onnx")
	require.NoError(t, os.WriteFile(from, []byte("onnx bytes"), 0o644))

	require.NoError(t, CopyFile(from, to))

	data, err := os.ReadFile(to)
	require.NoError(t, err)
	assert.Equal(t, "onnx bytes", string(data))
}

func TestReadLine(t *testing.T) {
	reader := bufio.NewReaderSize(strings.NewReader("first line\nsecond line\n"), 16)

	line, err := ReadLine(reader)
	require.NoError(t, err)
	assert.Equal(t, "first line", string(line))

	line, err = ReadLine(reader)
	require.NoError(t, err)
	assert.Equal(t, "second line", string(line))

	_, err = ReadLine(reader)
	assert.Equal(t, io.EOF, err)
}
