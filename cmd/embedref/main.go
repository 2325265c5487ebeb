package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/embedref/embedref"
	"github.com/embedref/embedref/fixtures"
	"github.com/embedref/embedref/options"
	"github.com/embedref/embedref/pipelines"
	"github.com/embedref/embedref/util"
)

var modelPath string
var inputPath string
var outputPath string
var backendName string
var sharedLibraryPath string
var onnxFilename string
var modelsDir string
var instructTask string

func commonFlags(defaultModel string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Model name or path to the model directory",
			Aliases:     []string{"p"},
			Destination: &modelPath,
			Value:       defaultModel,
		},
		&cli.StringFlag{
			Name:        "input",
			Usage:       "Path to a .jsonl file with texts to encode instead of the built-in corpus. If omitted and stdin is piped, texts are read from stdin.",
			Aliases:     []string{"i"},
			Destination: &inputPath,
		},
		&cli.StringFlag{
			Name:        "output",
			Usage:       "Path of the reference embeddings JSON file to write. Defaults to a file next to the model.",
			Aliases:     []string{"o"},
			Destination: &outputPath,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "Inference backend to use: ort or go",
			Aliases:     []string{"b"},
			Destination: &backendName,
			Value:       "ort",
		},
		&cli.StringFlag{
			Name:        "onnxruntimeSharedLibrary",
			Usage:       "Path to the onnxruntime shared library, for the ort backend",
			Aliases:     []string{"s"},
			Destination: &sharedLibraryPath,
		},
		&cli.StringFlag{
			Name:        "onnxFilename",
			Usage:       "Name of the .onnx file to load when the model directory contains more than one",
			Destination: &onnxFilename,
		},
		&cli.StringFlag{
			Name:        "modelFolder",
			Usage:       "Folder where downloaded models are stored. Falls back to $HOME/embedref/models if not specified",
			Aliases:     []string{"f"},
			Destination: &modelsDir,
		},
	}
}

var bgeM3Command = &cli.Command{
	Name:  "bge-m3",
	Usage: "Generate bge-m3 reference embeddings (dense, lexical weights, colbert vectors)",
	Description: `Encodes the built-in test corpus with a bge-m3 onnx model and writes the three
representations per text to a JSON file keyed by the input text.`,
	Flags: commonFlags("BAAI/bge-m3"),
	Action: func(_ *cli.Context) (err error) {
		resolved, err := resolveModel()
		if err != nil {
			return err
		}
		if err := checkModelFiles(resolved); err != nil {
			return err
		}

		session, err := newSession()
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, session.Destroy())
		}()

		pipeline, err := embedref.NewPipeline(session, embedref.MultiVectorConfig{
			ModelPath:    resolved,
			Name:         "bgeM3Reference",
			OnnxFilename: onnxFilename,
		})
		if err != nil {
			return err
		}

		texts := fixtures.MultiVectorCorpus()
		if override, overrideErr := readInputTexts(); overrideErr != nil {
			return overrideErr
		} else if override != nil {
			texts = override
		}

		records, err := fixtures.GenerateMultiVector(pipeline, texts)
		if err != nil {
			return err
		}

		dest := outputPath
		if dest == "" {
			dest = util.PathJoinSafe(resolved, "bge_m3_reference_embeddings.json")
		}
		if err = fixtures.WriteJSON(dest, records); err != nil {
			return err
		}
		fmt.Printf("wrote %d reference embeddings to %s\n", len(records), dest)
		return err
	},
}

var e5InstructCommand = &cli.Command{
	Name:  "e5-instruct",
	Usage: "Generate multilingual-e5-large-instruct reference embeddings",
	Description: `Encodes the built-in instruct test cases with a multilingual-e5-large-instruct
onnx model and writes the normalised dense embedding per case to a JSON file keyed by case name.
Query cases are wrapped in the instruct template before encoding.`,
	Flags: append(commonFlags("intfloat/multilingual-e5-large-instruct"),
		&cli.StringFlag{
			Name:        "task",
			Usage:       "Task description used for the instructed retrieval query cases",
			Aliases:     []string{"t"},
			Destination: &instructTask,
			Value:       fixtures.RetrievalTask,
		},
	),
	Action: func(_ *cli.Context) (err error) {
		resolved, err := resolveModel()
		if err != nil {
			return err
		}
		if err := checkModelFiles(resolved); err != nil {
			return err
		}

		session, err := newSession()
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, session.Destroy())
		}()

		pipeline, err := embedref.NewPipeline(session, embedref.EmbeddingConfig{
			ModelPath:    resolved,
			Name:         "e5InstructReference",
			OnnxFilename: onnxFilename,
			Options: []embedref.EmbeddingOption{
				pipelines.WithNormalization(),
			},
		})
		if err != nil {
			return err
		}

		cases := fixtures.InstructCases(instructTask)
		if override, overrideErr := readInputCases(); overrideErr != nil {
			return overrideErr
		} else if override != nil {
			cases = override
		}

		records, err := fixtures.GenerateInstruct(pipeline, cases)
		if err != nil {
			return err
		}

		dest := outputPath
		if dest == "" {
			dest = util.PathJoinSafe(resolved, "e5_large_instruct_reference_embeddings.json")
		}
		if err = fixtures.WriteJSON(dest, records); err != nil {
			return err
		}
		fmt.Printf("wrote %d reference embeddings to %s\n", len(records), dest)
		return err
	},
}

var downloadCommand = &cli.Command{
	Name:  "download",
	Usage: "Download an onnx model from huggingface",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Huggingface model name, e.g. BAAI/bge-m3",
			Aliases:     []string{"p"},
			Destination: &modelPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "modelFolder",
			Usage:       "Folder where to store the downloaded model. Falls back to $HOME/embedref/models if not specified",
			Aliases:     []string{"f"},
			Destination: &modelsDir,
		},
		&cli.StringFlag{
			Name:        "onnxFilename",
			Usage:       "Path of the .onnx file within the repository, for repositories with more than one",
			Destination: &onnxFilename,
		},
	},
	Action: func(_ *cli.Context) (err error) {
		dir, err := resolveModelsDir()
		if err != nil {
			return err
		}
		if err := util.CreateFile(dir, true); err != nil {
			return err
		}
		downloadOptions := embedref.NewDownloadOptions()
		downloadOptions.OnnxFilePath = onnxFilename
		downloadOptions.Verbose = true
		downloaded, err := embedref.DownloadModel(modelPath, dir, downloadOptions)
		if err != nil {
			return err
		}
		fmt.Printf("downloaded %s to %s\n", modelPath, downloaded)
		return nil
	},
}

func main() {
	app := &cli.App{
		Name:     "embedref",
		Usage:    "Generate reference embedding fixtures from onnx embedding models",
		Commands: []*cli.Command{bgeM3Command, e5InstructCommand, downloadCommand},
	}
	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newSession() (*embedref.Session, error) {
	switch backendName {
	case "ort":
		var opts []options.WithOption
		if sharedLibraryPath != "" {
			opts = append(opts, options.WithOnnxLibraryPath(sharedLibraryPath))
		}
		return embedref.NewORTSession(opts...)
	case "go":
		return embedref.NewGoSession()
	default:
		return nil, fmt.Errorf("unknown backend %s, must be ort or go", backendName)
	}
}

func resolveModelsDir() (string, error) {
	if modelsDir != "" {
		return modelsDir, nil
	}
	userDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return util.PathJoinSafe(userDir, "embedref", "models"), nil
}

// resolveModel resolves the --model flag with this chain: first use the provided
// path. If the path does not exist, look for a previously downloaded model with
// this name in the models folder. Finally, try to download the model from
// huggingface and use it.
func resolveModel() (string, error) {
	exists, err := util.FileExists(modelPath)
	if err != nil {
		return "", err
	}
	if exists {
		return modelPath, nil
	}

	dir, err := resolveModelsDir()
	if err != nil {
		return "", err
	}
	downloadedModelName := strings.Replace(modelPath, "/", "_", -1)
	exists, err = util.FileExists(util.PathJoinSafe(dir, downloadedModelName))
	if err != nil {
		return "", err
	}
	if exists {
		return util.PathJoinSafe(dir, downloadedModelName), nil
	}

	if strings.Contains(modelPath, ":") {
		return "", fmt.Errorf("filters with : are currently not supported")
	}
	if err := util.CreateFile(dir, true); err != nil {
		return "", err
	}
	downloadOptions := embedref.NewDownloadOptions()
	downloadOptions.OnnxFilePath = onnxFilename
	return embedref.DownloadModel(modelPath, dir, downloadOptions)
}

// checkModelFiles verifies the files needed for a run exist before any
// session or model state is created, so a missing file fails fast with a
// message naming the path that was checked.
func checkModelFiles(resolved string) error {
	tokenizerPath := util.PathJoinSafe(resolved, "tokenizer.json")
	exists, err := util.FileExists(tokenizerPath)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("tokenizer file not found at %s", tokenizerPath)
	}
	if onnxFilename != "" {
		modelFile := util.PathJoinSafe(resolved, onnxFilename)
		exists, err = util.FileExists(modelFile)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("model file not found at %s", modelFile)
		}
	}
	return nil
}

// readInputTexts returns texts from --input or piped stdin, or nil when the
// built-in corpus should be used. Each jsonl line must be {"input": "text"}.
func readInputTexts() ([]string, error) {
	reader, closer, err := openInput()
	if err != nil || reader == nil {
		return nil, err
	}
	defer closer()

	var texts []string
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		var line struct {
			Input string `json:"input"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return nil, err
		}
		texts = append(texts, line.Input)
	}
	return texts, scanner.Err()
}

// readInputCases returns cases from --input or piped stdin, or nil when the
// built-in cases should be used. Each jsonl line must be
// {"name": "case name", "input": "text"}. The text is encoded as given, so
// query cases must already be wrapped in the instruct template.
func readInputCases() ([]fixtures.Case, error) {
	reader, closer, err := openInput()
	if err != nil || reader == nil {
		return nil, err
	}
	defer closer()

	var cases []fixtures.Case
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		var line struct {
			Name  string `json:"name"`
			Input string `json:"input"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return nil, err
		}
		if line.Name == "" {
			return nil, fmt.Errorf("input line is missing a name: %s", scanner.Text())
		}
		cases = append(cases, fixtures.Case{Name: line.Name, Text: line.Input})
	}
	return cases, scanner.Err()
}

func openInput() (io.Reader, func(), error) {
	if inputPath != "" {
		exists, err := util.FileExists(inputPath)
		if err != nil {
			return nil, nil, err
		}
		if !exists {
			return nil, nil, fmt.Errorf("input file not found at %s", inputPath)
		}
		reader, err := util.OpenFile(inputPath)
		if err != nil {
			return nil, nil, err
		}
		return reader, func() { _ = reader.Close() }, nil
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return os.Stdin, func() {}, nil
	}
	return nil, nil, nil
}

