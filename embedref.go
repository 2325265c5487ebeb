package embedref

import (
	"errors"
	"fmt"
	"slices"

	"github.com/embedref/embedref/backends"
	"github.com/embedref/embedref/options"
	"github.com/embedref/embedref/pipelines"
)

// Session allows for the creation of new pipelines and holds the pipelines already created.
type Session struct {
	embeddingPipelines   pipelineMap[*pipelines.EmbeddingPipeline]
	multiVectorPipelines pipelineMap[*pipelines.MultiVectorPipeline]
	models               map[string]*backends.Model
	options              *options.Options
	environmentDestroy   func() error
}

func newSession(backend string, opts ...options.WithOption) (*Session, error) {
	parsedOptions := options.Defaults()
	parsedOptions.Backend = backend
	// Collect options into a struct, so they can be applied in the correct order later
	for _, option := range opts {
		err := option(parsedOptions)
		if err != nil {
			return nil, err
		}
	}

	session := &Session{
		embeddingPipelines:   map[string]*pipelines.EmbeddingPipeline{},
		multiVectorPipelines: map[string]*pipelines.MultiVectorPipeline{},
		models:               map[string]*backends.Model{},
		options:              parsedOptions,
		environmentDestroy: func() error {
			return nil
		},
	}

	return session, nil
}

type pipelineMap[T backends.Pipeline] map[string]T

func (m pipelineMap[T]) GetStats() []string {
	var stats []string
	for _, p := range m {
		stats = append(stats, p.GetStats()...)
	}
	return stats
}

// EmbeddingConfig is the configuration for a dense embedding pipeline.
type EmbeddingConfig = backends.PipelineConfig[*pipelines.EmbeddingPipeline]

// EmbeddingOption is an option for a dense embedding pipeline.
type EmbeddingOption = backends.PipelineOption[*pipelines.EmbeddingPipeline]

// MultiVectorConfig is the configuration for a multi vector pipeline.
type MultiVectorConfig = backends.PipelineConfig[*pipelines.MultiVectorPipeline]

// MultiVectorOption is an option for a multi vector pipeline.
type MultiVectorOption = backends.PipelineOption[*pipelines.MultiVectorPipeline]

// NewPipeline can be used to create a new pipeline of type T. The initialised pipeline will be returned and it
// will also be stored in the session object so that all created pipelines can be destroyed with session.Destroy()
// at once.
func NewPipeline[T backends.Pipeline](s *Session, pipelineConfig backends.PipelineConfig[T]) (T, error) {
	var pipeline T
	if pipelineConfig.Name == "" {
		return pipeline, errors.New("a name for the pipeline is required")
	}

	_, getError := GetPipeline[T](s, pipelineConfig.Name)
	var notFoundError *pipelineNotFoundError
	if getError == nil {
		return pipeline, fmt.Errorf("pipeline %s has already been initialised", pipelineConfig.Name)
	} else if !errors.As(getError, &notFoundError) {
		return pipeline, getError
	}

	// Load model if it has not been loaded already
	model, ok := s.models[pipelineConfig.ModelPath]

	var err error
	var name string

	if !ok {
		model, err = backends.LoadModel(pipelineConfig.ModelPath, pipelineConfig.OnnxFilename, s.options)
		if err != nil {
			return pipeline, err
		}
		s.models[pipelineConfig.ModelPath] = model
	}

	pipeline, name, err = InitializePipeline(pipeline, pipelineConfig, s.options, model)
	if err != nil {
		return pipeline, err
	}

	switch typedPipeline := any(pipeline).(type) {
	case *pipelines.EmbeddingPipeline:
		s.embeddingPipelines[name] = typedPipeline
	case *pipelines.MultiVectorPipeline:
		s.multiVectorPipelines[name] = typedPipeline
	default:
		return pipeline, fmt.Errorf("pipeline type not supported: %T", typedPipeline)
	}
	return pipeline, nil
}

func InitializePipeline[T backends.Pipeline](p T, pipelineConfig backends.PipelineConfig[T], options *options.Options, model *backends.Model) (T, string, error) {
	var pipeline T
	var name string

	switch any(p).(type) {
	case *pipelines.EmbeddingPipeline:
		config := any(pipelineConfig).(backends.PipelineConfig[*pipelines.EmbeddingPipeline])
		pipelineInitialised, err := pipelines.NewEmbeddingPipeline(config, options, model)
		if err != nil {
			return pipeline, name, err
		}
		pipeline = any(pipelineInitialised).(T)
		name = config.Name
	case *pipelines.MultiVectorPipeline:
		config := any(pipelineConfig).(backends.PipelineConfig[*pipelines.MultiVectorPipeline])
		pipelineInitialised, err := pipelines.NewMultiVectorPipeline(config, options, model)
		if err != nil {
			return pipeline, name, err
		}
		pipeline = any(pipelineInitialised).(T)
		name = config.Name
	default:
		return pipeline, name, fmt.Errorf("not implemented")
	}

	model.Pipelines[name] = pipeline
	return pipeline, name, nil
}

// GetPipeline can be used to retrieve a pipeline of type T with the given name from the session.
func GetPipeline[T backends.Pipeline](s *Session, name string) (T, error) {
	var pipeline T
	switch any(pipeline).(type) {
	case *pipelines.EmbeddingPipeline:
		p, ok := s.embeddingPipelines[name]
		if !ok {
			return pipeline, &pipelineNotFoundError{pipelineName: name}
		}
		return any(p).(T), nil
	case *pipelines.MultiVectorPipeline:
		p, ok := s.multiVectorPipelines[name]
		if !ok {
			return pipeline, &pipelineNotFoundError{pipelineName: name}
		}
		return any(p).(T), nil
	default:
		return pipeline, errors.New("pipeline type not supported")
	}
}

// ClosePipeline removes a pipeline of type T from the session, destroying its
// model once no other pipeline uses it.
func ClosePipeline[T backends.Pipeline](s *Session, name string) error {
	var pipeline T
	switch any(pipeline).(type) {
	case *pipelines.EmbeddingPipeline:
		p, ok := s.embeddingPipelines[name]
		if ok {
			model := p.Model
			delete(s.embeddingPipelines, name)
			delete(model.Pipelines, name)
			if len(model.Pipelines) == 0 {
				delete(s.models, model.Path)
				return model.Destroy()
			}
		}
	case *pipelines.MultiVectorPipeline:
		p, ok := s.multiVectorPipelines[name]
		if ok {
			model := p.Model
			delete(s.multiVectorPipelines, name)
			delete(model.Pipelines, name)
			if len(model.Pipelines) == 0 {
				delete(s.models, model.Path)
				return model.Destroy()
			}
		}
	default:
		return errors.New("pipeline type not supported")
	}
	return nil
}

type pipelineNotFoundError struct {
	pipelineName string
}

func (e *pipelineNotFoundError) Error() string {
	return fmt.Sprintf("Pipeline with name %s not found", e.pipelineName)
}

// GetStats returns runtime statistics for all initialized pipelines for profiling purposes. We currently record for each pipeline:
// the total runtime of the tokenization step
// the number of batch calls to the tokenization step
// the average time per tokenization batch call
// the total runtime of the inference (i.e. onnxruntime) step
// the number of batch calls to the onnxruntime inference
// the average time per onnxruntime inference batch call.
func (s *Session) GetStats() []string {
	return slices.Concat(
		s.embeddingPipelines.GetStats(),
		s.multiVectorPipelines.GetStats(),
	)
}

// Destroy deletes the session and its backend environment and all initialized pipelines, freeing memory.
// A session should be destroyed when not needed any more, preferably with a defer() call.
func (s *Session) Destroy() error {
	var err error
	for _, model := range s.models {
		err = errors.Join(err, model.Destroy())
	}
	s.models = nil
	s.embeddingPipelines = nil
	s.multiVectorPipelines = nil

	if s.options != nil {
		err = errors.Join(err, s.options.Destroy())
		s.options = nil
	}

	err = errors.Join(err, s.environmentDestroy())
	return err
}
