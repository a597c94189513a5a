package linspector

import (
	"errors"
	"fmt"

	"github.com/phuslu/log"

	"github.com/knights-analytics/linspector/backends"
	"github.com/knights-analytics/linspector/options"
)

// Session owns the runtime environment and the models loaded with it.
type Session struct {
	models             map[string]*backends.Model
	options            *options.Options
	environmentDestroy func() error
}

func newSession(backend string, opts ...options.WithOption) (*Session, error) {
	parsedOptions, err := options.New(backend, opts...)
	if err != nil {
		return nil, err
	}
	return &Session{
		models:  map[string]*backends.Model{},
		options: parsedOptions,
		environmentDestroy: func() error {
			return nil
		},
	}, nil
}

// NewGoSession creates a session running models with the pure Go gomlx backend. It is always available.
func NewGoSession(opts ...options.WithOption) (*Session, error) {
	return newSession(options.RuntimeGo, opts...)
}

// Runtime returns the runtime models of this session are executed with.
func (s *Session) Runtime() string {
	return s.options.Backend
}

// LoadArchiveModel loads the onnx model in modelPath, together with its tokenizer, as an embedding source.
// onnxFilename selects the model file when the directory holds more than one. Models are cached per path and
// destroyed with the session.
func (s *Session) LoadArchiveModel(modelPath string, onnxFilename string) (*ArchiveModel, error) {
	key := modelPath + "|" + onnxFilename
	model, ok := s.models[key]
	if !ok {
		var err error
		model, err = backends.LoadModel(modelPath, onnxFilename, s.options)
		if err != nil {
			return nil, fmt.Errorf("loading model %s: %w", modelPath, err)
		}
		s.models[key] = model
		log.Info().Str("model", modelPath).Str("runtime", s.options.Backend).Int("layers", len(model.Layers)).Msg("model loaded")
	}
	return newArchiveModel(model), nil
}

// Destroy releases all loaded models and the runtime environment.
func (s *Session) Destroy() error {
	var errs []error
	for key, model := range s.models {
		errs = append(errs, model.Destroy())
		delete(s.models, key)
	}
	errs = append(errs, s.options.Destroy(), s.environmentDestroy())
	return errors.Join(errs...)
}
