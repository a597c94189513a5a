// Package config reads probe configurations from YAML files and .env files.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/knights-analytics/linspector"
	"github.com/knights-analytics/linspector/options"
	"github.com/knights-analytics/linspector/util/fileutil"
)

//go:embed schema.json
var schemaJSON []byte

var schema = jsonschema.MustCompileString("schema.json", string(schemaJSON))

// Probe configures one probing run. Exactly one of Embeddings and Model is set.
type Probe struct {
	Language     string   `yaml:"language"`
	LanguageName string   `yaml:"language_name,omitempty"`
	Task         string   `yaml:"task"`
	Contrastive  bool     `yaml:"contrastive,omitempty"`
	MediaRoot    string   `yaml:"media_root,omitempty"`
	Classifier   string   `yaml:"classifier,omitempty"`
	Dropout      *float64 `yaml:"dropout,omitempty"`

	// Embeddings is a static embeddings file.
	Embeddings string `yaml:"embeddings,omitempty"`
	// Model is a directory holding an onnx model and its tokenizer.json.
	Model        string `yaml:"model,omitempty"`
	OnnxFilename string `yaml:"onnx_filename,omitempty"`
	Layer        string `yaml:"layer,omitempty"`
	Runtime      string `yaml:"runtime,omitempty"`

	TrainingBackend string   `yaml:"training_backend,omitempty"`
	Epochs          int      `yaml:"epochs,omitempty"`
	Patience        int      `yaml:"patience,omitempty"`
	BatchSize       int      `yaml:"batch_size,omitempty"`
	LearningRate    float64  `yaml:"learning_rate,omitempty"`
	StepClipping    *float64 `yaml:"step_clipping,omitempty"`
	Seed            *uint64  `yaml:"seed,omitempty"`
	Verbose         bool     `yaml:"verbose,omitempty"`
}

// LoadEnv loads .env files into the environment without overriding variables that are already set. Without
// arguments ./.env is loaded if it exists.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		err := godotenv.Load()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(files...)
}

// Load reads and validates the YAML probe configuration at path, a local path or an s3:// URL.
func Load(path string) (*Probe, error) {
	data, err := fileutil.ReadFileBytes(path)
	if err != nil {
		return nil, err
	}
	probe, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return probe, nil
}

// Parse validates a YAML probe configuration against the schema and applies defaults.
func Parse(data []byte) (*Probe, error) {
	var document any
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, err
	}
	if err := validateSchema(document); err != nil {
		return nil, err
	}
	probe := &Probe{}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(probe); err != nil {
		return nil, err
	}
	probe.applyDefaults()
	if err := probe.Validate(); err != nil {
		return nil, err
	}
	return probe, nil
}

// validateSchema checks a decoded YAML document. YAML values are converted to their JSON counterparts first.
func validateSchema(document any) error {
	if document == nil {
		return errors.New("empty configuration")
	}
	jsonAPI := jsoniter.ConfigCompatibleWithStandardLibrary
	raw, err := jsonAPI.Marshal(document)
	if err != nil {
		return fmt.Errorf("configuration is not representable as json: %w", err)
	}
	var jsonDocument any
	if err = jsonAPI.Unmarshal(raw, &jsonDocument); err != nil {
		return err
	}
	return schema.Validate(jsonDocument)
}

func (p *Probe) applyDefaults() {
	if p.MediaRoot == "" {
		p.MediaRoot = os.Getenv(linspector.MediaRootEnv)
	}
	if p.Model != "" && p.Runtime == "" {
		p.Runtime = options.RuntimeGo
	}
}

// Validate checks constraints that involve the environment or more than one field.
func (p *Probe) Validate() error {
	if p.MediaRoot == "" {
		return fmt.Errorf("media_root is not set and %s is empty", linspector.MediaRootEnv)
	}
	if (p.Embeddings == "") == (p.Model == "") {
		return errors.New("exactly one of embeddings and model must be set")
	}
	return nil
}

func (p *Probe) LanguageAndTask() (linspector.Language, linspector.ProbingTask) {
	return linspector.Language{Code: p.Language, Name: p.LanguageName},
		linspector.ProbingTask{Name: p.Task, Contrastive: p.Contrastive}
}

// Options turns the training settings into probe options. Unset values keep the library defaults.
func (p *Probe) Options() []linspector.ProbeOption {
	opts := []linspector.ProbeOption{linspector.WithMediaRoot(p.MediaRoot)}
	if p.Classifier != "" {
		opts = append(opts, linspector.WithClassifier(p.Classifier))
	}
	if p.Dropout != nil {
		opts = append(opts, linspector.WithDropout(*p.Dropout))
	}
	if p.TrainingBackend != "" {
		opts = append(opts, linspector.WithTrainingBackend(p.TrainingBackend))
	}
	if p.Epochs > 0 {
		opts = append(opts, linspector.WithEpochs(p.Epochs))
	}
	if p.Patience > 0 {
		opts = append(opts, linspector.WithPatience(p.Patience))
	}
	if p.BatchSize > 0 {
		opts = append(opts, linspector.WithBatchSize(p.BatchSize))
	}
	if p.LearningRate > 0 {
		opts = append(opts, linspector.WithLearningRate(p.LearningRate))
	}
	if p.StepClipping != nil {
		opts = append(opts, linspector.WithStepClipping(*p.StepClipping))
	}
	if p.Seed != nil {
		opts = append(opts, linspector.WithSeed(*p.Seed))
	}
	if p.Verbose {
		opts = append(opts, linspector.WithVerbose())
	}
	return opts
}
