package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-isatty"
	"github.com/phuslu/log"
	"github.com/urfave/cli/v2"

	"github.com/knights-analytics/linspector"
	"github.com/knights-analytics/linspector/config"
	"github.com/knights-analytics/linspector/embeddings"
	"github.com/knights-analytics/linspector/options"
	"github.com/knights-analytics/linspector/util/fileutil"
)

var (
	configPath        string
	envFile           string
	language          string
	task              string
	contrastive       bool
	mediaRoot         string
	embeddingsPath    string
	modelPath         string
	onnxFilename      string
	layerName         string
	runtimeName       string
	classifierKind    string
	epochs            int
	patience          int
	batchSize         int
	seed              uint64
	verbose           bool
	outputPath        string
	sharedLibraryPath string
	modelsDir         string
	destination       string
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var modelFlags = []cli.Flag{
	&cli.StringFlag{
		Name:        "model",
		Usage:       "Path to a model folder, or the huggingface name of a model to download",
		Aliases:     []string{"m"},
		Destination: &modelPath,
	},
	&cli.StringFlag{
		Name:        "onnxFilename",
		Usage:       "Name of the .onnx file when the model folder holds more than one",
		Destination: &onnxFilename,
	},
	&cli.StringFlag{
		Name:        "runtime",
		Usage:       "Runtime to execute the model with: GO, XLA or ORT",
		Aliases:     []string{"r"},
		Destination: &runtimeName,
		Value:       options.RuntimeGo,
	},
	&cli.StringFlag{
		Name:        "onnxruntimeSharedLibrary",
		Usage:       "Path to onnxruntime.so (ORT only)",
		Aliases:     []string{"s"},
		Destination: &sharedLibraryPath,
	},
	&cli.StringFlag{
		Name:        "modelFolder",
		Usage:       "Folder where to store downloaded models. Falls back to $HOME/linspector/models if not specified",
		Aliases:     []string{"f"},
		Destination: &modelsDir,
	},
}

var probeCommand = &cli.Command{
	Name:  "probe",
	Usage: "Probe embeddings for a linguistic property",
	Description: `Probe trains a classifier on frozen embeddings against the intrinsic data of a task and prints its test metrics as json.
The embeddings come either from a static embeddings file (--embeddings) or from a layer of an onnx model (--model, --layer).
Flags override the values of the --config file.`,
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML probe configuration", Destination: &configPath},
		&cli.StringFlag{Name: "env", Usage: ".env file to load before reading the configuration", Destination: &envFile},
		&cli.StringFlag{Name: "language", Aliases: []string{"l"}, Usage: "Language code, e.g. de", Destination: &language},
		&cli.StringFlag{Name: "task", Aliases: []string{"t"}, Usage: "Probing task, e.g. \"case marking\"", Destination: &task},
		&cli.BoolFlag{Name: "contrastive", Usage: "The task classifies pairs of tokens", Destination: &contrastive},
		&cli.StringFlag{Name: "mediaRoot", Usage: "Folder or s3:// URL holding intrinsic_data, defaults to $" + linspector.MediaRootEnv, Destination: &mediaRoot},
		&cli.StringFlag{Name: "embeddings", Aliases: []string{"e"}, Usage: "Static embeddings file", Destination: &embeddingsPath},
		&cli.StringFlag{Name: "layer", Usage: "Name of the model layer to probe, see the layers command", Destination: &layerName},
		&cli.StringFlag{Name: "classifier", Usage: "Probe architecture: linear or mlp", Destination: &classifierKind},
		&cli.IntFlag{Name: "epochs", Usage: "Maximum number of training epochs", Destination: &epochs},
		&cli.IntFlag{Name: "patience", Usage: "Epochs without improvement before training stops", Destination: &patience},
		&cli.IntFlag{Name: "batchSize", Aliases: []string{"b"}, Usage: "Training batch size", Destination: &batchSize},
		&cli.Uint64Flag{Name: "seed", Usage: "Random seed", Destination: &seed},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Print training progress", Destination: &verbose},
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write the metrics to this file instead of stdout", Destination: &outputPath},
	}, modelFlags...),
	Action: func(c *cli.Context) (err error) {
		probe, err := probeConfig(c)
		if err != nil {
			return err
		}
		lang, probingTask := probe.LanguageAndTask()

		var source linspector.EmbeddingSource
		var session *linspector.Session
		if probe.Model != "" {
			var archive *linspector.ArchiveModel
			session, archive, err = loadArchiveModel(c.Context, probe.Model, probe.OnnxFilename, probe.Runtime)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, session.Destroy())
			}()
			if probe.Layer != "" {
				if err = archive.SetLayer(probe.Layer); err != nil {
					return fmt.Errorf("%w: %s, see `linspector layers --model %s`", err, probe.Layer, probe.Model)
				}
			}
			source = archive
		} else {
			source = linspector.StaticEmbeddings{Path: probe.Embeddings}
		}

		l, err := linspector.New(lang, probingTask, source, probe.Options()...)
		if err != nil {
			return err
		}
		bar := newProgressBar(c.App.ErrWriter)
		if bar != nil {
			l.Subscribe(bar.update)
		}
		metrics, err := l.Probe(c.Context)
		if bar != nil {
			bar.finish()
		}
		if err != nil {
			return err
		}
		if isTerminal(c.App.ErrWriter) {
			_, _ = fmt.Fprintln(c.App.ErrWriter, summary(lang, probingTask, metrics))
		}
		return writeMetrics(c.App.Writer, c.String("output"), metrics)
	},
}

// probeConfig merges the --config file with the flags set on the command line.
func probeConfig(c *cli.Context) (*config.Probe, error) {
	if envFile != "" {
		if err := config.LoadEnv(envFile); err != nil {
			return nil, err
		}
	} else if err := config.LoadEnv(); err != nil {
		return nil, err
	}

	probe := &config.Probe{}
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		probe = loaded
	}
	setString := func(flag string, target *string, value string) {
		if c.IsSet(flag) {
			*target = value
		}
	}
	setString("language", &probe.Language, language)
	setString("task", &probe.Task, task)
	setString("mediaRoot", &probe.MediaRoot, mediaRoot)
	setString("classifier", &probe.Classifier, classifierKind)
	setString("onnxFilename", &probe.OnnxFilename, onnxFilename)
	setString("layer", &probe.Layer, layerName)
	if c.IsSet("embeddings") {
		probe.Embeddings, probe.Model = embeddingsPath, ""
	}
	if c.IsSet("model") {
		probe.Model, probe.Embeddings = modelPath, ""
	}
	resolveRuntime(probe, c.IsSet("runtime"), runtimeName)
	if c.IsSet("contrastive") {
		probe.Contrastive = contrastive
	}
	if c.IsSet("epochs") {
		probe.Epochs = epochs
	}
	if c.IsSet("patience") {
		probe.Patience = patience
	}
	if c.IsSet("batchSize") {
		probe.BatchSize = batchSize
	}
	if c.IsSet("seed") {
		probe.Seed = &seed
	}
	if c.IsSet("verbose") {
		probe.Verbose = verbose
	}
	if probe.MediaRoot == "" {
		probe.MediaRoot = os.Getenv(linspector.MediaRootEnv)
	}
	if probe.Language == "" || probe.Task == "" {
		return nil, errors.New("a language and a task are required, with --language and --task or in --config")
	}
	if err := probe.Validate(); err != nil {
		return nil, err
	}
	return probe, nil
}

// resolveRuntime keeps a runtime only for model runs, where the --runtime flag wins over the file and its
// default fills an empty value.
func resolveRuntime(probe *config.Probe, flagSet bool, flagValue string) {
	if probe.Model == "" {
		probe.Runtime = ""
		return
	}
	if flagSet || probe.Runtime == "" {
		probe.Runtime = flagValue
	}
}

var layersCommand = &cli.Command{
	Name:  "layers",
	Usage: "List the layers of a model that can be probed",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{Name: "json", Usage: "Print the layers as json"},
	}, modelFlags...),
	Action: func(c *cli.Context) (err error) {
		if modelPath == "" {
			return errors.New("--model is required")
		}
		session, archive, err := loadArchiveModel(c.Context, modelPath, onnxFilename, runtimeName)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, session.Destroy())
		}()
		if c.Bool("json") {
			encoded, marshalErr := json.MarshalIndent(archive.Layers(), "", "  ")
			if marshalErr != nil {
				return marshalErr
			}
			_, err = fmt.Fprintln(c.App.Writer, string(encoded))
			return err
		}
		for _, layer := range archive.Layers() {
			if _, err = fmt.Fprintf(c.App.Writer, "%s\t%s\t%d\n", layer.Name, layer.Description, layer.InputDim); err != nil {
				return err
			}
		}
		return nil
	},
}

var dimCommand = &cli.Command{
	Name:  "dim",
	Usage: "Print the dimension of a static embeddings file",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "embeddings", Aliases: []string{"e"}, Required: true, Destination: &embeddingsPath},
	},
	Action: func(c *cli.Context) error {
		dim, err := embeddings.InferDimFile(embeddingsPath)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(c.App.Writer, dim)
		return err
	},
}

var downloadCommand = &cli.Command{
	Name:  "download",
	Usage: "Download an onnx model with its tokenizer from huggingface",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Required: true, Destination: &modelPath},
		&cli.StringFlag{Name: "dest", Aliases: []string{"d"}, Usage: "Destination folder", Value: "./models", Destination: &destination},
		&cli.StringFlag{Name: "onnxFilename", Usage: "Path of the .onnx file in the repository", Destination: &onnxFilename},
	},
	Action: func(c *cli.Context) error {
		downloadOptions := linspector.NewDownloadOptions()
		downloadOptions.OnnxFilePath = onnxFilename
		downloadOptions.AuthToken = os.Getenv("HF_TOKEN")
		downloadOptions.Verbose = isTerminal(c.App.ErrWriter)
		path, err := linspector.DownloadModel(modelPath, destination, downloadOptions)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(c.App.Writer, path)
		return err
	},
}

func newSession(runtime string) (*linspector.Session, error) {
	switch strings.ToUpper(runtime) {
	case options.RuntimeGo:
		return linspector.NewGoSession()
	case options.RuntimeXLA:
		return linspector.NewXLASession()
	case options.RuntimeORT:
		var opts []options.WithOption
		if sharedLibraryPath != "" {
			opts = append(opts, options.WithOnnxLibraryPath(sharedLibraryPath))
		}
		return linspector.NewORTSession(opts...)
	}
	return nil, fmt.Errorf("runtime %s is not supported, use one of %s, %s, %s", runtime, options.RuntimeGo, options.RuntimeXLA, options.RuntimeORT)
}

func loadArchiveModel(ctx context.Context, model string, onnxFile string, runtime string) (*linspector.Session, *linspector.ArchiveModel, error) {
	path, err := resolveModel(ctx, model, onnxFile)
	if err != nil {
		return nil, nil, err
	}
	session, err := newSession(runtime)
	if err != nil {
		return nil, nil, err
	}
	archive, err := session.LoadArchiveModel(path, onnxFile)
	if err != nil {
		return nil, nil, errors.Join(err, session.Destroy())
	}
	return session, archive, nil
}

// resolveModel looks for the model at the given path first, then for a model of that name previously downloaded
// to the models folder, and finally downloads it from huggingface.
func resolveModel(ctx context.Context, model string, onnxFile string) (string, error) {
	ok, err := fileutil.FileExists(model)
	if err != nil {
		return "", err
	}
	if ok {
		return model, nil
	}
	if modelsDir == "" {
		userDir, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return "", homeErr
		}
		modelsDir = fileutil.PathJoinSafe(userDir, "linspector", "models")
	}
	downloaded := linspector.ModelPath(model, modelsDir)
	if ok, err = fileutil.FileExists(downloaded); err != nil {
		return "", err
	}
	if ok {
		return downloaded, nil
	}
	if err = ctx.Err(); err != nil {
		return "", err
	}
	log.Info().Str("model", model).Str("folder", modelsDir).Msg("model not found locally, downloading")
	if err = fileutil.CreateFile(modelsDir, true); err != nil {
		return "", err
	}
	downloadOptions := linspector.NewDownloadOptions()
	downloadOptions.AuthToken = os.Getenv("HF_TOKEN")
	downloadOptions.OnnxFilePath = onnxFile
	return linspector.DownloadModel(model, modelsDir, downloadOptions)
}

func writeMetrics(stdout io.Writer, outputPath string, metrics *linspector.Metrics) (err error) {
	encoded, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return err
	}
	if outputPath == "" {
		_, err = fmt.Fprintln(stdout, string(encoded))
		return err
	}
	file, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()
	_, err = file.Write(append(encoded, '\n'))
	return err
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "linspector",
		Usage:     "Probe word and contextual embeddings for linguistic properties",
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
		Commands:  []*cli.Command{probeCommand, layersCommand, dimCommand, downloadCommand},
	}
}

func setupLogging(w io.Writer) {
	log.DefaultLogger.Level = log.InfoLevel
	if isTerminal(w) {
		log.DefaultLogger.Writer = &log.ConsoleWriter{ColorOutput: true, Writer: w}
	} else {
		log.DefaultLogger.Writer = &log.IOWriter{Writer: w}
	}
}

func main() {
	setupLogging(os.Stderr)
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("linspector failed")
	}
}
