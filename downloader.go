//go:build !NODOWNLOAD

package linspector

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/phuslu/log"

	"github.com/knights-analytics/linspector/util/fileutil"
)

// DownloadOptions is a struct of options that can be passed to DownloadModel.
type DownloadOptions struct {
	AuthToken             string
	OnnxFilePath          string
	ExternalDataPath      string
	Branch                string
	MaxRetries            int
	RetryInterval         int
	ConcurrentConnections int
	Verbose               bool
}

// NewDownloadOptions creates new DownloadOptions struct with default values.
func NewDownloadOptions() DownloadOptions {
	return DownloadOptions{
		Branch:                "main",
		MaxRetries:            5,
		RetryInterval:         5,
		ConcurrentConnections: 5,
	}
}

// ModelPath is the directory DownloadModel stores modelName in below destination.
func ModelPath(modelName string, destination string) string {
	name, _, _ := strings.Cut(modelName, ":")
	return path.Join(destination, strings.ReplaceAll(name, "/", "_"))
}

// DownloadModel downloads an onnx model with its tokenizer from the huggingface hub and returns the local
// directory it was stored in. The repository must hold a tokenizer.json and exactly one .onnx file unless
// OnnxFilePath picks one.
func DownloadModel(modelName string, destination string, options DownloadOptions) (string, error) {
	modelPath := ModelPath(modelName, destination)

	repo := hub.New(modelName)
	if options.AuthToken != "" {
		repo = repo.WithAuth(options.AuthToken)
	}
	if options.ConcurrentConnections > 0 {
		repo.MaxParallelDownload = options.ConcurrentConnections
	}
	if options.Verbose {
		repo.Verbosity = 1
		repo.WithProgressBar(true)
	} else {
		repo.Verbosity = 0
		repo.WithProgressBar(false)
	}
	if options.Branch != "" {
		repo.WithRevision(options.Branch)
	}
	retries := max(1, options.MaxRetries)

	downloadFiles, err := validateDownloadHfModel(repo, options, retries)
	if err != nil {
		return "", err
	}

	for i := range retries {
		downloadPaths, downloadErr := repo.DownloadFiles(downloadFiles...)
		if downloadErr != nil {
			log.Warn().Err(downloadErr).Int("attempt", i+1).Int("of", retries).Str("model", modelName).Msg("download failed")
			time.Sleep(time.Duration(options.RetryInterval) * time.Second)
			continue
		}

		for j, downloadPath := range downloadPaths {
			truePath, symErr := filepath.EvalSymlinks(downloadPath)
			if symErr != nil {
				return "", symErr
			}
			target := fileutil.PathJoinSafe(modelPath, path.Base(downloadFiles[j]))
			if copyErr := fileutil.CopyFile(context.Background(), truePath, target); copyErr != nil {
				// a partially copied model would be picked up as downloaded
				return "", errors.Join(copyErr, fileutil.DeleteFile(modelPath))
			}
		}
		log.Info().Str("model", modelName).Str("path", modelPath).Msg("download completed")
		return modelPath, nil
	}
	return "", fmt.Errorf("failed to download %s after %d attempts", modelName, retries)
}

func validateDownloadHfModel(repo *hub.Repo, options DownloadOptions, retries int) ([]string, error) {
	for i := range retries {
		err := repo.DownloadInfo(false)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Int("of", retries).Msg("listing repository failed")
		if i+1 == retries {
			return nil, err
		}
		time.Sleep(time.Duration(options.RetryInterval) * time.Second)
	}

	var fileNames []string
	for fileName, err := range repo.IterFileNames() {
		if err != nil {
			return nil, err
		}
		fileNames = append(fileNames, fileName)
	}
	return selectDownloadFiles(fileNames, options.OnnxFilePath, options.ExternalDataPath)
}

// selectDownloadFiles picks the files a model needs for probing: one .onnx file, its tokenizer and the
// configuration files.
func selectDownloadFiles(fileNames []string, onnxFilePath string, externalDataPath string) ([]string, error) {
	tokenizerPath := ""
	onnxPath := ""
	var toDownload []string
	var allOnnx []string
	for _, fileName := range fileNames {
		baseFileName := filepath.Base(fileName)
		switch {
		case baseFileName == "tokenizer.json":
			tokenizerPath = fileName
		case baseFileName == "special_tokens_map.json",
			baseFileName == "tokenizer_config.json",
			baseFileName == "config.json",
			baseFileName == "vocab.txt":
			toDownload = append(toDownload, fileName)
		case filepath.Ext(baseFileName) == ".onnx":
			if onnxFilePath == "" || fileName == onnxFilePath {
				onnxPath = fileName
			}
			allOnnx = append(allOnnx, fileName)
		case externalDataPath != "" && fileName == externalDataPath:
			toDownload = append(toDownload, fileName)
		}
	}

	var errs []error
	if onnxFilePath != "" {
		if onnxPath == "" {
			errs = append(errs, fmt.Errorf("model .onnx file not found at %s", onnxFilePath))
		}
	} else if len(allOnnx) == 0 {
		errs = append(errs, errors.New("model does not have a .onnx file, only onnx models can be probed"))
	} else if len(allOnnx) > 1 {
		errs = append(errs, fmt.Errorf("model has multiple .onnx files, please specify one of the following onnxFilePaths: %s", strings.Join(allOnnx, " ")))
	}
	if tokenizerPath == "" {
		errs = append(errs, errors.New("model does not have a tokenizer.json"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return append(toDownload, onnxPath, tokenizerPath), nil
}
