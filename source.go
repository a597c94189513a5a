package linspector

import (
	"context"
	"errors"
	"fmt"

	"github.com/knights-analytics/linspector/backends"
	"github.com/knights-analytics/linspector/embeddings"
	"github.com/knights-analytics/linspector/intrinsic"
	"github.com/knights-analytics/linspector/util/fileutil"
)

// EmbeddingRequest describes the embeddings a probing run needs.
type EmbeddingRequest struct {
	Language  Language
	Task      ProbingTask
	MediaRoot string
	// Progress receives values in [0.02, 0.5], the last one exactly 0.5. May be nil.
	Progress ProgressFunc
}

// EmbeddingSource writes the embeddings of a probing run to a temporary file in the `token v1 ... vN` text
// format. The caller owns the returned file and removes it. skipped counts the tokens left out.
type EmbeddingSource interface {
	Embeddings(ctx context.Context, req EmbeddingRequest) (path string, skipped int, err error)
}

// StaticEmbeddings is a pretrained embeddings file. Lines with non alphabetic tokens or a vector of the wrong
// length are dropped and tokens are lowercased.
type StaticEmbeddings struct {
	Path string
}

func (s StaticEmbeddings) Embeddings(ctx context.Context, req EmbeddingRequest) (string, int, error) {
	path, err := embeddings.NormalizeFile(ctx, s.Path, req.Progress)
	return path, 0, err
}

// ArchiveModel extracts embeddings from one layer of an onnx model: the input of the selected layer, captured
// while the model runs on a single token, is that token's vector.
type ArchiveModel struct {
	model *backends.Model
	layer backends.Layer
}

func newArchiveModel(model *backends.Model) *ArchiveModel {
	return &ArchiveModel{model: model, layer: model.Layers[0]}
}

// Layers lists the layers that can be probed, in graph order followed by the graph outputs.
func (a *ArchiveModel) Layers() []backends.Layer {
	return a.model.Layers
}

// Layer returns the selected layer, the first of Layers unless SetLayer was called.
func (a *ArchiveModel) Layer() backends.Layer {
	return a.layer
}

// SetLayer selects the layer to probe by name. Returns backends.ErrLayerNotFound for unknown names.
func (a *ArchiveModel) SetLayer(name string) error {
	layer, err := backends.FindLayer(a.model.Layers, name)
	if err != nil {
		return err
	}
	a.layer = layer
	return nil
}

func (a *ArchiveModel) Embeddings(ctx context.Context, req EmbeddingRequest) (path string, skipped int, err error) {
	tokens, err := intrinsic.ReadVocabulary(intrinsic.BasePath(req.MediaRoot, req.Task, req.Language), req.Task.Contrastive)
	if err != nil {
		return "", 0, err
	}

	file, err := fileutil.TempFile(".vec")
	if err != nil {
		return "", 0, err
	}
	path = file.Name()
	defer func() {
		err = errors.Join(err, file.Close())
		if err != nil {
			err = errors.Join(err, fileutil.RemoveTemp(path))
			path = ""
		}
	}()

	writer := embeddings.NewWriter(file)
	throttle := embeddings.NewThrottle(len(tokens), req.Progress)
	written := 0
	for i, token := range tokens {
		if err = ctx.Err(); err != nil {
			return path, skipped, err
		}
		throttle.Step(i)
		vector, captureErr := a.model.Capture(a.layer, token)
		if errors.Is(captureErr, backends.ErrInvalidCapture) {
			skipped++
			continue
		}
		if captureErr != nil {
			return path, skipped, fmt.Errorf("capturing %s for %q: %w", a.layer.Name, token, captureErr)
		}
		if err = writer.WriteVector(token, vector); err != nil {
			return path, skipped, err
		}
		written++
	}
	if err = writer.Flush(); err != nil {
		return path, skipped, err
	}
	throttle.Done()
	if written == 0 {
		return path, skipped, fmt.Errorf("%w: no token of %d could be captured at %s", embeddings.ErrNoEmbeddings, len(tokens), a.layer.Description)
	}
	return path, skipped, nil
}
