//go:build !cgo || (!ORT && !ALL)

package backends

import (
	"errors"

	"github.com/knights-analytics/linspector/options"
)

type ORTModel struct {
	Destroy func() error
}

func createORTModelBackend(_ *Model, _ *options.Options) error {
	return errors.New("ORT is not enabled")
}

func captureORT(_ *Model, _ Layer, _ TokenizedInput) ([]float32, []int, error) {
	return nil, nil, errors.New("ORT is not enabled")
}
