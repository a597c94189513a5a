//go:build XLA || ALL

package linspector

import (
	"github.com/knights-analytics/linspector/options"
)

// NewXLASession creates a session running models with the XLA gomlx backend, on the GPU with options.WithCuda.
func NewXLASession(opts ...options.WithOption) (*Session, error) {
	return newSession(options.RuntimeXLA, opts...)
}
