//go:build cgo && (ORT || ALL)

package linspector

import (
	"errors"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/knights-analytics/linspector/options"
	"github.com/knights-analytics/linspector/util/fileutil"
)

// NewORTSession creates a session running models with onnxruntime. Only graph outputs can be probed with it.
func NewORTSession(opts ...options.WithOption) (*Session, error) {
	session, err := newSession(options.RuntimeORT, opts...)
	if err != nil {
		return nil, err
	}
	if ort.IsInitialized() {
		return nil, errors.New("another session is currently active, and only one session can be active at one time")
	}

	if initialised, err := session.initialiseORT(); err != nil {
		if initialised {
			destroyErr := session.options.Destroy()
			envErr := ort.DestroyEnvironment()
			return nil, errors.Join(err, destroyErr, envErr)
		}
		return nil, err
	}
	session.environmentDestroy = func() error {
		return ort.DestroyEnvironment()
	}
	return session, nil
}

func (s *Session) initialiseORT() (bool, error) {
	o := s.options.ORTOptions
	if o.LibraryPath != nil {
		exists, err := fileutil.FileExists(*o.LibraryPath)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, fmt.Errorf("cannot find the ort library at: %s", *o.LibraryPath)
		}
		ort.SetSharedLibraryPath(*o.LibraryPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return false, err
	}

	if o.Telemetry != nil && *o.Telemetry {
		if err := ort.EnableTelemetry(); err != nil {
			return true, err
		}
	} else {
		if err := ort.DisableTelemetry(); err != nil {
			return true, err
		}
	}

	sessionOptions, optionsError := ort.NewSessionOptions()
	if optionsError != nil {
		return true, optionsError
	}
	s.options.RuntimeOptions = sessionOptions
	s.options.Destroy = func() error {
		return sessionOptions.Destroy()
	}

	if o.IntraOpNumThreads != nil {
		if err := sessionOptions.SetIntraOpNumThreads(*o.IntraOpNumThreads); err != nil {
			return true, err
		}
	}
	if o.InterOpNumThreads != nil {
		if err := sessionOptions.SetInterOpNumThreads(*o.InterOpNumThreads); err != nil {
			return true, err
		}
	}
	return true, nil
}
