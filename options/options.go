package options

import (
	"fmt"
	"runtime"

	"github.com/klauspost/cpuid/v2"

	"github.com/knights-analytics/linspector/util/fileutil"
)

// Runtimes a model can be executed with.
const (
	RuntimeGo  = "GO"
	RuntimeXLA = "XLA"
	RuntimeORT = "ORT"
)

type Options struct {
	// RuntimeOptions holds backend specific session options, e.g. *ort.SessionOptions.
	RuntimeOptions any
	ORTOptions     *OrtOptions
	GoMLXOptions   *GoMLXOptions
	Destroy        func() error
	Backend        string
}

type OrtOptions struct {
	LibraryPath       *string
	Telemetry         *bool
	IntraOpNumThreads *int
	InterOpNumThreads *int
}

type GoMLXOptions struct {
	Cuda bool
	XLA  bool
}

func Defaults() *Options {
	libraryPathDefault := getDefaultLibraryPath()
	return &Options{
		Backend: RuntimeGo,
		ORTOptions: &OrtOptions{
			LibraryPath: &libraryPathDefault,
		},
		GoMLXOptions: &GoMLXOptions{},
		Destroy: func() error {
			return nil
		},
	}
}

// New collects the options for the given backend. Options are applied in order and the first
// failing option aborts.
func New(backend string, opts ...WithOption) (*Options, error) {
	parsed := Defaults()
	switch backend {
	case RuntimeGo, RuntimeORT:
	case RuntimeXLA:
		parsed.GoMLXOptions.XLA = true
	default:
		return nil, fmt.Errorf("runtime %s is not supported, use one of %s, %s, %s", backend, RuntimeGo, RuntimeXLA, RuntimeORT)
	}
	parsed.Backend = backend
	for _, opt := range opts {
		if err := opt(parsed); err != nil {
			return nil, err
		}
	}
	if backend == RuntimeORT {
		setDefaultThreads(parsed.ORTOptions)
	}
	return parsed, nil
}

// setDefaultThreads pins onnxruntime to the physical cores when the user did not say otherwise.
// Probing runs one token at a time, so oversubscribing hyperthreads only adds contention.
func setDefaultThreads(o *OrtOptions) {
	cores := cpuid.CPU.PhysicalCores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	if o.IntraOpNumThreads == nil {
		o.IntraOpNumThreads = &cores
	}
	if o.InterOpNumThreads == nil {
		one := 1
		o.InterOpNumThreads = &one
	}
}

func getDefaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return `.\onnxruntime.dll`
	case "darwin":
		return "/usr/local/lib/libonnxruntime.dylib"
	default:
		return "/usr/lib/libonnxruntime.so"
	}
}

// WithOption is the interface for all option functions.
type WithOption func(o *Options) error

// WithOnnxLibraryPath (ORT only) Use this function to set the path to the "libonnxruntime.so", "libonnxruntime.dylib"
// or "onnxruntime.dll" file.
func WithOnnxLibraryPath(ortLibraryPath string) WithOption {
	return func(o *Options) error {
		if o.Backend != RuntimeORT {
			return fmt.Errorf("WithOnnxLibraryPath is only supported for ORT backend")
		}
		exists, err := fileutil.FileExists(ortLibraryPath)
		if err != nil {
			return fmt.Errorf("failed to access ONNX Runtime library path %q: %w", ortLibraryPath, err)
		}
		if !exists {
			return fmt.Errorf("ONNX Runtime library does not exist at %q", ortLibraryPath)
		}
		o.ORTOptions.LibraryPath = &ortLibraryPath
		return nil
	}
}

// WithTelemetry (ORT only) Enables telemetry events for the onnxruntime environment. Default is off.
func WithTelemetry() WithOption {
	return func(o *Options) error {
		if o.Backend != RuntimeORT {
			return fmt.Errorf("WithTelemetry is only supported for ORT backend")
		}
		enabled := true
		o.ORTOptions.Telemetry = &enabled
		return nil
	}
}

// WithIntraOpNumThreads (ORT only) Sets the number of threads used to parallelize execution within onnxruntime
// graph nodes. If unspecified, the number of physical CPU cores is used.
func WithIntraOpNumThreads(numThreads int) WithOption {
	return func(o *Options) error {
		if o.Backend != RuntimeORT {
			return fmt.Errorf("WithIntraOpNumThreads is only supported for ORT backend")
		}
		o.ORTOptions.IntraOpNumThreads = &numThreads
		return nil
	}
}

// WithInterOpNumThreads (ORT only) Sets the number of threads used to parallelize execution across separate
// onnxruntime graph nodes. Defaults to 1.
func WithInterOpNumThreads(numThreads int) WithOption {
	return func(o *Options) error {
		if o.Backend != RuntimeORT {
			return fmt.Errorf("WithInterOpNumThreads is only supported for ORT backend")
		}
		o.ORTOptions.InterOpNumThreads = &numThreads
		return nil
	}
}

// WithCuda runs the model on the GPU. Only the XLA backend supports it here.
func WithCuda() WithOption {
	return func(o *Options) error {
		if o.Backend != RuntimeXLA {
			return fmt.Errorf("WithCuda is only supported for XLA backend")
		}
		o.GoMLXOptions.Cuda = true
		return nil
	}
}
