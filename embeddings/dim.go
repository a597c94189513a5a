// Package embeddings reads, filters and writes plain text embedding files of the form
//
//	katapultiert 0.019 -0.29 -0.34 0.076 ...
//	rutsch 0.019 -0.29 -0.34 0.076 ...
//
// and turns them into frozen embedding matrices for a vocabulary.
package embeddings

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/knights-analytics/linspector/util/fileutil"
)

// ErrNoEmbeddings is returned when a file holds no usable vectors.
var ErrNoEmbeddings = errors.New("no usable embeddings")

// InferDim returns the embedding dimension of a text embeddings stream. For every line the first field
// is the token; the vector starts at the first following field that parses as a number, anything in
// between is an artefact of the token (e.g. a multi word token). The dimension is the longest such
// vector over all lines, 0 if there is none.
func InferDim(r io.Reader) (int, error) {
	dim := 0
	reader := bufio.NewReader(r)
	for {
		line, err := fileutil.ReadLine(reader)
		if err == io.EOF {
			return dim, nil
		}
		if err != nil {
			return 0, err
		}
		dim = max(dim, lineDim(strings.Fields(string(line))))
	}
}

func lineDim(fields []string) int {
	for idx := 1; idx < len(fields); idx++ {
		if _, err := strconv.ParseFloat(fields[idx], 64); err == nil {
			return len(fields) - idx
		}
	}
	return 0
}

// InferDimFile is InferDim over a local path or s3:// URL.
func InferDimFile(path string) (dim int, err error) {
	source, err := fileutil.OpenFile(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = errors.Join(err, fileutil.CloseFile(source))
	}()
	return InferDim(source)
}
