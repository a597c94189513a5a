package embeddings

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/knights-analytics/linspector/util/fileutil"
	"github.com/knights-analytics/linspector/vocab"
)

// Matrix is a dense row major embedding table, one row per vocabulary token index.
type Matrix struct {
	Rows int
	Dim  int
	Data []float32
}

func NewMatrix(rows, dim int) *Matrix {
	return &Matrix{Rows: rows, Dim: dim, Data: make([]float32, rows*dim)}
}

// Row returns a view on row i.
func (m *Matrix) Row(i int) []float32 {
	return m.Data[i*m.Dim : (i+1)*m.Dim]
}

// LoadMatrix builds the frozen embedding table for v from a normalized embeddings stream. Rows of tokens
// found in the stream hold their pretrained vector, the first occurrence wins. The padding row is zero.
// All other rows are drawn from a normal distribution with the mean and standard deviation of the
// pretrained values, so unknown tokens look like plausible vectors instead of outliers.
// Lines whose vector does not have dim values are ignored. found is the number of tokens with a
// pretrained vector.
func LoadMatrix(r io.Reader, dim int, v *vocab.Vocabulary, seed uint64) (m *Matrix, found int, err error) {
	if dim <= 0 {
		return nil, 0, fmt.Errorf("%w: embedding dimension must be positive, got %d", ErrNoEmbeddings, dim)
	}
	m = NewMatrix(v.TokenSize(), dim)
	loaded := make([]bool, v.TokenSize())
	reader := bufio.NewReader(r)
	for {
		line, readErr := fileutil.ReadLine(reader)
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, 0, readErr
		}
		fields := strings.Fields(string(line))
		if len(fields) != dim+1 {
			continue
		}
		index := v.TokenIndex(fields[0])
		if index <= vocab.OOVIndex || loaded[index] {
			continue
		}
		row := m.Row(index)
		if !parseVector(fields[1:], row) {
			clear(row)
			continue
		}
		loaded[index] = true
		found++
	}
	if found == 0 {
		return nil, 0, fmt.Errorf("%w: none of the %d vocabulary tokens has a pretrained vector", ErrNoEmbeddings, len(v.Tokens()))
	}

	values := make([]float64, 0, found*dim)
	for i, ok := range loaded {
		if ok {
			for _, x := range m.Row(i) {
				values = append(values, float64(x))
			}
		}
	}
	mean, std := stat.MeanStdDev(values, nil)
	if math.IsNaN(std) {
		std = 0
	}

	random := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for i := range loaded {
		if loaded[i] || i == vocab.PaddingIndex {
			continue
		}
		row := m.Row(i)
		for j := range row {
			row[j] = float32(random.NormFloat64()*std + mean)
		}
	}
	return m, found, nil
}

func parseVector(fields []string, row []float32) bool {
	for j, field := range fields {
		value, err := strconv.ParseFloat(field, 32)
		if err != nil {
			return false
		}
		row[j] = float32(value)
	}
	return true
}

// LoadMatrixFile is LoadMatrix over a local path or s3:// URL.
func LoadMatrixFile(path string, dim int, v *vocab.Vocabulary, seed uint64) (m *Matrix, found int, err error) {
	source, err := fileutil.OpenFile(path)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		err = errors.Join(err, fileutil.CloseFile(source))
	}()
	return LoadMatrix(source, dim, v, seed)
}
