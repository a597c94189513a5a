package embeddings

import (
	"bufio"
	"io"
	"strconv"
)

// Writer writes "token v1 ... vN" lines.
type Writer struct {
	w *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteVector writes token followed by the shortest decimal representation of each value.
func (w *Writer) WriteVector(token string, vector []float32) error {
	if _, err := w.w.WriteString(token); err != nil {
		return err
	}
	var buf []byte
	for _, v := range vector {
		buf = append(buf[:0], ' ')
		buf = strconv.AppendFloat(buf, float64(v), 'g', -1, 32)
		if _, err := w.w.Write(buf); err != nil {
			return err
		}
	}
	return w.w.WriteByte('\n')
}

// WriteFields writes token followed by already formatted values.
func (w *Writer) WriteFields(token string, values []string) error {
	if _, err := w.w.WriteString(token); err != nil {
		return err
	}
	for _, v := range values {
		if err := w.w.WriteByte(' '); err != nil {
			return err
		}
		if _, err := w.w.WriteString(v); err != nil {
			return err
		}
	}
	return w.w.WriteByte('\n')
}

func (w *Writer) Flush() error {
	return w.w.Flush()
}
