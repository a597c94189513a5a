package embeddings

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/knights-analytics/linspector/util/fileutil"
)

// Normalize rewrites an embeddings stream into the normalized form used for probing. Lines whose field
// count differs from dim+1 are dropped, tokens are lowercased and dropped unless alphabetic, invalid UTF-8
// is replaced with U+FFFD first. total is the number of lines in src and drives progress reporting.
// Normalize returns the number of lines written.
func Normalize(ctx context.Context, src io.Reader, dst io.Writer, dim int, total int, progress ProgressFunc) (int, error) {
	if dim <= 0 {
		return 0, fmt.Errorf("%w: embedding dimension must be positive, got %d", ErrNoEmbeddings, dim)
	}
	reader := bufio.NewReader(src)
	writer := NewWriter(dst)
	throttle := NewThrottle(total, progress)
	kept := 0
	for idx := 0; ; idx++ {
		line, err := fileutil.ReadLine(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			return kept, err
		}
		if idx%throttle.every == 0 {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return kept, ctxErr
			}
		}
		fields := strings.Fields(strings.ToValidUTF8(string(line), "�"))
		if len(fields) == dim+1 {
			token := strings.ToLower(fields[0])
			if IsAlpha(token) {
				if err = writer.WriteFields(token, fields[len(fields)-dim:]); err != nil {
					return kept, err
				}
				kept++
			}
		}
		throttle.Step(idx)
	}
	if err := writer.Flush(); err != nil {
		return kept, err
	}
	throttle.Done()
	return kept, nil
}

// IsAlpha reports whether s is non-empty and consists of letters only.
func IsAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// NormalizeFile normalizes the embeddings file at path into a new temporary .vec file and returns its path.
// The caller removes the returned file.
func NormalizeFile(ctx context.Context, path string, progress ProgressFunc) (tmpPath string, err error) {
	dim, err := InferDimFile(path)
	if err != nil {
		return "", err
	}
	if dim == 0 {
		return "", fmt.Errorf("%w: cannot infer a dimension for %s", ErrNoEmbeddings, path)
	}
	total, err := fileutil.CountLines(path)
	if err != nil {
		return "", err
	}

	source, err := fileutil.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer func() {
		err = errors.Join(err, fileutil.CloseFile(source))
	}()

	tmp, err := fileutil.TempFile(".vec")
	if err != nil {
		return "", err
	}
	tmpPath = tmp.Name()
	defer func() {
		err = errors.Join(err, tmp.Close())
		if err != nil {
			err = errors.Join(err, fileutil.RemoveTemp(tmpPath))
			tmpPath = ""
		}
	}()

	kept, err := Normalize(ctx, source, tmp, dim, total, progress)
	if err != nil {
		return tmpPath, err
	}
	if kept == 0 {
		return tmpPath, fmt.Errorf("%w: no line of %s has a %d dimensional vector and an alphabetic token", ErrNoEmbeddings, path, dim)
	}
	return tmpPath, nil
}
