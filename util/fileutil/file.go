package fileutil

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/option"
	"github.com/viant/afs/storage"
	_ "github.com/viant/afsc/s3"
)

var fileSystem = afs.New()

const partSize = 64 * 1024 * 1024

func ReadFileBytes(filename string) ([]byte, error) {
	file, err := fileSystem.OpenURL(context.Background(), filename)
	if err != nil {
		return nil, err
	}
	defer func(file io.Closer) {
		err = errors.Join(err, CloseFile(file))
	}(file)

	buf := &bytes.Buffer{}
	_, readErr := io.Copy(buf, file)
	if readErr != nil {
		return nil, readErr
	}
	return buf.Bytes(), err
}

func CloseFile(file io.Closer) error {
	return file.Close()
}

func GetPathType(path string) string {
	if strings.HasPrefix(path, "s3://") {
		return "S3"
	}
	return "os"
}

// OpenFile opens a local path or an s3:// URL for reading.
func OpenFile(filename string) (io.ReadCloser, error) {
	return fileSystem.OpenURL(context.Background(), filename)
}

// ReadLine returns a single line (without the ending \n)
// from the input buffered reader.
// An error is returned if there is an error with the
// buffered reader.
// This function is needed to avoid the 65K char line limit,
// embedding files with large dimensions easily exceed it.
func ReadLine(r *bufio.Reader) ([]byte, error) {
	var (
		isPrefix = true
		err      error
		line, ln []byte
	)
	for isPrefix && err == nil {
		line, isPrefix, err = r.ReadLine()
		ln = append(ln, line...)
	}
	return ln, err
}

// CountLines counts the lines of a file, a trailing line without \n included.
func CountLines(filename string) (n int, err error) {
	reader, err := OpenFile(filename)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = errors.Join(err, CloseFile(reader))
	}()

	buffered := bufio.NewReader(reader)
	for {
		_, readErr := ReadLine(buffered)
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return 0, readErr
		}
		n++
	}
	return n, nil
}

// PathJoinSafe wrapper around filepath.Join to ensure that paths are correctly constructed
// if the path is a normal OS path, just use filepath.Join
// if the path is S3, trim any trailing slashes and construct it manually from the components
// so that double slashes (e.g. s3://) are preserved.
func PathJoinSafe(elem ...string) string {
	var path string

	switch GetPathType(elem[0]) {
	case "S3":
		basePath := strings.TrimSuffix(elem[0], "/")
		path = basePath + "/" + filepath.ToSlash(filepath.Join(elem[1:]...))
	default:
		path = filepath.Join(elem...)
	}
	return path
}

func CopyFile(ctx context.Context, from string, to string) error {
	return fileSystem.Copy(ctx, from, to, option.NewSource(option.NewStream(partSize, 0)), option.NewDest(option.NewSkipChecksum(true)))
}

func WalkDir() func(ctx context.Context, URL string, handler storage.OnVisit, options ...storage.Option) error {
	return fileSystem.Walk
}

func DeleteFile(filename string) error {
	return fileSystem.Delete(context.Background(), filename)
}

func CreateFile(fileName string, isDir bool) error {
	return fileSystem.Create(context.Background(), fileName, os.ModePerm, isDir)
}

func FileExists(filename string) (bool, error) {
	return fileSystem.Exists(context.Background(), filename)
}

// TempFile creates a local temporary file with the given suffix, e.g. ".vec".
// The caller owns the file and must remove it.
func TempFile(suffix string) (*os.File, error) {
	return os.CreateTemp("", "linspector-*"+suffix)
}

// RemoveTemp removes a temporary file created with TempFile, ignoring files that are already gone.
func RemoveTemp(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
