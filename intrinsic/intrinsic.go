// Package intrinsic reads the labeled intrinsic data of a probing task.
//
// Intrinsic data lives at <media_root>/intrinsic_data/<TaskCamelCase>/<language_code>/ and is split into
// train.txt, dev.txt and test.txt. Each line holds tab (or whitespace) separated fields: "token label" for
// single instance tasks and "token1 token2 label" for contrastive tasks.
package intrinsic

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/knights-analytics/linspector/util/fileutil"
)

const dataDir = "intrinsic_data"

// Split file names, in the order they are read.
const (
	TrainFile = "train.txt"
	DevFile   = "dev.txt"
	TestFile  = "test.txt"
)

// ErrEmptySplit is returned when a split holds no instances.
var ErrEmptySplit = errors.New("intrinsic split is empty")

// Language identifies the language being probed. Code is only used as a path component.
type Language struct {
	Code string
	Name string
}

// ProbingTask identifies the linguistic property being probed.
type ProbingTask struct {
	Name string
	// Contrastive tasks classify a pair of tokens instead of a single token.
	Contrastive bool
}

// CamelCase returns the task name as used in the intrinsic data path, e.g. "case marking" -> "CaseMarking".
func (t ProbingTask) CamelCase() string {
	words := strings.FieldsFunc(t.Name, func(r rune) bool {
		return unicode.IsSpace(r) || r == '_' || r == '-'
	})
	caser := cases.Title(language.Und)
	var b strings.Builder
	for _, word := range words {
		b.WriteString(caser.String(word))
	}
	return b.String()
}

func (t ProbingTask) String() string {
	if t.Contrastive {
		return t.Name + " (contrastive)"
	}
	return t.Name
}

// Instance is a single labeled example. Tokens holds one token, or two for contrastive tasks.
type Instance struct {
	Tokens []string
	Label  string
}

// BasePath returns the directory holding the splits for a task and language.
func BasePath(mediaRoot string, task ProbingTask, lang Language) string {
	return fileutil.PathJoinSafe(mediaRoot, dataDir, task.CamelCase(), lang.Code)
}

// Reader reads one split file into instances.
type Reader interface {
	Read(path string) ([]Instance, error)
}

// NewReader returns the reader matching the task type.
func NewReader(task ProbingTask) Reader {
	if task.Contrastive {
		return ContrastiveReader{}
	}
	return LinspectorReader{}
}

// LinspectorReader reads single token instances: "token label".
type LinspectorReader struct{}

func (LinspectorReader) Read(path string) ([]Instance, error) {
	return readInstances(path, 1)
}

// ContrastiveReader reads token pairs: "token1 token2 label".
type ContrastiveReader struct{}

func (ContrastiveReader) Read(path string) ([]Instance, error) {
	return readInstances(path, 2)
}

func readInstances(path string, numTokens int) (instances []Instance, err error) {
	source, err := fileutil.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open intrinsic data %s: %w", path, err)
	}
	defer func() {
		err = errors.Join(err, fileutil.CloseFile(source))
	}()
	instances, err = parseInstances(source, numTokens)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return instances, nil
}

func parseInstances(source io.Reader, numTokens int) ([]Instance, error) {
	var instances []Instance
	reader := bufio.NewReader(source)
	for lineNumber := 1; ; lineNumber++ {
		line, readErr := fileutil.ReadLine(reader)
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, readErr
		}
		fields := splitFields(string(line))
		if len(fields) == 0 {
			continue
		}
		if len(fields) != numTokens+1 {
			return nil, fmt.Errorf("line %d: expected %d fields, got %d", lineNumber, numTokens+1, len(fields))
		}
		instances = append(instances, Instance{
			Tokens: fields[:numTokens],
			Label:  fields[numTokens],
		})
	}
	return instances, nil
}

// splitFields splits on tabs when present so that labels may contain spaces, otherwise on whitespace.
func splitFields(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.Contains(line, "\t") {
		parts := strings.Split(line, "\t")
		fields := make([]string, 0, len(parts))
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				fields = append(fields, part)
			}
		}
		return fields
	}
	return strings.Fields(line)
}

// Splits holds the three intrinsic data splits.
type Splits struct {
	Train []Instance
	Dev   []Instance
	Test  []Instance
}

// All returns train, dev and test concatenated.
func (s Splits) All() []Instance {
	all := make([]Instance, 0, len(s.Train)+len(s.Dev)+len(s.Test))
	all = append(all, s.Train...)
	all = append(all, s.Dev...)
	return append(all, s.Test...)
}

// ReadSplits reads train, dev and test data for the task and language.
func ReadSplits(mediaRoot string, task ProbingTask, lang Language) (Splits, error) {
	basePath := BasePath(mediaRoot, task, lang)
	reader := NewReader(task)
	var splits Splits
	for _, split := range []struct {
		file   string
		target *[]Instance
	}{
		{TrainFile, &splits.Train},
		{DevFile, &splits.Dev},
		{TestFile, &splits.Test},
	} {
		instances, err := reader.Read(fileutil.PathJoinSafe(basePath, split.file))
		if err != nil {
			return Splits{}, err
		}
		if len(instances) == 0 {
			return Splits{}, fmt.Errorf("%w: %s", ErrEmptySplit, fileutil.PathJoinSafe(basePath, split.file))
		}
		*split.target = instances
	}
	return splits, nil
}

// ReadVocabulary returns the unique tokens of all splits in order of first appearance. For contrastive
// tasks both tokens of every pair are included. This is the vocabulary embeddings are extracted for.
func ReadVocabulary(basePath string, contrastive bool) ([]string, error) {
	var reader Reader = LinspectorReader{}
	if contrastive {
		reader = ContrastiveReader{}
	}
	seen := map[string]bool{}
	var tokens []string
	for _, file := range []string{TrainFile, DevFile, TestFile} {
		instances, err := reader.Read(fileutil.PathJoinSafe(basePath, file))
		if err != nil {
			return nil, err
		}
		for _, instance := range instances {
			for _, token := range instance.Tokens {
				if !seen[token] {
					seen[token] = true
					tokens = append(tokens, token)
				}
			}
		}
	}
	return tokens, nil
}
