// Package embedded holds a small probing fixture: intrinsic data for a single and a contrastive task on German
// and a static embeddings file in which the label of every token is separable on the first dimension.
package embedded

import (
	"embed"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed data
var data embed.FS

// Fixture tasks and language.
const (
	Language        = "de"
	Task            = "case"
	ContrastiveTask = "same case"
	Dim             = 5
)

// WriteMediaRoot copies the fixture into dir and returns the path of the static embeddings file. dir can be
// used as media root.
func WriteMediaRoot(dir string) (vectorsPath string, err error) {
	root, err := fs.Sub(data, "data")
	if err != nil {
		return "", err
	}
	err = fs.WalkDir(root, ".", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		target := filepath.Join(dir, filepath.FromSlash(path))
		if d.IsDir() {
			return os.MkdirAll(target, os.ModePerm)
		}
		content, readErr := fs.ReadFile(root, path)
		if readErr != nil {
			return readErr
		}
		return os.WriteFile(target, content, 0o644)
	})
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "vectors.vec"), nil
}
