package client

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrExecutableNotFound indicates the provider CLI binary could not be
// located on PATH or in any known install location.
var ErrExecutableNotFound = errors.New("executable not found")

// ExecutableFinder locates a provider CLI binary. PATH is consulted
// first, then a list of known install locations with `~` and `{name}`
// placeholders expanded.
type ExecutableFinder struct {
	name       string
	knownPaths []string
}

// NewExecutableFinder creates a finder for the named binary.
func NewExecutableFinder(name string) *ExecutableFinder {
	return &ExecutableFinder{name: name}
}

// WithKnownPaths adds fallback locations checked after PATH. Entries may
// contain `~` (home directory) and `{name}` (binary name) placeholders.
func (f *ExecutableFinder) WithKnownPaths(paths ...string) *ExecutableFinder {
	f.knownPaths = append(f.knownPaths, paths...)
	return f
}

// Find returns the absolute path of the binary.
func (f *ExecutableFinder) Find() (string, error) {
	if path, err := exec.LookPath(f.name); err == nil {
		return path, nil
	}

	for _, candidate := range f.knownPaths {
		expanded := f.expand(candidate)
		if expanded == "" {
			continue
		}
		if info, err := os.Stat(expanded); err == nil && !info.IsDir() {
			return expanded, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, f.name)
}

func (f *ExecutableFinder) expand(path string) string {
	path = strings.ReplaceAll(path, "{name}", f.name)
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
