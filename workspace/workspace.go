// Package workspace hands out per-request file paths inside one shared
// directory. Paths are keyed by a random UUID, so concurrent requests never
// collide and no locking or existence checks are needed.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/akila/mesh-simplifier/models"
	"github.com/google/uuid"
)

// OutputExt is the only format the simplifier is asked to write.
const OutputExt = ".glb"

const (
	inputSuffix  = "_input"
	outputSuffix = "_output"
)

type Workspace struct {
	dir string
}

func New(dir string) *Workspace {
	return &Workspace{dir: dir}
}

func (w *Workspace) Dir() string {
	return w.dir
}

// Ensure creates the directory if needed. Safe to call concurrently.
func (w *Workspace) Ensure() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace %s: %w", w.dir, err)
	}
	return nil
}

func (w *Workspace) Name() string {
	return "workspace"
}

// Check verifies the directory exists and accepts new files.
func (w *Workspace) Check(ctx context.Context) error {
	if err := w.Ensure(); err != nil {
		return err
	}
	f, err := os.CreateTemp(w.dir, ".writecheck-*")
	if err != nil {
		return fmt.Errorf("workspace %s is not writable: %w", w.dir, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Allocate returns a fresh input/output pair. ext is the upload's extension
// including the dot and may be empty.
func (w *Workspace) Allocate(ext string) (models.Entry, error) {
	if err := w.Ensure(); err != nil {
		return models.Entry{}, err
	}

	id := uuid.New().String()
	return models.Entry{
		ID:         id,
		InputPath:  filepath.Join(w.dir, InputName(id, ext)),
		OutputPath: filepath.Join(w.dir, OutputName(id)),
	}, nil
}

// RemoveInput deletes the entry's input file. A file that was never written
// is not an error.
func (w *Workspace) RemoveInput(e models.Entry) error {
	if e.InputPath == "" {
		return nil
	}
	if err := os.Remove(e.InputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove input %s: %w", e.InputPath, err)
	}
	return nil
}

func InputName(id, ext string) string {
	return id + inputSuffix + ext
}

func OutputName(id string) string {
	return id + outputSuffix + OutputExt
}

// IsArtifact reports whether a file name looks like something Allocate
// produced. The reaper only ever touches such files.
func IsArtifact(name string) bool {
	if len(name) < 36 {
		return false
	}
	if _, err := uuid.Parse(name[:36]); err != nil {
		return false
	}
	rest := name[36:]
	if rest == outputSuffix+OutputExt {
		return true
	}
	return strings.HasPrefix(rest, inputSuffix)
}
