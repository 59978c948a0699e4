package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"dbconduit/internal/domain"
)

// FileSource keeps specs as a JSON array in a file. A missing file loads as
// empty and is created on first save.
type FileSource struct {
	path string
	mu   sync.Mutex
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Name is the file path.
func (f *FileSource) Name() string { return f.path }

// Path implements Watchable.
func (f *FileSource) Path() string { return f.path }

func (f *FileSource) Load() ([]domain.ConnectionSpec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

func (f *FileSource) read() ([]domain.ConnectionSpec, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var specs []domain.ConnectionSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	return specs, nil
}

func (f *FileSource) Save(specs []domain.ConnectionSpec, op SaveOp) error {
	if op != SaveAdd && op != SaveDelete {
		return fmt.Errorf("unknown save op %q", op)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.read()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(apply(current, specs, op), "", "  ")
	if err != nil {
		return fmt.Errorf("encode specs: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}
