package receipt

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage holds the artifacts a run produces, such as CSV exports
type Storage interface {
	// Save writes an artifact and returns its name
	Save(name string, data []byte) (string, error)

	// Get reads an artifact back by name
	Get(name string) ([]byte, error)

	// Delete removes an artifact
	Delete(name string) error

	// Path returns where an artifact lives, for messages to the user
	Path(name string) string
}

// LocalStorage implements the Storage interface using a local directory
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if basePath == "" {
		basePath = "."
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Save writes an artifact into the output directory
func (l *LocalStorage) Save(name string, data []byte) (string, error) {
	name = filepath.Base(name)
	if err := os.WriteFile(l.Path(name), data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return name, nil
}

// Get reads an artifact from the output directory
func (l *LocalStorage) Get(name string) ([]byte, error) {
	data, err := os.ReadFile(l.Path(filepath.Base(name)))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes an artifact from the output directory
func (l *LocalStorage) Delete(name string) error {
	if err := os.Remove(l.Path(filepath.Base(name))); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// Path joins the artifact name onto the output directory
func (l *LocalStorage) Path(name string) string {
	return filepath.Join(l.basePath, name)
}
