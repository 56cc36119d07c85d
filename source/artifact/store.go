// Package artifact provides filesystem storage for document side
// artifacts such as extracted images.
package artifact

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store persists side artifacts under a base directory, grouped per
// document.
type Store struct {
	baseDir string
}

// NewStore creates an artifact store rooted at baseDir.
func NewStore(baseDir string) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("artifact base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// SaveImage stores image data for a document and returns the stored
// path relative to the base directory.
func (s *Store) SaveImage(documentID, name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty image data")
	}

	dir := filepath.Join(s.baseDir, sanitizePathComponent(documentID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create document artifact directory: %w", err)
	}

	name = sanitizePathComponent(name)
	if name == "" {
		name = "image"
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}

	rel, err := filepath.Rel(s.baseDir, path)
	if err != nil {
		return path, nil
	}
	return rel, nil
}

// SaveDataURI decodes a base64 data URI and stores it as an image
// artifact.
func (s *Store) SaveDataURI(documentID, name, dataURI string) (string, error) {
	idx := strings.Index(dataURI, ";base64,")
	if idx == -1 {
		return "", fmt.Errorf("unsupported data URI encoding")
	}

	data, err := base64.StdEncoding.DecodeString(dataURI[idx+len(";base64,"):])
	if err != nil {
		return "", fmt.Errorf("decode data URI: %w", err)
	}

	return s.SaveImage(documentID, name, data)
}

// Path returns the absolute path for a stored artifact.
func (s *Store) Path(rel string) string {
	return filepath.Join(s.baseDir, rel)
}

// sanitizePathComponent strips path separators and parent references.
func sanitizePathComponent(s string) string {
	s = strings.ReplaceAll(s, "..", "")
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '-'
		}
		return r
	}, s)
	return strings.Trim(s, "-. ")
}
