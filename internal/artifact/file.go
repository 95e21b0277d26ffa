package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opensource-finance/sentify/internal/domain"
)

// FileStore serves artifacts from the local filesystem.
// The configured schema and model names map to their configured paths;
// any other name resolves to <dir>/<name>.json next to the schema file.
type FileStore struct {
	paths map[string]string
	dir   string
}

// NewFileStore creates a file-backed artifact store.
func NewFileStore(cfg domain.ArtifactConfig) *FileStore {
	paths := make(map[string]string, 2)
	if cfg.SchemaName != "" && cfg.SchemaPath != "" {
		paths[cfg.SchemaName] = cfg.SchemaPath
	}
	if cfg.ModelName != "" && cfg.ModelPath != "" {
		paths[cfg.ModelName] = cfg.ModelPath
	}

	dir := "."
	if cfg.SchemaPath != "" {
		dir = filepath.Dir(cfg.SchemaPath)
	}

	return &FileStore{paths: paths, dir: dir}
}

func (s *FileStore) path(name string) (string, error) {
	if p, ok := s.paths[name]; ok {
		return p, nil
	}
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: invalid artifact name %q", ErrInvalidInput, name)
	}
	return filepath.Join(s.dir, name+".json"), nil
}

// Get returns the content of a named artifact.
func (s *FileStore) Get(ctx context.Context, name string) ([]byte, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s (%s)", ErrNotFound, name, p)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Put writes the artifact via a temp file and rename so readers never see
// a partial file.
func (s *FileStore) Put(ctx context.Context, name string, content []byte) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".artifact-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), p)
}

// List describes the configured artifacts and any other *.json artifacts
// in the store directory, ordered by name.
func (s *FileStore) List(ctx context.Context) ([]domain.ArtifactInfo, error) {
	seen := make(map[string]string)
	for name, p := range s.paths {
		seen[name] = p
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		p := filepath.Join(s.dir, e.Name())
		if mapped(s.paths, p) {
			continue
		}
		seen[strings.TrimSuffix(e.Name(), ".json")] = p
	}

	var infos []domain.ArtifactInfo
	for name, p := range seen {
		data, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		st, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		infos = append(infos, domain.ArtifactInfo{
			Name:      name,
			Size:      len(data),
			Checksum:  Checksum(data),
			UpdatedAt: st.ModTime().UTC(),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func mapped(paths map[string]string, p string) bool {
	for _, mp := range paths {
		if filepath.Clean(mp) == filepath.Clean(p) {
			return true
		}
	}
	return false
}

// Ping checks that the store directory is readable.
func (s *FileStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.dir)
	return err
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}
