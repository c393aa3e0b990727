package fetch

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/specwarden/internal/model"
)

// LoadManifest reads a YAML manifest. Relative document paths resolve
// against the manifest's directory.
func LoadManifest(path string) (model.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return model.Manifest{}, fmt.Errorf("manifest %s: %w", path, err)
	}

	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return model.Manifest{}, fmt.Errorf("resolve manifest dir: %w", err)
	}
	m.BaseDir = abs
	return m, nil
}

// ParseManifest decodes and validates manifest YAML
func ParseManifest(data []byte) (model.Manifest, error) {
	var m model.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return model.Manifest{}, fmt.Errorf("decode: %w", err)
	}
	if err := ValidateManifest(m); err != nil {
		return model.Manifest{}, err
	}
	return m, nil
}

// ValidateManifest checks that every entry has a name and a location and
// that names are unique
func ValidateManifest(m model.Manifest) error {
	if len(m.Entries) == 0 {
		return fmt.Errorf("no documents listed")
	}

	seen := make(map[string]bool, len(m.Entries))
	for i, e := range m.Entries {
		if e.Name == "" {
			return fmt.Errorf("document %d: missing name", i+1)
		}
		if e.URL == "" {
			return fmt.Errorf("document %q: missing url", e.Name)
		}
		if seen[e.Name] {
			return fmt.Errorf("document %q listed more than once", e.Name)
		}
		seen[e.Name] = true
	}
	return nil
}
