package updates

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/goccy/go-yaml"
)

// ManifestFile is the optional per-plugin metadata file.
const ManifestFile = "update.yaml"

// Manifest describes a plugin directory.
type Manifest struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
	// Requires is a semver constraint on the application version.
	Requires string `yaml:"requires"`
}

// ReadManifest loads dir/update.yaml. A missing file yields a zero manifest
// named after dir.
func ReadManifest(root fs.FS, dir string) (Manifest, error) {
	data, err := fs.ReadFile(root, path.Join(dir, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{Name: dir}, nil
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if strings.TrimSpace(m.Name) == "" {
		m.Name = dir
	}
	if m.Name != dir {
		return Manifest{}, fmt.Errorf("manifest name %q does not match directory %q", m.Name, dir)
	}
	if m.Version != "" {
		if _, err := semver.NewVersion(m.Version); err != nil {
			return Manifest{}, fmt.Errorf("invalid manifest version %q: %w", m.Version, err)
		}
	}
	return m, nil
}

// Supports reports whether the manifest accepts appVersion. An empty
// constraint or an empty app version always passes.
func (m Manifest) Supports(appVersion string) error {
	if strings.TrimSpace(m.Requires) == "" || strings.TrimSpace(appVersion) == "" {
		return nil
	}
	c, err := semver.NewConstraint(m.Requires)
	if err != nil {
		return fmt.Errorf("invalid requires constraint %q: %w", m.Requires, err)
	}
	v, err := semver.NewVersion(appVersion)
	if err != nil {
		return fmt.Errorf("invalid app version %q: %w", appVersion, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("requires %s, app is %s", m.Requires, appVersion)
	}
	return nil
}
