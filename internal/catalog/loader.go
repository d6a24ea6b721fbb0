package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/previewd/previewd/internal/infrastructure/logging"
)

// Manifest file names probed inside each app directory, in order.
var manifestNames = []string{"app.yaml", "app.yml", "app.json"}

// Loader populates the catalog from the apps directory on disk. Each
// subdirectory containing a manifest becomes one registered app.
type Loader struct {
	manager *Manager
	appsDir string
	log     *logging.Logger
}

// NewLoader creates a loader for the given apps directory.
func NewLoader(manager *Manager, appsDir string, log *logging.Logger) *Loader {
	return &Loader{
		manager: manager,
		appsDir: appsDir,
		log:     log,
	}
}

// LoadApps scans the apps directory and registers every app with a
// readable manifest. A missing apps directory is not an error; the
// catalog simply starts empty.
func (l *Loader) LoadApps() error {
	if _, err := os.Stat(l.appsDir); os.IsNotExist(err) {
		l.log.Warn("Apps directory not found", zap.String("dir", l.appsDir))
		return nil
	}

	entries, err := os.ReadDir(l.appsDir)
	if err != nil {
		return fmt.Errorf("failed to read apps directory: %w", err)
	}

	var loaded, failed int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		appDir := filepath.Join(l.appsDir, entry.Name())
		manifest := findManifest(appDir)
		if manifest == "" {
			l.log.Debug("Skipping directory without manifest", zap.String("dir", appDir))
			continue
		}

		if err := l.loadApp(entry.Name(), appDir, manifest); err != nil {
			l.log.Warn("Failed to load app",
				zap.String("app", entry.Name()),
				zap.Error(err),
			)
			failed++
			continue
		}
		loaded++
	}

	l.log.Info("App catalog loaded",
		zap.Int("loaded", loaded),
		zap.Int("failed", failed),
	)
	return nil
}

// loadApp parses a single manifest and registers its descriptor.
func (l *Loader) loadApp(dirName, appDir, manifestPath string) error {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	desc, err := ParseManifest(manifestPath, data)
	if err != nil {
		return err
	}

	// The directory name is authoritative when the manifest omits one.
	if desc.Name == "" {
		desc.Name = dirName
	}
	if desc.Dir == "" {
		desc.Dir = appDir
	}

	if err := l.manager.Register(desc); err != nil {
		return err
	}

	l.log.Info("Registered app",
		zap.String("app", desc.Name),
		zap.String("mode", string(desc.Mode())),
	)
	return nil
}

// ParseManifest decodes a manifest by extension: JSON for .json,
// YAML otherwise.
func ParseManifest(path string, data []byte) (*Descriptor, error) {
	var desc Descriptor
	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, &desc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON manifest: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &desc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML manifest: %w", err)
		}
	}
	return &desc, nil
}

func findManifest(appDir string) string {
	for _, name := range manifestNames {
		path := filepath.Join(appDir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
