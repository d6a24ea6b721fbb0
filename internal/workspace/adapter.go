package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/previewd/previewd/internal/catalog"
	"github.com/previewd/previewd/internal/infrastructure/logging"
)

// ConfigFile is the per-workspace preview config, read from the
// project's root directory.
const ConfigFile = "previewd.yaml"

// ErrNoConfig is returned when the workspace has no preview config.
var ErrNoConfig = fmt.Errorf("workspace has no preview config")

// previewConfig is the shape of a workspace's previewd.yaml.
type previewConfig struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
	Port    int    `yaml:"port"`
}

// Adapter turns arbitrary project directories into previewable apps by
// registering a dynamic descriptor derived from the workspace's config
// file.
type Adapter struct {
	catalog *catalog.Manager
	log     *logging.Logger
}

// NewAdapter creates a workspace preview adapter.
func NewAdapter(cat *catalog.Manager, log *logging.Logger) *Adapter {
	return &Adapter{catalog: cat, log: log}
}

// RegisterWorkspace reads the workspace's preview config and registers
// (or refreshes) its dynamic app descriptor. The returned name is what
// Open should be called with.
func (a *Adapter) RegisterWorkspace(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace path: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(abs, ConfigFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNoConfig, abs)
		}
		return "", fmt.Errorf("failed to read workspace config: %w", err)
	}

	var cfg previewConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", ConfigFile, err)
	}
	if cfg.Command == "" {
		return "", fmt.Errorf("workspace config %s has no command", filepath.Join(abs, ConfigFile))
	}

	name := DeriveName(abs, cfg.Name)
	desc := &catalog.Descriptor{
		Name:    name,
		Command: cfg.Command,
		Port:    cfg.Port,
		Dir:     abs,
		Dynamic: true,
	}
	if err := a.catalog.Register(desc); err != nil {
		return "", err
	}

	a.log.Info("Registered workspace preview",
		zap.String("app", name),
		zap.String("dir", abs),
	)
	return name, nil
}

// DeriveName builds the dynamic app name for a workspace. An explicit
// config name wins; otherwise the directory's base name is used. The
// workspace- prefix keeps dynamic names out of the catalog's static
// namespace.
func DeriveName(dir, configured string) string {
	base := configured
	if base == "" {
		base = filepath.Base(dir)
	}
	base = strings.ToLower(base)
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			if !strings.HasSuffix(b.String(), "-") {
				b.WriteByte('-')
			}
		}
	}
	return "workspace-" + strings.Trim(b.String(), "-")
}
