package catalog

// Mode describes how an app is hosted.
type Mode string

const (
	// ModeStatic apps are directories of built assets served by the
	// gateway itself under a per-app path prefix.
	ModeStatic Mode = "static"
	// ModeProcess apps start their own server from a launch command and
	// are reached directly on the port the gateway assigns them.
	ModeProcess Mode = "process"
)

// Capability is a named action an app exposes for the host to invoke.
type Capability struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Descriptor is the declarative registration of one previewable app.
// Descriptors loaded from the apps directory are immutable; workspace
// previews add dynamic descriptors at runtime.
type Descriptor struct {
	Name string `json:"name" yaml:"name"`

	// Command is the launch command template for process-backed apps.
	// A "{port}" placeholder is substituted with the assigned port.
	// Empty for static apps.
	Command string `json:"command,omitempty" yaml:"command,omitempty"`

	// Port pins a process-backed app to a fixed port. Zero means the
	// gateway allocates an ephemeral port per spawn.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// Dir is the app's working directory (spawn cwd for process apps,
	// asset root for static apps).
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	ContentTypes   []string     `json:"contentTypes,omitempty" yaml:"contentTypes,omitempty"`
	FileExtensions []string     `json:"fileExtensions,omitempty" yaml:"fileExtensions,omitempty"`
	Editable       bool         `json:"editable" yaml:"editable"`
	Capabilities   []Capability `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`

	// Dynamic marks descriptors registered at runtime (workspace previews).
	Dynamic bool `json:"dynamic,omitempty" yaml:"-"`
}

// Mode derives the hosting mode from the descriptor shape.
func (d *Descriptor) Mode() Mode {
	if d.Command != "" {
		return ModeProcess
	}
	return ModeStatic
}

// Matches reports whether the app declares support for the given file
// extension (with or without leading dot).
func (d *Descriptor) Matches(ext string) bool {
	if len(ext) > 0 && ext[0] == '.' {
		ext = ext[1:]
	}
	for _, e := range d.FileExtensions {
		if len(e) > 0 && e[0] == '.' {
			e = e[1:]
		}
		if e == ext {
			return true
		}
	}
	return false
}
