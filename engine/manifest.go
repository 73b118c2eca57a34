package engine

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"

	"github.com/soloplane/soloplane/lifecycle"
)

// ComponentSpec is one manifest entry declaring a hosted component.
type ComponentSpec struct {
	Kind     lifecycle.Kind
	Enabled  bool
	Settings Settings
}

// Manifest declares which components the daemon hosts and their settings.
//
//	{
//	  "components": [
//	    {"kind": "cache", "settings": {"addr": "localhost:6379"}},
//	    {"kind": "sysmon", "enabled": false}
//	  ]
//	}
type Manifest struct {
	Components []ComponentSpec
}

// ParseManifest parses the JSON component manifest. Components default to
// enabled; a missing or empty kind is rejected, as is a duplicate kind.
func ParseManifest(data []byte) (*Manifest, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("manifest is not valid JSON")
	}

	list := gjson.GetBytes(data, "components")
	if !list.Exists() {
		return nil, fmt.Errorf("manifest has no components section")
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("manifest components must be an array")
	}

	m := &Manifest{}
	seen := make(map[lifecycle.Kind]bool)
	var parseErr error
	list.ForEach(func(_, entry gjson.Result) bool {
		kind := lifecycle.Kind(entry.Get("kind").String())
		if kind == "" {
			parseErr = fmt.Errorf("manifest component %d: kind is required", len(m.Components))
			return false
		}
		if seen[kind] {
			parseErr = fmt.Errorf("manifest declares %s twice", kind)
			return false
		}
		seen[kind] = true

		spec := ComponentSpec{Kind: kind, Enabled: true, Settings: Settings{}}
		if enabled := entry.Get("enabled"); enabled.Exists() {
			spec.Enabled = enabled.Bool()
		}
		entry.Get("settings").ForEach(func(key, value gjson.Result) bool {
			spec.Settings[key.String()] = value.String()
			return true
		})
		m.Components = append(m.Components, spec)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return m, nil
}

// LoadManifest reads and parses the manifest file at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return ParseManifest(data)
}

// Enabled returns the specs of all enabled components in manifest order.
func (m *Manifest) Enabled() []ComponentSpec {
	specs := make([]ComponentSpec, 0, len(m.Components))
	for _, spec := range m.Components {
		if spec.Enabled {
			specs = append(specs, spec)
		}
	}
	return specs
}
