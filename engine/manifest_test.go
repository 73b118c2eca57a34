package engine

import "testing"

func TestParseManifest(t *testing.T) {
	data := []byte(`{
		"components": [
			{"kind": "cache", "settings": {"addr": "localhost:6379", "db": "2"}},
			{"kind": "sysmon", "enabled": false},
			{"kind": "scripts"}
		]
	}`)

	m, err := ParseManifest(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(m.Components) != 3 {
		t.Fatalf("components = %d", len(m.Components))
	}
	cache := m.Components[0]
	if cache.Kind != "cache" || !cache.Enabled {
		t.Fatalf("cache spec: %+v", cache)
	}
	if cache.Settings["addr"] != "localhost:6379" || cache.Settings["db"] != "2" {
		t.Fatalf("cache settings: %v", cache.Settings)
	}
	if m.Components[1].Enabled {
		t.Fatal("explicit enabled=false ignored")
	}
	if !m.Components[2].Enabled {
		t.Fatal("enabled should default to true")
	}

	enabled := m.Enabled()
	if len(enabled) != 2 || enabled[0].Kind != "cache" || enabled[1].Kind != "scripts" {
		t.Fatalf("enabled = %+v", enabled)
	}
}

func TestParseManifestErrors(t *testing.T) {
	cases := map[string]string{
		"invalid json":   `{"components": [`,
		"no components":  `{}`,
		"components map": `{"components": {"cache": {}}}`,
		"missing kind":   `{"components": [{"enabled": true}]}`,
		"duplicate kind": `{"components": [{"kind": "cache"}, {"kind": "cache"}]}`,
	}
	for name, body := range cases {
		if _, err := ParseManifest([]byte(body)); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}
