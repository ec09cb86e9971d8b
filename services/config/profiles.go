package config

import "fmt"

// Built-in profiles, selectable by name instead of a file.

const profileBoard = `
serial:
  port: auto
  baud_rate: 115200
monitor:
  reader: stream
`

const profileLegacy = `
monitor:
  reader: block
  poll: 100ms
`

const profileSim = `
serial:
  port: auto
group:
  channels: xyzt
  ready_timeout: 20ms
  interval: 100ms
`

var embeddedProfiles = map[string][]byte{
	"board":  []byte(profileBoard),
	"legacy": []byte(profileLegacy),
	"sim":    []byte(profileSim),
}

// ProfileLookup resolves a built-in profile. Tests may replace it.
var ProfileLookup = func(name string) ([]byte, bool) {
	b, ok := embeddedProfiles[name]
	return b, ok
}

// LoadProfile parses the built-in profile name.
func LoadProfile(name string) (Config, error) {
	raw, ok := ProfileLookup(name)
	if !ok {
		return Config{}, fmt.Errorf("config: no built-in profile %q", name)
	}
	return Parse(raw)
}

// Resolve loads path when set, else the named profile, else defaults.
func Resolve(path, profile string) (Config, error) {
	switch {
	case path != "":
		return Load(path)
	case profile != "":
		return LoadProfile(profile)
	}
	return Default(), nil
}
