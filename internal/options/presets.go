package options

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var presetsYAML []byte

// Preset is a well-known service entry.
type Preset struct {
	Aliases []string `yaml:"aliases"`
	Domains []string `yaml:"domains"`
	Host    string   `yaml:"host"`
	Port    int      `yaml:"port"`
	Secure  *bool    `yaml:"secure"`
}

// Options converts the preset into the fields it defines.
func (p Preset) Options() Options {
	o := Options{Host: p.Host, Port: p.Port}
	if p.Secure != nil {
		o.Secure = Bool(*p.Secure)
	}
	return o
}

var presetKeyCleaner = regexp.MustCompile(`[^a-z0-9.\-]`)

var (
	presetsOnce  sync.Once
	presetsIndex map[string]Preset
	presetsErr   error
)

func normalizeKey(name string) string {
	return presetKeyCleaner.ReplaceAllString(strings.ToLower(name), "")
}

func loadPresets() (map[string]Preset, error) {
	presetsOnce.Do(func() {
		var table map[string]Preset
		if err := yaml.Unmarshal(presetsYAML, &table); err != nil {
			presetsErr = fmt.Errorf("failed to parse presets: %w", err)
			return
		}
		presetsIndex = make(map[string]Preset)
		for name, p := range table {
			presetsIndex[normalizeKey(name)] = p
			for _, alias := range p.Aliases {
				presetsIndex[normalizeKey(alias)] = p
			}
			for _, domain := range p.Domains {
				presetsIndex[normalizeKey(domain)] = p
			}
		}
	})
	return presetsIndex, presetsErr
}

// LookupPreset finds a preset by service name, alias or email domain.
// The lookup ignores case, whitespace and punctuation other than dots and dashes.
func LookupPreset(service string) (Preset, bool) {
	key := normalizeKey(service)
	if key == "" {
		return Preset{}, false
	}
	index, err := loadPresets()
	if err != nil {
		return Preset{}, false
	}
	p, ok := index[key]
	return p, ok
}
