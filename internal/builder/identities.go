package builder

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// IdentitiesFile maps a person folder name to the info shown with matches.
//
//	identities:
//	  elon_musk:
//	    name: Elon Musk
//	    info: CEO of Tesla
type IdentitiesFile struct {
	Identities map[string]IdentityInfo `yaml:"identities"`
}

// IdentityInfo overrides the display name and info of one folder.
type IdentityInfo struct {
	Name string `yaml:"name"`
	Info string `yaml:"info"`
}

// LoadIdentities reads an identities YAML file. An empty path yields an empty map.
func LoadIdentities(path string) (map[string]IdentityInfo, error) {
	if path == "" {
		return map[string]IdentityInfo{}, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read identities file: %w", err)
	}
	var f IdentitiesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse identities file: %w", err)
	}
	if f.Identities == nil {
		f.Identities = map[string]IdentityInfo{}
	}
	return f.Identities, nil
}
