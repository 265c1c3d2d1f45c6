package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// SaveConfig writes the effective settings back as YAML.
func SaveConfig(filename string, s *AppSettings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
