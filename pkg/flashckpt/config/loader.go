package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// unmarshalers maps config file extensions to decoders. The saver
// daemon accepts YAML and JSON; anything else is rejected before the
// file is read so a mistyped path fails loudly instead of half-parsing.
var unmarshalers = map[string]func([]byte, any) error{
	".yaml": yaml.Unmarshal,
	".yml":  yaml.Unmarshal,
	".json": json.Unmarshal,
}

// FromFile loads configuration from a file, selecting the decoder by
// extension.
func FromFile(path string) (Config, error) {
	ext := strings.ToLower(filepath.Ext(path))
	unmarshal, ok := unmarshalers[ext]
	if !ok {
		return Config{}, fmt.Errorf("unsupported config file extension %q", ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return decode(unmarshal, data)
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	return decode(yaml.Unmarshal, data)
}

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) {
	return decode(json.Unmarshal, data)
}

func decode(unmarshal func([]byte, any) error, data []byte) (Config, error) {
	var m map[string]any
	if err := unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return New(m), nil
}
