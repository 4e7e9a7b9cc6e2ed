package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	pipeerrors "github.com/randalmurphal/novelforge/pkg/pipeline/errors"
)

// FromFile loads, decodes, and validates a YAML config file.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return FromYAML(data)
}

// FromYAML decodes and validates YAML config data. File values overlay
// the defaults from Default(). Unknown keys are reported as a
// configuration error, not silently accepted.
func FromYAML(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, &pipeerrors.ConfigValidationError{
			Detail: fmt.Sprintf("parse yaml: %v", err),
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
