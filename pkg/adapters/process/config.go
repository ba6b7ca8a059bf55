package process

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config declares an external command exposed as a tool.
type Config struct {
	Name        string            `yaml:"name" json:"name" mapstructure:"name"`
	Description string            `yaml:"description" json:"description" mapstructure:"description"`
	Command     string            `yaml:"command" json:"command" mapstructure:"command"`
	Args        []string          `yaml:"args" json:"args" mapstructure:"args"`
	Environment map[string]string `yaml:"env" json:"env" mapstructure:"env"`
	Dir         string            `yaml:"dir" json:"dir" mapstructure:"dir"`
	Timeout     time.Duration     `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
	// Parameters is the JSON schema "properties" object shown to the model.
	Parameters map[string]any `yaml:"parameters" json:"parameters" mapstructure:"parameters"`
	Required   []string       `yaml:"required" json:"required" mapstructure:"required"`
}

// Validate reports missing fields.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("process tool: name is required")
	}
	if c.Command == "" {
		return fmt.Errorf("process tool %s: command is required", c.Name)
	}
	return nil
}

// ConfigFile is the layout of a tools.yaml file.
type ConfigFile struct {
	Tools []Config `yaml:"tools" json:"tools"`
}

// LoadTools reads a YAML or JSON tools file. A missing file yields no tools.
func LoadTools(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read tools config: %w", err)
	}

	var cfg ConfigFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	for _, t := range cfg.Tools {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg.Tools, nil
}
