// Package manifest loads the YAML description of a deployment's
// capabilities: tool agents, supervisors and external-process tools.
//
//	limits:
//	  max_replans: 1
//	tools:
//	  - name: send_mail
//	    command: ./bin/send-mail
//	supervisors:
//	  - name: office
//	    description: coordinates office work
//	    members: [mail]
//	agents:
//	  - name: mail
//	    description: drafts and sends email
//	    tools: [ask_user, send_mail]
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aretw0/conductor/pkg/adapters/process"
	"github.com/aretw0/conductor/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Agent declares a generic tool-using agent.
type Agent struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Instructions string   `yaml:"instructions,omitempty"`
	Parent       string   `yaml:"parent,omitempty"`
	MaxRetries   int      `yaml:"max_retries,omitempty"`
	Tools        []string `yaml:"tools"`
}

// Supervisor declares a team lead routing among member agents.
type Supervisor struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Instructions string   `yaml:"instructions,omitempty"`
	Parent       string   `yaml:"parent,omitempty"`
	Members      []string `yaml:"members"`
}

// Manifest is the parsed file.
type Manifest struct {
	Limits      domain.Limits    `yaml:"limits"`
	Tools       []process.Config `yaml:"tools"`
	Supervisors []Supervisor     `yaml:"supervisors"`
	Agents      []Agent          `yaml:"agents"`
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates manifest YAML. Unknown keys are rejected.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
