package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/harun/cmdq/pkg/commandqueue"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Kind selects the command implementation a Spec builds
type Kind string

const (
	KindShell Kind = "shell"
	KindWait  Kind = "wait"
)

// Format is the encoding of a spec document
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Spec is the serialisable description of a command
type Spec struct {
	Kind        Kind              `json:"kind" yaml:"kind"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Command     string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Dir         string            `json:"dir,omitempty" yaml:"dir,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Timeout     string            `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Duration    string            `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// SpecSchema is the JSON Schema every spec document item must satisfy
const SpecSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["kind"],
  "additionalProperties": false,
  "properties": {
    "kind": {
      "type": "string",
      "enum": ["shell", "wait"]
    },
    "description": {
      "type": "string"
    },
    "command": {
      "type": "string",
      "minLength": 1,
      "description": "Script for the platform shell, or executable when args is set"
    },
    "args": {
      "type": "array",
      "items": { "type": "string" }
    },
    "dir": {
      "type": "string"
    },
    "env": {
      "type": "object",
      "additionalProperties": { "type": "string" }
    },
    "timeout": {
      "type": "string",
      "description": "Go duration, e.g. 30s"
    },
    "duration": {
      "type": "string",
      "description": "Go duration, e.g. 5m"
    }
  }
}`

var specSchema = gojsonschema.NewStringLoader(SpecSchema)

// FormatFromPath infers the document format from a file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%s: %w", path, ErrUnknownFormat)
}

// Parse decodes a document holding one spec or a list of specs and
// validates every item
func Parse(data []byte, format Format) ([]Spec, error) {
	var doc interface{}
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
	default:
		return nil, fmt.Errorf("%q: %w", format, ErrUnknownFormat)
	}

	var items []interface{}
	switch v := doc.(type) {
	case []interface{}:
		items = v
	case map[string]interface{}:
		items = []interface{}{v}
	default:
		return nil, fmt.Errorf("%w: document must be an object or a list of objects", ErrInvalidSpec)
	}

	specs := make([]Spec, 0, len(items))
	for i, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrInvalidSpec, i, err)
		}
		spec, err := decodeSpec(raw)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// ParseJSON decodes a JSON spec document
func ParseJSON(data []byte) ([]Spec, error) {
	return Parse(data, FormatJSON)
}

// ParseYAML decodes a YAML spec document
func ParseYAML(data []byte) ([]Spec, error) {
	return Parse(data, FormatYAML)
}

func decodeSpec(raw []byte) (Spec, error) {
	result, err := gojsonschema.Validate(specSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return Spec{}, fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return Spec{}, fmt.Errorf("%w: %s", ErrInvalidSpec, strings.Join(msgs, "; "))
	}

	var spec Spec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return Spec{}, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// Validate checks the kind-specific fields the schema cannot express
func (s Spec) Validate() error {
	switch s.Kind {
	case KindShell:
		if s.Command == "" {
			return fmt.Errorf("%w: shell spec requires command", ErrInvalidSpec)
		}
		if _, err := parseOptionalDuration("timeout", s.Timeout); err != nil {
			return err
		}
	case KindWait:
		d, err := parseOptionalDuration("duration", s.Duration)
		if err != nil {
			return err
		}
		if d <= 0 {
			return fmt.Errorf("%w: wait spec requires a positive duration", ErrInvalidSpec)
		}
	default:
		return fmt.Errorf("%q: %w", s.Kind, ErrUnknownKind)
	}
	return nil
}

// Build creates the command described by s
func (s Spec) Build() (commandqueue.Command, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	switch s.Kind {
	case KindShell:
		timeout, _ := parseOptionalDuration("timeout", s.Timeout)
		return NewShellCommand(ShellOptions{
			Description: s.Description,
			Script:      s.Command,
			Args:        s.Args,
			Dir:         s.Dir,
			Env:         s.Env,
			Timeout:     timeout,
		}), nil
	case KindWait:
		d, _ := parseOptionalDuration("duration", s.Duration)
		return NewWaitCommand(s.Description, d), nil
	}
	return nil, fmt.Errorf("%q: %w", s.Kind, ErrUnknownKind)
}

// FromSpec builds the command described by spec
func FromSpec(spec Spec) (commandqueue.Command, error) {
	return spec.Build()
}

func parseOptionalDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidSpec, field, err)
	}
	return d, nil
}
