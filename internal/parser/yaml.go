package parser

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLParser parses YAML bundle files.
type YAMLParser struct{}

// NewYAMLParser creates a YAML bundle parser.
func NewYAMLParser() *YAMLParser {
	return &YAMLParser{}
}

// Parse reads a YAML bundle from r.
func (p *YAMLParser) Parse(r io.Reader) (*Bundle, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}

	var bundle Bundle
	if err := yaml.Unmarshal(content, &bundle); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	normalizeConfigs(&bundle)
	return &bundle, nil
}

// normalizeConfigs rewrites nested YAML maps into the map[string]any shape
// the factory expects. yaml.v3 decodes nested mappings under `any` as
// map[string]any already, but guard against nil config maps.
func normalizeConfigs(bundle *Bundle) {
	for i := range bundle.Policies {
		if bundle.Policies[i].Config == nil {
			bundle.Policies[i].Config = map[string]any{}
		}
	}
}
