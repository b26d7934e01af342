// Package parser reads policy bundle files.
//
// A bundle declares a store and an ordered policy chain. Bundles are
// written in YAML, or in Markdown with the YAML carried in fenced code
// blocks (useful when the policy chain is documented alongside prose).
package parser

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/openmined/policykit/internal/runner"
	"github.com/openmined/policykit/store"
)

// Format represents the format of a bundle file.
type Format int

const (
	// FormatUnknown represents an unknown or unsupported file format.
	FormatUnknown Format = iota
	// FormatYAML represents a YAML (.yaml, .yml) bundle file.
	FormatYAML
	// FormatMarkdown represents a Markdown (.md, .markdown) bundle file.
	FormatMarkdown
)

// String returns the string representation of the Format.
func (f Format) String() string {
	switch f {
	case FormatYAML:
		return "yaml"
	case FormatMarkdown:
		return "markdown"
	default:
		return "unknown"
	}
}

// Bundle is a parsed policy bundle: the store the chain shares and the
// policy declarations in evaluation order.
type Bundle struct {
	Store    store.Config          `yaml:"store"`
	Policies []runner.PolicyConfig `yaml:"policies"`
	FilePath string                `yaml:"-"`
}

// Parser is the interface all bundle parsers implement.
type Parser interface {
	Parse(r io.Reader) (*Bundle, error)
}

// DetectFormat detects the bundle format from the file extension.
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".md", ".markdown":
		return FormatMarkdown
	default:
		return FormatUnknown
	}
}

// NewParser creates a parser for the given format.
func NewParser(format Format) (Parser, error) {
	switch format {
	case FormatYAML:
		return NewYAMLParser(), nil
	case FormatMarkdown:
		return NewMarkdownParser(), nil
	default:
		return nil, fmt.Errorf("unsupported format: %v", format)
	}
}

// ParseFile detects the format of path, parses it, and validates the
// resulting bundle.
func ParseFile(path string) (*Bundle, error) {
	format := DetectFormat(path)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unsupported bundle format: %s (expected .yaml, .yml, .md, .markdown)", path)
	}

	p, err := NewParser(format)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle file: %w", err)
	}
	defer f.Close()

	bundle, err := p.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	bundle.FilePath = path

	if err := Validate(bundle); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}
	return bundle, nil
}

// Validate checks the bundle's declarations: unique non-empty names,
// buildable policies, and resolvable composite references. It performs a
// dry factory build, so any configuration the factory rejects is caught
// here too.
func Validate(bundle *Bundle) error {
	if len(bundle.Policies) == 0 {
		return fmt.Errorf("bundle declares no policies")
	}

	seen := make(map[string]bool, len(bundle.Policies))
	for i, cfg := range bundle.Policies {
		if cfg.Name == "" {
			return fmt.Errorf("policy at index %d has no name", i)
		}
		if seen[cfg.Name] {
			return fmt.Errorf("duplicate policy name %q", cfg.Name)
		}
		seen[cfg.Name] = true
	}

	factory := runner.NewFactory()
	if _, err := factory.CreateAll(bundle.Policies); err != nil {
		return err
	}
	return nil
}
