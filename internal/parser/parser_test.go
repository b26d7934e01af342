package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmined/policykit/internal/runner"
	"github.com/openmined/policykit/store"
)

const validYAMLBundle = `store:
  type: memory
policies:
  - name: api_limit
    type: rate_limit
    config:
      max_requests: 10
      window_seconds: 60
  - name: filter
    type: prompt_filter
    config:
      patterns:
        - secret
`

func writeBundle(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		filename string
		want     Format
	}{
		{filename: "bundle.yaml", want: FormatYAML},
		{filename: "bundle.yml", want: FormatYAML},
		{filename: "bundle.YAML", want: FormatYAML},
		{filename: "bundle.md", want: FormatMarkdown},
		{filename: "bundle.markdown", want: FormatMarkdown},
		{filename: "bundle.json", want: FormatUnknown},
		{filename: "bundle", want: FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.filename))
		})
	}
}

func TestParseFileYAML(t *testing.T) {
	path := writeBundle(t, "bundle.yaml", validYAMLBundle)

	bundle, err := ParseFile(path)
	require.NoError(t, err)

	assert.Equal(t, store.TypeMemory, bundle.Store.Type)
	assert.Equal(t, path, bundle.FilePath)
	require.Len(t, bundle.Policies, 2)
	assert.Equal(t, "api_limit", bundle.Policies[0].Name)
	assert.Equal(t, "rate_limit", bundle.Policies[0].Type)
	assert.Equal(t, 10, bundle.Policies[0].Config["max_requests"])
}

func TestParseFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantMsg string
	}{
		{
			name: "unsupported extension",
			path: func(t *testing.T) string {
				return writeBundle(t, "bundle.json", "{}")
			},
			wantMsg: "unsupported bundle format",
		},
		{
			name: "missing file",
			path: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "missing.yaml")
			},
			wantMsg: "open bundle file",
		},
		{
			name: "malformed yaml",
			path: func(t *testing.T) string {
				return writeBundle(t, "bundle.yaml", "policies: [unclosed")
			},
			wantMsg: "parse",
		},
		{
			name: "empty bundle",
			path: func(t *testing.T) string {
				return writeBundle(t, "bundle.yaml", "store:\n  type: memory\n")
			},
			wantMsg: "no policies",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFile(tt.path(t))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		bundle  *Bundle
		wantMsg string
	}{
		{
			name: "valid bundle",
			bundle: &Bundle{Policies: []runner.PolicyConfig{
				{Name: "mr", Type: "manual_review"},
			}},
		},
		{
			name:    "no policies",
			bundle:  &Bundle{},
			wantMsg: "no policies",
		},
		{
			name: "unnamed policy",
			bundle: &Bundle{Policies: []runner.PolicyConfig{
				{Type: "manual_review"},
			}},
			wantMsg: "has no name",
		},
		{
			name: "duplicate names",
			bundle: &Bundle{Policies: []runner.PolicyConfig{
				{Name: "p", Type: "manual_review"},
				{Name: "p", Type: "attribution"},
			}},
			wantMsg: "duplicate policy name",
		},
		{
			name: "unknown type caught by dry build",
			bundle: &Bundle{Policies: []runner.PolicyConfig{
				{Name: "p", Type: "firewall"},
			}},
			wantMsg: "unknown policy type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.bundle)
			if tt.wantMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestParseFileMarkdown(t *testing.T) {
	content := `# Weather endpoint policies

The chain rate limits callers, then filters prompts.

` + "```yaml" + `
store:
  type: memory
policies:
  - name: api_limit
    type: rate_limit
    config:
      max_requests: 5
      window_seconds: 60
` + "```" + `

Content rules live in a second block:

` + "```yaml" + `
policies:
  - name: filter
    type: prompt_filter
    config:
      patterns:
        - secret
` + "```" + `
`
	path := writeBundle(t, "bundle.md", content)

	bundle, err := ParseFile(path)
	require.NoError(t, err)

	assert.Equal(t, store.TypeMemory, bundle.Store.Type)
	require.Len(t, bundle.Policies, 2)
	assert.Equal(t, "api_limit", bundle.Policies[0].Name)
	assert.Equal(t, "filter", bundle.Policies[1].Name)
}

func TestMarkdownIgnoresNonYAMLBlocks(t *testing.T) {
	content := "# Doc\n\n```bash\necho not a bundle\n```\n\n```yaml\npolicies:\n  - name: mr\n    type: manual_review\n```\n"
	path := writeBundle(t, "bundle.md", content)

	bundle, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, bundle.Policies, 1)
	assert.Equal(t, "mr", bundle.Policies[0].Name)
}

func TestMarkdownWithoutYAMLBlocks(t *testing.T) {
	path := writeBundle(t, "bundle.md", "# Just prose, no code blocks\n")

	_, err := ParseFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no yaml code blocks")
}
