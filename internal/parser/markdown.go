package parser

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// MarkdownParser parses policy bundles written as Markdown documents.
// Policies live in fenced ```yaml code blocks; prose around them is
// documentation and is ignored. Blocks are merged in document order.
type MarkdownParser struct {
	markdown goldmark.Markdown
}

func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{
		markdown: goldmark.New(),
	}
}

func (p *MarkdownParser) Parse(r io.Reader) (*Bundle, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}

	blocks, err := p.extractYAMLBlocks(content)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no yaml code blocks found in document")
	}

	merged := &Bundle{}
	for i, block := range blocks {
		var partial Bundle
		if err := yaml.Unmarshal(block, &partial); err != nil {
			return nil, fmt.Errorf("parse yaml block %d: %w", i+1, err)
		}
		mergeBundle(merged, &partial)
	}
	normalizeConfigs(merged)
	return merged, nil
}

// extractYAMLBlocks walks the Markdown AST and collects the source of
// every fenced code block whose info string is yaml or yml.
func (p *MarkdownParser) extractYAMLBlocks(source []byte) ([][]byte, error) {
	doc := p.markdown.Parser().Parse(text.NewReader(source))

	var blocks [][]byte
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		fence, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		lang := ""
		if fence.Info != nil {
			lang = strings.TrimSpace(string(fence.Info.Segment.Value(source)))
		}
		if lang != "yaml" && lang != "yml" {
			return ast.WalkContinue, nil
		}

		var buf bytes.Buffer
		for i := 0; i < fence.Lines().Len(); i++ {
			segment := fence.Lines().At(i)
			buf.Write(segment.Value(source))
		}
		blocks = append(blocks, buf.Bytes())
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk markdown: %w", err)
	}

	return blocks, nil
}

// mergeBundle folds a partial bundle into dst. Later blocks append
// policies; the first block that declares a store wins.
func mergeBundle(dst, src *Bundle) {
	if dst.Store.Type == "" && src.Store.Type != "" {
		dst.Store = src.Store
	}
	dst.Policies = append(dst.Policies, src.Policies...)
}
