// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package extract

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"
)

// Function is one extracted Rust function. Repository identity and
// dependencies are attached downstream by the emitter.
type Function struct {
	// Name is the identifier, qualified with the enclosing module, impl
	// type, or trait chain (e.g. "Processor::process").
	Name string

	// Content is the exact source text of the function's line span.
	// Attributes above the function are excluded; they live in Attributes.
	Content string

	// StartLine and EndLine are 1-indexed and inclusive in the original file.
	StartLine int
	EndLine   int

	// Attributes are the attribute items directly above the function, in
	// source order as written.
	Attributes []string

	// Docstring is the contiguous doc-comment block above the function and
	// its attributes, empty when there is none.
	Docstring string
}

// ParseError reports a file whose syntax tree contains errors. Such files
// are skipped by callers, never fatal to a run.
type ParseError struct {
	Path       string
	ErrorCount int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %d syntax errors", e.Path, e.ErrorCount)
}

// Extractor extracts functions from Rust sources. Not safe for concurrent
// use; create one per worker.
type Extractor struct {
	parser *sitter.Parser
}

// NewExtractor creates an Extractor with the Rust grammar loaded.
func NewExtractor() *Extractor {
	parser := sitter.NewParser()
	parser.SetLanguage(rust.GetLanguage())
	return &Extractor{parser: parser}
}

// Close releases the underlying parser.
func (e *Extractor) Close() {
	e.parser.Close()
}

// Extract parses src and returns every function in source order. path is
// used only for error reporting. Returns *ParseError when the tree has
// syntax errors.
func (e *Extractor) Extract(path string, src []byte) ([]Function, error) {
	tree, err := e.parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, &ParseError{Path: path, ErrorCount: countErrors(root)}
	}

	lines := splitLines(src)

	var functions []Function
	e.walk(root, src, lines, nil, &functions)
	return functions, nil
}

// walk visits the tree collecting functions, carrying the qualifier chain of
// enclosing modules, impls, traits, and parent functions.
func (e *Extractor) walk(node *sitter.Node, src []byte, lines []string, quals []string, out *[]Function) {
	switch node.Type() {
	case "function_item":
		fn, ok := e.extractFunction(node, src, lines, quals)
		if ok {
			*out = append(*out, fn)
			// Nested functions are qualified by their parent.
			if body := node.ChildByFieldName("body"); body != nil {
				e.walk(body, src, lines, append(quals, baseName(node, src)), out)
			}
			return
		}
	case "mod_item":
		if name := node.ChildByFieldName("name"); name != nil {
			if body := childOfType(node, "declaration_list"); body != nil {
				e.walk(body, src, lines, append(quals, name.Content(src)), out)
				return
			}
		}
	case "impl_item":
		if body := childOfType(node, "declaration_list"); body != nil {
			e.walk(body, src, lines, append(quals, implQualifier(node, src)), out)
			return
		}
	case "trait_item":
		if name := node.ChildByFieldName("name"); name != nil {
			if body := childOfType(node, "declaration_list"); body != nil {
				e.walk(body, src, lines, append(quals, name.Content(src)), out)
				return
			}
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		e.walk(node.Child(i), src, lines, quals, out)
	}
}

// extractFunction builds the record for one function_item node.
func (e *Extractor) extractFunction(node *sitter.Node, src []byte, lines []string, quals []string) (Function, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return Function{}, false
	}

	startLine := int(node.StartPoint().Row) + 1
	endLine := int(node.EndPoint().Row) + 1

	name := nameNode.Content(src)
	if len(quals) > 0 {
		name = strings.Join(quals, "::") + "::" + name
	}

	attributes, docstring := precedingAttributesAndDocs(node, src)

	// Attributes sharing the function's first line are inside the content
	// span already; keeping them in the list would duplicate those bytes.
	attributes = dropSameLineAttributes(node, src, attributes, startLine)

	return Function{
		Name:       name,
		Content:    lineSpan(lines, startLine, endLine),
		StartLine:  startLine,
		EndLine:    endLine,
		Attributes: attributes,
		Docstring:  docstring,
	}, true
}

// precedingAttributesAndDocs walks backwards over the function's siblings:
// first the attribute items directly above it, then the contiguous doc
// comment block above those. A gap of one or more blank lines ends the
// docstring.
func precedingAttributesAndDocs(node *sitter.Node, src []byte) ([]string, string) {
	attributes := []string{}

	cur := node
	for {
		prev := cur.PrevSibling()
		if prev == nil || prev.Type() != "attribute_item" || !adjacent(prev, cur) {
			break
		}
		attributes = append([]string{prev.Content(src)}, attributes...)
		cur = prev
	}

	var docs []string
	for {
		prev := cur.PrevSibling()
		if prev == nil || !adjacent(prev, cur) {
			break
		}
		text := prev.Content(src)
		if !isDocComment(prev.Type(), text) {
			break
		}
		docs = append([]string{text}, docs...)
		cur = prev
	}

	return attributes, strings.Join(docs, "\n")
}

// adjacent reports whether prev ends on the line directly above next (or on
// the same line).
func adjacent(prev, next *sitter.Node) bool {
	return prev.EndPoint().Row+1 >= next.StartPoint().Row
}

func isDocComment(nodeType, text string) bool {
	switch nodeType {
	case "line_comment":
		return strings.HasPrefix(text, "///") || strings.HasPrefix(text, "//!")
	case "block_comment":
		return strings.HasPrefix(text, "/**") || strings.HasPrefix(text, "/*!")
	default:
		return false
	}
}

func dropSameLineAttributes(node *sitter.Node, src []byte, attributes []string, startLine int) []string {
	if len(attributes) == 0 {
		return attributes
	}
	kept := attributes[:0]
	cur := node
	// Re-walk siblings to compare rows; attribute list was built from them
	// in the same order.
	var attrNodes []*sitter.Node
	for {
		prev := cur.PrevSibling()
		if prev == nil || prev.Type() != "attribute_item" || !adjacent(prev, cur) {
			break
		}
		attrNodes = append([]*sitter.Node{prev}, attrNodes...)
		cur = prev
	}
	for i, attr := range attributes {
		if i < len(attrNodes) && int(attrNodes[i].EndPoint().Row)+1 == startLine {
			continue
		}
		kept = append(kept, attr)
	}
	return kept
}

func implQualifier(node *sitter.Node, src []byte) string {
	typeNode := node.ChildByFieldName("type")
	traitNode := node.ChildByFieldName("trait")
	switch {
	case typeNode != nil && traitNode != nil:
		return fmt.Sprintf("<%s as %s>", typeNode.Content(src), traitNode.Content(src))
	case typeNode != nil:
		return typeNode.Content(src)
	case traitNode != nil:
		return traitNode.Content(src)
	default:
		return "impl"
	}
}

func baseName(node *sitter.Node, src []byte) string {
	if name := node.ChildByFieldName("name"); name != nil {
		return name.Content(src)
	}
	return "fn"
}

func childOfType(node *sitter.Node, nodeType string) *sitter.Node {
	for i := 0; i < int(node.ChildCount()); i++ {
		if child := node.Child(i); child.Type() == nodeType {
			return child
		}
	}
	return nil
}

func countErrors(node *sitter.Node) int {
	count := 0
	if node.IsError() {
		count++
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		count += countErrors(node.Child(i))
	}
	return count
}

// splitLines splits src on newlines only. Carriage returns stay in place so
// a joined span is byte-identical to the original file bytes.
func splitLines(src []byte) []string {
	return strings.Split(string(src), "\n")
}

// lineSpan returns the exact text of lines start..end (1-indexed, inclusive).
func lineSpan(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}
