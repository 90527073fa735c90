// Package analyzer locates symbol definitions in the project source so
// the advisor can see the type behind an error, not just the error text.
package analyzer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"
	"go.uber.org/zap"
)

// definitionNodeTypes are the Rust AST item kinds that can define a
// symbol worth showing to the advisor.
var definitionNodeTypes = map[string]bool{
	"struct_item":      true,
	"enum_item":        true,
	"function_item":    true,
	"trait_item":       true,
	"type_item":        true,
	"union_item":       true,
	"const_item":       true,
	"static_item":      true,
	"macro_definition": true,
	"mod_item":         true,
}

// Analyzer finds symbol definitions in Rust sources using Tree-sitter,
// with a plain substring fallback when a file does not parse.
type Analyzer struct {
	root   string
	parser *sitter.Parser
	logger *zap.Logger
}

// New creates an analyzer scanning the project at root.
func New(root string, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := sitter.NewParser()
	parser.SetLanguage(rust.GetLanguage())
	return &Analyzer{root: root, parser: parser, logger: logger}
}

// FindSymbol walks the project's .rs files (skipping build output) and
// returns the path and content of the first file defining the symbol.
// The bool is false when no definition is found; scanning problems are
// not fatal for callers, who degrade to no extra context.
func (a *Analyzer) FindSymbol(ctx context.Context, symbol string) (string, string, bool) {
	if symbol == "" {
		return "", "", false
	}

	var foundPath, foundContent string
	err := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if d.Name() == "target" || d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".rs" {
			return nil
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		if a.defines(ctx, content, symbol) {
			foundPath = path
			foundContent = string(content)
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		a.logger.Debug("symbol scan aborted", zap.String("symbol", symbol), zap.Error(err))
		return "", "", false
	}
	if foundPath == "" {
		return "", "", false
	}
	return foundPath, foundContent, true
}

// defines reports whether the source defines the symbol as a top-level
// or nested item.
func (a *Analyzer) defines(ctx context.Context, content []byte, symbol string) bool {
	tree, err := a.parser.ParseCtx(ctx, nil, content)
	if err != nil || tree == nil {
		return substringFallback(string(content), symbol)
	}
	defer tree.Close()

	return nodeDefines(tree.RootNode(), content, symbol)
}

func nodeDefines(node *sitter.Node, content []byte, symbol string) bool {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if definitionNodeTypes[child.Type()] {
			if name := child.ChildByFieldName("name"); name != nil {
				if string(content[name.StartByte():name.EndByte()]) == symbol {
					return true
				}
			}
		}
		if nodeDefines(child, content, symbol) {
			return true
		}
	}
	return false
}

// substringFallback is the pre-AST heuristic: look for the symbol right
// after a defining keyword.
func substringFallback(content, symbol string) bool {
	for _, kw := range []string{"struct ", "enum ", "fn ", "trait ", "type "} {
		if strings.Contains(content, kw+symbol) {
			return true
		}
	}
	return false
}

// ExtractSymbol pulls the most likely symbol name out of a diagnostic
// message: the first backtick-quoted identifier, stripped of any path
// qualifiers or generic arguments.
func ExtractSymbol(message string) string {
	start := strings.IndexByte(message, '`')
	if start < 0 {
		return ""
	}
	rest := message[start+1:]
	end := strings.IndexByte(rest, '`')
	if end <= 0 {
		return ""
	}
	sym := rest[:end]
	if idx := strings.LastIndex(sym, "::"); idx >= 0 {
		sym = sym[idx+2:]
	}
	if idx := strings.IndexByte(sym, '<'); idx >= 0 {
		sym = sym[:idx]
	}
	for _, r := range sym {
		if !isIdentRune(r) {
			return ""
		}
	}
	return sym
}

func isIdentRune(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
