// Command sqllint checks that every SQL constant starts with a unique
// "--sql <uuid>" marker, the key SQLRunner logs queries under.
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	sqlStatementPattern = regexp.MustCompile(`(?im)^\s*(select|insert|update|delete|with)\b`)
	markerPattern       = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

type violation struct {
	pos     token.Position
	name    string
	message string
}

func (v violation) String() string {
	return fmt.Sprintf("%s:%d %s (%s)", v.pos.Filename, v.pos.Line, v.message, v.name)
}

func main() {
	flag.Parse()
	targets := flag.Args()
	if len(targets) == 0 {
		targets = []string{"internal/sqlinline"}
	}
	os.Exit(run(targets, os.Stderr))
}

func run(targets []string, stderr io.Writer) int {
	violations, err := lint(targets)
	if err != nil {
		fmt.Fprintf(stderr, "sqllint: %v\n", err)
		return 1
	}
	if len(violations) > 0 {
		fmt.Fprintln(stderr, "sqllint: SQL marker violations")
		for _, v := range violations {
			fmt.Fprintf(stderr, "  %s\n", v)
		}
		return 1
	}
	return 0
}

// lint walks targets and reports missing, malformed and duplicate markers.
func lint(targets []string) ([]violation, error) {
	var files []string
	for _, target := range targets {
		info, err := os.Stat(target)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if filepath.Ext(target) == ".go" {
				files = append(files, target)
			}
			continue
		}
		err = filepath.WalkDir(target, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != target && (strings.HasPrefix(d.Name(), ".") || strings.HasPrefix(d.Name(), "_") || d.Name() == "vendor") {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) == ".go" && !strings.HasSuffix(path, "_test.go") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	seen := make(map[string]token.Position)
	var violations []violation
	fset := token.NewFileSet()
	for _, path := range files {
		file, err := parser.ParseFile(fset, path, nil, 0)
		if err != nil {
			return nil, err
		}
		for _, q := range queries(file) {
			pos := fset.Position(q.lit.Pos())
			marker := firstLine(q.text)
			if !markerPattern.MatchString(marker) {
				violations = append(violations, violation{pos: pos, name: q.name, message: "missing or invalid --sql <uuid> marker"})
				continue
			}
			if prev, ok := seen[marker]; ok {
				violations = append(violations, violation{pos: pos, name: q.name, message: fmt.Sprintf("marker already used at %s:%d", prev.Filename, prev.Line)})
				continue
			}
			seen[marker] = pos
		}
	}
	return violations, nil
}

type query struct {
	name string
	text string
	lit  *ast.BasicLit
}

// queries returns the string constants and variables that hold SQL.
func queries(file *ast.File) []query {
	var out []query
	ast.Inspect(file, func(n ast.Node) bool {
		vs, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for i, value := range vs.Values {
			bl, ok := value.(*ast.BasicLit)
			if !ok || bl.Kind != token.STRING {
				continue
			}
			text, err := unquote(bl.Value)
			if err != nil || !sqlStatementPattern.MatchString(text) {
				continue
			}
			name := "_"
			if i < len(vs.Names) {
				name = vs.Names[i].Name
			}
			out = append(out, query{name: name, text: text, lit: bl})
		}
		return true
	})
	return out
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if len(v) >= 2 && v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}
