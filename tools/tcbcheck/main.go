// Package main implements an import restriction linter for the payment core.
//
// The money-moving packages under pkg/ must not depend on the HTTP surface,
// authentication, telemetry or the binaries. It scans their non-test Go files
// and reports every import that crosses that boundary.
//
// Usage:
//
//	go run ./tools/tcbcheck [-root <project-root>]
package main

import (
	"flag"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// corePackages are the directories under pkg/ that form the payment core.
var corePackages = []string{
	"finance", "payerr", "token", "store", "journal", "ledger", "rules", "streams", "escrow",
}

// Forbidden import path fragments. Any non-test Go file in a core package
// that imports one of these is a violation.
var forbiddenFragments = []string{
	"net/http",
	"/pkg/api",
	"/pkg/auth",
	"/pkg/observability",
	"/pkg/export",
	"/cmd/",
	"/sdk/",
	"go.opentelemetry.io/",
}

// violation is one forbidden import.
type violation struct {
	File     string
	Line     int
	Import   string
	Fragment string
}

func (v violation) String() string {
	return fmt.Sprintf("%s:%d imports %q (contains forbidden fragment %q)", v.File, v.Line, v.Import, v.Fragment)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tcbcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := fs.String("root", ".", "Project root directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	violations, err := scan(*root)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	for _, v := range violations {
		_, _ = fmt.Fprintf(stdout, "CORE VIOLATION: %s\n", v)
	}
	if len(violations) > 0 {
		_, _ = fmt.Fprintf(stdout, "\n%d core import violation(s) found\n", len(violations))
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "core isolation check passed")
	return 0
}

// scan walks every core package under root/pkg.
func scan(root string) ([]violation, error) {
	var out []violation
	fset := token.NewFileSet()
	for _, pkg := range corePackages {
		dir := filepath.Join(root, "pkg", pkg)
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("%s: %w", dir, err)
		}
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				if info.Name() == "testdata" {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
				return nil
			}
			f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
			if err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
			for _, imp := range f.Imports {
				importPath := strings.Trim(imp.Path.Value, `"`)
				for _, frag := range forbiddenFragments {
					if strings.Contains(importPath, frag) {
						rel, _ := filepath.Rel(root, path)
						out = append(out, violation{
							File: rel, Line: fset.Position(imp.Pos()).Line, Import: importPath, Fragment: frag,
						})
					}
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
