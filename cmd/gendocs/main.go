// Command gendocs writes the piprov CLI reference as markdown pages and man pages.
//
// Usage: go run ./cmd/gendocs [output-dir]
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra/doc"

	"github.com/yoanbernabeu/piprov/internal/cmd"
)

// docsDir is where the reference lands when no directory is given
const docsDir = "docs/cli"

// linkPrefix is the site path the markdown pages are published under
const linkPrefix = "/piprov/cli/"

func main() {
	dir := docsDir
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	if err := generate(dir); err != nil {
		fmt.Fprintf(os.Stderr, "gendocs: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("CLI reference written to %s\n", dir)
}

func generate(dir string) error {
	root := cmd.GetRootCmd()
	root.DisableAutoGenTag = true

	manDir := filepath.Join(dir, "man")
	if err := os.MkdirAll(manDir, 0755); err != nil {
		return fmt.Errorf("cannot create %s: %w", manDir, err)
	}

	if err := doc.GenMarkdownTreeCustom(root, dir, frontMatter, pageLink); err != nil {
		return fmt.Errorf("markdown pages: %w", err)
	}

	header := &doc.GenManHeader{Title: "PIPROV", Section: "1", Source: "piprov " + cmd.Version}
	if err := doc.GenManTree(root, header, manDir); err != nil {
		return fmt.Errorf("man pages: %w", err)
	}
	return nil
}

// frontMatter titles each page after its command path: piprov_provision_usb.md is "piprov provision usb"
func frontMatter(filename string) string {
	name := strings.TrimSuffix(filepath.Base(filename), ".md")
	return fmt.Sprintf("---\ntitle: %q\n---\n\n", strings.ReplaceAll(name, "_", " "))
}

func pageLink(name string) string {
	return linkPrefix + strings.ToLower(strings.TrimSuffix(name, ".md")) + "/"
}
