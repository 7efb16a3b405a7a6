// Package script renders parameterized shell command templates.
//
// Templates are plain shell text with {{name}} placeholders. Every value is
// shell-quoted before substitution, so a placeholder always expands to exactly
// one shell word regardless of its content. Rendering never touches the network.
package script

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/yoanbernabeu/piprov/internal/security"
)

// RedactedValue replaces secret parameter values in the redacted form of a command
const RedactedValue = "'****'"

var placeholderRegex = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Param declares a template parameter
type Param struct {
	Name     string
	Required bool
	Default  string
	// Secret values are masked in Command.Redacted
	Secret   bool
	Validate func(string) error
	// Usage is shown by the CLI for the generated flag
	Usage string
	// Hidden params are filled in by the caller, never by the operator
	Hidden bool
}

// Template is a named shell command skeleton
type Template struct {
	Name   string
	Text   string
	Params []Param
}

// Param returns the declared parameter with the given name
func (t Template) Param(name string) (Param, bool) {
	for _, p := range t.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Placeholders returns the distinct placeholder names in order of first use
func (t Template) Placeholders() []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderRegex.FindAllStringSubmatch(t.Text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Check verifies that every placeholder is declared
func (t Template) Check() error {
	var undeclared []string
	for _, name := range t.Placeholders() {
		if _, ok := t.Param(name); !ok {
			undeclared = append(undeclared, name)
		}
	}
	if len(undeclared) > 0 {
		return &TemplateError{Template: t.Name, Undeclared: undeclared}
	}
	return nil
}

// Command is a fully rendered, ready-to-run shell command
type Command struct {
	Name string
	Text string
	// Params lists the parameter names that were substituted
	Params   []string
	redacted string
}

// Redacted returns the command with secret values masked
func (c Command) Redacted() string {
	if c.redacted == "" {
		return c.Text
	}
	return c.redacted
}

// String returns the redacted form so commands are safe to print
func (c Command) String() string {
	return c.Redacted()
}

// Raw builds a command from literal shell text with no parameters
func Raw(name, text string) Command {
	return Command{Name: name, Text: text}
}

// Quote shell-quotes a single value
func Quote(s string) string {
	return security.ShellEscape(s)
}

// Builder renders templates into commands
type Builder struct{}

// NewBuilder creates a new Builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Render substitutes params into tpl.
// Parameters supplied but not declared by the template are ignored.
func (b *Builder) Render(tpl Template, params map[string]string) (Command, error) {
	if err := tpl.Check(); err != nil {
		return Command{}, err
	}

	values := make(map[string]string, len(tpl.Params))
	var missing []string
	for _, p := range tpl.Params {
		v, ok := params[p.Name]
		if !ok || v == "" {
			v = p.Default
		}
		if v == "" && p.Required {
			missing = append(missing, p.Name)
			continue
		}
		values[p.Name] = v
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Command{}, &MissingParameterError{Template: tpl.Name, Names: missing}
	}

	for _, p := range tpl.Params {
		if p.Validate == nil {
			continue
		}
		v, ok := values[p.Name]
		if !ok || (v == "" && !p.Required) {
			continue
		}
		if err := p.Validate(v); err != nil {
			return Command{}, &InvalidParameterError{Template: tpl.Name, Name: p.Name, Err: err}
		}
	}

	used := tpl.Placeholders()
	text := substitute(tpl.Text, func(name string) string {
		return Quote(values[name])
	})

	cmd := Command{Name: tpl.Name, Text: text, Params: used}
	if hasSecret(tpl, used) {
		cmd.redacted = substitute(tpl.Text, func(name string) string {
			if p, _ := tpl.Param(name); p.Secret {
				return RedactedValue
			}
			return Quote(values[name])
		})
	}
	return cmd, nil
}

func substitute(text string, value func(name string) string) string {
	return placeholderRegex.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderRegex.FindStringSubmatch(match)[1]
		return value(name)
	})
}

func hasSecret(tpl Template, used []string) bool {
	for _, name := range used {
		if p, _ := tpl.Param(name); p.Secret {
			return true
		}
	}
	return false
}

// Describe returns a one-line summary of a template's parameters, for help output
func Describe(tpl Template) string {
	var parts []string
	for _, p := range tpl.Params {
		switch {
		case p.Required:
			parts = append(parts, p.Name)
		case p.Default != "":
			parts = append(parts, fmt.Sprintf("[%s=%s]", p.Name, p.Default))
		default:
			parts = append(parts, "["+p.Name+"]")
		}
	}
	return strings.Join(parts, " ")
}
