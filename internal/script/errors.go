package script

import (
	"fmt"
	"strings"
)

// MissingParameterError is returned when required parameters have no value
type MissingParameterError struct {
	Template string
	Names    []string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("%s: missing required parameter(s): %s", e.Template, strings.Join(e.Names, ", "))
}

// TemplateError reports a malformed template
type TemplateError struct {
	Template   string
	Undeclared []string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("%s: template uses undeclared placeholder(s): %s", e.Template, strings.Join(e.Undeclared, ", "))
}

// InvalidParameterError is returned when a parameter value fails validation
type InvalidParameterError struct {
	Template string
	Name     string
	Err      error
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("%s: invalid %s: %v", e.Template, e.Name, e.Err)
}

func (e *InvalidParameterError) Unwrap() error {
	return e.Err
}
