package types

import (
	"fmt"
	"strings"
)

// InstallError reports that no toolchain version could be provided for a constraint.
type InstallError struct {
	// Constraint is the version constraint being satisfied, if any.
	Constraint string
	// Version is the version that failed to install, if one was chosen.
	Version string
	Err     error
}

// Error implements the error interface.
func (e *InstallError) Error() string {
	var subject string
	switch {
	case e.Version != "" && e.Constraint != "":
		subject = fmt.Sprintf("vyper %s (for '%s')", e.Version, e.Constraint)
	case e.Version != "":
		subject = "vyper " + e.Version
	case e.Constraint != "":
		subject = fmt.Sprintf("a vyper version matching '%s'", e.Constraint)
	default:
		subject = "vyper"
	}
	if e.Err == nil {
		return "unable to install " + subject
	}
	return fmt.Sprintf("unable to install %s: %v", subject, e.Err)
}

// Unwrap returns the underlying cause.
func (e *InstallError) Unwrap() error {
	return e.Err
}

// Diagnostic is one structured error or warning emitted by the compiler.
type Diagnostic struct {
	File             string `json:"file,omitempty"`
	Type             string `json:"type"`
	Component        string `json:"component,omitempty"`
	Severity         string `json:"severity"`
	Message          string `json:"message"`
	FormattedMessage string `json:"formattedMessage,omitempty"`
	Line             int    `json:"line,omitempty"`
	Column           int    `json:"column,omitempty"`
}

// IsError reports whether the diagnostic fails compilation.
func (d Diagnostic) IsError() bool {
	return !strings.EqualFold(d.Severity, "warning")
}

// String renders the diagnostic, preferring the compiler's own formatting.
func (d Diagnostic) String() string {
	if d.FormattedMessage != "" {
		return strings.TrimSpace(d.FormattedMessage)
	}
	location := d.File
	if d.Line > 0 {
		location = fmt.Sprintf("%s:%d:%d", d.File, d.Line, d.Column)
	}
	if location != "" {
		return fmt.Sprintf("%s: %s: %s", location, d.Type, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Type, d.Message)
}

// CompileError reports that the compiler rejected its input.
type CompileError struct {
	Version     string
	Diagnostics []Diagnostic
	Stderr      string
	Err         error
}

// Error joins the structured diagnostics, falling back to stderr and then the underlying error.
func (e *CompileError) Error() string {
	var message string
	if len(e.Diagnostics) > 0 {
		parts := make([]string, 0, len(e.Diagnostics))
		for _, diagnostic := range e.Diagnostics {
			parts = append(parts, diagnostic.String())
		}
		message = strings.Join(parts, "\n")
	} else if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		message = stderr
	} else if e.Err != nil {
		message = e.Err.Error()
	} else {
		message = "unknown compiler failure"
	}
	if e.Version != "" {
		return fmt.Sprintf("vyper %s: %s", e.Version, message)
	}
	return message
}

// Unwrap returns the underlying cause.
func (e *CompileError) Unwrap() error {
	return e.Err
}
