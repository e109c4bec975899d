package vvm

import (
	"context"
	"encoding/json"
	"os/exec"

	"github.com/Masterminds/semver"
	"github.com/crytic/vyperlens/compilation/pragma"
	"github.com/crytic/vyperlens/compilation/types"
	"github.com/crytic/vyperlens/utils"
	"github.com/pkg/errors"
)

// BinaryLocator finds the executable of an installed version.
type BinaryLocator interface {
	BinaryPath(version *semver.Version) (string, error)
}

// Toolchain runs vyper binaries in standard JSON mode.
type Toolchain struct {
	locator BinaryLocator
}

// NewToolchain creates a toolchain resolving binaries through locator, usually a *Registry.
func NewToolchain(locator BinaryLocator) *Toolchain {
	return &Toolchain{locator: locator}
}

// outputDiagnostic is an entry of the "errors" member of standard JSON output.
type outputDiagnostic struct {
	Type             string `json:"type"`
	Component        string `json:"component"`
	Severity         string `json:"severity"`
	Message          string `json:"message"`
	FormattedMessage string `json:"formattedMessage"`
	SourceLocation   *struct {
		File      string `json:"file"`
		LineNo    int    `json:"lineno"`
		ColOffset int    `json:"col_offset"`
	} `json:"sourceLocation"`
}

// CompileStandard feeds input to `vyper --standard-json` and returns the raw output document. basePath, when set,
// is passed with -p. Diagnostics with error severity, or a failed run, produce a *types.CompileError. Warnings are dropped.
func (t *Toolchain) CompileStandard(ctx context.Context, version *semver.Version, input []byte, basePath string) ([]byte, error) {
	binary, err := t.locator.BinaryPath(version)
	if err != nil {
		return nil, err
	}
	args := []string{"--standard-json"}
	if basePath != "" {
		args = append(args, "-p", basePath)
	}

	stdout, stderr, _, runErr := utils.RunCommandWithOutputAndError(exec.CommandContext(ctx, binary, args...), input)
	return ParseStandardOutput(pragma.FormatVersion(version), stdout, stderr, runErr)
}

// ParseStandardOutput checks a standard JSON run for failures and returns the output document.
func ParseStandardOutput(version string, stdout []byte, stderr []byte, runErr error) ([]byte, error) {
	var output struct {
		Errors []outputDiagnostic `json:"errors"`
	}
	if err := json.Unmarshal(stdout, &output); err != nil {
		if runErr == nil {
			runErr = errors.Wrap(err, "unable to parse compiler output")
		}
		return nil, &types.CompileError{Version: version, Stderr: string(stderr), Err: runErr}
	}

	var diagnostics []types.Diagnostic
	for _, raw := range output.Errors {
		diagnostic := types.Diagnostic{
			Type:             raw.Type,
			Component:        raw.Component,
			Severity:         raw.Severity,
			Message:          raw.Message,
			FormattedMessage: raw.FormattedMessage,
		}
		if raw.SourceLocation != nil {
			diagnostic.File = raw.SourceLocation.File
			diagnostic.Line = raw.SourceLocation.LineNo
			diagnostic.Column = raw.SourceLocation.ColOffset
		}
		if diagnostic.IsError() {
			diagnostics = append(diagnostics, diagnostic)
		}
	}
	if len(diagnostics) > 0 {
		return nil, &types.CompileError{Version: version, Diagnostics: diagnostics, Stderr: string(stderr), Err: runErr}
	}
	if runErr != nil {
		return nil, &types.CompileError{Version: version, Stderr: string(stderr), Err: runErr}
	}
	return stdout, nil
}
