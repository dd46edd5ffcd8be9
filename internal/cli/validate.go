package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/catalog"
)

// Error codes for catalog loading, ahead of catalog's own E1xx range.
const (
	ErrCodeGeneric        = "E001"
	ErrCodeFileNotFound   = "E002"
	ErrCodeCompileFailure = "E003"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool                       `json:"valid"`
	Operations int                        `json:"operations"`
	Errors     []catalog.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <catalog.cue>",
		Short: "Validate an operation catalog",
		Long: `Compile a CUE operation catalog and check it for semantic problems:
blank queries, variables used but not declared (or declared but unused),
success actions that are themselves catalogued, and resources that cannot
be refetched.

Exit codes:
  0 - Catalog valid
  1 - Catalog compiled but has validation errors
  2 - Catalog missing or does not compile`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	if _, err := os.Stat(path); err != nil {
		return outputValidateError(formatter, ErrCodeFileNotFound, fmt.Sprintf("catalog not found: %s", path), nil)
	}

	cat, err := catalog.Load(path)
	if err != nil {
		var compileErr *catalog.CompileError
		if errors.As(err, &compileErr) {
			details := map[string]any{"field": compileErr.Field}
			if compileErr.Pos.IsValid() {
				details["line"] = compileErr.Pos.Line()
			}
			return outputValidateError(formatter, ErrCodeCompileFailure, compileErr.Error(), details)
		}
		return outputValidateError(formatter, ErrCodeCompileFailure, err.Error(), nil)
	}

	formatter.VerboseLog("Compiled %d operation(s) from %s", cat.Len(), path)
	for _, action := range cat.Actions() {
		formatter.VerboseLog("Validating operation: %s", action)
	}

	if errs := catalog.Validate(cat); len(errs) > 0 {
		return outputValidationErrors(formatter, cat.Len(), errs)
	}
	return outputValidateSuccess(formatter, cat.Len())
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, operations int) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Operations: operations})
	}

	fmt.Fprintf(formatter.Writer, "✓ Catalog valid (%d operations)\n", operations)
	return nil
}

// outputValidateError outputs a single load or compile error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Load errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, operations int, errs []catalog.ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Operations: operations, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
