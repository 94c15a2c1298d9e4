package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/roach88/flowlineage/internal/config"
	"github.com/roach88/flowlineage/internal/feeds"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                `json:"valid"`
	Errors []config.FieldError `json:"errors,omitempty"`
	Feeds  int                 `json:"feeds,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration without running the pipeline",
		Long: `Validate a configuration file against the built-in schema.

Defaults, the file and FLOWLINEAGE_* environment variables are merged
exactly as the run command does. If the configuration names a feed map,
the feed map is loaded and checked too.

Example:
  flowlineage validate --config flowlineage.yaml
  flowlineage validate --config flowlineage.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, configPath, cmd)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config")

	return cmd
}

func runValidate(opts *RootOptions, configPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	if configPath != "" {
		formatter.VerboseLog("Validating %s", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			return outputValidationErrors(formatter, verr.Fields)
		}
		if errors.Is(err, fs.ErrNotExist) {
			return outputValidateError(formatter, ErrCodeNotFound, err.Error(), nil)
		}
		return outputValidateError(formatter, ErrCodeInvalidConfig, err.Error(), nil)
	}

	result := ValidationResult{Valid: true}
	if cfg.Feeds.Path != "" {
		static, err := feeds.LoadFile(cfg.Feeds.Path)
		if err != nil {
			return outputValidateError(formatter, ErrCodeFeedMap, err.Error(), nil)
		}
		result.Feeds = static.Len()
		formatter.VerboseLog("Feed map %s defines %d feed(s)", cfg.Feeds.Path, static.Len())
	}

	return outputValidateSuccess(formatter, result)
}

// validationDetails returns the per-field errors carried by err, if any.
func validationDetails(err error) interface{} {
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		return verr.Fields
	}
	return nil
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintln(formatter.Writer, "✓ Configuration valid")
	if result.Feeds > 0 {
		fmt.Fprintf(formatter.Writer, "  feed map: %d feed(s)\n", result.Feeds)
	}
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Unreadable files are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []config.FieldError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data: ValidationResult{
				Valid:  false,
				Errors: errs,
			},
			Error: &CLIError{
				Code:    ErrCodeInvalidConfig,
				Message: errs[0].Path + ": " + errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", err.Path, err.Message)
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
