package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/refold/refold/internal/spec"
)

// ValidationResult holds validation results for output.
type ValidationResult struct {
	Valid  bool                   `json:"valid"`
	Errors []spec.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var specPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate a specification without processing any data",
		Long: `Load a specification (YAML file, CUE file, or CUE directory), parse it,
and run the full validation pass: schema version, name uniqueness,
candidate lists, expressions, and derived-column cycles. All errors are
collected and reported together.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateCmd(rootOpts, specPath, cmd)
		},
	}

	cmd.Flags().StringVar(&specPath, "spec", "", "spec file or CUE directory (required)")
	cmd.MarkFlagRequired("spec")
	return cmd
}

func runValidateCmd(opts *RootOptions, specPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	sp, err := LoadSpec(specPath)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			formatter.Error(le.Code, le.Message, nil)
			return NewExitError(ExitCommandError, le.Message)
		}
		formatter.Error(ErrCodeSpecLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "loading spec", err)
	}

	verrs := sp.Validate()
	result := ValidationResult{Valid: len(verrs) == 0, Errors: verrs}

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		if result.Valid {
			fmt.Fprintf(formatter.Writer, "spec valid: %d condition column(s), %d file profile(s), %d derived column(s)\n",
				len(sp.Conditions), len(sp.Files), len(sp.Derived))
		} else {
			fmt.Fprintf(formatter.Writer, "spec invalid: %d error(s)\n", len(verrs))
			for _, v := range verrs {
				fmt.Fprintf(formatter.Writer, "  %s\n", v.Error())
			}
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(verrs)))
	}
	return nil
}
