package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evanharte/planwright/internal/policy"
)

// ValidationIssue is one problem found in an input file.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Policy   string
	Registry string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <plan.yaml>",
		Short: "Validate a plan and its policy and registry snapshot",
		Long: `Validate a plan file together with the policy and registry snapshot
it will run against.

Checks the plan's structure (transition ids, processor refs, write-set
selectors), validates the policy and snapshot against their schemas, and
verifies every processor the plan references is pinned in the snapshot.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Policy, "policy", "", "path to policy YAML (required)")
	_ = cmd.MarkFlagRequired("policy")
	cmd.Flags().StringVar(&opts.Registry, "registry", "", "path to registry snapshot YAML (required)")
	_ = cmd.MarkFlagRequired("registry")

	return cmd
}

func runValidate(opts *ValidateOptions, planPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	var issues []ValidationIssue

	formatter.VerboseLog("Validating plan: %s", planPath)
	p, loadErrs := LoadPlan(planPath)
	for _, err := range loadErrs {
		issues = append(issues, toIssue(err, planPath))
	}

	formatter.VerboseLog("Validating policy: %s", opts.Policy)
	doc, err := policy.Load(opts.Policy)
	if err != nil {
		issues = append(issues, toIssue(err, opts.Policy))
	}

	formatter.VerboseLog("Validating registry snapshot: %s", opts.Registry)
	snap, err := policy.LoadSnapshot(opts.Registry)
	if err != nil {
		issues = append(issues, toIssue(err, opts.Registry))
	}

	// Cross-checks only make sense once all three inputs parsed.
	if p != nil && doc != nil && snap != nil {
		if p.RegistrySnapshotID != snap.ID {
			issues = append(issues, ValidationIssue{
				Code:    ErrCodeSnapshotRef,
				Message: fmt.Sprintf("plan pins snapshot %q but registry file is %q", p.RegistrySnapshotID, snap.ID),
				File:    planPath,
			})
		}
		for _, t := range p.Transitions {
			if _, ok := snap.Processor(t.ProcessorRef); !ok {
				issues = append(issues, ValidationIssue{
					Code:    ErrCodeProcessorRef,
					Message: fmt.Sprintf("transition %q references processor %q not pinned in snapshot %q", t.ID, t.ProcessorRef, snap.ID),
					File:    planPath,
				})
			}
		}
	}

	if len(issues) > 0 {
		return outputValidationErrors(formatter, issues)
	}
	return outputValidateSuccess(formatter)
}

// toIssue converts loader and schema errors into a uniform issue record.
func toIssue(err error, file string) ValidationIssue {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return ValidationIssue{Code: loadErr.Code, Message: loadErr.Message, File: file}
	}
	var schemaErr *policy.SchemaError
	if errors.As(err, &schemaErr) {
		return ValidationIssue{Code: ErrCodeSchemaViol, Message: schemaErr.Error(), File: file}
	}
	return ValidationIssue{Code: ErrCodeGeneric, Message: err.Error(), File: file}
}

func outputValidateSuccess(formatter *OutputFormatter) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true})
	}
	fmt.Fprintln(formatter.Writer, "✓ Plan, policy, and registry snapshot valid")
	return nil
}

func outputValidationErrors(formatter *OutputFormatter, issues []ValidationIssue) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range issues {
		if issue.File != "" {
			fmt.Fprintf(formatter.Writer, "%s\n", issue.File)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
}
