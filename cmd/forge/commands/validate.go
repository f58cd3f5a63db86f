package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/arrayforge/arrayforge/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the workspace and project configuration",
		Long: `Validate the Starlark workspace file and the CUE project config.

This command checks:
  - Workspace syntax and pin completeness (commit, sha256, urls)
  - CUE config schema conformance
  - Pin admission policies (builtin plus project .rego files)`,
		Example: `  # Validate the current project
  forge validate

  # Treat policy warnings as errors
  forge validate --strict`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log.Info().
				Str("workspace", resolveWorkspacePath()).
				Str("config", resolveConfigPath()).
				Bool("strict", strict).
				Msg("Validating project")

			proj, err := loadProject(ctx)
			if err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}

			ws, err := loadWorkspace(ctx)
			if err != nil {
				return fmt.Errorf("workspace validation failed: %w", err)
			}

			engine, err := newPolicyEngine(ctx)
			if err != nil {
				return err
			}

			var violations, warnings []policy.Violation
			for _, pin := range ws.Pins {
				result, err := engine.EvaluatePin(ctx, pin, proj.Checks.AllowedHosts)
				if err != nil {
					return err
				}
				applySuppressions(&proj.Checks, result)
				violations = append(violations, result.Violations...)
				warnings = append(warnings, result.Warnings...)
			}

			if jsonOutput {
				return printJSON(map[string]interface{}{
					"pins":       len(ws.Pins),
					"violations": violations,
					"warnings":   warnings,
				})
			}

			for _, v := range warnings {
				fmt.Printf("warning [%s] %s\n", v.Policy, v.Message)
			}
			for _, v := range violations {
				fmt.Printf("error   [%s] %s\n", v.Policy, v.Message)
			}

			if len(violations) > 0 {
				return fmt.Errorf("validation failed: %d policy violation(s)", len(violations))
			}
			if strict && len(warnings) > 0 {
				return fmt.Errorf("validation failed: %d warning(s) in strict mode", len(warnings))
			}

			fmt.Printf("✓ %d pin(s) valid\n", len(ws.Pins))
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "treat policy warnings as errors")

	return cmd
}
