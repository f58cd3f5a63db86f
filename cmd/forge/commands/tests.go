package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTestsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tests",
		Short: "Inspect the configured test-filter rules",
	}

	cmd.AddCommand(newTestsFilterCommand())

	return cmd
}

func newTestsFilterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "filter <name>...",
		Short: "Apply the test filters to the given test names",
		Long: `Apply the tests.filters rules from the project config to test names
and report which would run.

"skip" rules exclude matching tests. When any "only" rule is present, tests
must match one of them to run; skip still wins over only.`,
		Example: `  # Check two test names against the configured filters
  forge tests filter TestFetch TestSlowEndToEnd`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proj, err := loadProject(cmd.Context())
			if err != nil {
				return err
			}

			type decision struct {
				Name string `json:"name"`
				Run  bool   `json:"run"`
			}
			decisions := make([]decision, 0, len(args))
			for _, name := range args {
				decisions = append(decisions, decision{Name: name, Run: proj.Tests.ShouldRun(name)})
			}

			if jsonOutput {
				return printJSON(decisions)
			}
			for _, d := range decisions {
				if d.Run {
					fmt.Printf("run  %s\n", d.Name)
				} else {
					fmt.Printf("skip %s\n", d.Name)
				}
			}
			return nil
		},
	}
}
