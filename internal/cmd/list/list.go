// ABOUTME: List command for displaying the available lifecycle scenarios
// ABOUTME: Shows each scenario with its required capabilities and whether it runs here
package list

import (
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/gillisandrew/regverify/internal/cmd"
	"github.com/gillisandrew/regverify/internal/config"
	"github.com/gillisandrew/regverify/internal/domain"
	"github.com/gillisandrew/regverify/internal/verifier"
)

func NewListCommand(ctx *cmd.CommandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registration lifecycle scenarios",
		Long: `List every scenario in execution order with the environment capabilities
it requires. Scenarios whose capabilities the configured environment lacks
are reported as skipped by 'regverify run'.`,
		Run: func(command *cobra.Command, args []string) {
			if err := runListCommand(ctx); err != nil {
				ctx.Logger.Error("List command failed", ctx.Logger.Args("error", err))
				os.Exit(1)
			}
		},
	}
}

func runListCommand(ctx *cmd.CommandContext) error {
	cfg, _, err := ctx.LoadSettings()
	if err != nil {
		ctx.Logger.Warn("Failed to load settings, using defaults", ctx.Logger.Args("error", err))
		cfg = config.DefaultConfig()
	}
	env := cfg.ResolvedEnvironment()

	if err := pterm.DefaultTable.WithHasHeader().WithData(scenarioTable(verifier.Scenarios(), env)).Render(); err != nil {
		return err
	}

	ctx.Logger.Info("Scenario list summary", ctx.Logger.Args(
		"total", len(verifier.Scenarios()),
		"environment", env.Name,
		"capabilities", cfg.CapabilityList(),
	))
	return nil
}

func scenarioTable(scenarios []verifier.Scenario, env domain.Environment) pterm.TableData {
	tableData := pterm.TableData{
		{"NAME", "REQUIRES", "RUNS", "DESCRIPTION"},
	}

	for _, s := range scenarios {
		requires := make([]string, 0, len(s.Requires))
		runs := "yes"
		for _, c := range s.Requires {
			requires = append(requires, string(c))
			if !env.Has(c) {
				runs = "skipped"
			}
		}
		if len(requires) == 0 {
			requires = append(requires, "-")
		}

		tableData = append(tableData, []string{
			s.Name,
			strings.Join(requires, ","),
			runs,
			s.Description,
		})
	}
	return tableData
}
