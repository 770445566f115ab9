// ABOUTME: Table rendering of suite results shared by run and report show
// ABOUTME: Writes to stdout so logs on stderr stay separate from results
package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/pterm/pterm"

	"github.com/gillisandrew/regverify/internal/verifier"
)

// ResultTable builds table rows for a suite result
func ResultTable(result *verifier.Result) pterm.TableData {
	tableData := pterm.TableData{
		{"SCENARIO", "STATUS", "CHECK", "DURATION", "DETAIL"},
	}

	for _, s := range result.Scenarios {
		status := string(s.Status)
		switch s.Status {
		case verifier.StatusPassed:
			status = pterm.Green("PASSED")
		case verifier.StatusFailed:
			status = pterm.Red("FAILED")
		case verifier.StatusSkipped:
			status = pterm.Yellow("SKIPPED")
		}

		tableData = append(tableData, []string{
			s.Name,
			status,
			s.Check,
			s.Duration.Round(time.Millisecond).String(),
			s.Detail,
		})
	}
	return tableData
}

// RenderResult prints the result table and a one-line summary to w
func RenderResult(w io.Writer, result *verifier.Result) error {
	if err := pterm.DefaultTable.WithHasHeader().WithData(ResultTable(result)).WithWriter(w).Render(); err != nil {
		return fmt.Errorf("failed to render results: %w", err)
	}

	verdict := pterm.Green("PASSED")
	if !result.Passed() {
		verdict = pterm.Red("FAILED")
	}
	_, err := fmt.Fprintf(w, "\n%s: %d passed, %d failed, %d skipped (core %s, regime %s, environment %s)\n",
		verdict,
		result.Count(verifier.StatusPassed),
		result.Count(verifier.StatusFailed),
		result.Count(verifier.StatusSkipped),
		result.CoreVersion,
		result.Regime,
		result.Environment.Name,
	)
	return err
}
