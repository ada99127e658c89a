package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/attendance"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove graduated students",
	Long: `Remove every student whose graduation year is at or before the cutoff,
together with their face encodings and attendance records. The cutoff
defaults to the year before CURRENT_ACADEMIC_YEAR.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().Int("cutoff", 0, "Graduation year cutoff (default: current academic year - 1)")
	cleanupCmd.Flags().Bool("json", false, "Output as JSON")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	var cutoff *int
	if c := mustGetInt(cmd, "cutoff"); c != 0 {
		cutoff = &c
	}

	ctx := context.Background()
	a, err := openApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	result, err := a.attendance.Cleanup(ctx, cutoff)
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return printJSON(result)
	}

	fmt.Printf("Removed %d student(s) graduating in or before %d\n", result.RemovedCount, result.Cutoff)
	if rows := cleanupRows(result); len(rows) > 0 {
		fmt.Println(renderTable([]string{"Student ID", "Result", "Error"}, rows, nil))
	}
	if len(result.Failures) > 0 {
		return fmt.Errorf("%d student(s) could not be removed", len(result.Failures))
	}
	return nil
}

func cleanupRows(result attendance.CleanupResult) [][]string {
	rows := make([][]string, 0, len(result.RemovedStudentIDs)+len(result.Failures))
	for _, id := range result.RemovedStudentIDs {
		rows = append(rows, []string{id, "removed", ""})
	}
	for _, f := range result.Failures {
		rows = append(rows, []string{f.StudentID, "failed", f.Error})
	}
	return rows
}
