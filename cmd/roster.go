package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/database"
)

var rosterCmd = &cobra.Command{
	Use:   "roster [date]",
	Short: "Show the attendance ledger of a day",
	Long:  `Show every attendance record of a day (YYYY-MM-DD, default today) ordered by time.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRoster,
}

var overrideCmd = &cobra.Command{
	Use:   "override <student-id> <present|absent>",
	Short: "Set a student's attendance by hand",
	Args:  cobra.ExactArgs(2),
	RunE:  runOverride,
}

func init() {
	rootCmd.AddCommand(rosterCmd)
	rootCmd.AddCommand(overrideCmd)

	rosterCmd.Flags().Bool("json", false, "Output as JSON")

	overrideCmd.Flags().String("date", "", "Date in YYYY-MM-DD (default today)")
	overrideCmd.Flags().String("name", "", "Student name (default: the enrolled name)")
	overrideCmd.Flags().String("division", "", "Division (default: keep the recorded one)")
}

func runRoster(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	date := ""
	if len(args) == 1 {
		date = args[0]
	}

	ctx := context.Background()
	a, err := openApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	roster, err := a.attendance.Roster(ctx, date)
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return printJSON(roster)
	}

	fmt.Printf("Attendance for %s (%d records)\n", roster.Date, roster.Total)
	if roster.Total == 0 {
		return nil
	}
	fmt.Println(renderTable(
		[]string{"Time", "Student ID", "Name", "Division", "Status"},
		rosterRows(roster.Records),
		nil,
	))
	return nil
}

func rosterRows(records []database.AttendanceRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{r.Time, r.StudentID, r.StudentName, deref(r.Division), string(r.Status)})
	}
	return rows
}

func runOverride(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime(cmd)
	if err != nil {
		return err
	}

	req := overrideRequest(args[0], args[1], mustGetString(cmd, "name"), mustGetString(cmd, "division"), mustGetString(cmd, "date"))

	ctx := context.Background()
	a, err := openApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	rec, err := a.attendance.Override(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("Student '%s' (%s) marked as %s for %s.\n", rec.StudentName, rec.StudentID, rec.Status, rec.Date)
	return nil
}

// overrideRequest builds the override from command arguments; empty
// division keeps the recorded one.
func overrideRequest(studentID, status, name, division, date string) attendance.OverrideRequest {
	req := attendance.OverrideRequest{
		StudentID: studentID,
		Name:      name,
		Date:      date,
		Status:    database.AttendanceStatus(strings.ToLower(status)),
	}
	if division != "" {
		req.Division = &division
	}
	return req
}
