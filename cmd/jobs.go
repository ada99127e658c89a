package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/pipeline"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List processing jobs or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)

	jobsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runJobs(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	a, err := openApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if len(args) == 1 {
		job, err := a.jobs.Status(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(job)
		}
		printJobSummary(job)
		return nil
	}

	jobs, err := a.jobs.List(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(jobs)
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs")
		return nil
	}
	fmt.Println(renderTable(
		[]string{"Job", "Status", "Created", "Frames", "Students", "Unknown", "Warnings"},
		jobRows(jobs),
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
	))
	return nil
}

func jobRows(jobs []pipeline.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			j.ID,
			string(j.Status),
			j.CreatedAt.Local().Format(time.DateTime),
			strconv.Itoa(j.FramesProcessed),
			strconv.Itoa(j.StudentsMatched),
			strconv.Itoa(j.UnknownFacesSaved),
			strconv.Itoa(len(j.Errors)),
		})
	}
	return rows
}
