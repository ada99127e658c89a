package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var unknownCmd = &cobra.Command{
	Use:   "unknown",
	Short: "List archived unknown faces",
	Args:  cobra.NoArgs,
	RunE:  runUnknown,
}

func init() {
	rootCmd.AddCommand(unknownCmd)

	unknownCmd.Flags().Bool("json", false, "Output as JSON")
}

func runUnknown(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := openApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	faces, err := a.attendance.UnknownFaces(ctx)
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return printJSON(faces)
	}

	fmt.Printf("%d unknown face(s) in %s\n", len(faces), a.archive.Dir())
	if len(faces) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(faces))
	for _, f := range faces {
		rows = append(rows, []string{
			f.DetectedAt.Local().Format(time.DateTime),
			f.JobID,
			strconv.FormatFloat(f.FrameOffset, 'f', 1, 64),
			filepath.Join(a.archive.Dir(), f.Filename),
		})
	}
	fmt.Println(renderTable([]string{"Detected", "Job", "Offset (s)", "File"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
	return nil
}
