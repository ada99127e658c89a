package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/attendance"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <student-id> <name> <image> [image...]",
	Short: "Enroll a student from face images",
	Long: `Enroll a student, or add face images to an enrolled student.
Each image must show the student's face; when several faces are visible
the largest one is used.`,
	Args: cobra.MinimumNArgs(3),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("division", "", "Class division, e.g. 4A")
	enrollCmd.Flags().Int("graduation-year", 0, "Graduation year")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime(cmd)
	if err != nil {
		return err
	}

	req := attendance.EnrollRequest{StudentID: args[0], Name: args[1]}
	if division := mustGetString(cmd, "division"); division != "" {
		req.Division = &division
	}
	if year := mustGetInt(cmd, "graduation-year"); year != 0 {
		req.GraduationYear = &year
	}
	for _, path := range args[2:] {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		req.Images = append(req.Images, data)
	}

	ctx := context.Background()
	a, err := openApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	result, err := a.attendance.Enroll(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("Successfully enrolled %d new encoding(s) for student '%s' (%s).\n", result.Added, req.Name, result.StudentID)
	fmt.Printf("Encodings stored: %d\n", result.EncodingsStored)
	return nil
}
