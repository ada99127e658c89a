package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/kozaktomas/rollcall/internal/pipeline"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJobSummary(job pipeline.Job) {
	rows := [][]string{
		{"Job", job.ID},
		{"Status", string(job.Status)},
		{"Video", job.SourceVideo},
		{"Frames processed", strconv.Itoa(job.FramesProcessed)},
		{"Faces detected", strconv.Itoa(job.FacesDetected)},
		{"Students matched", strconv.Itoa(job.StudentsMatched)},
		{"Match detections", strconv.Itoa(job.MatchDetections)},
		{"Unknown faces saved", strconv.Itoa(job.UnknownFacesSaved)},
	}
	if job.StartedAt != nil && job.CompletedAt != nil {
		rows = append(rows, []string{"Duration", job.CompletedAt.Sub(*job.StartedAt).Round(time.Millisecond).String()})
	}
	fmt.Println(renderTable([]string{"Field", "Value"}, rows, nil))

	if len(job.Errors) > 0 {
		fmt.Printf("\n%d warning(s):\n", len(job.Errors))
		for _, e := range job.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
}

// deref renders an optional string for tables.
func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
