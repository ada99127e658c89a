package cmd

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/pipeline"
)

var processCmd = &cobra.Command{
	Use:   "process <video>",
	Short: "Process a classroom video and record attendance",
	Long: `Process a video file in the foreground.
Recognised students are marked present for the day the video was recorded;
unknown faces are archived under the data directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().String("recorded-at", "", "Recording time in RFC3339 (default: now)")
	processCmd.Flags().Float64("fps", 0, "Frames analysed per second (overrides FRAMES_PER_SECOND)")
	processCmd.Flags().Bool("json", false, "Print the final job as JSON")
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	if fps := mustGetFloat64(cmd, "fps"); fps > 0 {
		cfg.Sampling.FramesPerSecond = fps
	}
	jsonOutput := mustGetBool(cmd, "json")

	var recordedAt time.Time
	if v := mustGetString(cmd, "recorded-at"); v != "" {
		recordedAt, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return fmt.Errorf("invalid --recorded-at: %w", err)
		}
	}

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	lock, err := acquireLock(cfg)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	ctx := context.Background()
	a, err := openApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = a.Close(closeCtx)
	}()

	job, err := a.jobs.Submit(ctx, pipeline.SubmitRequest{VideoPath: path, RecordedAt: recordedAt})
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		if _, ok := <-sigChan; ok {
			_ = a.jobs.Cancel(job.ID)
		}
	}()

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = newFrameProgressBar(expectedFrames(ctx, a, path))
		if sub, err := a.jobs.Subscribe(job.ID); err == nil {
			go trackProgress(sub, bar)
		}
	}

	final, err := a.jobs.Wait(ctx, job.ID)
	if err != nil {
		return err
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}

	if jsonOutput {
		return printJSON(final)
	}
	printJobSummary(final)
	if final.Status == pipeline.StatusFailed {
		return fmt.Errorf("job %s failed", final.ID)
	}
	return nil
}

// expectedFrames estimates the number of sampled frames, -1 when unknown.
func expectedFrames(ctx context.Context, a *app, path string) int {
	info, err := a.sampler.Probe(ctx, path)
	if err != nil || info.Duration <= 0 {
		return -1
	}
	return int(math.Ceil(info.Duration.Seconds() * a.cfg.Sampling.FramesPerSecond))
}

func newFrameProgressBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Analysing frames"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("frames"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// trackProgress moves the bar along with the job's progress events.
func trackProgress(sub *pipeline.Subscription, bar *progressbar.ProgressBar) {
	defer sub.Close()
	for {
		select {
		case event := <-sub.Events:
			if job, ok := event.Data.(pipeline.Job); ok && event.Type == pipeline.EventProgress {
				_ = bar.Set(job.FramesProcessed)
			}
		case <-sub.Done():
			return
		}
	}
}
