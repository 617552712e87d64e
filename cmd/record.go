package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/audiosession/internal/service"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record [name]",
	Short: "Record from the configured source",
	Long: `Record audio from the configured PipeWire/JACK source into the recordings directory.
Press Enter to pause or resume, Ctrl+C to stop. Without a name, one is generated.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		if output, _ := cmd.Flags().GetString("output"); output != "" {
			cfg.Recording.Directory = output
		}
		slog.Info("Record command started", "name", name)

		svc := service.New(cfg, cfgFile)
		defer svc.Close(context.Background())

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		target, err := svc.StartRecording(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
		fmt.Printf("Recording to %s - Enter to pause/resume, Ctrl+C to stop\n", target)

		updates, cancel := svc.Subscribe()
		defer cancel()

		inputCtx, stopInput := context.WithCancel(ctx)
		defer stopInput()
		toggles := watchInput(inputCtx, os.Stdin)

		progress := newProgressPrinter()
		for recording := true; recording; {
			select {
			case <-ctx.Done():
				recording = false
			case _, ok := <-toggles:
				if !ok {
					toggles = nil
					continue
				}
				if err := togglePause(ctx, svc); err != nil {
					slog.Error("Failed to toggle pause", "error", err)
				}
			case snap, ok := <-updates:
				if !ok {
					recording = false
					break
				}
				progress.record(snap)
			}
		}
		progress.done()
		stopInput()

		slog.Info("Stopping recording...")
		uri, err := svc.StopRecording(context.Background())
		if err != nil {
			return fmt.Errorf("failed to stop recording: %w", err)
		}
		fmt.Printf("Recording saved: %s\n", uri)

		// Execute pipeline if specified
		return executePipeline(context.Background(), svc, name, uri, 'r')
	},
}

func togglePause(ctx context.Context, svc service.Service) error {
	if svc.Snapshot().RecordPaused {
		return svc.ResumeRecording(ctx)
	}
	return svc.PauseRecording(ctx)
}

func init() {
	recordCmd.Flags().StringP("output", "o", "", "output directory (overrides config)")
}
