package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/audiosession/internal/service"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play <file|recording-name>",
	Short: "Play an audio file",
	Long: `Play an audio file with ffplay, showing position and duration.
A bare name is looked up in the recordings directory. With --loop the file
repeats until Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("volume") {
			cfg.Playback.Volume, _ = cmd.Flags().GetFloat64("volume")
		}
		if cmd.Flags().Changed("speed") {
			cfg.Playback.Speed, _ = cmd.Flags().GetFloat64("speed")
		}
		loop := cfg.Playback.Loop
		if cmd.Flags().Changed("loop") {
			loop, _ = cmd.Flags().GetBool("loop")
		}

		svc := service.New(cfg, cfgFile)
		defer svc.Close(context.Background())

		uri := args[0]
		if _, err := os.Stat(uri); err != nil {
			resolved, resolveErr := svc.ResolveRecording(uri)
			if resolveErr != nil {
				return fmt.Errorf("cannot play %s: %w", uri, err)
			}
			uri = resolved
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Playing: %s\n", uri)
		if err := playUntilDone(ctx, svc, uri, loop); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}

func init() {
	playCmd.Flags().Bool("loop", false, "repeat the file until interrupted")
	playCmd.Flags().Float64("volume", 1, "playback volume between 0 and 1 (overrides config)")
	playCmd.Flags().Float64("speed", 1, "playback speed, up to 4 (overrides config)")
}
