package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/audiolibrelab/audiosession/internal/service"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [name]",
	Short: "Execute pipeline steps",
	Long: `Execute the specified pipeline steps. Use -p to specify which steps to run:
r records a new take (Enter stops it), p plays the last recorded take.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}

		if pipeline == "" {
			return fmt.Errorf("no pipeline specified, use -p flag (e.g., -p rp)")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc := service.New(cfg, cfgFile)
		defer svc.Close(context.Background())

		uri, err := runSteps(ctx, svc, name, "", []rune(strings.ToLower(pipeline)))
		if err != nil {
			return err
		}
		if uri != "" {
			fmt.Printf("Last recording: %s\n", uri)
		}
		return nil
	},
}
