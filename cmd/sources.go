package cmd

import (
	"fmt"
	"runtime"

	"github.com/audiolibrelab/audiosession/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio sources",
	Long:  `List all PipeWire/JACK ports that can be used as audio.source for recording.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listPipeWireSources()
	},
}

// listPipeWireSources lists available PipeWire/JACK ports and checks the configured source
func listPipeWireSources() error {
	fmt.Printf("🎵 Audio Sources (%s, backends: %v)\n", runtime.GOOS, audio.GetAvailableBackends())
	fmt.Printf("═══════════════════════════════════════\n\n")

	pw := audio.NewPipeWire()
	sources, err := pw.ListPorts()
	if err != nil {
		return fmt.Errorf("failed to get PipeWire sources: %w", err)
	}

	fmt.Printf("📋 PIPEWIRE/JACK PORTS (%d found):\n", len(sources))
	for i, source := range sources {
		fmt.Printf("  %d. %s\n", i+1, source)
	}

	// cfg is only loaded when --config was given
	if cfg != nil && cfg.Audio.Source != "" {
		fmt.Printf("\n🎚  Configured source: %s\n", cfg.Audio.Source)
		if err := pw.ValidatePort(cfg.Audio.Source); err != nil {
			fmt.Printf("  ✗ %v\n", err)
		} else {
			fmt.Printf("  ✓ available\n")
		}
	}

	fmt.Printf("\n💡 PipeWire Usage:\n")
	fmt.Printf("  • Format: \"Device: Audio (hw:X,Y):Z\" or \"Application:port\"\n")
	fmt.Printf("  • Example: \"Scarlett 2i2 USB: Audio (hw:1,0):0\"\n")
	fmt.Printf("  • Configure in audio.source: \"Device: Audio (hw:1,0):0\"\n\n")

	return nil
}
