package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/audiosession/internal/service"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recordings and the resolved setup",
	Long:  `List recordings in the configured directory, newest first, with the active profile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		svc := service.New(cfg, cfgFile)
		defer svc.Close(context.Background())

		recordings, err := svc.ListRecordings()
		if err != nil {
			return err
		}

		report := statusReport{
			Profile:    cfg.Profile,
			Directory:  cfg.Recording.Directory,
			Format:     cfg.Audio.Format,
			Source:     cfg.Audio.Source,
			Recordings: recordings,
		}
		return writeReport(report, format)
	},
}

type statusReport struct {
	Profile    string                  `json:"profile" yaml:"profile"`
	Directory  string                  `json:"directory" yaml:"directory"`
	Format     string                  `json:"format" yaml:"format"`
	Source     string                  `json:"source,omitempty" yaml:"source,omitempty"`
	Recordings []service.RecordingInfo `json:"recordings" yaml:"recordings"`
}

func writeReport(report statusReport, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		out, err := yaml.Marshal(report)
		if err != nil {
			return fmt.Errorf("error marshaling status: %w", err)
		}
		fmt.Print(string(out))
		return nil
	case "text", "":
		fmt.Printf("Profile:   %s\n", report.Profile)
		fmt.Printf("Directory: %s\n", report.Directory)
		fmt.Printf("Format:    %s\n", report.Format)
		if report.Source != "" {
			fmt.Printf("Source:    %s\n", report.Source)
		}
		fmt.Printf("\nRecordings (%d):\n", len(report.Recordings))
		for _, r := range report.Recordings {
			fmt.Printf("  %-40s %10s  %s\n", r.Name, r.SizeHuman, r.ModTimeHuman)
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q (valid: text, yaml, json)", format)
	}
}

func init() {
	statusCmd.Flags().String("format", "text", "output format: text, yaml or json")
}
