// Package mix joins recorded segments into a single capture file.
package mix

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Concat joins segments, in order, into output using the FFmpeg concat demuxer.
// Segments must share codec parameters; streams are copied, not re-encoded.
func Concat(ctx context.Context, segments []string, output string) error {
	if len(segments) == 0 {
		return fmt.Errorf("no segments to join")
	}

	for _, segment := range segments {
		if _, err := os.Stat(segment); err != nil {
			return fmt.Errorf("segment not found: %w", err)
		}
	}

	if len(segments) == 1 {
		if err := os.Rename(segments[0], output); err != nil {
			return fmt.Errorf("failed to move segment into place: %w", err)
		}
		return nil
	}

	listFile, err := os.CreateTemp(filepath.Dir(output), ".concat-*.txt")
	if err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	defer os.Remove(listFile.Name())

	if _, err := listFile.WriteString(concatList(segments)); err != nil {
		listFile.Close()
		return fmt.Errorf("failed to write concat list: %w", err)
	}
	if err := listFile.Close(); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}

	os.Remove(output)

	cmd := exec.CommandContext(ctx, "ffmpeg", concatArgs(listFile.Name(), output)...)
	slog.Debug("Running FFmpeg for segment join", "command", strings.Join(cmd.Args, " "))

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("FFmpeg segment join failed: %w\nOutput: %s", err, string(out))
	}

	for _, segment := range segments {
		os.Remove(segment)
	}

	slog.Debug("Segments joined", "output", output, "segments", len(segments))
	return nil
}

func concatArgs(listFile, output string) []string {
	return []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		"-y", // Overwrite output file
		output,
	}
}

// concatList renders the concat demuxer script, quoting each path
func concatList(segments []string) string {
	var b strings.Builder
	for _, segment := range segments {
		abs, err := filepath.Abs(segment)
		if err != nil {
			abs = segment
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}
