package play

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// Options control how a playback child is launched
type Options struct {
	StartMs uint64
	Volume  float64 // 0.0 - 1.0
	Speed   float64 // 1.0 = normal
}

// FindPlayer locates the player binaries the engine depends on
func FindPlayer() (string, error) {
	for _, tool := range []string{"ffplay", "ffprobe"} {
		if _, err := exec.LookPath(tool); err != nil {
			return "", fmt.Errorf("no suitable audio player found: %s is required: %w", tool, err)
		}
	}
	return "ffplay", nil
}

// Args builds the ffplay command line for path
func Args(path string, opts Options) []string {
	args := []string{
		"ffplay",
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
	}

	if opts.StartMs > 0 {
		args = append(args, "-ss", formatSeconds(opts.StartMs))
	}

	volume := int(math.Round(clamp(opts.Volume, 0, 1) * 100))
	args = append(args, "-volume", strconv.Itoa(volume))

	if opts.Speed > 0 && opts.Speed != 1 {
		args = append(args, "-af", atempoChain(opts.Speed))
	}

	return append(args, path)
}

// atempoChain expresses speed as a chain of atempo filters, each within [0.5, 2.0]
func atempoChain(speed float64) string {
	var parts []string
	for speed > 2.0 {
		parts = append(parts, "atempo=2.0")
		speed /= 2.0
	}
	for speed < 0.5 {
		parts = append(parts, "atempo=0.5")
		speed /= 0.5
	}
	parts = append(parts, "atempo="+strconv.FormatFloat(speed, 'f', -1, 64))
	return strings.Join(parts, ",")
}

// ProbeDuration returns the media duration of path in milliseconds
func ProbeDuration(ctx context.Context, path string) (uint64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	return parseDuration(string(output))
}

func parseDuration(output string) (uint64, error) {
	value := strings.TrimSpace(output)
	if value == "" || value == "N/A" {
		return 0, fmt.Errorf("duration unavailable")
	}

	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	if seconds < 0 {
		return 0, fmt.Errorf("invalid duration %q", value)
	}

	return uint64(math.Round(seconds * 1000)), nil
}

func formatSeconds(ms uint64) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
