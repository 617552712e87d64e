package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/audiolibrelab/audiosession/internal/service"
	"github.com/audiolibrelab/audiosession/internal/session"
)

// executePipeline runs the steps that follow startStep on the file at uri
func executePipeline(ctx context.Context, svc service.Service, name, uri string, startStep rune) error {
	if pipeline == "" {
		return nil
	}

	steps := []rune(strings.ToLower(pipeline))

	// Find the starting position in the pipeline
	startIndex := -1
	for i, step := range steps {
		if step == startStep {
			startIndex = i
			break
		}
	}

	if startIndex == -1 {
		return fmt.Errorf("step '%c' not found in pipeline '%s'", startStep, pipeline)
	}

	_, err := runSteps(ctx, svc, name, uri, steps[startIndex+1:])
	return err
}

// runSteps executes steps in order; a record step replaces uri with the new file
func runSteps(ctx context.Context, svc service.Service, name, uri string, steps []rune) (string, error) {
	for i, step := range steps {
		fmt.Printf("Pipeline: executing step %d/%d: '%c'...\n", i+1, len(steps), step)

		switch step {
		case 'r':
			recorded, err := recordUntilEnter(ctx, svc, name, os.Stdin)
			if err != nil {
				return "", fmt.Errorf("pipeline record failed: %w", err)
			}
			uri = recorded
			fmt.Printf("Pipeline: recording completed: %s\n", uri)

		case 'p':
			if uri == "" && name != "" {
				resolved, err := svc.ResolveRecording(name)
				if err != nil {
					return "", fmt.Errorf("pipeline play failed: %w", err)
				}
				uri = resolved
			}
			if uri == "" {
				return "", fmt.Errorf("pipeline play failed: nothing to play, record first or name a recording")
			}
			if err := playUntilDone(ctx, svc, uri, false); err != nil {
				return "", fmt.Errorf("pipeline play failed: %w", err)
			}
			fmt.Println("Pipeline: playback completed")

		default:
			return "", fmt.Errorf("unknown pipeline step: '%c' (valid: r=record, p=play)", step)
		}
	}

	return uri, nil
}

func validatePipeline() error {
	if pipeline == "" {
		return nil
	}

	validSteps := map[rune]bool{
		'r': true, // record
		'p': true, // play
	}

	steps := []rune(strings.ToLower(pipeline))
	for _, step := range steps {
		if !validSteps[step] {
			return fmt.Errorf("invalid pipeline step: '%c' (valid: r=record, p=play)", step)
		}
	}

	return nil
}

// recordUntilEnter records until a line is read from input or ctx ends
func recordUntilEnter(ctx context.Context, svc service.Service, name string, input io.Reader) (string, error) {
	target, err := svc.StartRecording(ctx, name)
	if err != nil {
		return "", err
	}
	fmt.Printf("Recording to %s - Press Enter to stop...\n", target)

	updates, cancel := svc.Subscribe()
	defer cancel()

	inputCtx, stopInput := context.WithCancel(ctx)
	defer stopInput()
	lines := watchInput(inputCtx, input)

	progress := newProgressPrinter()
	for waiting := true; waiting; {
		select {
		case _, ok := <-lines:
			if !ok {
				// Input closed without a line; keep recording until ctx ends
				lines = nil
				continue
			}
			waiting = false
		case <-ctx.Done():
			waiting = false
		case snap, ok := <-updates:
			if !ok {
				return "", session.ErrClosed
			}
			progress.record(snap)
		}
	}
	progress.done()

	return svc.StopRecording(context.Background())
}

// watchInput signals every line read from input. The reader goroutine
// exits, closing the channel, once ctx ends or input is exhausted.
func watchInput(ctx context.Context, input io.Reader) <-chan struct{} {
	lines := make(chan struct{})
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			select {
			case lines <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// playUntilDone plays uri until it finishes, or until ctx ends when looping
func playUntilDone(ctx context.Context, svc service.Service, uri string, loop bool) error {
	if err := svc.Play(ctx, uri, loop); err != nil {
		return err
	}

	updates, cancel := svc.Subscribe()
	defer cancel()

	progress := newProgressPrinter()
	defer progress.done()

	for {
		select {
		case <-ctx.Done():
			return svc.StopPlayback(context.Background())
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			progress.play(snap)
			if snap.PlaybackState == session.PlaybackFinished.String() {
				return svc.StopPlayback(context.Background())
			}
		}
	}
}

// progressPrinter rewrites a single status line on stdout
type progressPrinter struct {
	printed bool
}

func newProgressPrinter() *progressPrinter {
	return &progressPrinter{}
}

func (p *progressPrinter) record(snap session.Snapshot) {
	state := "REC"
	if snap.RecordPaused {
		state = "PAUSED"
	}
	p.line(fmt.Sprintf("%-6s %s", state, snap.RecordElapsedLabel))
}

func (p *progressPrinter) play(snap session.Snapshot) {
	state := "PLAY"
	if snap.PlayPaused {
		state = "PAUSED"
	}
	p.line(fmt.Sprintf("%-6s %s / %s", state, snap.PlayPositionLabel, snap.PlayDurationLabel))
}

func (p *progressPrinter) line(s string) {
	fmt.Printf("\r%s", s)
	p.printed = true
}

func (p *progressPrinter) done() {
	if p.printed {
		fmt.Println()
		p.printed = false
	}
}
