package cmd

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

func TestWatchInput_SignalsLines(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lines := watchInput(ctx, strings.NewReader("one\ntwo\n"))

	count := 0
	for range lines {
		count++
	}
	if count != 2 {
		t.Errorf("Expected 2 lines, got %d", count)
	}
}

func TestWatchInput_ExitsAfterCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	lines := watchInput(ctx, pr)
	cancel()

	// Nobody receives any more; the line must not block the reader
	go pw.Write([]byte("\n"))

	select {
	case _, ok := <-lines:
		if ok {
			t.Fatal("Expected no line after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the input reader to exit after cancel")
	}
}

func TestValidatePipeline(t *testing.T) {
	defer func(saved string) { pipeline = saved }(pipeline)

	tests := []struct {
		steps   string
		wantErr bool
	}{
		{"", false},
		{"r", false},
		{"rp", false},
		{"RP", false},
		{"rm", true},
		{"x", true},
	}

	for _, tt := range tests {
		pipeline = tt.steps
		err := validatePipeline()
		if (err != nil) != tt.wantErr {
			t.Errorf("validatePipeline(%q) error = %v, wantErr %v", tt.steps, err, tt.wantErr)
		}
	}
}
