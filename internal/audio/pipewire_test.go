package audio

import (
	"errors"
	"strings"
	"testing"
)

func fakePipeWire(output string, err error) (*PipeWire, *[][]string) {
	var calls [][]string
	pw := &PipeWire{
		run: func(args ...string) ([]byte, error) {
			calls = append(calls, args)
			return []byte(output), err
		},
	}
	return pw, &calls
}

const pwLinkOutput = `Output ports:
system:capture_1
system:capture_2
Chrome:output_FL
Chrome:output_FL
Chrome-2:output_FL
Input ports:
system:playback_1
`

func TestParsePorts(t *testing.T) {
	ports := parsePorts(pwLinkOutput)

	if len(ports) != 6 {
		t.Fatalf("Expected 6 ports, got %d: %v", len(ports), ports)
	}
	for _, p := range ports {
		if strings.HasSuffix(p, "ports:") {
			t.Errorf("Header line leaked into ports: %s", p)
		}
	}
}

func TestValidatePort_Success(t *testing.T) {
	pw, _ := fakePipeWire(pwLinkOutput, nil)

	if err := pw.ValidatePort("system:capture_1"); err != nil {
		t.Errorf("Expected no error for valid single port, got: %v", err)
	}
}

func TestValidatePort_NotFound(t *testing.T) {
	pw, _ := fakePipeWire(pwLinkOutput, nil)

	err := pw.ValidatePort("nonexistent:port")
	if err == nil {
		t.Fatal("Expected error for nonexistent port")
	}
	if !strings.Contains(err.Error(), "port not found") {
		t.Errorf("Expected 'port not found' error, got: %v", err)
	}
}

func TestValidatePort_DuplicateDetection(t *testing.T) {
	pw, _ := fakePipeWire(pwLinkOutput, nil)

	err := pw.ValidatePort("Chrome:output_FL")
	if err == nil {
		t.Fatal("Expected error for duplicate sources")
	}
	if !strings.Contains(err.Error(), "duplicate sources detected") {
		t.Errorf("Expected 'duplicate sources detected' error, got: %v", err)
	}

	// A different instance is not a duplicate
	if err := pw.ValidatePort("Chrome-2:output_FL"); err != nil {
		t.Errorf("Expected Chrome-2 to validate, got: %v", err)
	}
}

func TestValidatePort_EmptyAndDisabled(t *testing.T) {
	pw, calls := fakePipeWire("", errors.New("should not run"))

	if err := pw.ValidatePort(""); err != nil {
		t.Errorf("Expected no error for empty string, got: %v", err)
	}
	if err := pw.ValidatePort("disabled"); err != nil {
		t.Errorf("Expected no error for 'disabled', got: %v", err)
	}
	if len(*calls) != 0 {
		t.Errorf("Expected pw-link not to run, got %d calls", len(*calls))
	}
}

func TestListPorts_CommandFailure(t *testing.T) {
	pw, _ := fakePipeWire("", errors.New("exec: \"pw-link\": executable file not found in $PATH"))

	if _, err := pw.ListPorts(); err == nil {
		t.Error("Expected error when pw-link fails")
	}
}

func TestConnectPorts_PassesArguments(t *testing.T) {
	pw, calls := fakePipeWire("", nil)

	if err := pw.ConnectPortsWithRetry("system:capture_1", "audiosession_capture:input_1"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(*calls) != 1 {
		t.Fatalf("Expected one pw-link call, got %d", len(*calls))
	}
	got := strings.Join((*calls)[0], " ")
	if got != "system:capture_1 audiosession_capture:input_1" {
		t.Errorf("Unexpected pw-link arguments: %s", got)
	}
}

func TestIsEphemeralPort(t *testing.T) {
	if !isEphemeralPort("Firefox:output_FL") {
		t.Error("Expected Firefox to be ephemeral")
	}
	if isEphemeralPort("system:capture_1") {
		t.Error("Expected hardware port not to be ephemeral")
	}
}

func TestFormatMillis(t *testing.T) {
	tests := []struct {
		ms   uint64
		want string
	}{
		{0, "00:00:00"},
		{999, "00:00:99"},
		{1000, "00:01:00"},
		{61_230, "01:01:23"},
		{3_600_000, "60:00:00"},
	}

	for _, tt := range tests {
		if got := FormatMillis(tt.ms); got != tt.want {
			t.Errorf("FormatMillis(%d) = %s, want %s", tt.ms, got, tt.want)
		}
	}
}
