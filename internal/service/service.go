package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/audiosession/internal/audio"
	"github.com/audiolibrelab/audiosession/internal/config"
	"github.com/audiolibrelab/audiosession/internal/session"
)

// Service is the application surface shared by the CLI and the HTTP server
type Service interface {
	// Recording operations
	StartRecording(ctx context.Context, name string) (string, error)
	StopRecording(ctx context.Context) (string, error)
	PauseRecording(ctx context.Context) error
	ResumeRecording(ctx context.Context) error
	ResetRecording(ctx context.Context) error

	// Playback operations
	Play(ctx context.Context, uri string, loop bool) error
	PausePlayback(ctx context.Context) error
	ResumePlayback(ctx context.Context) error
	StopPlayback(ctx context.Context) error
	Seek(ctx context.Context, ms uint64) error
	SetVolume(ctx context.Context, volume float64) error
	SetSpeed(ctx context.Context, speed float64) error

	// State
	Snapshot() session.Snapshot
	Subscribe() (<-chan session.Snapshot, func())
	RecordingURI() (string, bool)

	// Recordings on disk
	RecordingPath(name string) string
	ListRecordings() ([]RecordingInfo, error)
	ResolveRecording(name string) (string, error)

	GetConfig() *config.Config
	GetLastError() string
	Close(ctx context.Context) error
}

// RecordingInfo describes a recording file in the recordings directory
type RecordingInfo struct {
	Name         string    `json:"name" yaml:"name"`
	Path         string    `json:"path" yaml:"path"`
	Size         int64     `json:"size" yaml:"size"`
	SizeHuman    string    `json:"size_human" yaml:"size_human"`
	ModTime      time.Time `json:"mod_time" yaml:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human" yaml:"mod_time_human"`
	Extension    string    `json:"extension" yaml:"extension"`
}

// AudioSessionService is the main service implementation
type AudioSessionService struct {
	cfg        *config.Config
	configFile string
	controller *session.Controller

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a service driving the engine selected by cfg
func New(cfg *config.Config, configFile string) *AudioSessionService {
	return NewWithEngine(cfg, configFile, audio.NewEngine(cfg))
}

// NewWithEngine creates a service over an existing engine
func NewWithEngine(cfg *config.Config, configFile string, engine audio.Engine) *AudioSessionService {
	s := &AudioSessionService{
		cfg:        cfg,
		configFile: configFile,
	}
	s.controller = session.New(engine, session.WithCallTimeout(cfg.Engine.CallTimeout))
	return s
}

func (s *AudioSessionService) recorderConfig(target string) audio.RecorderConfig {
	return audio.RecorderConfig{
		OutputFile: target,
		SampleRate: s.cfg.Audio.SampleRate,
		Channels:   s.cfg.Audio.Channels,
		Format:     s.cfg.Audio.Format,
		Source:     s.cfg.Audio.Source,
	}
}

// StartRecording begins a capture into the recordings directory and returns its target path
func (s *AudioSessionService) StartRecording(ctx context.Context, name string) (string, error) {
	slog.Debug("Service.StartRecording called", "name", name)
	target := s.RecordingPath(name)

	err := s.controller.StartRecordingTo(ctx, s.recorderConfig(target))
	s.track("Failed to start recording", err)
	if err != nil {
		return "", err
	}
	return target, nil
}

// StopRecording ends the capture and returns the committed file path
func (s *AudioSessionService) StopRecording(ctx context.Context) (string, error) {
	uri, err := s.controller.StopRecording(ctx)
	s.track("Failed to stop recording", err)
	return uri, err
}

func (s *AudioSessionService) PauseRecording(ctx context.Context) error {
	err := s.controller.PauseRecording(ctx)
	s.track("Failed to pause recording", err)
	return err
}

func (s *AudioSessionService) ResumeRecording(ctx context.Context) error {
	err := s.controller.ResumeRecording(ctx)
	s.track("Failed to resume recording", err)
	return err
}

func (s *AudioSessionService) ResetRecording(ctx context.Context) error {
	err := s.controller.ResetRecording(ctx)
	s.track("Failed to reset recording", err)
	return err
}

// Play starts playback and applies the configured initial volume and speed
func (s *AudioSessionService) Play(ctx context.Context, uri string, loop bool) error {
	err := s.controller.StartPlaying(ctx, uri, loop)
	if err == nil {
		err = s.applyPlaybackDefaults(ctx)
	}
	s.track("Failed to start playback", err)
	return err
}

func (s *AudioSessionService) applyPlaybackDefaults(ctx context.Context) error {
	snap := s.controller.Snapshot()

	if v := s.cfg.Playback.Volume; v != snap.Volume {
		if err := s.controller.SetVolume(ctx, v); err != nil {
			return fmt.Errorf("failed to apply configured volume: %w", err)
		}
	}
	if sp := s.cfg.Playback.Speed; sp != snap.Speed {
		if err := s.controller.SetSpeed(ctx, sp); err != nil {
			return fmt.Errorf("failed to apply configured speed: %w", err)
		}
	}
	return nil
}

func (s *AudioSessionService) PausePlayback(ctx context.Context) error {
	err := s.controller.PausePlaying(ctx)
	s.track("Failed to pause playback", err)
	return err
}

func (s *AudioSessionService) ResumePlayback(ctx context.Context) error {
	err := s.controller.ResumePlaying(ctx)
	s.track("Failed to resume playback", err)
	return err
}

func (s *AudioSessionService) StopPlayback(ctx context.Context) error {
	err := s.controller.StopPlaying(ctx)
	s.track("Failed to stop playback", err)
	return err
}

func (s *AudioSessionService) Seek(ctx context.Context, ms uint64) error {
	err := s.controller.SeekTo(ctx, ms)
	s.track("Failed to seek", err)
	return err
}

func (s *AudioSessionService) SetVolume(ctx context.Context, volume float64) error {
	err := s.controller.SetVolume(ctx, volume)
	s.track("Failed to set volume", err)
	return err
}

func (s *AudioSessionService) SetSpeed(ctx context.Context, speed float64) error {
	err := s.controller.SetSpeed(ctx, speed)
	s.track("Failed to set speed", err)
	return err
}

func (s *AudioSessionService) Snapshot() session.Snapshot {
	return s.controller.Snapshot()
}

func (s *AudioSessionService) Subscribe() (<-chan session.Snapshot, func()) {
	return s.controller.Subscribe()
}

func (s *AudioSessionService) RecordingURI() (string, bool) {
	return s.controller.RecordingURI()
}

// GetConfig returns the current configuration
func (s *AudioSessionService) GetConfig() *config.Config {
	return s.cfg
}

// Close tears the controller down, bounded by the configured teardown timeout
func (s *AudioSessionService) Close(ctx context.Context) error {
	if timeout := s.cfg.Engine.TeardownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.controller.Shutdown(ctx)
}

// RecordingPath returns the capture path for name, or a generated name when empty
func (s *AudioSessionService) RecordingPath(name string) string {
	base := cleanFileName(name)
	if base == "" {
		prefix := s.cfg.Recording.NamePrefix
		if prefix == "" {
			prefix = "recording"
		}
		base = fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
	}
	return filepath.Join(s.cfg.Recording.Directory, base+"."+s.getOutputExtension())
}

// ListRecordings returns the audio files of the recordings directory, newest first
func (s *AudioSessionService) ListRecordings() ([]RecordingInfo, error) {
	recordingDir := s.cfg.Recording.Directory

	// Create directory if it doesn't exist
	if err := os.MkdirAll(recordingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}

	files, err := os.ReadDir(recordingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	supportedExts := make(map[string]bool)
	for _, ext := range config.GetSupportedAudioExtensions(s.configFile) {
		supportedExts["."+strings.ToLower(ext)] = true
	}

	var recordings []RecordingInfo
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(file.Name()))
		if !supportedExts[ext] || isSegmentFile(file.Name()) {
			continue
		}

		info, err := file.Info()
		if err != nil {
			slog.Warn("Failed to get file info", "file", file.Name(), "error", err)
			continue
		}

		recordings = append(recordings, RecordingInfo{
			Name:         file.Name(),
			Path:         filepath.Join(recordingDir, file.Name()),
			Size:         info.Size(),
			SizeHuman:    formatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
			Extension:    strings.TrimPrefix(ext, "."),
		})
	}

	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].ModTime.After(recordings[j].ModTime)
	})

	return recordings, nil
}

// ResolveRecording maps a file name in the recordings directory to its path
func (s *AudioSessionService) ResolveRecording(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: invalid recording name %q", session.ErrInvalidArgument, name)
	}

	path := filepath.Join(s.cfg.Recording.Directory, name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: recording not found: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("failed to access recording: %w", err)
	}
	return path, nil
}

// ErrNotFound is returned when a named recording does not exist
var ErrNotFound = errors.New("not found")

// GetLastError returns the last error message (thread-safe)
func (s *AudioSessionService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// track records a failure as the last error, and clears it on success
func (s *AudioSessionService) track(message string, err error) {
	if err != nil {
		s.setLastError(fmt.Sprintf("%s: %v", message, err))
		return
	}
	s.clearLastError()
}

// setLastError sets the last error message (thread-safe)
func (s *AudioSessionService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *AudioSessionService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

// Helper functions

func cleanFileName(name string) string {
	// Keep letters, digits and spaces; spaces become underscores
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}

func (s *AudioSessionService) getOutputExtension() string {
	switch s.cfg.Audio.Format {
	case "flac", "wav", "mp3":
		return s.cfg.Audio.Format
	default:
		return "m4a"
	}
}

// isSegmentFile matches the engine's partial capture files (name.segN.ext)
func isSegmentFile(name string) bool {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	idx := strings.LastIndex(stem, ".seg")
	if idx < 0 {
		return false
	}
	digits := stem[idx+len(".seg"):]
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

var _ Service = (*AudioSessionService)(nil)
