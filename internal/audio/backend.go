package audio

import (
	"strings"

	"github.com/audiolibrelab/audiosession/internal/config"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypePipeWire BackendType = "pipewire"
	BackendTypeAuto     BackendType = "auto"
)

// NewEngine creates an engine using the appropriate backend based on configuration
func NewEngine(cfg *config.Config) Engine {
	switch determineBackend(cfg) {
	case BackendTypePipeWire:
		return NewPipeWireEngine(cfg)
	default:
		// PipeWire is the only backend available
		return NewPipeWireEngine(cfg)
	}
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg *config.Config) BackendType {
	switch strings.ToLower(cfg.Audio.Backend) {
	case "pipewire", "auto", "":
		return BackendTypePipeWire
	}
	return BackendTypePipeWire
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	return []BackendType{BackendTypePipeWire}
}
