package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type RootConfig struct {
	ActiveConfig             string             `mapstructure:"active_config" yaml:"active_config"`
	Configs                  map[string]*Config `mapstructure:"configs" yaml:"configs"`
	SupportedAudioExtensions []string           `mapstructure:"supported_audio_extensions" yaml:"supported_audio_extensions"`
}

type Config struct {
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording"`
	Playback  PlaybackConfig  `mapstructure:"playback" yaml:"playback"`
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`

	// Name of the profile this config was resolved from
	Profile string `mapstructure:"-" yaml:"profile,omitempty"`
}

type AudioConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"` // "pipewire", "auto"
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int    `mapstructure:"channels" yaml:"channels"`
	Source     string `mapstructure:"source" yaml:"source"` // JACK port auto-connected to the capture client
	Format     string `mapstructure:"format" yaml:"format"` // "m4a", "flac", "wav", "mp3"
}

type RecordingConfig struct {
	Directory  string `mapstructure:"directory" yaml:"directory"`
	NamePrefix string `mapstructure:"name_prefix" yaml:"name_prefix"`
}

type PlaybackConfig struct {
	Volume float64 `mapstructure:"volume" yaml:"volume"`
	Speed  float64 `mapstructure:"speed" yaml:"speed"`
	Loop   bool    `mapstructure:"loop" yaml:"loop"`
}

type EngineConfig struct {
	CallTimeout      time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	ProgressInterval time.Duration `mapstructure:"progress_interval" yaml:"progress_interval"`
	TeardownTimeout  time.Duration `mapstructure:"teardown_timeout" yaml:"teardown_timeout"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

var defaultExtensions = []string{"m4a", "flac", "wav", "mp3"}

// Default returns the built-in configuration used when no file exists
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			Backend:    "auto",
			SampleRate: 44100,
			Channels:   1,
			Format:     "m4a",
		},
		Recording: RecordingConfig{
			Directory:  filepath.Join(os.Getenv("HOME"), "Audio", "Recordings"),
			NamePrefix: "recording",
		},
		Playback: PlaybackConfig{
			Volume: 1.0,
			Speed:  1.0,
		},
		Engine: EngineConfig{
			ProgressInterval: 100 * time.Millisecond,
			TeardownTimeout:  5 * time.Second,
		},
		Server: ServerConfig{
			Port: "8080",
		},
		Profile: "default",
	}
}

// LoadWithProfile resolves the named profile (or active_config) from configFile.
// A missing file yields the defaults.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		slog.Debug("Config file not found, using defaults", "path", configFile)
		cfg := Default()
		if profile != "" && profile != "default" {
			return nil, fmt.Errorf("configuration profile '%s' not found", profile)
		}
		return cfg, nil
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	resolved := Default()

	// Profiles fall back to the "default" profile, which falls back to built-ins
	if defaultProfile, exists := rootConfig.Configs["default"]; exists {
		resolved = mergeConfigs(resolved, defaultProfile)
	}

	if configName != "default" {
		selected, exists := rootConfig.Configs[configName]
		if !exists {
			return nil, fmt.Errorf("configuration profile '%s' not found", configName)
		}
		resolved = mergeConfigs(resolved, selected)
	} else if _, exists := rootConfig.Configs["default"]; !exists && len(rootConfig.Configs) > 0 {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}
	resolved.Profile = configName

	resolved.Recording.Directory = expandPath(resolved.Recording.Directory)

	if err := Validate(resolved); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return resolved, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig, decodeHooks()); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	if _, exists := rootConfig.Configs[newActiveConfig]; !exists {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// mergeConfigs overlays profile on base. Zero values in profile inherit from base,
// except Playback.Loop where the profile value always wins.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{}
	if base != nil {
		*result = *base
	}

	if profile == nil {
		return result
	}

	if profile.Audio.Backend != "" {
		result.Audio.Backend = profile.Audio.Backend
	}
	if profile.Audio.SampleRate != 0 {
		result.Audio.SampleRate = profile.Audio.SampleRate
	}
	if profile.Audio.Channels != 0 {
		result.Audio.Channels = profile.Audio.Channels
	}
	if profile.Audio.Source != "" {
		result.Audio.Source = profile.Audio.Source
	}
	if profile.Audio.Format != "" {
		result.Audio.Format = profile.Audio.Format
	}

	if profile.Recording.Directory != "" {
		result.Recording.Directory = profile.Recording.Directory
	}
	if profile.Recording.NamePrefix != "" {
		result.Recording.NamePrefix = profile.Recording.NamePrefix
	}

	if profile.Playback.Volume != 0 {
		result.Playback.Volume = profile.Playback.Volume
	}
	if profile.Playback.Speed != 0 {
		result.Playback.Speed = profile.Playback.Speed
	}
	result.Playback.Loop = profile.Playback.Loop

	if profile.Engine.CallTimeout != 0 {
		result.Engine.CallTimeout = profile.Engine.CallTimeout
	}
	if profile.Engine.ProgressInterval != 0 {
		result.Engine.ProgressInterval = profile.Engine.ProgressInterval
	}
	if profile.Engine.TeardownTimeout != 0 {
		result.Engine.TeardownTimeout = profile.Engine.TeardownTimeout
	}

	if profile.Server.Port != "" {
		result.Server.Port = profile.Server.Port
	}

	return result
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

func decodeHooks() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// ValidateConfigurationFormat reads the configuration file and checks every profile
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("AUDIOSESSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig, decodeHooks()); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("invalid config '%s': profile is empty", name)
		}
		if err := validateProfile(profile); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", name, err)
		}
	}

	return &rootConfig, nil
}

// validateProfile checks only the fields a profile sets; unset fields are inherited
func validateProfile(p *Config) error {
	if p.Audio.Backend != "" {
		if err := validateBackend(p.Audio.Backend); err != nil {
			return err
		}
	}
	if p.Audio.Format != "" && !isSupportedFormat(p.Audio.Format) {
		return fmt.Errorf("audio.format must be one of %v, got: %s", defaultExtensions, p.Audio.Format)
	}
	if p.Audio.Source != "" && !isValidAudioSource(p.Audio.Source) {
		return fmt.Errorf("audio.source must be a valid audio source (JACK port), got: %s", p.Audio.Source)
	}
	if p.Audio.SampleRate < 0 {
		return fmt.Errorf("audio.sample_rate must be > 0, got: %d", p.Audio.SampleRate)
	}
	if p.Audio.Channels < 0 || p.Audio.Channels > 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got: %d", p.Audio.Channels)
	}
	if p.Playback.Volume < 0 || p.Playback.Volume > 1 {
		return fmt.Errorf("playback.volume must be between 0 and 1, got: %.2f", p.Playback.Volume)
	}
	if p.Playback.Speed < 0 || p.Playback.Speed > 4 {
		return fmt.Errorf("playback.speed must be between 0 and 4, got: %.2f", p.Playback.Speed)
	}
	if p.Engine.CallTimeout < 0 || p.Engine.ProgressInterval < 0 || p.Engine.TeardownTimeout < 0 {
		return fmt.Errorf("engine durations must be >= 0")
	}
	return nil
}

// Validate checks a fully resolved configuration
func Validate(c *Config) error {
	if err := validateAudio(c.Audio); err != nil {
		return err
	}

	if c.Recording.Directory == "" {
		return fmt.Errorf("recording.directory is required")
	}

	if err := validatePlayback(c.Playback); err != nil {
		return err
	}

	if c.Engine.CallTimeout < 0 {
		return fmt.Errorf("engine.call_timeout must be >= 0, got: %s", c.Engine.CallTimeout)
	}
	if c.Engine.ProgressInterval <= 0 {
		return fmt.Errorf("engine.progress_interval must be > 0, got: %s", c.Engine.ProgressInterval)
	}
	if c.Engine.TeardownTimeout <= 0 {
		return fmt.Errorf("engine.teardown_timeout must be > 0, got: %s", c.Engine.TeardownTimeout)
	}

	if !isNumeric(c.Server.Port) {
		return fmt.Errorf("server.port must be numeric, got: %q", c.Server.Port)
	}

	return nil
}

func validateAudio(a AudioConfig) error {
	if err := validateBackend(a.Backend); err != nil {
		return err
	}
	if a.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0, got: %d", a.SampleRate)
	}
	if a.Channels != 1 && a.Channels != 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got: %d", a.Channels)
	}
	if !isSupportedFormat(a.Format) {
		return fmt.Errorf("audio.format must be one of %v, got: %s", defaultExtensions, a.Format)
	}
	if !isValidAudioSource(a.Source) {
		return fmt.Errorf("audio.source must be a valid audio source (JACK port), got: %s", a.Source)
	}
	return nil
}

func validateBackend(backend string) error {
	switch strings.ToLower(backend) {
	case "", "auto", "pipewire":
		return nil
	}
	return fmt.Errorf("audio.backend must be 'auto' or 'pipewire', got: %s", backend)
}

func validatePlayback(p PlaybackConfig) error {
	if p.Volume < 0 || p.Volume > 1 {
		return fmt.Errorf("playback.volume must be between 0 and 1, got: %.2f", p.Volume)
	}
	if p.Speed <= 0 || p.Speed > 4 {
		return fmt.Errorf("playback.speed must be > 0 and <= 4, got: %.2f", p.Speed)
	}
	return nil
}

func isSupportedFormat(format string) bool {
	for _, ext := range defaultExtensions {
		if ext == format {
			return true
		}
	}
	return false
}

// isValidAudioSource checks if a source name is valid for JACK/PipeWire
func isValidAudioSource(source string) bool {
	source = strings.TrimSpace(source)

	// Empty or disabled sources mean nothing is auto-connected
	if source == "" || source == "disabled" {
		return true
	}

	if strings.Contains(source, ":") {
		// Device names may contain colons, the port is after the last one
		lastColonIndex := strings.LastIndex(source, ":")
		deviceName := strings.TrimSpace(source[:lastColonIndex])
		channelOrPort := strings.TrimSpace(source[lastColonIndex+1:])

		return len(deviceName) > 0 && len(channelOrPort) > 0
	}

	return len(source) > 0
}

// isNumeric checks if a string contains only digits
func isNumeric(s string) bool {
	if len(s) == 0 {
		return false
	}
	_, err := strconv.Atoi(s)
	return err == nil && !strings.ContainsAny(s, "+-")
}

// GetSupportedAudioExtensions returns the supported audio extensions from config or defaults
func GetSupportedAudioExtensions(configFile string) []string {
	if configFile == "" {
		return defaultExtensions
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return defaultExtensions
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig, decodeHooks()); err != nil {
		return defaultExtensions
	}

	if len(rootConfig.SupportedAudioExtensions) == 0 {
		return defaultExtensions
	}

	return rootConfig.SupportedAudioExtensions
}
