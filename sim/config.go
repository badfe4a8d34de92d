package sim

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// MaxUIFrameCount caps the frame counts the visualizer offers. The engine
// itself accepts any positive count.
const MaxUIFrameCount = 10

// Config holds simulator configuration
type Config struct {
	// Simulation Configuration
	FrameCount int `json:"frame_count"` // Number of physical frames
	PageReferences []int `json:"page_references"` // Reference string driven through the engine

	// Playback Configuration
	SpeedMs int `json:"speed_ms"` // Autoplay interval in milliseconds

	// Trace Configuration
	TraceDirectory string `json:"trace_directory"` // Directory for exported traces
	ArchiveCodec string `json:"archive_codec"` // Trace archive compression (snappy, lz4, none)

	// Server Configuration
	ListenAddr string `json:"listen_addr"` // Visualizer listen address

	// Performance Configuration
	EnableMetrics bool `json:"enable_metrics"` // Whether to collect performance metrics
	LogLevel string `json:"log_level"` // Log level (debug, info, warn, error)
}

// DefaultConfig returns the default configuration. The reference string is
// the classic textbook sequence, which faults 15 times in 3 frames.
func DefaultConfig() *Config {
	return &Config{
		FrameCount: 3,
		PageReferences: []int{7, 0, 1, 2, 0, 3, 0, 4, 2, 3, 0, 3, 2, 1, 2, 0, 1, 7, 0, 1},
		SpeedMs: DefaultSpeedMs,
		TraceDirectory: "./traces",
		ArchiveCodec: "snappy",
		ListenAddr: ":8080",
		EnableMetrics: true,
		LogLevel: "info",
	}
}

// LoadConfigFromFile loads configuration from a JSON file
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	err = json.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadConfigFromEnv loads configuration from environment variables
// Falls back to default values if environment variables are not set
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()

	// Simulation
	if val := os.Getenv("FIFOSIM_FRAME_COUNT"); val != "" {
		if count, err := strconv.Atoi(val); err == nil {
			config.FrameCount = count
		}
	}

	if val := os.Getenv("FIFOSIM_REFERENCES"); val != "" {
		if refs, err := ParseReferenceString(val); err == nil {
			config.PageReferences = refs
		}
	}

	// Playback
	if val := os.Getenv("FIFOSIM_SPEED_MS"); val != "" {
		if speed, err := strconv.Atoi(val); err == nil {
			config.SpeedMs = speed
		}
	}

	// Trace
	if val := os.Getenv("FIFOSIM_TRACE_DIRECTORY"); val != "" {
		config.TraceDirectory = val
	}

	if val := os.Getenv("FIFOSIM_ARCHIVE_CODEC"); val != "" {
		config.ArchiveCodec = val
	}

	// Server
	if val := os.Getenv("FIFOSIM_LISTEN_ADDR"); val != "" {
		config.ListenAddr = val
	}

	// Performance
	if val := os.Getenv("FIFOSIM_ENABLE_METRICS"); val != "" {
		config.EnableMetrics = val == "true" || val == "1"
	}

	if val := os.Getenv("FIFOSIM_LOG_LEVEL"); val != "" {
		config.LogLevel = val
	}

	return config
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(path, data, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.FrameCount < 1 {
		return fmt.Errorf("frame count must be greater than 0")
	}

	if c.FrameCount > MaxUIFrameCount {
		return fmt.Errorf("frame count %d exceeds the visualizer maximum of %d", c.FrameCount, MaxUIFrameCount)
	}

	if len(c.PageReferences) == 0 {
		return fmt.Errorf("page reference string cannot be empty")
	}

	for i, page := range c.PageReferences {
		if page < 0 {
			return fmt.Errorf("negative page number %d at position %d", page, i)
		}
	}

	if c.SpeedMs <= 0 {
		return fmt.Errorf("speed must be greater than 0")
	}

	if c.TraceDirectory == "" {
		return fmt.Errorf("trace directory cannot be empty")
	}

	// Validate archive codec
	validCodecs := map[string]bool{
		"snappy": true,
		"lz4": true,
		"none": true,
	}

	if !validCodecs[c.ArchiveCodec] {
		return fmt.Errorf("invalid archive codec: %s (must be snappy, lz4, or none)", c.ArchiveCodec)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info": true,
		"warn": true,
		"error": true,
	}

	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	clone.PageReferences = make([]int, len(c.PageReferences))
	copy(clone.PageReferences, c.PageReferences)
	return &clone
}

// SlogLevel maps the configured log level onto slog
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseReferenceString parses a page reference string like "7,0,1,2" or
// "7 0 1 2" into page numbers
func ParseReferenceString(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("reference string is empty")
	}

	refs := make([]int, 0, len(fields))
	for i, field := range fields {
		page, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid page number %q at position %d", field, i)
		}
		if page < 0 {
			return nil, fmt.Errorf("negative page number %d at position %d", page, i)
		}
		refs = append(refs, page)
	}

	return refs, nil
}
