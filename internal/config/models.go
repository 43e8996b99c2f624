package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/bryanchriswhite/EdgeViewer/internal/logger"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalid wraps every validation failure
	ErrInvalid = errors.New("invalid configuration")

	// ErrUnknownKey is returned by GetValue/SetValue for keys outside the schema
	ErrUnknownKey = errors.New("unknown configuration key")
)

// Config represents the application configuration
type Config struct {
	ServerPort int    `json:"server_port" yaml:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level"`
	LogPretty  bool   `json:"log_pretty" yaml:"log_pretty"`

	Capture    CaptureConfig    `json:"capture" yaml:"capture"`
	Processing ProcessingConfig `json:"processing" yaml:"processing"`
	Render     RenderConfig     `json:"render" yaml:"render"`
	Export     ExportConfig     `json:"export" yaml:"export"`
	Sink       SinkConfig       `json:"sink" yaml:"sink"`
}

// CaptureConfig selects the camera source
type CaptureConfig struct {
	Source  string `json:"source" yaml:"source"` // auto, v4l2, gstreamer, x11, pattern
	Device  string `json:"device" yaml:"device"`
	Width   int    `json:"width" yaml:"width"`
	Height  int    `json:"height" yaml:"height"`
	FPS     int    `json:"fps" yaml:"fps"`
	Pattern string `json:"pattern" yaml:"pattern"`
}

// ProcessingConfig controls the external processing routine
type ProcessingConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Backend string `json:"backend" yaml:"backend"` // opencv, passthrough

	// AnomalyProbe is how many leading output pixels are checked for an all-zero prefix
	AnomalyProbe int `json:"anomaly_probe" yaml:"anomaly_probe"`
}

// RenderConfig represents the render surface configuration
type RenderConfig struct {
	Mode        string        `json:"mode" yaml:"mode"` // continuous, when_dirty
	RefreshHz   int           `json:"refresh_hz" yaml:"refresh_hz"`
	Width       int           `json:"width" yaml:"width"`
	Height      int           `json:"height" yaml:"height"`
	Effect      string        `json:"effect" yaml:"effect"`
	JPEGQuality int           `json:"jpeg_quality" yaml:"jpeg_quality"`
	Overlay     OverlayConfig `json:"overlay" yaml:"overlay"`
	X11         X11Config     `json:"x11" yaml:"x11"`
}

// OverlayConfig represents the HUD configuration
type OverlayConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Position string `json:"position" yaml:"position"` // top-left, top-right, bottom-left, bottom-right
}

// X11Config represents the optional X11 window surface
type X11Config struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Width   int    `json:"width" yaml:"width"`
	Height  int    `json:"height" yaml:"height"`
	Title   string `json:"title" yaml:"title"`
}

// ExportConfig controls the remote frame exporter
type ExportConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	TimeoutMs int    `json:"timeout_ms" yaml:"timeout_ms"`
	Interval  int    `json:"interval" yaml:"interval"`
}

// SinkConfig configures the `edgeviewer sink` receiver
type SinkConfig struct {
	Port int `json:"port" yaml:"port"`
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Capture: CaptureConfig{
			Source:  "auto",
			Device:  "/dev/video0",
			Width:   640,
			Height:  480,
			FPS:     30,
			Pattern: "bars",
		},
		Processing: ProcessingConfig{
			Enabled:      true,
			Backend:      "opencv",
			AnomalyProbe: 64,
		},
		Render: RenderConfig{
			Mode:        "continuous",
			RefreshHz:   30,
			Width:       640,
			Height:      480,
			Effect:      "normal",
			JPEGQuality: 85,
			Overlay: OverlayConfig{
				Enabled:  true,
				Position: "top-left",
			},
			X11: X11Config{
				Width:  640,
				Height: 480,
				Title:  "EdgeViewer",
			},
		},
		Export: ExportConfig{
			Enabled:   false,
			Endpoint:  "http://localhost:3000/api/frame",
			TimeoutMs: 1000,
			Interval:  5,
		},
		Sink: SinkConfig{
			Port: 3000,
		},
	}
}

var (
	validLevels    = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validSources   = map[string]bool{"auto": true, "v4l2": true, "gstreamer": true, "x11": true, "pattern": true}
	validBackends  = map[string]bool{"opencv": true, "passthrough": true}
	validModes     = map[string]bool{"continuous": true, "when_dirty": true}
	validEffects   = map[string]bool{"normal": true, "grayscale": true, "invert": true, "greyscale": true, "gray": true, "0": true, "1": true, "2": true}
	validPositions = map[string]bool{"top-left": true, "top-right": true, "bottom-left": true, "bottom-right": true}
)

// Validate checks ranges and enumerations
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.ServerPort > 0 && c.ServerPort < 65536, "server_port %d out of range", c.ServerPort)
	check(validLevels[strings.ToLower(c.LogLevel)], "log_level %q (use: debug, info, warn, error)", c.LogLevel)
	check(validSources[c.Capture.Source], "capture.source %q (use: auto, v4l2, gstreamer, x11, pattern)", c.Capture.Source)
	check(c.Capture.Width > 0 && c.Capture.Height > 0, "capture size %dx%d", c.Capture.Width, c.Capture.Height)
	check(c.Capture.FPS > 0, "capture.fps %d", c.Capture.FPS)
	check(validBackends[c.Processing.Backend], "processing.backend %q (use: opencv, passthrough)", c.Processing.Backend)
	check(c.Processing.AnomalyProbe >= 0, "processing.anomaly_probe %d", c.Processing.AnomalyProbe)
	check(validModes[c.Render.Mode], "render.mode %q (use: continuous, when_dirty)", c.Render.Mode)
	check(c.Render.RefreshHz > 0, "render.refresh_hz %d", c.Render.RefreshHz)
	check(c.Render.Width > 0 && c.Render.Height > 0, "render size %dx%d", c.Render.Width, c.Render.Height)
	check(validEffects[strings.ToLower(c.Render.Effect)], "render.effect %q (use: normal, grayscale, invert)", c.Render.Effect)
	check(c.Render.JPEGQuality > 0 && c.Render.JPEGQuality <= 100, "render.jpeg_quality %d", c.Render.JPEGQuality)
	check(validPositions[c.Render.Overlay.Position], "render.overlay.position %q", c.Render.Overlay.Position)
	check(c.Export.TimeoutMs > 0, "export.timeout_ms %d", c.Export.TimeoutMs)
	check(c.Export.Interval > 0, "export.interval %d", c.Export.Interval)
	check(!c.Export.Enabled || c.Export.Endpoint != "", "export.endpoint required when export is enabled")
	check(c.Sink.Port > 0 && c.Sink.Port < 65536, "sink.port %d out of range", c.Sink.Port)

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/edgeviewer/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "edgeviewer", "config.yaml"), nil
}

// NewManager loads configFile (or the default path), writing defaults on first run
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("source", m.config.Capture.Source).
		Str("render_mode", m.config.Render.Mode).
		Msg("Config loaded")

	return m, nil
}

// load reads the configuration from disk. Keys missing from the file keep
// their default values.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Reload re-reads the file, keeping the current configuration on failure
func (m *Manager) Reload() (*Config, error) {
	if err := m.load(); err != nil {
		return m.Get(), err
	}
	return m.Get(), nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	cfg := m.Get()

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Saving config")

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// Update validates and replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	next := *cfg
	m.mu.Lock()
	m.config = &next
	m.mu.Unlock()
	return m.Save()
}

// update applies fn to a copy and stores it if it still validates
func (m *Manager) update(fn func(*Config)) error {
	cfg := m.Get()
	fn(cfg)
	return m.Update(cfg)
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	return m.update(func(c *Config) { c.ServerPort = port })
}

// GetPort gets the server port
func (m *Manager) GetPort() int {
	return m.Get().ServerPort
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	return m.update(func(c *Config) { c.LogLevel = strings.ToLower(level) })
}

// GetLogLevel gets the log level
func (m *Manager) GetLogLevel() string {
	return m.Get().LogLevel
}

// SetProcessingEnabled persists the processing toggle
func (m *Manager) SetProcessingEnabled(enabled bool) error {
	return m.update(func(c *Config) { c.Processing.Enabled = enabled })
}

// SetEffect persists the effect mode name
func (m *Manager) SetEffect(effect string) error {
	return m.update(func(c *Config) { c.Render.Effect = strings.ToLower(effect) })
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}

// GetValue returns the value at a dotted key such as "capture.fps"
func (m *Manager) GetValue(key string) (interface{}, error) {
	tree, err := toTree(m.Get())
	if err != nil {
		return nil, err
	}
	parent, leaf, err := walk(tree, key)
	if err != nil {
		return nil, err
	}
	return parent[leaf], nil
}

// SetValue parses value as YAML into the field at a dotted key, validates the
// result and saves it. String fields take value verbatim.
func (m *Manager) SetValue(key, value string) error {
	tree, err := toTree(m.Get())
	if err != nil {
		return err
	}
	parent, leaf, err := walk(tree, key)
	if err != nil {
		return err
	}
	if _, isMap := parent[leaf].(map[string]interface{}); isMap {
		return fmt.Errorf("%s is a section, set one of its keys", key)
	}

	var parsed interface{} = value
	if _, isString := parent[leaf].(string); !isString {
		if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}
	parent[leaf] = parsed

	data, err := yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	var next Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&next); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return m.Update(&next)
}

func toTree(cfg *Config) (map[string]interface{}, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	tree := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return tree, nil
}

// walk resolves a dotted key to its parent map and leaf name
func walk(tree map[string]interface{}, key string) (map[string]interface{}, string, error) {
	parts := strings.Split(key, ".")
	node := tree
	for i, part := range parts {
		v, ok := node[part]
		if !ok {
			return nil, "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		if i == len(parts)-1 {
			return node, part, nil
		}
		child, ok := v.(map[string]interface{})
		if !ok {
			return nil, "", fmt.Errorf("%w: %s (%s is not a section)", ErrUnknownKey, key, strings.Join(parts[:i+1], "."))
		}
		node = child
	}
	return nil, "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
}

// FormatValue renders a GetValue result for the command line
func FormatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case map[string]interface{}:
		data, err := yaml.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return strings.TrimRight(string(data), "\n")
	default:
		return fmt.Sprint(t)
	}
}
