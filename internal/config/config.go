package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Tracker configuration
	Tracker TrackerConfig

	// Target set configuration
	Targets TargetsConfig

	// Daemon configuration
	Daemon DaemonConfig

	// Report configuration
	Report ReportConfig

	// Web server configuration
	Web WebConfig

	// Overlay configuration
	Overlay OverlayConfig

	// Debug enables debug level logging
	Debug bool
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Path string // Path to SQLite database file
}

// TrackerConfig holds session tracking configuration
type TrackerConfig struct {
	PollInterval    time.Duration // How often the foreground app is sampled
	MinPollInterval time.Duration // Minimum allowed poll interval
	MaxPollInterval time.Duration // Maximum allowed poll interval
	LookbackWindow  time.Duration // How far back each poll looks for transitions
	GracePeriod     time.Duration // How long a target may be away before its session ends
	IdleThreshold   time.Duration // Time before considering the user away
	TreatIdleAsAway bool          // Whether an idle user counts as no foreground app
}

// TargetsConfig holds the location of the target set
type TargetsConfig struct {
	Path string // Path to the targets YAML file
}

// DaemonConfig holds daemon process configuration
type DaemonConfig struct {
	PIDFile string // Path to PID file for daemon management
	LogFile string // Log file used when running detached
}

// ReportConfig holds report generation configuration
type ReportConfig struct {
	TimeZone string
}

// WebConfig holds web server configuration
type WebConfig struct {
	Host string // Host to bind web server to
	Port int    // Port for web server
}

// OverlayConfig holds overlay signalling configuration
type OverlayConfig struct {
	Notify bool // Send a desktop notification when tracking starts
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "", // Empty means use default ~/.config/refocus/refocus.db
		},
		Tracker: TrackerConfig{
			PollInterval:    500 * time.Millisecond,
			MinPollInterval: 100 * time.Millisecond,
			MaxPollInterval: 10 * time.Second,
			LookbackWindow:  2 * time.Second,
			GracePeriod:     30 * time.Second,
			IdleThreshold:   5 * time.Minute,
			TreatIdleAsAway: true,
		},
		Targets: TargetsConfig{
			Path: "", // Empty means use default ~/.config/refocus/targets.yaml
		},
		Daemon: DaemonConfig{
			PIDFile: fmt.Sprintf("/tmp/refocus-%d.pid", os.Getuid()),
			LogFile: fmt.Sprintf("/tmp/refocus-%d.log", os.Getuid()),
		},
		Report: ReportConfig{
			TimeZone: "Local",
		},
		Web: WebConfig{
			Host: "localhost",
			Port: 11000 + os.Getuid()%50000, // Per-user default port
		},
		Overlay: OverlayConfig{
			Notify: true,
		},
	}
}

// Load builds the effective configuration: defaults, then the config file,
// then environment variables. The result is validated.
func Load() (*Config, error) {
	cfg := Default()

	path, explicit := os.LookupEnv("REFOCUS_CONFIG")
	if !explicit {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "config.yaml")
	}
	if err := LoadFromFile(cfg, path); err != nil {
		if explicit || !os.IsNotExist(err) {
			return nil, err
		}
	}

	LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Dir returns the per-user configuration directory, ~/.config/refocus.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "refocus"), nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate tracker intervals
	if c.Tracker.PollInterval < c.Tracker.MinPollInterval {
		return fmt.Errorf("poll interval (%v) cannot be less than minimum (%v)",
			c.Tracker.PollInterval, c.Tracker.MinPollInterval)
	}

	if c.Tracker.PollInterval > c.Tracker.MaxPollInterval {
		return fmt.Errorf("poll interval (%v) cannot be greater than maximum (%v)",
			c.Tracker.PollInterval, c.Tracker.MaxPollInterval)
	}

	if c.Tracker.LookbackWindow < c.Tracker.PollInterval {
		return fmt.Errorf("lookback window (%v) cannot be shorter than the poll interval (%v)",
			c.Tracker.LookbackWindow, c.Tracker.PollInterval)
	}

	if c.Tracker.GracePeriod < 0 {
		return fmt.Errorf("grace period cannot be negative")
	}

	if c.Tracker.IdleThreshold < 0 {
		return fmt.Errorf("idle threshold cannot be negative")
	}

	// Validate web config
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("web port must be between 1 and 65535, got %d", c.Web.Port)
	}

	if c.Web.Host == "" {
		return fmt.Errorf("web host cannot be empty")
	}

	// Validate daemon config
	if c.Daemon.PIDFile == "" {
		return fmt.Errorf("PID file path cannot be empty")
	}

	if c.Report.TimeZone != "" {
		if _, err := time.LoadLocation(c.Report.TimeZone); err != nil {
			return fmt.Errorf("invalid time zone %q: %w", c.Report.TimeZone, err)
		}
	}

	return nil
}

// SetPollInterval sets the poll interval with validation
func (c *Config) SetPollInterval(interval time.Duration) error {
	if interval < c.Tracker.MinPollInterval {
		return fmt.Errorf("poll interval cannot be less than %v", c.Tracker.MinPollInterval)
	}
	if interval > c.Tracker.MaxPollInterval {
		return fmt.Errorf("poll interval cannot be greater than %v", c.Tracker.MaxPollInterval)
	}
	c.Tracker.PollInterval = interval
	return nil
}

// SetWebPort sets the web server port with validation
func (c *Config) SetWebPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	c.Web.Port = port
	return nil
}

// Location returns the report time zone, falling back to local time.
func (c *Config) Location() *time.Location {
	if c.Report.TimeZone == "" || c.Report.TimeZone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Report.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(`Configuration:
  Database:
    Path: %s
  Tracker:
    Poll Interval: %v
    Lookback Window: %v
    Grace Period: %v
    Idle Threshold: %v
    Idle Counts As Away: %v
  Targets:
    Path: %s
  Daemon:
    PID File: %s
    Log File: %s
  Report:
    Time Zone: %s
  Web:
    Host: %s
    Port: %d
  Overlay:
    Notify: %v`,
		c.Database.Path,
		c.Tracker.PollInterval,
		c.Tracker.LookbackWindow,
		c.Tracker.GracePeriod,
		c.Tracker.IdleThreshold,
		c.Tracker.TreatIdleAsAway,
		c.Targets.Path,
		c.Daemon.PIDFile,
		c.Daemon.LogFile,
		c.Report.TimeZone,
		c.Web.Host,
		c.Web.Port,
		c.Overlay.Notify,
	)
}
