package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv loads configuration from environment variables
// Environment variables override default values. Invalid values are ignored.
func LoadFromEnv(cfg *Config) {
	// Database configuration
	if dbPath := os.Getenv("REFOCUS_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	// Tracker configuration
	if interval, ok := envMillis("REFOCUS_POLL_INTERVAL_MS"); ok && interval > 0 {
		if interval >= cfg.Tracker.MinPollInterval && interval <= cfg.Tracker.MaxPollInterval {
			cfg.Tracker.PollInterval = interval
		}
	}

	if window, ok := envMillis("REFOCUS_LOOKBACK_WINDOW_MS"); ok && window > 0 {
		cfg.Tracker.LookbackWindow = window
	}

	if grace, ok := envMillis("REFOCUS_GRACE_PERIOD_MS"); ok && grace >= 0 {
		cfg.Tracker.GracePeriod = grace
	}

	if idleThreshold := os.Getenv("REFOCUS_IDLE_THRESHOLD"); idleThreshold != "" {
		if seconds, err := strconv.Atoi(idleThreshold); err == nil && seconds > 0 {
			cfg.Tracker.IdleThreshold = time.Duration(seconds) * time.Second
		}
	}

	if v, ok := envBool("REFOCUS_TREAT_IDLE_AS_AWAY"); ok {
		cfg.Tracker.TreatIdleAsAway = v
	}

	// Target set configuration
	if path := os.Getenv("REFOCUS_TARGETS_FILE"); path != "" {
		cfg.Targets.Path = path
	}

	// Daemon configuration
	if pidFile := os.Getenv("REFOCUS_PID_FILE"); pidFile != "" {
		cfg.Daemon.PIDFile = pidFile
	}

	if logFile := os.Getenv("REFOCUS_LOG_FILE"); logFile != "" {
		cfg.Daemon.LogFile = logFile
	}

	// Report configuration
	if timeZone := os.Getenv("REFOCUS_TIMEZONE"); timeZone != "" {
		cfg.Report.TimeZone = timeZone
	}

	// Web configuration
	if webHost := os.Getenv("REFOCUS_WEB_HOST"); webHost != "" {
		cfg.Web.Host = webHost
	}

	if webPort := os.Getenv("REFOCUS_WEB_PORT"); webPort != "" {
		if port, err := strconv.Atoi(webPort); err == nil && port > 0 && port <= 65535 {
			cfg.Web.Port = port
		}
	}

	// Overlay configuration
	if v, ok := envBool("REFOCUS_NOTIFY"); ok {
		cfg.Overlay.Notify = v
	}

	if v, ok := envBool("REFOCUS_DEBUG"); ok {
		cfg.Debug = v
	}
}

func envMillis(key string) (time.Duration, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

func envBool(key string) (bool, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// New creates a new Config with default values and loads from environment
func New() *Config {
	cfg := Default()
	LoadFromEnv(cfg)
	return cfg
}
