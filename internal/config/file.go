package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML layout. Pointer fields distinguish an absent
// key from a zero value so the file only overrides what it names.
type fileConfig struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Tracker struct {
		PollIntervalMS   *int64 `yaml:"poll_interval_ms"`
		LookbackWindowMS *int64 `yaml:"lookback_window_ms"`
		GracePeriodMS    *int64 `yaml:"grace_period_ms"`
		IdleThresholdS   *int64 `yaml:"idle_threshold_s"`
		TreatIdleAsAway  *bool  `yaml:"treat_idle_as_away"`
	} `yaml:"tracker"`
	Targets struct {
		Path string `yaml:"path"`
	} `yaml:"targets"`
	Daemon struct {
		PIDFile string `yaml:"pid_file"`
		LogFile string `yaml:"log_file"`
	} `yaml:"daemon"`
	Report struct {
		TimeZone string `yaml:"time_zone"`
	} `yaml:"report"`
	Web struct {
		Host string `yaml:"host"`
		Port *int   `yaml:"port"`
	} `yaml:"web"`
	Overlay struct {
		Notify *bool `yaml:"notify"`
	} `yaml:"overlay"`
	Debug *bool `yaml:"debug"`
}

// LoadFromFile applies the YAML file at path on top of cfg. Unknown keys
// are rejected.
func LoadFromFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var fc fileConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	fc.apply(cfg)
	return nil
}

func (fc *fileConfig) apply(cfg *Config) {
	setString(&cfg.Database.Path, fc.Database.Path)
	setString(&cfg.Targets.Path, fc.Targets.Path)
	setString(&cfg.Daemon.PIDFile, fc.Daemon.PIDFile)
	setString(&cfg.Daemon.LogFile, fc.Daemon.LogFile)
	setString(&cfg.Report.TimeZone, fc.Report.TimeZone)
	setString(&cfg.Web.Host, fc.Web.Host)

	if v := fc.Tracker.PollIntervalMS; v != nil {
		cfg.Tracker.PollInterval = time.Duration(*v) * time.Millisecond
	}
	if v := fc.Tracker.LookbackWindowMS; v != nil {
		cfg.Tracker.LookbackWindow = time.Duration(*v) * time.Millisecond
	}
	if v := fc.Tracker.GracePeriodMS; v != nil {
		cfg.Tracker.GracePeriod = time.Duration(*v) * time.Millisecond
	}
	if v := fc.Tracker.IdleThresholdS; v != nil {
		cfg.Tracker.IdleThreshold = time.Duration(*v) * time.Second
	}
	if v := fc.Tracker.TreatIdleAsAway; v != nil {
		cfg.Tracker.TreatIdleAsAway = *v
	}
	if v := fc.Web.Port; v != nil {
		cfg.Web.Port = *v
	}
	if v := fc.Overlay.Notify; v != nil {
		cfg.Overlay.Notify = *v
	}
	if v := fc.Debug; v != nil {
		cfg.Debug = *v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
