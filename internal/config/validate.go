package config

import (
	"fmt"
	"strings"

	logx "timermux/pkg/logx"
)

// Signals accepted by cancel.signal, upper-cased.
var cancelSignals = map[string]bool{
	"":        true,
	"SIGUSR1": true,
	"SIGUSR2": true,
	"SIGHUP":  true,
	"NONE":    true,
}

// Validate checks field values that the decoder cannot.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if _, err := ParseDurationField("timer.min_interval", cfg.Timer.MinInterval); err != nil {
		return err
	}
	if !cancelSignals[strings.ToUpper(strings.TrimSpace(cfg.Cancel.Signal))] {
		return fmt.Errorf("cancel.signal: unsupported signal %q", cfg.Cancel.Signal)
	}
	for i, f := range cfg.Scripts.Files {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("scripts.files[%d]: empty path", i)
		}
	}
	return nil
}
