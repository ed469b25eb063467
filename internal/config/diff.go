package config

import (
	"reflect"
	"strings"

	logx "timermux/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and structured fields
// describing the new values, for a single "config change summary" log line.
// It also reports whether any change needs a restart to take effect.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, needsRestart bool) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Timer.Debug != newCfg.Timer.Debug {
		changed = append(changed, "timer.debug")
		attrs = append(attrs, logx.Bool("timer.debug", newCfg.Timer.Debug))
	}
	if strings.TrimSpace(oldCfg.Timer.MinInterval) != strings.TrimSpace(newCfg.Timer.MinInterval) {
		changed = append(changed, "timer.min_interval")
		attrs = append(attrs, logx.String("timer.min_interval", newCfg.Timer.MinInterval))
		needsRestart = true
	}

	if !reflect.DeepEqual(oldCfg.Scripts, newCfg.Scripts) {
		changed = append(changed, "scripts")
		attrs = append(attrs,
			logx.String("scripts.dir", newCfg.Scripts.Dir),
			logx.Int("scripts.files", len(newCfg.Scripts.Files)),
		)
		needsRestart = true
	}

	if !strings.EqualFold(strings.TrimSpace(oldCfg.Cancel.Signal), strings.TrimSpace(newCfg.Cancel.Signal)) {
		changed = append(changed, "cancel")
		attrs = append(attrs, logx.String("cancel.signal", newCfg.Cancel.Signal))
		needsRestart = true
	}

	return changed, attrs, needsRestart
}
