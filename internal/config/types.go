package config

// Config is the timerd config file. JSON and YAML are both accepted; unknown
// fields are rejected.
//
// Example (YAML):
//
//	logging:
//	  level: info
//	  console: true
//	timer:
//	  min_interval: 50ms
//	  debug: false
//	scripts:
//	  dir: ./scripts
//	cancel:
//	  signal: SIGUSR1
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Timer   TimerConfig   `json:"timer"`
	Scripts ScriptsConfig `json:"scripts"`
	Cancel  CancelConfig  `json:"cancel"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TimerConfig controls the multiplexer.
//
// MinInterval is a Go duration string (default "50ms"). It is read at start;
// changing it requires a restart. Debug is hot-reloadable.
type TimerConfig struct {
	MinInterval string `json:"min_interval,omitempty"`
	Debug       bool   `json:"debug,omitempty"`
}

// ScriptsConfig lists the Lua client scripts loaded at start.
//
// When Files is empty, every *.lua file in Dir is loaded in name order.
// Relative Files are resolved against Dir.
type ScriptsConfig struct {
	Dir   string   `json:"dir,omitempty"`
	Files []string `json:"files,omitempty"`
}

// CancelConfig selects the OS signal translated into the External Cancel
// Event. Supported: "SIGUSR1" (default), "SIGUSR2", "SIGHUP", "none".
type CancelConfig struct {
	Signal string `json:"signal,omitempty"`
}
