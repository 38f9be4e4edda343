package agent

import (
	"encoding/json"

	"github.com/neuroplastio/neio-midi/internal/keymap"
	"github.com/neuroplastio/neio-midi/internal/scheduler"
)

// Config comes from command line flags. It points to the user configuration
// file, which is the only part that is live-reloaded.
type Config struct {
	DataDir    string `json:"dataDir"`
	ConfigPath string `json:"configPath"`
	// Port overrides input selection by number or name fragment.
	Port  string `json:"port"`
	Debug bool   `json:"debug"`
}

// UserConfig is the YAML file at Config.ConfigPath.
type UserConfig struct {
	keymap.Config
	Scheduler scheduler.Config `json:"scheduler"`
	// Actuator is a backend name or a single-key map of name to backend config.
	Actuator json.RawMessage `json:"actuator"`
}

func DefaultUserConfig() UserConfig {
	return UserConfig{
		Config:    keymap.DefaultConfig(),
		Scheduler: scheduler.DefaultConfig(),
		Actuator:  json.RawMessage(`"log"`),
	}
}
