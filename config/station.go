package config

import (
	"sync"
	"time"
)

// StationConfig configures a phasestation terminal process.
type StationConfig struct {
	mu sync.Mutex `yaml:"-"`

	StationID string `yaml:"station_id"`
	Line      string `yaml:"line"`

	Backend   BackendConfig   `yaml:"backend"`
	Session   SessionConfig   `yaml:"session"`
	Web       WebConfig       `yaml:"web"`
	Messaging MessagingConfig `yaml:"messaging"`
}

// BackendConfig points the station at the core API.
type BackendConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SessionConfig tunes the resume poll and the job list autosave.
type SessionConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	AutosaveDebounce time.Duration `yaml:"autosave_debounce"`
}

// StationDefaults returns a StationConfig with sane defaults.
func StationDefaults() *StationConfig {
	return &StationConfig{
		StationID: "station-1",
		Line:      "line-1",
		Backend: BackendConfig{
			URL:     "http://localhost:8090",
			Timeout: 10 * time.Second,
		},
		Session: SessionConfig{
			PollInterval:     5 * time.Second,
			AutosaveDebounce: 200 * time.Millisecond,
		},
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 8091,
		},
		Messaging: defaultMessaging(""),
	}
}

// LoadStation reads a YAML config file. If the file doesn't exist, defaults are used.
func LoadStation(path string) (*StationConfig, error) {
	cfg := StationDefaults()
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to a YAML file.
func (c *StationConfig) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return save(path, c)
}

// NodeID returns the configured node ID, or derives one from line and station.
func (c *StationConfig) NodeID() string {
	if c.Messaging.NodeID != "" {
		return c.Messaging.NodeID
	}
	return c.Line + "." + c.StationID
}

// Lock acquires the config mutex for multi-step mutations.
func (c *StationConfig) Lock() { c.mu.Lock() }

// Unlock releases the config mutex.
func (c *StationConfig) Unlock() { c.mu.Unlock() }
