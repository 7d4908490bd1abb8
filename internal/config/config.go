// Package config holds runtime settings for the notesafe core and loads them
// from defaults, an optional JSON file and command-line flags, in that order
// (later sources win).
package config

import "time"

type Config struct {
	// ServerEndpointURL is the base URL of the sync API.
	ServerEndpointURL string
	// DataDir is where the local store, file attachments and the instance
	// lock live.
	DataDir string
	// PollInterval is how often the sync engine polls for remote changes
	// and drains the outgoing queue.
	PollInterval time.Duration
	// RequestTimeout bounds a single remote call.
	RequestTimeout time.Duration
	// RetryBound is the number of send attempts before a record freezes.
	RetryBound int
}

func (c *Config) LoadDefaults() {
	c.ServerEndpointURL = "http://127.0.0.1:8181"
	c.DataDir = "./notesafe-data"
	c.PollInterval = 3 * time.Second
	c.RequestTimeout = 12 * time.Second
	c.RetryBound = 3
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if a config file was given) and command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJSON(cfg)
	parseFlags(cfg)
	return cfg
}
