package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/notesafe/notesafe/internal/flagx"
	"github.com/notesafe/notesafe/internal/timex"
)

// jsonConfig is a DTO used exclusively for JSON unmarshalling. Durations may
// be given as strings like "3s" or as integer nanoseconds.
type jsonConfig struct {
	ServerEndpointURL string          `json:"server_endpoint_url"`
	DataDir           string          `json:"data_dir"`
	PollInterval      *timex.Duration `json:"poll_interval"`
	RequestTimeout    *timex.Duration `json:"request_timeout"`
	RetryBound        *int            `json:"retry_bound"`
}

// parseJSON overlays cfg with values from the JSON file named by the
// -c/-config flags. Missing file path means nothing is loaded. Read or parse
// errors panic; config is resolved once at startup and a bad file should be
// loud.
func parseJSON(cfg *Config) {
	path := flagx.JSONConfigFlags()
	if path == "" {
		return
	}

	var jc jsonConfig

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerEndpointURL != "" {
		cfg.ServerEndpointURL = jc.ServerEndpointURL
	}
	if jc.DataDir != "" {
		cfg.DataDir = jc.DataDir
	}
	if jc.PollInterval != nil {
		cfg.PollInterval = time.Duration(jc.PollInterval.Duration)
	}
	if jc.RequestTimeout != nil {
		cfg.RequestTimeout = time.Duration(jc.RequestTimeout.Duration)
	}
	if jc.RetryBound != nil {
		cfg.RetryBound = *jc.RetryBound
	}
}
