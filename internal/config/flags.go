package config

import (
	"flag"
	"os"
	"time"

	"github.com/notesafe/notesafe/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
//	-a string   base URL of the sync API
//	-d string   data directory
//	-i int      poll interval in seconds
//	-r int      retry bound before a record freezes
//
// Args are filtered through flagx.FilterArgs so flags owned by other
// components do not trip the flag set.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-i", "-r"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointURL, "a", cfg.ServerEndpointURL, "base URL of the sync API")
	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	pollInterval := fs.Int("i", int(cfg.PollInterval.Seconds()), "poll interval (in seconds)")
	fs.IntVar(&cfg.RetryBound, "r", cfg.RetryBound, "send attempts before freezing a record")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.PollInterval = time.Duration(*pollInterval) * time.Second
}
