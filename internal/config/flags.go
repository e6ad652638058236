package config

import (
	"flag"
	"os"
	"time"

	"github.com/okutins/plansync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the REST gateway (default from Config)
//	-d string   path to the local SQLite database
//	-i int      connectivity check interval in seconds
//	-l string   rotating log file path
//	-t string   bearer token for gateway requests
//
// Note: The function filters os.Args to only include the flags it knows
// about, using flagx.FilterArgs, to avoid interference with other
// components.
func parseFlags(cfg *Config) {
	// Filter args to include only those handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-i", "-l", "-t"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.BaseURL, "a", cfg.BaseURL, "base URL of the REST gateway")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "path to the local SQLite database")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "connectivity check interval (in seconds)")
	fs.StringVar(&cfg.LogFile, "l", cfg.LogFile, "rotating log file path")
	fs.StringVar(&cfg.AuthToken, "t", cfg.AuthToken, "bearer token for gateway requests")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
}
