// Package config loads runtime configuration for the sync daemon.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   base URL of the REST gateway
//	-d string   path to the local SQLite database
//	-i int      connectivity check interval (seconds)
//	-l string   path to the rotating JSON log file ("" = stderr only)
//	-t string   bearer token for gateway requests
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "3s" or integer nanoseconds:
//
//	{
//	  "base_url": "https://api.example.com",
//	  "database_path": "plansync.db",
//	  "online_check_interval": "3s",
//	  "call_timeout": "15s",
//	  "retry_backoff_base": "1s",
//	  "log_file": "plansync.log",
//	  "auth_token": "..."
//	}
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
