// Package simulate drives scripted tutoring sessions against a running
// server and checks that every transcript comes back complete.
package simulate

import (
	"runtime"
	"time"
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL  string        // Base URL of the service
	Sessions int           // Number of transcripts to create
	Turns    int           // Assistant/user exchanges per session
	Workers  int           // Sessions driven concurrently
	Timeout  time.Duration // HTTP request timeout
	Language string        // BCP-47 tag for every session
	Retries  int           // Every Retries-th append is resent with the same key; 0 disables
	Silent   int           // Every Silent-th session has no user turns; 0 disables
	Cleanup  bool          // Delete transcripts after verifying them
}

// DefaultConfig returns the settings tutorlogctl starts from.
func DefaultConfig() Config {
	return Config{
		BaseURL:  "http://localhost:9080",
		Sessions: 100,
		Turns:    4,
		Workers:  runtime.NumCPU() * 2,
		Timeout:  30 * time.Second,
		Language: "en-US",
		Retries:  5,
		Silent:   10,
		Cleanup:  true,
	}
}

// Stats summarizes a run.
type Stats struct {
	Sessions  int
	Final     int
	Empty     int
	Messages  int
	Duplicate int
	Failed    int
	StartTime time.Time
	Duration  time.Duration
}
