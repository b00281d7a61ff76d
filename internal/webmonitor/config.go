package webmonitor

import (
	"path/filepath"
	"time"
)

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr      string
	AssetsDir string
	Topology  string
	// ContentType is the MIME type of broadcast composites.
	ContentType    string
	StatusInterval time.Duration
	// StallAfter is how long without an emitted composite before /health
	// reports the pipeline as stalled.
	StallAfter time.Duration
	// MJPEGIdle is how long a stream client waits before a placeholder
	// frame is sent.
	MJPEGIdle time.Duration
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		AssetsDir:      filepath.Clean("./web"),
		ContentType:    "image/jpeg",
		StatusInterval: 2 * time.Second,
		StallAfter:     10 * time.Second,
		MJPEGIdle:      5 * time.Second,
	}
}
