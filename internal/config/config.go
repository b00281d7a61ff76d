// Package config loads gateway settings from defaults, an optional INI
// file, the environment (optionally seeded from a .env file) and flags, in
// that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Topology selects how frames and metadata reach the gateway.
type Topology string

const (
	// TopologyPush receives JPEG frames and JSON metadata as UDP datagrams.
	TopologyPush Topology = "push"
	// TopologyPull receives RTP/H.264 video and binary metadata through
	// GStreamer appsinks and blurs locally.
	TopologyPull Topology = "pull"
)

// ParseTopology accepts the topology names and the device names used by
// older deployments (NVIDIA for push, RENESAS for pull).
func ParseTopology(s string) (Topology, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "push", "nvidia":
		return TopologyPush, nil
	case "pull", "renesas":
		return TopologyPull, nil
	default:
		return "", fmt.Errorf("unknown topology %q (want push or pull)", s)
	}
}

// Config holds every runtime setting of the gateway.
type Config struct {
	Topology Topology

	// Network
	UDPIP            string
	PortRaw          int
	PortBlurred      int
	PortCoords       int
	UseBlurredStream bool
	MetadataFormat   string
	MaxDatagram      int

	// Artifacts, keys relative to the storage backends
	RawDebugPath    string
	BlurDebugPath   string
	CoordsDebugPath string
	ActiveImagePath string
	ImageFormat     string
	JPEGQuality     int
	StorageDir      string
	RecordPrefix    string

	// General
	ProcessDelay   time.Duration
	QueueMaxSize   int
	Debug          bool
	BlurKernelSize int

	// Classifier: a local model is used when ModelPath is set, otherwise
	// the HTTP runner.
	ModelPathPush    string
	ModelPathPull    string
	ModelConfigPath  string
	InferenceURL     string
	SensitiveLabel   string
	OtherLabel       string
	InferenceTimeout time.Duration

	// Object storage (disabled when MinioEndpoint is empty)
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioPrefix    string
	MinioUseSSL    bool

	// Event publishing (disabled when NATSURL is empty)
	NATSURL     string
	NATSSubject string

	// Monitor
	HTTPAddr         string
	MetricsAddr      string
	STUNServers      []string
	MaxWebRTCClients int

	// Logging
	LogLevel string
	LogFile  string
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Topology:         TopologyPush,
		UDPIP:            "0.0.0.0",
		PortRaw:          5000,
		PortBlurred:      5001,
		PortCoords:       5002,
		UseBlurredStream: true,
		MetadataFormat:   "json",
		MaxDatagram:      65535,

		RawDebugPath:    "debug/raw.jpg",
		BlurDebugPath:   "debug/blurred.jpg",
		CoordsDebugPath: "debug/bbox.jpg",
		ActiveImagePath: "active.jpg",
		ImageFormat:     "jpeg",
		JPEGQuality:     80,
		StorageDir:      "./output",
		RecordPrefix:    "recordings",

		ProcessDelay:   10 * time.Millisecond,
		QueueMaxSize:   2,
		BlurKernelSize: 51,

		InferenceURL:     "http://localhost:1337/api/features",
		SensitiveLabel:   "green",
		OtherLabel:       "red",
		InferenceTimeout: 2 * time.Second,

		MinioBucket: "vsg-gateway",

		NATSSubject: "vsg.cycles",

		HTTPAddr:         ":8080",
		MetricsAddr:      ":9090",
		STUNServers:      []string{"stun:stun.l.google.com:19302"},
		MaxWebRTCClients: 10,

		LogLevel: "info",
	}
}

// Load builds a Config from defaults, iniPath and the environment. An
// empty iniPath or envFile is skipped; a missing envFile is not an error.
func Load(iniPath, envFile string) (Config, error) {
	cfg := Default()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if iniPath != "" {
		if err := cfg.ApplyINI(iniPath); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ModelPath returns the local model for the active topology.
func (c *Config) ModelPath() string {
	if c.Topology == TopologyPull {
		return c.ModelPathPull
	}
	return c.ModelPathPush
}

// BlurredStream reports whether a pre-blurred stream is consumed.
func (c *Config) BlurredStream() bool {
	return c.Topology == TopologyPush && c.UseBlurredStream
}

// GateParties is the number of producers meeting at the sync gate.
func (c *Config) GateParties() int {
	if c.BlurredStream() {
		return 3
	}
	return 2
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseTopology(string(c.Topology)); err != nil {
		errs = append(errs, err)
	}
	checkPort := func(name string, p int) {
		if p <= 0 || p > 65535 {
			errs = append(errs, fmt.Errorf("%s: port %d out of range", name, p))
		}
	}
	checkPort("raw", c.PortRaw)
	checkPort("coords", c.PortCoords)
	if c.BlurredStream() {
		checkPort("blurred", c.PortBlurred)
	} else if c.BlurKernelSize <= 0 || c.BlurKernelSize%2 == 0 {
		errs = append(errs, fmt.Errorf("blur kernel size %d must be positive and odd", c.BlurKernelSize))
	}
	if c.QueueMaxSize < 1 {
		errs = append(errs, fmt.Errorf("queue size %d must be at least 1", c.QueueMaxSize))
	}
	if c.ProcessDelay < 0 {
		errs = append(errs, fmt.Errorf("process delay %v must not be negative", c.ProcessDelay))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg quality %d out of range 1-100", c.JPEGQuality))
	}
	switch c.MetadataFormat {
	case "json", "binary":
	default:
		errs = append(errs, fmt.Errorf("metadata format %q (want json or binary)", c.MetadataFormat))
	}
	switch c.ImageFormat {
	case "jpeg", "jpg", "png":
	default:
		errs = append(errs, fmt.Errorf("image format %q (want jpeg or png)", c.ImageFormat))
	}
	if c.MaxDatagram <= 0 {
		errs = append(errs, fmt.Errorf("max datagram %d must be positive", c.MaxDatagram))
	}
	return errors.Join(errs...)
}
