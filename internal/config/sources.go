package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// setting binds one field to its INI location and environment variable.
type setting struct {
	section, key string
	env          string
	set          func(c *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := parseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

// seconds accepts a float number of seconds ("0.01") or a Go duration.
func seconds(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := ParseSeconds(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

func list(dst func(*Config) *[]string) func(*Config, string) error {
	return func(c *Config, v string) error {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*dst(c) = out
		return nil
	}
}

// ParseSeconds parses "0.5" as half a second and also accepts "500ms".
func ParseSeconds(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(math.Round(f * float64(time.Second))), nil
	}
	return time.ParseDuration(v)
}

// parseBool also accepts the yes/no/on/off spellings of INI files.
func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

var settings = []setting{
	{"Device", "MODE", "VSG_TOPOLOGY", func(c *Config, v string) error {
		t, err := ParseTopology(v)
		c.Topology = t
		return err
	}},

	{"Network", "UDP_IP", "VSG_UDP_IP", str(func(c *Config) *string { return &c.UDPIP })},
	{"Network", "UDP_PORT_RAW", "VSG_UDP_PORT_RAW", integer(func(c *Config) *int { return &c.PortRaw })},
	{"Network", "UDP_PORT_BLURRED", "VSG_UDP_PORT_BLURRED", integer(func(c *Config) *int { return &c.PortBlurred })},
	{"Network", "UDP_PORT_COORDS", "VSG_UDP_PORT_COORDS", integer(func(c *Config) *int { return &c.PortCoords })},
	{"Network", "USE_BLURRED_STREAM", "VSG_USE_BLURRED_STREAM", boolean(func(c *Config) *bool { return &c.UseBlurredStream })},
	{"Network", "METADATA_FORMAT", "VSG_METADATA_FORMAT", str(func(c *Config) *string { return &c.MetadataFormat })},
	{"Network", "MAX_DATAGRAM", "VSG_MAX_DATAGRAM", integer(func(c *Config) *int { return &c.MaxDatagram })},

	{"Paths", "RAW_DEBUG_PATH", "VSG_RAW_DEBUG_PATH", str(func(c *Config) *string { return &c.RawDebugPath })},
	{"Paths", "BLUR_DEBUG_PATH", "VSG_BLUR_DEBUG_PATH", str(func(c *Config) *string { return &c.BlurDebugPath })},
	{"Paths", "COORDS_DEBUG_PATH", "VSG_COORDS_DEBUG_PATH", str(func(c *Config) *string { return &c.CoordsDebugPath })},
	{"Paths", "ACTIVE_IMAGE_PATH", "VSG_ACTIVE_IMAGE_PATH", str(func(c *Config) *string { return &c.ActiveImagePath })},
	{"Paths", "IMAGE_FORMAT", "VSG_IMAGE_FORMAT", str(func(c *Config) *string { return &c.ImageFormat })},
	{"Paths", "JPEG_QUALITY", "VSG_JPEG_QUALITY", integer(func(c *Config) *int { return &c.JPEGQuality })},
	{"Paths", "STORAGE_DIR", "VSG_STORAGE_DIR", str(func(c *Config) *string { return &c.StorageDir })},
	{"Paths", "RECORD_PREFIX", "VSG_RECORD_PREFIX", str(func(c *Config) *string { return &c.RecordPrefix })},

	{"Model", "EDGE_IMPULSE_MODEL_PATH_NVIDIA", "VSG_MODEL_PATH_PUSH", str(func(c *Config) *string { return &c.ModelPathPush })},
	{"Model", "EDGE_IMPULSE_MODEL_PATH_RENESAS", "VSG_MODEL_PATH_PULL", str(func(c *Config) *string { return &c.ModelPathPull })},
	{"Model", "MODEL_CONFIG_PATH", "VSG_MODEL_CONFIG_PATH", str(func(c *Config) *string { return &c.ModelConfigPath })},
	{"Model", "INFERENCE_URL", "VSG_INFERENCE_URL", str(func(c *Config) *string { return &c.InferenceURL })},
	{"Model", "SENSITIVE_LABEL", "VSG_SENSITIVE_LABEL", str(func(c *Config) *string { return &c.SensitiveLabel })},
	{"Model", "OTHER_LABEL", "VSG_OTHER_LABEL", str(func(c *Config) *string { return &c.OtherLabel })},
	{"Model", "INFERENCE_TIMEOUT", "VSG_INFERENCE_TIMEOUT", seconds(func(c *Config) *time.Duration { return &c.InferenceTimeout })},

	{"General", "PROCESS_DELAY", "VSG_PROCESS_DELAY", seconds(func(c *Config) *time.Duration { return &c.ProcessDelay })},
	{"General", "QUEUE_MAX_SIZE", "VSG_QUEUE_MAX_SIZE", integer(func(c *Config) *int { return &c.QueueMaxSize })},
	{"General", "DEBUG", "VSG_DEBUG", boolean(func(c *Config) *bool { return &c.Debug })},
	{"General", "LOG_LEVEL", "VSG_LOG_LEVEL", str(func(c *Config) *string { return &c.LogLevel })},
	{"General", "LOG_FILE", "VSG_LOG_FILE", str(func(c *Config) *string { return &c.LogFile })},

	{"Renesas", "BLUR_KERNEL_SIZE", "VSG_BLUR_KERNEL_SIZE", integer(func(c *Config) *int { return &c.BlurKernelSize })},

	{"Storage", "MINIO_ENDPOINT", "VSG_MINIO_ENDPOINT", str(func(c *Config) *string { return &c.MinioEndpoint })},
	{"Storage", "MINIO_ACCESS_KEY", "VSG_MINIO_ACCESS_KEY", str(func(c *Config) *string { return &c.MinioAccessKey })},
	{"Storage", "MINIO_SECRET_KEY", "VSG_MINIO_SECRET_KEY", str(func(c *Config) *string { return &c.MinioSecretKey })},
	{"Storage", "MINIO_BUCKET", "VSG_MINIO_BUCKET", str(func(c *Config) *string { return &c.MinioBucket })},
	{"Storage", "MINIO_PREFIX", "VSG_MINIO_PREFIX", str(func(c *Config) *string { return &c.MinioPrefix })},
	{"Storage", "MINIO_USE_SSL", "VSG_MINIO_USE_SSL", boolean(func(c *Config) *bool { return &c.MinioUseSSL })},

	{"Events", "NATS_URL", "VSG_NATS_URL", str(func(c *Config) *string { return &c.NATSURL })},
	{"Events", "NATS_SUBJECT", "VSG_NATS_SUBJECT", str(func(c *Config) *string { return &c.NATSSubject })},

	{"Monitor", "HTTP_ADDR", "VSG_HTTP_ADDR", str(func(c *Config) *string { return &c.HTTPAddr })},
	{"Monitor", "METRICS_ADDR", "VSG_METRICS_ADDR", str(func(c *Config) *string { return &c.MetricsAddr })},
	{"Monitor", "STUN_SERVERS", "VSG_STUN_SERVERS", list(func(c *Config) *[]string { return &c.STUNServers })},
	{"Monitor", "MAX_WEBRTC_CLIENTS", "VSG_MAX_WEBRTC_CLIENTS", integer(func(c *Config) *int { return &c.MaxWebRTCClients })},
}

// ApplyINI overlays values from an INI file laid out in the sections
// Network, Paths, Model, General, Device and Renesas, plus Storage, Events
// and Monitor. Keys that are absent keep their current value.
func (c *Config) ApplyINI(path string) error {
	f, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	for _, s := range settings {
		sec, err := f.GetSection(s.section)
		if err != nil || !sec.HasKey(s.key) {
			continue
		}
		if err := s.set(c, sec.Key(s.key).String()); err != nil {
			return fmt.Errorf("%s: [%s] %s: %w", path, s.section, s.key, err)
		}
	}
	return nil
}

// ApplyEnv overlays values from environment variables prefixed VSG_.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, s := range settings {
		v, ok := lookup(s.env)
		if !ok || v == "" {
			continue
		}
		if err := s.set(c, v); err != nil {
			return fmt.Errorf("%s: %w", s.env, err)
		}
	}
	return nil
}
