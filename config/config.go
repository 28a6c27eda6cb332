package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	wire "adbcast/scrcpy"
)

// Config represents the application configuration
type Config struct {
	ADB      ADBConfig      `yaml:"adb"`
	Scrcpy   ScrcpyConfig   `yaml:"scrcpy"`
	HTTP     HTTPConfig     `yaml:"http"`
	Recorder RecorderConfig `yaml:"recorder"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Events   EventsConfig   `yaml:"events"`
	Log      LogConfig      `yaml:"log"`
}

// ADBConfig represents the adb daemon connection
type ADBConfig struct {
	Addr             string        `yaml:"addr"`
	ConnectAttempts  int           `yaml:"connect_attempts"`
	RetryInterval    time.Duration `yaml:"retry_interval"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	ServerJar        string        `yaml:"server_jar"`
	ServerRemotePath string        `yaml:"server_remote_path"`
}

// ScrcpyConfig represents the mirroring server settings
type ScrcpyConfig struct {
	Version          string            `yaml:"version"`
	HandshakeTimeout time.Duration     `yaml:"handshake_timeout"`
	ControlLayout    string            `yaml:"control_layout"`
	Defaults         map[string]string `yaml:"defaults"`
}

// HTTPConfig represents the web surface
type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	ViewerQueue    int      `yaml:"viewer_queue"`
	ICEServers     []string `yaml:"ice_servers"`
}

// RecorderConfig represents the muxer side channel
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Listen        string        `yaml:"listen"`
	Command       []string      `yaml:"command"`
	OutputDir     string        `yaml:"output_dir"`
	Format        string        `yaml:"format"`
	AttachTimeout time.Duration `yaml:"attach_timeout"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	ResultTimeout time.Duration `yaml:"result_timeout"`
}

// CatalogConfig represents the recordings database
type CatalogConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ArchiveConfig represents the S3 upload of finished recordings
type ArchiveConfig struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// EventsConfig represents session lifecycle publishing
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used for every key a file leaves out.
func Default() *Config {
	return &Config{
		ADB: ADBConfig{
			Addr:             "127.0.0.1:5037",
			ConnectAttempts:  300,
			RetryInterval:    10 * time.Millisecond,
			DialTimeout:      time.Second,
			ServerJar:        "./scrcpy-server",
			ServerRemotePath: "/data/local/tmp/scrcpy-server.jar",
		},
		Scrcpy: ScrcpyConfig{
			Version:          "2.1.1",
			HandshakeTimeout: 3 * time.Second,
			ControlLayout:    "v2",
		},
		HTTP: HTTPConfig{
			Addr:           ":8000",
			AllowedOrigins: []string{"*"},
			ViewerQueue:    256,
			ICEServers:     []string{"stun:stun.l.google.com:19302"},
		},
		Recorder: RecorderConfig{
			Listen:        "127.0.0.1:45678",
			OutputDir:     "./media/video",
			Format:        "mp4",
			AttachTimeout: 5 * time.Second,
			PollInterval:  50 * time.Millisecond,
			ResultTimeout: 10 * time.Second,
		},
		Catalog: CatalogConfig{
			Driver: "sqlite3",
			DSN:    "./adbcast.db",
		},
		Events: EventsConfig{
			Subject: "adbcast.sessions",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads filename over the defaults, applies environment overrides
// and validates the result. An empty filename skips the file.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("ADBCAST_ADB_ADDR"); addr != "" {
		c.ADB.Addr = addr
	}
	if addr := os.Getenv("ADBCAST_HTTP_ADDR"); addr != "" {
		c.HTTP.Addr = addr
	}
	if level := os.Getenv("ADBCAST_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if dsn := os.Getenv("ADBCAST_CATALOG_DSN"); dsn != "" {
		c.Catalog.DSN = dsn
	}
	if url := os.Getenv("ADBCAST_NATS_URL"); url != "" {
		c.Events.NATSURL = url
	}
	if bucket := os.Getenv("ADBCAST_ARCHIVE_BUCKET"); bucket != "" {
		c.Archive.Bucket = bucket
	}
}

// FieldError names the offending key of an invalid configuration.
type FieldError struct {
	Key    string
	Reason string
	Err    error
}

func (e *FieldError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

func (e *FieldError) Unwrap() error { return e.Err }

func (c *Config) Validate() error {
	if c.ADB.Addr == "" {
		return &FieldError{Key: "adb.addr", Reason: "must not be empty"}
	}
	if c.ADB.ConnectAttempts <= 0 {
		return &FieldError{Key: "adb.connect_attempts", Reason: "must be positive"}
	}
	if _, err := c.Layout(); err != nil {
		return err
	}
	if _, err := c.ServerOptions(); err != nil {
		return &FieldError{Key: "scrcpy.defaults", Err: err}
	}
	if c.HTTP.ViewerQueue <= 0 {
		return &FieldError{Key: "http.viewer_queue", Reason: "must be positive"}
	}
	if c.Recorder.Enabled && c.Recorder.Listen == "" {
		return &FieldError{Key: "recorder.listen", Reason: "required when the recorder is enabled"}
	}
	switch c.Catalog.Driver {
	case "sqlite3", "postgres":
	default:
		return &FieldError{Key: "catalog.driver", Reason: fmt.Sprintf("unsupported driver %q", c.Catalog.Driver)}
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return &FieldError{Key: "log.format", Reason: fmt.Sprintf("want console or json, got %q", c.Log.Format)}
	}
	return nil
}

// Layout is the control message layout named by scrcpy.control_layout.
// An empty value derives it from the server version.
func (c *Config) Layout() (wire.Layout, error) {
	switch c.Scrcpy.ControlLayout {
	case "":
		return wire.LayoutForVersion(c.Scrcpy.Version), nil
	case "v1":
		return wire.LayoutV1, nil
	case "v2":
		return wire.LayoutV2, nil
	}
	return 0, &FieldError{Key: "scrcpy.control_layout", Reason: fmt.Sprintf("want v1 or v2, got %q", c.Scrcpy.ControlLayout)}
}

// ServerOptions parses scrcpy.defaults into typed server options.
func (c *Config) ServerOptions() (wire.Options, error) {
	return wire.ParseOptions(c.Scrcpy.Defaults)
}
