package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration of the firmware update core.
// It is loaded from YAML and selected values can be overridden from the
// environment.
type Config struct {
	Daemon   DaemonConfig   `yaml:"daemon"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Quirks   QuirksConfig   `yaml:"quirks"`
	Boot     BootConfig     `yaml:"boot"`
	Transfer TransferConfig `yaml:"transfer"`
	Plugins  PluginsConfig  `yaml:"plugins"`
}

// DaemonConfig contains process-wide settings.
type DaemonConfig struct {
	// Name identifies this host in MQTT topics and metrics.
	Name string `yaml:"name"`

	// ShutdownTimeout bounds graceful shutdown, in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains SQLite settings for the device history.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings. Lifecycle events
// are only published when Enabled is set.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB settings for transfer metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// QuirksConfig lists quirk files and directories, loaded in order.
type QuirksConfig struct {
	Paths []string `yaml:"paths"`
}

// BootConfig selects the source of boot properties.
type BootConfig struct {
	CmdlinePath string `yaml:"cmdline_path"`
}

// TransferConfig configures the chunked transfer engine.
type TransferConfig struct {
	ChunkSize      int  `yaml:"chunk_size"`
	Alignment      int  `yaml:"alignment"`
	ReadTimeout    int  `yaml:"read_timeout"`
	InstallTimeout int  `yaml:"install_timeout"`
	DumpTimeout    int  `yaml:"dump_timeout"`
	MaxFirmware    int  `yaml:"max_firmware_size"`
	Verbose        bool `yaml:"verbose"`
}

// PluginsConfig enables device plugins.
type PluginsConfig struct {
	Block      BlockPluginConfig      `yaml:"block"`
	DD         DDPluginConfig         `yaml:"dd"`
	InfiniTime InfiniTimePluginConfig `yaml:"infinitime"`
}

// BlockPluginConfig configures volume discovery.
type BlockPluginConfig struct {
	Enabled bool `yaml:"enabled"`

	// Filename is used for volumes no quirk names a filename for.
	Filename string `yaml:"filename"`
}

// DDPluginConfig configures partition discovery.
type DDPluginConfig struct {
	Enabled bool   `yaml:"enabled"`
	SysRoot string `yaml:"sys_root"`
	RunRoot string `yaml:"run_root"`
}

// InfiniTimePluginConfig configures watch discovery through BlueZ on the
// system bus. Only watches that are already connected are found.
type InfiniTimePluginConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file and applies environment
// overrides, in the order defaults, file, environment.
//
// Environment variables follow the pattern FWUPD_SECTION_KEY, for example
// FWUPD_DATABASE_PATH or FWUPD_MQTT_HOST.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given, with
// environment overrides applied.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Name:            "fwupd-core",
			ShutdownTimeout: 10,
		},
		Database: DatabaseConfig{
			Path:        "/var/lib/fwupd-core/history.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "fwupd-core",
			},
			QoS:         1,
			TopicPrefix: "fwupd",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "fwupd",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Quirks: QuirksConfig{
			Paths: []string{"/usr/share/fwupd/quirks.d"},
		},
		Boot: BootConfig{
			CmdlinePath: "/proc/cmdline",
		},
		Transfer: TransferConfig{
			ChunkSize:      64 * 1024,
			ReadTimeout:    15,
			InstallTimeout: 600,
			DumpTimeout:    120,
			MaxFirmware:    256 * 1024 * 1024,
		},
		Plugins: PluginsConfig{
			Block: BlockPluginConfig{Enabled: true},
			DD: DDPluginConfig{
				Enabled: true,
				SysRoot: "/sys",
				RunRoot: "/run",
			},
		},
	}
}

// applyEnvOverrides applies FWUPD_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FWUPD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("FWUPD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FWUPD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FWUPD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("FWUPD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// A list separated like PATH.
	if v := os.Getenv("FWUPD_QUIRKS_PATH"); v != "" {
		cfg.Quirks.Paths = strings.Split(v, string(os.PathListSeparator))
	}

	// Any non-empty value other than a false boolean enables the dump.
	if v := os.Getenv("FWUPD_VERBOSE"); v != "" {
		on, err := strconv.ParseBool(v)
		cfg.Transfer.Verbose = err != nil || on
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Daemon.Name == "" {
		errs = append(errs, "daemon.name is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q must be debug, info, warn or error", c.Logging.Level))
	}

	if c.Transfer.ChunkSize < 1 {
		errs = append(errs, "transfer.chunk_size must be positive")
	}
	if c.Transfer.Alignment < 0 {
		errs = append(errs, "transfer.alignment must not be negative")
	}
	if c.Transfer.ReadTimeout < 1 {
		errs = append(errs, "transfer.read_timeout must be positive")
	}

	if c.Plugins.Block.Filename != "" && strings.ContainsAny(c.Plugins.Block.Filename, `/\`) {
		errs = append(errs, "plugins.block.filename must be a plain file name")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReadTimeoutDuration returns the default dump read timeout.
func (t TransferConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(t.ReadTimeout) * time.Second
}

// InstallTimeoutDuration returns the timeout of one firmware install.
func (t TransferConfig) InstallTimeoutDuration() time.Duration {
	return time.Duration(t.InstallTimeout) * time.Second
}

// DumpTimeoutDuration returns the timeout of one firmware dump.
func (t TransferConfig) DumpTimeoutDuration() time.Duration {
	return time.Duration(t.DumpTimeout) * time.Second
}

// ShutdownTimeoutDuration returns the graceful shutdown bound.
func (d DaemonConfig) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(d.ShutdownTimeout) * time.Second
}
