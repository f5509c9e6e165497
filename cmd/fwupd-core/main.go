// fwupd-core discovers updatable devices, drives them through their
// lifecycle and writes or reads back their firmware.
//
// Without a command it lists the devices it found and exits:
//
//	fwupd-core [-config path]
//	fwupd-core -install <device id|guid> -file firmware.bin
//	fwupd-core -dump <device id|guid> -file backup.bin
//	fwupd-core -history [-limit n]
//	fwupd-core -daemon
//
// In daemon mode lifecycle events are published over MQTT and a rescan
// can be requested on the command topic.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/DylanVanAssche/fwupd/migrations"

	"github.com/DylanVanAssche/fwupd/internal/infrastructure/config"
	"github.com/DylanVanAssche/fwupd/internal/infrastructure/database"
	"github.com/DylanVanAssche/fwupd/internal/infrastructure/influxdb"
	"github.com/DylanVanAssche/fwupd/internal/infrastructure/logging"
	"github.com/DylanVanAssche/fwupd/internal/infrastructure/mqtt"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// defaultConfigPath is read when it exists and no other path is given.
const defaultConfigPath = "/etc/fwupd-core/config.yaml"

// commandRescan is the MQTT command that triggers a new discovery.
const commandRescan = "rescan"

// errUsage marks invalid command line arguments.
var errUsage = errors.New("usage")

type options struct {
	configPath string
	daemon     bool
	install    string
	dump       string
	file       string
	history    bool
	limit      int
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func parseArgs(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("fwupd-core", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.configPath, "config", "", "Path to the configuration file")
	fs.BoolVar(&opts.daemon, "daemon", false, "Keep running and publish lifecycle events")
	fs.StringVar(&opts.install, "install", "", "Install firmware on the device with this id or GUID")
	fs.StringVar(&opts.dump, "dump", "", "Dump the firmware of the device with this id or GUID")
	fs.StringVar(&opts.file, "file", "", "Firmware file to install from or dump to")
	fs.BoolVar(&opts.history, "history", false, "Show the journal of device operations")
	fs.IntVar(&opts.limit, "limit", 20, "Number of journal entries shown by -history")

	if err := fs.Parse(args); err != nil {
		return opts, fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("%w: unexpected argument %q", errUsage, fs.Arg(0))
	}

	commands := 0
	for _, set := range []bool{opts.daemon, opts.history, opts.install != "", opts.dump != ""} {
		if set {
			commands++
		}
	}
	if commands > 1 {
		return opts, fmt.Errorf("%w: -daemon, -history, -install and -dump are mutually exclusive", errUsage)
	}
	if (opts.install != "" || opts.dump != "") && opts.file == "" {
		return opts, fmt.Errorf("%w: -file is required", errUsage)
	}
	return opts, nil
}

// loadConfig reads the explicit path, then FWUPD_CONFIG, then the default
// path. Only a missing default file falls back to the built-in defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		path = os.Getenv("FWUPD_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); errors.Is(err, os.ErrNotExist) {
			return config.Default(), "", nil
		}
		path = defaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}

	log := logging.Default()
	log.Info("starting fwupd-core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, configPath, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	if configPath == "" {
		log.Info("no configuration file, using defaults")
	} else {
		log.Info("configuration loaded", "path", configPath)
	}

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	a, err := newApp(cfg, log, db)
	if err != nil {
		return err
	}

	if opts.history {
		return a.history(ctx, opts.limit, out)
	}

	disconnect := a.connectBluez()
	defer disconnect()

	// Event sinks are only worth connecting for a long running daemon.
	var mqttClient *mqtt.Client
	var influxClient *influxdb.Client
	if opts.daemon {
		mqttClient, err = connectMQTT(cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			if mqttClient != nil {
				log.Info("disconnecting from MQTT")
				_ = mqttClient.Close()
			}
		}()

		influxClient, err = connectInfluxDB(cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			if influxClient != nil {
				log.Info("closing InfluxDB connection")
				_ = influxClient.Close()
			}
		}()

		detach := a.attach(mqttClient, influxClient)
		defer detach()
	}

	if _, err := a.scan(ctx); err != nil {
		return fmt.Errorf("discovering devices: %w", err)
	}

	switch {
	case opts.install != "":
		return a.install(ctx, opts.install, opts.file, out)
	case opts.dump != "":
		return a.dump(ctx, opts.dump, opts.file, out)
	case opts.daemon:
		if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		return a.serve(ctx, mqttClient)
	default:
		a.list(out)
		return nil
	}
}

func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil, nil
	}
	client, err := mqtt.Connect(cfg.MQTT, cfg.Daemon.Name)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, nil
}

func connectInfluxDB(cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Daemon.Name)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetLogger(log.Component("influxdb"))
	log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	return client, nil
}

// healthCheck verifies every connected backend.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
