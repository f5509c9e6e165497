package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/DylanVanAssche/fwupd/internal/audit"
	"github.com/DylanVanAssche/fwupd/internal/cmdline"
	"github.com/DylanVanAssche/fwupd/internal/device"
	"github.com/DylanVanAssche/fwupd/internal/firmware"
	"github.com/DylanVanAssche/fwupd/internal/fwerr"
	"github.com/DylanVanAssche/fwupd/internal/infrastructure/config"
	"github.com/DylanVanAssche/fwupd/internal/infrastructure/database"
	"github.com/DylanVanAssche/fwupd/internal/infrastructure/influxdb"
	"github.com/DylanVanAssche/fwupd/internal/infrastructure/logging"
	"github.com/DylanVanAssche/fwupd/internal/infrastructure/mqtt"
	"github.com/DylanVanAssche/fwupd/internal/lifecycle"
	"github.com/DylanVanAssche/fwupd/internal/plugins/block"
	"github.com/DylanVanAssche/fwupd/internal/plugins/dd"
	"github.com/DylanVanAssche/fwupd/internal/plugins/infinitime"
	"github.com/DylanVanAssche/fwupd/internal/quirk"
	"github.com/DylanVanAssche/fwupd/internal/transfer"
	"github.com/DylanVanAssche/fwupd/internal/transport"
	"github.com/DylanVanAssche/fwupd/internal/udev"
)

// app wires the plugins to one lifecycle controller.
type app struct {
	cfg        *config.Config
	log        *logging.Logger
	reader     *udev.Reader
	props      cmdline.Source
	engine     *transfer.Engine
	controller *lifecycle.Controller
	journal    audit.Repository

	// volumes lists mounted partitions; nil disables volume discovery.
	volumes block.PartitionLister

	// bluez reaches connected Bluetooth peripherals; nil disables watch
	// discovery.
	bluez transport.BluezBus
}

// candidate is a discovered device that still has to be probed.
type candidate struct {
	dev    device.Device
	plugin string
}

func newApp(cfg *config.Config, log *logging.Logger, db *database.DB) (*app, error) {
	props, err := cmdline.Load(cfg.Boot.CmdlinePath)
	if err != nil {
		log.Warn("boot properties unavailable", "path", cfg.Boot.CmdlinePath, "error", err)
		props = cmdline.Empty()
	}

	store, err := loadQuirks(cfg.Quirks.Paths, log)
	if err != nil {
		return nil, err
	}

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("registry"))

	resolver := quirk.NewResolver(store,
		quirk.WithBootProperties(props),
		quirk.WithLogger(log.Component("quirk")),
	)

	engine := transfer.New(
		transfer.WithChunkSize(cfg.Transfer.ChunkSize),
		transfer.WithAlignment(cfg.Transfer.Alignment),
		transfer.WithReadTimeout(cfg.Transfer.ReadTimeoutDuration()),
		transfer.WithLogger(log.Component("transfer")),
		transfer.WithVerbose(cfg.Transfer.Verbose),
	)

	journal := audit.NewSQLiteRepository(db.DB)

	controller := lifecycle.New(registry,
		lifecycle.WithResolver(resolver),
		lifecycle.WithLogger(log.Component("lifecycle")),
		lifecycle.WithObserver(lifecycle.NewLogObserver(log.Component("lifecycle"))),
		lifecycle.WithObserver(audit.NewObserver(journal, log.Component("audit"))),
		lifecycle.WithInstallTimeout(cfg.Transfer.InstallTimeoutDuration()),
		lifecycle.WithDumpTimeout(cfg.Transfer.DumpTimeoutDuration()),
	)

	a := &app{
		cfg:        cfg,
		log:        log,
		reader:     &udev.Reader{SysRoot: cfg.Plugins.DD.SysRoot, RunRoot: cfg.Plugins.DD.RunRoot},
		props:      props,
		engine:     engine,
		controller: controller,
		journal:    journal,
	}
	if cfg.Plugins.Block.Enabled {
		a.volumes = block.NewDiscoverer(a.reader).Partitions
	}
	return a, nil
}

// loadQuirks loads the configured quirk paths, skipping missing ones.
func loadQuirks(paths []string, log *logging.Logger) (*quirk.MemoryStore, error) {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			log.Warn("skipping quirk path", "path", p, "error", err)
			continue
		}
		existing = append(existing, p)
	}
	store, err := quirk.LoadPaths(existing...)
	if err != nil {
		return nil, fmt.Errorf("loading quirks: %w", err)
	}
	log.Info("quirks loaded", "paths", len(existing), "entries", store.Len())
	return store, nil
}

// attach publishes lifecycle events and transfer metrics to the clients
// that are connected. The returned func flushes queued events and must run
// before the clients are closed.
func (a *app) attach(m *mqtt.Client, i *influxdb.Client) (detach func()) {
	detach = func() {}
	if m != nil {
		topics := m.Topics()
		pub := lifecycle.NewPublishObserver(m, func(id string, kind lifecycle.EventKind) string {
			return topics.DeviceEvent(id, string(kind))
		}, a.log.Component("mqtt"))
		a.controller.Subscribe(pub)
		detach = func() {
			pub.Close()
			if n := pub.Dropped(); n > 0 {
				a.log.Warn("lifecycle events were dropped", "count", n)
			}
		}
	}
	if i != nil {
		a.controller.Subscribe(lifecycle.NewMetricsObserver(i))
	}
	return detach
}

// discover returns every candidate of the enabled plugins.
func (a *app) discover(ctx context.Context) ([]candidate, error) {
	var candidates []candidate

	if a.volumes != nil {
		d := &block.Discoverer{
			Reader:     a.reader,
			Partitions: a.volumes,
			Options:    a.blockOptions(),
		}
		volumes, err := d.Discover(ctx)
		if err != nil {
			return nil, err
		}
		for _, v := range volumes {
			candidates = append(candidates, candidate{dev: v, plugin: block.PluginName})
		}
	}

	if a.cfg.Plugins.DD.Enabled {
		parts, err := dd.Discover(a.reader, a.props,
			dd.WithEngine(a.engine),
			dd.WithLogger(a.log.Component(dd.PluginName)),
		)
		if err != nil {
			return nil, err
		}
		for _, p := range parts {
			candidates = append(candidates, candidate{dev: p, plugin: dd.PluginName})
		}
	}

	if a.bluez != nil {
		watches, err := infinitime.Discover(ctx, a.bluez, infinitime.WithEngine(a.engine))
		if err != nil {
			// BlueZ may be restarting; the other plugins still count.
			a.log.Warn("bluetooth discovery failed", "error", err)
		}
		for _, w := range watches {
			candidates = append(candidates, candidate{dev: w, plugin: infinitime.PluginName})
		}
	}

	return candidates, nil
}

// connectBluez connects to BlueZ when watch discovery is enabled. The
// returned func closes the bus.
func (a *app) connectBluez() (disconnect func()) {
	if !a.cfg.Plugins.InfiniTime.Enabled {
		return func() {}
	}
	bus, err := transport.ConnectSystemBus()
	if err != nil {
		a.log.Warn("bluetooth unavailable, InfiniTime discovery disabled", "error", err)
		return func() {}
	}
	a.bluez = bus
	a.log.Info("connected to BlueZ")
	return func() {
		a.bluez = nil
		if err := bus.Close(); err != nil {
			a.log.Warn("closing system bus", "error", err)
		}
	}
}

func (a *app) blockOptions() []block.Option {
	opts := []block.Option{block.WithEngine(a.engine)}
	if a.cfg.Plugins.Block.Filename != "" {
		opts = append(opts, block.WithFilename(a.cfg.Plugins.Block.Filename))
	}
	return opts
}

// scan adds newly discovered devices and removes registered devices that
// were not found again. It returns the number of devices added.
func (a *app) scan(ctx context.Context) (int, error) {
	candidates, err := a.discover(ctx)
	if err != nil {
		return 0, err
	}

	present := make(map[string]bool)
	added := 0
	for _, c := range candidates {
		err := a.controller.Add(ctx, c.dev, c.plugin)
		id := c.dev.Record().ID()
		switch {
		case err == nil:
			added++
			present[id] = true
		case errors.Is(err, device.ErrDeviceExists):
			present[id] = true
		case errors.Is(err, fwerr.ErrNotSupported):
			a.log.Debug("device not supported", "plugin", c.plugin, "reason", err)
		default:
			a.log.Warn("adding device failed", "plugin", c.plugin, "error", err)
		}
	}

	for _, d := range a.controller.Registry().List() {
		id := d.Record().ID()
		if present[id] {
			continue
		}
		if err := a.controller.Remove(ctx, id); err != nil {
			a.log.Warn("removing vanished device failed", "device_id", id, "error", err)
		}
	}

	a.log.Info("scan complete", "candidates", len(candidates), "added", added, "devices", a.controller.Registry().Count())
	return added, nil
}

// resolve finds a registered device by id, or by a GUID that matches
// exactly one device.
func (a *app) resolve(ref string) (string, error) {
	registry := a.controller.Registry()
	if _, err := registry.Get(ref); err == nil {
		return ref, nil
	}
	matches := registry.FindByGUID(ref)
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", device.ErrDeviceNotFound, ref)
	case 1:
		return matches[0].Record().ID(), nil
	default:
		return "", fmt.Errorf("GUID %s matches %d devices, use a device id", ref, len(matches))
	}
}

func (a *app) install(ctx context.Context, ref, path string, out io.Writer) error {
	id, err := a.resolve(ref)
	if err != nil {
		return err
	}
	fw := firmware.FromFile(path, int64(a.cfg.Transfer.MaxFirmware))
	if err := a.controller.Install(ctx, id, fw); err != nil {
		return fmt.Errorf("installing %s: %w", path, err)
	}
	fmt.Fprintf(out, "Installed %s on %s\n", path, id)
	return nil
}

func (a *app) dump(ctx context.Context, ref, path string, out io.Writer) error {
	id, err := a.resolve(ref)
	if err != nil {
		return err
	}
	data, err := a.controller.Dump(ctx, id)
	if err != nil {
		return fmt.Errorf("dumping %s: %w", id, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Fprintf(out, "Dumped %d bytes from %s to %s\n", len(data), id, path)
	return nil
}

// list writes the diagnostic dump of every registered device.
func (a *app) list(out io.Writer) {
	devices := a.controller.Registry().List()
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices found")
		return
	}
	for _, d := range devices {
		fmt.Fprint(out, device.String(d))
	}
}

// serve waits for shutdown, rescanning whenever the rescan command
// arrives. mqttClient may be nil.
func (a *app) serve(ctx context.Context, mqttClient *mqtt.Client) error {
	rescan := make(chan struct{}, 1)
	if mqttClient != nil {
		err := mqttClient.SubscribeCommands(func(name string, _ []byte) error {
			if name != commandRescan {
				return fmt.Errorf("unknown command %q", name)
			}
			select {
			case rescan <- struct{}{}:
			default:
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("subscribing to commands: %w", err)
		}
	}

	a.log.Info("initialisation complete, waiting for shutdown signal")
	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received, cleaning up")
			return nil
		case <-rescan:
			if _, err := a.scan(ctx); err != nil {
				a.log.Warn("rescan failed", "error", err)
			}
		}
	}
}

// history writes the most recent journal entries, newest first.
func (a *app) history(ctx context.Context, limit int, out io.Writer) error {
	res, err := a.journal.List(ctx, audit.Filter{Limit: limit})
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}
	if len(res.Logs) == 0 {
		fmt.Fprintln(out, "No history")
		return nil
	}
	for _, l := range res.Logs {
		outcome := "ok"
		if !l.Success {
			outcome = "failed: " + l.Error
		}
		fmt.Fprintf(out, "%s  %-8s %-6s %s", l.CreatedAt.Local().Format(time.DateTime), l.Action, l.Plugin, l.DeviceID)
		if l.Bytes > 0 {
			fmt.Fprintf(out, "  %d bytes in %s", l.Bytes, l.Elapsed)
		}
		fmt.Fprintf(out, "  %s\n", outcome)
	}
	if res.Total > len(res.Logs) {
		fmt.Fprintf(out, "(%d of %d entries)\n", len(res.Logs), res.Total)
	}
	return nil
}
