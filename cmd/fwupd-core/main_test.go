package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DylanVanAssche/fwupd/internal/device"
)

const (
	testPartitionType = "ebd0a0a2-b9e5-4433-87c0-68b6b72699c7"
	testCmdline       = "quiet androidboot.slot_suffix=_a androidboot.abl.version=1.2.3\n"
)

// writeTree writes files relative to root.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

// testEnvironment builds a fake sysfs and udev tree with one partition per
// boot slot plus a whole disk, a kernel command line and a quirk file.
func testEnvironment(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"sys/class/block/sda/uevent":  "MAJOR=8\nMINOR=0\nDEVNAME=sda\nDEVTYPE=disk\n",
		"sys/class/block/sda1/uevent": "MAJOR=8\nMINOR=1\nDEVNAME=sda1\nDEVTYPE=partition\n",
		"sys/class/block/sda2/uevent": "MAJOR=8\nMINOR=2\nDEVNAME=sda2\nDEVTYPE=partition\n",
		"run/udev/data/b8:1":          "E:ID_PART_ENTRY_NAME=abl_a\nE:ID_PART_ENTRY_TYPE=" + testPartitionType + "\n",
		"run/udev/data/b8:2":          "E:ID_PART_ENTRY_NAME=abl_b\nE:ID_PART_ENTRY_TYPE=" + testPartitionType + "\n",
		"cmdline":                     testCmdline,
		"quirks.d/abl.quirk":          "[DRIVE\\UUID_" + testPartitionType + "]\nName = Bootloader\nVendor = Acme\n",
	})
	return root
}

// writeConfig writes a config file for the fake tree and returns its path.
func writeConfig(t *testing.T, root string) string {
	t.Helper()
	content := `
daemon:
  name: test-host
database:
  path: ` + filepath.Join(root, "db", "history.db") + `
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: false
influxdb:
  enabled: false
logging:
  level: error
  format: text
  output: stderr
quirks:
  paths:
    - ` + filepath.Join(root, "quirks.d") + `
    - ` + filepath.Join(root, "missing.d") + `
boot:
  cmdline_path: ` + filepath.Join(root, "cmdline") + `
plugins:
  block:
    enabled: false
  dd:
    enabled: true
    sys_root: ` + filepath.Join(root, "sys") + `
    run_root: ` + filepath.Join(root, "run") + `
`
	path := filepath.Join(root, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    options
		wantErr bool
	}{
		{name: "no arguments", args: nil, want: options{limit: 20}},
		{name: "config", args: []string{"-config", "/tmp/c.yaml"}, want: options{configPath: "/tmp/c.yaml", limit: 20}},
		{name: "daemon", args: []string{"-daemon"}, want: options{daemon: true, limit: 20}},
		{name: "history", args: []string{"-history", "-limit", "5"}, want: options{history: true, limit: 5}},
		{
			name: "install",
			args: []string{"-install", "abc", "-file", "fw.bin"},
			want: options{install: "abc", file: "fw.bin", limit: 20},
		},
		{name: "history and daemon", args: []string{"-history", "-daemon"}, wantErr: true},
		{name: "install without file", args: []string{"-install", "abc"}, wantErr: true},
		{name: "dump without file", args: []string{"-dump", "abc"}, wantErr: true},
		{name: "two commands", args: []string{"-daemon", "-dump", "abc", "-file", "x"}, wantErr: true},
		{name: "unknown flag", args: []string{"-frobnicate"}, wantErr: true},
		{name: "positional argument", args: []string{"extra"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArgs(tt.args)
			if tt.wantErr {
				if !errors.Is(err, errUsage) {
					t.Errorf("parseArgs() error = %v, want errUsage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseArgs() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("parseArgs() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, []string{"-config", "/nonexistent/path/config.yaml"}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want a config error", err)
	}
}

func TestRun_ConfigFromEnvironment(t *testing.T) {
	t.Setenv("FWUPD_CONFIG", "/nonexistent/env/config.yaml")

	err := run(context.Background(), nil, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want a config error for FWUPD_CONFIG", err)
	}
}

func TestRun_ListsDevices(t *testing.T) {
	root := testEnvironment(t)
	cfgPath := writeConfig(t, root)

	var out bytes.Buffer
	if err := run(context.Background(), []string{"-config", cfgPath}, &out); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Bootloader\n",
		"Vendor:",
		"Acme",
		"1.2.3",
		`DRIVE\UUID_` + testPartitionType + `&LABEL_abl_a&SLOT__a`,
		"/dev/sda1",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "abl_b") || strings.Contains(got, "/dev/sda2") {
		t.Errorf("partition of the inactive slot listed:\n%s", got)
	}
}

func TestRun_InstallUnknownDevice(t *testing.T) {
	root := testEnvironment(t)
	cfgPath := writeConfig(t, root)
	fw := filepath.Join(root, "fw.bin")
	if err := os.WriteFile(fw, []byte("payload"), 0o600); err != nil {
		t.Fatalf("write firmware: %v", err)
	}

	err := run(context.Background(), []string{"-config", cfgPath, "-install", "no-such-device", "-file", fw}, &bytes.Buffer{})
	if !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("run() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRun_DaemonStopsOnCancel(t *testing.T) {
	root := testEnvironment(t)
	cfgPath := writeConfig(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, []string{"-config", cfgPath, "-daemon"}, &bytes.Buffer{})
	}()

	time.Sleep(500 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("run() error = %v, want nil on shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestRun_History(t *testing.T) {
	root := testEnvironment(t)
	cfgPath := writeConfig(t, root)

	var out bytes.Buffer
	if err := run(context.Background(), []string{"-config", cfgPath, "-history"}, &out); err != nil {
		t.Fatalf("run(-history) error = %v", err)
	}
	if !strings.Contains(out.String(), "No history") {
		t.Errorf("empty history output = %q", out.String())
	}

	if err := run(context.Background(), []string{"-config", cfgPath}, &bytes.Buffer{}); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	out.Reset()
	if err := run(context.Background(), []string{"-config", cfgPath, "-history"}, &out); err != nil {
		t.Fatalf("run(-history) error = %v", err)
	}
	if !strings.Contains(out.String(), "added") || !strings.Contains(out.String(), "dd") {
		t.Errorf("history output = %q, want the added partition", out.String())
	}
}
