// Package config loads and validates the firmware update core
// configuration.
//
// Values are resolved in three layers: built-in defaults, the YAML file,
// then FWUPD_* environment variables. Credentials (MQTT password, InfluxDB
// token) should come from the environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("/etc/fwupd-core/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Database.Path)
package config
