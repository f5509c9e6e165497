// Package influxdb records firmware transfer metrics in InfluxDB.
//
// Every finished write or dump becomes one point in the firmware_transfer
// measurement, tagged with device, plugin, phase and outcome, so transfer
// throughput can be compared across devices and hosts.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Daemon.Name)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTransferMetric(deviceID, "block", "write", n, elapsed, true)
//
// A *Client satisfies lifecycle.MetricsWriter.
//
// # Error Handling
//
// Writes are non-blocking. Batch errors are logged through the logger set
// with SetLogger, tagged with the node and bucket, and delivered to the
// callback set with SetOnError. Connection and health check errors are
// returned directly.
package influxdb
