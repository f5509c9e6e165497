package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementTransfer is the measurement finished transfers are written to.
const MeasurementTransfer = "firmware_transfer"

// WriteTransferMetric records one finished transfer.
//
// The write is non-blocking; points are batched and sent asynchronously.
// Nothing is written while the client is disconnected.
//
// Example:
//
//	client.WriteTransferMetric(dev.ID(), "dd", "write", 4096, 120*time.Millisecond, true)
func (c *Client) WriteTransferMetric(deviceID, plugin, phase string, bytes int, elapsed time.Duration, success bool) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(transferPoint(c.node, deviceID, plugin, phase, bytes, elapsed, success, time.Now()))
}

// transferPoint builds the point for one transfer. Identifiers with low
// cardinality are tags; sizes and durations are fields.
func transferPoint(node, deviceID, plugin, phase string, bytes int, elapsed time.Duration, success bool, ts time.Time) *write.Point {
	tags := map[string]string{
		"device_id": deviceID,
		"plugin":    plugin,
		"phase":     phase,
		"success":   strconv.FormatBool(success),
	}
	if node != "" {
		tags["node"] = node
	}

	fields := map[string]interface{}{
		"bytes":      int64(bytes),
		"elapsed_ms": elapsed.Milliseconds(),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		fields["bytes_per_second"] = float64(bytes) / secs
	}

	return write.NewPoint(MeasurementTransfer, tags, fields, ts)
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
