package lifecycle

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/DylanVanAssche/fwupd/internal/transfer"
)

// Publisher sends a message to a topic. The MQTT client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// TopicFunc builds the topic an event of kind for deviceID is published on.
type TopicFunc func(deviceID string, kind EventKind) string

// DefaultPublishBacklog bounds the events a PublishObserver holds while
// the broker is slow.
const DefaultPublishBacklog = 1024

// PublishObserver publishes every event as JSON.
//
// OnEvent only queues the event; one goroutine publishes in order. While a
// progress tick of a device is still queued, a newer tick replaces it, so
// a slow broker sees fewer ticks instead of slowing down the transfer.
// When the backlog is full further events are dropped and counted.
//
// State changes are retained so late subscribers see the current state;
// progress ticks use QoS 0 and everything else QoS 1.
type PublishObserver struct {
	pub     Publisher
	topic   TopicFunc
	logger  Logger
	backlog int

	mu       sync.Mutex
	pending  []Event
	progress map[string]int // device id -> index of its queued tick
	dropped  int
	lost     int // dropped since the last warning
	closed   bool

	wake chan struct{}
	done chan struct{}
}

// NewPublishObserver creates an observer that publishes through pub and
// starts its publishing goroutine. Call Close to flush and stop it.
func NewPublishObserver(pub Publisher, topic TopicFunc, logger Logger) *PublishObserver {
	if logger == nil {
		logger = noopLogger{}
	}
	o := &PublishObserver{
		pub:      pub,
		topic:    topic,
		logger:   logger,
		backlog:  DefaultPublishBacklog,
		progress: make(map[string]int),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go o.run()
	return o
}

// OnEvent queues e for publishing. It never blocks on the broker.
func (o *PublishObserver) OnEvent(e Event) {
	o.mu.Lock()
	switch {
	case o.closed:
		o.mu.Unlock()
		return
	case e.Kind == EventProgress:
		if i, ok := o.progress[e.DeviceID]; ok {
			o.pending[i] = e
			o.mu.Unlock()
			return
		}
	}
	if len(o.pending) >= o.backlog {
		o.dropped++
		o.lost++
		o.mu.Unlock()
		return
	}
	if e.Kind == EventProgress {
		o.progress[e.DeviceID] = len(o.pending)
	}
	o.pending = append(o.pending, e)

	// wake is closed under mu, so the send must happen under it too.
	select {
	case o.wake <- struct{}{}:
	default:
	}
	o.mu.Unlock()
}

// Dropped returns how many events were discarded because the backlog was full.
func (o *PublishObserver) Dropped() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

// Close publishes what is still queued and stops the goroutine. Events
// arriving afterwards are ignored.
func (o *PublishObserver) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		<-o.done
		return
	}
	o.closed = true
	close(o.wake)
	o.mu.Unlock()

	<-o.done
}

func (o *PublishObserver) run() {
	defer close(o.done)
	for range o.wake {
		o.flush()
	}
	o.flush()
}

// flush publishes the queued events in order.
func (o *PublishObserver) flush() {
	for {
		o.mu.Lock()
		batch := o.pending
		o.pending = nil
		clear(o.progress)
		lost := o.lost
		o.lost = 0
		o.mu.Unlock()

		if lost > 0 {
			o.logger.Warn("lifecycle events dropped", "count", lost)
		}
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			o.publish(e)
		}
	}
}

type eventMessage struct {
	Kind     string           `json:"kind"`
	DeviceID string           `json:"device_id"`
	Plugin   string           `json:"plugin,omitempty"`
	Time     string           `json:"time"`
	From     string           `json:"from,omitempty"`
	To       string           `json:"to,omitempty"`
	Progress *progressMessage `json:"progress,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type progressMessage struct {
	Phase       string  `json:"phase,omitempty"`
	Chunk       int     `json:"chunk"`
	TotalChunks int     `json:"total_chunks,omitempty"`
	Bytes       int     `json:"bytes"`
	TotalBytes  int     `json:"total_bytes,omitempty"`
	Percentage  float64 `json:"percentage"`
	ElapsedMS   int64   `json:"elapsed_ms"`
}

func newEventMessage(e Event) eventMessage {
	msg := eventMessage{
		Kind:     string(e.Kind),
		DeviceID: e.DeviceID,
		Plugin:   e.Plugin,
		Time:     e.Time.UTC().Format(time.RFC3339Nano),
	}
	if e.Kind == EventStateChanged {
		msg.From = e.From.String()
		msg.To = e.To.String()
	}
	if p := e.Progress; p != nil {
		msg.Progress = &progressMessage{
			Phase:       p.Phase,
			Chunk:       p.Chunk,
			TotalChunks: p.TotalChunks,
			Bytes:       p.Bytes,
			TotalBytes:  p.TotalBytes,
			Percentage:  p.Percentage,
			ElapsedMS:   p.Elapsed.Milliseconds(),
		}
	}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	return msg
}

// publish sends e. Failures are logged, never returned.
func (o *PublishObserver) publish(e Event) {
	payload, err := json.Marshal(newEventMessage(e))
	if err != nil {
		o.logger.Warn("encoding lifecycle event", "error", err)
		return
	}

	qos := byte(1)
	if e.Kind == EventProgress {
		qos = 0
	}
	retained := e.Kind == EventStateChanged

	if err := o.pub.Publish(o.topic(e.DeviceID, e.Kind), payload, qos, retained); err != nil {
		o.logger.Debug("publishing lifecycle event failed", "device_id", e.DeviceID, "kind", e.Kind, "error", err)
	}
}

// MetricsWriter records finished transfers. The InfluxDB client satisfies it.
type MetricsWriter interface {
	WriteTransferMetric(deviceID, plugin, phase string, bytes int, elapsed time.Duration, success bool)
}

// MetricsObserver records one metric per finished transfer.
type MetricsObserver struct {
	w MetricsWriter
}

// NewMetricsObserver creates an observer that writes to w.
func NewMetricsObserver(w MetricsWriter) *MetricsObserver {
	return &MetricsObserver{w: w}
}

// OnEvent implements Observer.
func (o *MetricsObserver) OnEvent(e Event) {
	if e.Kind != EventTransferFinished || e.Progress == nil {
		return
	}
	phase := e.Progress.Phase
	if phase == "" {
		phase = transfer.PhaseWriting
	}
	o.w.WriteTransferMetric(e.DeviceID, e.Plugin, phase, e.Progress.Bytes, e.Progress.Elapsed, e.Err == nil)
}

// LogObserver logs state changes and finished transfers.
type LogObserver struct {
	logger Logger
}

// NewLogObserver creates an observer that logs to logger.
func NewLogObserver(logger Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

// OnEvent implements Observer.
func (o *LogObserver) OnEvent(e Event) {
	switch e.Kind {
	case EventStateChanged:
		o.logger.Debug("device state changed", "device_id", e.DeviceID, "from", e.From.String(), "to", e.To.String())
	case EventAdded, EventRemoved:
		o.logger.Info("device "+string(e.Kind), "device_id", e.DeviceID, "plugin", e.Plugin)
	case EventTransferFinished:
		if e.Err != nil {
			o.logger.Warn("transfer finished with error", "device_id", e.DeviceID, "error", e.Err)
			return
		}
		o.logger.Info("transfer finished", "device_id", e.DeviceID, "bytes", e.Progress.Bytes, "elapsed", e.Progress.Elapsed)
	}
}
