package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/DylanVanAssche/fwupd/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration. Only the integration
// tests connect with it.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "fwupd-core-test",
		},
		QoS:         1,
		TopicPrefix: "fwupd",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// disconnectedClient returns a client that never dialled a broker.
func disconnectedClient() *Client {
	return &Client{
		cfg:           testConfig(),
		topics:        NewTopics("fwupd", "host-a"),
		subscriptions: make(map[string]subscription),
	}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
	attrs  []map[string]any
}

func (l *recordingLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
	l.attrs = append(l.attrs, attrMap(args))
}

func (l *recordingLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
	l.attrs = append(l.attrs, attrMap(args))
}

func attrMap(args []any) map[string]any {
	m := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		if k, ok := args[i].(string); ok {
			m[k] = args[i+1]
		}
	}
	return m
}

func TestIsConnected_InitialState(t *testing.T) {
	if (&Client{}).IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	c := disconnectedClient()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestPublishValidation(t *testing.T) {
	c := disconnectedClient()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "fwupd/a", []byte("x"), 3, ErrInvalidQoS},
		{"payload too large", "fwupd/a", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"disconnected", "fwupd/a", []byte("x"), 1, ErrNotConnected},
		{"nil payload disconnected", "fwupd/a", nil, 0, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := c.PublishRetained("fwupd/a", []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishRetained() error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := disconnectedClient()
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{"empty topic", "", 1, noop, ErrInvalidTopic},
		{"invalid qos", "fwupd/#", 3, noop, ErrInvalidQoS},
		{"nil handler", "fwupd/#", 1, nil, ErrSubscribeFailed},
		{"disconnected", "fwupd/#", 1, noop, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0 after failed subscribes", c.SubscriptionCount())
	}
	if err := c.SubscribeCommands(nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("SubscribeCommands(nil) error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Unsubscribe("fwupd/#"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestWrapHandler(t *testing.T) {
	c := disconnectedClient()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	var got []string
	ok := c.wrapHandler(func(topic string, payload []byte) error {
		got = append(got, topic+"="+string(payload))
		return nil
	})
	ok(nil, fakeMessage{topic: "fwupd/host-a/command/rescan", payload: []byte("{}")})
	if len(got) != 1 || got[0] != "fwupd/host-a/command/rescan={}" {
		t.Errorf("handler got %v", got)
	}

	failing := c.wrapHandler(func(string, []byte) error { return errors.New("boom") })
	failing(nil, fakeMessage{topic: "t"})

	panicking := c.wrapHandler(func(string, []byte) error { panic("bad handler") })
	panicking(nil, fakeMessage{topic: "t"})

	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want one handler error", logger.warns)
	}
	if len(logger.errors) != 1 {
		t.Errorf("errors = %v, want one recovered panic", logger.errors)
	}
}

func TestWrapHandlerWithoutLogger(t *testing.T) {
	c := disconnectedClient()
	h := c.wrapHandler(func(string, []byte) error { panic("no logger") })
	h(nil, fakeMessage{topic: "t"})
}

func TestCallbacks(t *testing.T) {
	c := disconnectedClient()

	var lost error
	c.SetOnDisconnect(func(err error) { lost = err })
	c.connected = true
	c.handleDisconnect(errors.New("link down"))

	if lost == nil || lost.Error() != "link down" {
		t.Errorf("onDisconnect got %v", lost)
	}
	if c.connected {
		t.Error("connected should be false after handleDisconnect")
	}
}

func TestLogContext(t *testing.T) {
	tests := []struct {
		name string
		run  func(c *Client)
		want map[string]any
	}{
		{
			name: "device handler error",
			run: func(c *Client) {
				h := c.wrapHandler(func(string, []byte) error { return errors.New("boom") })
				h(nil, fakeMessage{topic: "fwupd/host-a/device/3f5c/progress"})
			},
			want: map[string]any{"node": "host-a", "client_id": "fwupd-core-test", "device_id": "3f5c"},
		},
		{
			name: "command handler panic",
			run: func(c *Client) {
				h := c.wrapHandler(func(string, []byte) error { panic("bad") })
				h(nil, fakeMessage{topic: "fwupd/host-a/command/rescan"})
			},
			want: map[string]any{"node": "host-a", "client_id": "fwupd-core-test", "command": "rescan"},
		},
		{
			name: "connection lost",
			run: func(c *Client) {
				c.subscriptions["fwupd/host-a/command/+"] = subscription{}
				c.handleDisconnect(errors.New("link down"))
			},
			want: map[string]any{"node": "host-a", "client_id": "fwupd-core-test", "subscriptions": 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := disconnectedClient()
			logger := &recordingLogger{}
			c.SetLogger(logger)

			tt.run(c)

			if len(logger.attrs) != 1 {
				t.Fatalf("logged %d entries, want 1", len(logger.attrs))
			}
			for k, v := range tt.want {
				if got := logger.attrs[0][k]; got != v {
					t.Errorf("%s = %v, want %v", k, got, v)
				}
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "fw", Password: "secret"}

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "fwupd-core-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "fw" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}

	cfg.Broker.TLS = true
	opts = buildClientOptions(cfg)
	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config should enforce the minimum version")
	}
}

func TestConfigureLWT(t *testing.T) {
	cfg := testConfig()
	topics := NewTopics(cfg.TopicPrefix, "host-a")
	opts := buildClientOptions(cfg)
	configureLWT(opts, topics, cfg.Broker.ClientID)

	if !opts.WillEnabled || !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will enabled=%v retained=%v qos=%d", opts.WillEnabled, opts.WillRetained, opts.WillQos)
	}
	if opts.WillTopic != "fwupd/host-a/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}

	var msg statusMessage
	if err := json.Unmarshal(opts.WillPayload, &msg); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if msg.Status != StatusOffline || msg.Reason != reasonUnexpected || msg.Node != "host-a" {
		t.Errorf("will payload = %+v", msg)
	}
}

func TestStatusPayloads(t *testing.T) {
	tests := []struct {
		name       string
		payload    []byte
		wantStatus string
		wantReason string
	}{
		{"online", buildOnlinePayload("c1", "host-a"), StatusOnline, ""},
		{"offline", buildOfflinePayload("c1", "host-a"), StatusOffline, reasonShutdown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg statusMessage
			if err := json.Unmarshal(tt.payload, &msg); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if msg.Status != tt.wantStatus || msg.Reason != tt.wantReason {
				t.Errorf("payload = %+v", msg)
			}
			if msg.ClientID != "c1" || msg.Timestamp == "" {
				t.Errorf("payload = %+v", msg)
			}
		})
	}
}
