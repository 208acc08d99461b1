package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"broadcastnet/internal/bridge"
)

var (
	ErrNotConnected = errors.New("mqtt client not connected")
	ErrStopped      = errors.New("client stopped")
)

type Options struct {
	Broker      string
	Port        int
	ClientID    string
	TopicPrefix string
}

// Client mirrors upload cycles to an MQTT broker. It implements
// bridge.Reporter.
type Client struct {
	client    mqtt.Client
	opts      Options
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Telemetry is the JSON body published for every cycle.
type Telemetry struct {
	CycleID    string             `json:"cycle_id"`
	Bridge     string             `json:"bridge"`
	Sender     string             `json:"sender"`
	Group      string             `json:"group"`
	Sequence   uint8              `json:"sequence"`
	Missed     uint8              `json:"missed"`
	Feeds      map[string]float64 `json:"feeds"`
	Status     string             `json:"status"`
	Error      string             `json:"error,omitempty"`
	RSSI       int16              `json:"rssi"`
	SeenAt     time.Time          `json:"seen_at"`
	DurationMS int64              `json:"duration_ms"`
}

// SenderStatus is published retained so late subscribers see the last state
// of every sender.
type SenderStatus struct {
	Sender       string    `json:"sender"`
	Bridge       string    `json:"bridge"`
	LastSeen     time.Time `json:"last_seen"`
	LastSequence uint8     `json:"last_sequence"`
	Healthy      bool      `json:"healthy"`
}

func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if opts.Port == 0 {
		opts.Port = 1883
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		opts:   opts,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	o := mqtt.NewClientOptions()
	o.AddBroker(fmt.Sprintf("tcp://%s:%d", opts.Broker, opts.Port))
	o.SetClientID(opts.ClientID)

	o.SetCleanSession(true)

	o.SetAutoReconnect(true)
	o.SetConnectRetry(true)
	o.SetConnectRetryInterval(5 * time.Second)
	o.SetMaxReconnectInterval(60 * time.Second)

	o.SetKeepAlive(30 * time.Second)
	o.SetPingTimeout(10 * time.Second)

	o.SetOnConnectHandler(func(_ mqtt.Client) {
		c.setConnected(true)
		logger.Info("mqtt connected", "broker", opts.Broker, "port", opts.Port)
	})
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(o)
	return c, nil
}

// Connect waits for the initial connection and respects ctx and Disconnect().
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return ErrStopped
	default:
	}

	if c.IsConnected() {
		return nil
	}

	// With ConnectRetry(true) paho keeps retrying internally.
	token := c.client.Connect()
	if err := c.wait(ctx, token, 0); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// ReportCycle publishes the cycle summary and the retained sender status.
func (c *Client) ReportCycle(ctx context.Context, cy bridge.Cycle) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	sender := cy.Sender.String()
	if err := c.publish(ctx, TelemetryTopic(c.opts.TopicPrefix, cy.Bridge, sender), false, NewTelemetry(cy)); err != nil {
		return fmt.Errorf("publish telemetry: %w", err)
	}
	status := SenderStatus{
		Sender:       sender,
		Bridge:       cy.Bridge,
		LastSeen:     cy.SeenAt,
		LastSequence: cy.Sequence,
		Healthy:      cy.Status == bridge.StatusOK,
	}
	if err := c.publish(ctx, StatusTopic(c.opts.TopicPrefix, cy.Bridge, sender), true, status); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}

	c.logger.Debug("mirrored cycle", "cycle_id", cy.ID, "sender", sender)
	return nil
}

func (c *Client) publish(ctx context.Context, topic string, retained bool, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	token := c.client.Publish(topic, 1, retained, data)
	if err := c.wait(ctx, token, 5*time.Second); err != nil {
		c.logger.Error("mqtt publish failed", "topic", topic, "error", err)
		return err
	}
	return nil
}

// wait polls token until it completes, ctx is done, the client is stopped
// or timeout (if > 0) elapses.
func (c *Client) wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	const poll = 200 * time.Millisecond
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if token.WaitTimeout(poll) {
			return token.Error()
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("timeout after %v", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return ErrStopped
		default:
		}
	}
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect stops the client and closes the connection. Idempotent.
// After Disconnect, Connect() returns ErrStopped.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func TelemetryTopic(prefix, bridgeAddr, sender string) string {
	return topic(prefix, bridgeAddr, sender, "telemetry")
}

func StatusTopic(prefix, bridgeAddr, sender string) string {
	return topic(prefix, bridgeAddr, sender, "status")
}

func topic(prefix, bridgeAddr, sender, leaf string) string {
	if prefix == "" {
		return fmt.Sprintf("%s/%s/%s", bridgeAddr, sender, leaf)
	}
	return fmt.Sprintf("%s/%s/%s/%s", prefix, bridgeAddr, sender, leaf)
}

func NewTelemetry(cy bridge.Cycle) Telemetry {
	feeds := make(map[string]float64, len(cy.Data))
	for _, d := range cy.Data {
		feeds[d.Key] = d.Value
	}
	return Telemetry{
		CycleID:    cy.ID,
		Bridge:     cy.Bridge,
		Sender:     cy.Sender.String(),
		Group:      cy.GroupKey,
		Sequence:   cy.Sequence,
		Missed:     cy.Missed,
		Feeds:      feeds,
		Status:     string(cy.Status),
		Error:      cy.Err,
		RSSI:       cy.RSSI,
		SeenAt:     cy.SeenAt,
		DurationMS: cy.Duration.Milliseconds(),
	}
}
