package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jamibilling/rdn-billing/pkg/logger"
)

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	URL            string
	Name           string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
	// MaxAge bounds how long case events are retained.
	MaxAge time.Duration
}

// DefaultNATSConfig returns a sensible default configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            "nats://localhost:4222",
		Name:           "rdn-billing",
		MaxReconnects:  -1, // Infinite reconnects
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 10 * time.Second,
		MaxAge:         7 * 24 * time.Hour,
	}
}

// Bus wraps a NATS connection and its JetStream context.
type Bus struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	config NATSConfig
	logger *logger.Logger
	mu     sync.RWMutex
	subs   []*nats.Subscription
}

// Connect opens a NATS connection with JetStream support.
func Connect(cfg NATSConfig, log *logger.Logger) (*Bus, error) {
	if log == nil {
		log = logger.Nop()
	}
	def := DefaultNATSConfig()
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = def.ReconnectWait
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}

	b := &Bus{config: cfg, logger: log.WithComponent("nats")}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			b.logger.Info("reconnected to NATS", "url", conn.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			b.logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	b.conn, b.js = conn, js
	b.logger.Info("connected to NATS", "url", cfg.URL)
	return b, nil
}

// StreamConfig returns the configuration of the CASES stream.
func (b *Bus) StreamConfig() nats.StreamConfig {
	return nats.StreamConfig{
		Name:        StreamCases,
		Description: "Case login, extraction and fee lookup events",
		Subjects:    []string{SubjectAll},
		Storage:     nats.FileStorage,
		Retention:   nats.LimitsPolicy,
		MaxAge:      b.config.MaxAge,
		MaxMsgs:     -1,
		MaxBytes:    -1,
		Replicas:    1,
		Discard:     nats.DiscardOld,
	}
}

// SetupStream creates or updates the CASES stream.
func (b *Bus) SetupStream(ctx context.Context) error {
	cfg := b.StreamConfig()
	js := b.jetStream()

	_, err := js.StreamInfo(cfg.Name, nats.Context(ctx))
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := js.AddStream(&cfg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
		b.logger.Info("created stream", "stream", cfg.Name)
	case err != nil:
		return fmt.Errorf("failed to get stream info for %s: %w", cfg.Name, err)
	default:
		if _, err := js.UpdateStream(&cfg, nats.Context(ctx)); err != nil {
			b.logger.Warn("failed to update stream", "stream", cfg.Name, "error", err)
		}
	}
	return nil
}

// Publish implements Publisher.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := b.jetStream().Publish(e.Subject, data, nats.Context(ctx), nats.MsgId(e.EventID)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", e.Subject, err)
	}

	b.logger.Debug("published event", "subject", e.Subject, "size", len(data))
	return nil
}

// Subscribe delivers decoded events on subject to handler. A durable name
// resumes where the consumer left off; an empty one only sees new events.
func (b *Bus) Subscribe(subject, durable string, handler func(Event)) (*nats.Subscription, error) {
	opts := []nats.SubOpt{nats.AckExplicit()}
	if durable != "" {
		opts = append(opts, nats.Durable(durable))
	} else {
		opts = append(opts, nats.DeliverNew())
	}

	sub, err := b.jetStream().Subscribe(subject, func(msg *nats.Msg) {
		var e Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			b.logger.WithError(err).Warn("dropping undecodable event", "subject", msg.Subject)
			_ = msg.Term()
			return
		}
		handler(e)
		_ = msg.Ack()
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.logger.Info("subscribed to subject", "subject", subject, "durable", durable)
	return sub, nil
}

// IsConnected returns true if connected to NATS.
func (b *Bus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn != nil && b.conn.IsConnected()
}

// Health reports whether the connection is usable.
func (b *Bus) Health(context.Context) error {
	if !b.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}

// Drain gracefully drains all subscriptions and the connection.
func (b *Bus) Drain() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			b.logger.Warn("failed to drain subscription", "subject", sub.Subject, "error", err)
		}
	}
	b.subs = nil

	if b.conn != nil {
		if err := b.conn.Drain(); err != nil {
			return fmt.Errorf("failed to drain connection: %w", err)
		}
	}
	return nil
}

// Close closes the NATS connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
		b.js = nil
	}
	return nil
}

func (b *Bus) jetStream() nats.JetStreamContext {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.js
}
