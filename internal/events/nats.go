package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/sitemapd/internal/config"
)

const publishTimeout = 5 * time.Second

// NATSPublisher publishes lifecycle events to a JetStream stream.
type NATSPublisher struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// NewNATSPublisher connects to NATS and ensures the configured stream exists.
func NewNATSPublisher(cfg config.EventsConfig) (*NATSPublisher, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("event publishing is disabled")
	}

	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &NATSPublisher{
		conn:   conn,
		js:     js,
		prefix: cfg.SubjectPrefix,
	}

	if err := p.ensureStream(cfg.Stream); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	slog.Info("NATS event publisher initialized",
		"url", cfg.URL,
		"stream", cfg.Stream,
		"subject_prefix", cfg.SubjectPrefix)

	return p, nil
}

// ensureStream creates the stream when it does not exist yet.
func (p *NATSPublisher) ensureStream(name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := p.js.Stream(ctx, name); err == nil {
		return nil
	}

	_, err := p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        name,
		Description: "Sitemap generation lifecycle events",
		Subjects:    []string{p.prefix + ".>"},
		MaxBytes:    100 * 1024 * 1024,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	slog.Info("Created event stream", "stream", name)
	return nil
}

func (p *NATSPublisher) publish(ctx context.Context, subject string, event any) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (p *NATSPublisher) RunStarted(ctx context.Context, ev RunStartedEvent) error {
	return p.publish(ctx, p.prefix+".run.started", ev)
}

func (p *NATSPublisher) PartitionWritten(ctx context.Context, ev PartitionWrittenEvent) error {
	return p.publish(ctx, p.prefix+".partition.written", ev)
}

func (p *NATSPublisher) RunFinished(ctx context.Context, ev RunFinishedEvent) error {
	return p.publish(ctx, p.prefix+".run."+ev.Outcome, ev)
}

// Close closes the NATS connection.
func (p *NATSPublisher) Close() error {
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}
