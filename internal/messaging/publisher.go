package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"callguard/internal/alerts"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// Config holds AMQP publisher settings
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// channel is the part of *amqp.Channel the publisher needs
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes alert events as JSON to a topic exchange
type Publisher struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel channel
	dial    func() (*amqp.Connection, channel, error)
}

// NewPublisher connects to the broker and declares the exchange
func NewPublisher(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp url is required")
	}

	p := &Publisher{cfg: cfg, logger: logger}
	p.dial = p.connect

	conn, ch, err := p.dial()
	if err != nil {
		return nil, err
	}
	p.conn, p.channel = conn, ch

	logger.Info("Connected to AMQP broker",
		zap.String("exchange", cfg.Exchange),
		zap.String("routing_key", cfg.RoutingKey))

	return p, nil
}

func (p *Publisher) connect() (*amqp.Connection, channel, error) {
	conn, err := amqp.DialConfig(p.cfg.URL, amqp.Config{
		Dial: amqp.DefaultDial(5 * time.Second),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		p.cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange %s: %w", p.cfg.Exchange, err)
	}

	return conn, ch, nil
}

func (p *Publisher) Name() string { return "amqp" }

// Notify publishes the event. A failed publish reconnects once and retries.
func (p *Publisher) Notify(ctx context.Context, event alerts.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.RaisedAt,
		Type:         string(event.Level),
		Body:         body,
	}
	if event.Detection != nil {
		msg.MessageId = event.Detection.ID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if p.channel != nil {
		if err = p.channel.Publish(p.cfg.Exchange, p.cfg.RoutingKey, false, false, msg); err == nil {
			return nil
		}
		p.logger.Warn("AMQP publish failed, reconnecting", zap.Error(err))
		p.closeLocked()
	}

	conn, ch, err := p.dial()
	if err != nil {
		return err
	}
	p.conn, p.channel = conn, ch

	if err := p.channel.Publish(p.cfg.Exchange, p.cfg.RoutingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish alert to AMQP: %w", err)
	}
	return nil
}

// Close closes the channel and connection
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

func (p *Publisher) closeLocked() {
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}
