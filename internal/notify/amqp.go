package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/facebookincubator/go-belt/tool/logger"
	amqp "github.com/rabbitmq/amqp091-go"

	"framerecorder/internal/domain"
)

var (
	ErrNoURL  = errors.New("amqp url is empty")
	ErrClosed = errors.New("publisher closed")
)

const (
	DefaultExchange = "framerecorder"

	RoutingKeyReady  = "recording.ready"
	RoutingKeyFailed = "recording.failed"
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher announces finished recordings on a topic exchange.
type Publisher struct {
	mu       sync.Mutex
	ch       channel
	conn     *amqp.Connection
	exchange string
	clock    clock.Clock
}

// Dial connects and declares a durable topic exchange.
func Dial(ctx context.Context, url, exchange string) (*Publisher, error) {
	if url == "" {
		return nil, ErrNoURL
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	logger.Debugf(ctx, "amqp publisher ready: exchange=%s", exchange)
	p := newPublisher(ch, exchange, clock.New())
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, clk clock.Clock) *Publisher {
	return &Publisher{ch: ch, exchange: exchange, clock: clk}
}

// Notify publishes summary as JSON, routed by its status.
func (p *Publisher) Notify(ctx context.Context, summary domain.RecordingSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return ErrClosed
	}
	err = p.ch.PublishWithContext(ctx,
		p.exchange,          // exchange
		RoutingKey(summary), // routing key
		false,               // mandatory
		false,               // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    summary.ID,
			Timestamp:    p.clock.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", summary.ID, err)
	}
	return nil
}

func RoutingKey(summary domain.RecordingSummary) string {
	if summary.Status == domain.JobStatusReady {
		return RoutingKeyReady
	}
	return RoutingKeyFailed
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	if p.conn != nil {
		if closeErr := p.conn.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}
