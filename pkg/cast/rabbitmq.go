// ABOUTME: RabbitMQ pipeline publishing change feed entries to an exchange
// ABOUTME: Messages are persistent and carry the sequence as message id

package cast

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rabbitmq/amqp091-go"

	"github.com/nainya/dicomstore/pkg/changefeed"
)

// RabbitMQConfig configures the RabbitMQ pipeline
type RabbitMQConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// RabbitMQPipeline publishes each entry as a persistent JSON message
type RabbitMQPipeline struct {
	cfg  RabbitMQConfig
	conn *amqp091.Connection
	ch   publisher
}

// NewRabbitMQPipeline dials the broker and opens a channel
func NewRabbitMQPipeline(cfg RabbitMQConfig) (*RabbitMQPipeline, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("cast: rabbitmq url is required")
	}
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &RabbitMQPipeline{cfg: cfg, conn: conn, ch: ch}, nil
}

// Process publishes the entry. The routing key defaults to the entry action.
func (p *RabbitMQPipeline) Process(ctx context.Context, entry changefeed.Entry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cast: encode entry %d: %w", entry.Sequence, err)
	}

	key := p.cfg.RoutingKey
	if key == "" {
		key = "changefeed." + string(entry.Action)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    strconv.FormatInt(entry.Sequence, 10),
		Timestamp:    entry.Timestamp,
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, p.cfg.Exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("cast: publish entry %d: %w", entry.Sequence, err)
	}
	return nil
}

// Close closes the channel and connection
func (p *RabbitMQPipeline) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
