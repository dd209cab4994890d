package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/airtap/airtap/internal/config"
	"github.com/airtap/airtap/internal/stream"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQP publishes to a durable topic exchange with routing keys
// stream.schema and stream.record.
type AMQP struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	pub      publisher
	exchange string
	logger   *slog.Logger
}

// OpenAMQP dials the broker and declares the exchange.
func OpenAMQP(_ context.Context, cfg config.SinkConfig, logger *slog.Logger) (*AMQP, error) {
	conn, err := amqp.Dial(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-delete
		false,        // internal
		false,        // noWait
		nil,          // arguments
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", cfg.Exchange, err)
	}
	a := newAMQP(ch, cfg.Exchange, logger)
	a.conn, a.ch = conn, ch
	return a, nil
}

func newAMQP(pub publisher, exchange string, logger *slog.Logger) *AMQP {
	return &AMQP{pub: pub, exchange: exchange, logger: logger}
}

func (a *AMQP) WriteSchema(ctx context.Context, info StreamInfo) error {
	return a.publish(ctx, info.Name+".schema", "", info.Schema)
}

func (a *AMQP) WriteRecord(ctx context.Context, streamName string, rec stream.Record) error {
	id, err := recordID(rec)
	if err != nil {
		return err
	}
	return a.publish(ctx, streamName+".record", id, rec)
}

func (a *AMQP) publish(ctx context.Context, key, messageID string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	err = a.pub.PublishWithContext(ctx, a.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Body:         data,
	})
	if err != nil {
		return fmt.Errorf("publishing %s: %w", key, err)
	}
	return nil
}

func (a *AMQP) Close(context.Context) error {
	if a.ch != nil {
		a.ch.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
