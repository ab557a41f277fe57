package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const exchangeType = "topic"

// amqpChannel is the part of *amqp.Channel the broadcaster uses
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Broadcaster pushes committed changes to a RabbitMQ topic exchange, one
// routing key per topic, for real-time subscribers.
type Broadcaster struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
	logger   *zap.Logger
}

// DialBroadcaster connects, retrying a few times while the broker starts up,
// and declares the exchange
func DialBroadcaster(url, exchange string) (*Broadcaster, error) {
	logger := util.GetLogger().Named("broadcaster")

	var conn *amqp.Connection
	var err error
	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to RabbitMQ", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,     // name
		exchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not declare exchange: %w", err)
	}

	b := newBroadcaster(ch, exchange)
	b.conn = conn
	return b, nil
}

func newBroadcaster(ch amqpChannel, exchange string) *Broadcaster {
	return &Broadcaster{ch: ch, exchange: exchange, logger: util.GetLogger().Named("broadcaster")}
}

// Publish sends payload as JSON with topic as the routing key
func (b *Broadcaster) Publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("could not marshal notification: %w", err)
	}

	// amqp channels are not safe for concurrent publishing
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.ch.PublishWithContext(ctx,
		b.exchange, // exchange
		topic,      // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// Close closes the channel and connection
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.ch.Close()
	if b.conn != nil {
		if cerr := b.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
