package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"food_order/pkg/logging"
	"food_order/pkg/metrics"
)

const (
	exchangeName  = "foodorder.events"
	headerKey     = "x-aggregate-id"
	headerAttempt = "x-attempt"
)

// RabbitMQ implements Bus over a durable topic exchange. The binding name
// is the routing key; per-binding queues give partition-like sequential
// consumption per consumer group.
type RabbitMQ struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	url     string
}

// NewRabbitMQ creates an unconnected bus.
func NewRabbitMQ(url string) *RabbitMQ {
	return &RabbitMQ{url: url}
}

// Connect dials the broker, retrying to survive container startup
// ordering, and declares the exchange.
func (r *RabbitMQ) Connect(attempts int) error {
	log := logging.WithComponent("rabbitmq")

	var err error
	for i := 0; i < attempts; i++ {
		if err = r.connectOnce(); err == nil {
			log.Info().Msg("connected to rabbitmq")
			return nil
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("rabbitmq not ready, retrying")
		time.Sleep(2 * time.Second)
	}
	return fmt.Errorf("failed to connect to rabbitmq after %d attempts: %w", attempts, err)
}

func (r *RabbitMQ) connectOnce() error {
	conn, err := amqp091.Dial(r.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	r.conn = conn
	r.channel = ch
	return nil
}

// Publish sends msg to the binding's routing key with the aggregate id in
// a header.
func (r *RabbitMQ) Publish(ctx context.Context, binding string, msg Message) error {
	if r.channel == nil {
		return fmt.Errorf("rabbitmq channel not initialized")
	}

	err := r.channel.PublishWithContext(
		ctx,
		exchangeName,
		binding,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			Type:         msg.Type,
			Body:         msg.Body,
			DeliveryMode: amqp091.Persistent,
			Headers: amqp091.Table{
				headerKey:     msg.Key,
				headerAttempt: int32(msg.Attempt),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", msg.Type, binding, err)
	}
	return nil
}

// Subscribe consumes the binding's queue for the group. Handler failures
// republish the message with an incremented attempt header; once the
// budget is spent the message goes to the dead-letter binding.
func (r *RabbitMQ) Subscribe(ctx context.Context, binding, group string, handler Handler) error {
	if r.channel == nil {
		return fmt.Errorf("rabbitmq channel not initialized")
	}

	queueName := fmt.Sprintf("%s.%s", group, binding)
	queue, err := r.channel.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	if err := r.channel.QueueBind(queue.Name, binding, exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", queueName, err)
	}

	msgs, err := r.channel.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume queue %s: %w", queueName, err)
	}

	log := logging.WithComponent("rabbitmq").With().
		Str("binding", binding).Str("group", group).Logger()

	go func() {
		log.Info().Msg("subscribed")
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				msg := Message{
					Key:     tableString(d.Headers, headerKey),
					Type:    d.Type,
					Body:    d.Body,
					Attempt: tableInt(d.Headers, headerAttempt),
				}

				if err := handler(ctx, msg); err != nil {
					log.Error().Err(err).Str("event_type", msg.Type).
						Int("attempt", msg.Attempt).Msg("handler failed")
					r.redeliver(ctx, binding, msg)
				}
				d.Ack(false)
			}
		}
	}()
	return nil
}

// redeliver republishes with backoff, or dead-letters when the attempt
// budget is spent. The original delivery is acked either way.
func (r *RabbitMQ) redeliver(ctx context.Context, binding string, msg Message) {
	log := logging.WithComponent("rabbitmq")

	msg.Attempt++
	if msg.Attempt >= MaxDeliveryAttempts {
		metrics.EventsDeadLettered.Inc()
		if err := r.Publish(ctx, BindingDeadLetter, msg); err != nil {
			log.Error().Err(err).Str("event_type", msg.Type).Msg("dead-letter publish failed")
		}
		return
	}

	// exponential redelivery delay, bounded
	delay := time.Duration(1<<uint(msg.Attempt)) * 250 * time.Millisecond
	if delay > 10*time.Second {
		delay = 10 * time.Second
	}
	time.Sleep(delay)

	if err := r.Publish(ctx, binding, msg); err != nil {
		log.Error().Err(err).Str("event_type", msg.Type).Msg("redelivery publish failed")
	}
}

// Close closes the channel and connection.
func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func tableString(t amqp091.Table, key string) string {
	if t == nil {
		return ""
	}
	if v, ok := t[key].(string); ok {
		return v
	}
	return ""
}

func tableInt(t amqp091.Table, key string) int {
	if t == nil {
		return 0
	}
	switch v := t[key].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
