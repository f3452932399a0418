// Package messaging abstracts the broker behind logical binding names.
// The core publishes to bindings and never names a broker; RabbitMQ and
// Kafka implementations are selected by configuration.
package messaging

import (
	"context"
)

// Message is one broker message. Key is the aggregate identifier and is
// used as the partitioning key so same-aggregate messages preserve order
// downstream.
type Message struct {
	Key     string
	Type    string
	Body    []byte
	Attempt int
}

// Handler processes one delivered message. A returned error triggers
// redelivery with backoff until the attempt budget is spent, after which
// the message moves to the dead-letter binding.
type Handler func(ctx context.Context, msg Message) error

// Bus is the broker abstraction.
type Bus interface {
	// Publish sends msg to the logical binding.
	Publish(ctx context.Context, binding string, msg Message) error
	// Subscribe consumes a binding within a consumer group. Messages of
	// one partition are processed sequentially.
	Subscribe(ctx context.Context, binding, group string, handler Handler) error
	Close() error
}

// MaxDeliveryAttempts bounds redelivery before dead-lettering.
const MaxDeliveryAttempts = 5

// NewBus builds the configured broker backend. kind is "rabbitmq" or
// "kafka"; anything else defaults to RabbitMQ.
func NewBus(kind, rabbitURL string, kafkaBrokers []string, connectAttempts int) (Bus, error) {
	if kind == "kafka" {
		return NewKafka(kafkaBrokers), nil
	}
	r := NewRabbitMQ(rabbitURL)
	if err := r.Connect(connectAttempts); err != nil {
		return nil, err
	}
	return r, nil
}
