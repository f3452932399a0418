package messaging

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"food_order/pkg/logging"
	"food_order/pkg/metrics"
)

const (
	kafkaHeaderType    = "event-type"
	kafkaHeaderAttempt = "attempt"
)

// Kafka implements Bus over kafka-go. Each binding maps to one topic;
// Message.Key becomes the Kafka message key, so same-aggregate messages
// land on the same partition and are consumed in order.
type Kafka struct {
	brokers []string

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	readers []*kafka.Reader
}

// NewKafka creates a Kafka bus for the given broker addresses.
func NewKafka(brokers []string) *Kafka {
	return &Kafka{
		brokers: brokers,
		writers: make(map[string]*kafka.Writer),
	}
}

func (k *Kafka) writer(binding string) *kafka.Writer {
	k.mu.Lock()
	defer k.mu.Unlock()
	if w, ok := k.writers[binding]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(k.brokers...),
		Topic:        binding,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	k.writers[binding] = w
	return w
}

// Publish writes msg to the binding's topic keyed by the aggregate id.
func (k *Kafka) Publish(ctx context.Context, binding string, msg Message) error {
	err := k.writer(binding).WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Key),
		Value: msg.Body,
		Headers: []kafka.Header{
			{Key: kafkaHeaderType, Value: []byte(msg.Type)},
			{Key: kafkaHeaderAttempt, Value: []byte(strconv.Itoa(msg.Attempt))},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", msg.Type, binding, err)
	}
	return nil
}

// Subscribe consumes the binding's topic in the consumer group. Partitions
// are processed sequentially by the group reader. Handler failures retry
// in place with backoff, then dead-letter.
func (k *Kafka) Subscribe(ctx context.Context, binding, group string, handler Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.brokers,
		Topic:    binding,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	k.mu.Lock()
	k.readers = append(k.readers, reader)
	k.mu.Unlock()

	log := logging.WithComponent("kafka").With().
		Str("binding", binding).Str("group", group).Logger()

	go func() {
		log.Info().Msg("subscribed")
		for {
			km, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Msg("fetch failed")
				continue
			}

			msg := Message{
				Key:  string(km.Key),
				Body: km.Value,
			}
			for _, h := range km.Headers {
				switch h.Key {
				case kafkaHeaderType:
					msg.Type = string(h.Value)
				case kafkaHeaderAttempt:
					msg.Attempt, _ = strconv.Atoi(string(h.Value))
				}
			}

			// retry in place with backoff; partition order is preserved
			// because the next message is not fetched until this one is
			// settled one way or the other
			for {
				err := handler(ctx, msg)
				if err == nil {
					break
				}
				msg.Attempt++
				log.Error().Err(err).Str("event_type", msg.Type).
					Int("attempt", msg.Attempt).Msg("handler failed")

				if msg.Attempt >= MaxDeliveryAttempts {
					metrics.EventsDeadLettered.Inc()
					if dlErr := k.Publish(ctx, BindingDeadLetter, msg); dlErr != nil {
						log.Error().Err(dlErr).Msg("dead-letter publish failed")
					}
					break
				}

				delay := time.Duration(1<<uint(msg.Attempt)) * 250 * time.Millisecond
				if delay > 10*time.Second {
					delay = 10 * time.Second
				}
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}

			if err := reader.CommitMessages(ctx, km); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("commit failed")
			}
		}
	}()
	return nil
}

// Close closes all writers and readers.
func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	var first error
	for _, w := range k.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	for _, r := range k.readers {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
