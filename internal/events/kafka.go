package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/segmentio/kafka-go"

	"storefront/shopclient/internal/observability"
)

var (
	ErrBufferFull     = errors.New("event buffer full")
	ErrProducerClosed = errors.New("event producer closed")
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer queues envelopes and writes them to Kafka from one goroutine, so
// a slow broker never blocks a checkout.
type Producer struct {
	w     messageWriter
	log   *slog.Logger
	inbox chan kafka.Message
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, topic string, buf int, logger *slog.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return newProducer(w, buf, logger), nil
}

func newProducer(w messageWriter, buf int, logger *slog.Logger) *Producer {
	if buf <= 0 {
		buf = 256
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	p := &Producer{
		w:     w,
		log:   logger,
		inbox: make(chan kafka.Message, buf),
		done:  make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *Producer) loop() {
	defer close(p.done)
	for m := range p.inbox {
		if err := p.w.WriteMessages(context.Background(), m); err != nil {
			p.log.Error("write checkout event", "key", string(m.Key), "error", err)
		}
	}
	if err := p.w.Close(); err != nil {
		p.log.Error("close kafka writer", "error", err)
	}
}

// Publish queues env keyed by its correlation id. It never blocks.
func (p *Producer) Publish(ctx context.Context, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(env.CorrelationID),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(env.EventType)},
			{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.inbox <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close flushes queued events and waits for the writer to shut down.
func (p *Producer) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
	p.mu.Unlock()
	<-p.done
	return nil
}
