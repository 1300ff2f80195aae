package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/firesnaps/snaprelay/libs/kafkax"
	"github.com/firesnaps/snaprelay/services/snap-relay/internal/envelope"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultDeliveryTimeout = 15 * time.Second

type ProducerConfig struct {
	Brokers string
	// DeliveryTimeout bounds the wait for broker acknowledgement.
	DeliveryTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes operation envelopes. Publish is safe for concurrent use and returns
// only after the brokers acknowledged the write; it says nothing about when the mutation
// is applied.
type Producer struct {
	writer  messageWriter
	logger  *slog.Logger
	timeout time.Duration
	newID   func() string
}

func NewProducer(logger *slog.Logger, cfg ProducerConfig) (*Producer, error) {
	brokers := kafkax.SplitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
		Compression:  kafka.Lz4,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newProducer(writer, logger, cfg.DeliveryTimeout), nil
}

func newProducer(writer messageWriter, logger *slog.Logger, timeout time.Duration) *Producer {
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	return &Producer{
		writer:  writer,
		logger:  logger,
		timeout: timeout,
		newID:   func() string { return uuid.NewString() },
	}
}

// Publish enqueues op on its channel, keyed by its partition key.
func (p *Producer) Publish(ctx context.Context, op envelope.Operation) error {
	if op == nil {
		return &ProduceError{Err: envelope.ErrInvalid}
	}
	topic := op.Kind().Topic()
	key := op.PartitionKey()

	ctx, span := otel.Tracer("relay").Start(ctx, "relay.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", topic),
			attribute.String("relay.operation", string(op.Kind())),
		),
	)
	defer span.End()

	err := p.publish(ctx, topic, key, op)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		p.logger.ErrorContext(ctx, "relay publish failed", "err", err, "topic", topic, "key", key)
	}
	return err
}

func (p *Producer) publish(ctx context.Context, topic, key string, op envelope.Operation) error {
	value, err := envelope.Encode(op)
	if err != nil {
		return &ProduceError{Topic: topic, Key: key, Err: err}
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: kafkax.HeaderEventID, Value: []byte(p.newID())},
			{Key: kafkax.HeaderOperation, Value: []byte(op.Kind())},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)

	writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err = p.writer.WriteMessages(writeCtx, msg)
	if err == nil {
		return nil
	}
	if pending := unconfirmed(err); pending > 0 && ctx.Err() == nil {
		return &DeliveryError{Topic: topic, Key: key, Pending: pending, Timeout: p.timeout, Err: err}
	}
	return &ProduceError{Topic: topic, Key: key, Err: err}
}

// unconfirmed counts messages whose write ran out of time waiting for acknowledgement.
func unconfirmed(err error) int {
	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		n := 0
		for _, e := range writeErrs {
			if e != nil && errors.Is(e, context.DeadlineExceeded) {
				n++
			}
		}
		return n
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return 1
	}
	return 0
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
