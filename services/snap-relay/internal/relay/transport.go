package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/firesnaps/snaprelay/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

// Transport is the consumer's view of the durable ordered log.
type Transport interface {
	// Poll returns up to max records, waiting at most timeout for the first ones to arrive.
	Poll(ctx context.Context, max int, timeout time.Duration) ([]kafka.Message, error)
	// Commit synchronously advances the cursor past every record in msgs.
	Commit(ctx context.Context, msgs []kafka.Message) error
	// Rewind hands an uncommitted batch back so the next Poll returns it again.
	Rewind(msgs []kafka.Message)
	// Pending reports how many rewound records wait to be served again.
	Pending() int
}

type TransportConfig struct {
	Brokers string
	GroupID string
	Topics  []string
}

// groupReader is the subset of *kafka.Reader the transport uses.
type groupReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaTransport reads every relay topic through one consumer group member. Offsets are
// committed explicitly; aborted batches are held in memory and served again before new
// records are fetched, so redelivery does not wait for a group rebalance.
type KafkaTransport struct {
	reader groupReader

	mu      sync.Mutex
	pending []kafka.Message
}

func NewKafkaTransport(cfg TransportConfig) (*KafkaTransport, error) {
	brokers := kafkax.SplitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if cfg.GroupID == "" {
		return nil, errors.New("relay transport requires group id")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("relay transport requires at least one topic")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
		// Zero commit interval makes CommitMessages synchronous.
		CommitInterval: 0,
	})
	return newKafkaTransport(reader), nil
}

func newKafkaTransport(reader groupReader) *KafkaTransport {
	return &KafkaTransport{reader: reader}
}

func (t *KafkaTransport) Poll(ctx context.Context, max int, timeout time.Duration) ([]kafka.Message, error) {
	if max <= 0 {
		max = 1
	}
	out := t.takePending(max)
	if len(out) == max {
		return out, nil
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for len(out) < max {
		msg, err := t.reader.FetchMessage(pollCtx)
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
				return out, nil
			case ctx.Err() != nil:
				t.Rewind(out)
				return nil, ctx.Err()
			default:
				// Fetched but unprocessed records would otherwise be skipped until restart.
				t.Rewind(out)
				return nil, err
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

func (t *KafkaTransport) Commit(ctx context.Context, msgs []kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := t.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	return nil
}

func (t *KafkaTransport) Rewind(msgs []kafka.Message) {
	if len(msgs) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	held := make([]kafka.Message, 0, len(msgs)+len(t.pending))
	held = append(held, msgs...)
	t.pending = append(held, t.pending...)
}

func (t *KafkaTransport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *KafkaTransport) takePending(max int) []kafka.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.pending)
	if n > max {
		n = max
	}
	out := make([]kafka.Message, n, max)
	copy(out, t.pending[:n])
	t.pending = t.pending[n:]
	return out
}

func (t *KafkaTransport) Close() error {
	return t.reader.Close()
}
