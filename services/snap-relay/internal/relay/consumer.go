package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/firesnaps/snaprelay/libs/kafkax"
	otelx "github.com/firesnaps/snaprelay/libs/otel"
	"github.com/firesnaps/snaprelay/services/snap-relay/internal/envelope"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ConsumerConfig struct {
	// BatchSize caps the records pulled per round.
	BatchSize int
	// RecordsPerSecond is the sustained application rate the rate shaper enforces.
	RecordsPerSecond float64
	PollTimeout      time.Duration
	// IdlePause follows an empty poll; it does not count against the rate budget.
	IdlePause time.Duration
	// ErrorPause follows a failed poll.
	ErrorPause time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 150
	}
	if c.RecordsPerSecond <= 0 {
		c.RecordsPerSecond = 250
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Second
	}
	if c.IdlePause <= 0 {
		c.IdlePause = 500 * time.Millisecond
	}
	if c.ErrorPause <= 0 {
		c.ErrorPause = time.Second
	}
	return c
}

// RecordResult is the outcome of applying one record.
type RecordResult struct {
	Message   kafka.Message
	Operation string
	EventID   string
	Err       error
}

type batchOutcome struct {
	results []RecordResult
}

// failed returns the record that stopped the batch, nil when every record was applied.
func (o batchOutcome) failed() *RecordResult {
	for i := range o.results {
		if o.results[i].Err != nil {
			return &o.results[i]
		}
	}
	return nil
}

func (o batchOutcome) applied() int {
	n := 0
	for _, r := range o.results {
		if r.Err == nil {
			n++
		}
	}
	return n
}

// Round summarises one consumption round.
type Round struct {
	Fetched   int
	Applied   int
	Committed bool
}

// Consumer drains the relay topics in rate-limited batches. A batch is committed only
// when every record in it was applied; otherwise it is handed back to the transport and
// redelivered whole on the next round. Run is meant for exactly one goroutine.
type Consumer struct {
	transport  Transport
	dispatcher *Dispatcher
	sink       ErrorSink
	logger     *slog.Logger
	cfg        ConsumerConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	status Status
}

// Status is the worker's own view of its progress, served on /statusz.
type Status struct {
	Rounds       int64     `json:"rounds"`
	Committed    int64     `json:"committed_records"`
	Aborted      int64     `json:"aborted_rounds"`
	LastRoundAt  time.Time `json:"last_round_at"`
	LastCommitAt time.Time `json:"last_commit_at"`
	LastError    string    `json:"last_error,omitempty"`
	Pending      int       `json:"pending_redelivery"`
}

func (c *Consumer) observe(round Round, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.status.Rounds++
	c.status.LastRoundAt = now
	if round.Committed {
		c.status.Committed += int64(round.Fetched)
		c.status.LastCommitAt = now
		c.status.LastError = ""
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		c.status.Aborted++
		c.status.LastError = err.Error()
	}
}

// Status returns a snapshot, including how many records wait for redelivery.
func (c *Consumer) Status() Status {
	c.mu.Lock()
	st := c.status
	c.mu.Unlock()
	st.Pending = c.transport.Pending()
	return st
}

// ReadyCheck fails when no round has finished within maxSilence, which means the worker is
// stuck inside a store call or has stopped.
func (c *Consumer) ReadyCheck(maxSilence time.Duration) func(context.Context) error {
	started := c.now()
	return func(context.Context) error {
		st := c.Status()
		last := st.LastRoundAt
		if last.IsZero() {
			last = started
		}
		if silence := c.now().Sub(last); silence > maxSilence {
			return fmt.Errorf("no relay round for %s (pending=%d)", silence.Truncate(time.Second), st.Pending)
		}
		return nil
	}
}

func NewConsumer(transport Transport, dispatcher *Dispatcher, sink ErrorSink, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if transport == nil {
		panic("relay: nil Transport")
	}
	if dispatcher == nil {
		panic("relay: nil Dispatcher")
	}
	if sink == nil {
		sink = LogSink{Logger: logger}
	}
	return &Consumer{
		transport:  transport,
		dispatcher: dispatcher,
		sink:       sink,
		logger:     logger,
		cfg:        cfg.withDefaults(),
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// Run loops until ctx is cancelled. Cancellation is observed while polling, during pauses
// and between rounds; a batch already being dispatched is finished and committed.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("relay consumer started",
		"batch_size", c.cfg.BatchSize,
		"records_per_second", c.cfg.RecordsPerSecond,
	)
	defer c.logger.Info("relay consumer stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		start := c.now()
		round, err := c.RunOnce(ctx)

		var pause time.Duration
		var consumeErr *ConsumeError
		switch {
		case ctx.Err() != nil:
			return
		case errors.As(err, &consumeErr):
			pause = c.cfg.ErrorPause
		case round.Fetched == 0:
			pause = c.cfg.IdlePause
		default:
			pause = Pace(c.cfg.BatchSize, c.cfg.RecordsPerSecond, c.now().Sub(start))
		}

		if err := c.sleep(ctx, pause); err != nil {
			return
		}
	}
}

// RunOnce performs one FETCHING → DISPATCHING → COMMITTING pass.
func (c *Consumer) RunOnce(ctx context.Context) (Round, error) {
	round, err := c.runOnce(ctx)
	c.observe(round, err)
	return round, err
}

func (c *Consumer) runOnce(ctx context.Context) (Round, error) {
	msgs, err := c.transport.Poll(ctx, c.cfg.BatchSize, c.cfg.PollTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return Round{}, ctx.Err()
		}
		consumeErr := &ConsumeError{Err: err}
		c.sink.LogError(ctx, Failure{Err: consumeErr})
		return Round{}, consumeErr
	}
	if len(msgs) == 0 {
		return Round{}, nil
	}

	// Shutdown does not preempt dispatch or commit; the bounded join in main covers a stuck store.
	work := context.WithoutCancel(ctx)
	outcome := c.dispatchBatch(work, msgs)
	round := Round{Fetched: len(msgs), Applied: outcome.applied()}

	if failed := outcome.failed(); failed != nil {
		c.transport.Rewind(msgs)
		c.sink.LogError(work, failureFor(*failed, len(msgs)))
		return round, failed.Err
	}

	if err := c.transport.Commit(work, msgs); err != nil {
		c.transport.Rewind(msgs)
		commitErr := &CommitError{Records: len(msgs), Err: err}
		c.sink.LogError(work, Failure{Err: commitErr, BatchSize: len(msgs)})
		return round, commitErr
	}
	round.Committed = true
	c.logger.Debug("relay batch committed", "records", len(msgs))
	return round, nil
}

// dispatchBatch applies records in arrival order and stops at the first failure.
func (c *Consumer) dispatchBatch(ctx context.Context, msgs []kafka.Message) batchOutcome {
	outcome := batchOutcome{results: make([]RecordResult, 0, len(msgs))}
	for _, msg := range msgs {
		res := c.applyRecord(ctx, msg)
		outcome.results = append(outcome.results, res)
		if res.Err != nil {
			break
		}
	}
	return outcome
}

func (c *Consumer) applyRecord(ctx context.Context, msg kafka.Message) RecordResult {
	meta := kafkax.ExtractEnvelopeMeta(msg)
	res := RecordResult{Message: msg, Operation: meta.Operation, EventID: meta.EventID}

	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("relay").Start(ctxMsg, "relay.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
	defer span.End()

	res.Err = c.apply(ctxSpan, msg, &res)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "dispatch failed")
	}
	return res
}

func (c *Consumer) apply(ctx context.Context, msg kafka.Message, res *RecordResult) error {
	if msg.Topic == "" || len(msg.Value) == 0 {
		return &TransportRecordError{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset, Err: ErrMissingRecord}
	}

	op, err := envelope.Decode(msg.Key, msg.Value)
	if err != nil {
		var unknown *envelope.UnknownOperationError
		if errors.As(err, &unknown) {
			res.Operation = unknown.Operation
			return err
		}
		return &TransportRecordError{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset, Err: err}
	}
	res.Operation = string(op.Kind())

	if err := c.dispatcher.Apply(ctx, op); err != nil {
		return &ProcessingError{Operation: op.Kind(), Key: op.PartitionKey(), Err: err}
	}
	return nil
}

func failureFor(r RecordResult, batchSize int) Failure {
	traceparent, _ := otelx.TraceContextStrings(kafkax.ExtractTraceContext(context.Background(), r.Message))
	return Failure{
		Err:         r.Err,
		Topic:       r.Message.Topic,
		Partition:   r.Message.Partition,
		Offset:      r.Message.Offset,
		Key:         string(r.Message.Key),
		Operation:   r.Operation,
		EventID:     r.EventID,
		BatchSize:   batchSize,
		Traceparent: traceparent,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
