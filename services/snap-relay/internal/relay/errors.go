package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/firesnaps/snaprelay/services/snap-relay/internal/envelope"
)

var (
	// ErrMissingRecord is wrapped by TransportRecordError when a pulled record has no value or topic.
	ErrMissingRecord = errors.New("relay record is missing")
	// ErrNoBrokers is returned when the producer or transport is built without brokers.
	ErrNoBrokers = errors.New("relay requires at least one kafka broker")
)

// UnknownOperationError is returned by dispatch when a record carries an operation tag
// outside the closed set.
type UnknownOperationError = envelope.UnknownOperationError

// DeliveryError means the transport accepted the publish call but did not confirm it
// within the delivery bound.
type DeliveryError struct {
	Topic   string
	Key     string
	Pending int
	Timeout time.Duration
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("relay delivery to %s (key=%q) unconfirmed after %s: %d message(s) pending: %v",
		e.Topic, e.Key, e.Timeout, e.Pending, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ProduceError covers every other publish failure: encoding, validation, broker rejection.
type ProduceError struct {
	Topic string
	Key   string
	Err   error
}

func (e *ProduceError) Error() string {
	return fmt.Sprintf("relay publish to %s (key=%q): %v", e.Topic, e.Key, e.Err)
}

func (e *ProduceError) Unwrap() error { return e.Err }

// TransportRecordError means the pulled record itself is unusable.
type TransportRecordError struct {
	Topic     string
	Partition int
	Offset    int64
	Err       error
}

func (e *TransportRecordError) Error() string {
	return fmt.Sprintf("relay record %s[%d]@%d: %v", e.Topic, e.Partition, e.Offset, e.Err)
}

func (e *TransportRecordError) Unwrap() error { return e.Err }

// ProcessingError wraps an adapter failure while applying a known operation.
type ProcessingError struct {
	Operation envelope.Kind
	Key       string
	Err       error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("relay apply %s (key=%q): %v", e.Operation, e.Key, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// ConsumeError means the poll step itself failed. The round is retried after a pause.
type ConsumeError struct {
	Err error
}

func (e *ConsumeError) Error() string { return "relay poll failed: " + e.Err.Error() }

func (e *ConsumeError) Unwrap() error { return e.Err }

// CommitError means a fully applied batch could not advance the cursor. The batch is redelivered.
type CommitError struct {
	Records int
	Err     error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("relay commit of %d record(s) failed: %v", e.Records, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
