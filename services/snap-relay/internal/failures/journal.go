// Package failures records batch-aborting relay failures in Postgres so stuck records can be
// inspected and replayed.
package failures

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/firesnaps/snaprelay/services/snap-relay/internal/relay"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	KindUnknownOperation = "unknown_operation"
	KindTransportRecord  = "transport_record"
	KindProcessing       = "processing"
	KindConsume          = "consume"
	KindCommit           = "commit"
	KindOther            = "other"

	insertTimeout = 2 * time.Second
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Entry is one journaled failure.
type Entry struct {
	ID          int64     `json:"id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Kind        string    `json:"error_kind"`
	Message     string    `json:"message"`
	Topic       string    `json:"topic,omitempty"`
	Partition   int       `json:"partition"`
	Offset      int64     `json:"offset"`
	Key         string    `json:"key,omitempty"`
	Operation   string    `json:"operation,omitempty"`
	EventID     string    `json:"event_id,omitempty"`
	BatchSize   int       `json:"batch_size"`
	Traceparent string    `json:"traceparent,omitempty"`
}

// Journal is a relay.ErrorSink backed by the relay_failures table. Write failures are logged
// and swallowed; the journal never stops the consumer.
type Journal struct {
	db     querier
	logger *slog.Logger
}

func NewJournal(db querier, logger *slog.Logger) *Journal {
	return &Journal{db: db, logger: logger}
}

func (j *Journal) LogError(ctx context.Context, f relay.Failure) {
	if f.Err == nil {
		return
	}
	// The worker may be shutting down; the record is still worth keeping.
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), insertTimeout)
	defer cancel()

	_, err := j.db.Exec(insertCtx, `
		INSERT INTO relay_failures (error_kind, message, topic, partition, record_offset, record_key, operation, event_id, batch_size, traceparent)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, NULLIF($10, ''))
	`, Classify(f.Err), f.Err.Error(), f.Topic, f.Partition, f.Offset, f.Key, f.Operation, f.EventID, f.BatchSize, f.Traceparent)
	if err != nil {
		j.logger.WarnContext(ctx, "failed to journal relay failure", "err", err, "topic", f.Topic, "offset", f.Offset)
	}
}

// Recent returns the newest entries first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := j.db.Query(ctx, `
		SELECT id, occurred_at, error_kind, message, COALESCE(topic, ''), COALESCE(partition, 0),
		       COALESCE(record_offset, 0), COALESCE(record_key, ''), COALESCE(operation, ''),
		       COALESCE(event_id, ''), batch_size, COALESCE(traceparent, '')
		FROM relay_failures
		ORDER BY occurred_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.Kind, &e.Message, &e.Topic, &e.Partition,
			&e.Offset, &e.Key, &e.Operation, &e.EventID, &e.BatchSize, &e.Traceparent); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// Classify maps a relay error onto the journal's error_kind column.
func Classify(err error) string {
	var (
		unknown   *relay.UnknownOperationError
		record    *relay.TransportRecordError
		process   *relay.ProcessingError
		consume   *relay.ConsumeError
		commitErr *relay.CommitError
	)
	switch {
	case errors.As(err, &unknown):
		return KindUnknownOperation
	case errors.As(err, &record):
		return KindTransportRecord
	case errors.As(err, &process):
		return KindProcessing
	case errors.As(err, &consume):
		return KindConsume
	case errors.As(err, &commitErr):
		return KindCommit
	default:
		return KindOther
	}
}

// Handler serves GET /failures?limit=N.
func Handler(j *Journal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := j.Recent(r.Context(), limit)
		if err != nil {
			j.logger.ErrorContext(r.Context(), "list relay failures", "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []Entry{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(entries)
	})
}
