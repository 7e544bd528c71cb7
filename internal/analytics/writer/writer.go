package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"go.uber.org/multierr"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/doncapon/yemisshop-sub004/internal/analytics/types"
)

const (
	defaultBatchSize      = 1
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

type Config struct {
	ProfitTable        string
	PaymentEventsTable string
	BatchSize          int
	RetryPolicy        RetryPolicy
}

type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultInitialBackoff
	}
	if p.MaximumBackoff < p.InitialBackoff {
		p.MaximumBackoff = max(defaultMaximumBackoff, p.InitialBackoff)
	}
	return p
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQueryWriter buffers analytics rows per table and streams them with
// retries. Every row carries its event id as the insert id, so a retried
// batch is deduplicated by BigQuery on a best-effort basis.
type BigQueryWriter struct {
	client      tableInserter
	profitTable string
	eventsTable string
	batchSize   int
	retry       RetryPolicy

	mu      sync.Mutex
	buffers map[string][]any
}

// New builds a writer. The payment events table is optional; without it the
// timeline rows are dropped.
func New(client tableInserter, cfg Config) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	profit := strings.TrimSpace(cfg.ProfitTable)
	if profit == "" {
		return nil, errors.New("profit table is required")
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &BigQueryWriter{
		client:      client,
		profitTable: profit,
		eventsTable: strings.TrimSpace(cfg.PaymentEventsTable),
		batchSize:   batch,
		retry:       cfg.RetryPolicy.withDefaults(),
		buffers:     map[string][]any{},
	}, nil
}

func (w *BigQueryWriter) InsertProfit(ctx context.Context, row types.ProfitRow) error {
	return w.enqueue(ctx, w.profitTable, &cbigquery.StructSaver{Struct: row, InsertID: row.EventID})
}

func (w *BigQueryWriter) InsertPaymentEvent(ctx context.Context, row types.PaymentEventRow) error {
	if w.eventsTable == "" {
		return nil
	}
	return w.enqueue(ctx, w.eventsTable, &cbigquery.StructSaver{Struct: row, InsertID: row.EventID})
}

func (w *BigQueryWriter) enqueue(ctx context.Context, table string, row any) error {
	w.mu.Lock()
	w.buffers[table] = append(w.buffers[table], row)
	full := len(w.buffers[table]) >= w.batchSize
	w.mu.Unlock()
	if !full {
		return nil
	}
	return w.flushTable(ctx, table)
}

// Flush writes every buffered table. Rows that fail stay buffered for the
// next flush.
func (w *BigQueryWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	tables := make([]string, 0, len(w.buffers))
	for table := range w.buffers {
		tables = append(tables, table)
	}
	w.mu.Unlock()
	sort.Strings(tables)

	var errs error
	for _, table := range tables {
		errs = multierr.Append(errs, w.flushTable(ctx, table))
	}
	return errs
}

// Pending reports how many rows are buffered for table.
func (w *BigQueryWriter) Pending(table string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffers[table])
}

func (w *BigQueryWriter) flushTable(ctx context.Context, table string) error {
	w.mu.Lock()
	rows := w.buffers[table]
	delete(w.buffers, table)
	w.mu.Unlock()
	if len(rows) == 0 {
		return nil
	}

	err := w.insertWithRetry(ctx, table, rows)
	if err != nil {
		w.mu.Lock()
		w.buffers[table] = append(rows, w.buffers[table]...)
		w.mu.Unlock()
	}
	return err
}

func (w *BigQueryWriter) insertWithRetry(ctx context.Context, table string, rows []any) error {
	backoff := w.retry.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := w.client.InsertRows(ctx, table, rows)
		if err == nil {
			return nil
		}
		if attempt >= w.retry.MaxAttempts || !isRetryableBigQueryError(err) {
			return fmt.Errorf("insert %d rows into %s: %w", len(rows), table, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, w.retry.MaximumBackoff)
	}
}

// isRetryableBigQueryError treats an aggregate as retryable only when every
// member is.
func isRetryableBigQueryError(err error) bool {
	if err == nil {
		return false
	}

	var multi cbigquery.MultiError
	if errors.As(err, &multi) {
		return allRetryable(multi)
	}
	var pme cbigquery.PutMultiError
	if errors.As(err, &pme) {
		inner := make([]error, 0, len(pme))
		for _, rowErr := range pme {
			inner = append(inner, rowErr.Errors)
		}
		return allRetryable(inner)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusRequestTimeout,
			http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Aborted, codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted, codes.Unavailable:
			return true
		}
	}
	return false
}

func allRetryable(errs []error) bool {
	if len(errs) == 0 {
		return false
	}
	for _, err := range errs {
		if !isRetryableBigQueryError(err) {
			return false
		}
	}
	return true
}

// EncodeJSON converts a payload into a BigQuery JSON column value. Raw JSON
// passes through untouched; empty input becomes NULL.
func EncodeJSON(payload any) (cbigquery.NullJSON, error) {
	var raw []byte
	switch value := payload.(type) {
	case nil:
		return cbigquery.NullJSON{}, nil
	case cbigquery.NullJSON:
		return value, nil
	case json.RawMessage:
		raw = value
	case []byte:
		raw = value
	default:
		encoded, err := json.Marshal(payload)
		if err != nil {
			return cbigquery.NullJSON{}, fmt.Errorf("marshal json: %w", err)
		}
		raw = encoded
	}
	if len(raw) == 0 {
		return cbigquery.NullJSON{}, nil
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(raw)}, nil
}
