package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RobloxGangster/Gigatrader-sub000/pkg/db"
)

// WriteOp is one buffered statement.
type WriteOp struct {
	Query string
	Args  []any
}

// BatchWriter buffers writes that are not on the trading hot path (decision
// history, audit mirrors) and commits them in one transaction per flush.
type BatchWriter struct {
	db       *sql.DB
	maxSize  int
	interval time.Duration

	mu     sync.Mutex
	buffer []WriteOp
	closed bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	totalWrites  atomic.Uint64
	totalBatches atomic.Uint64
	totalErrors  atomic.Uint64
	statsMu      sync.Mutex
	lastSize     int
	lastFlush    time.Time
}

// BatchWriterMetrics provides statistics about batch operations.
type BatchWriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	Pending       int       `json:"pending"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewBatchWriter starts a writer that flushes every interval or once maxSize
// operations are buffered.
func NewBatchWriter(handle *sql.DB, maxSize int, interval time.Duration) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	bw := &BatchWriter{
		db:       handle,
		maxSize:  maxSize,
		interval: interval,
		buffer:   make([]WriteOp, 0, maxSize),
		done:     make(chan struct{}),
	}
	bw.wg.Add(1)
	go bw.backgroundFlush()
	return bw
}

// Write buffers an operation. Writes after Close are dropped.
func (bw *BatchWriter) Write(op WriteOp) {
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		return
	}
	bw.buffer = append(bw.buffer, op)
	full := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if full {
		if err := bw.Flush(context.Background()); err != nil {
			log.Printf("⚠️ BatchWriter: flush on full buffer failed: %v", err)
		}
	}
}

// WriteQuery is a convenience wrapper around Write.
func (bw *BatchWriter) WriteQuery(query string, args ...any) {
	bw.Write(WriteOp{Query: query, Args: args})
}

// RecordDecision buffers one decision-history row.
func (bw *BatchWriter) RecordDecision(dec db.Decision) {
	bw.WriteQuery(db.InsertDecisionSQL, db.DecisionArgs(dec)...)
}

// Flush commits everything buffered so far.
func (bw *BatchWriter) Flush(ctx context.Context) error {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	ops := bw.buffer
	bw.buffer = make([]WriteOp, 0, bw.maxSize)
	bw.mu.Unlock()

	return bw.executeBatch(ctx, ops)
}

func (bw *BatchWriter) executeBatch(ctx context.Context, ops []WriteOp) error {
	bw.totalWrites.Add(uint64(len(ops)))
	bw.totalBatches.Add(1)
	bw.statsMu.Lock()
	bw.lastSize = len(ops)
	bw.lastFlush = time.Now()
	bw.statsMu.Unlock()

	tx, err := bw.db.BeginTx(ctx, nil)
	if err != nil {
		bw.totalErrors.Add(1)
		log.Printf("❌ BatchWriter: failed to begin transaction: %v", err)
		return err
	}
	for _, op := range ops {
		if _, err := tx.ExecContext(ctx, op.Query, op.Args...); err != nil {
			_ = tx.Rollback()
			bw.totalErrors.Add(1)
			log.Printf("❌ BatchWriter: query failed, rolling back %d ops: %v", len(ops), err)
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		bw.totalErrors.Add(1)
		log.Printf("❌ BatchWriter: commit failed: %v", err)
		return err
	}
	return nil
}

func (bw *BatchWriter) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := bw.Flush(context.Background()); err != nil {
				log.Printf("⚠️ BatchWriter: background flush error: %v", err)
			}
		case <-bw.done:
			if err := bw.Flush(context.Background()); err != nil {
				log.Printf("⚠️ BatchWriter: final flush error: %v", err)
			}
			return
		}
	}
}

// Pending returns the number of buffered operations.
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Metrics returns a snapshot of the writer's counters.
func (bw *BatchWriter) Metrics() BatchWriterMetrics {
	bw.statsMu.Lock()
	size, at := bw.lastSize, bw.lastFlush
	bw.statsMu.Unlock()
	return BatchWriterMetrics{
		TotalWrites:   bw.totalWrites.Load(),
		TotalBatches:  bw.totalBatches.Load(),
		TotalErrors:   bw.totalErrors.Load(),
		Pending:       bw.Pending(),
		LastBatchSize: size,
		LastFlushTime: at,
	}
}

// Close stops the background loop after a final flush. Safe to call twice.
func (bw *BatchWriter) Close() error {
	bw.closeOnce.Do(func() {
		bw.mu.Lock()
		bw.closed = true
		bw.mu.Unlock()
		close(bw.done)
	})
	bw.wg.Wait()
	return nil
}

// MarshalFilters encodes decision filter reasons as a JSON array.
func MarshalFilters(filters []string) string {
	if len(filters) == 0 {
		return "[]"
	}
	b, err := json.Marshal(filters)
	if err != nil {
		return "[]"
	}
	return string(b)
}
