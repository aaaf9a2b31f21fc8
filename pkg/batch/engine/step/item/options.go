package item

import (
	"database/sql"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/fault"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/skip"
)

// Option configures a ChunkStep.
type Option func(*options)

type options struct {
	chunkSize       int
	concurrency     int
	policy          *fault.Policy
	checkpointStore repository.ExecutionContextStore
	txManager       tx.TransactionManager
	txOptions       *sql.TxOptions
	chunkListeners  []port.ChunkListener
	skipListeners   []port.SkipListener
	retryListeners  []port.RetryListener
	metricRecorder  metrics.MetricRecorder
	tracer          metrics.Tracer
}

// WithChunkSize sets the commit interval. Values below 1 are ignored.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithTransformConcurrency transforms up to n items of a chunk concurrently.
func WithTransformConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithFaultPolicy sets the skip/retry classification.
func WithFaultPolicy(p *fault.Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithCheckpointStore stores checkpoints somewhere other than the job repository.
func WithCheckpointStore(store repository.ExecutionContextStore) Option {
	return func(o *options) { o.checkpointStore = store }
}

// WithTransactionManager sets the manager bounding each chunk.
func WithTransactionManager(m tx.TransactionManager) Option {
	return func(o *options) { o.txManager = m }
}

// WithIsolationLevel sets the isolation of the chunk transaction, e.g. "READ_COMMITTED".
func WithIsolationLevel(level string) Option {
	return func(o *options) {
		o.txOptions = &sql.TxOptions{Isolation: parseIsolationLevel(level)}
	}
}

func WithChunkListener(l port.ChunkListener) Option {
	return func(o *options) { o.chunkListeners = append(o.chunkListeners, l) }
}

func WithSkipListener(l port.SkipListener) Option {
	return func(o *options) { o.skipListeners = append(o.skipListeners, l) }
}

func WithRetryListener(l port.RetryListener) Option {
	return func(o *options) { o.retryListeners = append(o.retryListeners, l) }
}

func WithMetricRecorder(r metrics.MetricRecorder) Option {
	return func(o *options) { o.metricRecorder = r }
}

func WithTracer(t metrics.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithBatchConfig applies chunk size, transform concurrency and the
// skip/retry settings of cfg.
func WithBatchConfig(cfg config.BatchConfig) Option {
	return func(o *options) {
		WithChunkSize(cfg.ChunkSize)(o)
		WithTransformConcurrency(cfg.TransformConcurrency)(o)
		o.policy = fault.NewPolicy(
			skip.NewSkipPolicy(cfg.ItemSkip.SkipLimit, cfg.ItemSkip.SkippableExceptions),
			retry.NewRetryPolicy(retry.Config{
				MaxAttempts:         cfg.ItemRetry.MaxAttempts,
				InitialInterval:     cfg.ItemRetry.InitialInterval,
				MaxInterval:         cfg.ItemRetry.MaxInterval,
				Factor:              cfg.ItemRetry.Factor,
				RetryableExceptions: cfg.ItemRetry.RetryableExceptions,
			}),
		)
	}
}

// parseIsolationLevel converts a configured name to sql.IsolationLevel.
func parseIsolationLevel(level string) sql.IsolationLevel {
	switch level {
	case "READ_UNCOMMITTED":
		return sql.LevelReadUncommitted
	case "READ_COMMITTED":
		return sql.LevelReadCommitted
	case "WRITE_COMMITTED":
		return sql.LevelWriteCommitted
	case "REPEATABLE_READ":
		return sql.LevelRepeatableRead
	case "SERIALIZABLE":
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}
