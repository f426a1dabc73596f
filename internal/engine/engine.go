package engine

import (
	"context"
	"fmt"
	"time"

	"wirecdc/internal/checkpoint"
	"wirecdc/internal/codec"
	"wirecdc/internal/metrics"
	"wirecdc/internal/model"
	"wirecdc/internal/parser"
	"wirecdc/internal/publisher"
	"wirecdc/internal/wal"

	"go.uber.org/zap"
)

const maxPublishRetries = 3

// rateSampleInterval controls how often the events-per-second gauge refreshes.
const rateSampleInterval = 10 * time.Second

// errorReporter surfaces the fatal error that stopped a stream component.
type errorReporter interface {
	Err() error
}

// Engine coordinates the end-to-end flow: WAL reader, parser, encoder,
// publisher and checkpointing.
type Engine struct {
	reader       wal.Reader
	parser       parser.Parser
	encoder      codec.Encoder
	publisher    publisher.Publisher
	checkpointer *checkpoint.Manager
	database     string
	batchSize    int
	batchTimeout time.Duration
	logger       *zap.Logger
	promMetrics  *metrics.Metrics
	published    *metrics.Counter
}

type Options struct {
	Reader       wal.Reader
	Parser       parser.Parser
	Encoder      codec.Encoder
	Publisher    publisher.Publisher
	Checkpointer *checkpoint.Manager
	Database     string
	BatchSize    int
	BatchTimeout time.Duration
	Logger       *zap.Logger
}

func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	encoder := opts.Encoder
	if encoder == nil {
		encoder = codec.NewJSONEncoder()
	}
	return &Engine{
		reader:       opts.Reader,
		parser:       opts.Parser,
		encoder:      encoder,
		publisher:    opts.Publisher,
		checkpointer: opts.Checkpointer,
		database:     opts.Database,
		batchSize:    opts.BatchSize,
		batchTimeout: opts.BatchTimeout,
		logger:       logger,
		promMetrics:  metrics.GlobalMetrics,
		published:    metrics.NewCounter("events_published"),
	}
}

// Run starts streaming from the provided WAL position and blocks until the
// context ends or the stream stops.
func (e *Engine) Run(ctx context.Context, start model.WALPosition) error {
	e.logger.Info("engine starting",
		zap.Stringer("start_lsn", start.LSN),
		zap.Int("batch_size", e.batchSize),
		zap.Duration("batch_timeout", e.batchTimeout))
	if err := e.reader.Start(ctx); err != nil {
		return fmt.Errorf("start reader: %w", err)
	}
	defer e.reader.Stop(ctx)

	rawStream, err := e.reader.ReadWAL(ctx, start)
	if err != nil {
		return fmt.Errorf("read wal: %w", err)
	}

	parsedStream, err := e.parser.Parse(ctx, rawStream)
	if err != nil {
		return fmt.Errorf("parse wal: %w", err)
	}

	if err := e.publisher.Connect(); err != nil {
		return fmt.Errorf("publisher connect: %w", err)
	}
	defer e.publisher.Close()

	go e.sampleRate(ctx)

	return e.runBatched(ctx, parsedStream)
}

func (e *Engine) runBatched(ctx context.Context, stream <-chan model.ChangeEvent) error {
	batch := make([]model.ChangeEvent, 0, e.batchSize)
	timer := time.NewTimer(e.batchTimeout)
	defer timer.Stop()

	flush := func() error {
		if len(batch) > 0 {
			flushStart := time.Now()
			e.logger.Debug("flushing batch", zap.Int("count", len(batch)))

			// Flush preserves ordering within a batch.
			for _, evt := range batch {
				if !model.IsDataChange(evt) {
					continue
				}
				encStart := time.Now()
				payload, err := e.encoder.Encode(evt)
				if err != nil {
					return fmt.Errorf("encode event: %w", err)
				}
				e.promMetrics.EncodeLatency.Observe(uint64(time.Since(encStart).Nanoseconds()))

				subject, err := publisher.SubjectForEvent(e.database, evt)
				if err != nil {
					return fmt.Errorf("build subject: %w", err)
				}
				if err := e.publisher.PublishWithRetries(ctx, subject, payload, maxPublishRetries); err != nil {
					return fmt.Errorf("publish: %w", err)
				}
				e.published.Inc()
				e.promMetrics.EventsTotal.Inc()
				e.logger.Debug("published event", zap.String("subject", subject))
			}
			e.promMetrics.BatchesPublished.Inc()
			e.promMetrics.BatchLatency.Observe(uint64(time.Since(flushStart).Microseconds()))
			batch = batch[:0]
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(e.batchTimeout)
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return flush()
		case evt, ok := <-stream:
			if !ok {
				if err := flush(); err != nil {
					return err
				}
				return e.streamStopCause()
			}
			if commit, isCommit := evt.(*model.CommitEvent); isCommit {
				if err := flush(); err != nil {
					return err
				}
				// Checkpoint only on commit boundaries. Events published
				// before a commit may be re-delivered on restart; consumers
				// must handle idempotency.
				pos := checkpointPositionForCommit(commit)
				if pos.LSN != 0 {
					if e.checkpointer != nil {
						if err := e.checkpointer.MaybeFlush(ctx, pos, true, time.Now()); err != nil {
							return fmt.Errorf("checkpoint: %w", err)
						}
					}
					if e.reader != nil {
						e.reader.SetAckedPosition(pos)
					}
					e.logger.Debug("checkpointed transaction", zap.Stringer("lsn", pos.LSN))
				}
				continue
			}
			batch = append(batch, evt)
			if e.batchSize > 0 && len(batch) >= e.batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-timer.C:
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// streamStopCause distinguishes a fatal upstream failure from graceful
// shutdown after the event stream closes.
func (e *Engine) streamStopCause() error {
	if e.reader != nil {
		if err := e.reader.Err(); err != nil {
			return fmt.Errorf("replication stopped: %w", err)
		}
	}
	if reporter, ok := e.parser.(errorReporter); ok {
		if err := reporter.Err(); err != nil {
			return fmt.Errorf("parser stopped: %w", err)
		}
	}
	return nil
}

// checkpointPositionForCommit picks the position a commit should checkpoint:
// the transaction end when the source provided one, the commit LSN otherwise.
func checkpointPositionForCommit(ev *model.CommitEvent) model.WALPosition {
	if ev == nil {
		return model.WALPosition{}
	}
	if ev.EndLSN != 0 {
		return model.WALPosition{LSN: ev.EndLSN}
	}
	return model.WALPosition{LSN: ev.LSN}
}

func (e *Engine) sampleRate(ctx context.Context) {
	ticker := time.NewTicker(rateSampleInterval)
	defer ticker.Stop()
	last := e.published.Value()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := e.published.Value()
			rate := int64(current-last) / int64(rateSampleInterval.Seconds())
			e.promMetrics.EventsPerSecond.Set(rate)
			last = current
		}
	}
}
