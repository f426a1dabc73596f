package wal

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"

	"wirecdc/internal/metrics"
	"wirecdc/internal/model"
	"wirecdc/internal/parser"

	"go.uber.org/zap"
)

type replicationStartFunc func(context.Context, pglogrepl.LSN) error
type replicationLoopFunc func(context.Context, pglogrepl.LSN, chan<- *parser.RawMessage) (pglogrepl.LSN, error)

// sendStandbyStatusUpdate is a seam for tests; production always goes
// through pglogrepl.
var sendStandbyStatusUpdate = pglogrepl.SendStandbyStatusUpdate

type fatalReplicationError struct {
	err error
}

func (e fatalReplicationError) Error() string {
	return e.err.Error()
}

func (e fatalReplicationError) Unwrap() error {
	return e.err
}

// Reader streams logical replication changes from PostgreSQL.
type Reader interface {
	Start(ctx context.Context) error
	ReadWAL(ctx context.Context, position model.WALPosition) (<-chan *parser.RawMessage, error)
	GetCurrentPosition(ctx context.Context) (model.WALPosition, error)
	SetAckedPosition(position model.WALPosition)
	Err() error
	Stop(ctx context.Context) error
}

// SlotConfig captures replication slot settings to align with Postgres 15 logical decoding.
type SlotConfig struct {
	SlotName     string
	Plugin       string // pgoutput or wal2json
	Publications []string
	DatabaseURL  string
	TableFilter  map[string]struct{} // schema.table allowlist; empty means all

	// OnSessionStart runs after every successful StartReplication. Relation
	// metadata does not survive across decoding sessions, so the pgoutput
	// parser hooks its schema reset here.
	OnSessionStart func()
}

// PGReader drives the streaming replication protocol for a single slot and
// hands raw XLogData payloads to a parser.
type PGReader struct {
	slot       SlotConfig
	conn       *pgconn.PgConn
	errs       *metrics.Counter
	logger     *zap.Logger
	bufferSize int // Output channel buffer size for throughput optimization

	mu       sync.Mutex
	ackedLSN pglogrepl.LSN
	fatalErr error
}

func NewPGReader(slot SlotConfig, bufferSize int, logger *zap.Logger) *PGReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGReader{
		slot:       slot,
		errs:       metrics.NewCounter("replication_errors"),
		logger:     logger,
		bufferSize: bufferSize,
	}
}

func (r *PGReader) Start(ctx context.Context) error {
	if r.slot.DatabaseURL == "" {
		return fmt.Errorf("missing database url for replication")
	}
	cfg, err := pgconn.ParseConfig(r.slot.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse db url: %w", err)
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	cfg.RuntimeParams["replication"] = "database"
	conn, err := pgconn.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect replication: %w", err)
	}
	r.conn = conn
	r.logger.Info("replication connection established", zap.String("slot", r.slot.SlotName), zap.String("plugin", r.slot.Plugin))
	return nil
}

func (r *PGReader) ReadWAL(ctx context.Context, position model.WALPosition) (<-chan *parser.RawMessage, error) {
	if r.conn == nil {
		return nil, fmt.Errorf("replication connection not started")
	}

	startFn, loopFn, pluginName, err := r.replicationHandlers()
	if err != nil {
		return nil, err
	}

	startLSN := pglogrepl.LSN(position.LSN)

	r.logger.Info("starting replication",
		zap.String("plugin", pluginName),
		zap.String("lsn", startLSN.String()),
		zap.Int("buffer_size", r.bufferSize))

	out := make(chan *parser.RawMessage, r.bufferSize)
	go r.runReplicationLoop(ctx, startLSN, pluginName, startFn, loopFn, out)
	return out, nil
}

func (r *PGReader) GetCurrentPosition(ctx context.Context) (model.WALPosition, error) {
	if r.conn == nil {
		return model.WALPosition{}, fmt.Errorf("replication connection not started")
	}
	sys, err := pglogrepl.IdentifySystem(ctx, r.conn)
	if err != nil {
		return model.WALPosition{}, fmt.Errorf("identify system: %w", err)
	}
	return model.WALPosition{LSN: model.LSN(sys.XLogPos)}, nil
}

// SetAckedPosition advances the position reported to the server. Regressions
// are ignored so a stale checkpoint write cannot move the slot backwards.
func (r *PGReader) SetAckedPosition(position model.WALPosition) {
	lsn := pglogrepl.LSN(position.LSN)
	r.mu.Lock()
	if lsn > r.ackedLSN {
		r.ackedLSN = lsn
	}
	r.mu.Unlock()
}

// Err reports the error that terminated the replication loop, nil after a
// clean shutdown.
func (r *PGReader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatalErr
}

func (r *PGReader) Stop(ctx context.Context) error {
	if r.conn != nil {
		r.logger.Info("stopping replication connection")
	}
	return r.resetConnection(ctx)
}

func (r *PGReader) replicationHandlers() (replicationStartFunc, replicationLoopFunc, string, error) {
	switch r.slot.Plugin {
	case "", parser.PluginPGOutput:
		loop := func(ctx context.Context, lsn pglogrepl.LSN, out chan<- *parser.RawMessage) (pglogrepl.LSN, error) {
			return r.receiveLoop(ctx, lsn, parser.PluginPGOutput, out)
		}
		return r.startPGOutput, loop, parser.PluginPGOutput, nil
	case parser.PluginWal2JSON:
		loop := func(ctx context.Context, lsn pglogrepl.LSN, out chan<- *parser.RawMessage) (pglogrepl.LSN, error) {
			return r.receiveLoop(ctx, lsn, parser.PluginWal2JSON, out)
		}
		return r.startWal2JSON, loop, parser.PluginWal2JSON, nil
	}
	return nil, nil, "", fmt.Errorf("unsupported plugin: %s", r.slot.Plugin)
}

func (r *PGReader) runReplicationLoop(ctx context.Context, startLSN pglogrepl.LSN, plugin string, startFn replicationStartFunc, loopFn replicationLoopFunc, out chan<- *parser.RawMessage) {
	defer close(out)

	resumeLSN := startLSN
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		if r.conn == nil {
			if err := r.Start(ctx); err != nil {
				if isFatalReplicationError(err) {
					r.setErr(fmt.Errorf("replication connection failed: %w", err))
					r.logger.Error("replication connection failed", zap.String("plugin", plugin), zap.Error(err))
					return
				}
				r.logger.Warn("replication connection failed, will retry", zap.String("plugin", plugin), zap.Error(err))
				backoff = r.sleepWithBackoff(ctx, backoff, maxBackoff)
				continue
			}
		}

		if err := startFn(ctx, resumeLSN); err != nil {
			if ctx.Err() != nil {
				return
			}
			if isFatalReplicationError(err) {
				r.setErr(fmt.Errorf("replication start failed: %w", err))
				r.logger.Error("replication start failed", zap.String("plugin", plugin), zap.Error(err))
				return
			}
			r.logger.Warn("replication start failed, will retry", zap.String("plugin", plugin), zap.Error(err), zap.String("lsn", resumeLSN.String()))
			_ = r.resetConnection(ctx)
			backoff = r.sleepWithBackoff(ctx, backoff, maxBackoff)
			continue
		}
		backoff = time.Second

		// A fresh decoding session begins; relation metadata from any
		// previous session is void.
		if r.slot.OnSessionStart != nil {
			r.slot.OnSessionStart()
		}

		lastLSN, err := loopFn(ctx, resumeLSN, out)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			return
		}
		metrics.GlobalMetrics.ReplicationErrors.Inc()
		if isFatalReplicationError(err) {
			r.setErr(fmt.Errorf("replication loop stopped: %w", err))
			r.logger.Error("replication loop stopped due to fatal error", zap.String("plugin", plugin), zap.Error(err))
			return
		}
		if lastLSN != 0 {
			resumeLSN = lastLSN
		}
		r.logger.Warn("replication loop error, reconnecting", zap.String("plugin", plugin), zap.Error(err), zap.String("resume_lsn", resumeLSN.String()))
		_ = r.resetConnection(ctx)
		backoff = r.sleepWithBackoff(ctx, backoff, maxBackoff)
	}
}

func (r *PGReader) startPGOutput(ctx context.Context, startLSN pglogrepl.LSN) error {
	args := []string{"proto_version '1'"}
	if len(r.slot.Publications) > 0 {
		args = append(args, fmt.Sprintf("publication_names '%s'", strings.Join(r.slot.Publications, ",")))
	}
	if err := pglogrepl.StartReplication(ctx, r.conn, r.slot.SlotName, startLSN, pglogrepl.StartReplicationOptions{
		PluginArgs: args,
	}); err != nil {
		return fmt.Errorf("start replication pgoutput: %w", err)
	}
	return nil
}

func (r *PGReader) startWal2JSON(ctx context.Context, startLSN pglogrepl.LSN) error {
	pluginArgs := []string{
		"\"pretty-print\" 'false'",
		"\"include-xids\" 'true'",
		"\"include-timestamp\" 'true'",
		"\"format-version\" '1'",
	}

	if err := pglogrepl.StartReplication(ctx, r.conn, r.slot.SlotName, startLSN, pglogrepl.StartReplicationOptions{
		PluginArgs: pluginArgs,
	}); err != nil {
		return fmt.Errorf("start replication wal2json: %w", err)
	}
	return nil
}

// receiveLoop pumps CopyData messages until the context ends or the
// connection breaks. It returns the last WAL position seen so the caller can
// resume from there after a reconnect.
func (r *PGReader) receiveLoop(ctx context.Context, startLSN pglogrepl.LSN, plugin string, out chan<- *parser.RawMessage) (pglogrepl.LSN, error) {
	lastLSN := startLSN
	const standbyTimeout = 45 * time.Second
	standbyDeadline := time.Now().Add(standbyTimeout)

	for {
		if ctx.Err() != nil {
			return lastLSN, ctx.Err()
		}
		msgCtx, cancel := context.WithDeadline(ctx, standbyDeadline)
		msg, err := r.conn.ReceiveMessage(msgCtx)
		cancel()
		if err != nil {
			if pgconn.Timeout(err) {
				standbyDeadline = time.Now().Add(standbyTimeout)
				if err := r.sendStandbyStatus(ctx, false); err != nil {
					r.errs.Inc()
					r.logger.Warn("send standby status failed", zap.Error(err))
				}
				continue
			}
			if ctx.Err() != nil {
				return lastLSN, ctx.Err()
			}
			return lastLSN, fmt.Errorf("receive replication message: %w", err)
		}

		switch m := msg.(type) {
		case *pgproto3.ErrorResponse:
			return lastLSN, fatalReplicationError{fmt.Errorf("replication error response: %s", m.Message)}
		case *pgproto3.CopyData:
			if len(m.Data) == 0 {
				continue
			}
			switch m.Data[0] {
			case pglogrepl.XLogDataByteID:
				xld, err := pglogrepl.ParseXLogData(m.Data[1:])
				if err != nil {
					r.errs.Inc()
					r.logger.Warn("parse xlog data failed", zap.Error(err))
					continue
				}
				lastLSN = xld.WALStart
				// Copy the payload; pglogrepl reuses the receive buffer.
				dataCopy := make([]byte, len(xld.WALData))
				copy(dataCopy, xld.WALData)
				raw := &parser.RawMessage{
					Plugin:   plugin,
					WALStart: model.LSN(xld.WALStart),
					Data:     dataCopy,
				}
				select {
				case <-ctx.Done():
					return lastLSN, ctx.Err()
				case out <- raw:
				}
				standbyDeadline = time.Now().Add(standbyTimeout)
				if err := r.sendStandbyStatus(ctx, false); err != nil {
					r.errs.Inc()
					r.logger.Warn("send standby status failed", zap.Error(err))
				}
			case pglogrepl.PrimaryKeepaliveMessageByteID:
				pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(m.Data[1:])
				if err != nil {
					r.errs.Inc()
					r.logger.Warn("parse keepalive failed", zap.Error(err))
					continue
				}
				if pkm.ServerWALEnd > lastLSN {
					lastLSN = pkm.ServerWALEnd
				}
				standbyDeadline = time.Now().Add(standbyTimeout)
				if err := r.sendStandbyStatus(ctx, pkm.ReplyRequested); err != nil {
					r.errs.Inc()
					r.logger.Warn("send standby status failed", zap.Error(err))
				}
			default:
				r.logger.Warn("unexpected replication copydata", zap.Uint8("id", m.Data[0]))
			}
		default:
			r.logger.Warn("unexpected replication message", zap.String("type", fmt.Sprintf("%T", m)))
		}
	}
}

// sendStandbyStatus reports the durable position. WAL that was decoded but
// not yet published is never acknowledged, so a crash replays it.
func (r *PGReader) sendStandbyStatus(ctx context.Context, requestReply bool) error {
	acked := r.currentAckedLSN()
	if acked == 0 && !requestReply {
		return nil
	}
	return sendStandbyStatusUpdate(ctx, r.conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: acked,
		WALFlushPosition: acked,
		WALApplyPosition: acked,
		ReplyRequested:   requestReply,
	})
}

func (r *PGReader) setAckedLSN(lsn pglogrepl.LSN) {
	r.mu.Lock()
	r.ackedLSN = lsn
	r.mu.Unlock()
}

func (r *PGReader) currentAckedLSN() pglogrepl.LSN {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ackedLSN
}

func (r *PGReader) setErr(err error) {
	r.mu.Lock()
	r.fatalErr = err
	r.mu.Unlock()
}

func (r *PGReader) resetConnection(ctx context.Context) error {
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close(ctx)
	if err != nil {
		r.logger.Warn("close replication connection failed", zap.Error(err))
	}
	r.conn = nil
	return err
}

func (r *PGReader) sleepWithBackoff(ctx context.Context, backoff, max time.Duration) time.Duration {
	delay := withJitter(backoff)
	select {
	case <-ctx.Done():
		return backoff
	case <-time.After(delay):
	}
	return nextBackoff(backoff, max)
}

func isFatalReplicationError(err error) bool {
	if err == nil {
		return false
	}
	var fatal fatalReplicationError
	if errors.As(err, &fatal) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isFatalPgError(pgErr)
	}
	return false
}

func isFatalPgError(err *pgconn.PgError) bool {
	if err == nil {
		return false
	}
	if strings.HasPrefix(err.Code, "28") { // invalid auth
		return true
	}
	switch err.Code {
	case "42501", // insufficient privilege
		"42704": // undefined object (e.g., slot missing)
		return true
	default:
		return false
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	if current <= 0 {
		return time.Second
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	spread := base / 2
	extra := time.Duration(rand.Int63n(int64(spread) + 1))
	return base + extra
}
