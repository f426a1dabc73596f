package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wirecdc/internal/metrics"
	"wirecdc/internal/model"
	"wirecdc/internal/pgoutput"
)

// Wal2JSONConfig configures the already-structured ingestion path.
type Wal2JSONConfig struct {
	TableFilter map[string]struct{} // schema.table allowlist; empty means all
	Logger      *zap.Logger
	BufferSize  int
}

// Wal2JSONParser normalizes wal2json transaction envelopes into the same
// ChangeEvent shape the binary decoder produces. It performs no binary
// parsing; a malformed envelope becomes an Error event and the stream
// continues.
type Wal2JSONParser struct {
	tableFilter map[string]struct{}
	logger      *zap.Logger
	lagGauge    *metrics.Gauge
	decodeErrs  *metrics.Counter
	bufferSize  int
	prom        *metrics.Metrics
}

func NewWal2JSONParser(cfg Wal2JSONConfig) *Wal2JSONParser {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Wal2JSONParser{
		tableFilter: cfg.TableFilter,
		logger:      logger,
		lagGauge:    metrics.NewGauge("replication_lag_ms"),
		decodeErrs:  metrics.NewCounter("decode_errors"),
		bufferSize:  cfg.BufferSize,
		prom:        metrics.GlobalMetrics,
	}
}

func (p *Wal2JSONParser) Parse(ctx context.Context, stream <-chan *RawMessage) (<-chan model.ChangeEvent, error) {
	out := make(chan model.ChangeEvent, p.bufferSize)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				if msg == nil {
					continue
				}
				if msg.Plugin != PluginWal2JSON && msg.Plugin != "" {
					continue
				}
				events, err := decodeWal2JSON(msg.WALStart, msg.Data, p.tableFilter)
				if err != nil {
					p.decodeErrs.Inc()
					p.prom.DecodeErrors.Inc()
					p.logger.Warn("decode wal2json failed", zap.Error(err))
					events = []model.ChangeEvent{&model.ErrorEvent{
						Type:    model.EventError,
						Message: err.Error(),
						Preview: pgoutput.HexPreview(msg.Data),
					}}
				}
				for _, ev := range events {
					if commit, ok := ev.(*model.CommitEvent); ok && commit.Timestamp > 0 {
						lag := time.Since(model.PGTime(commit.Timestamp)).Milliseconds()
						p.lagGauge.Set(lag)
						p.prom.ReplicationLag.Set(lag)
					}
					select {
					case <-ctx.Done():
						return
					case out <- ev:
					}
				}
			}
		}
	}()
	return out, nil
}

// decodeWal2JSON fans one transaction envelope out into begin, change and
// commit events with the same field semantics as the binary path: old keys
// double as the primary-key list, tables are "schema.table".
func decodeWal2JSON(walStart model.LSN, data []byte, tableFilter map[string]struct{}) ([]model.ChangeEvent, error) {
	var envelope wal2JSONEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal wal2json: %w", err)
	}

	micros := pgMicros(envelope.Timestamp.Time)
	formatted := model.FormatPGMicros(micros)
	xid := uint32(envelope.XID)

	events := make([]model.ChangeEvent, 0, len(envelope.Change)+2)
	events = append(events, &model.BeginEvent{
		Type:               model.EventBegin,
		LSN:                walStart,
		Timestamp:          micros,
		TimestampFormatted: formatted,
		XID:                xid,
	})

	for _, ch := range envelope.Change {
		table := ch.Schema + "." + ch.Table
		if len(tableFilter) > 0 {
			if _, ok := tableFilter[table]; !ok {
				continue
			}
		}
		keys := ch.OldKeys.KeyNames
		if keys == nil {
			keys = []string{}
		}
		switch ch.Kind {
		case "insert":
			events = append(events, &model.InsertEvent{
				Type:        model.EventInsert,
				Table:       table,
				Data:        zipColumns(ch.ColumnNames, ch.ColumnValues),
				PrimaryKeys: []string{},
			})
		case "update":
			ev := &model.UpdateEvent{
				Type:        model.EventUpdate,
				Table:       table,
				NewData:     zipColumns(ch.ColumnNames, ch.ColumnValues),
				PrimaryKeys: keys,
			}
			if len(ch.OldKeys.KeyNames) > 0 {
				ev.HasOldTuple = true
				ev.OldData = zipColumns(ch.OldKeys.KeyNames, ch.OldKeys.KeyValues)
			}
			events = append(events, ev)
		case "delete":
			events = append(events, &model.DeleteEvent{
				Type:        model.EventDelete,
				Table:       table,
				Data:        zipColumns(ch.OldKeys.KeyNames, ch.OldKeys.KeyValues),
				PrimaryKeys: keys,
			})
		case "truncate":
			events = append(events, &model.TruncateEvent{
				Type:        model.EventTruncate,
				RelationIDs: []uint32{},
			})
		default:
			// Informational kinds ("message") carry nothing downstream.
			continue
		}
	}

	events = append(events, &model.CommitEvent{
		Type:               model.EventCommit,
		LSN:                walStart,
		EndLSN:             walStart,
		Timestamp:          micros,
		TimestampFormatted: formatted,
	})
	return events, nil
}

// wal2JSONEnvelope matches one wal2json format-version-1 transaction.
type wal2JSONEnvelope struct {
	XID       int64            `json:"xid"`
	Timestamp walTime          `json:"timestamp"`
	Change    []wal2JSONChange `json:"change"`
}

type wal2JSONChange struct {
	Kind         string       `json:"kind"`
	Schema       string       `json:"schema"`
	Table        string       `json:"table"`
	ColumnNames  []string     `json:"columnnames"`
	ColumnValues []any        `json:"columnvalues"`
	OldKeys      wal2JSONKeys `json:"oldkeys"`
}

type wal2JSONKeys struct {
	KeyNames  []string `json:"keynames"`
	KeyValues []any    `json:"keyvalues"`
}

// walTime accepts both RFC 3339 and the "2006-01-02 15:04:05.999999-07"
// stamps wal2json actually emits.
type walTime struct {
	time.Time
}

func (t *walTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999-07", "2006-01-02 15:04:05.999999+00"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unsupported timestamp %q", s)
}

// pgMicros converts a wall-clock time to microseconds since the PostgreSQL
// epoch; the zero time maps to zero.
func pgMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Sub(model.PGTime(0)).Microseconds()
}

func zipColumns(names []string, values []any) map[string]any {
	if len(names) == 0 || len(names) != len(values) {
		return nil
	}
	m := make(map[string]any, len(names))
	for i, name := range names {
		m[name] = values[i]
	}
	return m
}
