package parser

import (
	"context"
	"time"

	"go.uber.org/zap"

	"wirecdc/internal/metrics"
	"wirecdc/internal/model"
	"wirecdc/internal/pgoutput"
	"wirecdc/internal/schema"
)

// PGOutputConfig configures the binary decoding pipeline.
type PGOutputConfig struct {
	TableFilter map[string]struct{} // schema.table allowlist; empty means all
	Logger      *zap.Logger
	BufferSize  int              // output channel buffer size
	Registry    *schema.Registry // optional; a fresh one is created when nil
}

// PGOutputParser runs one decoding session over the raw message stream. Each
// buffer becomes exactly one ChangeEvent; schema messages additionally feed
// the registry so later data events come out enriched.
type PGOutputParser struct {
	session     *pgoutput.Session
	tableFilter map[string]struct{}
	logger      *zap.Logger
	lagGauge    *metrics.Gauge
	decodeErrs  *metrics.Counter
	unknowns    *metrics.Counter
	bufferSize  int
	prom        *metrics.Metrics
}

func NewPGOutputParser(cfg PGOutputConfig) *PGOutputParser {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = schema.NewRegistry()
	}
	return &PGOutputParser{
		session:     pgoutput.NewSession(registry),
		tableFilter: cfg.TableFilter,
		logger:      logger,
		lagGauge:    metrics.NewGauge("replication_lag_ms"),
		decodeErrs:  metrics.NewCounter("decode_errors"),
		unknowns:    metrics.NewCounter("unknown_messages"),
		bufferSize:  cfg.BufferSize,
		prom:        metrics.GlobalMetrics,
	}
}

// Registry exposes the session's schema registry for wiring and inspection.
func (p *PGOutputParser) Registry() *schema.Registry {
	return p.session.Registry()
}

// ResetSession drops all cached schema. The transport triggers this whenever
// it starts a fresh replication stream.
func (p *PGOutputParser) ResetSession() {
	p.session.Reset()
	p.logger.Info("decoder session reset, schema registry cleared")
}

func (p *PGOutputParser) Parse(ctx context.Context, stream <-chan *RawMessage) (<-chan model.ChangeEvent, error) {
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
				if msg.Plugin != PluginPGOutput && msg.Plugin != "" {
					continue
				}
				ev := p.session.Process(msg.Data)
				p.observe(ev)
				if !p.keep(ev) {
					continue
				}
				select {
				case <-ctx.Done():
					return
				case out <- ev:
				}
			}
		}
	}()
	return out, nil
}

func (p *PGOutputParser) observe(ev model.ChangeEvent) {
	switch e := ev.(type) {
	case *model.ErrorEvent:
		p.decodeErrs.Inc()
		p.prom.DecodeErrors.Inc()
		p.logger.Warn("undecodable message", zap.String("reason", e.Message), zap.String("preview", e.Preview))
	case *model.UnknownEvent:
		p.unknowns.Inc()
		p.prom.UnknownMessages.Inc()
		p.logger.Debug("unknown message tag", zap.Uint8("tag", e.RawTag), zap.String("preview", e.Preview))
	case *model.CommitEvent:
		if e.Timestamp > 0 {
			lag := time.Since(model.PGTime(e.Timestamp)).Milliseconds()
			p.lagGauge.Set(lag)
			p.prom.ReplicationLag.Set(lag)
		}
	case *model.RelationEvent, *model.TypeDefEvent:
		relations, types := p.session.Registry().Sizes()
		p.prom.RelationsCached.Set(int64(relations))
		p.prom.TypesCached.Set(int64(types))
	}
}

// keep applies the table allowlist. Only enriched data events are filtered;
// transaction boundaries and schema messages always pass through. A data
// event whose relation was never announced has no table name to match, so it
// is dropped when a filter is active.
func (p *PGOutputParser) keep(ev model.ChangeEvent) bool {
	if len(p.tableFilter) == 0 || !model.IsDataChange(ev) {
		return true
	}
	var table string
	switch e := ev.(type) {
	case *model.InsertEvent:
		table = e.Table
	case *model.UpdateEvent:
		table = e.Table
	case *model.DeleteEvent:
		table = e.Table
	}
	if _, ok := p.tableFilter[table]; ok {
		return true
	}
	p.prom.EventsFiltered.Inc()
	return false
}
