package publisher

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"wirecdc/internal/model"

	"go.uber.org/zap"
)

// Publisher pushes encoded change events to a broker.
type Publisher interface {
	Connect() error
	Publish(ctx context.Context, subject string, data []byte) error
	PublishWithRetries(ctx context.Context, subject string, data []byte, maxRetries int) error
	Close() error
}

// NoopPublisher swallows payloads and records the last subject. Used for
// dry runs and tests.
type NoopPublisher struct {
	mu          sync.Mutex
	lastSubject string
	published   int
	logger      *zap.Logger
}

func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{logger: zap.NewNop()}
}

func (p *NoopPublisher) Connect() error { return nil }

func (p *NoopPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	_ = ctx
	_ = data
	p.mu.Lock()
	p.lastSubject = subject
	p.published++
	p.mu.Unlock()
	p.logger.Debug("noop publisher invoked", zap.String("subject", subject))
	return nil
}

func (p *NoopPublisher) PublishWithRetries(ctx context.Context, subject string, data []byte, maxRetries int) error {
	_ = maxRetries
	return p.Publish(ctx, subject, data)
}

func (p *NoopPublisher) Close() error { return nil }

// LastSubject returns the most recent subject published.
func (p *NoopPublisher) LastSubject() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSubject
}

// Published returns the number of publish calls so far.
func (p *NoopPublisher) Published() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published
}

// SubjectForEvent builds subject cdc.{database}.{schema}.{table}. Events
// whose relation was never announced publish under cdc.{database}.unresolved
// so they stay visible instead of vanishing.
func SubjectForEvent(database string, ev model.ChangeEvent) (string, error) {
	if ev == nil {
		return "", fmt.Errorf("nil event")
	}
	table := eventTable(ev)
	if table == "" {
		table = "unresolved"
	}
	// Use strings.Builder to avoid fmt.Sprintf allocation
	var sb strings.Builder
	sb.Grow(len("cdc.") + len(database) + 1 + len(table))
	sb.WriteString("cdc.")
	sb.WriteString(database)
	sb.WriteByte('.')
	sb.WriteString(table)
	return sb.String(), nil
}

func eventTable(ev model.ChangeEvent) string {
	switch e := ev.(type) {
	case *model.InsertEvent:
		return e.Table
	case *model.UpdateEvent:
		return e.Table
	case *model.DeleteEvent:
		return e.Table
	}
	return ""
}
