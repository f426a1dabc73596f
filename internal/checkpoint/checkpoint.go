package checkpoint

import (
	"context"
	"sync"
	"time"

	"wirecdc/internal/model"

	"go.uber.org/zap"
)

// Store persists WAL positions to support restart recovery.
type Store interface {
	Save(ctx context.Context, pos model.WALPosition) error
	Load(ctx context.Context) (model.WALPosition, error)
}

// MemoryStore is a simple in-memory checkpoint store useful for initial wiring.
type MemoryStore struct {
	mu   sync.Mutex
	last model.WALPosition
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(ctx context.Context, pos model.WALPosition) error {
	_ = ctx
	s.mu.Lock()
	s.last = pos
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(ctx context.Context) (model.WALPosition, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, nil
}

// Manager coordinates periodic checkpointing tied to publish acknowledgement.
type Manager struct {
	store    Store
	interval time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	lastFlush model.WALPosition
	lastTime  time.Time
}

func NewManager(store Store, interval time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, interval: interval, logger: logger}
}

// MaybeFlush saves the position when it is acknowledged and the flush
// interval has elapsed. The first acknowledged position always flushes so a
// fresh deployment records progress immediately.
func (m *Manager) MaybeFlush(ctx context.Context, pos model.WALPosition, acked bool, now time.Time) error {
	if pos.LSN == 0 {
		return nil
	}
	if !acked {
		return nil
	}
	m.mu.Lock()
	due := m.lastTime.IsZero() || now.Sub(m.lastTime) >= m.interval
	if due {
		m.lastFlush = pos
		m.lastTime = now
	}
	m.mu.Unlock()
	if !due {
		return nil
	}
	m.logger.Debug("saving checkpoint", zap.Stringer("lsn", pos.LSN))
	return m.store.Save(ctx, pos)
}

// LastFlushed reports the most recently saved position, zero before the
// first flush.
func (m *Manager) LastFlushed() model.WALPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastFlush
}
