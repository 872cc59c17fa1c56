package elementstore

import (
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ratlr/internal/config"
	"github.com/fyrsmithlabs/ratlr/internal/knowledge"
)

// SourceStore is the enumerable role. It never holds a retrieval strategy.
type SourceStore struct {
	store
	logger *zap.Logger
}

// NewSourceStore creates an empty source store.
func NewSourceStore(logger *zap.Logger) *SourceStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SourceStore{logger: logger}
}

// NewSourceStoreFromConfig creates a source store from its module
// configuration. Source stores are configured as "custom"; any other name
// means a strategy was attached to a store that cannot use one, which is
// logged and otherwise ignored.
func NewSourceStoreFromConfig(cfg config.ModuleConfig, logger *zap.Logger) *SourceStore {
	s := NewSourceStore(logger)
	if cfg.Name != config.CustomStoreName {
		s.logger.Warn("source store configured with a retrieval strategy; source stores never run one",
			zap.String("configured", cfg.Name),
			zap.String("expected", config.CustomStoreName))
	}
	return s
}

// GetAllElements returns every element in insertion order.
func (s *SourceStore) GetAllElements() []*knowledge.Element {
	entries := s.allEntries(false)
	out := make([]*knowledge.Element, len(entries))
	for i, e := range entries {
		out[i] = e.Element
	}
	return out
}

// GetAllEntries returns entries in insertion order with copied
// embeddings, optionally only the compare-eligible ones.
func (s *SourceStore) GetAllEntries(onlyCompare bool) []knowledge.Entry {
	return cloneEntries(s.allEntries(onlyCompare))
}

// ReduceSourceElementStore returns a new store holding the first
// min(n, Size()) entries in order. Negative n yields an empty store.
func (s *SourceStore) ReduceSourceElementStore(n int) *SourceStore {
	entries := s.allEntries(false)
	n = max(0, min(n, len(entries)))

	reduced := NewSourceStore(s.logger)
	// A prefix of a valid store cannot fail validation.
	_ = reduced.publish(cloneEntries(entries[:n]), false)
	return reduced
}
