// Package aggregation lifts element-level trace links to the granularity
// that is evaluated and normalises link identifiers.
package aggregation

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ratlr/internal/config"
	"github.com/fyrsmithlabs/ratlr/internal/knowledge"
)

// ErrInvalidConfig is returned for unknown aggregators or postprocessors.
var ErrInvalidConfig = errors.New("invalid aggregation configuration")

// Aggregator maps links between compared elements to links between the
// elements that are reported.
type Aggregator interface {
	Aggregate(source, target []*knowledge.Element, links []knowledge.TraceLink) []knowledge.TraceLink
}

// Postprocessor rewrites link identifiers into the form of a gold standard.
type Postprocessor interface {
	Process(links []knowledge.TraceLink) []knowledge.TraceLink
}

// AnyConnection links two reported elements when any pair of their
// descendants is linked.
type AnyConnection struct {
	SourceGranularity int
	TargetGranularity int
	logger            *zap.Logger
}

// NewAnyConnection creates the aggregator. Granularity 0 reports whole
// artifacts.
func NewAnyConnection(sourceGranularity, targetGranularity int, logger *zap.Logger) (*AnyConnection, error) {
	if sourceGranularity < 0 || targetGranularity < 0 {
		return nil, fmt.Errorf("%w: granularities must not be negative", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnyConnection{
		SourceGranularity: sourceGranularity,
		TargetGranularity: targetGranularity,
		logger:            logger,
	}, nil
}

// Aggregate lifts each endpoint to its ancestor at the configured
// granularity. An element without such an ancestor reports itself. Links
// naming an element absent from the given slices are dropped. The result
// is sorted and free of duplicates.
func (a *AnyConnection) Aggregate(source, target []*knowledge.Element, links []knowledge.TraceLink) []knowledge.TraceLink {
	sources := index(source)
	targets := index(target)

	set := knowledge.NewTraceLinkSet()
	for _, l := range links {
		s, ok := sources[l.SourceID]
		if !ok {
			a.logger.Warn("link source not found", zap.String("source", l.SourceID))
			continue
		}
		t, ok := targets[l.TargetID]
		if !ok {
			a.logger.Warn("link target not found", zap.String("target", l.TargetID))
			continue
		}
		set.Add(knowledge.NewTraceLink(lift(s, a.SourceGranularity).ID(), lift(t, a.TargetGranularity).ID()))
	}
	return set.Sorted()
}

func index(elements []*knowledge.Element) map[string]*knowledge.Element {
	m := make(map[string]*knowledge.Element, len(elements))
	for _, e := range elements {
		if _, dup := m[e.ID()]; !dup {
			m[e.ID()] = e
		}
	}
	return m
}

func lift(e *knowledge.Element, granularity int) *knowledge.Element {
	if a := e.Ancestor(granularity); a != nil {
		return a
	}
	return e
}

// Identity leaves links unchanged apart from sorting and deduplication.
type Identity struct{}

func (Identity) Process(links []knowledge.TraceLink) []knowledge.TraceLink {
	return knowledge.NewTraceLinkSet(links...).Sorted()
}

// Req2Req strips the directory and file extension from both endpoints, so
// "high/UC1.txt" becomes "UC1".
type Req2Req struct{}

func (Req2Req) Process(links []knowledge.TraceLink) []knowledge.TraceLink {
	set := knowledge.NewTraceLinkSet()
	for _, l := range links {
		set.Add(knowledge.NewTraceLink(stem(l.SourceID), stem(l.TargetID)))
	}
	return set.Sorted()
}

func stem(id string) string {
	base := path.Base(id)
	return strings.TrimSuffix(base, path.Ext(base))
}

// NewAggregator builds the aggregator named by cfg. Only any_connection
// exists; it reads source_granularity and target_granularity.
func NewAggregator(cfg config.ModuleConfig, logger *zap.Logger) (Aggregator, error) {
	switch cfg.Name {
	case "any_connection":
		sg, err := cfg.Int("source_granularity", 0)
		if err != nil {
			return nil, err
		}
		tg, err := cfg.Int("target_granularity", 0)
		if err != nil {
			return nil, err
		}
		return NewAnyConnection(sg, tg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown aggregator %q", ErrInvalidConfig, cfg.Name)
	}
}

// NewPostprocessor builds the postprocessor named by cfg.
func NewPostprocessor(cfg config.ModuleConfig) (Postprocessor, error) {
	switch cfg.Name {
	case "identity":
		return Identity{}, nil
	case "req2req":
		return Req2Req{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown postprocessor %q", ErrInvalidConfig, cfg.Name)
	}
}
