// Package pipeline runs one trace link recovery: it loads both corpora,
// embeds their elements, retrieves candidates, classifies them and
// aggregates the accepted pairs into trace links.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ratlr/internal/aggregation"
	"github.com/fyrsmithlabs/ratlr/internal/artifact"
	"github.com/fyrsmithlabs/ratlr/internal/cache"
	"github.com/fyrsmithlabs/ratlr/internal/classifier"
	"github.com/fyrsmithlabs/ratlr/internal/config"
	"github.com/fyrsmithlabs/ratlr/internal/elementstore"
	"github.com/fyrsmithlabs/ratlr/internal/embeddings"
	"github.com/fyrsmithlabs/ratlr/internal/knowledge"
	"github.com/fyrsmithlabs/ratlr/internal/logging"
)

// ErrTasksFailed is returned when some classification tasks did not
// complete. The accompanying Result still holds the links of the tasks
// that did.
var ErrTasksFailed = errors.New("classification tasks failed")

var tracer = otel.Tracer("ratlr.pipeline")

// Dependencies are collaborators built outside the run configuration.
// Nil fields are built from the configuration.
type Dependencies struct {
	// Cache backs embeddings and oracle replies. Nil disables caching.
	Cache      *cache.Cache
	Embeddings embeddings.Provider
	Classifier classifier.Classifier
}

// Result is the outcome of a run.
type Result struct {
	RunID string
	Links []knowledge.TraceLink

	SourceElements int
	TargetElements int
	Tasks          int
	Linked         int
	Failures       int
	// CacheHits counts cache hits during this run.
	CacheHits int64
	Duration  time.Duration
}

// Pipeline holds the components of one configured run.
type Pipeline struct {
	cfg    *config.Config
	cache  *cache.Cache
	logger *zap.Logger

	sourceProvider     artifact.Provider
	targetProvider     artifact.Provider
	sourcePreprocessor artifact.Preprocessor
	targetPreprocessor artifact.Preprocessor
	embedder           embeddings.Provider
	classifier         classifier.Classifier
	aggregator         aggregation.Aggregator
	postprocessor      aggregation.Postprocessor
}

// New builds every component named by cfg. cfg must be validated.
func New(cfg *config.Config, deps Dependencies, logger *zap.Logger) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil configuration", config.ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{cfg: cfg, cache: deps.Cache, logger: logger}

	var err error
	if p.sourceProvider, err = artifact.NewProvider(cfg.SourceArtifactProvider, logger); err != nil {
		return nil, fmt.Errorf("source artifact provider: %w", err)
	}
	if p.targetProvider, err = artifact.NewProvider(cfg.TargetArtifactProvider, logger); err != nil {
		return nil, fmt.Errorf("target artifact provider: %w", err)
	}
	if p.sourcePreprocessor, err = artifact.NewPreprocessor(cfg.SourcePreprocessor); err != nil {
		return nil, fmt.Errorf("source preprocessor: %w", err)
	}
	if p.targetPreprocessor, err = artifact.NewPreprocessor(cfg.TargetPreprocessor); err != nil {
		return nil, fmt.Errorf("target preprocessor: %w", err)
	}
	if p.aggregator, err = aggregation.NewAggregator(cfg.ResultAggregator, logger); err != nil {
		return nil, fmt.Errorf("result aggregator: %w", err)
	}
	if p.postprocessor, err = aggregation.NewPostprocessor(cfg.TraceLinkPostprocessor); err != nil {
		return nil, fmt.Errorf("trace link postprocessor: %w", err)
	}

	p.embedder = deps.Embeddings
	if p.embedder == nil {
		if p.embedder, err = embeddings.New(cfg.EmbeddingCreator, deps.Cache, logger); err != nil {
			return nil, fmt.Errorf("embedding creator: %w", err)
		}
	}
	p.classifier = deps.Classifier
	if p.classifier == nil {
		limits := classifier.LimitsFromConfig(cfg.Concurrency)
		if p.classifier, err = classifier.New(cfg.Classifier, deps.Cache, limits, logger); err != nil {
			return nil, fmt.Errorf("classifier: %w", err)
		}
	}
	return p, nil
}

// Run executes the pipeline once. Failed tasks do not abort the run: Run
// returns the links of the completed tasks together with an error that
// wraps ErrTasksFailed and every distinct cause.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	res := Result{RunID: uuid.NewString()}
	ctx = logging.WithRunID(ctx, res.RunID)

	ctx, span := tracer.Start(ctx, "Pipeline.Run")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", res.RunID))
	logger := logging.For(ctx, p.logger)

	fail := func(stage string, err error) (Result, error) {
		err = fmt.Errorf("%s: %w", stage, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logging.For(logging.WithStage(ctx, stage), p.logger).Error("run failed", zap.Error(err))
		return res, err
	}

	var hitsBefore int64
	if p.cache != nil {
		hitsBefore = p.cache.Stats().Hits
	}

	sourceElements, err := p.elements(ctx, p.sourceProvider, p.sourcePreprocessor)
	if err != nil {
		return fail("source corpus", err)
	}
	targetElements, err := p.elements(ctx, p.targetProvider, p.targetPreprocessor)
	if err != nil {
		return fail("target corpus", err)
	}
	res.SourceElements, res.TargetElements = len(sourceElements), len(targetElements)
	logger.Info("corpora loaded",
		zap.Int("source_elements", res.SourceElements),
		zap.Int("target_elements", res.TargetElements))

	source := elementstore.NewSourceStoreFromConfig(p.cfg.SourceStore, logger)
	if err := p.populate(ctx, sourceElements, source.Setup); err != nil {
		return fail("source store", err)
	}
	target, err := elementstore.NewTargetStoreFromConfig(p.cfg.TargetStore, logger)
	if err != nil {
		return fail("target store", err)
	}
	if c, ok := target.Strategy().(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				logger.Warn("closing retrieval strategy", zap.Error(err))
			}
		}()
	}
	if err := p.populate(ctx, targetElements, target.Setup); err != nil {
		return fail("target store", err)
	}

	tasks, err := classifier.BuildTasks(ctx, source, target)
	if err != nil {
		return fail("retrieval", err)
	}
	res.Tasks = len(tasks)
	classifyCtx := logging.WithStage(ctx, "classify")
	classifyLogger := logging.For(classifyCtx, p.logger)
	classifyLogger.Info("classifying candidates",
		zap.Int("tasks", res.Tasks),
		zap.String("classifier", p.classifier.Name()),
		zap.Int("workers", p.cfg.Concurrency.Workers))

	outcomes := classifier.NewPool(p.classifier, p.cfg.Concurrency.Workers, classifyLogger).Run(classifyCtx, tasks)

	var (
		linked []knowledge.TraceLink
		causes []error
		seen   = make(map[string]bool)
	)
	for _, o := range outcomes {
		if o.Err != nil {
			res.Failures++
			if msg := o.Err.Error(); !seen[msg] {
				seen[msg] = true
				causes = append(causes, o.Err)
			}
			continue
		}
		if o.Linked {
			linked = append(linked, knowledge.NewTraceLink(o.Task.Source.ID(), o.Task.Target.ID()))
		}
	}
	res.Linked = len(linked)

	aggregated := p.aggregator.Aggregate(sourceElements, targetElements, linked)
	res.Links = knowledge.NewTraceLinkSet(p.postprocessor.Process(aggregated)...).Sorted()

	if p.cache != nil {
		res.CacheHits = p.cache.Stats().Hits - hitsBefore
	}
	res.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("run.tasks", res.Tasks),
		attribute.Int("run.failures", res.Failures),
		attribute.Int("run.links", len(res.Links)))

	logger.Info("run finished",
		zap.Int("links", len(res.Links)),
		zap.Int("linked_pairs", res.Linked),
		zap.Int("failures", res.Failures),
		zap.Int64("cache_hits", res.CacheHits),
		zap.Duration("duration", res.Duration))

	if res.Failures > 0 {
		err := errors.Join(append([]error{fmt.Errorf("%w: %d of %d", ErrTasksFailed, res.Failures, res.Tasks)}, causes...)...)
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrTasksFailed.Error())
		return res, err
	}
	return res, nil
}

// Close releases the embedding provider. The cache belongs to the caller.
func (p *Pipeline) Close() error {
	return p.embedder.Close()
}

func (p *Pipeline) elements(ctx context.Context, provider artifact.Provider, pre artifact.Preprocessor) ([]*knowledge.Element, error) {
	artifacts, err := provider.Artifacts(ctx)
	if err != nil {
		return nil, err
	}
	return pre.Preprocess(ctx, artifacts)
}

func (p *Pipeline) populate(ctx context.Context, elements []*knowledge.Element, setup func([]*knowledge.Element, []knowledge.Embedding) error) error {
	vectors, err := embeddings.EmbedElements(ctx, p.embedder, elements)
	if err != nil {
		return err
	}
	return setup(elements, vectors)
}
