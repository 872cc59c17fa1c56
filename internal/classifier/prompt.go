package classifier

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ratlr/internal/cache"
)

var tracer = otel.Tracer("ratlr.classifier")

// Classification modes.
const (
	ModeSimple    = "simple"
	ModeReasoning = "reasoning"
)

const simpleInstruction = `You are an expert in software traceability. Decide whether two software development artifacts are related. Answer with 'yes' or 'no' only.`

const simpleTemplate = `Question: Here are two parts of software development artifacts.

{source_type}: '''{source_content}'''

{target_type}: '''{target_content}'''
Are they related?

Answer with 'yes' or 'no'.`

const reasoningInstruction = `You are an expert in software traceability. Reason step by step about whether two software development artifacts are related, then give your verdict enclosed in <trace></trace>, for example <trace>yes</trace> or <trace>no</trace>.`

const reasoningTemplate = `Below are two artifacts from the same software system. Is there a traceability link between ({source_type}) and ({target_type})?

{source_type}: '''{source_content}'''

{target_type}: '''{target_content}'''`

// PromptConfig configures a PromptClassifier. Empty fields take the
// defaults of Mode.
type PromptConfig struct {
	Mode        string
	Instruction string
	Template    string
}

// PromptClassifier asks an oracle about each pair and caches the reply.
type PromptClassifier struct {
	oracle      Oracle
	cache       *cache.Cache
	mode        string
	instruction string
	template    string
	logger      *zap.Logger
}

// NewPromptClassifier creates a classifier over oracle. c may be nil to
// disable caching.
func NewPromptClassifier(oracle Oracle, c *cache.Cache, cfg PromptConfig, logger *zap.Logger) (*PromptClassifier, error) {
	if oracle == nil {
		return nil, fmt.Errorf("%w: oracle is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &PromptClassifier{oracle: oracle, cache: c, mode: cfg.Mode, logger: logger}
	switch cfg.Mode {
	case "", ModeSimple:
		p.mode, p.instruction, p.template = ModeSimple, simpleInstruction, simpleTemplate
	case ModeReasoning:
		p.instruction, p.template = reasoningInstruction, reasoningTemplate
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, cfg.Mode)
	}
	if cfg.Instruction != "" {
		p.instruction = cfg.Instruction
	}
	if cfg.Template != "" {
		p.template = cfg.Template
	}
	if !strings.Contains(p.template, "{source_content}") || !strings.Contains(p.template, "{target_content}") {
		return nil, fmt.Errorf("%w: template must reference {source_content} and {target_content}", ErrInvalidConfig)
	}
	return p, nil
}

// Render fills the template with the task's elements.
func (p *PromptClassifier) Render(task ClassificationTask) string {
	return strings.NewReplacer(
		"{source_type}", task.Source.Type(),
		"{source_content}", task.Source.Content(),
		"{target_type}", task.Target.Type(),
		"{target_content}", task.Target.Content(),
	).Replace(p.template)
}

// Classify resolves the oracle reply for task through the cache and
// parses it.
func (p *PromptClassifier) Classify(ctx context.Context, task ClassificationTask) (Result, error) {
	ctx, span := tracer.Start(ctx, "PromptClassifier.Classify")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.source", task.Source.ID()),
		attribute.String("task.target", task.Target.ID()))

	content := p.Render(task)
	key := cache.NewScorerKey(p.instruction, content).ForModel(p.oracle.Model())

	raw, err := p.cache.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		reply, err := p.oracle.Score(ctx, p.instruction, content)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOracle, err)
		}
		return []byte(reply), nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("classify %s -> %s: %w", task.Source.ID(), task.Target.ID(), err)
	}

	reply := string(raw)
	linked := ParseDecision(reply)
	span.SetAttributes(attribute.Bool("task.linked", linked))
	p.logger.Debug("classified",
		zap.String("source", task.Source.ID()),
		zap.String("target", task.Target.ID()),
		zap.Bool("linked", linked))

	task.Label = linked
	return Result{Task: task, Linked: linked, Raw: reply}, nil
}

func (p *PromptClassifier) Name() string { return p.mode + ":" + p.oracle.Model() }
