package artifact

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/fyrsmithlabs/ratlr/internal/config"
	"github.com/fyrsmithlabs/ratlr/internal/knowledge"
)

// Preprocessor splits artifacts into elements. Elements are returned
// parents first, in artifact order.
type Preprocessor interface {
	Preprocess(ctx context.Context, artifacts []knowledge.Artifact) ([]*knowledge.Element, error)
}

// ChildID names the n-th child of the element with id parent.
func ChildID(parent string, n int) string {
	return fmt.Sprintf("%s$%d", parent, n)
}

// NewPreprocessor builds the preprocessor named by cfg: artifact,
// sentence or chunk (args chunk_size, chunk_overlap).
func NewPreprocessor(cfg config.ModuleConfig) (Preprocessor, error) {
	switch cfg.Name {
	case "artifact":
		return ArtifactPreprocessor{}, nil
	case "sentence":
		return SentencePreprocessor{}, nil
	case "chunk":
		size, err := cfg.Int("chunk_size", 512)
		if err != nil {
			return nil, err
		}
		overlap, err := cfg.Int("chunk_overlap", 0)
		if err != nil {
			return nil, err
		}
		return NewChunkPreprocessor(size, overlap)
	default:
		return nil, fmt.Errorf("%w: unknown preprocessor %q", ErrInvalidConfig, cfg.Name)
	}
}

// ArtifactPreprocessor maps each artifact to one compare-eligible element
// with the artifact's id.
type ArtifactPreprocessor struct{}

func (ArtifactPreprocessor) Preprocess(_ context.Context, artifacts []knowledge.Artifact) ([]*knowledge.Element, error) {
	out := make([]*knowledge.Element, len(artifacts))
	for i, a := range artifacts {
		out[i] = knowledge.NewElement(a.ID, a.Type, a.Content, 0, nil, true)
	}
	return out, nil
}

// sentenceEnd matches the whitespace following terminal punctuation.
var sentenceEnd = regexp.MustCompile(`([.!?])\s+`)

// SplitSentences splits text after ., ! or ? followed by whitespace and on
// blank lines. Empty pieces are dropped.
func SplitSentences(text string) []string {
	var out []string
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		marked := sentenceEnd.ReplaceAllString(para, "$1\x00")
		for _, s := range strings.Split(marked, "\x00") {
			if s = strings.Join(strings.Fields(s), " "); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// SentencePreprocessor emits a non-compare root per artifact followed by
// one compare-eligible child per sentence.
type SentencePreprocessor struct{}

func (SentencePreprocessor) Preprocess(_ context.Context, artifacts []knowledge.Artifact) ([]*knowledge.Element, error) {
	var out []*knowledge.Element
	for _, a := range artifacts {
		out = append(out, splitInto(a, SplitSentences(a.Content))...)
	}
	return out, nil
}

// ChunkPreprocessor splits artifacts into overlapping character chunks
// with a recursive character splitter.
type ChunkPreprocessor struct {
	splitter textsplitter.RecursiveCharacter
}

// NewChunkPreprocessor creates a chunking preprocessor.
func NewChunkPreprocessor(size, overlap int) (*ChunkPreprocessor, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk_size %d and chunk_overlap %d", ErrInvalidConfig, size, overlap)
	}
	return &ChunkPreprocessor{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		),
	}, nil
}

func (p *ChunkPreprocessor) Preprocess(ctx context.Context, artifacts []knowledge.Artifact) ([]*knowledge.Element, error) {
	var out []*knowledge.Element
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunks, err := p.splitter.SplitText(a.Content)
		if err != nil {
			return nil, fmt.Errorf("split %s: %w", a.ID, err)
		}
		out = append(out, splitInto(a, chunks)...)
	}
	return out, nil
}

func splitInto(a knowledge.Artifact, parts []string) []*knowledge.Element {
	root := knowledge.NewElement(a.ID, a.Type, a.Content, 0, nil, false)
	out := make([]*knowledge.Element, 0, len(parts)+1)
	out = append(out, root)
	for n, part := range parts {
		out = append(out, knowledge.NewElement(ChildID(a.ID, n), a.Type, part, 1, root, true))
	}
	return out
}
