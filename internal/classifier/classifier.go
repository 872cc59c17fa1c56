// Package classifier decides whether candidate pairs are trace links.
//
// A Classifier labels one ClassificationTask at a time; Pool fans tasks
// out over a bounded number of workers. Prompt-based classifiers resolve
// every oracle call through the content-addressed cache, so an interrupted
// run resumes without paying for completed pairs again.
package classifier

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrInvalidConfig is returned for unusable classifier configuration.
	ErrInvalidConfig = errors.New("invalid classifier configuration")

	// ErrOracle wraps failures of the scoring oracle.
	ErrOracle = errors.New("scoring oracle failed")
)

// Oracle is the expensive external scorer. prompt carries the standing
// instruction and content the pair-specific request; the reply is returned
// verbatim.
type Oracle interface {
	Score(ctx context.Context, prompt, content string) (string, error)
	// Model identifies the model and its sampling parameters. Cache keys
	// are scoped by it.
	Model() string
}

// Result is the outcome of one task.
type Result struct {
	Task   ClassificationTask
	Linked bool
	// Raw is the oracle reply, empty for classifiers without one.
	Raw string
}

// Classifier labels candidate pairs.
type Classifier interface {
	Classify(ctx context.Context, task ClassificationTask) (Result, error)
	Name() string
}

// MockClassifier links every candidate without consulting an oracle. With
// a cosine_similarity target store it reproduces plain retrieval as a
// baseline.
type MockClassifier struct{}

func (MockClassifier) Classify(ctx context.Context, task ClassificationTask) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	task.Label = true
	return Result{Task: task, Linked: true}, nil
}

func (MockClassifier) Name() string { return "mock" }

var traceTag = regexp.MustCompile(`(?is)<trace>\s*(yes|no)\s*</trace>`)

var leadingYes = regexp.MustCompile(`(?i)^[\s"'*` + "`" + `]*yes\b`)

// ParseDecision reads a yes/no verdict from an oracle reply. A
// <trace>yes</trace> tag wins (the last one, as reasoning replies may quote
// the format first); otherwise the reply must start with the word yes.
// Anything else is not a link.
func ParseDecision(reply string) bool {
	if tags := traceTag.FindAllStringSubmatch(reply, -1); len(tags) > 0 {
		return strings.EqualFold(tags[len(tags)-1][1], "yes")
	}
	return leadingYes.MatchString(reply)
}
