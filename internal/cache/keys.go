package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// keyNamespace scopes local keys so they never collide with other
// name-based UUIDs derived from the same text.
var keyNamespace = uuid.MustParse("6f1c7f0e-3d52-5b8e-9a61-2b0d5c7e4a19")

// Key identifies one cached value.
//
// CanonicalKey is the JSON form of the semantic fields and addresses the
// backend; a key that cannot be encoded is rejected before any work runs.
// LocalKey is a fixed-size fingerprint of the same inputs for labels and
// pre-indexing.
type Key interface {
	CanonicalKey() (string, error)
	LocalKey() string
}

// ScorerKey addresses the raw reply of a scoring oracle to a prompt and
// content pair. Model scopes the key so switching models never reuses
// another model's replies.
type ScorerKey struct {
	Model   string `json:"model,omitempty"`
	Prompt  string `json:"prompt"`
	Content string `json:"content"`
}

// NewScorerKey builds the key for content scored under prompt.
func NewScorerKey(prompt, content string) ScorerKey {
	return ScorerKey{Prompt: prompt, Content: content}
}

// ForModel returns a copy of k scoped to model.
func (k ScorerKey) ForModel(model string) ScorerKey {
	k.Model = model
	return k
}

func (k ScorerKey) CanonicalKey() (string, error) { return canonical(k) }

func (k ScorerKey) LocalKey() string {
	return fingerprint("scorer", k.Model, k.Prompt, k.Content)
}

// EmbeddingKey addresses the embedding of content under a model.
type EmbeddingKey struct {
	Model   string `json:"model"`
	Content string `json:"content"`
}

func (k EmbeddingKey) CanonicalKey() (string, error) { return canonical(k) }

func (k EmbeddingKey) LocalKey() string {
	return fingerprint("embedding", k.Model, k.Content)
}

func canonical(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %T: %w", ErrSerialization, v, err)
	}
	return string(b), nil
}

// fingerprint length-prefixes every part so distinct inputs never share a
// name.
func fingerprint(kind string, parts ...string) string {
	var b strings.Builder
	b.WriteString(kind)
	for _, p := range parts {
		b.WriteByte(0)
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
	}
	return uuid.NewSHA1(keyNamespace, []byte(b.String())).String()
}
