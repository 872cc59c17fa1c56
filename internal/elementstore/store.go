// Package elementstore holds elements with their embeddings in two roles:
// an enumerable source store and a searchable target store that only
// exposes similarity-scoped queries.
//
// Both roles share one unexported core. A store is populated exactly once
// and is read-only afterwards, so queries need no locking.
package elementstore

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/fyrsmithlabs/ratlr/internal/knowledge"
)

var (
	// ErrInvalidState is returned when a store is set up twice.
	ErrInvalidState = errors.New("element store is already set up")

	// ErrInvalidArgument is returned for malformed setup input.
	ErrInvalidArgument = errors.New("invalid element store argument")
)

// contents is published atomically once setup succeeds.
type contents struct {
	byID    map[string]knowledge.Entry
	entries []knowledge.Entry
}

// store is the shared core of SourceStore and TargetStore.
type store struct {
	data atomic.Pointer[contents]
}

// Setup populates the store. It fails with ErrInvalidState if the store is
// already set up and with ErrInvalidArgument if the slices differ in
// length, contain a nil element or repeat an id. Nothing is published on
// failure. Embeddings are copied on the way in.
func (s *store) Setup(elements []*knowledge.Element, embeddings []knowledge.Embedding) error {
	if s.data.Load() != nil {
		return ErrInvalidState
	}
	if len(elements) != len(embeddings) {
		return fmt.Errorf("%w: %d elements but %d embeddings", ErrInvalidArgument, len(elements), len(embeddings))
	}

	entries := make([]knowledge.Entry, len(elements))
	for i, el := range elements {
		if el == nil {
			return fmt.Errorf("%w: element %d is nil", ErrInvalidArgument, i)
		}
		entries[i] = knowledge.Entry{Element: el, Embedding: embeddings[i].Clone()}
	}

	return s.publish(entries, false)
}

// publish builds the index and swaps it in. allowRepeats admits the same
// id more than once; the index then resolves to the first occurrence.
func (s *store) publish(entries []knowledge.Entry, allowRepeats bool) error {
	c := &contents{
		byID:    make(map[string]knowledge.Entry, len(entries)),
		entries: entries,
	}
	for _, e := range entries {
		id := e.Element.ID()
		if _, dup := c.byID[id]; dup {
			if !allowRepeats {
				return fmt.Errorf("%w: duplicate element id %q", ErrInvalidArgument, id)
			}
			continue
		}
		c.byID[id] = e
	}

	if !s.data.CompareAndSwap(nil, c) {
		return ErrInvalidState
	}
	return nil
}

// IsSetUp reports whether Setup has succeeded.
func (s *store) IsSetUp() bool {
	return s.data.Load() != nil
}

// GetByID returns the entry with a copied embedding.
func (s *store) GetByID(id string) (knowledge.Entry, bool) {
	c := s.data.Load()
	if c == nil {
		return knowledge.Entry{}, false
	}
	e, ok := c.byID[id]
	if !ok {
		return knowledge.Entry{}, false
	}
	return e.Clone(), true
}

// GetElementsByParentID returns the entries whose parent has the given id,
// in insertion order. Roots never match. This is a linear scan.
func (s *store) GetElementsByParentID(parentID string) []knowledge.Entry {
	c := s.data.Load()
	if c == nil {
		return nil
	}
	var out []knowledge.Entry
	for _, e := range c.entries {
		if e.Element.Parent() != nil && e.Element.ParentID() == parentID {
			out = append(out, e.Clone())
		}
	}
	return out
}

// Size returns the number of entries, repeats included.
func (s *store) Size() int {
	c := s.data.Load()
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// allEntries returns entries in insertion order without copying
// embeddings. Only the role types call it; they decide what to expose.
func (s *store) allEntries(onlyCompare bool) []knowledge.Entry {
	c := s.data.Load()
	if c == nil {
		return nil
	}
	if !onlyCompare {
		return c.entries
	}
	out := make([]knowledge.Entry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.Element.Compare() {
			out = append(out, e)
		}
	}
	return out
}

func cloneEntries(entries []knowledge.Entry) []knowledge.Entry {
	out := make([]knowledge.Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}
