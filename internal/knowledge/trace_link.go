package knowledge

import (
	"sort"
	"strings"
)

// TraceLink is an accepted relationship between a source and a target.
type TraceLink struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
}

// NewTraceLink creates a trace link.
func NewTraceLink(sourceID, targetID string) TraceLink {
	return TraceLink{SourceID: sourceID, TargetID: targetID}
}

// Compare orders links by source id, then target id.
func (l TraceLink) Compare(other TraceLink) int {
	if c := strings.Compare(l.SourceID, other.SourceID); c != 0 {
		return c
	}
	return strings.Compare(l.TargetID, other.TargetID)
}

// Less reports whether l sorts before other.
func (l TraceLink) Less(other TraceLink) bool {
	return l.Compare(other) < 0
}

// TraceLinkSet is a deduplicating collection of trace links whose
// iteration order is always the sorted order.
type TraceLinkSet struct {
	links map[TraceLink]struct{}
}

// NewTraceLinkSet creates a set holding the given links.
func NewTraceLinkSet(links ...TraceLink) *TraceLinkSet {
	s := &TraceLinkSet{links: make(map[TraceLink]struct{}, len(links))}
	for _, l := range links {
		s.Add(l)
	}
	return s
}

// Add inserts a link and reports whether it was new.
func (s *TraceLinkSet) Add(link TraceLink) bool {
	if s.links == nil {
		s.links = make(map[TraceLink]struct{})
	}
	if _, ok := s.links[link]; ok {
		return false
	}
	s.links[link] = struct{}{}
	return true
}

// Contains reports whether the link is present.
func (s *TraceLinkSet) Contains(link TraceLink) bool {
	_, ok := s.links[link]
	return ok
}

// Len returns the number of distinct links.
func (s *TraceLinkSet) Len() int {
	return len(s.links)
}

// Union adds every link of other to s.
func (s *TraceLinkSet) Union(other *TraceLinkSet) {
	if other == nil {
		return
	}
	for l := range other.links {
		s.Add(l)
	}
}

// Sorted returns the links ordered by (source, target).
func (s *TraceLinkSet) Sorted() []TraceLink {
	out := make([]TraceLink, 0, len(s.links))
	for l := range s.links {
		out = append(out, l)
	}
	SortTraceLinks(out)
	return out
}

// SortTraceLinks sorts links in place by (source, target).
func SortTraceLinks(links []TraceLink) {
	sort.Slice(links, func(i, j int) bool {
		return links[i].Less(links[j])
	})
}
