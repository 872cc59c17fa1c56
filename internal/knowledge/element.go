// Package knowledge defines the value types shared by every stage of trace
// link recovery: artifacts, elements, embeddings and trace links.
package knowledge

// Artifact is a raw corpus file as delivered by an artifact provider.
type Artifact struct {
	ID      string
	Type    string
	Content string
}

// Element is the atomic unit of a source or target corpus.
//
// Elements form a tree (document -> section -> fragment) through a weak
// parent reference. Only compare-eligible elements enter classification.
// An Element is immutable after construction.
type Element struct {
	id          string
	typ         string
	content     string
	granularity int
	parent      *Element
	compare     bool
}

// NewElement creates an element. parent may be nil for root elements.
func NewElement(id, typ, content string, granularity int, parent *Element, compare bool) *Element {
	return &Element{
		id:          id,
		typ:         typ,
		content:     content,
		granularity: granularity,
		parent:      parent,
		compare:     compare,
	}
}

// ID returns the globally unique identifier.
func (e *Element) ID() string { return e.id }

// Type returns the artifact type the element was derived from.
func (e *Element) Type() string { return e.typ }

// Content returns the element text.
func (e *Element) Content() string { return e.content }

// Granularity returns the depth level (0 for whole artifacts).
func (e *Element) Granularity() int { return e.granularity }

// Parent returns the parent element, or nil for roots.
func (e *Element) Parent() *Element { return e.parent }

// Compare reports whether the element takes part in classification.
func (e *Element) Compare() bool { return e.compare }

// ParentID returns the parent identifier, or "" for roots.
func (e *Element) ParentID() string {
	if e.parent == nil {
		return ""
	}
	return e.parent.id
}

// Root walks up the parent chain and returns the top-level ancestor.
func (e *Element) Root() *Element {
	cur := e
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// Ancestor returns the closest element on the parent chain (self included)
// whose granularity equals the given level. It returns nil when no such
// element exists.
func (e *Element) Ancestor(granularity int) *Element {
	for cur := e; cur != nil; cur = cur.parent {
		if cur.granularity == granularity {
			return cur
		}
	}
	return nil
}

func (e *Element) String() string {
	return e.id
}
