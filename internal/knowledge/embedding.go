package knowledge

// Embedding is a fixed-length vector representing an element's content.
//
// Embeddings are treated as immutable values. Stores hand out clones so
// callers that mutate in place never corrupt stored state.
type Embedding []float32

// Clone returns an independent copy. A nil embedding stays nil.
func (e Embedding) Clone() Embedding {
	if e == nil {
		return nil
	}
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}

// Dimension returns the vector length.
func (e Embedding) Dimension() int {
	return len(e)
}

// Entry pairs an element with its embedding.
type Entry struct {
	Element   *Element
	Embedding Embedding
}

// Clone returns the entry with a copied embedding. Elements are immutable
// and shared.
func (e Entry) Clone() Entry {
	return Entry{Element: e.Element, Embedding: e.Embedding.Clone()}
}
