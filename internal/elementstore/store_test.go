package elementstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/ratlr/internal/config"
	"github.com/fyrsmithlabs/ratlr/internal/knowledge"
	"github.com/fyrsmithlabs/ratlr/internal/retrieval"
)

func el(id string, parent *knowledge.Element, compare bool) *knowledge.Element {
	granularity := 0
	if parent != nil {
		granularity = parent.Granularity() + 1
	}
	return knowledge.NewElement(id, "requirement", "content of "+id, granularity, parent, compare)
}

func tenElements() ([]*knowledge.Element, []knowledge.Embedding) {
	elements := make([]*knowledge.Element, 10)
	embeddings := make([]knowledge.Embedding, 10)
	for i := range elements {
		elements[i] = el(fmt.Sprintf("e%d", i+1), nil, true)
		embeddings[i] = knowledge.Embedding{float32(i), 1}
	}
	return elements, embeddings
}

func ids(elements []*knowledge.Element) []string {
	out := make([]string, len(elements))
	for i, e := range elements {
		out[i] = e.ID()
	}
	return out
}

func entryIDs(entries []knowledge.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Element.ID()
	}
	return out
}

func TestSetup_Twice(t *testing.T) {
	s := NewSourceStore(nil)
	elements, embeddings := tenElements()

	require.NoError(t, s.Setup(elements, embeddings))
	err := s.Setup(elements, embeddings)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 10, s.Size())
}

func TestSetup_LengthMismatch(t *testing.T) {
	s := NewSourceStore(nil)
	elements, embeddings := tenElements()

	err := s.Setup(elements, embeddings[:9])
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.False(t, s.IsSetUp())
	assert.Zero(t, s.Size())

	// A failed setup leaves the store usable.
	require.NoError(t, s.Setup(elements, embeddings))
}

func TestSetup_RejectsDuplicatesAndNil(t *testing.T) {
	s := NewSourceStore(nil)
	a := el("a", nil, true)

	err := s.Setup([]*knowledge.Element{a, a}, []knowledge.Embedding{{1}, {2}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	err = s.Setup([]*knowledge.Element{a, nil}, []knowledge.Embedding{{1}, {2}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.False(t, s.IsSetUp())
	_, ok := s.GetByID("a")
	assert.False(t, ok)
}

func TestSetup_Concurrent(t *testing.T) {
	s := NewSourceStore(nil)
	elements, embeddings := tenElements()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Setup(elements, embeddings)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrInvalidState)
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestGetByID_ReturnsCopy(t *testing.T) {
	s := NewSourceStore(nil)
	input := knowledge.Embedding{1, 2, 3}
	require.NoError(t, s.Setup([]*knowledge.Element{el("a", nil, true)}, []knowledge.Embedding{input}))

	// Mutating the setup input does not reach the store.
	input[0] = 99

	first, ok := s.GetByID("a")
	require.True(t, ok)
	assert.Equal(t, knowledge.Embedding{1, 2, 3}, first.Embedding)

	first.Embedding[1] = 42

	second, ok := s.GetByID("a")
	require.True(t, ok)
	assert.Equal(t, knowledge.Embedding{1, 2, 3}, second.Embedding)
	assert.NotSame(t, &first.Embedding[0], &second.Embedding[0])

	_, ok = s.GetByID("missing")
	assert.False(t, ok)
}

func TestGetElementsByParentID(t *testing.T) {
	doc1 := el("doc1", nil, false)
	doc2 := el("doc2", nil, false)
	s1 := el("doc1$0", doc1, true)
	s2 := el("doc2$0", doc2, true)
	s3 := el("doc1$1", doc1, true)
	elements := []*knowledge.Element{doc1, s1, doc2, s2, s3}
	embeddings := []knowledge.Embedding{{1}, {2}, {3}, {4}, {5}}

	s := NewSourceStore(nil)
	require.NoError(t, s.Setup(elements, embeddings))

	children := s.GetElementsByParentID("doc1")
	assert.Equal(t, []string{"doc1$0", "doc1$1"}, entryIDs(children))
	assert.Equal(t, knowledge.Embedding{2}, children[0].Embedding)

	// Roots have an empty parent id but are never returned.
	assert.Empty(t, s.GetElementsByParentID(""))
	assert.Empty(t, s.GetElementsByParentID("doc3"))
}

func TestSourceStore_Enumeration(t *testing.T) {
	root := el("doc", nil, false)
	child := el("doc$0", root, true)
	s := NewSourceStore(nil)
	require.NoError(t, s.Setup([]*knowledge.Element{root, child}, []knowledge.Embedding{{1}, {2}}))

	assert.Equal(t, []string{"doc", "doc$0"}, ids(s.GetAllElements()))
	assert.Equal(t, []string{"doc$0"}, entryIDs(s.GetAllEntries(true)))
	assert.Equal(t, []string{"doc", "doc$0"}, entryIDs(s.GetAllEntries(false)))

	entries := s.GetAllEntries(false)
	entries[0].Embedding[0] = 7
	again, _ := s.GetByID("doc")
	assert.Equal(t, knowledge.Embedding{1}, again.Embedding)
}

func TestReduceSourceElementStore(t *testing.T) {
	s := NewSourceStore(nil)
	elements, embeddings := tenElements()
	require.NoError(t, s.Setup(elements, embeddings))

	three := s.ReduceSourceElementStore(3)
	assert.Equal(t, []string{"e1", "e2", "e3"}, ids(three.GetAllElements()))

	all := s.ReduceSourceElementStore(100)
	assert.Equal(t, ids(s.GetAllElements()), ids(all.GetAllElements()))
	assert.Equal(t, 10, all.Size())

	none := s.ReduceSourceElementStore(-1)
	assert.Zero(t, none.Size())
	assert.True(t, none.IsSetUp())

	// The reduced store is independent and already set up.
	assert.ErrorIs(t, three.Setup(elements, embeddings), ErrInvalidState)
	assert.Equal(t, 10, s.Size())
}

func TestNewSourceStoreFromConfig_WarnsOnStrategy(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)

	NewSourceStoreFromConfig(config.NewModuleConfig(config.CustomStoreName, nil), logger)
	assert.Zero(t, logs.Len())

	s := NewSourceStoreFromConfig(config.NewModuleConfig("cosine_similarity", nil), logger)
	require.NotNil(t, s)
	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "source store configured with a retrieval strategy")
}

func mustCosine(t *testing.T, k int) retrieval.Strategy {
	t.Helper()
	s, err := retrieval.NewCosineStrategy(k)
	require.NoError(t, err)
	return s
}

func TestNewTargetStore_RequiresStrategy(t *testing.T) {
	_, err := NewTargetStore(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewTargetStoreFromConfig(t *testing.T) {
	ts, err := NewTargetStoreFromConfig(config.NewModuleConfig("cosine_similarity", map[string]any{"max_results": 4}), nil)
	require.NoError(t, err)
	assert.Equal(t, "cosine_similarity", ts.Strategy().Name())

	_, err = NewTargetStoreFromConfig(config.NewModuleConfig(config.CustomStoreName, nil), nil)
	assert.ErrorIs(t, err, retrieval.ErrNoStrategy)
}

func TestFindSimilarWithDistances_OnlyCompareEligible(t *testing.T) {
	root := el("doc", nil, false)
	near := el("doc$0", root, true)
	far := el("doc$1", root, true)
	ts, err := NewTargetStore(mustCosine(t, retrieval.Unlimited), nil)
	require.NoError(t, err)
	require.NoError(t, ts.Setup(
		[]*knowledge.Element{root, near, far},
		[]knowledge.Embedding{{1, 0}, {1, 0.1}, {0, 1}},
	))

	query := knowledge.Entry{Element: el("q", nil, true), Embedding: knowledge.Embedding{1, 0}}
	results, err := ts.FindSimilarWithDistances(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Element.Compare())
	}
	assert.Equal(t, "doc$0", results[0].Element.ID())

	similar, err := ts.FindSimilar(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc$0", "doc$1"}, ids(similar))
}

// leakyStrategy ignores the pool and returns a fixed element.
type leakyStrategy struct{ leak *knowledge.Element }

func (l leakyStrategy) Name() string { return "leaky" }

func (l leakyStrategy) FindSimilarElements(_ context.Context, _ knowledge.Entry, pool []knowledge.Entry) ([]retrieval.ScoredElement, error) {
	out := []retrieval.ScoredElement{{Element: l.leak, Score: 1}}
	for _, e := range pool {
		out = append(out, retrieval.ScoredElement{Element: e.Element, Score: 0.5})
	}
	return out, nil
}

func TestFindSimilarWithDistances_FiltersMisbehavingStrategy(t *testing.T) {
	hidden := el("hidden", nil, false)
	visible := el("visible", nil, true)
	ts, err := NewTargetStore(leakyStrategy{leak: hidden}, nil)
	require.NoError(t, err)
	require.NoError(t, ts.Setup([]*knowledge.Element{hidden, visible}, []knowledge.Embedding{{1}, {1}}))

	results, err := ts.FindSimilarWithDistances(context.Background(), knowledge.Entry{Element: el("q", nil, true), Embedding: knowledge.Embedding{1}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "visible", results[0].Element.ID())
}

// memoStrategy returns the same result slice on every call.
type memoStrategy struct{ results []retrieval.ScoredElement }

func (m memoStrategy) Name() string { return "memo" }

func (m memoStrategy) FindSimilarElements(context.Context, knowledge.Entry, []knowledge.Entry) ([]retrieval.ScoredElement, error) {
	return m.results, nil
}

func TestFindSimilarWithDistances_LeavesStrategyResultsIntact(t *testing.T) {
	hidden := el("hidden", nil, false)
	visible := el("visible", nil, true)
	memo := memoStrategy{results: []retrieval.ScoredElement{{Element: hidden, Score: 1}, {Element: visible, Score: 0.5}}}
	ts, err := NewTargetStore(memo, nil)
	require.NoError(t, err)
	require.NoError(t, ts.Setup([]*knowledge.Element{hidden, visible}, []knowledge.Embedding{{1}, {1}}))

	query := knowledge.Entry{Element: el("q", nil, true), Embedding: knowledge.Embedding{1}}
	for i := 0; i < 2; i++ {
		results, err := ts.FindSimilarWithDistances(context.Background(), query)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "visible", results[0].Element.ID())
	}
	assert.Equal(t, "hidden", memo.results[0].Element.ID())
	assert.Equal(t, "visible", memo.results[1].Element.ID())
}

func TestFindSimilar_NotSetUp(t *testing.T) {
	ts, err := NewTargetStore(mustCosine(t, 2), nil)
	require.NoError(t, err)

	_, err = ts.FindSimilar(context.Background(), knowledge.Entry{Element: el("q", nil, true), Embedding: knowledge.Embedding{1}})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestReduceTargetElementStore_PreservesDuplicates(t *testing.T) {
	targets := []*knowledge.Element{el("t1", nil, true), el("t2", nil, true), el("t3", nil, true), el("t4", nil, true)}
	ts, err := NewTargetStore(mustCosine(t, 2), nil)
	require.NoError(t, err)
	require.NoError(t, ts.Setup(targets, []knowledge.Embedding{{1, 0}, {0.9, 0.1}, {0.1, 0.9}, {0, 1}}))

	sourceRoot := el("src", nil, false)
	sources := []*knowledge.Element{sourceRoot, el("s1", sourceRoot, true), el("s2", sourceRoot, true), el("s3", sourceRoot, true)}
	ss := NewSourceStore(nil)
	require.NoError(t, ss.Setup(sources, []knowledge.Embedding{{0.5, 0.5}, {1, 0}, {1, 0.05}, {0, 1}}))

	ctx := context.Background()
	expected := 0
	for _, q := range ss.GetAllEntries(true) {
		similar, err := ts.FindSimilar(ctx, q)
		require.NoError(t, err)
		expected += len(similar)
	}

	reduced, err := ts.ReduceTargetElementStore(ctx, ss)
	require.NoError(t, err)
	assert.Equal(t, expected, reduced.Size())
	assert.Equal(t, 6, reduced.Size())
	assert.Same(t, ts.Strategy(), reduced.Strategy())

	// s1 and s2 both retrieve t1 and t2, so those appear twice.
	for _, e := range reduced.allEntries(false) {
		got, ok := reduced.GetByID(e.Element.ID())
		require.True(t, ok)
		assert.Equal(t, e.Element, got.Element)
	}
	assert.Equal(t, []string{"t1", "t2", "t1", "t2", "t4", "t3"}, entryIDs(reduced.allEntries(false)))
}

func TestReduceTargetElementStore_EmptySource(t *testing.T) {
	ts, err := NewTargetStore(mustCosine(t, 2), nil)
	require.NoError(t, err)
	require.NoError(t, ts.Setup([]*knowledge.Element{el("t1", nil, true)}, []knowledge.Embedding{{1}}))

	ss := NewSourceStore(nil)
	require.NoError(t, ss.Setup(nil, nil))

	reduced, err := ts.ReduceTargetElementStore(context.Background(), ss)
	require.NoError(t, err)
	assert.Zero(t, reduced.Size())
}
