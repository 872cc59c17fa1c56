package classifier

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/ratlr/internal/elementstore"
	"github.com/fyrsmithlabs/ratlr/internal/knowledge"
)

// ClassificationTask is one candidate pair awaiting (or carrying) a label.
type ClassificationTask struct {
	Source *knowledge.Element
	Target *knowledge.Element
	Label  bool
}

// Compare orders tasks by source id, then target id, then label with
// false before true.
func (t ClassificationTask) Compare(other ClassificationTask) int {
	if c := strings.Compare(t.Source.ID(), other.Source.ID()); c != 0 {
		return c
	}
	if c := strings.Compare(t.Target.ID(), other.Target.ID()); c != 0 {
		return c
	}
	switch {
	case t.Label == other.Label:
		return 0
	case !t.Label:
		return -1
	default:
		return 1
	}
}

// Less reports whether t sorts before other.
func (t ClassificationTask) Less(other ClassificationTask) bool {
	return t.Compare(other) < 0
}

func (t ClassificationTask) String() string {
	return fmt.Sprintf("ClassificationTask{source=%s, target=%s, label=%t}", t.Source.ID(), t.Target.ID(), t.Label)
}

// SortTasks sorts tasks in place.
func SortTasks(tasks []ClassificationTask) {
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Less(tasks[j]) })
}

// BuildTasks pairs every compare-eligible source element with the
// candidates the target store retrieves for it. The result is sorted and
// holds each (source, target) pair once, so the oracle never sees the same
// pair twice in a run.
func BuildTasks(ctx context.Context, source *elementstore.SourceStore, target *elementstore.TargetStore) ([]ClassificationTask, error) {
	var tasks []ClassificationTask
	for _, query := range source.GetAllEntries(true) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		candidates, err := target.FindSimilar(ctx, query)
		if err != nil {
			return nil, err
		}
		for _, c := range candidates {
			tasks = append(tasks, ClassificationTask{Source: query.Element, Target: c})
		}
	}

	SortTasks(tasks)
	out := tasks[:0]
	for i, t := range tasks {
		if i > 0 && t.Source.ID() == tasks[i-1].Source.ID() && t.Target.ID() == tasks[i-1].Target.ID() {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}
