package knowledge

import (
	"math"
	"sort"

	"likeness/internal/model"
)

// MaintenanceReport counts the structural changes of one maintenance pass.
type MaintenanceReport struct {
	Splits int
	Merges int
	Prunes int
}

func (r MaintenanceReport) Changed() bool {
	return r.Splits+r.Merges+r.Prunes > 0
}

// Maintain runs one split/merge/prune pass. It is invoked automatically
// every MaintainEvery outcomes and may be called directly (e.g. on session
// stop). Repeated passes over a bounded-variance outcome stream terminate:
// splits need fresh use counts that merging resets, and depth is bounded by
// the closed context key set.
func (t *Tree) Maintain() MaintenanceReport {
	t.recordsSinceMaintain = 0
	report := MaintenanceReport{}
	report.Splits = t.splitPass()
	report.Merges = t.mergePass()
	report.Prunes = t.prunePass()
	return report
}

// splitPass splits high-variance, well-used leaves on the context dimension
// with the highest between-group variance contribution.
func (t *Tree) splitPass() int {
	splits := 0
	for _, id := range t.liveIDsPreorder() {
		n := t.nodes[id]
		if len(n.children) > 0 {
			continue
		}
		if n.uses < t.cfg.SplitMinUses || n.outcome.variance() <= t.cfg.SplitVariance {
			continue
		}
		key, groups := t.bestSplitKey(id)
		if key == "" {
			continue
		}
		low, high := partitionByMean(groups)
		if len(low) == 0 || len(high) == 0 {
			continue
		}
		t.splitNode(id, key, low, high)
		splits++
	}
	return splits
}

// bestSplitKey picks the context key whose value groups explain the most
// outcome variance, skipping keys already used on the path to the node.
func (t *Tree) bestSplitKey(id int) (string, map[string]*groupStat) {
	used := make(map[string]struct{})
	for cur := id; cur != t.root; cur = t.nodes[cur].parent {
		used[t.nodes[cur].pred.key] = struct{}{}
	}

	bestKey := ""
	bestScore := 0.0
	var bestGroups map[string]*groupStat
	for _, key := range model.ContextKeys() {
		if _, taken := used[key]; taken {
			continue
		}
		groups := t.nodes[id].keyStats[key]
		if len(groups) < 2 {
			continue
		}
		score := betweenGroupVariance(groups)
		if score > bestScore {
			bestKey = key
			bestScore = score
			bestGroups = groups
		}
	}
	return bestKey, bestGroups
}

// betweenGroupVariance measures how much the per-value group means differ,
// weighted by group size.
func betweenGroupVariance(groups map[string]*groupStat) float64 {
	total := 0
	grand := 0.0
	for _, g := range groups {
		total += g.stat.n
		grand += g.stat.mean * float64(g.stat.n)
	}
	if total == 0 {
		return 0
	}
	grand /= float64(total)
	out := 0.0
	for _, g := range groups {
		d := g.stat.mean - grand
		out += float64(g.stat.n) * d * d
	}
	return out / float64(total)
}

// partitionByMean orders values by group mean outcome and cuts at the
// largest gap, yielding two disjoint predicate value sets.
func partitionByMean(groups map[string]*groupStat) (low, high []string) {
	type entry struct {
		value string
		mean  float64
	}
	entries := make([]entry, 0, len(groups))
	for v, g := range groups {
		entries = append(entries, entry{value: v, mean: g.stat.mean})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].mean != entries[j].mean {
			return entries[i].mean < entries[j].mean
		}
		return entries[i].value < entries[j].value
	})

	cut := 1
	bestGap := -1.0
	for i := 1; i < len(entries); i++ {
		gap := entries[i].mean - entries[i-1].mean
		if gap > bestGap {
			bestGap = gap
			cut = i
		}
	}
	for i, e := range entries {
		if i < cut {
			low = append(low, e.value)
		} else {
			high = append(high, e.value)
		}
	}
	return low, high
}

func (t *Tree) splitNode(id int, key string, low, high []string) {
	parent := t.nodes[id]

	mk := func(values []string) int {
		set := make(map[string]struct{}, len(values))
		for _, v := range values {
			set[v] = struct{}{}
		}
		uses, successes := t.groupTotals(id, key, values)
		child := t.alloc(id, predicate{key: key, values: set})
		c := &t.nodes[child]
		c.delta = parent.delta.Clone()
		c.uses = uses
		c.successes = successes
		// Outcome stats start empty: a merge back requires fresh evidence
		// gathered under the new predicate, not inherited variance.
		c.outcome = runStat{}
		c.lastUsed = parent.lastUsed
		return child
	}

	lowID := mk(low)
	highID := mk(high)
	n := &t.nodes[id]
	n.children = append(n.children, lowID, highID)
	// The node is internal now; its per-key stats belong to the children's
	// future evidence, not to further split decisions here.
	n.keyStats = make(map[string]map[string]*groupStat)
}

func (t *Tree) groupTotals(id int, key string, values []string) (uses, successes int) {
	groups := t.nodes[id].keyStats[key]
	for _, v := range values {
		if g, ok := groups[v]; ok {
			uses += g.stat.n
			successes += g.successes
		}
	}
	return uses, successes
}

// mergePass folds pairs of similar, settled sibling leaves back into their
// parent, deleting the children.
func (t *Tree) mergePass() int {
	merges := 0
	for _, id := range t.liveIDsPreorder() {
		if !t.nodes[id].live {
			continue // removed by an earlier merge this pass
		}
		children := t.liveChildren(id)
		if len(children) != 2 {
			continue
		}
		a, b := &t.nodes[children[0]], &t.nodes[children[1]]
		if len(a.children) > 0 || len(b.children) > 0 {
			continue
		}
		if a.outcome.n < 2 || b.outcome.n < 2 {
			continue
		}
		if a.outcome.variance() > t.cfg.MergeVariance || b.outcome.variance() > t.cfg.MergeVariance {
			continue
		}
		if meanAbsDiff(a.delta, b.delta) > t.cfg.MergeDeltaDistance {
			continue
		}
		t.mergeChildren(id, children[0], children[1])
		merges++
	}
	return merges
}

func (t *Tree) liveChildren(id int) []int {
	out := make([]int, 0, len(t.nodes[id].children))
	for _, child := range t.nodes[id].children {
		if t.nodes[child].live {
			out = append(out, child)
		}
	}
	return out
}

func meanAbsDiff(a, b model.ParameterVector) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return math.Inf(1)
	}
	sum := 0.0
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return sum / float64(len(a))
}

func (t *Tree) mergeChildren(parentID, aID, bID int) {
	a, b := t.nodes[aID], t.nodes[bID]
	p := &t.nodes[parentID]

	wa, wb := float64(a.uses), float64(b.uses)
	if wa+wb == 0 {
		wa, wb = 1, 1
	}
	for i := range p.delta {
		p.delta[i] = (a.delta[i]*wa + b.delta[i]*wb) / (wa + wb)
	}
	p.uses = a.uses + b.uses
	p.successes = a.successes + b.successes
	p.outcome = combineStats(a.outcome, b.outcome)
	if b.lastUsed.After(a.lastUsed) {
		p.lastUsed = b.lastUsed
	} else {
		p.lastUsed = a.lastUsed
	}

	p.children = nil
	t.release(aID)
	t.release(bID)
}

// combineStats merges two Welford accumulators (Chan et al. parallel form).
func combineStats(a, b runStat) runStat {
	if a.n == 0 {
		return b
	}
	if b.n == 0 {
		return a
	}
	n := a.n + b.n
	d := b.mean - a.mean
	mean := a.mean + d*float64(b.n)/float64(n)
	m2 := a.m2 + b.m2 + d*d*float64(a.n)*float64(b.n)/float64(n)
	return runStat{n: n, mean: mean, m2: m2}
}

// prunePass removes stale, low-confidence leaves. The parent absorbs the
// pruned delta so the knowledge is averaged in rather than silently lost.
func (t *Tree) prunePass() int {
	cutoff := t.now().Add(-t.cfg.PruneAfter)
	prunes := 0
	for _, id := range t.liveIDsPreorder() {
		n := t.nodes[id]
		if !n.live || id == t.root || len(n.children) > 0 {
			continue
		}
		if n.lastUsed.After(cutoff) || n.confidence() >= t.cfg.PruneConfidence {
			continue
		}
		parentID := n.parent
		p := &t.nodes[parentID]
		if n.uses > 0 {
			for i := range p.delta {
				p.delta[i] = (p.delta[i] + n.delta[i]) / 2
			}
		}
		p.children = removeID(p.children, id)
		t.release(id)
		prunes++
	}
	return prunes
}

func removeID(ids []int, id int) []int {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}
