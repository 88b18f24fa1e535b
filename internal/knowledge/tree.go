// Package knowledge implements the self-organizing store mapping
// demographic context paths to learned parameter deltas. Nodes live in an
// arena addressed by integer index; parent/child links are indices, so the
// tree stays cycle-free and serializes trivially.
package knowledge

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"likeness/internal/model"
	"likeness/internal/param"
)

// Config carries the empirically tuned maintenance thresholds. They are
// configuration, not structure: callers tune them per dataset.
type Config struct {
	// SplitVariance is the outcome variance above which a well-used leaf is
	// split on its most informative context dimension.
	SplitVariance float64
	// SplitMinUses is the minimum leaf use count before a split is allowed.
	SplitMinUses int
	// MergeVariance is the ceiling under which two sibling leaves qualify
	// for merging back into their parent.
	MergeVariance float64
	// MergeDeltaDistance is the maximum mean absolute difference between two
	// sibling deltas for a merge.
	MergeDeltaDistance float64
	// PruneAfter is the retention window; leaves unused longer than this and
	// below PruneConfidence are removed.
	PruneAfter      time.Duration
	PruneConfidence float64
	// MaintainEvery runs maintenance after this many recorded outcomes.
	MaintainEvery int
	// BlendRate bounds how strongly one new outcome moves a learned delta.
	BlendRate float64
	// SuccessScore is the overall score at or above which an outcome counts
	// as a success.
	SuccessScore float64
}

func DefaultConfig() Config {
	return Config{
		SplitVariance:      0.05,
		SplitMinUses:       12,
		MergeVariance:      0.02,
		MergeDeltaDistance: 0.08,
		PruneAfter:         30 * 24 * time.Hour,
		PruneConfidence:    0.25,
		MaintainEvery:      25,
		BlendRate:          0.25,
		SuccessScore:       0.5,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.SplitVariance <= 0 {
		c.SplitVariance = def.SplitVariance
	}
	if c.SplitMinUses <= 0 {
		c.SplitMinUses = def.SplitMinUses
	}
	if c.MergeVariance <= 0 {
		c.MergeVariance = def.MergeVariance
	}
	if c.MergeDeltaDistance <= 0 {
		c.MergeDeltaDistance = def.MergeDeltaDistance
	}
	if c.PruneAfter <= 0 {
		c.PruneAfter = def.PruneAfter
	}
	if c.PruneConfidence <= 0 {
		c.PruneConfidence = def.PruneConfidence
	}
	if c.MaintainEvery <= 0 {
		c.MaintainEvery = def.MaintainEvery
	}
	if c.BlendRate <= 0 || c.BlendRate > 1 {
		c.BlendRate = def.BlendRate
	}
	if c.SuccessScore <= 0 || c.SuccessScore > 1 {
		c.SuccessScore = def.SuccessScore
	}
	return c
}

// predicate tests one context key against an allowed value set.
type predicate struct {
	key    string
	values map[string]struct{}
}

func (p predicate) empty() bool {
	return p.key == ""
}

func (p predicate) matches(ctx model.TargetContext) bool {
	if p.empty() {
		return true
	}
	v, ok := ctx.Value(p.key)
	if !ok {
		return false
	}
	_, in := p.values[v]
	return in
}

func (p predicate) sortedValues() []string {
	out := make([]string, 0, len(p.values))
	for v := range p.values {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// descriptor renders the predicate as "key=v1|v2" for paths and exports.
func (p predicate) descriptor() string {
	if p.empty() {
		return ""
	}
	return p.key + "=" + strings.Join(p.sortedValues(), "|")
}

func parseDescriptor(s string) (predicate, error) {
	if s == "" {
		return predicate{}, nil
	}
	key, joined, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return predicate{}, fmt.Errorf("malformed predicate descriptor: %q", s)
	}
	values := make(map[string]struct{})
	for _, v := range strings.Split(joined, "|") {
		values[v] = struct{}{}
	}
	return predicate{key: key, values: values}, nil
}

// runStat is a Welford accumulator over outcome scores.
type runStat struct {
	n    int
	mean float64
	m2   float64
}

func (r *runStat) add(x float64) {
	r.n++
	d := x - r.mean
	r.mean += d / float64(r.n)
	r.m2 += d * (x - r.mean)
}

func (r *runStat) variance() float64 {
	if r.n < 2 {
		return 0
	}
	return r.m2 / float64(r.n-1)
}

// groupStat tracks outcomes for one context key/value group on a leaf,
// feeding split decisions and the counters of split-off children.
type groupStat struct {
	stat      runStat
	successes int
}

type node struct {
	id       int
	parent   int // -1 for root
	children []int
	pred     predicate

	delta     model.ParameterVector
	uses      int
	successes int
	outcome   runStat
	createdAt time.Time
	lastUsed  time.Time

	// Per context key/value outcome stats, kept only while the node is a
	// leaf, feeding the split dimension choice.
	keyStats map[string]map[string]*groupStat

	live bool
}

func (n *node) confidence() float64 {
	if n.uses == 0 {
		return 0
	}
	rate := float64(n.successes) / float64(n.uses)
	saturation := math.Min(1.0, float64(n.uses)/10.0)
	return rate * saturation
}

type sharedEntry struct {
	delta model.ParameterVector
	uses  int
}

// Tree is the knowledge store. It is not safe for concurrent mutation;
// callers sharing one instance across sessions must serialize writes.
type Tree struct {
	cfg   Config
	space *param.Space

	nodes []node
	free  []int
	root  int

	// shared holds demographic-only deltas keyed "key:value" for lightweight
	// consumers that do not walk the tree.
	shared map[string]*sharedEntry

	experiments          int
	recordsSinceMaintain int

	now func() time.Time
}

func NewTree(space *param.Space, cfg Config) (*Tree, error) {
	if space == nil {
		return nil, fmt.Errorf("parameter space is required")
	}
	t := &Tree{
		cfg:    cfg.normalize(),
		space:  space,
		shared: make(map[string]*sharedEntry),
		now:    time.Now,
	}
	t.root = t.alloc(-1, predicate{})
	return t, nil
}

func (t *Tree) alloc(parent int, pred predicate) int {
	n := node{
		parent:    parent,
		pred:      pred,
		delta:     make(model.ParameterVector, t.space.Dim()),
		keyStats:  make(map[string]map[string]*groupStat),
		createdAt: t.now(),
		lastUsed:  t.now(),
		live:      true,
	}
	if len(t.free) > 0 {
		id := t.free[len(t.free)-1]
		t.free = t.free[:len(t.free)-1]
		n.id = id
		t.nodes[id] = n
		return id
	}
	n.id = len(t.nodes)
	t.nodes = append(t.nodes, n)
	return n.id
}

func (t *Tree) release(id int) {
	t.nodes[id] = node{parent: -1}
	t.free = append(t.free, id)
}

// resolve descends from the root to the deepest node matching ctx. The
// terminal node of the descent is the leaf for this context path.
func (t *Tree) resolve(ctx model.TargetContext) []int {
	path := []int{t.root}
	cur := t.root
	for {
		next := -1
		for _, child := range t.nodes[cur].children {
			if t.nodes[child].live && t.nodes[child].pred.matches(ctx) {
				next = child
				break
			}
		}
		if next < 0 {
			return path
		}
		path = append(path, next)
		cur = next
	}
}

// resolveForWrite is resolve, but a context value unseen by an already-split
// node gets a fresh child so the new combination has its own leaf.
func (t *Tree) resolveForWrite(ctx model.TargetContext) []int {
	path := []int{t.root}
	cur := t.root
	for {
		n := t.nodes[cur]
		if len(n.children) == 0 {
			return path
		}
		next := -1
		for _, child := range n.children {
			if t.nodes[child].live && t.nodes[child].pred.matches(ctx) {
				next = child
				break
			}
		}
		if next < 0 {
			key := t.splitKeyOf(cur)
			if key == "" {
				return path
			}
			v, ok := ctx.Value(key)
			if !ok {
				return path
			}
			next = t.alloc(cur, predicate{key: key, values: map[string]struct{}{v: {}}})
			t.nodes[next].delta = n.delta.Clone()
			t.nodes[cur].children = append(t.nodes[cur].children, next)
		}
		path = append(path, next)
		cur = next
	}
}

// splitKeyOf is the context key this node's children discriminate on.
func (t *Tree) splitKeyOf(id int) string {
	for _, child := range t.nodes[id].children {
		if t.nodes[child].live {
			return t.nodes[child].pred.key
		}
	}
	return ""
}

// GetStartingDelta walks the context path and accumulates learned deltas
// into one additive starting bias, clamped per axis. An empty tree returns
// the zero vector.
func (t *Tree) GetStartingDelta(ctx model.TargetContext) model.ParameterVector {
	sum := make(model.ParameterVector, t.space.Dim())
	for _, id := range t.resolve(ctx) {
		n := t.nodes[id]
		if n.uses == 0 {
			continue
		}
		w := n.confidence()
		for i := range sum {
			sum[i] += n.delta[i] * w
		}
	}
	return t.space.ClampDelta(sum)
}

// SharedDelta returns the demographic-only learned delta for one
// "key:value" tag, for consumers that do not walk the tree.
func (t *Tree) SharedDelta(key, value string) (model.ParameterVector, bool) {
	entry, ok := t.shared[key+":"+value]
	if !ok {
		return nil, false
	}
	return entry.delta.Clone(), true
}

// RecordOutcome blends an observed delta and its score into the leaf for
// ctx. Newer evidence has higher but bounded influence.
func (t *Tree) RecordOutcome(ctx model.TargetContext, delta model.ParameterVector, outcome model.Score) {
	delta = t.space.ClampDelta(delta)
	path := t.resolveForWrite(ctx)
	leaf := path[len(path)-1]
	n := &t.nodes[leaf]

	n.uses++
	if outcome.Overall >= t.cfg.SuccessScore {
		n.successes++
	}
	n.outcome.add(outcome.Overall)
	n.lastUsed = t.now()

	for _, key := range model.ContextKeys() {
		v, _ := ctx.Value(key)
		if v == "" {
			continue
		}
		byValue, ok := n.keyStats[key]
		if !ok {
			byValue = make(map[string]*groupStat)
			n.keyStats[key] = byValue
		}
		group, ok := byValue[v]
		if !ok {
			group = &groupStat{}
			byValue[v] = group
		}
		group.stat.add(outcome.Overall)
		if outcome.Overall >= t.cfg.SuccessScore {
			group.successes++
		}
	}

	// Bounded recency blending: a single sample moves the learned delta at
	// most BlendRate of the way, less as evidence accumulates.
	alpha := t.cfg.BlendRate * outcome.Overall / (1.0 + float64(n.uses)/20.0)
	for i := range n.delta {
		n.delta[i] += alpha * (delta[i] - n.delta[i])
	}

	for _, key := range model.ContextKeys() {
		v, _ := ctx.Value(key)
		if v == "" {
			continue
		}
		t.blendShared(key+":"+v, delta, alpha)
	}

	t.experiments++
	t.recordsSinceMaintain++
	if t.recordsSinceMaintain >= t.cfg.MaintainEvery {
		t.Maintain()
	}
}

func (t *Tree) blendShared(tag string, delta model.ParameterVector, alpha float64) {
	entry, ok := t.shared[tag]
	if !ok {
		entry = &sharedEntry{delta: make(model.ParameterVector, t.space.Dim())}
		t.shared[tag] = entry
	}
	entry.uses++
	for i := range entry.delta {
		entry.delta[i] += alpha * (delta[i] - entry.delta[i])
	}
}

// Stats summarizes the tree for status output.
type Stats struct {
	Nodes       int
	Leaves      int
	Experiments int
	Shared      int
}

func (t *Tree) Stats() Stats {
	s := Stats{Experiments: t.experiments, Shared: len(t.shared)}
	for _, n := range t.nodes {
		if !n.live {
			continue
		}
		s.Nodes++
		if len(n.children) == 0 {
			s.Leaves++
		}
	}
	return s
}

// pathOf renders a node's ancestry as "/desc/desc"; the root is "/".
func (t *Tree) pathOf(id int) string {
	if id == t.root {
		return "/"
	}
	var parts []string
	for cur := id; cur != t.root; cur = t.nodes[cur].parent {
		parts = append(parts, t.nodes[cur].pred.descriptor())
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

// liveIDsPreorder returns live node ids parent-before-child.
func (t *Tree) liveIDsPreorder() []int {
	var out []int
	var walk func(id int)
	walk = func(id int) {
		out = append(out, id)
		children := append([]int(nil), t.nodes[id].children...)
		sort.Ints(children)
		for _, child := range children {
			if t.nodes[child].live {
				walk(child)
			}
		}
	}
	walk(t.root)
	return out
}
