package knowledge

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"likeness/internal/model"
	"likeness/internal/param"
)

// Knowledge file format v1: a little-endian binary blob.
//
//	magic "LKNW", version uint16, reserved uint16
//	exporter string, created_at int64, experiments uint32
//	node_count uint32, then per node (pre-order):
//	  path string, delta [dim]float64, uses uint32, successes uint32,
//	  mean float64, m2 float64, confidence float64,
//	  created_at int64, last_used int64
//	shared_count uint32, then per entry:
//	  tag string ("key:value"), delta [dim]float64, uses uint32
//
// Strings are uint16 length + UTF-8 bytes.
const (
	codecMagic   = "LKNW"
	codecVersion = uint16(1)

	maxStringLen = 4096
)

var (
	// ErrCorruptKnowledgeFile marks an unreadable blob; loaders degrade to
	// an empty tree instead of failing.
	ErrCorruptKnowledgeFile = errors.New("corrupt knowledge file")
	// ErrUnknownVersion marks a header from a different format generation.
	ErrUnknownVersion = errors.New("unknown knowledge file version")
	// ErrTrustOutOfRange rejects import trust levels outside (0,1].
	ErrTrustOutOfRange = errors.New("trust must be in (0,1]")
)

// MergeSummary describes what an import changed, for human-readable output.
type MergeSummary struct {
	Exporter          string
	NodesMerged       int
	NodesCreated      int
	ConflictsResolved int
	SharedMerged      int
	Experiments       int
}

func (s MergeSummary) String() string {
	return fmt.Sprintf(
		"merged %d nodes (%d new, %d conflicts resolved), %d shared entries, %d experiments from %q",
		s.NodesMerged+s.NodesCreated, s.NodesCreated, s.ConflictsResolved,
		s.SharedMerged, s.Experiments, s.Exporter,
	)
}

// Export writes a versioned snapshot of the whole tree.
func (t *Tree) Export(w io.Writer, exporter string) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(codecMagic); err != nil {
		return err
	}
	writeU16(bw, codecVersion)
	writeU16(bw, 0)
	if err := writeString(bw, exporter); err != nil {
		return err
	}
	writeI64(bw, t.now().Unix())
	writeU32(bw, uint32(t.experiments))

	ids := t.liveIDsPreorder()
	writeU32(bw, uint32(len(ids)))
	for _, id := range ids {
		n := t.nodes[id]
		if err := writeString(bw, t.pathOf(id)); err != nil {
			return err
		}
		writeVector(bw, n.delta)
		writeU32(bw, uint32(n.uses))
		writeU32(bw, uint32(n.successes))
		writeF64(bw, n.outcome.mean)
		writeF64(bw, n.outcome.m2)
		writeF64(bw, n.confidence())
		writeI64(bw, n.createdAt.Unix())
		writeI64(bw, n.lastUsed.Unix())
	}

	tags := make([]string, 0, len(t.shared))
	for tag := range t.shared {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	writeU32(bw, uint32(len(tags)))
	for _, tag := range tags {
		entry := t.shared[tag]
		if err := writeString(bw, tag); err != nil {
			return err
		}
		writeVector(bw, entry.delta)
		writeU32(bw, uint32(entry.uses))
	}
	return bw.Flush()
}

type importedNode struct {
	path       string
	delta      model.ParameterVector
	uses       int
	successes  int
	mean, m2   float64
	confidence float64
	createdAt  time.Time
	lastUsed   time.Time
}

type importedShared struct {
	tag   string
	delta model.ParameterVector
	uses  int
}

type snapshot struct {
	exporter    string
	createdAt   time.Time
	experiments int
	nodes       []importedNode
	shared      []importedShared
}

func (t *Tree) parse(r io.Reader) (snapshot, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, 4)
	if _, err := io.ReadFull(br, magic); err != nil {
		return snapshot{}, fmt.Errorf("%w: short header", ErrCorruptKnowledgeFile)
	}
	if string(magic) != codecMagic {
		return snapshot{}, fmt.Errorf("%w: bad magic %q", ErrCorruptKnowledgeFile, magic)
	}
	version, err := readU16(br)
	if err != nil {
		return snapshot{}, err
	}
	if version != codecVersion {
		return snapshot{}, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
	if _, err := readU16(br); err != nil {
		return snapshot{}, err
	}

	var snap snapshot
	if snap.exporter, err = readString(br); err != nil {
		return snapshot{}, err
	}
	created, err := readI64(br)
	if err != nil {
		return snapshot{}, err
	}
	snap.createdAt = time.Unix(created, 0)
	experiments, err := readU32(br)
	if err != nil {
		return snapshot{}, err
	}
	snap.experiments = int(experiments)

	nodeCount, err := readU32(br)
	if err != nil {
		return snapshot{}, err
	}
	for i := uint32(0); i < nodeCount; i++ {
		var n importedNode
		if n.path, err = readString(br); err != nil {
			return snapshot{}, err
		}
		if n.delta, err = readVector(br, t.space.Dim()); err != nil {
			return snapshot{}, err
		}
		if n.uses, err = readCount(br); err != nil {
			return snapshot{}, err
		}
		if n.successes, err = readCount(br); err != nil {
			return snapshot{}, err
		}
		if n.mean, err = readF64(br); err != nil {
			return snapshot{}, err
		}
		if n.m2, err = readF64(br); err != nil {
			return snapshot{}, err
		}
		if n.confidence, err = readF64(br); err != nil {
			return snapshot{}, err
		}
		ts, err := readI64(br)
		if err != nil {
			return snapshot{}, err
		}
		n.createdAt = time.Unix(ts, 0)
		if ts, err = readI64(br); err != nil {
			return snapshot{}, err
		}
		n.lastUsed = time.Unix(ts, 0)
		snap.nodes = append(snap.nodes, n)
	}

	sharedCount, err := readU32(br)
	if err != nil {
		return snapshot{}, err
	}
	for i := uint32(0); i < sharedCount; i++ {
		var e importedShared
		if e.tag, err = readString(br); err != nil {
			return snapshot{}, err
		}
		if e.delta, err = readVector(br, t.space.Dim()); err != nil {
			return snapshot{}, err
		}
		if e.uses, err = readCount(br); err != nil {
			return snapshot{}, err
		}
		snap.shared = append(snap.shared, e)
	}
	return snap, nil
}

// Import merges a snapshot into this tree. Trust in (0,1] scales how far
// imported evidence moves existing nodes; it is never a blind overwrite.
func (t *Tree) Import(r io.Reader, trust float64) (MergeSummary, error) {
	if trust <= 0 || trust > 1 {
		return MergeSummary{}, ErrTrustOutOfRange
	}
	snap, err := t.parse(r)
	if err != nil {
		return MergeSummary{}, err
	}

	summary := MergeSummary{Exporter: snap.exporter, Experiments: snap.experiments}
	byPath := make(map[string]int)
	for _, id := range t.liveIDsPreorder() {
		byPath[t.pathOf(id)] = id
	}

	for _, imp := range snap.nodes {
		if id, ok := byPath[imp.path]; ok {
			if t.mergeImported(id, imp, trust) {
				summary.ConflictsResolved++
			}
			summary.NodesMerged++
			continue
		}
		id, err := t.createImported(imp, trust, byPath)
		if err != nil {
			return MergeSummary{}, err
		}
		byPath[imp.path] = id
		summary.NodesCreated++
	}

	for _, imp := range snap.shared {
		t.mergeImportedShared(imp, trust)
		summary.SharedMerged++
	}
	t.experiments += int(math.Round(trust * float64(snap.experiments)))
	return summary, nil
}

// mergeImported blends one imported node into an existing one and reports
// whether the two disagreed enough to count as a resolved conflict.
func (t *Tree) mergeImported(id int, imp importedNode, trust float64) bool {
	n := &t.nodes[id]
	conflict := meanAbsDiff(n.delta, imp.delta) > 1e-6 && n.uses > 0

	moveFrac := trust * imp.confidence / (imp.confidence + n.confidence() + 1e-9)
	for i := range n.delta {
		n.delta[i] += moveFrac * (imp.delta[i] - n.delta[i])
	}
	n.uses += int(math.Round(trust * float64(imp.uses)))
	n.successes += int(math.Round(trust * float64(imp.successes)))
	scaledN := int(math.Round(trust * float64(imp.uses)))
	n.outcome = combineStats(n.outcome, runStat{n: scaledN, mean: imp.mean, m2: trust * imp.m2})
	if imp.lastUsed.After(n.lastUsed) {
		n.lastUsed = imp.lastUsed
	}
	return conflict
}

func (t *Tree) createImported(imp importedNode, trust float64, byPath map[string]int) (int, error) {
	parentPath, descriptor := splitPath(imp.path)
	parentID, ok := byPath[parentPath]
	if !ok {
		return 0, fmt.Errorf("%w: node %q has no parent", ErrCorruptKnowledgeFile, imp.path)
	}
	pred, err := parseDescriptor(descriptor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptKnowledgeFile, err)
	}
	id := t.alloc(parentID, pred)
	n := &t.nodes[id]
	n.delta = t.space.ClampDelta(imp.delta)
	n.uses = int(math.Round(trust * float64(imp.uses)))
	n.successes = int(math.Round(trust * float64(imp.successes)))
	n.outcome = runStat{n: n.uses, mean: imp.mean, m2: trust * imp.m2}
	n.createdAt = imp.createdAt
	n.lastUsed = imp.lastUsed
	t.nodes[parentID].children = append(t.nodes[parentID].children, id)
	return id, nil
}

func (t *Tree) mergeImportedShared(imp importedShared, trust float64) {
	entry, ok := t.shared[imp.tag]
	if !ok {
		t.shared[imp.tag] = &sharedEntry{
			delta: t.space.ClampDelta(imp.delta),
			uses:  int(math.Round(trust * float64(imp.uses))),
		}
		return
	}
	moveFrac := trust * float64(imp.uses) / (float64(imp.uses) + float64(entry.uses) + 1e-9)
	for i := range entry.delta {
		entry.delta[i] += moveFrac * (imp.delta[i] - entry.delta[i])
	}
	entry.uses += int(math.Round(trust * float64(imp.uses)))
}

func splitPath(path string) (parent, descriptor string) {
	trimmed := strings.TrimPrefix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return "/", trimmed
	}
	return "/" + trimmed[:idx], trimmed[idx+1:]
}

// SaveFile exports the tree to a file, creating parent directories.
func (t *Tree) SaveFile(path, exporter string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := t.Export(f, exporter); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// LoadFile builds a tree from a knowledge file. A missing, corrupt, or
// unknown-version file degrades to an empty tree; the returned error is
// informational and the tree is always usable.
func LoadFile(space *param.Space, cfg Config, path string) (*Tree, error) {
	tree, err := NewTree(space, cfg)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return tree, fmt.Errorf("knowledge file unavailable, starting empty: %w", err)
	}
	defer f.Close()
	if _, err := tree.Import(f, 1.0); err != nil {
		// Partial merges would leave half-applied bias; restart clean.
		fresh, newErr := NewTree(space, cfg)
		if newErr != nil {
			return nil, newErr
		}
		return fresh, fmt.Errorf("knowledge file rejected, starting empty: %w", err)
	}
	return tree, nil
}

func writeU16(w io.Writer, v uint16) {
	_ = binary.Write(w, binary.LittleEndian, v)
}

func writeU32(w io.Writer, v uint32) {
	_ = binary.Write(w, binary.LittleEndian, v)
}

func writeI64(w io.Writer, v int64) {
	_ = binary.Write(w, binary.LittleEndian, v)
}

func writeF64(w io.Writer, v float64) {
	_ = binary.Write(w, binary.LittleEndian, v)
}

func writeString(w io.Writer, s string) error {
	if len(s) > maxStringLen {
		return fmt.Errorf("string too long: %d", len(s))
	}
	writeU16(w, uint16(len(s)))
	_, err := io.WriteString(w, s)
	return err
}

func writeVector(w io.Writer, v model.ParameterVector) {
	writeU16(w, uint16(len(v)))
	for _, x := range v {
		writeF64(w, x)
	}
}

func readU16(r io.Reader) (uint16, error) {
	var v uint16
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptKnowledgeFile, err)
	}
	return v, nil
}

func readU32(r io.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptKnowledgeFile, err)
	}
	return v, nil
}

func readCount(r io.Reader) (int, error) {
	v, err := readU32(r)
	return int(v), err
}

func readI64(r io.Reader) (int64, error) {
	var v int64
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptKnowledgeFile, err)
	}
	return v, nil
}

func readF64(r io.Reader) (float64, error) {
	var v float64
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptKnowledgeFile, err)
	}
	return v, nil
}

func readString(r io.Reader) (string, error) {
	n, err := readU16(r)
	if err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", fmt.Errorf("%w: string length %d", ErrCorruptKnowledgeFile, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptKnowledgeFile, err)
	}
	return string(buf), nil
}

func readVector(r io.Reader, dim int) (model.ParameterVector, error) {
	n, err := readU16(r)
	if err != nil {
		return nil, err
	}
	if int(n) != dim {
		return nil, fmt.Errorf("%w: vector dimension %d, want %d", ErrCorruptKnowledgeFile, n, dim)
	}
	out := make(model.ParameterVector, n)
	for i := range out {
		if out[i], err = readF64(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}
