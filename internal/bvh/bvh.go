// Package bvh builds and queries a bounding-volume hierarchy over the
// feature corpus: a binary tree partitioned by centroid median on the
// longest axis, answering "which features intersect this box?" in
// logarithmic expected time.
//
// Nodes live in a flat arena ([]Node) indexed by slot rather than
// behind heap pointers; children are referenced by index, with -1
// meaning "absent".
package bvh

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"camtiles/internal/aabb"
	"camtiles/internal/corpus"
)

// LeafThreshold is the maximum feature-reference count held directly
// by a leaf node before it is split further.
const LeafThreshold = 16

// FeatureRef pairs a corpus record index with its precomputed AABB,
// produced once after ingest and read-only thereafter.
type FeatureRef struct {
	Index int32
	Box   aabb.Box
}

const noChild = -1

// Node is one entry in the tree arena. A leaf has Left == Right == -1;
// an internal node has both set. Begin/End describe the half-open
// sub-range of the Tree's Refs slice owned by this node's subtree.
type Node struct {
	Box         aabb.Box
	Left, Right int32
	Begin, End  int32
}

// IsLeaf reports whether the node has no children.
func (n Node) IsLeaf() bool { return n.Left == noChild && n.Right == noChild }

// Tree is the built hierarchy: an arena of nodes plus the feature
// references they partition. Root is the index of the root node, or
// -1 for an empty forest (empty corpus).
type Tree struct {
	Nodes []Node
	Refs  []FeatureRef
	Root  int32
}

// Empty returns a tree with no nodes — the result of building over an
// empty corpus.
func Empty() *Tree {
	return &Tree{Root: noChild}
}

// FeatureAABB walks a single record's vertices and returns its
// bounding box, skipping non-finite coordinates. A record with fewer
// than one finite vertex produces an invalid (empty-sentinel) box.
func FeatureAABB(verts []corpus.Vertex) aabb.Box {
	box := aabb.Invalid()
	any := false
	for _, v := range verts {
		if !isFinite(v.X) || !isFinite(v.Y) {
			continue
		}
		if v.X < box.MinX {
			box.MinX = v.X
		}
		if v.Y < box.MinY {
			box.MinY = v.Y
		}
		if v.X > box.MaxX {
			box.MaxX = v.X
		}
		if v.Y > box.MaxY {
			box.MaxY = v.Y
		}
		any = true
	}
	if !any {
		return aabb.Invalid()
	}
	return box
}

func isFinite(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}

// Build constructs a tree over the corpus using workers goroutines for
// the per-feature AABB pass (data-parallel, order-independent) and a
// serial recursive partition for the tree itself. An empty corpus
// produces Empty().
func Build(c *corpus.Corpus, workers int) (*Tree, error) {
	if c == nil || c.RecordCount == 0 {
		return Empty(), nil
	}
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	offsets, err := c.Offsets()
	if err != nil {
		return nil, fmt.Errorf("bvh: %w", err)
	}

	refs := make([]FeatureRef, len(offsets))
	if err := parallelAABB(c, offsets, refs, workers); err != nil {
		return nil, err
	}

	t := &Tree{Refs: refs}
	t.Nodes = make([]Node, 0, 2*len(refs))
	t.Root = t.buildRecursive(0, int32(len(refs)))
	return t, nil
}

func parallelAABB(c *corpus.Corpus, offsets []int, refs []FeatureRef, workers int) error {
	n := len(offsets)
	if n == 0 {
		return nil
	}
	if workers > n {
		workers = n
	}

	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				verts := c.At(offsets[i])
				refs[i] = FeatureRef{Index: int32(i), Box: FeatureAABB(verts)}
			}
		}(start, end)
	}
	wg.Wait()
	return nil
}

// buildRecursive partitions Refs[begin:end], appends the resulting
// node to the arena, and returns its index.
func (t *Tree) buildRecursive(begin, end int32) int32 {
	idx := int32(len(t.Nodes))
	t.Nodes = append(t.Nodes, Node{Begin: begin, End: end, Left: noChild, Right: noChild})

	count := end - begin
	if count == 0 {
		t.Nodes[idx].Box = aabb.Invalid()
		return idx
	}

	box := rangeBounds(t.Refs[begin:end])
	t.Nodes[idx].Box = box

	if count <= LeafThreshold {
		return idx
	}

	axis := longestCentroidAxis(t.Refs[begin:end])
	mid := begin + count/2
	nthElementByCentroid(t.Refs[begin:end], int(mid-begin), axis)

	left := t.buildRecursive(begin, mid)
	right := t.buildRecursive(mid, end)
	t.Nodes[idx].Left = left
	t.Nodes[idx].Right = right
	t.Nodes[idx].Box = aabb.Union(t.Nodes[left].Box, t.Nodes[right].Box)
	return idx
}

func rangeBounds(refs []FeatureRef) aabb.Box {
	result := aabb.Invalid()
	any := false
	for _, r := range refs {
		if !r.Box.Valid() {
			continue
		}
		if !any {
			result = r.Box
			any = true
		} else {
			result = aabb.Union(result, r.Box)
		}
	}
	return result
}

func longestCentroidAxis(refs []FeatureRef) int {
	minX, minY := posInf(), posInf()
	maxX, maxY := negInf(), negInf()
	for _, r := range refs {
		if !r.Box.Valid() {
			continue
		}
		cx, cy := r.Box.CenterX(), r.Box.CenterY()
		if cx < minX {
			minX = cx
		}
		if cy < minY {
			minY = cy
		}
		if cx > maxX {
			maxX = cx
		}
		if cy > maxY {
			maxY = cy
		}
	}
	extentX := maxX - minX
	extentY := maxY - minY
	if extentX >= extentY {
		return 0
	}
	return 1
}

func centroid(b aabb.Box, axis int) float64 {
	if axis == 0 {
		return b.CenterX()
	}
	return b.CenterY()
}

// nthElementByCentroid leaves the element at index k (by centroid on
// axis) with no larger centroid to its left and no smaller centroid
// to its right. It gets there with a full sort of the sub-range
// (sort.Slice) rather than an order-statistic selection; the sort
// over-orders the range but yields a valid partition at k.
func nthElementByCentroid(refs []FeatureRef, k int, axis int) {
	sort.Slice(refs, func(i, j int) bool {
		return centroid(refs[i].Box, axis) < centroid(refs[j].Box, axis)
	})
	_ = k // sort.Slice already yields a valid (if over-ordered) partition at k
}

// CollectVisible performs a depth-first traversal, collecting the
// indices of feature references whose stored box overlaps query.
// Ordering is unspecified but deterministic for a fixed tree.
func (t *Tree) CollectVisible(query aabb.Box) []int32 {
	if t == nil || t.Root == noChild {
		return nil
	}
	var out []int32
	t.collect(t.Root, query, &out)
	return out
}

func (t *Tree) collect(nodeIdx int32, query aabb.Box, out *[]int32) {
	node := &t.Nodes[nodeIdx]
	if !node.Box.Valid() || !node.Box.Overlaps(query) {
		return
	}
	if node.IsLeaf() {
		for i := node.Begin; i < node.End; i++ {
			ref := t.Refs[i]
			if ref.Box.Valid() && ref.Box.Overlaps(query) {
				*out = append(*out, ref.Index)
			}
		}
		return
	}
	t.collect(node.Left, query, out)
	t.collect(node.Right, query, out)
}

// LinearScan is the naive O(N) reference implementation used to
// cross-check CollectVisible in tests.
func LinearScan(refs []FeatureRef, query aabb.Box) []int32 {
	var out []int32
	for _, r := range refs {
		if r.Box.Valid() && r.Box.Overlaps(query) {
			out = append(out, r.Index)
		}
	}
	return out
}

func posInf() float64 { return math.Inf(1) }
func negInf() float64 { return math.Inf(-1) }
