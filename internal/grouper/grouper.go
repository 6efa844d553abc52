// Package grouper implements the similarity grouper (§4.5): buckets
// candidate folders, computes weighted Jaccard similarity with a streaming
// intersection, clusters connected components, selects a canonical member,
// suppresses already-covered descendants, and labels the surviving groups.
//
// Comparisons within a bucket run concurrently, one goroutine per bucket,
// fanning similarity edges into a single collector — the same shape the
// walker uses for directory workers, here applied to CPU-bound comparison
// instead of I/O-bound traversal. golang.org/x/sync/errgroup supplies the
// cancellable wait group, since a cancelled scan must stop mid-bucket
// rather than run every comparison to completion.
package grouper

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/foldersim/simcore/internal/types"
)

const defaultMaxClusterSize = 16
const sparseEdgeThreshold = 8
const topDivergenceCount = 5

// Config configures a Grouper.
type Config struct {
	Threshold      float64 // §6 similarity_threshold, default 0.80
	MaxClusterSize int     // K in §4.5's sub-clustering heuristic; default 16
}

// Grouper computes similarity groups over a completed folder arena.
type Grouper struct {
	cfg Config
}

// New creates a Grouper. A zero or negative MaxClusterSize falls back to
// the spec's K ≈ 16 default.
func New(cfg Config) *Grouper {
	if cfg.MaxClusterSize <= 0 {
		cfg.MaxClusterSize = defaultMaxClusterSize
	}
	return &Grouper{cfg: cfg}
}

type edge struct {
	i, j       int
	similarity float64
}

// Run produces the final, suppressed, labeled GroupInfo list for folders.
// folders must be indexed exactly as produced by the aggregator (index i
// corresponds to folders[i].Index).
func (g *Grouper) Run(ctx context.Context, folders []types.FolderInfo) ([]types.GroupInfo, error) {
	candidateIdx := nonEmptyIndices(folders)
	buckets := bucketByLogSize(folders, candidateIdx)

	edges, err := g.compareBuckets(ctx, folders, buckets)
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, nil
	}

	clusters := connectedComponents(edges)

	var groups []types.GroupInfo
	for _, cluster := range clusters {
		sub := g.subCluster(cluster, edges)
		for _, members := range sub {
			if len(members) < 2 {
				continue
			}
			groups = append(groups, g.buildGroup(members, folders, edges))
		}
	}

	groups = suppressDescendants(groups)
	assignGroupIDs(groups)
	return groups, nil
}

// nonEmptyIndices returns the indices of folders that can participate in
// grouping. Empty folders never group (§4.5: "If both folders are empty,
// sim = 0").
func nonEmptyIndices(folders []types.FolderInfo) []int {
	var out []int
	for i, f := range folders {
		if f.TotalBytes > 0 && f.FileCount > 0 {
			out = append(out, i)
		}
	}
	return out
}

// bucketKey is the (⌊log₂(total_bytes)⌋, ⌊log₂(file_count)⌋) pair folders
// are grouped by before any pairwise comparison (§4.5 step 1).
type bucketKey struct {
	bytesLog, countLog int
}

func bucketByLogSize(folders []types.FolderInfo, indices []int) map[bucketKey][]int {
	buckets := make(map[bucketKey][]int)
	for _, i := range indices {
		key := bucketKey{
			bytesLog: log2Floor(folders[i].TotalBytes),
			countLog: log2Floor(int64(folders[i].FileCount)),
		}
		buckets[key] = append(buckets[key], i)
	}
	return buckets
}

func log2Floor(n int64) int {
	if n <= 0 {
		return 0
	}
	return int(math.Floor(math.Log2(float64(n))))
}

// compareBuckets runs the candidate-pair pruning and weighted-Jaccard
// comparison for every bucket concurrently, one goroutine per bucket.
func (g *Grouper) compareBuckets(ctx context.Context, folders []types.FolderInfo, buckets map[bucketKey][]int) ([]edge, error) {
	eg, ctx := errgroup.WithContext(ctx)
	edgesCh := make(chan edge, 256)

	for _, members := range buckets {
		members := members
		if len(members) < 2 {
			continue
		}
		eg.Go(func() error {
			for a := 0; a < len(members); a++ {
				for b := a + 1; b < len(members); b++ {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					i, j := members[a], members[b]
					if isAncestorDescendant(folders[i].RelativePath, folders[j].RelativePath) {
						continue
					}
					if !passesSizeRatio(folders[i].TotalBytes, folders[j].TotalBytes, g.cfg.Threshold) {
						continue
					}
					sim := WeightedJaccard(folders[i].FileWeights, folders[j].FileWeights)
					if sim >= g.cfg.Threshold {
						edgesCh <- edge{i: i, j: j, similarity: sim}
					}
				}
			}
			return nil
		})
	}

	var edges []edge
	done := make(chan struct{})
	go func() {
		for e := range edgesCh {
			edges = append(edges, e)
		}
		close(done)
	}()

	err := eg.Wait()
	close(edgesCh)
	<-done
	if err != nil {
		return nil, fmt.Errorf("grouper: %w", err)
	}
	return edges, nil
}

// passesSizeRatio is the necessary-condition prune from §4.5 step 2:
// min(A,B)/max(A,B) must already clear the threshold, or no file-weight
// overlap can possibly reach it.
func passesSizeRatio(a, b int64, threshold float64) bool {
	if a == 0 || b == 0 {
		return false
	}
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return float64(lo)/float64(hi) >= threshold
}

// isAncestorDescendant reports whether one of the two relative paths is an
// ancestor directory of the other — comparing a folder against its own
// ancestor produces a trivially meaningless similarity score, since an
// ancestor's file_weights are a superset of its descendant's by
// construction (§4.4 roll-up invariant).
func isAncestorDescendant(a, b string) bool {
	if a == b {
		return false
	}
	if a == "." || b == "." {
		return true
	}
	return strings.HasPrefix(b, a+"/") || strings.HasPrefix(a, b+"/")
}

// WeightedJaccard computes Σ min(wA,wB) / Σ max(wA,wB) over the union of
// identities, iterating the smaller map first so the cost is
// O(min(|a|,|b|)) rather than materializing the union (§4.5).
func WeightedJaccard(a, b map[string]int64) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	smaller, larger := a, b
	if len(a) > len(b) {
		smaller, larger = b, a
	}

	var intersection, union int64
	for k, wa := range smaller {
		wb, ok := larger[k]
		if !ok {
			union += wa
			continue
		}
		if wa <= wb {
			intersection += wa
			union += wb
		} else {
			intersection += wb
			union += wa
		}
	}
	for k, wb := range larger {
		if _, ok := smaller[k]; !ok {
			union += wb
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// connectedComponents builds an adjacency graph from edges and returns
// each component as a set of folder indices, via BFS.
func connectedComponents(edges []edge) [][]int {
	adj := make(map[int]map[int]struct{})
	for _, e := range edges {
		if adj[e.i] == nil {
			adj[e.i] = make(map[int]struct{})
		}
		if adj[e.j] == nil {
			adj[e.j] = make(map[int]struct{})
		}
		adj[e.i][e.j] = struct{}{}
		adj[e.j][e.i] = struct{}{}
	}

	visited := make(map[int]bool)
	var components [][]int
	nodes := make([]int, 0, len(adj))
	for n := range adj {
		nodes = append(nodes, n)
	}
	sort.Ints(nodes)

	for _, start := range nodes {
		if visited[start] {
			continue
		}
		queue := []int{start}
		visited[start] = true
		var component []int
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			component = append(component, cur)
			neighbors := make([]int, 0, len(adj[cur]))
			for n := range adj[cur] {
				neighbors = append(neighbors, n)
			}
			sort.Ints(neighbors)
			for _, n := range neighbors {
				if !visited[n] {
					visited[n] = true
					queue = append(queue, n)
				}
			}
		}
		sort.Ints(component)
		components = append(components, component)
	}
	return components
}

// subCluster splits a pre-cluster larger than K into one or more
// sub-clusters via greedy max-similarity expansion from the highest-degree
// vertex (§4.5: "K ≈ 16" sub-clustering heuristic; the exact pruning
// aggressiveness is implementer's choice per the spec's own open
// question). Clusters at or below K pass through unchanged.
func (g *Grouper) subCluster(cluster []int, edges []edge) [][]int {
	if len(cluster) <= g.cfg.MaxClusterSize {
		return [][]int{cluster}
	}

	weight := make(map[[2]int]float64)
	degree := make(map[int]int)
	for _, e := range edges {
		weight[[2]int{e.i, e.j}] = e.similarity
		weight[[2]int{e.j, e.i}] = e.similarity
		degree[e.i]++
		degree[e.j]++
	}

	remaining := make(map[int]bool)
	for _, n := range cluster {
		remaining[n] = true
	}

	var out [][]int
	for len(remaining) > 0 {
		seed := highestDegreeRemaining(remaining, degree)
		sub := []int{seed}
		delete(remaining, seed)

		for len(sub) < g.cfg.MaxClusterSize && len(remaining) > 0 {
			best, bestSim := -1, -1.0
			for candidate := range remaining {
				maxSim := 0.0
				for _, member := range sub {
					if w, ok := weight[[2]int{member, candidate}]; ok && w > maxSim {
						maxSim = w
					}
				}
				if maxSim > bestSim {
					best, bestSim = candidate, maxSim
				}
			}
			if best == -1 || bestSim <= 0 {
				break
			}
			sub = append(sub, best)
			delete(remaining, best)
		}
		sort.Ints(sub)
		out = append(out, sub)
	}
	return out
}

func highestDegreeRemaining(remaining map[int]bool, degree map[int]int) int {
	best, bestDeg := -1, -1
	for n := range remaining {
		if degree[n] > bestDeg || (degree[n] == bestDeg && (best == -1 || n < best)) {
			best, bestDeg = n, degree[n]
		}
	}
	return best
}

// buildGroup assembles a GroupInfo from a cluster's member indices: sorts
// members canonical-first (shallowest depth, then lexicographic), labels
// the cluster, and sparsifies pairwise edges for large clusters.
func (g *Grouper) buildGroup(memberIdx []int, folders []types.FolderInfo, edges []edge) types.GroupInfo {
	members := make([]types.FolderInfo, len(memberIdx))
	for i, idx := range memberIdx {
		members[i] = folders[idx]
	}
	sort.SliceStable(members, func(a, b int) bool {
		da, db := depth(members[a].RelativePath), depth(members[b].RelativePath)
		if da != db {
			return da < db
		}
		return members[a].RelativePath < members[b].RelativePath
	})

	oldToNew := make(map[int]int, len(members))
	for newIdx, f := range members {
		oldToNew[f.Index] = newIdx
	}

	pairwise := pairwiseFor(members, oldToNew, edges)
	label := labelFor(members, pairwise)

	group := types.GroupInfo{
		Label:              label,
		CanonicalIndex:     0,
		Members:            members,
		PairwiseSimilarity: pairwise,
	}
	if label != types.LabelIdentical && len(members) >= 2 {
		group.Divergences = TopDivergences(members[0], members[1], topDivergenceCount)
	}
	return group
}

func depth(rel string) int {
	if rel == "." {
		return 0
	}
	return strings.Count(rel, "/") + 1
}

// pairwiseFor extracts the edges touching this cluster's members, renumbers
// endpoints to the cluster's own member ordering, and sparsifies per §4.5
// ("for clusters of size > 8, emit only the max-spanning edges plus all
// edges incident to the canonical").
func pairwiseFor(members []types.FolderInfo, oldToNewIndex map[int]int, edges []edge) []types.PairwiseSimilarity {
	var all []types.PairwiseSimilarity
	for _, e := range edges {
		ni, iok := oldToNewIndex[e.i]
		nj, jok := oldToNewIndex[e.j]
		if !iok || !jok {
			continue
		}
		if ni > nj {
			ni, nj = nj, ni
		}
		all = append(all, types.PairwiseSimilarity{I: ni, J: nj, Similarity: e.similarity})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].I != all[j].I {
			return all[i].I < all[j].I
		}
		return all[i].J < all[j].J
	})

	if len(members) <= sparseEdgeThreshold {
		return all
	}

	const canonical = 0
	seen := make(map[[2]int]bool)
	var sparse []types.PairwiseSimilarity
	maxPerNode := make(map[int]types.PairwiseSimilarity)
	for _, p := range all {
		if p.I == canonical || p.J == canonical {
			key := [2]int{p.I, p.J}
			if !seen[key] {
				seen[key] = true
				sparse = append(sparse, p)
			}
			continue
		}
		if existing, ok := maxPerNode[p.I]; !ok || p.Similarity > existing.Similarity {
			maxPerNode[p.I] = p
		}
	}
	for _, p := range maxPerNode {
		key := [2]int{p.I, p.J}
		if !seen[key] {
			seen[key] = true
			sparse = append(sparse, p)
		}
	}
	sort.Slice(sparse, func(i, j int) bool {
		if sparse[i].I != sparse[j].I {
			return sparse[i].I < sparse[j].I
		}
		return sparse[i].J < sparse[j].J
	})
	return sparse
}

// labelFor classifies a cluster per §4.5: identical requires every pair at
// sim == 1.0 with matching total_bytes and file_count; otherwise
// near_duplicate (partial_overlap is reserved for a future overlap
// explorer and is never produced here).
func labelFor(members []types.FolderInfo, pairwise []types.PairwiseSimilarity) types.FolderLabel {
	const epsilon = 1e-9
	allIdentical := true
	for _, p := range pairwise {
		if p.Similarity < 1.0-epsilon {
			allIdentical = false
			break
		}
	}
	if allIdentical {
		base := members[0]
		for _, m := range members[1:] {
			if m.TotalBytes != base.TotalBytes || m.FileCount != base.FileCount {
				allIdentical = false
				break
			}
		}
	}
	if allIdentical {
		return types.LabelIdentical
	}
	return types.LabelNearDuplicate
}

// suppressDescendants implements §4.5's descendant suppression: groups are
// considered in order of ascending canonical depth; a group is suppressed
// iff every one of its members is a strict descendant of some member of an
// already-accepted group.
func suppressDescendants(groups []types.GroupInfo) []types.GroupInfo {
	order := make([]int, len(groups))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		da := depth(groups[order[a]].Members[0].RelativePath)
		db := depth(groups[order[b]].Members[0].RelativePath)
		if da != db {
			return da < db
		}
		return groups[order[a]].Members[0].RelativePath < groups[order[b]].Members[0].RelativePath
	})

	var accepted []types.GroupInfo
	for _, idx := range order {
		g := groups[idx]
		suppressedByAny := false
		for i := range accepted {
			if groupSuppresses(accepted[i], g) {
				accepted[i].SuppressedDescendants = true
				suppressedByAny = true
				break
			}
		}
		if !suppressedByAny {
			accepted = append(accepted, g)
		}
	}
	return accepted
}

// groupSuppresses reports whether every member of candidate is a strict
// descendant of some member of parent.
func groupSuppresses(parent, candidate types.GroupInfo) bool {
	for _, member := range candidate.Members {
		if !isDescendantOfAny(member.RelativePath, parent.Members) {
			return false
		}
	}
	return true
}

func isDescendantOfAny(rel string, ancestors []types.FolderInfo) bool {
	for _, a := range ancestors {
		if isStrictDescendant(rel, a.RelativePath) {
			return true
		}
	}
	return false
}

func isStrictDescendant(rel, ancestorRel string) bool {
	if rel == ancestorRel {
		return false
	}
	if ancestorRel == "." {
		return true
	}
	return strings.HasPrefix(rel, ancestorRel+"/")
}

// assignGroupIDs sorts groups by canonical relative path and assigns
// stable, monotonically increasing IDs (§3: "g_000001…"), so that repeated
// scans of a stable filesystem produce bit-identical group_id assignments.
func assignGroupIDs(groups []types.GroupInfo) {
	sort.SliceStable(groups, func(a, b int) bool {
		return groups[a].Members[0].RelativePath < groups[b].Members[0].RelativePath
	})
	for i := range groups {
		groups[i].GroupID = fmt.Sprintf("g_%06d", i+1)
	}
}

// TopDivergences returns the top-k identities by absolute byte-weight
// delta between two folders' fingerprints (SUPPLEMENTED FEATURE, grounded
// on the reference implementation's compute_divergences). Results are
// sorted by delta descending, then identity ascending for determinism.
func TopDivergences(a, b types.FolderInfo, k int) []types.Divergence {
	deltas := make(map[string]int64)
	for identity, weight := range a.FileWeights {
		deltas[identity] = weight
	}
	for identity, weight := range b.FileWeights {
		if existing, ok := deltas[identity]; ok {
			deltas[identity] = absInt64(existing - weight)
		} else {
			deltas[identity] = weight
		}
	}

	var out []types.Divergence
	for identity, delta := range deltas {
		if delta > 0 {
			out = append(out, types.Divergence{Identity: identity, DeltaBytes: delta})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeltaBytes != out[j].DeltaBytes {
			return out[i].DeltaBytes > out[j].DeltaBytes
		}
		return out[i].Identity < out[j].Identity
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func absInt64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
