// Package depgraph implements DependencyResolver: walking a package's
// BuildRequires transitively, canonicalizing each token, stopping at names
// the hub already has built, and grouping the rest into build-order
// levels.
//
// The graph itself is built with gonum.org/v1/gonum/graph/simple and its
// cycles are detected via graph/topo.Sort, the same combination distri's
// internal/batch/batch.go uses for its own package dependency DAG. Unlike
// batch.go (which breaks cycles by stripping edges, appropriate for its
// self-hosting bootstrap toolchain), this resolver treats any cycle as a
// hard error: spec-file BuildRequires are almost always acyclic, and a
// silent cycle break here would hide a packaging bug instead of a
// self-hosting bootstrap quirk.
package depgraph

import (
	"context"
	"log"
	"sort"

	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"go.rpmhub.dev/build"
	"go.rpmhub.dev/build/canon"
)

// Loader resolves a canonical package name to its parsed spec metadata and
// source archive path (fetching it first if necessary). depgraph calls it
// exactly once per newly discovered, not-yet-available name. mlSourceHint
// is the source/srpm name MLFallback predicted alongside name, if
// canonicalization reached name via an accepted ML prediction ("" for
// rule-resolved names); a Loader backed by ArchiveFetcher can pass it to
// canon.CandidateSourceNames to try the learned name before the
// rule-table guesses.
type Loader func(ctx context.Context, name, mlSourceHint string) (info *rpmhub.PackageInfo, archivePath string, err error)

// AvailabilityChecker reports whether binaryName is already built and
// tagged on the hub, and (if req carries a version constraint) that the
// tagged build actually satisfies it. The resolver stops descending into a
// name's dependencies once this returns true.
type AvailabilityChecker func(ctx context.Context, binaryName string, req rpmhub.BuildRequirement) (bool, error)

// pkgNode is the gonum graph.Node wrapper around a package name, the same
// shape as batch.go's node type (an integer ID plus the name it stands
// for).
type pkgNode struct {
	id   int64
	name string
}

func (n *pkgNode) ID() int64 { return n.id }

// Resolver builds a rpmhub.DependencyGraph by walking BuildRequires edges
// from a set of root packages.
type Resolver struct {
	Canon     *canon.Canonicalizer
	Available AvailabilityChecker
	Load      Loader

	// Log receives warnings (e.g. a token the canonicalization pipeline
	// refused, resolved by falling back to the token itself); nil discards
	// them.
	Log *log.Logger
}

func (r *Resolver) logf(format string, args ...interface{}) {
	if r.Log != nil {
		r.Log.Printf(format, args...)
	}
}

// Resolve builds the full dependency graph reachable from roots, assigns
// each unresolved node's BuildOrder level, and returns the build chain:
// the names grouped level by level, in the order orchestrate should build
// them (every name in chain[i] can build as soon as every name in
// chain[0..i-1] has completed).
func (r *Resolver) Resolve(ctx context.Context, roots []string) (rpmhub.DependencyGraph, [][]string, error) {
	return r.resolve(ctx, roots, nil, nil, nil)
}

// ResolveFromArchive behaves like Resolve for a single root package whose
// source archive the caller already possesses on disk: analyzeRoot
// extracts the root's PackageInfo (and its Name) directly from
// rootArchivePath instead of r.Load re-fetching it by name, and the root is
// always treated as needing a build regardless of what the hub already has
// tagged — per spec.md §4.G step 1, "Create the root node with
// isAvailable=false."
func (r *Resolver) ResolveFromArchive(ctx context.Context, rootArchivePath string, analyzeRoot func(ctx context.Context, archivePath string) (*rpmhub.PackageInfo, error)) (rpmhub.DependencyGraph, [][]string, error) {
	info, err := analyzeRoot(ctx, rootArchivePath)
	if err != nil {
		return nil, nil, err
	}
	rootName := info.Name
	preInfo := map[string]*rpmhub.PackageInfo{rootName: info}
	preArchive := map[string]string{rootName: rootArchivePath}
	forceBuild := map[string]bool{rootName: true}
	return r.resolve(ctx, []string{rootName}, preInfo, preArchive, forceBuild)
}

func (r *Resolver) resolve(ctx context.Context, roots []string, preInfo map[string]*rpmhub.PackageInfo, preArchive map[string]string, forceBuild map[string]bool) (rpmhub.DependencyGraph, [][]string, error) {
	dg := make(rpmhub.DependencyGraph)
	g := simple.NewDirectedGraph()
	nodes := make(map[string]*pkgNode)
	var nextID int64

	nodeFor := func(name string) *pkgNode {
		if n, ok := nodes[name]; ok {
			return n
		}
		n := &pkgNode{id: nextID, name: name}
		nextID++
		nodes[name] = n
		g.AddNode(n)
		return n
	}

	queue := append([]string(nil), roots...)
	seen := make(map[string]bool, len(roots))
	// rawReq remembers, for each canonical name, the BuildRequirement token
	// that first introduced it — its pre-canonicalization Name and any
	// version constraint — so the Fallback rule (spec.md §4.G step 2) and
	// version comparison both have the original token to work with.
	rawReq := make(map[string]rpmhub.BuildRequirement, len(roots))
	// mlHint remembers, for each canonical name, the source/srpm name
	// MLFallback predicted alongside it (spec.md §4.D), so Load can prefer
	// it over the rule-based CandidateSourceNames guesses.
	mlHint := make(map[string]string, len(roots))
	for _, root := range roots {
		seen[root] = true
		rawReq[root] = rpmhub.BuildRequirement{Name: root}
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		nodeFor(name)

		if !forceBuild[name] {
			available, err := checkAvailable(ctx, r.Available, name, rawReq[name])
			if err != nil {
				return nil, nil, err
			}
			if available {
				dg[name] = &rpmhub.DependencyNode{Name: name, IsAvailable: true, Dependencies: map[string]struct{}{}, BuildOrder: -1}
				continue
			}
		}

		var info *rpmhub.PackageInfo
		var archivePath string
		if pi, ok := preInfo[name]; ok {
			info, archivePath = pi, preArchive[name]
		} else {
			var err error
			info, archivePath, err = r.Load(ctx, name, mlHint[name])
			if err != nil {
				return nil, nil, err
			}
		}

		deps := make(map[string]struct{}, len(info.BuildRequires))
		for _, req := range info.BuildRequires {
			canonical, mlSourceName, err := r.Canon.CanonicalizeWithSource(req.Name)
			if err != nil {
				if _, ok := err.(*rpmhub.NameResolutionError); !ok {
					return nil, nil, err
				}
				// Name resolution exhausted: treat the raw token as the
				// package name rather than failing the whole graph.
				r.logf("depgraph: could not resolve %q; using the token itself", req.Name)
				canonical, mlSourceName = req.Name, ""
			}
			deps[canonical] = struct{}{}
			g.SetEdge(g.NewEdge(nodeFor(canonical), nodeFor(name))) // dep -> dependent
			if !seen[canonical] {
				seen[canonical] = true
				rawReq[canonical] = req
				mlHint[canonical] = mlSourceName
				queue = append(queue, canonical)
			}
		}

		dg[name] = &rpmhub.DependencyNode{
			Name:         name,
			ArchivePath:  archivePath,
			Info:         info,
			Dependencies: deps,
			BuildOrder:   -1,
		}
	}

	if _, err := topo.Sort(g); err != nil {
		uo, ok := err.(topo.Unorderable)
		if !ok {
			return nil, nil, err
		}
		return nil, nil, &rpmhub.CircularDependencyError{Members: memberNames(uo)}
	}

	chain, err := assignLevels(g, nodes, dg)
	if err != nil {
		return nil, nil, err
	}
	return dg, chain, nil
}

// checkAvailable implements spec.md §4.G step 2's Fallback rule: check the
// canonical name first, and if the hub doesn't have it, retry with req's
// original pre-canonicalization token (when that differs from canonical at
// all); either one being present satisfies the requirement.
func checkAvailable(ctx context.Context, avail AvailabilityChecker, canonical string, req rpmhub.BuildRequirement) (bool, error) {
	ok, err := avail(ctx, canonical, req)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	if req.Name == "" || req.Name == canonical {
		return false, nil
	}
	return avail(ctx, req.Name, req)
}

// assignLevels runs Kahn's algorithm over g, treating already-available
// nodes as pre-satisfied (contributing no in-degree), and assigns each
// remaining node's rpmhub.DependencyNode.BuildOrder. Ties within a level
// are broken lexicographically so the same graph always produces the same
// chain.
func assignLevels(g *simple.DirectedGraph, nodes map[string]*pkgNode, dg rpmhub.DependencyGraph) ([][]string, error) {
	indegree := make(map[string]int)
	for name, node := range dg {
		if node.IsAvailable {
			continue
		}
		indegree[name] = 0
	}
	for name := range indegree {
		n := nodes[name]
		it := g.To(n.ID())
		for it.Next() {
			predName := it.Node().(*pkgNode).name
			if !dg[predName].IsAvailable {
				indegree[name]++
			}
		}
	}

	remaining := make(map[string]bool, len(indegree))
	for name := range indegree {
		remaining[name] = true
	}

	var chain [][]string
	level := 0
	for len(remaining) > 0 {
		var current []string
		for name := range remaining {
			if indegree[name] == 0 {
				current = append(current, name)
			}
		}
		if len(current) == 0 {
			return nil, xerrors.Errorf("depgraph: leveling stalled with %d nodes remaining (graph is not acyclic)", len(remaining))
		}
		sort.Strings(current)

		for _, name := range current {
			dg[name].BuildOrder = level
			delete(remaining, name)
			n := nodes[name]
			it := g.From(n.ID())
			for it.Next() {
				succName := it.Node().(*pkgNode).name
				if remaining[succName] {
					indegree[succName]--
				}
			}
		}
		chain = append(chain, current)
		level++
	}
	return chain, nil
}

func memberNames(uo topo.Unorderable) []string {
	var names []string
	for _, component := range uo {
		for _, n := range component {
			names = append(names, n.(*pkgNode).name)
		}
	}
	sort.Strings(names)
	return names
}
