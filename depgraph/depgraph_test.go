package depgraph

import (
	"context"
	"testing"

	"go.rpmhub.dev/build"
	"go.rpmhub.dev/build/canon"
)

// fakeWorld is a tiny in-memory package universe for resolver tests: name
// -> BuildRequires names. Names not present in specs are treated as
// already available on the hub.
type fakeWorld struct {
	specs map[string][]string
}

func (w *fakeWorld) available(_ context.Context, name string, _ rpmhub.BuildRequirement) (bool, error) {
	_, known := w.specs[name]
	return !known, nil
}

func (w *fakeWorld) load(_ context.Context, name, _ string) (*rpmhub.PackageInfo, string, error) {
	var reqs []rpmhub.BuildRequirement
	for _, d := range w.specs[name] {
		reqs = append(reqs, rpmhub.BuildRequirement{Name: d})
	}
	return &rpmhub.PackageInfo{Name: name, Version: "1", BuildRequires: reqs}, "/archives/" + name + ".src.rpm", nil
}

func newResolver(w *fakeWorld) *Resolver {
	return &Resolver{
		Canon:     canon.New(rpmhub.NameResolutionRulesOnly, nil),
		Available: w.available,
		Load:      w.load,
	}
}

func TestResolveLinearChain(t *testing.T) {
	w := &fakeWorld{specs: map[string][]string{
		"top":    {"mid"},
		"mid":    {"bottom"},
		"bottom": {},
	}}
	r := newResolver(w)
	dg, chain, err := r.Resolve(context.Background(), []string{"top"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("chain = %v, want 3 levels", chain)
	}
	if chain[0][0] != "bottom" || chain[1][0] != "mid" || chain[2][0] != "top" {
		t.Errorf("chain = %v, want [[bottom] [mid] [top]]", chain)
	}
	if dg["top"].BuildOrder != 2 {
		t.Errorf("top BuildOrder = %d, want 2", dg["top"].BuildOrder)
	}
}

func TestResolveDiamondGroupsSameLevel(t *testing.T) {
	w := &fakeWorld{specs: map[string][]string{
		"top":   {"left", "right"},
		"left":  {"base"},
		"right": {"base"},
		"base":  {},
	}}
	r := newResolver(w)
	dg, chain, err := r.Resolve(context.Background(), []string{"top"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("chain = %v, want 3 levels", chain)
	}
	if len(chain[1]) != 2 || chain[1][0] != "left" || chain[1][1] != "right" {
		t.Errorf("chain[1] = %v, want [left right] (lexicographic tie-break)", chain[1])
	}
	if dg["base"].BuildOrder != 0 {
		t.Errorf("base BuildOrder = %d, want 0", dg["base"].BuildOrder)
	}
}

func TestResolveStopsAtAvailablePackages(t *testing.T) {
	w := &fakeWorld{specs: map[string][]string{
		"top": {"already-built"},
	}}
	r := newResolver(w)
	dg, chain, err := r.Resolve(context.Background(), []string{"top"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !dg["already-built"].IsAvailable {
		t.Error("already-built should be marked IsAvailable")
	}
	if len(chain) != 1 || chain[0][0] != "top" {
		t.Errorf("chain = %v, want a single level containing only top", chain)
	}
}

func TestResolveDetectsCircularDependency(t *testing.T) {
	w := &fakeWorld{specs: map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}}
	r := newResolver(w)
	_, _, err := r.Resolve(context.Background(), []string{"a"})
	circErr, ok := err.(*rpmhub.CircularDependencyError)
	if !ok {
		t.Fatalf("err = %v (%T), want *rpmhub.CircularDependencyError", err, err)
	}
	if len(circErr.Members) != 2 {
		t.Errorf("Members = %v, want 2 entries", circErr.Members)
	}
}

func TestResolveFallsBackToPreCanonicalToken(t *testing.T) {
	// python3-flask is a known spec (forcing the canonical-name availability
	// check to fail), but the hub's literal, pre-canonicalization token
	// "python3dist(flask)" is absent from specs, so fakeWorld.available
	// treats it as already built. The Fallback rule should accept that and
	// stop descent before ever loading python3-flask's own BuildRequires.
	w := &fakeWorld{specs: map[string][]string{
		"top":           {"python3dist(flask)"},
		"python3-flask": {"should-not-be-queued"},
	}}
	r := newResolver(w)
	dg, chain, err := r.Resolve(context.Background(), []string{"top"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if node, ok := dg["python3-flask"]; !ok || !node.IsAvailable {
		t.Errorf("python3-flask = %+v, want IsAvailable via the pre-canonical fallback token", node)
	}
	if _, queued := dg["should-not-be-queued"]; queued {
		t.Errorf("fallback should have stopped descent, but should-not-be-queued was reached: %v", dg)
	}
	if len(chain) != 1 || chain[0][0] != "top" {
		t.Errorf("chain = %v, want a single level containing only top", chain)
	}
}

func TestResolveUsesRawTokenWhenResolutionRefuses(t *testing.T) {
	// With name resolution off, Canonicalize returns NameResolutionError
	// for any token the rewrite table does not match. The resolver must
	// fall back to the token itself instead of failing the graph.
	w := &fakeWorld{specs: map[string][]string{
		"top": {"gcc"},
	}}
	r := newResolver(w)
	r.Canon = canon.New(rpmhub.NameResolutionOff, nil)
	dg, chain, err := r.Resolve(context.Background(), []string{"top"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if node, ok := dg["gcc"]; !ok || !node.IsAvailable {
		t.Errorf("gcc node = %+v, want present and available via the raw token", node)
	}
	if len(chain) != 1 || chain[0][0] != "top" {
		t.Errorf("chain = %v, want a single level containing only top", chain)
	}
}

func TestResolveCanonicalizesVirtualProvides(t *testing.T) {
	w := &fakeWorld{specs: map[string][]string{
		"top": {"python3dist(requests)"},
	}}
	r := newResolver(w)
	dg, _, err := r.Resolve(context.Background(), []string{"top"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, ok := dg["python3-requests"]; !ok {
		t.Errorf("dependency graph = %v, want a node for canonicalized name python3-requests", dg)
	}
}
