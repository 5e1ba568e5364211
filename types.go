package rpmhub

import (
	"fmt"
	"strings"
)

// Operator is one of the RPM-style version comparison operators that can
// appear in a BuildRequires token, or the empty Operator for an unversioned
// requirement.
type Operator string

// Recognized operators. "==" is accepted on parse and normalized to OpEQ.
const (
	OpNone    Operator = ""
	OpEQ      Operator = "="
	OpLT      Operator = "<"
	OpLE      Operator = "<="
	OpGT      Operator = ">"
	OpGE      Operator = ">="
	OpCompat  Operator = "~="
)

// BuildRequirement is one parsed entry of a spec file's BuildRequires
// header, e.g. "gcc >= 9.0" or "python3dist(requests)".
//
// Operator and Version are either both set or both empty; see String and
// ParseBuildRequirement.
type BuildRequirement struct {
	Name     string
	Operator Operator
	Version  string
}

// String renders the requirement back into "name op version" form, or just
// "name" if unversioned.
func (r BuildRequirement) String() string {
	if r.Operator == OpNone {
		return r.Name
	}
	return fmt.Sprintf("%s %s %s", r.Name, r.Operator, r.Version)
}

// ParseBuildRequirement parses a single whitespace-separated token of the
// form "name", "name op version", or a virtual-provide token such as
// "python3dist(requests)" (left in Name verbatim; canonicalization happens
// in package canon, not here).
func ParseBuildRequirement(tok string) (BuildRequirement, error) {
	fields := strings.Fields(tok)
	switch len(fields) {
	case 0:
		return BuildRequirement{}, fmt.Errorf("rpmhub: empty requirement token")
	case 1:
		return BuildRequirement{Name: fields[0]}, nil
	case 3:
		op := Operator(fields[1])
		if op == "==" {
			op = OpEQ
		}
		switch op {
		case OpEQ, OpLT, OpLE, OpGT, OpGE, OpCompat:
		default:
			return BuildRequirement{}, fmt.Errorf("rpmhub: unknown operator %q in requirement %q", fields[1], tok)
		}
		return BuildRequirement{Name: fields[0], Operator: op, Version: fields[2]}, nil
	default:
		return BuildRequirement{}, fmt.Errorf("rpmhub: cannot parse requirement %q", tok)
	}
}

// PackageInfo is the identity, version, and build-time requirement metadata
// extracted from a spec file. It is created once and never mutated
// afterwards.
type PackageInfo struct {
	Name          string
	Version       string
	Release       string
	Epoch         string // "" if the spec carries no Epoch header
	BuildRequires []BuildRequirement
	SourceURLs    []string
}

// NVR returns the conventional name-version-release identifier.
func (p PackageInfo) NVR() string {
	return p.Name + "-" + p.Version + "-" + p.Release
}

// DependencyNode is one package in a DependencyGraph. Its fields IsAvailable,
// Dependencies, and BuildOrder are set exactly once by package depgraph
// during graph construction and leveling.
type DependencyNode struct {
	Name        string
	ArchivePath string // "" if IsAvailable
	Info        *PackageInfo // nil if IsAvailable and never unpacked

	Dependencies map[string]struct{}
	IsAvailable  bool

	// BuildOrder is the level this node belongs to in the build chain. It is
	// -1 until DependencyResolver assigns it.
	BuildOrder int
}

// DependencyGraph maps a package name to its node. Edges are represented as
// names stored in Dependencies, not pointers, so the graph has no cyclic
// Go-level ownership and serializes trivially.
type DependencyGraph map[string]*DependencyNode

// TaskStatus is the lifecycle state of a BuildTask.
type TaskStatus string

// Build task states. PENDING is the initial state; COMPLETE, FAILED, and
// CANCELED are terminal.
const (
	StatusPending  TaskStatus = "PENDING"
	StatusBuilding TaskStatus = "BUILDING"
	StatusComplete TaskStatus = "COMPLETE"
	StatusFailed   TaskStatus = "FAILED"
	StatusCanceled TaskStatus = "CANCELED"
)

// Terminal reports whether s is one of the absorbing states.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// BuildTask tracks one submission to the hub. Status, TaskID, NVR, and
// ErrorMessage evolve monotonically toward a terminal status.
type BuildTask struct {
	PackageName string
	ArchivePath string
	Target      string
	TaskID      int // 0 if not yet submitted
	Status      TaskStatus
	ErrorMessage string
	NVR         string
}

// BuildResult is the outcome of a build run. It is always returned, never
// raised as an error, for any run that reached the submission stage.
type BuildResult struct {
	Success        bool
	Tasks          []*BuildTask
	BuiltPackages  []string
	FailedPackages []string
	TotalSeconds   float64
}

// NameResolutionMode selects how aggressively NameCanonicalizer resolves
// tokens that the rule table does not cover.
type NameResolutionMode string

// Supported name resolution modes.
const (
	NameResolutionOff       NameResolutionMode = "off"
	NameResolutionRulesOnly NameResolutionMode = "rules-only"
	NameResolutionRulesML   NameResolutionMode = "rules+ml"
)

// ResolverConfig carries the caller-supplied knobs that govern graph
// resolution and orchestration.
type ResolverConfig struct {
	HubBuildTag         string
	HubTarget           string
	ArchiveCacheDir     string
	MaxParallelPerLevel int
	NameResolutionMode  NameResolutionMode
	MLModelPath         string
}

// Clone returns a shallow copy of c, the way callers fan configuration out
// to per-package build contexts without aliasing the original.
func (c ResolverConfig) Clone() ResolverConfig {
	return c
}
