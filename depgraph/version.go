package depgraph

import (
	"strings"

	"github.com/hashicorp/go-version"
	"golang.org/x/xerrors"

	"go.rpmhub.dev/build"
)

// VersionSatisfies reports whether nvr (the hub's reported
// name-version-release string for name, e.g. "foo-1.2.3-4") satisfies req's
// operator and version constraint. An unversioned requirement
// (req.Operator == rpmhub.OpNone) is satisfied by presence alone, without
// parsing nvr at all.
func VersionSatisfies(name, nvr string, req rpmhub.BuildRequirement) bool {
	if req.Operator == rpmhub.OpNone {
		return true
	}
	got, err := versionFromNVR(name, nvr)
	if err != nil {
		return false
	}
	want, err := version.NewVersion(req.Version)
	if err != nil {
		return false
	}
	cmp := got.Compare(want)
	switch req.Operator {
	case rpmhub.OpEQ:
		return cmp == 0
	case rpmhub.OpLT:
		return cmp < 0
	case rpmhub.OpLE:
		return cmp <= 0
	case rpmhub.OpGT:
		return cmp > 0
	case rpmhub.OpGE:
		return cmp >= 0
	case rpmhub.OpCompat:
		return sameMajorMinor(got, want) && cmp >= 0
	default:
		return false
	}
}

// versionFromNVR strips name's "name-" prefix off nvr and the trailing
// "-release" segment, parsing what remains as a version.
func versionFromNVR(name, nvr string) (*version.Version, error) {
	rest := strings.TrimPrefix(nvr, name+"-")
	if rest == nvr {
		return nil, xerrors.Errorf("depgraph: NVR %q does not start with name %q", nvr, name)
	}
	idx := strings.LastIndex(rest, "-")
	if idx < 0 {
		return nil, xerrors.Errorf("depgraph: NVR %q has no release separator", nvr)
	}
	return version.NewVersion(rest[:idx])
}

// sameMajorMinor reports whether a and b agree on their first two version
// segments, the compatibility test spec.md's "~=" operator requires.
func sameMajorMinor(a, b *version.Version) bool {
	as, bs := a.Segments(), b.Segments()
	if len(as) < 2 || len(bs) < 2 {
		return false
	}
	return as[0] == bs[0] && as[1] == bs[1]
}
