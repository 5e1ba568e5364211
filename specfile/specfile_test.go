package specfile

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.rpmhub.dev/build"
)

func TestAnalyzeBasic(t *testing.T) {
	data := []byte(`
Name: foo
Version: 1.2.3
Release: 1%{?dist}
Source0: https://example.com/foo-1.2.3.tar.gz
BuildRequires: gcc >= 9.0, make
BuildRequires: python3dist(requests)
`)
	info, warnings, err := Analyze(data, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	want := &rpmhub.PackageInfo{
		Name:    "foo",
		Version: "1.2.3",
		Release: "1.el9",
		BuildRequires: []rpmhub.BuildRequirement{
			{Name: "gcc", Operator: rpmhub.OpGE, Version: "9.0"},
			{Name: "make"},
			{Name: "python3dist(requests)"},
		},
		SourceURLs: []string{"https://example.com/foo-1.2.3.tar.gz"},
	}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("Analyze mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzeMissingName(t *testing.T) {
	_, _, err := Analyze([]byte("Version: 1.0\n"), nil)
	if _, ok := err.(*rpmhub.SpecParseError); !ok {
		t.Fatalf("Analyze: got %v (%T), want *rpmhub.SpecParseError", err, err)
	}
}

func TestAnalyzeMissingVersion(t *testing.T) {
	_, _, err := Analyze([]byte("Name: foo\n"), nil)
	if _, ok := err.(*rpmhub.SpecParseError); !ok {
		t.Fatalf("Analyze: got %v (%T), want *rpmhub.SpecParseError", err, err)
	}
}

func TestAnalyzeUnresolvedMacroWarns(t *testing.T) {
	data := []byte("Name: foo\nVersion: %{totally_unknown_macro}\n")
	info, warnings, err := Analyze(data, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly 1", warnings)
	}
	if info.Version != "%{totally_unknown_macro}" {
		t.Errorf("Version = %q, want macro left verbatim", info.Version)
	}
}

func TestAnalyzeMultipleBuildRequiresLinesConcatenate(t *testing.T) {
	data := []byte("Name: foo\nVersion: 1\nBuildRequires: a\nBuildRequires: b c\n")
	info, _, err := Analyze(data, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	var got []string
	for _, r := range info.BuildRequires {
		got = append(got, r.Name)
	}
	want := []string{"a", "b", "c"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("BuildRequires mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandMacrosKnown(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want string
	}{
		{"%{python3_pkgversion}-devel", "3-devel"},
		{"%{_bindir}/foo", "/usr/bin/foo"},
		{"%{?missing}-tail", "-tail"},
	} {
		got, unresolved := ExpandMacros(tt.in)
		if got != tt.want {
			t.Errorf("ExpandMacros(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if len(unresolved) != 0 {
			t.Errorf("ExpandMacros(%q) unresolved = %v, want none", tt.in, unresolved)
		}
	}
}

func TestExpandMacrosUnknownPreservedVerbatim(t *testing.T) {
	got, unresolved := ExpandMacros("%{totally_unknown}")
	if got != "%{totally_unknown}" {
		t.Errorf("expandMacros = %q, want verbatim", got)
	}
	if len(unresolved) != 1 || unresolved[0] != "totally_unknown" {
		t.Errorf("unresolved = %v, want [totally_unknown]", unresolved)
	}
}
