package srpm

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"go.rpmhub.dev/build"
)

func TestValidateMagicRejectsNonRPM(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-an-rpm.txt")
	if err := os.WriteFile(path, []byte("plain text, not an rpm"), 0644); err != nil {
		t.Fatal(err)
	}
	err := validateMagic(path)
	if _, ok := err.(*rpmhub.InvalidArchiveError); !ok {
		t.Fatalf("validateMagic: got %v (%T), want *rpmhub.InvalidArchiveError", err, err)
	}
}

func TestValidateMagicAcceptsRPMLead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fake.src.rpm")
	if err := os.WriteFile(path, rpmLeadMagic, 0644); err != nil {
		t.Fatal(err)
	}
	if err := validateMagic(path); err != nil {
		t.Errorf("validateMagic: %v", err)
	}
}

func TestFindSingleSpecRequiresExactlyOne(t *testing.T) {
	dir := t.TempDir()
	if _, err := findSingleSpec(dir); err == nil {
		t.Fatal("expected error when no .spec file is present")
	}

	if err := os.WriteFile(filepath.Join(dir, "foo.spec"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	got, err := findSingleSpec(dir)
	if err != nil {
		t.Fatalf("findSingleSpec: %v", err)
	}
	if want := filepath.Join(dir, "foo.spec"); got != want {
		t.Errorf("findSingleSpec = %q, want %q", got, want)
	}

	if err := os.WriteFile(filepath.Join(dir, "bar.spec"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := findSingleSpec(dir); err == nil {
		t.Fatal("expected error when multiple .spec files are present")
	}
}

// TestRequiresAgainstRealRPM is a placeholder for an end-to-end Requires
// check: it skips when rpm/rpmbuild are absent from the host, the way
// Debian/ratt.go skips dose-ceve-dependent behavior, and otherwise skips as
// well, since no real SRPM fixture is built here. It does not call
// Requires.
func TestRequiresAgainstRealRPM(t *testing.T) {
	if _, err := exec.LookPath("rpm"); err != nil {
		t.Skip("rpm(1) not installed on this host")
	}
	if _, err := exec.LookPath("rpmbuild"); err != nil {
		t.Skip("rpmbuild(1) not installed on this host")
	}
	t.Skip("building a real SRPM fixture is environment-specific; covered by integration tests")
}
