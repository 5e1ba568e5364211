package hub

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.rpmhub.dev/build"
)

// fakeHubScript writes a tiny shell script that stands in for the real hub
// CLI during tests, dispatching on its first argument the way the real
// distri/ratt-style exec.CommandContext call sites expect a single
// subcommand-style binary to behave.
func fakeHubScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake hub script requires a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-hub")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestListPackagesParsesAndMemoizes(t *testing.T) {
	calls := filepath.Join(t.TempDir(), "calls")
	script := fakeHubScript(t, `
echo called >> `+calls+`
echo '["foo", "bar"]'
`)
	c := New(script, "x86_64")
	set, err := c.ListPackages(context.Background(), "stable")
	if err != nil {
		t.Fatalf("ListPackages: %v", err)
	}
	if !set["foo"] || !set["bar"] {
		t.Errorf("set = %v, want foo and bar present", set)
	}

	if _, err := c.ListPackages(context.Background(), "stable"); err != nil {
		t.Fatalf("second ListPackages: %v", err)
	}
	data, _ := os.ReadFile(calls)
	if got := countLines(string(data)); got != 1 {
		t.Errorf("hub CLI invoked %d times, want 1 (memoized)", got)
	}
}

func TestListTaggedBuildsReturnsNVRMapping(t *testing.T) {
	script := fakeHubScript(t, `echo '{"foo": "foo-1.2-3", "bar": "bar-4.5-6"}'`)
	c := New(script, "x86_64")
	nvrs, err := c.ListTaggedBuilds(context.Background(), "stable")
	if err != nil {
		t.Fatalf("ListTaggedBuilds: %v", err)
	}
	if nvrs["foo"] != "foo-1.2-3" || nvrs["bar"] != "bar-4.5-6" {
		t.Errorf("nvrs = %v, want foo/bar NVRs", nvrs)
	}
}

func TestInvalidateForcesRequery(t *testing.T) {
	calls := filepath.Join(t.TempDir(), "calls")
	script := fakeHubScript(t, `
echo called >> `+calls+`
echo '[]'
`)
	c := New(script, "x86_64")
	if _, err := c.ListPackages(context.Background(), "stable"); err != nil {
		t.Fatal(err)
	}
	c.Invalidate("stable")
	if _, err := c.ListPackages(context.Background(), "stable"); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(calls)
	if got := countLines(string(data)); got != 2 {
		t.Errorf("hub CLI invoked %d times after Invalidate, want 2", got)
	}
}

func TestInvalidateAlsoClearsNVRCache(t *testing.T) {
	calls := filepath.Join(t.TempDir(), "calls")
	script := fakeHubScript(t, `
echo called >> `+calls+`
echo '{}'
`)
	c := New(script, "x86_64")
	if _, err := c.ListTaggedBuilds(context.Background(), "stable"); err != nil {
		t.Fatal(err)
	}
	c.Invalidate("stable")
	if _, err := c.ListTaggedBuilds(context.Background(), "stable"); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(calls)
	if got := countLines(string(data)); got != 2 {
		t.Errorf("hub CLI invoked %d times after Invalidate, want 2", got)
	}
}

func TestSubmitBuildParsesTaskID(t *testing.T) {
	script := fakeHubScript(t, `echo '{"task_id": 42}'`)
	c := New(script, "x86_64")
	id, err := c.SubmitBuild(context.Background(), "/tmp/foo-1.0.src.rpm", SubmitFlags{})
	if err != nil {
		t.Fatalf("SubmitBuild: %v", err)
	}
	if id != 42 {
		t.Errorf("task ID = %d, want 42", id)
	}
}

func TestSubmitBuildPassesScratchAndNoWaitFlags(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	script := fakeHubScript(t, `
echo "$@" > `+argsFile+`
echo '{"task_id": 7}'
`)
	c := New(script, "x86_64")
	if _, err := c.SubmitBuild(context.Background(), "/tmp/foo-1.0.src.rpm", SubmitFlags{Scratch: true, NoWait: true}); err != nil {
		t.Fatalf("SubmitBuild: %v", err)
	}
	data, _ := os.ReadFile(argsFile)
	args := string(data)
	for _, want := range []string{"--scratch", "--nowait", "--target x86_64"} {
		if !strings.Contains(args, want) {
			t.Errorf("CLI args %q missing %q", args, want)
		}
	}
}

func TestSetConnectionPrependsGlobalFlags(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	script := fakeHubScript(t, `
echo "$@" > `+argsFile+`
echo '[]'
`)
	c := New(script, "x86_64")
	c.SetConnection("https://hub.example.com", "/etc/pki/client.pem", "/etc/pki/ca.pem")
	if _, err := c.ListPackages(context.Background(), "stable"); err != nil {
		t.Fatalf("ListPackages: %v", err)
	}
	data, _ := os.ReadFile(argsFile)
	args := string(data)
	if !strings.HasPrefix(args, "--server https://hub.example.com --cert /etc/pki/client.pem --serverca /etc/pki/ca.pem ") {
		t.Errorf("CLI args %q do not start with the connection flags", args)
	}
}

func TestWaitForRepoReturnsOnceVisible(t *testing.T) {
	script := fakeHubScript(t, `echo '["foo"]'`)
	c := New(script, "x86_64")
	if err := c.WaitForRepo(context.Background(), "stable", "foo", time.Minute); err != nil {
		t.Fatalf("WaitForRepo: %v", err)
	}
}

func TestWaitForRepoTimesOutWithHubBuildError(t *testing.T) {
	script := fakeHubScript(t, `echo '[]'`)
	c := New(script, "x86_64")
	err := c.WaitForRepo(context.Background(), "stable", "foo", time.Millisecond)
	buildErr, ok := err.(*rpmhub.HubBuildError)
	if !ok {
		t.Fatalf("err = %v (%T), want *rpmhub.HubBuildError", err, err)
	}
	if buildErr.Kind != rpmhub.HubBuildTimeout {
		t.Errorf("Kind = %v, want %v", buildErr.Kind, rpmhub.HubBuildTimeout)
	}
}

func TestStatusMapsHubStates(t *testing.T) {
	for _, tt := range []struct {
		hubState string
		want     rpmhub.TaskStatus
	}{
		{"pending", rpmhub.StatusPending},
		{"running", rpmhub.StatusBuilding},
		{"closed", rpmhub.StatusComplete},
		{"failed", rpmhub.StatusFailed},
		{"canceled", rpmhub.StatusCanceled},
	} {
		script := fakeHubScript(t, `echo '{"state": "`+tt.hubState+`", "message": "ok"}'`)
		c := New(script, "x86_64")
		got, _, err := c.Status(context.Background(), 1)
		if err != nil {
			t.Fatalf("Status(%q): %v", tt.hubState, err)
		}
		if got != tt.want {
			t.Errorf("Status(%q) = %v, want %v", tt.hubState, got, tt.want)
		}
	}
}

func TestRunCLIMissingYieldsHubConnectionError(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "does-not-exist"), "x86_64")
	_, err := c.ListTaggedBuilds(context.Background(), "stable")
	connErr, ok := err.(*rpmhub.HubConnectionError)
	if !ok {
		t.Fatalf("err = %v (%T), want *rpmhub.HubConnectionError", err, err)
	}
	if connErr.Kind != rpmhub.HubConnCLIMissing {
		t.Errorf("Kind = %v, want %v", connErr.Kind, rpmhub.HubConnCLIMissing)
	}
}

func TestCancelSwallowsNonMissingCLIFailure(t *testing.T) {
	script := fakeHubScript(t, `echo "already finished" >&2; exit 1`)
	c := New(script, "x86_64")
	if err := c.Cancel(context.Background(), 7); err != nil {
		t.Errorf("Cancel: %v, want nil (best-effort)", err)
	}
}

func countLines(s string) int {
	n := 0
	for _, r := range s {
		if r == '\n' {
			n++
		}
	}
	return n
}
