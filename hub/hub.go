// Package hub implements HubClient: the thin shell-out wrapper around an
// external build-hub CLI that submits builds, polls task status, and lists
// what the hub already has tagged as built.
//
// The shape follows distri's internal/build.go, which drives every external
// tool (rpmbuild analogues, mount helpers, compressors) through
// os/exec.CommandContext and a captured output buffer rather than a
// per-tool Go client library — there is no Go SDK for an in-house build hub
// CLI, so this is the only idiomatic option. Submission and status-poll
// calls are wrapped in internal/retry.Hub, the same exponential-backoff
// policy distri's build.go applies around its own flaky subprocess calls.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"go.rpmhub.dev/build"
	"go.rpmhub.dev/build/internal/retry"
)

// Client talks to the build hub through its command-line interface. The
// zero value is not usable; construct one with New.
type Client struct {
	cliPath   string
	target    string
	connFlags []string

	tagMu    sync.Mutex
	pkgCache map[string]map[string]bool   // tag -> set of built package names (listPackages)
	nvrCache map[string]map[string]string // tag -> name -> nvr (listTaggedBuilds)
}

// New returns a Client that invokes cliPath (normally "hub" on $PATH) for
// every operation, scoped to target (the hub's build target/architecture).
func New(cliPath, target string) *Client {
	if cliPath == "" {
		cliPath = "hub"
	}
	return &Client{
		cliPath:  cliPath,
		target:   target,
		pkgCache: make(map[string]map[string]bool),
		nvrCache: make(map[string]map[string]string),
	}
}

// looksPermanent reports whether a hub CLI's stderr indicates a failure
// that retrying cannot fix — an authentication/authorization rejection, or
// the hub telling us the package itself doesn't exist — per spec.md §7's
// retry policy: "only transient-looking failures are retried; authentication
// failures and 'package not found' are surfaced immediately."
func looksPermanent(stderr string) (rpmhub.HubConnectionErrorKind, bool) {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "unauthorized"),
		strings.Contains(s, "authentication"),
		strings.Contains(s, "permission denied"),
		strings.Contains(s, "forbidden"):
		return rpmhub.HubConnAuth, true
	case strings.Contains(s, "not found"),
		strings.Contains(s, "no such package"),
		strings.Contains(s, "no such build"):
		return rpmhub.HubConnTransport, true
	}
	return "", false
}

// SetConnection sets the hub endpoint and TLS identity passed to every CLI
// invocation as global flags (--server, --cert, --serverca), whichever are
// non-empty.
func (c *Client) SetConnection(server, clientCert, serverCA string) {
	c.connFlags = nil
	if server != "" {
		c.connFlags = append(c.connFlags, "--server", server)
	}
	if clientCert != "" {
		c.connFlags = append(c.connFlags, "--cert", clientCert)
	}
	if serverCA != "" {
		c.connFlags = append(c.connFlags, "--serverca", serverCA)
	}
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	args = append(append([]string(nil), c.connFlags...), args...)
	cmd := exec.CommandContext(ctx, c.cliPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// A bare name not found on $PATH yields *exec.Error; an explicit
		// path to a missing file yields a not-exist *fs.PathError.
		if _, ok := err.(*exec.Error); ok || errors.Is(err, fs.ErrNotExist) {
			connErr := &rpmhub.HubConnectionError{Kind: rpmhub.HubConnCLIMissing, Err: err}
			return nil, &retry.Permanent{Err: connErr}
		}
		connErr := &rpmhub.HubConnectionError{
			Kind: rpmhub.HubConnTransport,
			Err:  xerrors.Errorf("%s %s: %v: %s", c.cliPath, strings.Join(args, " "), err, stderr.String()),
		}
		if kind, permanent := looksPermanent(stderr.String()); permanent {
			connErr.Kind = kind
			return nil, &retry.Permanent{Err: connErr}
		}
		return nil, connErr
	}
	return stdout.Bytes(), nil
}

// ListPackages returns the set of binary package names the hub already has
// built and tagged under tag (spec.md §4.E's listPackages), memoized until
// Invalidate(tag) is called.
func (c *Client) ListPackages(ctx context.Context, tag string) (map[string]bool, error) {
	c.tagMu.Lock()
	if cached, ok := c.pkgCache[tag]; ok {
		c.tagMu.Unlock()
		return cached, nil
	}
	c.tagMu.Unlock()

	var out []byte
	err := retry.Hub.Do(ctx, func(int) error {
		var runErr error
		out, runErr = c.run(ctx, "list-tag", tag, "--json")
		return runErr
	})
	if err != nil {
		return nil, err
	}

	var names []string
	if jsonErr := json.Unmarshal(out, &names); jsonErr != nil {
		return nil, &rpmhub.HubConnectionError{Kind: rpmhub.HubConnTransport, Err: jsonErr}
	}

	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}

	c.tagMu.Lock()
	c.pkgCache[tag] = set
	c.tagMu.Unlock()
	return set, nil
}

// ListTaggedBuilds returns the hub's name-to-NVR mapping for everything
// tagged under tag (spec.md §4.E's listTaggedBuilds), memoized separately
// from ListPackages until Invalidate(tag) is called. depgraph's
// availability filter uses this alongside depgraph.VersionSatisfies to
// compare a BuildRequirement's version constraint against what the hub
// actually has tagged.
func (c *Client) ListTaggedBuilds(ctx context.Context, tag string) (map[string]string, error) {
	c.tagMu.Lock()
	if cached, ok := c.nvrCache[tag]; ok {
		c.tagMu.Unlock()
		return cached, nil
	}
	c.tagMu.Unlock()

	var out []byte
	err := retry.Hub.Do(ctx, func(int) error {
		var runErr error
		out, runErr = c.run(ctx, "list-tag", tag, "--json", "--nvr")
		return runErr
	})
	if err != nil {
		return nil, err
	}

	var nvrs map[string]string
	if jsonErr := json.Unmarshal(out, &nvrs); jsonErr != nil {
		return nil, &rpmhub.HubConnectionError{Kind: rpmhub.HubConnTransport, Err: jsonErr}
	}

	c.tagMu.Lock()
	c.nvrCache[tag] = nvrs
	c.tagMu.Unlock()
	return nvrs, nil
}

// Invalidate drops the memoized ListPackages/ListTaggedBuilds results for
// tag, so the next call of either re-queries the hub. WaitForRepo calls
// this before every poll so it sees newly tagged builds.
func (c *Client) Invalidate(tag string) {
	c.tagMu.Lock()
	delete(c.pkgCache, tag)
	delete(c.nvrCache, tag)
	c.tagMu.Unlock()
}

// Exists reports whether binaryName is already present under tag, using
// the memoized ListPackages set.
func (c *Client) Exists(ctx context.Context, tag, binaryName string) (bool, error) {
	set, err := c.ListPackages(ctx, tag)
	if err != nil {
		return false, err
	}
	return set[binaryName], nil
}

type submitResponse struct {
	TaskID int `json:"task_id"`
}

// SubmitFlags are the optional submission modes the hub CLI accepts.
type SubmitFlags struct {
	// Scratch submits an untagged scratch build.
	Scratch bool
	// NoWait asks the hub to return as soon as the task is queued; the
	// caller then skips polling entirely.
	NoWait bool
}

// SubmitBuild hands archivePath to the hub for building against target,
// returning the hub's assigned task ID. c.run retries plain transport
// failures per internal/retry.Hub but wraps CLI-missing and
// permanent-looking stderr (auth rejections, "not found") in
// *retry.Permanent so they surface on the first attempt. Any other non-zero
// CLI exit, including a hub-side rejection of the archive, surfaces as a
// *rpmhub.HubConnectionError after the retries. Only stdout that does not
// parse as the JSON submit response yields a *rpmhub.HubBuildError (kind
// submit-failed); the response's content is not otherwise inspected.
func (c *Client) SubmitBuild(ctx context.Context, archivePath string, flags SubmitFlags) (int, error) {
	args := []string{"build", "--target", c.target, "--json"}
	if flags.Scratch {
		args = append(args, "--scratch")
	}
	if flags.NoWait {
		args = append(args, "--nowait")
	}
	args = append(args, archivePath)

	var out []byte
	err := retry.Hub.Do(ctx, func(int) error {
		var runErr error
		out, runErr = c.run(ctx, args...)
		return runErr
	})
	if err != nil {
		return 0, err
	}

	var resp submitResponse
	if jsonErr := json.Unmarshal(out, &resp); jsonErr != nil {
		return 0, &rpmhub.HubBuildError{Kind: rpmhub.HubBuildSubmitFailed, PackageName: archivePath, Err: jsonErr}
	}
	return resp.TaskID, nil
}

type statusResponse struct {
	State   string `json:"state"`
	Message string `json:"message"`
}

// Status polls the hub for the current state of taskID, translating the
// hub's vocabulary ("pending", "running", "closed", "failed", "canceled")
// into rpmhub.TaskStatus.
func (c *Client) Status(ctx context.Context, taskID int) (rpmhub.TaskStatus, string, error) {
	var out []byte
	err := retry.Hub.Do(ctx, func(int) error {
		var runErr error
		out, runErr = c.run(ctx, "task-info", fmt.Sprint(taskID), "--json")
		return runErr
	})
	if err != nil {
		return "", "", err
	}
	var resp statusResponse
	if jsonErr := json.Unmarshal(out, &resp); jsonErr != nil {
		return "", "", &rpmhub.HubConnectionError{Kind: rpmhub.HubConnTransport, Err: jsonErr}
	}
	switch strings.ToLower(resp.State) {
	case "pending", "free", "open":
		return rpmhub.StatusPending, resp.Message, nil
	case "running", "assigned":
		return rpmhub.StatusBuilding, resp.Message, nil
	case "closed", "succeeded", "complete":
		return rpmhub.StatusComplete, resp.Message, nil
	case "failed":
		return rpmhub.StatusFailed, resp.Message, nil
	case "canceled", "cancelled":
		return rpmhub.StatusCanceled, resp.Message, nil
	default:
		return rpmhub.StatusFailed, resp.Message, fmt.Errorf("hub: unrecognized task state %q", resp.State)
	}
}

// Cancel asks the hub to cancel taskID. It is best-effort: the hub may
// already have finished the task, in which case the CLI's non-zero exit is
// swallowed and Cancel returns nil.
func (c *Client) Cancel(ctx context.Context, taskID int) error {
	_, err := c.run(ctx, "cancel", fmt.Sprint(taskID))
	if err == nil {
		return nil
	}
	var connErr *rpmhub.HubConnectionError
	if asHubConnectionError(err, &connErr) && connErr.Kind == rpmhub.HubConnCLIMissing {
		return err
	}
	return nil
}

// DefaultRepoTimeout bounds how long WaitForRepo blocks when the caller
// passes no explicit timeout. Repo regeneration for a large tag routinely
// takes tens of minutes.
const DefaultRepoTimeout = 30 * time.Minute

// repoPollInterval is the pause between repo regeneration checks.
const repoPollInterval = 10 * time.Second

// WaitForRepo blocks until binaryName is visible under tag, polling the
// hub until timeout elapses (DefaultRepoTimeout if timeout <= 0). It is
// used after a build completes, to make sure a dependent package's build
// sees the new archive. On expiry it returns *rpmhub.HubBuildError with
// kind timeout.
func (c *Client) WaitForRepo(ctx context.Context, tag, binaryName string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultRepoTimeout
	}
	deadline := time.Now().Add(timeout)
	for {
		c.Invalidate(tag)
		ok, err := c.Exists(ctx, tag, binaryName)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return &rpmhub.HubBuildError{
				Kind:        rpmhub.HubBuildTimeout,
				PackageName: binaryName,
				Err:         fmt.Errorf("repo for tag %s did not regenerate within %s", tag, timeout),
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(repoPollInterval):
		}
	}
}

func asHubConnectionError(err error, target **rpmhub.HubConnectionError) bool {
	for err != nil {
		if e, ok := err.(*rpmhub.HubConnectionError); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
