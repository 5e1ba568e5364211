// Package orchestrate implements BuildOrchestrator: driving a resolved
// dependency build chain through the hub level by level, with a bounded
// worker pool per level and a live terminal status board.
//
// The scheduler shape is adapted from distri's internal/batch/batch.go:
// an errgroup.Group worker pool bounded by a semaphore channel, a status board
// gated on whether stdout is a terminal (golang.org/x/sys/unix.
// IoctlGetTermios), and cascading-failure bookkeeping when a dependency
// fails. Unlike batch.go, which builds locally via exec.CommandContext and
// schedules the whole graph as one flat worklist, orchestrate submits each
// package to a remote hub (package hub) and advances strictly level by
// level: every name in one level must finish (successfully or not) before
// the next level's names are submitted, since the hub repo a later level
// builds against must already contain the earlier level's output.
package orchestrate

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"go.rpmhub.dev/build"
	"go.rpmhub.dev/build/hub"
)

// HubClient is the subset of hub.Client that orchestrate depends on,
// narrowed to an interface so tests can substitute a fake.
type HubClient interface {
	SubmitBuild(ctx context.Context, archivePath string, flags hub.SubmitFlags) (int, error)
	Status(ctx context.Context, taskID int) (rpmhub.TaskStatus, string, error)
	Cancel(ctx context.Context, taskID int) error
	WaitForRepo(ctx context.Context, tag, binaryName string, timeout time.Duration) error
}

var _ HubClient = (*hub.Client)(nil)

// Orchestrator drives a dependency graph's build chain through the hub.
type Orchestrator struct {
	Hub                 HubClient
	HubTag              string
	Target              string
	MaxParallelPerLevel int
	PollInterval        time.Duration

	// RepoTimeout bounds the WaitForRepo call made after each completed,
	// non-scratch build; hub.DefaultRepoTimeout applies when zero.
	RepoTimeout time.Duration

	// Scratch submits untagged scratch builds; NoWait submits without
	// polling, leaving each task PENDING.
	Scratch bool
	NoWait  bool

	// Log receives progress lines; nil discards them.
	Log *log.Logger

	statusMu sync.Mutex
	status   []string
}

func (o *Orchestrator) init() {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.status == nil {
		o.status = make([]string, maxInt(o.MaxParallelPerLevel, 1)+1)
	}
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.Log != nil {
		o.Log.Printf(format, args...)
	}
}

// isTerminal reports whether stdout is an interactive terminal, the same
// unix.IoctlGetTermios probe batch.go uses to decide whether printing a
// live, cursor-repositioning status board is safe (doing so against a
// redirected file corrupts the output).
var isTerminal = func() bool {
	_, err := unix.IoctlGetTermios(int(os.Stdout.Fd()), unix.TCGETS)
	return err == nil
}()

// BuildChain submits every package in chain to the hub, level by level,
// respecting MaxParallelPerLevel within a level, and stops advancing to
// the next level once any package in the current one fails: every
// package of the later levels is then recorded as a FAILED task that was
// never submitted. It always returns a complete
// rpmhub.BuildResult, never wrapping per-package failures as a returned
// error.
func (o *Orchestrator) BuildChain(ctx context.Context, dg rpmhub.DependencyGraph, chain [][]string) (*rpmhub.BuildResult, error) {
	start := time.Now()
	result := &rpmhub.BuildResult{Success: true}
	failed := make(map[string]bool)

	o.init()

	for levelIdx, names := range chain {
		var buildable, skipped []string
		stopped := !result.Success // an earlier level had a failure
		for _, name := range names {
			if dg[name].IsAvailable {
				continue
			}
			if stopped || dependsOnFailed(dg, name, failed) {
				skipped = append(skipped, name)
				continue
			}
			buildable = append(buildable, name)
		}
		for _, name := range skipped {
			failed[name] = true
			task := &rpmhub.BuildTask{PackageName: name, Status: rpmhub.StatusFailed, ErrorMessage: "not attempted: an earlier level failed"}
			result.Tasks = append(result.Tasks, task)
			result.FailedPackages = append(result.FailedPackages, name)
			result.Success = false
		}

		if len(buildable) == 0 {
			continue
		}

		tasks, err := o.buildLevel(ctx, dg, buildable)
		if err != nil {
			return nil, err
		}
		for _, task := range tasks {
			result.Tasks = append(result.Tasks, task)
			switch {
			case task.Status == rpmhub.StatusComplete:
				result.BuiltPackages = append(result.BuiltPackages, task.PackageName)
			case o.NoWait && task.Status == rpmhub.StatusPending && task.TaskID != 0:
				// submitted but deliberately not awaited
			default:
				failed[task.PackageName] = true
				result.FailedPackages = append(result.FailedPackages, task.PackageName)
				result.Success = false
			}
		}

		o.logf("level %d/%d done: %d built, %d failed so far",
			levelIdx+1, len(chain), len(result.BuiltPackages), len(result.FailedPackages))
		o.refreshStatus(fmt.Sprintf("level %d/%d: %d built, %d failed so far",
			levelIdx+1, len(chain), len(result.BuiltPackages), len(result.FailedPackages)))
	}

	result.TotalSeconds = time.Since(start).Seconds()
	return result, nil
}

// buildSingle submits one package and, unless NoWait is set, blocks until
// it reaches a terminal state.
//
// It returns a non-nil error whenever task does not end COMPLETE. When
// called from buildLevel under a shared errgroup context, that error
// cancels ctx for every sibling still in flight, which is what drives
// the best-effort "cancel the rest of the level" behavior in §5.
func (o *Orchestrator) buildSingle(ctx context.Context, task *rpmhub.BuildTask) error {
	taskID, err := o.Hub.SubmitBuild(ctx, task.ArchivePath, hub.SubmitFlags{Scratch: o.Scratch, NoWait: o.NoWait})
	if err != nil {
		task.Status = rpmhub.StatusFailed
		task.ErrorMessage = err.Error()
		return err
	}
	task.TaskID = taskID
	if o.NoWait {
		return nil // submit-and-return; task stays PENDING
	}
	task.Status = rpmhub.StatusBuilding

	ticker := time.NewTicker(o.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = o.Hub.Cancel(context.Background(), taskID)
			task.Status = rpmhub.StatusCanceled
			task.ErrorMessage = ctx.Err().Error()
			return ctx.Err()
		case <-ticker.C:
			status, msg, err := o.Hub.Status(ctx, taskID)
			if err != nil {
				continue // transient poll failure; keep trying until ctx or terminal state
			}
			task.Status = status
			task.ErrorMessage = msg
			if status.Terminal() {
				if status == rpmhub.StatusComplete {
					// Scratch builds are untagged and never show up in
					// the repo, so there is nothing to wait for.
					if !o.Scratch {
						if werr := o.Hub.WaitForRepo(ctx, o.HubTag, task.PackageName, o.RepoTimeout); werr != nil {
							task.Status = rpmhub.StatusFailed
							task.ErrorMessage = werr.Error()
							return werr
						}
					}
					return nil
				}
				return fmt.Errorf("rpmhub: %s ended %s", task.PackageName, status)
			}
		}
	}
}

// buildLevel submits every name in names concurrently, bounded by
// MaxParallelPerLevel, and waits for all of them to reach a terminal
// state.
func (o *Orchestrator) buildLevel(ctx context.Context, dg rpmhub.DependencyGraph, names []string) ([]*rpmhub.BuildTask, error) {
	limit := o.MaxParallelPerLevel
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	tasks := make([]*rpmhub.BuildTask, len(names))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		node := dg[name]
		task := &rpmhub.BuildTask{PackageName: name, ArchivePath: node.ArchivePath, Target: o.Target, Status: rpmhub.StatusPending}
		if node.Info != nil {
			task.NVR = node.Info.NVR()
		}
		tasks[i] = task

		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			slot := i%limit + 1
			o.updateSlot(slot, "building "+name)
			err := o.buildSingle(egCtx, task)
			o.updateSlot(slot, "idle")
			return err
		})
	}
	// eg.Wait's error is not returned: it only ever carries a sibling's
	// build failure, which exists solely to cancel egCtx and trigger
	// best-effort cancellation of the rest of the level (§5). The
	// per-task outcome that matters is already recorded on tasks.
	_ = eg.Wait()
	return tasks, nil
}

// BuildSingle submits one archive and blocks until it reaches a terminal
// state, with no dependency resolution at all.
func (o *Orchestrator) BuildSingle(ctx context.Context, archivePath string) (*rpmhub.BuildResult, error) {
	return o.BuildArchives(ctx, []string{archivePath})
}

// BuildArchives builds a caller-ordered sequence of archives one at a
// time, stopping at the first failure (later archives are presumed to
// depend on earlier ones). It skips graph construction entirely; the
// caller owns the ordering.
func (o *Orchestrator) BuildArchives(ctx context.Context, archivePaths []string) (*rpmhub.BuildResult, error) {
	start := time.Now()
	result := &rpmhub.BuildResult{Success: true}
	o.init()

	for _, path := range archivePaths {
		task := &rpmhub.BuildTask{
			PackageName: packageNameFromArchive(path),
			ArchivePath: path,
			Target:      o.Target,
			Status:      rpmhub.StatusPending,
		}
		result.Tasks = append(result.Tasks, task)
		o.updateSlot(1, "building "+task.PackageName)
		err := o.buildSingle(ctx, task)
		o.updateSlot(1, "idle")

		switch {
		case task.Status == rpmhub.StatusComplete:
			result.BuiltPackages = append(result.BuiltPackages, task.PackageName)
		case o.NoWait && task.Status == rpmhub.StatusPending && task.TaskID != 0:
			// submitted but deliberately not awaited
		default:
			result.FailedPackages = append(result.FailedPackages, task.PackageName)
			result.Success = false
			o.logf("%s failed (%v); not attempting the rest of the chain", task.PackageName, err)
			result.TotalSeconds = time.Since(start).Seconds()
			return result, nil
		}
	}

	result.TotalSeconds = time.Since(start).Seconds()
	return result, nil
}

// packageNameFromArchive recovers the package name from an archive
// filename of the conventional name-version-release.src.rpm form, falling
// back to the whole base name if it has fewer segments.
func packageNameFromArchive(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), ".src.rpm")
	parts := strings.Split(base, "-")
	if len(parts) > 2 {
		return strings.Join(parts[:len(parts)-2], "-")
	}
	return base
}

func dependsOnFailed(dg rpmhub.DependencyGraph, name string, failed map[string]bool) bool {
	node := dg[name]
	if node == nil {
		return false
	}
	for dep := range node.Dependencies {
		if failed[dep] {
			return true
		}
	}
	return false
}

func (o *Orchestrator) updateSlot(slot int, text string) {
	if !isTerminal {
		return
	}
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	if slot >= len(o.status) {
		return
	}
	o.status[slot] = text
	o.printLocked()
}

func (o *Orchestrator) refreshStatus(headline string) {
	if !isTerminal {
		return
	}
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	if len(o.status) > 0 {
		o.status[0] = headline
	}
	o.printLocked()
}

// printLocked redraws the status board in place using ANSI cursor-up, the
// same restore-cursor-position trick batch.go's refreshStatus/updateStatus
// use. Callers must hold statusMu.
func (o *Orchestrator) printLocked() {
	maxLen := 0
	for _, line := range o.status {
		if len(line) > maxLen {
			maxLen = len(line)
		}
	}
	for _, line := range o.status {
		if len(line) < maxLen {
			line += strings.Repeat(" ", maxLen-len(line))
		}
		fmt.Println(line)
	}
	fmt.Printf("\033[%dA", len(o.status))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
