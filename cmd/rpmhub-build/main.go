// Command rpmhub-build analyzes, plans, fetches, and builds RPM packages
// against a build hub, resolving BuildRequires transitively and submitting
// each dependency level in turn.
//
// Subcommands are dispatched the way distri's cmd/distri root command
// does it: a flag.NewFlagSet per subcommand rather than a framework like
// cobra, since the CLI surface here is explicitly a thin wrapper around
// the library packages, not the product itself.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"go.rpmhub.dev/build"
	"go.rpmhub.dev/build/canon"
	"go.rpmhub.dev/build/canon/mlfallback"
	"go.rpmhub.dev/build/depgraph"
	"go.rpmhub.dev/build/fetch"
	"go.rpmhub.dev/build/hub"
	"go.rpmhub.dev/build/orchestrate"
	"go.rpmhub.dev/build/srpm"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch os.Args[1] {
	case "analyze":
		err = runAnalyze(ctx, os.Args[2:])
	case "plan":
		err = runPlan(ctx, os.Args[2:])
	case "download-only":
		err = runDownloadOnly(ctx, os.Args[2:])
	case "build":
		err = runBuild(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Printf("rpmhub-build: %v", err)
		os.Exit(exitCode(err))
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: rpmhub-build <analyze|plan|download-only|build> [flags]")
}

// exitCode maps the error taxonomy onto distinct process exit values so
// wrapper scripts can tell failure categories apart.
func exitCode(err error) int {
	switch err.(type) {
	case *rpmhub.HubConnectionError:
		return 3
	case *rpmhub.HubBuildError:
		return 4
	case *rpmhub.InvalidArchiveError, *rpmhub.SpecParseError:
		return 5
	case *rpmhub.ArchiveNotFoundError:
		return 6
	case *rpmhub.CircularDependencyError:
		return 7
	}
	return 1
}

func runAnalyze(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	archivePath := fs.String("archive", "", "path to a source RPM to analyze")
	fs.Parse(args)
	if *archivePath == "" {
		return fmt.Errorf("analyze: -archive is required")
	}

	info, err := srpm.Info(context.Background(), *archivePath)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(info)
}

// commonFlags bundles the flags shared by the plan and build subcommands:
// the resolver knobs plus the hub connection and fallback-source settings
// from the recognized configuration surface.
type commonFlags struct {
	cfg           rpmhub.ResolverConfig
	mode          string
	mlModel       string
	hubCLI        string
	hubServer     string
	clientCert    string
	serverCA      string
	distGitOwner  string
	fedoraRelease string
	noSSLVerify   bool
}

func registerCommonFlags(fs *flag.FlagSet) *commonFlags {
	f := &commonFlags{}
	fs.StringVar(&f.cfg.HubBuildTag, "hub-tag", "stable", "hub build tag to resolve availability and submit against")
	fs.StringVar(&f.cfg.HubTarget, "hub-target", "x86_64", "hub build target/architecture")
	fs.StringVar(&f.cfg.ArchiveCacheDir, "cache-dir", "", "on-disk archive cache directory (defaults to the user cache dir)")
	fs.IntVar(&f.cfg.MaxParallelPerLevel, "max-parallel", 4, "maximum concurrent builds per dependency level")
	fs.StringVar(&f.mode, "name-resolution", string(rpmhub.NameResolutionRulesOnly), "off | rules-only | rules+ml")
	fs.StringVar(&f.mlModel, "ml-model", "", "path to a trained MLFallback model (required for rules+ml)")
	fs.StringVar(&f.hubCLI, "hub-cli", "", "path to the hub CLI binary")
	fs.StringVar(&f.hubServer, "hub-server", "", "URL of the hub endpoint")
	fs.StringVar(&f.clientCert, "client-cert", "", "path to the client certificate bundle")
	fs.StringVar(&f.serverCA, "server-ca", "", "path to the server CA certificate")
	fs.StringVar(&f.distGitOwner, "dist-git-owner", "", "GitHub organization mirroring dist-git (enables the fallback archive source)")
	fs.StringVar(&f.fedoraRelease, "fedora-release", "", "release branch used by the fallback source (default rawhide)")
	fs.BoolVar(&f.noSSLVerify, "no-ssl-verify", false, "disable TLS verification for the fallback source (unsafe)")
	return f
}

func (f *commonFlags) newHubClient() *hub.Client {
	c := hub.New(f.hubCLI, f.cfg.HubTarget)
	c.SetConnection(f.hubServer, f.clientCert, f.serverCA)
	return c
}

func (f *commonFlags) newFetcher() *fetch.Fetcher {
	return fetch.New(fetch.Config{
		CacheDir:           defaultCacheDir(f.cfg.ArchiveCacheDir),
		GitHubToken:        os.Getenv("GITHUB_TOKEN"),
		DistGitOwner:       f.distGitOwner,
		FedoraRelease:      f.fedoraRelease,
		InsecureSkipVerify: f.noSSLVerify,
	})
}

func buildCanonicalizer(mode, mlModelPath string) *canon.Canonicalizer {
	resMode := rpmhub.NameResolutionMode(mode)
	var model *mlfallback.Model
	if resMode == rpmhub.NameResolutionRulesML && mlModelPath != "" {
		model = mlfallback.Load(mlModelPath, defaultMLCachePath())
	}
	return canon.New(resMode, model)
}

func defaultCacheDir(configured string) string {
	if configured != "" {
		return configured
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return os.TempDir()
	}
	return dir + "/rpmhub-build/archives"
}

// defaultMLCachePath is the single on-disk file MLFallback persists its
// learned predictions to (spec.md §6: "a single file under the user cache
// directory"), so repeated CLI invocations don't retrain predictions
// they've already paid the n-gram distance computation for once.
func defaultMLCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return dir + "/rpmhub-build/mlcache.textpb"
}

// availabilityChecker adapts hubClient into a depgraph.AvailabilityChecker:
// existence under tag is the base check, and when req carries a version
// constraint the hub's reported NVR is additionally compared against it via
// depgraph.VersionSatisfies.
func availabilityChecker(hubClient *hub.Client, tag string) depgraph.AvailabilityChecker {
	return func(ctx context.Context, name string, req rpmhub.BuildRequirement) (bool, error) {
		ok, err := hubClient.Exists(ctx, tag, name)
		if err != nil || !ok {
			return false, err
		}
		if req.Operator == rpmhub.OpNone {
			return true, nil
		}
		nvrs, err := hubClient.ListTaggedBuilds(ctx, tag)
		if err != nil {
			return false, err
		}
		nvr, tagged := nvrs[name]
		if !tagged {
			return false, nil
		}
		return depgraph.VersionSatisfies(name, nvr, req), nil
	}
}

func runPlan(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	f := registerCommonFlags(fs)
	pkg := fs.String("package", "", "root package name to plan a build for")
	archive := fs.String("archive", "", "path to an already-downloaded root source RPM (skips re-fetching the root by name)")
	fs.Parse(args)
	if *pkg == "" && *archive == "" {
		return fmt.Errorf("plan: -package or -archive is required")
	}

	hubClient := f.newHubClient()
	fetcher := f.newFetcher()
	canonicalizer := buildCanonicalizer(f.mode, f.mlModel)
	defer canonicalizer.FlushMLCache()
	resolver := &depgraph.Resolver{
		Canon:     canonicalizer,
		Available: availabilityChecker(hubClient, f.cfg.HubBuildTag),
		Load:      loaderFunc(fetcher),
		Log:       log.New(os.Stderr, "", log.LstdFlags),
	}

	dg, chain, err := resolveRoot(ctx, resolver, *pkg, *archive)
	if err != nil {
		return err
	}

	for level, names := range chain {
		fmt.Printf("level %d:\n", level)
		for _, name := range names {
			node := dg[name]
			fmt.Printf("  %s (available=%v)\n", name, node.IsAvailable)
		}
	}
	return nil
}

func runDownloadOnly(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("download-only", flag.ExitOnError)
	cacheDir := fs.String("cache-dir", "", "on-disk archive cache directory")
	pkg := fs.String("package", "", "package name to fetch a source archive for")
	fs.Parse(args)
	if *pkg == "" {
		return fmt.Errorf("download-only: -package is required")
	}

	fetcher := fetch.New(fetch.Config{CacheDir: defaultCacheDir(*cacheDir)})
	path, err := fetcher.Fetch(ctx, *pkg)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func runBuild(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	f := registerCommonFlags(fs)
	pkg := fs.String("package", "", "root package name to build")
	archive := fs.String("archive", "", "path to an already-downloaded root source RPM (skips re-fetching the root by name)")
	scratch := fs.Bool("scratch", false, "submit untagged scratch builds")
	noWait := fs.Bool("no-wait", false, "submit each build without polling for its result")
	noDeps := fs.Bool("no-deps", false, "skip dependency resolution and submit only the root")
	fs.Parse(args)
	if *pkg == "" && *archive == "" {
		return fmt.Errorf("build: -package or -archive is required")
	}

	hubClient := f.newHubClient()
	fetcher := f.newFetcher()
	canonicalizer := buildCanonicalizer(f.mode, f.mlModel)
	defer canonicalizer.FlushMLCache()

	orch := &orchestrate.Orchestrator{
		Hub:                 hubClient,
		HubTag:              f.cfg.HubBuildTag,
		Target:              f.cfg.HubTarget,
		MaxParallelPerLevel: f.cfg.MaxParallelPerLevel,
		PollInterval:        5 * time.Second,
		Scratch:             *scratch,
		NoWait:              *noWait,
		Log:                 log.New(os.Stderr, "", log.LstdFlags),
	}

	var result *rpmhub.BuildResult
	var err error
	if *noDeps {
		// The root is submitted even if its requirements are unresolved;
		// the caller asked for exactly one build.
		rootArchive := *archive
		if rootArchive == "" {
			rootArchive, err = fetcher.Fetch(ctx, *pkg)
			if err != nil {
				return err
			}
		}
		result, err = orch.BuildSingle(ctx, rootArchive)
	} else {
		resolver := &depgraph.Resolver{
			Canon:     canonicalizer,
			Available: availabilityChecker(hubClient, f.cfg.HubBuildTag),
			Load:      loaderFunc(fetcher),
			Log:       orch.Log,
		}
		var dg rpmhub.DependencyGraph
		var chain [][]string
		dg, chain, err = resolveRoot(ctx, resolver, *pkg, *archive)
		if err != nil {
			return err
		}
		result, err = orch.BuildChain(ctx, dg, chain)
	}
	if err != nil {
		return err
	}

	fmt.Printf("%d built, %d failed, %.1fs total\n", len(result.BuiltPackages), len(result.FailedPackages), result.TotalSeconds)
	if !result.Success {
		os.Exit(1)
	}
	return nil
}

// resolveRoot picks between Resolve (by bare package name) and
// ResolveFromArchive (an already-downloaded root archive), per spec.md
// §6's analyze(archive)/plan(archive or name)/build(archive or name,
// options) contract: archivePath wins when both are given, since the
// caller has already done the work Resolve's Loader would otherwise redo.
func resolveRoot(ctx context.Context, resolver *depgraph.Resolver, pkg, archivePath string) (rpmhub.DependencyGraph, [][]string, error) {
	if archivePath != "" {
		return resolver.ResolveFromArchive(ctx, archivePath, srpm.Info)
	}
	return resolver.Resolve(ctx, []string{pkg})
}

// loaderFunc adapts a fetch.Fetcher plus srpm.Info into a depgraph.Loader:
// download the candidate archive, then unpack and analyze its spec file.
func loaderFunc(fetcher *fetch.Fetcher) depgraph.Loader {
	return func(ctx context.Context, name, mlSourceHint string) (*rpmhub.PackageInfo, string, error) {
		archivePath, err := fetcher.FetchWithHint(ctx, name, mlSourceHint)
		if err != nil {
			return nil, "", err
		}
		info, err := srpm.Info(ctx, archivePath)
		if err != nil {
			return nil, "", err
		}
		return info, archivePath, nil
	}
}
