// Package canon implements NameCanonicalizer: normalizing virtual-provide
// dependency tokens and partly-expanded macros into real binary package
// names, and deriving candidate source-archive names from a binary name.
//
// The pattern-table dispatch here generalizes distri's
// internal/build/glob.go, which resolves a package reference to a concrete
// on-disk name through an ordered set of regexp-driven rewrites backed by a
// mutex-guarded cache (globCache). This package keeps that shape —
// cache first, rewrite table second — but the rewrite rules themselves
// come from spec.md §4.C rather than distri's own naming scheme.
package canon

import (
	"regexp"
	"strings"
	"sync"

	"go.rpmhub.dev/build"
	"go.rpmhub.dev/build/canon/mlfallback"
	"go.rpmhub.dev/build/specfile"
)

// virtualRule is one (pattern, transform) pair from the closed set of 9
// virtual-provide dialects in spec.md §4.C.
type virtualRule struct {
	re        *regexp.Regexp
	transform func(groups []string) string
}

var virtualRules = []virtualRule{
	{
		// The version segment may carry a minor part (python3.12dist).
		re: regexp.MustCompile(`^python((?:\d+(?:\.\d+)?)?)dist\((.+)\)$`),
		transform: func(g []string) string {
			n := g[1]
			if n == "" {
				n = "3"
			}
			return "python" + n + "-" + g[2]
		},
	},
	{
		re:        regexp.MustCompile(`^pkgconfig\((.+)\)$`),
		transform: func(g []string) string { return g[1] + "-devel" },
	},
	{
		re: regexp.MustCompile(`^perl\((.+)\)$`),
		transform: func(g []string) string {
			return "perl-" + strings.ReplaceAll(g[1], "::", "-")
		},
	},
	{
		re:        regexp.MustCompile(`^rubygem\((.+)\)$`),
		transform: func(g []string) string { return "rubygem-" + g[1] },
	},
	{
		re:        regexp.MustCompile(`^npm\((.+)\)$`),
		transform: func(g []string) string { return "nodejs-" + g[1] },
	},
	{
		re: regexp.MustCompile(`^cmake\((.+)\)$`),
		transform: func(g []string) string {
			return "cmake-" + strings.ToLower(g[1])
		},
	},
	{
		re:        regexp.MustCompile(`^tex\((.+)\)$`),
		transform: func(g []string) string { return "texlive-" + g[1] },
	},
	{
		re: regexp.MustCompile(`^golang\((.+)\)$`),
		transform: func(g []string) string {
			return "golang-" + strings.ReplaceAll(g[1], "/", "-")
		},
	},
	{
		re:        regexp.MustCompile(`^mvn\(([^:]+):([^:]+)\)$`),
		transform: func(g []string) string { return g[2] },
	},
}

// Canonicalizer resolves raw dependency tokens to canonical binary package
// names. The zero value works (rules-only, no ML); use New to enable the
// optional similarity fallback.
type Canonicalizer struct {
	mode      rpmhub.NameResolutionMode
	ml        *mlfallback.Model
	threshold float64

	cacheMu sync.Mutex
	cache   map[string]string

	mlSourceMu    sync.Mutex
	mlSourceCache map[string]string
}

// DefaultThreshold is the default maximum cosine distance at which an
// MLFallback prediction is accepted.
const DefaultThreshold = 0.3

// New constructs a Canonicalizer. ml may be nil; if mode requests ML but ml
// is nil or unavailable, canonicalization degrades to rules-only without
// error, per spec.md §4.D.
func New(mode rpmhub.NameResolutionMode, ml *mlfallback.Model) *Canonicalizer {
	return &Canonicalizer{
		mode:          mode,
		ml:            ml,
		threshold:     DefaultThreshold,
		cache:         make(map[string]string),
		mlSourceCache: make(map[string]string),
	}
}

// SetThreshold overrides DefaultThreshold for MLFallback acceptance.
func (c *Canonicalizer) SetThreshold(t float64) { c.threshold = t }

// FlushMLCache persists any MLFallback predictions accumulated since it was
// loaded, if an ML model with a cache path is configured. It is a no-op for
// rules-only canonicalizers.
func (c *Canonicalizer) FlushMLCache() error {
	if c.ml == nil {
		return nil
	}
	return c.ml.FlushCache()
}

// CanonicalizeWithSource behaves like Canonicalize, additionally returning
// the source/srpm name MLFallback learned alongside the binary name it
// predicted for token, per spec.md §4.D's (provideToken -> binaryName,
// sourceName) training contract. mlSourceName is "" whenever the rule
// table (not MLFallback) resolved token, or MLFallback produced no
// accepted prediction.
func (c *Canonicalizer) CanonicalizeWithSource(token string) (name, mlSourceName string, err error) {
	name, err = c.Canonicalize(token)
	if err != nil {
		return "", "", err
	}
	c.mlSourceMu.Lock()
	mlSourceName = c.mlSourceCache[token]
	c.mlSourceMu.Unlock()
	return name, mlSourceName, nil
}

// Canonicalize resolves a single raw dependency token to a canonical binary
// package name, trying the cache, then macro expansion, then the
// virtual-provide rewrite table, then (if enabled) MLFallback, and finally
// falling back to the macro-expanded token unchanged. In NameResolutionOff
// mode that last step is skipped and a token the rewrite table does not
// match yields *rpmhub.NameResolutionError.
func (c *Canonicalizer) Canonicalize(token string) (string, error) {
	c.cacheMu.Lock()
	if v, ok := c.cache[token]; ok {
		c.cacheMu.Unlock()
		return v, nil
	}
	c.cacheMu.Unlock()

	result, err := c.canonicalizeUncached(token)
	if err != nil {
		return "", err
	}

	c.cacheMu.Lock()
	if c.cache == nil {
		c.cache = make(map[string]string)
	}
	c.cache[token] = result
	c.cacheMu.Unlock()
	return result, nil
}

func (c *Canonicalizer) canonicalizeUncached(token string) (string, error) {
	expanded, _ := specfile.ExpandMacros(token)

	for _, rule := range virtualRules {
		m := rule.re.FindStringSubmatch(expanded)
		if m == nil {
			continue
		}
		return rule.transform(m), nil
	}

	if c.mode == rpmhub.NameResolutionRulesML && c.ml != nil && c.ml.Available() {
		if pred, ok := c.ml.Predict(expanded, c.threshold); ok {
			if pred.SourceName != "" {
				c.mlSourceMu.Lock()
				c.mlSourceCache[token] = pred.SourceName
				c.mlSourceMu.Unlock()
			}
			return pred.BinaryName, nil
		}
	}

	if c.mode == rpmhub.NameResolutionOff {
		return "", &rpmhub.NameResolutionError{Token: token}
	}

	return expanded, nil
}

// sourcePrefixRule maps a binary-name prefix to the candidate source names
// it implies, per spec.md §4.C's candidateSourceNames table.
type sourcePrefixRule struct {
	re   *regexp.Regexp
	make func(full string, m []string) []string
}

var sourcePrefixRules = []sourcePrefixRule{
	{
		re: regexp.MustCompile(`^python(\d+(?:\.\d+)?)-(.+)$`),
		make: func(full string, m []string) []string {
			return []string{"python-" + m[2], full}
		},
	},
	{
		re: regexp.MustCompile(`^(.+)-devel$`),
		make: func(full string, m []string) []string {
			return []string{m[1], full}
		},
	},
	{
		re: regexp.MustCompile(`^(.+)-libs$`),
		make: func(full string, m []string) []string {
			return []string{m[1], full}
		},
	},
	{
		// perl- is deliberately excluded here even though spec.md's
		// candidateSourceNames table lists it alongside rubygem/nodejs/
		// golang: perl module names are themselves dash-joined
		// (File::Path -> File-Path), so stripping "perl-" does not recover
		// a real upstream name, and seed scenario S2 gives
		// perl-File-Path -> [perl-File-Path] (the unstripped form only).
		re: regexp.MustCompile(`^(?:rubygem|nodejs|golang)-(.+)$`),
		make: func(full string, m []string) []string {
			return []string{m[1], full}
		},
	},
}

// CandidateSourceNames produces the ordered, probable source-archive names
// for binaryName: the typically-shorter upstream name first, then the
// binary form verbatim. If mlSourceName is non-empty (MLFallback learned a
// source name for the token that canonicalized to binaryName), it is tried
// first, ahead of the rule-table guesses.
func CandidateSourceNames(binaryName string, mlSourceName ...string) []string {
	var rest []string
	for _, rule := range sourcePrefixRules {
		m := rule.re.FindStringSubmatch(binaryName)
		if m == nil {
			continue
		}
		rest = rule.make(binaryName, m)
		break
	}
	if rest == nil {
		rest = []string{binaryName}
	}

	if len(mlSourceName) > 0 && mlSourceName[0] != "" && mlSourceName[0] != rest[0] {
		return append([]string{mlSourceName[0]}, rest...)
	}
	return rest
}
