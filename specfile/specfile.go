// Package specfile parses RPM-style spec file text into a rpmhub.PackageInfo,
// including the bounded macro-expansion engine described in spec.md §4.A.
//
// The parser is a small line-oriented state machine over bufio.Scanner,
// grounded in distri's preference (internal/build, internal/build/glob.go)
// for hand-written regexp/string-table parsers over pulling in a generic
// grammar library — RPM spec syntax (bare "Key: value" headers plus %macro
// scriptlets) does not fit an INI/YAML/TOML shape, so no such parser would
// actually save code here.
package specfile

import (
	"bufio"
	"fmt"
	"log"
	"regexp"
	"strings"

	"go.rpmhub.dev/build"
)

// Warning describes a non-fatal issue encountered while parsing, such as an
// unresolved macro.
type Warning struct {
	Message string
}

func (w Warning) String() string { return w.Message }

var headerRe = regexp.MustCompile(`(?i)^(Name|Version|Release|Epoch|Source\d*|BuildRequires)\s*:\s*(.*)$`)

// Analyze parses the UTF-8 spec-file payload in data and returns the
// extracted package identity, build requirements, and source URLs.
//
// It returns *rpmhub.SpecParseError if no Name or no Version header is
// present. Unresolved non-optional macros are reported as warnings, not
// errors, via the returned logger calls (logger may be nil to discard
// them).
func Analyze(data []byte, logger *log.Logger) (*rpmhub.PackageInfo, []Warning, error) {
	if logger == nil {
		logger = log.New(discardWriter{}, "", 0)
	}

	var (
		name, version, release, epoch string
		sources                       []string
		rawRequires                   []string
		warnings                      []Warning
	)

	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		m := headerRe.FindStringSubmatch(line)
		if m == nil {
			continue // scriptlet bodies, %files, %changelog, etc.: not analyzed
		}
		field := strings.ToLower(m[1])
		value, unresolved := ExpandMacros(strings.TrimSpace(m[2]))
		for _, u := range unresolved {
			w := Warning{Message: fmt.Sprintf("unresolved macro %%{%s}", u)}
			warnings = append(warnings, w)
			logger.Printf("specfile: %s", w.Message)
		}

		switch {
		case field == "name":
			name = value
		case field == "version":
			version = value
		case field == "release":
			release = value
		case field == "epoch":
			epoch = value
		case strings.HasPrefix(field, "source"):
			sources = append(sources, value)
		case field == "buildrequires":
			rawRequires = append(rawRequires, value)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, warnings, &rpmhub.SpecParseError{Reason: err.Error()}
	}

	if name == "" {
		return nil, warnings, &rpmhub.SpecParseError{Reason: "missing Name header"}
	}
	if version == "" {
		return nil, warnings, &rpmhub.SpecParseError{Reason: "missing Version header"}
	}

	reqs, err := parseBuildRequiresLines(rawRequires)
	if err != nil {
		return nil, warnings, &rpmhub.SpecParseError{Reason: err.Error()}
	}

	return &rpmhub.PackageInfo{
		Name:          name,
		Version:       version,
		Release:       release,
		Epoch:         epoch,
		BuildRequires: reqs,
		SourceURLs:    sources,
	}, warnings, nil
}

// tokenRe splits a BuildRequires line into tokens, keeping "name op
// version" triples together and treating whitespace and commas as
// equivalent separators — the same shape pkgconfig_test.go in distri
// exercises for its own whitespace/comma-separated Requires parsing.
var tokenRe = regexp.MustCompile(`[A-Za-z0-9_.:()/+-]+(?:\s+(?:==|=|<=|>=|<|>|~=)\s+[A-Za-z0-9_.:+~^-]+)?`)

func parseBuildRequiresLines(lines []string) ([]rpmhub.BuildRequirement, error) {
	var reqs []rpmhub.BuildRequirement
	for _, line := range lines {
		normalized := strings.ReplaceAll(line, ",", " ")
		for _, tok := range tokenRe.FindAllString(normalized, -1) {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			req, err := rpmhub.ParseBuildRequirement(tok)
			if err != nil {
				return nil, err
			}
			reqs = append(reqs, req)
		}
	}
	return reqs, nil
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
