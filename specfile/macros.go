package specfile

import "regexp"

// knownMacros is the fixed table of system macros consulted during
// expansion. It is deliberately small and hand-maintained, the way distri's
// build.go keeps small lookup tables (e.g. fileExtensions) next to the code
// that uses them rather than loading them from a config file.
var knownMacros = map[string]string{
	"python3_pkgversion": "3",
	"python3_version":     "3.12",
	"python3_sitelib":     "/usr/lib/python3.12/site-packages",
	"python3_sitearch":    "/usr/lib64/python3.12/site-packages",
	"_bindir":             "/usr/bin",
	"_sbindir":            "/usr/sbin",
	"_libdir":             "/usr/lib64",
	"_libexecdir":         "/usr/libexec",
	"_includedir":         "/usr/include",
	"_datadir":            "/usr/share",
	"_sysconfdir":         "/etc",
	"_localstatedir":      "/var",
	"_sharedstatedir":     "/var/lib",
	"_mandir":             "/usr/share/man",
	"_docdir":             "/usr/share/doc",
	"_prefix":             "/usr",
	"_exec_prefix":        "/usr",
	"_unitdir":            "/usr/lib/systemd/system",
	"_rpmconfigdir":       "/usr/lib/rpm",
	"_builddir":           "%{_topdir}/BUILD",
	"_topdir":             "/usr/src/rpm",
	"dist":                ".el9",
	"go_arches":           "x86_64 aarch64",
}

// maxExpansionDepth bounds the number of passes made over a string while
// expanding nested macros, e.g. %{?foo}=%{%{bar}}.
const maxExpansionDepth = 8

// macroRe matches %{name}, %{?name}, and %name forms. Group 1 is the
// braced form's optional "?" flag (possibly empty), group 2 is the braced
// name, group 3 is the bare name.
var macroRe = regexp.MustCompile(`%\{(\??)([A-Za-z_][A-Za-z0-9_]*)\}|%([A-Za-z_][A-Za-z0-9_]*)`)

// ExpandMacros iteratively substitutes known macros in s, up to
// maxExpansionDepth passes to accommodate nesting. It returns the expanded
// string and the set of macro names it could not resolve (encountered in
// non-optional form and left verbatim). NameCanonicalizer (package canon)
// reuses this engine for partly-expanded macros in dependency tokens.
func ExpandMacros(s string) (string, []string) {
	var unresolved []string
	seen := make(map[string]bool)
	for i := 0; i < maxExpansionDepth; i++ {
		changed := false
		s = macroRe.ReplaceAllStringFunc(s, func(m string) string {
			sub := macroRe.FindStringSubmatch(m)
			optional := sub[1] == "?"
			name := sub[2]
			if name == "" {
				name = sub[3]
			}
			if val, ok := knownMacros[name]; ok {
				changed = true
				return val
			}
			if optional {
				changed = true
				return ""
			}
			if !seen[name] {
				seen[name] = true
				unresolved = append(unresolved, name)
			}
			return m // left verbatim
		})
		if !changed {
			break
		}
	}
	return s, unresolved
}
