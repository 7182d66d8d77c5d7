package procdir

import (
	"path"
	"regexp"
	"strings"
)

var (
	dotnetHost = regexp.MustCompile(`(?i)^\s*("[^"]*dotnet(\.exe)?"|([^"\s]*[/\\])?dotnet(\.exe)?)\s+exec\s+`)
	hostOption = regexp.MustCompile(`^--[A-Za-z][\w-]*\s+("[^"]*"|\S+)\s+`)
	argsTail   = regexp.MustCompile(`\s+(run|--\S+)(\s|$)`)
)

// TrimQuotes removes double quotes anywhere in s and a pair of surrounding single quotes.
func TrimQuotes(s string) string {
	s = strings.ReplaceAll(s, `"`, "")
	if n := len(s); n >= 2 && s[0] == '\'' && s[n-1] == '\'' {
		s = s[1 : n-1]
	}
	return s
}

// NormalizePath produces the comparison form of a path: quotes removed,
// separators turned into '/', duplicate and trailing separators dropped.
// Roots keep their trailing separator ("/", "C:/").
func NormalizePath(p string) string {
	p = strings.TrimSpace(TrimQuotes(strings.TrimSpace(p)))
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, `\`, "/")
	unc := strings.HasPrefix(p, "//")
	p = path.Clean(p)
	if unc && !strings.HasPrefix(p, "//") {
		p = "/" + p
	}
	if hasDrive(p) && len(p) == 2 {
		p += "/"
	}
	return p
}

// HasPathPrefix reports whether p equals root or lies below it, comparing whole
// path components. Drive-letter paths compare case-insensitively.
func HasPathPrefix(p, root string) bool {
	p, root = NormalizePath(p), NormalizePath(root)
	if p == "" || root == "" {
		return false
	}
	if hasDrive(p) || hasDrive(root) {
		p, root = strings.ToLower(p), strings.ToLower(root)
	}
	if p == root {
		return true
	}
	if strings.HasSuffix(root, "/") {
		return strings.HasPrefix(p, root)
	}
	return strings.HasPrefix(p, root+"/")
}

// ExecutablePath extracts the path of the program a command line runs. A
// leading "dotnet exec" and its host options are skipped, a quoted path is
// taken whole, otherwise the path ends where "run" or "--" arguments begin.
func ExecutablePath(cmdline string) string {
	rest := strings.TrimSpace(cmdline)
	if loc := dotnetHost.FindStringIndex(rest); loc != nil {
		rest = rest[loc[1]:]
		for {
			loc := hostOption.FindStringIndex(rest)
			if loc == nil {
				break
			}
			rest = rest[loc[1]:]
		}
	}
	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, `"`) {
		if end := strings.Index(rest[1:], `"`); end >= 0 {
			return NormalizePath(rest[1 : end+1])
		}
	}
	if loc := argsTail.FindStringIndex(rest); loc != nil {
		rest = rest[:loc[0]]
	}
	return NormalizePath(rest)
}

// ContainsDiscriminator reports whether cmdline contains marker, treating '\'
// and '/' as the same separator. An empty marker matches everything.
func ContainsDiscriminator(cmdline, marker string) bool {
	if marker == "" {
		return true
	}
	c := strings.ReplaceAll(cmdline, `\`, "/")
	m := strings.ReplaceAll(marker, `\`, "/")
	return strings.Contains(c, m)
}

func hasDrive(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
