package tools

import (
	"path"
	"regexp"
	"strings"
)

// Glob matches repository paths against a comma-separated list of patterns.
// "*" matches any run of characters except "/", "**" matches any run including "/",
// and "?" matches one non-separator character. A pattern without "/" is matched
// against the base name only, so "*.ts" matches "src/index.ts".
type Glob struct {
	full []*regexp.Regexp
	base []*regexp.Regexp
}

// CompileGlob compiles pattern. An empty pattern matches everything.
func CompileGlob(pattern string) *Glob {
	g := &Glob{}
	for _, raw := range strings.Split(pattern, ",") {
		p := strings.TrimSpace(raw)
		p = strings.TrimPrefix(p, "./")
		if p == "" {
			continue
		}
		re := regexp.MustCompile(globToRegexp(p))
		if strings.Contains(p, "/") {
			g.full = append(g.full, re)
		} else {
			g.base = append(g.base, re)
		}
	}
	return g
}

// Empty reports whether the glob has no patterns and therefore matches everything.
func (g *Glob) Empty() bool {
	return g == nil || (len(g.full) == 0 && len(g.base) == 0)
}

func (g *Glob) Match(p string) bool {
	if g.Empty() {
		return true
	}
	for _, re := range g.full {
		if re.MatchString(p) {
			return true
		}
	}
	if len(g.base) > 0 {
		base := path.Base(p)
		for _, re := range g.base {
			if re.MatchString(base) {
				return true
			}
		}
	}
	return false
}

func globToRegexp(p string) string {
	var sb strings.Builder
	sb.WriteString("^")
	for i := 0; i < len(p); {
		switch {
		case strings.HasPrefix(p[i:], "**/"):
			sb.WriteString("(?:.*/)?")
			i += 3
		case strings.HasPrefix(p[i:], "**"):
			sb.WriteString(".*")
			i += 2
		case p[i] == '*':
			sb.WriteString("[^/]*")
			i++
		case p[i] == '?':
			sb.WriteString("[^/]")
			i++
		default:
			j := i
			for j < len(p) && p[j] != '*' && p[j] != '?' {
				j++
			}
			sb.WriteString(regexp.QuoteMeta(p[i:j]))
			i = j
		}
	}
	sb.WriteString("$")
	return sb.String()
}
