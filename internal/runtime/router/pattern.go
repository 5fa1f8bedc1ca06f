package router

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderRe matches {name} segments inside a string pattern.
var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// compilePattern converts a string pattern into an anchored regexp:
// {name} segments become named capture groups matching one path segment,
// and * becomes a wildcard. Everything else is matched literally.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("pattern cannot be empty")
	}

	var b strings.Builder
	b.WriteString("^")

	rest := pattern
	for len(rest) > 0 {
		loc := placeholderRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			b.WriteString(escapeLiteral(rest))
			break
		}
		b.WriteString(escapeLiteral(rest[:loc[0]]))
		name := rest[loc[2]:loc[3]]
		b.WriteString("(?P<" + name + ">[^/]+)")
		rest = rest[loc[1]:]
	}

	b.WriteString("$")
	return regexp.Compile(b.String())
}

// escapeLiteral quotes regexp metacharacters but keeps * as a wildcard.
func escapeLiteral(s string) string {
	parts := strings.Split(s, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return strings.Join(parts, ".*")
}

// matchParams extracts the named captures of a successful match.
func matchParams(re *regexp.Regexp, method string) (map[string]string, bool) {
	groups := re.FindStringSubmatch(method)
	if groups == nil {
		return nil, false
	}
	params := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		params[name] = groups[i]
	}
	return params, true
}
