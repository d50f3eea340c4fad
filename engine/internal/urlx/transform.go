package urlx

import (
	"fmt"
	"regexp"
	"strings"
)

// TransformRule rewrites admitted URLs: plain substring replacement, or
// regex replacement when the from side is slash-delimited (`/pat/`).
type TransformRule struct {
	fromText string
	fromRx   *regexp.Regexp
	to       string
}

// ParseTransform parses a "from -> to" rule.
func ParseTransform(spec string) (TransformRule, error) {
	parts := strings.SplitN(spec, "->", 2)
	if len(parts) != 2 {
		return TransformRule{}, fmt.Errorf("transform rule %q: expected \"from -> to\"", spec)
	}
	from := strings.TrimSpace(parts[0])
	to := strings.TrimSpace(parts[1])
	if from == "" {
		return TransformRule{}, fmt.Errorf("transform rule %q: empty from side", spec)
	}
	rule := TransformRule{to: to}
	if len(from) > 2 && strings.HasPrefix(from, "/") && strings.HasSuffix(from, "/") {
		rx, err := regexp.Compile(from[1 : len(from)-1])
		if err != nil {
			return TransformRule{}, fmt.Errorf("transform rule %q: %w", spec, err)
		}
		rule.fromRx = rx
	} else {
		rule.fromText = from
	}
	return rule, nil
}

// Apply rewrites one URL string.
func (r TransformRule) Apply(u string) string {
	if r.fromRx != nil {
		return r.fromRx.ReplaceAllString(u, r.to)
	}
	return strings.ReplaceAll(u, r.fromText, r.to)
}

// ApplyTransforms runs every rule in order.
func ApplyTransforms(u string, rules []TransformRule) string {
	for _, r := range rules {
		u = r.Apply(u)
	}
	return u
}
