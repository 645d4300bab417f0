package locator

import (
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/patrickmn/go-cache"
)

const (
	// WildcardToken replaces the instance-specific span in a search pattern.
	WildcardToken = ".*"

	groupPrefixSegments = 3
	patternMatchTimeout = 100 * time.Millisecond
)

// Normalized is the outcome of normalizing one identifier. GroupKey and
// SearchPattern are empty when Excluded is set.
type Normalized struct {
	Excluded      bool
	GroupKey      GroupKey
	SearchPattern string
}

type compiledPattern struct {
	source string
	re     *regexp2.Regexp
}

// Normalizer applies a compiled pattern set to identifiers. Results are
// memoized per identifier; the memo lives as long as the Normalizer.
type Normalizer struct {
	exclusion []compiledPattern
	grouping  []compiledPattern
	memo      *cache.Cache
}

// NewNormalizer compiles both pattern lists. Patterns that fail to compile are
// skipped; the returned error joins one *PatternCompileError per skipped
// pattern and the Normalizer is usable either way.
func NewNormalizer(exclusion, grouping []string) (*Normalizer, error) {
	var errs []error
	n := &Normalizer{memo: cache.New(cache.NoExpiration, 0)}

	for i, p := range exclusion {
		re, err := compileAnchored(p)
		if err != nil {
			errs = append(errs, &PatternCompileError{Kind: "exclusion", Index: i, Pattern: p, Cause: err})
			continue
		}
		n.exclusion = append(n.exclusion, compiledPattern{source: p, re: re})
	}
	for i, p := range grouping {
		re, err := compile(p)
		if err != nil {
			errs = append(errs, &PatternCompileError{Kind: "grouping", Index: i, Pattern: p, Cause: err})
			continue
		}
		n.grouping = append(n.grouping, compiledPattern{source: p, re: re})
	}

	for _, err := range errs {
		slog.Warn("skipping malformed pattern", "error", err)
	}
	return n, errors.Join(errs...)
}

// Normalize is the one-shot form of NewNormalizer followed by Normalize.
func Normalize(identifier string, exclusion, grouping []string) Normalized {
	n, _ := NewNormalizer(exclusion, grouping)
	return n.Normalize(identifier)
}

// Normalize maps an identifier to its group key and search pattern.
func (n *Normalizer) Normalize(identifier string) Normalized {
	if v, ok := n.memo.Get(identifier); ok {
		return v.(Normalized)
	}
	out := n.normalize(identifier)
	n.memo.Set(identifier, out, cache.NoExpiration)
	return out
}

func (n *Normalizer) normalize(identifier string) Normalized {
	for _, p := range n.exclusion {
		ok, err := p.re.MatchString(identifier)
		if err != nil {
			slog.Warn("exclusion pattern match failed", "pattern", p.source, "identifier", identifier, "error", err)
			continue
		}
		if ok {
			return Normalized{Excluded: true}
		}
	}

	for _, p := range n.grouping {
		m, err := p.re.FindStringMatch(identifier)
		if err != nil {
			slog.Warn("grouping pattern match failed", "pattern", p.source, "identifier", identifier, "error", err)
			continue
		}
		if m == nil {
			continue
		}
		// regexp2 reports rune offsets.
		runes := []rune(identifier)
		before := string(runes[:m.Index])
		after := string(runes[m.Index+m.Length:])
		return Normalized{
			GroupKey:      groupKey(identifier, before, after),
			SearchPattern: regexp.QuoteMeta(before) + WildcardToken + regexp.QuoteMeta(after),
		}
	}

	return Normalized{
		GroupKey:      GroupKey(identifier),
		SearchPattern: regexp.QuoteMeta(identifier),
	}
}

// groupKey keeps the first three dash-delimited segments as the stable prefix.
// Short identifiers would be swallowed whole by that rule, so they fall back
// to replacing the matched span.
func groupKey(identifier, before, after string) GroupKey {
	segments := strings.Split(identifier, "-")
	if len(segments) > groupPrefixSegments {
		return GroupKey(strings.Join(segments[:groupPrefixSegments], "-") + "-*")
	}
	return GroupKey(before + "*" + after)
}

// ResolutionRegex embeds a search pattern in the attribute query sent to the
// resolution service.
func ResolutionRegex(searchPattern string) string {
	return `id=("|')` + searchPattern + `("|')`
}

func compile(p string) (*regexp2.Regexp, error) {
	re, err := regexp2.Compile(p, regexp2.ECMAScript)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = patternMatchTimeout
	return re, nil
}

// compileAnchored validates p on its own first: wrapping can turn an invalid
// pattern such as "a)(b" into a valid one.
func compileAnchored(p string) (*regexp2.Regexp, error) {
	if _, err := compile(p); err != nil {
		return nil, err
	}
	return compile(`^(?:` + p + `)$`)
}
