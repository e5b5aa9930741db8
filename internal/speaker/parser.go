// ABOUTME: Heuristic extraction of a speaker label from the first line of a message
// ABOUTME: Rules are injectable domain content, evaluated in order against the first non-blank line

package speaker

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxLabelLength is the longest first line still considered a
// candidate speaker label, in runes.
const DefaultMaxLabelLength = 32

// RuleKind selects how a rule's value is matched against the first line.
type RuleKind string

const (
	RuleExact     RuleKind = "exact"     // case-insensitive full match
	RuleSubstring RuleKind = "substring" // case-insensitive contains
	RuleSuffix    RuleKind = "suffix"    // literal suffix match
)

// Rule is a single speaker-detection predicate.
type Rule struct {
	Kind  RuleKind `toml:"kind"`
	Value string   `toml:"value"`
}

// Parser splits raw message text into an optional speaker label and a body.
// It is stateless and safe for concurrent use.
type Parser struct {
	rules    []Rule
	maxLabel int
}

// DefaultRules returns the built-in rule set: a "narration" label, a
// "slayer" marker anywhere in the line, and a trailing colon.
func DefaultRules() []Rule {
	return []Rule{
		{Kind: RuleExact, Value: "narration"},
		{Kind: RuleSubstring, Value: "slayer"},
		{Kind: RuleSuffix, Value: ":"},
	}
}

// NewParser creates a parser from the given rules. A nil or empty rule set
// falls back to DefaultRules. maxLabel <= 0 falls back to
// DefaultMaxLabelLength.
func NewParser(rules []Rule, maxLabel int) (*Parser, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	if maxLabel <= 0 {
		maxLabel = DefaultMaxLabelLength
	}
	for i, r := range rules {
		switch r.Kind {
		case RuleExact, RuleSubstring, RuleSuffix:
		default:
			return nil, fmt.Errorf("rule %d: unknown kind %q", i, r.Kind)
		}
		if r.Value == "" {
			return nil, fmt.Errorf("rule %d: value is required", i)
		}
	}
	return &Parser{rules: rules, maxLabel: maxLabel}, nil
}

// Parse extracts a speaker label from raw text.
//
// The first non-blank line is accepted as a label iff it is at most maxLabel
// runes long and at least one rule matches it. When accepted, the label is
// returned with trailing colons and spaces trimmed, and body holds the
// remaining lines with leading whitespace stripped. When rejected, body is
// the original text untouched.
func (p *Parser) Parse(raw string) (label, body string, ok bool) {
	lines := strings.Split(raw, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	if len(lines) == 0 {
		return "", "", false
	}

	first := strings.TrimSpace(lines[0])
	if utf8.RuneCountInString(first) > p.maxLabel || !p.matches(first) {
		return "", raw, false
	}

	label = strings.TrimRight(first, ": ")
	body = strings.TrimLeftFunc(strings.Join(lines[1:], "\n"), unicode.IsSpace)
	return label, body, true
}

func (p *Parser) matches(first string) bool {
	lower := strings.ToLower(first)
	for _, r := range p.rules {
		switch r.Kind {
		case RuleExact:
			if lower == strings.ToLower(r.Value) {
				return true
			}
		case RuleSubstring:
			if strings.Contains(lower, strings.ToLower(r.Value)) {
				return true
			}
		case RuleSuffix:
			if strings.HasSuffix(first, r.Value) {
				return true
			}
		}
	}
	return false
}
