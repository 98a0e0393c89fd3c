package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pfrederiksen/raceradar/internal/event"
)

// Default confidences per outcome
const (
	SoldOutConfidence    = 0.95
	WaitlistConfidence   = 0.80
	NotYetOpenConfidence = 0.70
	OpenConfidence       = 0.80
	UnknownConfidence    = 0.40
)

// Rule is one status with its keyword patterns and base confidence
type Rule struct {
	Status     event.Status `yaml:"status" json:"status"`
	Patterns   []string     `yaml:"patterns" json:"patterns"`
	Confidence float64      `yaml:"confidence" json:"confidence"`
}

// Result is the outcome of classifying one page
type Result struct {
	Status     event.Status `json:"status"`
	Confidence float64      `json:"confidence"`
	Matched    string       `json:"matched,omitempty"` // pattern that decided the result
}

// ValidationError reports a rule set rejected at load time
type ValidationError struct {
	Status event.Status
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Status == "" {
		return "invalid rule set: " + e.Reason
	}
	return fmt.Sprintf("invalid rule for %s: %s", e.Status, e.Reason)
}

type compiledRule struct {
	status     event.Status
	confidence float64
	patterns   []*regexp.Regexp
}

// Classifier holds a validated, compiled rule set
type Classifier struct {
	rules             map[event.Status]compiledRule
	source            []Rule
	unknownConfidence float64
}

// New validates and compiles rules. The rule set must contain exactly one rule for each of
// sold_out, waitlist, not_yet_open and open; an unknown rule is optional and only sets the
// fallback confidence.
func New(rules []Rule) (*Classifier, error) {
	c := &Classifier{
		rules:             make(map[event.Status]compiledRule),
		unknownConfidence: UnknownConfidence,
	}

	for _, r := range rules {
		if !r.Status.Valid() {
			return nil, &ValidationError{Reason: fmt.Sprintf("unknown status %q", r.Status)}
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return nil, &ValidationError{Status: r.Status, Reason: fmt.Sprintf("confidence %v outside [0,1]", r.Confidence)}
		}
		if r.Status == event.StatusUnknown {
			c.unknownConfidence = r.Confidence
			c.source = append(c.source, r)
			continue
		}
		if _, dup := c.rules[r.Status]; dup {
			return nil, &ValidationError{Status: r.Status, Reason: "duplicate rule"}
		}
		if len(r.Patterns) == 0 {
			return nil, &ValidationError{Status: r.Status, Reason: "no patterns"}
		}

		compiled := compiledRule{status: r.Status, confidence: r.Confidence}
		for _, p := range r.Patterns {
			if strings.TrimSpace(p) == "" {
				return nil, &ValidationError{Status: r.Status, Reason: "empty pattern"}
			}
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, &ValidationError{Status: r.Status, Reason: fmt.Sprintf("pattern %q: %v", p, err)}
			}
			compiled.patterns = append(compiled.patterns, re)
		}
		c.rules[r.Status] = compiled
		c.source = append(c.source, r)
	}

	for _, required := range []event.Status{event.StatusSoldOut, event.StatusWaitlist, event.StatusNotYetOpen, event.StatusOpen} {
		if _, ok := c.rules[required]; !ok {
			return nil, &ValidationError{Status: required, Reason: "missing rule"}
		}
	}

	return c, nil
}

// NewDefault returns a classifier over DefaultRules
func NewDefault() *Classifier {
	c, err := New(DefaultRules())
	if err != nil {
		panic(fmt.Sprintf("default classifier rules: %v", err))
	}
	return c
}

// Rules returns the rule set the classifier was built from
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.source))
	copy(out, c.source)
	return out
}

// Classify maps page text to a status. Precedence:
//  1. any sold_out pattern
//  2. any waitlist pattern
//  3. any not_yet_open pattern, only when no open pattern matches
//  4. any open pattern
//  5. unknown
func (c *Classifier) Classify(text string) Result {
	text = strings.ToLower(text)

	if p, ok := c.match(event.StatusSoldOut, text); ok {
		return c.result(event.StatusSoldOut, p)
	}
	if p, ok := c.match(event.StatusWaitlist, text); ok {
		return c.result(event.StatusWaitlist, p)
	}

	openPattern, open := c.match(event.StatusOpen, text)
	if p, ok := c.match(event.StatusNotYetOpen, text); ok && !open {
		return c.result(event.StatusNotYetOpen, p)
	}
	if open {
		return c.result(event.StatusOpen, openPattern)
	}

	return Result{Status: event.StatusUnknown, Confidence: c.unknownConfidence}
}

func (c *Classifier) match(status event.Status, text string) (string, bool) {
	for _, re := range c.rules[status].patterns {
		if re.MatchString(text) {
			return re.String(), true
		}
	}
	return "", false
}

func (c *Classifier) result(status event.Status, pattern string) Result {
	return Result{
		Status:     status,
		Confidence: c.rules[status].confidence,
		Matched:    strings.TrimPrefix(pattern, "(?i)"),
	}
}
