// Package matcher implements the message matching engine.
//
// The active rule set lives in an immutable snapshot that is swapped
// atomically on every update: an in-flight evaluation always sees one
// consistent rule set, and updates apply to the next message only.
package matcher

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"channel_monitor/internal/model"
)

// DefaultTimeBudget bounds the evaluation of one regex rule against one
// message. Rule text is operator-supplied, so a hard bound is kept even
// though the regexp engine itself is linear-time.
const DefaultTimeBudget = 50 * time.Millisecond

// CompileError reports an invalid regular-expression rule at add time.
type CompileError struct {
	Pattern string
	Err     error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile pattern %q: %v", e.Pattern, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Match is one pattern hit on a message.
type Match struct {
	PatternID int64
	Snippet   string
}

type rule struct {
	id            int64
	text          string
	caseSensitive bool
	re            *regexp.Regexp // nil for literal rules
}

// Matcher evaluates messages against the active rule snapshot.
type Matcher struct {
	log    *slog.Logger
	budget time.Duration
	snap   atomic.Pointer[[]rule]
}

// New creates a Matcher with an empty rule set.
func New(log *slog.Logger) *Matcher {
	m := &Matcher{log: log, budget: DefaultTimeBudget}
	empty := []rule{}
	m.snap.Store(&empty)
	return m
}

// SetTimeBudget overrides the per-rule evaluation budget (useful for testing).
func (m *Matcher) SetTimeBudget(d time.Duration) {
	m.budget = d
}

func compile(p model.Pattern) (rule, error) {
	r := rule{id: p.ID, text: p.Text, caseSensitive: p.CaseSensitive}
	if p.Kind != model.PatternRegex {
		return r, nil
	}
	expr := p.Text
	if !p.CaseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return rule{}, &CompileError{Pattern: p.Text, Err: err}
	}
	r.re = re
	return r, nil
}

// Validate reports whether a pattern would compile, without touching the
// active snapshot.
func Validate(p model.Pattern) error {
	_, err := compile(p)
	return err
}

// Load replaces the whole snapshot with the given patterns.
// Inactive patterns are skipped; an invalid regex rejects the load.
func (m *Matcher) Load(patterns []model.Pattern) error {
	rules := make([]rule, 0, len(patterns))
	for _, p := range patterns {
		if !p.IsActive {
			continue
		}
		r, err := compile(p)
		if err != nil {
			return err
		}
		rules = append(rules, r)
	}
	m.snap.Store(&rules)
	return nil
}

// Add compiles a pattern and publishes a new snapshot including it.
// An invalid regular expression returns a *CompileError and leaves the
// snapshot untouched.
func (m *Matcher) Add(p model.Pattern) error {
	r, err := compile(p)
	if err != nil {
		return err
	}
	old := *m.snap.Load()
	rules := make([]rule, 0, len(old)+1)
	rules = append(rules, old...)
	rules = append(rules, r)
	m.snap.Store(&rules)
	return nil
}

// Remove publishes a new snapshot without the given pattern.
func (m *Matcher) Remove(patternID int64) {
	old := *m.snap.Load()
	rules := make([]rule, 0, len(old))
	for _, r := range old {
		if r.id != patternID {
			rules = append(rules, r)
		}
	}
	m.snap.Store(&rules)
}

// Len reports the number of rules in the current snapshot.
func (m *Matcher) Len() int {
	return len(*m.snap.Load())
}

// Evaluate tests text against every rule in the current snapshot and
// returns one Match per matching rule. There is no first-match
// short-circuit: a message may match zero, one, or many rules.
func (m *Matcher) Evaluate(text string) []Match {
	if text == "" {
		return nil
	}

	var matches []Match
	for _, r := range *m.snap.Load() {
		if r.re == nil {
			if snippet, ok := matchLiteral(text, r); ok {
				matches = append(matches, Match{PatternID: r.id, Snippet: snippet})
			}
			continue
		}
		snippet, ok, timedOut := m.matchRegex(text, r)
		if timedOut {
			m.log.Warn("pattern evaluation exceeded time budget, skipped",
				"pattern_id", r.id, "budget", m.budget)
			continue
		}
		if ok {
			matches = append(matches, Match{PatternID: r.id, Snippet: snippet})
		}
	}
	return matches
}

func matchLiteral(text string, r rule) (string, bool) {
	if r.caseSensitive {
		idx := strings.Index(text, r.text)
		if idx < 0 {
			return "", false
		}
		return text[idx : idx+len(r.text)], true
	}
	haystack := strings.ToLower(text)
	needle := strings.ToLower(r.text)
	idx := strings.Index(haystack, needle)
	if idx < 0 {
		return "", false
	}
	// Report the snippet as it appeared in the original text. Byte
	// offsets into the lowercased copy cannot be used on the original
	// directly: folds like U+0130 change a rune's encoded length.
	start, end := foldedRange(text, haystack, idx, idx+len(needle))
	return text[start:end], true
}

// foldedRange maps a byte range in the lowercased copy of text back to the
// corresponding range in the original. ToLower rewrites rune by rune, so
// walking both strings in lockstep keeps the offsets aligned.
func foldedRange(orig, lowered string, lo, hi int) (int, int) {
	oi, li := 0, 0
	start := -1
	for oi < len(orig) && li < len(lowered) {
		if li == lo {
			start = oi
		}
		if li == hi {
			return start, oi
		}
		_, on := utf8.DecodeRuneInString(orig[oi:])
		_, ln := utf8.DecodeRuneInString(lowered[li:])
		oi += on
		li += ln
	}
	if start == -1 {
		start = oi
	}
	return start, oi
}

// matchRegex evaluates one regex rule within the time budget. A rule that
// exceeds the budget is reported as timed out; the evaluation goroutine is
// left to finish on its own since the regexp engine always terminates.
func (m *Matcher) matchRegex(text string, r rule) (snippet string, ok, timedOut bool) {
	type result struct {
		loc []int
	}
	done := make(chan result, 1)
	go func() {
		done <- result{loc: r.re.FindStringIndex(text)}
	}()

	timer := time.NewTimer(m.budget)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.loc == nil {
			return "", false, false
		}
		return text[res.loc[0]:res.loc[1]], true, false
	case <-timer.C:
		return "", false, true
	}
}
