package engine

import (
	"sort"
	"strings"

	"github.com/ignite/dmflow/internal/rules"
)

// MatchOutcome is the trigger matcher's verdict for one in-scope rule.
type MatchOutcome int

const (
	// Matched means the rule's trigger predicate fired and the pipeline
	// proceeds to dedup and rate-limit checks.
	Matched MatchOutcome = iota
	// KeywordFiltered means the rule was in scope but its keyword
	// predicate rejected the comment. This is a logged terminal state,
	// not a silent skip.
	KeywordFiltered
)

// Evaluation pairs an in-scope rule with the matcher's verdict. Each
// evaluation becomes its own independent pipeline instance; one comment can
// fan out to several rules and there is no first-match-wins cutoff.
type Evaluation struct {
	Rule    rules.Rule
	Outcome MatchOutcome
}

// MatchRules evaluates a comment event against the active rules for its
// channel. Rules scoped to another media are dropped without a trace; rules
// in scope come back most-specific first (exact media before channel-wide).
func MatchRules(evt CommentEvent, active []rules.Rule) []Evaluation {
	var out []Evaluation
	for _, r := range active {
		if r.MediaID != "" && r.MediaID != evt.MediaID {
			continue
		}
		switch r.TriggerType {
		case rules.TriggerNewComment:
			out = append(out, Evaluation{Rule: r, Outcome: Matched})
		case rules.TriggerKeywordComment:
			if keywordPredicate(evt.CommentText, r.Keywords, r.ExcludeKeywords) {
				out = append(out, Evaluation{Rule: r, Outcome: Matched})
			} else {
				out = append(out, Evaluation{Rule: r, Outcome: KeywordFiltered})
			}
		}
	}
	// Media-scoped rules rank above channel-wide ones.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Rule.MediaID != "" && out[j].Rule.MediaID == ""
	})
	return out
}

// keywordPredicate reports whether the comment contains at least one keyword
// and none of the exclude keywords. Comparison is case-insensitive on the
// trimmed text. An empty keyword set never satisfies the predicate, and the
// exclude set wins even when a keyword is also present.
func keywordPredicate(text string, keywords, excludes []string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, ex := range excludes {
		ex = strings.ToLower(strings.TrimSpace(ex))
		if ex != "" && strings.Contains(normalized, ex) {
			return false
		}
	}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}
