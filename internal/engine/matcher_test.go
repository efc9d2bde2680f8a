package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/dmflow/internal/rules"
)

func newKeywordRule(keywords, excludes []string) rules.Rule {
	return rules.Rule{
		ID:          uuid.New(),
		Status:      rules.StatusActive,
		TriggerType: rules.TriggerKeywordComment,
		Keywords:    keywords,
		ExcludeKeywords: excludes,
	}
}

func eventWithText(text string) CommentEvent {
	return CommentEvent{
		ChannelID:   uuid.New(),
		MediaID:     "media-1",
		CommenterID: "u1",
		CommentText: text,
	}
}

func TestMatchRules_NewCommentMatchesEverything(t *testing.T) {
	r := rules.Rule{ID: uuid.New(), Status: rules.StatusActive, TriggerType: rules.TriggerNewComment}
	evals := MatchRules(eventWithText("anything at all"), []rules.Rule{r})
	require.Len(t, evals, 1)
	assert.Equal(t, Matched, evals[0].Outcome)
}

func TestMatchRules_KeywordPresent(t *testing.T) {
	r := newKeywordRule([]string{"price", "buy"}, []string{"not for sale"})
	evals := MatchRules(eventWithText("what's the PRICE?"), []rules.Rule{r})
	require.Len(t, evals, 1)
	assert.Equal(t, Matched, evals[0].Outcome)
}

func TestMatchRules_ExcludeWinsOverKeyword(t *testing.T) {
	r := newKeywordRule([]string{"price", "buy"}, []string{"not for sale"})
	evals := MatchRules(eventWithText("price is not for sale"), []rules.Rule{r})
	require.Len(t, evals, 1)
	assert.Equal(t, KeywordFiltered, evals[0].Outcome)
}

func TestMatchRules_NoKeywordPresentIsFiltered(t *testing.T) {
	r := newKeywordRule([]string{"price"}, nil)
	evals := MatchRules(eventWithText("lovely photo"), []rules.Rule{r})
	require.Len(t, evals, 1)
	assert.Equal(t, KeywordFiltered, evals[0].Outcome)
}

func TestMatchRules_EmptyKeywordSetNeverMatches(t *testing.T) {
	r := newKeywordRule(nil, nil)
	evals := MatchRules(eventWithText("price"), []rules.Rule{r})
	require.Len(t, evals, 1)
	assert.Equal(t, KeywordFiltered, evals[0].Outcome)
}

func TestMatchRules_OtherMediaOutOfScope(t *testing.T) {
	r := rules.Rule{
		ID: uuid.New(), Status: rules.StatusActive,
		TriggerType: rules.TriggerNewComment, MediaID: "media-other",
	}
	evals := MatchRules(eventWithText("hi"), []rules.Rule{r})
	assert.Empty(t, evals)
}

// One comment can fire several rules; each gets its own pipeline instance,
// and there is no first-match-wins cutoff between them.
func TestMatchRules_MultipleIndependentMatches(t *testing.T) {
	channelWide := rules.Rule{ID: uuid.New(), Status: rules.StatusActive, TriggerType: rules.TriggerNewComment}
	mediaScoped := rules.Rule{
		ID: uuid.New(), Status: rules.StatusActive,
		TriggerType: rules.TriggerNewComment, MediaID: "media-1",
	}
	keyword := newKeywordRule([]string{"price"}, nil)

	evals := MatchRules(eventWithText("price please"), []rules.Rule{channelWide, mediaScoped, keyword})
	require.Len(t, evals, 3)

	// Media-scoped rule ranks first.
	assert.Equal(t, mediaScoped.ID, evals[0].Rule.ID)
	for _, e := range evals {
		assert.Equal(t, Matched, e.Outcome)
	}
}

func TestKeywordPredicate_TrimAndCase(t *testing.T) {
	assert.True(t, keywordPredicate("  BUY now  ", []string{"buy"}, nil))
	assert.False(t, keywordPredicate("buy now", []string{"buy"}, []string{"NOW"}))
	assert.False(t, keywordPredicate("hello", []string{""}, nil))
}
