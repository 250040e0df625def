package rotation

import (
	"strings"
	"unicode"
)

// smallTalkPhrases is the greeting/pleasantry vocabulary. A message matching
// one of these (after trimming punctuation, case-insensitive) is small talk
// and never counts as a topic shift.
var smallTalkPhrases = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "yo": {}, "sup": {}, "hiya": {},
	"good morning": {}, "good afternoon": {}, "good evening": {}, "good night": {},
	"morning": {}, "evening": {}, "night": {},
	"how are you": {}, "how's it going": {}, "hows it going": {}, "what's up": {}, "whats up": {},
	"thanks": {}, "thank you": {}, "thx": {}, "ty": {},
	"ok": {}, "okay": {}, "k": {}, "kk": {}, "sure": {}, "yes": {}, "no": {}, "yep": {}, "nope": {},
	"cool": {}, "nice": {}, "great": {}, "awesome": {}, "perfect": {}, "lol": {}, "haha": {},
	"bye": {}, "goodbye": {}, "see you": {}, "see ya": {}, "later": {}, "good one": {},
}

// stopWords are excluded from salient-term extraction.
var stopWords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "also": {}, "been": {}, "before": {},
	"being": {}, "between": {}, "both": {}, "cannot": {}, "could": {}, "does": {},
	"doing": {}, "down": {}, "each": {}, "even": {}, "every": {}, "from": {},
	"have": {}, "having": {}, "here": {}, "into": {}, "just": {}, "like": {},
	"make": {}, "many": {}, "more": {}, "most": {}, "much": {}, "need": {},
	"only": {}, "other": {}, "over": {}, "please": {}, "really": {}, "same": {},
	"should": {}, "some": {}, "something": {}, "still": {}, "such": {},
	"than": {}, "that": {}, "them": {}, "then": {}, "there": {}, "these": {},
	"they": {}, "thing": {}, "this": {}, "those": {}, "through": {}, "very": {},
	"want": {}, "well": {}, "were": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "while": {}, "will": {}, "with": {}, "would": {}, "your": {},
}

// IsSmallTalk reports whether a message is a bare greeting or pleasantry.
func IsSmallTalk(message string) bool {
	normalized := strings.ToLower(strings.TrimSpace(message))
	normalized = strings.TrimFunc(normalized, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	normalized = strings.Join(strings.Fields(normalized), " ")
	if normalized == "" {
		return true
	}
	_, ok := smallTalkPhrases[normalized]
	return ok
}

// SalientTerms extracts the content-bearing words of a message: lowercased
// words of at least four runes, minus stop words, deduplicated.
func SalientTerms(message string) map[string]struct{} {
	terms := map[string]struct{}{}
	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if len([]rune(w)) < 4 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		terms[w] = struct{}{}
	}
	return terms
}

// TermOverlap is the fraction of the new message's salient terms that also
// appear in the recent-turn vocabulary.
func TermOverlap(newTerms, recent map[string]struct{}) float64 {
	if len(newTerms) == 0 {
		return 1
	}
	shared := 0
	for t := range newTerms {
		if _, ok := recent[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(newTerms))
}

// minShiftTerms is the least number of salient terms a message needs before
// low overlap is trusted as a topic change.
const minShiftTerms = 3

func looksLikeTopicShift(message string, recentUserTexts []string, maxOverlap float64) bool {
	newTerms := SalientTerms(message)
	if len(newTerms) < minShiftTerms {
		return false
	}
	recent := map[string]struct{}{}
	for _, text := range recentUserTexts {
		for t := range SalientTerms(text) {
			recent[t] = struct{}{}
		}
	}
	if len(recent) == 0 {
		return false
	}
	return TermOverlap(newTerms, recent) < maxOverlap
}
