package extract

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/sahilm/fuzzy"
)

// optionMatches returns the indexes of options mentioned in answer. Exact
// phrase containment wins; fuzzy matching only runs when nothing matched
// exactly.
func optionMatches(answer string, options []string) []int {
	text := fold(answer)
	folded := make([]string, len(options))
	for i, o := range options {
		folded[i] = fold(o)
	}

	var exact []int
	for i, o := range folded {
		if containsPhrase(text, o) {
			exact = append(exact, i)
		}
	}
	if len(exact) > 0 {
		return dropShadowed(exact, folded)
	}
	return fuzzyOptionMatches(strings.Fields(text), folded)
}

// dropShadowed removes matches that are contained in a longer match, so
// "premium plus" does not also select "premium".
func dropShadowed(idx []int, folded []string) []int {
	var out []int
	for _, i := range idx {
		shadowed := false
		for _, j := range idx {
			if i != j && len(folded[j]) > len(folded[i]) && containsPhrase(folded[j], folded[i]) {
				shadowed = true
				break
			}
		}
		if !shadowed {
			out = append(out, i)
		}
	}
	return out
}

// fuzzyOptionMatches keeps the options with the best share of their words
// matched by close tokens; an option needs at least half its words matched.
func fuzzyOptionMatches(tokens []string, folded []string) []int {
	best := 0.0
	var out []int
	for i, opt := range folded {
		total, matched := 0, 0
		for _, w := range strings.Fields(opt) {
			if len(w) < 3 {
				continue
			}
			total++
			for _, tok := range tokens {
				if len(tok) >= 3 && !isStopword(tok) && closeWord(tok, w) {
					matched++
					break
				}
			}
		}
		if total == 0 || matched == 0 {
			continue
		}
		coverage := float64(matched) / float64(total)
		switch {
		case coverage < 0.5:
		case coverage > best:
			best = coverage
			out = []int{i}
		case coverage == best:
			out = append(out, i)
		}
	}
	return out
}

// closeWord accepts a spoken token as a paraphrase of an option word when one
// is a near-complete subsequence of the other or they differ by a small edit.
func closeWord(tok, w string) bool {
	if tok == w {
		return true
	}
	diff := len(tok) - len(w)
	if diff < 0 {
		diff = -diff
	}
	if diff <= 2 {
		if len(tok) <= len(w) && len(fuzzy.Find(tok, []string{w})) > 0 {
			return true
		}
		if len(w) < len(tok) && len(fuzzy.Find(w, []string{tok})) > 0 {
			return true
		}
	}
	limit := 1
	if len(w) >= 8 {
		limit = 2
	}
	return len(w) >= 4 && levenshtein.ComputeDistance(tok, w) <= limit
}

var selectionSplitRE = regexp.MustCompile(`\s*(?:,|;|&|\band\b|\bor\b|\bplus\b|\balso\b)\s*`)

// selectionMatches matches every segment of a list-like answer separately.
func selectionMatches(answer string, options []string) []int {
	set := make(map[int]struct{})
	for _, i := range optionMatches(answer, options) {
		set[i] = struct{}{}
	}
	for _, seg := range selectionSplitRE.Split(strings.ToLower(answer), -1) {
		if strings.TrimSpace(seg) == "" {
			continue
		}
		for _, i := range optionMatches(seg, options) {
			set[i] = struct{}{}
		}
	}
	out := make([]int, 0, len(set))
	for i := range options {
		if _, ok := set[i]; ok {
			out = append(out, i)
		}
	}
	return out
}

var (
	hedgePhrases = []string{
		"maybe", "perhaps", "possibly", "unsure", "dunno", "not sure", "dont know", "do not know",
		"not certain", "no idea", "kind of", "sort of",
	}
	firmNegatives = []string{
		"absolutely not", "definitely not", "certainly not", "of course not", "no way", "not really",
		"not at all",
	}
	// Agreement spelled with a negative word; matched and removed before the
	// negative scan.
	affirmativeIdioms = []string{
		"no problem", "not a problem", "no worries", "no objection", "no objections", "why not",
		"dont mind", "do not mind", "go ahead", "go for it",
	}
	affirmatives = []string{
		"yes", "yeah", "yep", "yup", "ya", "sure", "correct", "true", "affirmative", "absolutely",
		"definitely", "certainly", "ok", "okay", "right", "indeed", "of course", "i do", "please do",
	}
	negatives = []string{
		"no", "nope", "nah", "false", "negative", "not", "never", "dont", "didnt", "doesnt",
		"wont", "isnt", "cant",
	}
)

// booleanAnswer maps an answer onto true or false. ok is false when the answer
// is hedged, contains both forms, or neither.
func booleanAnswer(answer string) (value bool, ok bool) {
	text := fold(answer)
	for _, p := range hedgePhrases {
		if containsPhrase(text, p) {
			return false, false
		}
	}
	for _, p := range firmNegatives {
		if containsPhrase(text, p) {
			return false, true
		}
	}
	yes, no := false, false
	for _, p := range affirmativeIdioms {
		if containsPhrase(text, p) {
			yes = true
			text = strings.TrimSpace(strings.ReplaceAll(" "+text+" ", " "+p+" ", " "))
		}
	}
	for _, p := range affirmatives {
		if containsPhrase(text, p) {
			yes = true
			break
		}
	}
	for _, p := range negatives {
		if containsPhrase(text, p) {
			no = true
			break
		}
	}
	if yes == no {
		return false, false
	}
	return yes, true
}
