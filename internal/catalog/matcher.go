// internal/catalog/matcher.go
package catalog

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// AcceptanceFloor is the minimum confidence below which no match is returned.
const AcceptanceFloor = 0.5

// Match is the result of resolving a field label against the fact catalog.
type Match struct {
	Key        string
	Value      string
	Confidence float64
}

// fieldPatterns maps canonical fact keys to the label phrases commonly seen
// on application forms, in English and German. No site-specific selectors,
// just label heuristics.
var fieldPatterns = map[string][]string{
	"first_name": {"first name", "vorname", "given name", "forename"},
	"last_name":  {"last name", "nachname", "surname", "family name"},
	"full_name":  {"full name", "your name"},
	"email":      {"email", "e-mail", "e mail"},
	"phone":      {"phone", "telephone", "mobile", "telefon", "handy", "cell"},

	"address_line1": {"address line 1", "address1", "street address", "street", "strasse", "address"},
	"address_line2": {"address line 2", "address2", "line 2", "apartment", "suite"},
	"city":          {"city", "town", "ort", "stadt"},
	"county":        {"county", "region", "province", "state", "district"},
	"postcode":      {"postcode", "postal code", "zip code", "zip", "plz", "post code"},
	"country":       {"country", "land", "nation"},

	"start_date": {"earliest start date", "start date", "startdatum", "available from", "availability"},
	"salary_expectation": {
		"annual gross salary", "salary expectation", "gehaltsvorstellung", "expected salary", "salary",
	},
	"notice_period": {"period of notice", "notice period", "notice"},

	"linkedin":     {"linkedin", "linkedin profile", "linkedin url"},
	"github":       {"github", "github profile", "github url"},
	"website":      {"website", "homepage", "portfolio", "personal website"},
	"resume":       {"resume", "cv", "lebenslauf", "upload cv", "curriculum vitae"},
	"cover_letter": {"cover letter", "anschreiben", "motivation letter", "upload cover letter"},

	"consent": {
		"i agree", "consent", "accept terms", "data processing", "zustimmung",
		"keep my data for future opportunities", "consider me for other positions",
	},
}

// diacriticStripper removes combining marks after NFD decomposition, so
// accented labels like "Résumé" compare against plain-ASCII patterns.
var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases, folds diacritics, replaces punctuation with spaces
// and collapses whitespace. Both labels and patterns go through this before
// scoring so the comparison is purely lexical.
func Normalize(s string) string {
	s = strings.ToLower(s)
	if folded, _, err := transform.String(diacriticStripper, s); err == nil {
		s = folded
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Score computes a normalized similarity in [0,1] between two already
// normalized strings. The blend takes the maximum of whole-phrase
// containment (1.0), token-set overlap ratio and edit-distance ratio.
func Score(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 1
	}

	best := tokenOverlap(a, b)
	if ed := editDistanceRatio(a, b); ed > best {
		best = ed
	}
	return best
}

func tokenOverlap(a, b string) float64 {
	aTokens := strings.Fields(a)
	bTokens := strings.Fields(b)
	if len(aTokens) == 0 || len(bTokens) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(aTokens))
	for _, t := range aTokens {
		set[t] = struct{}{}
	}
	union := make(map[string]struct{}, len(aTokens)+len(bTokens))
	for _, t := range aTokens {
		union[t] = struct{}{}
	}
	shared := 0
	for _, t := range bTokens {
		if _, ok := set[t]; ok {
			shared++
		}
		union[t] = struct{}{}
	}
	return float64(shared) / float64(len(union))
}

func editDistanceRatio(a, b string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// BestCandidate resolves a target label against a list of on-page candidate
// strings (button texts, input labels) and returns the best candidate with
// its confidence. Used for CLICK validation and element resolution.
func BestCandidate(target string, candidates []string) (string, float64) {
	normTarget := Normalize(target)
	bestScore := 0.0
	bestCandidate := ""
	for _, c := range candidates {
		if s := Score(normTarget, Normalize(c)); s > bestScore {
			bestScore = s
			bestCandidate = c
		}
	}
	return bestCandidate, bestScore
}

// Matcher resolves field labels to semantic facts. It is stateless and
// deterministic: the same label and catalog always produce the same Match.
type Matcher struct {
	patterns map[string][]string
}

// NewMatcher builds a matcher over the default pattern set.
func NewMatcher() *Matcher {
	return &Matcher{patterns: fieldPatterns}
}

// MatchLabel resolves a form-field label to a catalog fact. It returns the
// highest-scoring fact key whose score clears the acceptance floor and whose
// value (or `_path` fallback) is non-empty; otherwise ok is false and the
// field should be skipped as optional.
func (m *Matcher) MatchLabel(label string, facts Facts) (Match, bool) {
	clean := Normalize(label)
	if clean == "" {
		return Match{}, false
	}

	// Address line 2 is optional on almost every form; it is only filled
	// when the catalog holds explicit data, never via fuzzy similarity.
	if isAddressLine2(clean) {
		if v := facts.Get("address_line2"); v != "" {
			return Match{Key: "address_line2", Value: v, Confidence: 1}, true
		}
		return Match{}, false
	}

	// Keys are walked in sorted order so ties break deterministically and
	// re-matching an unchanged catalog always yields the same result.
	keys := make([]string, 0, len(m.patterns))
	for key := range m.patterns {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	// The winner is the best-scoring key that actually resolves to a value;
	// a perfect lexical hit on a fact the catalog does not hold is useless.
	var best Match
	for _, key := range keys {
		if excluded(key, clean) {
			continue
		}
		keyScore := 0.0
		for _, p := range m.patterns[key] {
			if s := Score(clean, Normalize(p)); s > keyScore {
				keyScore = s
			}
		}
		if keyScore < AcceptanceFloor || keyScore <= best.Confidence {
			continue
		}
		if match, ok := resolveValue(key, keyScore, facts); ok {
			best = match
		}
	}
	if best.Key != "" {
		return best, true
	}

	// Upload-intent labels resolve straight to the attachment paths even
	// when no pattern cleared the floor ("Please attach your documents").
	if match, ok := uploadIntent(clean, facts); ok {
		return match, true
	}

	return Match{}, false
}

// resolveValue looks up the matched key's scalar value, falling back to the
// `_path` variant for file fields.
func resolveValue(key string, score float64, facts Facts) (Match, bool) {
	if v := facts.Get(key); v != "" {
		return Match{Key: key, Value: v, Confidence: score}, true
	}
	if pathKey, v, ok := facts.PathFallback(key); ok {
		return Match{Key: pathKey, Value: v, Confidence: score}, true
	}
	return Match{}, false
}

// excluded guards the county/country near-collision: a label containing one
// word must never resolve to the other key.
func excluded(key, cleanLabel string) bool {
	if key == "country" && strings.Contains(cleanLabel, "county") {
		return true
	}
	if key == "county" && strings.Contains(cleanLabel, "country") {
		return true
	}
	return false
}

func isAddressLine2(clean string) bool {
	for _, p := range []string{"address line 2", "address2", "address line two"} {
		if strings.Contains(clean, p) {
			return true
		}
	}
	return false
}

// uploadIntent catches generic attachment labels that name a document type
// without matching a field pattern.
func uploadIntent(clean string, facts Facts) (Match, bool) {
	if !strings.Contains(clean, "upload") && !strings.Contains(clean, "file") && !strings.Contains(clean, "attach") {
		return Match{}, false
	}
	if strings.Contains(clean, "resume") || strings.Contains(clean, "cv") || strings.Contains(clean, "lebenslauf") {
		if v := facts.Get("resume" + PathSuffix); v != "" {
			return Match{Key: "resume" + PathSuffix, Value: v, Confidence: 0.9}, true
		}
	}
	if strings.Contains(clean, "cover") && strings.Contains(clean, "letter") {
		if v := facts.Get("cover_letter" + PathSuffix); v != "" {
			return Match{Key: "cover_letter" + PathSuffix, Value: v, Confidence: 0.9}, true
		}
	}
	return Match{}, false
}
