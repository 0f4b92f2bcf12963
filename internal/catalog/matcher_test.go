package catalog

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"First Name*", "first name"},
		{"  E-Mail:  ", "e mail"},
		// "ß" has no combining mark to strip; it survives normalization.
		{"Straße", "straße"},
		{"Résumé upload", "resume upload"},
		{"address_line_1", "address line 1"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestScore_ExactPatternIsPerfect(t *testing.T) {
	// Labels that equal a catalog pattern after cleaning must score 1.0.
	assert.Equal(t, 1.0, Score(Normalize("First Name*"), Normalize("first name")))
	assert.Equal(t, 1.0, Score("email", "email"))
}

func TestScore_Blend(t *testing.T) {
	// Whole-phrase containment scores 1.0.
	assert.Equal(t, 1.0, Score("your email address", "email"))

	// Token overlap catches reordered labels.
	assert.Greater(t, Score("name first", "first name"), 0.9)

	// Near-miss typo clears the floor via edit distance.
	assert.GreaterOrEqual(t, Score("telefone", "telephone"), AcceptanceFloor)

	// Unrelated strings stay below the floor.
	assert.Less(t, Score("favourite colour", "salary expectation"), AcceptanceFloor)
}

// Scenario A: exact pattern hit fills from the catalog with high confidence.
func TestMatchLabel_FirstName(t *testing.T) {
	m := NewMatcher()
	facts := Facts{"first_name": "Ann"}

	match, ok := m.MatchLabel("First Name*", facts)

	require.True(t, ok)
	assert.Equal(t, "first_name", match.Key)
	assert.Equal(t, "Ann", match.Value)
	assert.GreaterOrEqual(t, match.Confidence, 0.9)
}

// Scenario B: a label with no catalog value yields no match at all.
func TestMatchLabel_MissingFactIsSkipped(t *testing.T) {
	m := NewMatcher()
	facts := Facts{"first_name": "Ann"} // no phone key

	_, ok := m.MatchLabel("Phone", facts)

	assert.False(t, ok)
}

// Scenario C: empty scalar value falls back to the _path variant.
func TestMatchLabel_PathFallback(t *testing.T) {
	m := NewMatcher()
	facts := Facts{
		"cover_letter":      "",
		"cover_letter_path": "/tmp/cl.txt",
	}

	match, ok := m.MatchLabel("Upload cover letter", facts)

	require.True(t, ok)
	assert.Equal(t, "cover_letter_path", match.Key)
	assert.Equal(t, "/tmp/cl.txt", match.Value)
	assert.GreaterOrEqual(t, match.Confidence, 0.7)
}

func TestMatchLabel_UploadIntentFallback(t *testing.T) {
	m := NewMatcher()
	facts := Facts{"resume_path": "/tmp/cv.pdf"}

	match, ok := m.MatchLabel("Please attach your CV here", facts)

	require.True(t, ok)
	assert.Equal(t, "resume_path", match.Key)
	assert.Equal(t, "/tmp/cv.pdf", match.Value)
}

func TestMatchLabel_AddressLine2OnlyWhenExplicit(t *testing.T) {
	m := NewMatcher()

	_, ok := m.MatchLabel("Address Line 2", Facts{"address_line1": "Main St 1"})
	assert.False(t, ok, "line 2 must not be fuzz-filled from other address data")

	match, ok := m.MatchLabel("Address Line 2", Facts{"address_line2": "Apt 4"})
	require.True(t, ok)
	assert.Equal(t, "Apt 4", match.Value)
}

func TestMatchLabel_CountyCountyGuard(t *testing.T) {
	m := NewMatcher()
	facts := Facts{"country": "Austria", "county": "Carinthia"}

	match, ok := m.MatchLabel("Country", facts)
	require.True(t, ok)
	assert.Equal(t, "country", match.Key)

	match, ok = m.MatchLabel("County", facts)
	require.True(t, ok)
	assert.Equal(t, "county", match.Key)
}

// The matcher is pure: the same label and catalog always give the same result.
func TestMatchLabel_Deterministic(t *testing.T) {
	m := NewMatcher()
	facts := Facts{
		"first_name": "Ann",
		"last_name":  "Bauer",
		"email":      "ann@example.com",
		"city":       "Graz",
	}

	first, ok := m.MatchLabel("Name", facts)
	require.True(t, ok)
	for i := 0; i < 50; i++ {
		again, ok := m.MatchLabel("Name", facts)
		require.True(t, ok)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("match result changed between runs (-first +again):\n%s", diff)
		}
	}
}

func TestBestCandidate(t *testing.T) {
	buttons := []string{"Save draft", "Jetzt bewerben", "Cancel"}

	candidate, score := BestCandidate("jetzt bewerben", buttons)
	assert.Equal(t, "Jetzt bewerben", candidate)
	assert.Equal(t, 1.0, score)

	_, score = BestCandidate("submit application", buttons)
	assert.Less(t, score, 0.6)
}
