package tagkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "Knights Of Cydonia", "knights of cydonia"},
		{"trims and collapses whitespace", "  Black   Holes \t Revelations ", "black holes revelations"},
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		{"case folds sharp s", "Straße", "strasse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeUnicodeEquivalence(t *testing.T) {
	t.Parallel()

	// "é" composed vs decomposed must normalize identically.
	composed := "Beyoncé"
	decomposed := "Beyoncé"

	assert.Equal(t, Normalize(composed), Normalize(decomposed))
}

func TestKeyString(t *testing.T) {
	t.Parallel()

	a := New("Muse", "Knights of Cydonia", "Black Holes and Revelations", 1)
	b := New("muse", "KNIGHTS OF CYDONIA", "Black Holes and Revelations", 1)

	assert.Equal(t, a.String(), b.String())

	c := New("Muse", "Knights of Cydonia", "Black Holes and Revelations", 2)
	assert.NotEqual(t, a.String(), c.String())
}

func TestKeyWithSize(t *testing.T) {
	t.Parallel()

	k := New("Muse", "Knights of Cydonia", "Black Holes and Revelations", 1)

	assert.NotEqual(t, k.WithSize(8_000_000), k.WithSize(8_000_001))
	assert.Equal(t, k.WithSize(8_000_000), k.WithSize(8_000_000))
}
