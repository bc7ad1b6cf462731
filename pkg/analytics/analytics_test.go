package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWordFrequency(t *testing.T) {
	freq := WordFrequency("Git stores commits; git, GIT! The commit graph has 42 nodes.")
	assert.Equal(t, 3, freq["git"])
	assert.Equal(t, 1, freq["commits"])
	assert.Equal(t, 1, freq["commit"])
	assert.NotContains(t, freq, "the")
	assert.NotContains(t, freq, "has")
	assert.NotContains(t, freq, "42")
}

func TestKeywords(t *testing.T) {
	text := "rebase rebase rebase branch branch merge stash the the the the"
	assert.Equal(t, []string{"rebase", "branch"}, Keywords(text, 2))
	// merge and stash tie; alphabetical order decides.
	assert.Equal(t, []string{"rebase", "branch", "merge", "stash"}, Keywords(text, 10))
	assert.Empty(t, Keywords("the and of", 5))
}

func TestIsStopword(t *testing.T) {
	assert.True(t, IsStopword("The"))
	assert.True(t, IsStopword("cheatsheet"))
	assert.False(t, IsStopword("grep"))
}
