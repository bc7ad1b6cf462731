// Package analytics derives keywords from page text for records whose
// source ships none.
package analytics

import (
	"sort"
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		a about above after again against all almost also although always am among an and
		another any anyone anything are around as at back be because been before being
		below between both but by can cannot could did do does doing done down during each
		either else enough etc even ever every few for from further had has have having he
		her here hers him his how however i if in into is it its itself just last least less
		let like likely made make many may maybe me might more most much must my neither
		never next no none nor not nothing now of off often on once one only onto or other
		others otherwise our ours out over own per perhaps please put rather re same see
		seem several she should since so some something sometimes still such than that the
		their them then there therefore these they this those through thus to together too
		toward under until up upon us use used using very via was we well were what whatever
		when where whether which while who whom whose why will with within without would yet
		you your yours
		cheatsheet cheat sheet example examples command commands option options usage
		default see also page pages click link menu home search`) {
		stopwords[w] = struct{}{}
	}
}

// IsStopword reports whether word is ignored when counting.
func IsStopword(word string) bool {
	_, ok := stopwords[strings.ToLower(word)]
	return ok
}

// WordFrequency counts lowercased words of text, trimmed of surrounding
// punctuation. Stopwords, numbers and one-letter words are skipped.
func WordFrequency(text string) map[string]int {
	freq := make(map[string]int)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if len(word) < 2 || IsStopword(word) || isNumber(word) {
			continue
		}
		freq[word]++
	}
	return freq
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Keywords returns the n most frequent words of text. Ties break
// alphabetically so the result is stable across runs.
func Keywords(text string, n int) []string {
	type wordCount struct {
		word  string
		count int
	}
	freq := WordFrequency(text)
	counts := make([]wordCount, 0, len(freq))
	for w, c := range freq {
		counts = append(counts, wordCount{w, c})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].word < counts[j].word
	})

	if len(counts) < n {
		n = len(counts)
	}
	out := make([]string, n)
	for i := range out {
		out[i] = counts[i].word
	}
	return out
}
