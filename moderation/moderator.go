// Package moderation masks forbidden words in chat content before it reaches
// the room log. Matching runs on a normalized view of the text so that leet
// speak and punctuation tricks do not slip past the dictionary.
package moderation

import (
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Moderator holds an Aho-Corasick automaton built from a normalized
// dictionary. Zero value is unusable; build it with NewModerator.
type Moderator struct {
	matcher     *goahocorasick.Machine
	replacement rune
}

func NewModerator(dictionary []string, replacement rune) (Moderator, error) {
	if len(dictionary) == 0 {
		return Moderator{replacement: replacement}, nil
	}
	patterns := make([][]rune, len(dictionary))
	for i, word := range dictionary {
		patterns[i] = normalize([]rune(word), nil)
	}
	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return Moderator{}, err
	}
	return Moderator{matcher: machine, replacement: replacement}, nil
}

// Censor replaces every dictionary hit with the replacement rune. The
// original spacing and punctuation inside a hit are masked too, so the word
// boundaries stay where the author put them.
func (m *Moderator) Censor(content string) string {
	if m.matcher == nil {
		return content
	}
	original := []rune(content)

	// origIdx maps each normalized rune back to its source position.
	origIdx := make([]int, 0, len(original))
	searchable := normalize(original, func(i int) { origIdx = append(origIdx, i) })
	if len(searchable) == 0 {
		return content
	}

	hits := m.matcher.MultiPatternSearch(searchable, false)
	if len(hits) == 0 {
		return content
	}

	for _, hit := range hits {
		start := hit.Pos
		end := start + len(hit.Word)
		if start < 0 || end > len(origIdx) {
			continue
		}
		for i := origIdx[start]; i <= origIdx[end-1]; i++ {
			original[i] = m.replacement
		}
	}
	return string(original)
}

// normalize lowercases, undoes leet substitutions and strips punctuation,
// spacing and symbols. track, when given, receives the original index of
// every rune that survives.
func normalize(input []rune, track func(int)) []rune {
	out := make([]rune, 0, len(input))
	for i, r := range input {
		plain := unleet(r)
		if unicode.IsPunct(plain) || unicode.IsSpace(plain) || unicode.IsSymbol(plain) {
			continue
		}
		out = append(out, unicode.ToLower(plain))
		if track != nil {
			track(i)
		}
	}
	return out
}

// unleet maps common leet speak characters back to their alphabet
// counterparts.
func unleet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}
