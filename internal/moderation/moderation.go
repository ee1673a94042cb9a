// Package moderation classifies user supplied text before it is stored.
//
// The rules are a best-effort filter: a case-insensitive substring denylist,
// a run-length spam check and a length cap. Every rule is evaluated so the
// caller receives all violations at once.
package moderation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxLength is the longest accepted text, in characters.
	MaxLength = 5000
	// MaxRepeat is the longest accepted run of one character.
	MaxRepeat = 10
)

// BannedTerms is matched as case-insensitive substrings.
var BannedTerms = []string{
	// Russian
	"порно", "секс", "эротика", "xxx", "сука", "блядь", "пизда", "хуй", "ебать", "гомосек",
	"педик", "пидор", "долбоеб", "мудак", "сволочь", "тварь", "сучка", "шлюха", "дрочить",
	"насилие", "убить", "убийство", "смерть", "самоубийство", "терроризм", "взрыв", "бомба",
	"наркотики", "кокаин", "героин", "марихуана", "амфетамин", "экстази", "мефедрон",
	// English
	"porn", "sex", "nude", "naked", "fuck", "shit", "bitch", "whore", "slut",
	"nigger", "faggot", "retard", "kill", "murder", "suicide", "bomb", "terror", "rape",
	"drugs", "cocaine", "heroin", "marijuana", "cannabis", "meth", "ecstasy",
}

// Result is the outcome of a Check.
type Result struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

// Moderator evaluates text against a fixed denylist. It is safe for
// concurrent use once constructed.
type Moderator struct {
	terms []string
}

// New builds a Moderator over the provided terms, or BannedTerms when none are given.
func New(terms ...string) *Moderator {
	if len(terms) == 0 {
		terms = BannedTerms
	}
	lowered := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			lowered = append(lowered, t)
		}
	}
	return &Moderator{terms: lowered}
}

// Check runs every rule against text and accumulates the violations.
func (m *Moderator) Check(text string) Result {
	res := Result{IsValid: true, Errors: []string{}}
	if text == "" {
		return res
	}

	lower := strings.ToLower(text)
	for _, term := range m.terms {
		if strings.Contains(lower, term) {
			res.Errors = append(res.Errors, fmt.Sprintf("inappropriate content detected: %q", term))
		}
	}
	if hasLongRun(text, MaxRepeat+1) {
		res.Errors = append(res.Errors, "spam detected (repeated characters)")
	}
	if utf8.RuneCountInString(text) > MaxLength {
		res.Errors = append(res.Errors, fmt.Sprintf("text too long (maximum %d characters)", MaxLength))
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

// hasLongRun reports whether some character repeats at least n times in a
// row. Line terminators never count as part of a run.
func hasLongRun(s string, n int) bool {
	var prev rune = -1
	run := 0
	for _, r := range s {
		if isLineTerminator(r) {
			prev, run = -1, 0
			continue
		}
		if r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		if run >= n {
			return true
		}
	}
	return false
}

func isLineTerminator(r rune) bool {
	return r == '\n' || r == '\r' || r == '\u2028' || r == '\u2029'
}
