package embedding

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrEmptyText     = errors.New("text is empty")
	ErrInvalidLength = errors.New("segment length must be positive")
)

// Preprocess trims text and collapses runs of whitespace into single spaces.
func Preprocess(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	var b strings.Builder
	b.Grow(len(text))
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		} else {
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String(), nil
}

// Segment greedily packs words into segments and closes a segment as soon as it
// reaches maxChars characters. A single word longer than maxChars forms its own segment.
func Segment(text string, maxChars int) ([]string, error) {
	if maxChars <= 0 {
		return nil, ErrInvalidLength
	}
	words := SplitWords(text)
	if len(words) == 0 {
		return nil, ErrEmptyText
	}
	var segments []string
	var current []string
	length := 0
	for _, w := range words {
		if len(current) > 0 {
			length++
		}
		current = append(current, w)
		length += utf8.RuneCountInString(w)
		if length >= maxChars {
			segments = append(segments, strings.Join(current, " "))
			current = current[:0]
			length = 0
		}
	}
	if len(current) > 0 {
		segments = append(segments, strings.Join(current, " "))
	}
	return segments, nil
}
