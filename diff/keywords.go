package diff

import (
	"strings"
	"unicode"
)

// Default deletion markers. Chinese requirirement documents dominate the
// corpus, English markers cover mixed-language specs.
var defaultDeletionMarkers = []string{
	"删除", "取消", "废弃", "移除", "下线",
	"remove", "removed", "cancel", "cancelled", "canceled",
	"drop", "dropped", "deprecate", "deprecated", "discontinue", "discontinued",
}

// entityStopRunes terminate a Chinese entity phrase.
const entityStopRunes = "。，،,.;；!！?？:：\n\r\t 、()（）[]【】\"'「」“”"

// maxEntityRunes caps extracted entity length.
const maxEntityRunes = 40

// englishTrailingWords are stripped from candidates preceding an
// English marker ("the manual approval feature is removed").
var englishTrailingWords = map[string]bool{
	"is": true, "are": true, "was": true, "were": true,
	"has": true, "have": true, "been": true, "be": true, "will": true,
}

// englishLeadingWords are stripped from candidates following an English
// marker ("removed the manual approval feature").
var englishLeadingWords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "all": true, "this": true,
}

// deletionCandidates scans chunk text for deletion markers and returns
// candidate entity names in priority order: the phrase after the first
// marker, then the phrase before it. Empty when no marker is present.
func deletionCandidates(text string, markers []string) []string {
	if len(markers) == 0 {
		markers = defaultDeletionMarkers
	}

	lower := strings.ToLower(text)
	for _, marker := range markers {
		idx := strings.Index(lower, strings.ToLower(marker))
		if idx == -1 {
			continue
		}

		// Latin markers must be standalone words; "dropdown" is not a
		// deletion of "down".
		if isLatinWord(marker) && !isWordBoundary(lower, idx, len(marker)) {
			continue
		}

		var candidates []string
		if after := extractEntity(text[idx+len(marker):], true); after != "" {
			candidates = append(candidates, after)
		}
		if before := extractEntity(text[:idx], false); before != "" {
			candidates = append(candidates, before)
		}
		return candidates
	}

	return nil
}

// extractEntity pulls an entity phrase from text adjacent to a marker.
// forward scans from the start of text, backward takes the tail.
func extractEntity(text string, forward bool) string {
	if forward {
		return trimEnglishEdges(takeUntilStop(text), englishLeadingWords, true)
	}

	// Backward: take the last stop-delimited segment
	runes := []rune(text)
	start := 0
	for i := len(runes) - 1; i >= 0; i-- {
		if strings.ContainsRune(entityStopRunes, runes[i]) && runes[i] != ' ' {
			start = i + 1
			break
		}
	}
	segment := strings.TrimSpace(string(runes[start:]))
	return trimEnglishEdges(segment, englishTrailingWords, false)
}

// takeUntilStop returns the leading run of text up to a stop rune.
func takeUntilStop(text string) string {
	text = strings.TrimLeft(text, " :：\t")
	var out []rune
	for _, r := range text {
		if strings.ContainsRune(entityStopRunes, r) && r != ' ' {
			break
		}
		out = append(out, r)
		if len(out) >= maxEntityRunes {
			break
		}
	}
	return strings.TrimSpace(string(out))
}

// trimEnglishEdges strips filler words from one edge of a phrase.
func trimEnglishEdges(phrase string, filler map[string]bool, leading bool) string {
	words := strings.Fields(phrase)
	if leading {
		for len(words) > 0 && filler[strings.ToLower(words[0])] {
			words = words[1:]
		}
	} else {
		for len(words) > 0 && filler[strings.ToLower(words[len(words)-1])] {
			words = words[:len(words)-1]
		}
	}
	return strings.Join(words, " ")
}

// isLatinWord reports whether the marker is ASCII-lettered.
func isLatinWord(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			return false
		}
	}
	return len(s) > 0
}

// isWordBoundary checks that s[idx:idx+n] is not embedded in a larger
// Latin word.
func isWordBoundary(s string, idx, n int) bool {
	if idx > 0 {
		prev := rune(s[idx-1])
		if prev < unicode.MaxASCII && (unicode.IsLetter(prev) || unicode.IsDigit(prev)) {
			return false
		}
	}
	end := idx + n
	if end < len(s) {
		next := rune(s[end])
		if next < unicode.MaxASCII && (unicode.IsLetter(next) || unicode.IsDigit(next)) {
			return false
		}
	}
	return true
}
