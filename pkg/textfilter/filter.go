// Package textfilter cleans model output before it is written to the ledger.
package textfilter

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	thinkBlock  = regexp.MustCompile(`(?s)<think>.*?</think>`)
	markdownTok = regexp.MustCompile(`(\*\*|__|^#+\s*)`)
	blankRuns   = regexp.MustCompile(`\n{3,}`)
	spaceRuns   = regexp.MustCompile(`[ \t]+`)
)

// narrationLabels are prefixes models sometimes put before narration.
var narrationLabels = []string{"旁白：", "旁白:", "【旁白】", "Narrator:", "narrator:"}

// quotePairs are stripped when they wrap the whole text.
var quotePairs = [][2]string{{"“", "”"}, {"\"", "\""}, {"「", "」"}, {"『", "』"}}

// CleanNarration normalizes narrator output: NFC normalization, removal of
// reasoning blocks and markdown emphasis, speaker labels and wrapping quotes.
func CleanNarration(text string) string {
	s := norm.NFC.String(text)
	s = thinkBlock.ReplaceAllString(s, "")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		line = markdownTok.ReplaceAllString(line, "")
		line = spaceRuns.ReplaceAllString(line, " ")
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)

	for _, label := range narrationLabels {
		if strings.HasPrefix(s, label) {
			s = strings.TrimSpace(strings.TrimPrefix(s, label))
			break
		}
	}
	return stripQuotes(s)
}

// CleanUtterance normalizes a character line and drops a leading "name：" label.
func CleanUtterance(name, text string) string {
	s := strings.TrimSpace(norm.NFC.String(text))
	s = thinkBlock.ReplaceAllString(s, "")
	if name != "" {
		for _, sep := range []string{"：", ":"} {
			if strings.HasPrefix(s, name+sep) {
				s = strings.TrimSpace(strings.TrimPrefix(s, name+sep))
				break
			}
		}
	}
	return stripQuotes(strings.TrimSpace(s))
}

func stripQuotes(s string) string {
	for _, q := range quotePairs {
		if strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) && len(s) > len(q[0])+len(q[1]) {
			inner := s[len(q[0]) : len(s)-len(q[1])]
			// leave text with inner quotes of the same kind untouched
			if !strings.Contains(inner, q[0]) && !strings.Contains(inner, q[1]) {
				return strings.TrimSpace(inner)
			}
		}
	}
	return s
}
