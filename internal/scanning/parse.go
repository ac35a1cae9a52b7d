package scanning

import (
	"fmt"
	"regexp"
	"strings"
)

var codePattern = regexp.MustCompile(fmt.Sprintf(`[A-Z0-9]{%d,}`, MinCodeLength))

// FindCandidates uppercases text and returns every maximal run of code
// characters at least MinCodeLength long, in reading order.
func FindCandidates(text string) []string {
	candidates := codePattern.FindAllString(strings.ToUpper(text), -1)
	if candidates == nil {
		return []string{}
	}
	return candidates
}

// NormalizeCode trims and uppercases a code typed by hand. It reports false
// when the result is not exactly one code.
func NormalizeCode(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	candidates := codePattern.FindAllString(code, -1)
	if len(candidates) != 1 || candidates[0] != code {
		return "", false
	}
	return code, true
}

// cleanResponse strips the markdown code fences LLM providers like to add
func cleanResponse(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```text")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
