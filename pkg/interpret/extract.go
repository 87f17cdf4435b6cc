package interpret

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when no JSON object can be recovered from text.
var ErrNoJSON = errors.New("no JSON object found in model output")

var (
	jsonFence = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	anyFence  = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\s*(.*?)```")
	pyFence   = regexp.MustCompile("(?s)```(?:python|py)\\s*\\n(.*?)```")
)

// ExtractJSON decodes the first JSON object found in model output into v.
// It tries, in order: a ```json fenced block, the first fenced block of any
// language, the whole text, and finally the widest {...} span.
func ExtractJSON(text string, v any) error {
	var candidates []string
	if m := jsonFence.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := anyFence.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, text)
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}

	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c), v); err == nil {
			return nil
		}
	}
	return ErrNoJSON
}

// ExtractCode returns the contents of the first fenced code block, preferring
// a python fence. Text without fences is returned trimmed.
func ExtractCode(text string) string {
	if m := pyFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := anyFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}
