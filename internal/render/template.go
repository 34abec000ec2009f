// Package render substitutes {{name}} placeholders into message bodies and
// computes the segment metrics transport providers bill by.
package render

import (
	"regexp"
	"unicode/utf8"
)

var placeholderPattern = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

// ExtractVariables returns each distinct placeholder name in body, in first-seen
// order.
func ExtractVariables(body string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(body, -1)
	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Render substitutes every placeholder whose name is present in vars.
// Placeholders with no matching key stay as literal {{name}} text, which keeps
// partial previews possible.
func Render(body string, vars map[string]string) string {
	if len(vars) == 0 {
		return body
	}
	return placeholderPattern.ReplaceAllStringFunc(body, func(match string) string {
		name := match[2 : len(match)-2]
		if val, ok := vars[name]; ok {
			return val
		}
		return match
	})
}

// Segment boundaries: a single SMS carries 160 characters; once a message
// concatenates, every segment carries 153 (the rest is the concatenation header).
const (
	singleSegmentLimit = 160
	doubleSegmentLimit = 306
	multiSegmentSize   = 153
)

// EstimateSegments returns the number of transport segments a rendered body
// occupies.
func EstimateSegments(body string) int {
	n := utf8.RuneCountInString(body)
	switch {
	case n <= singleSegmentLimit:
		return 1
	case n <= doubleSegmentLimit:
		return 2
	default:
		return (n + multiSegmentSize - 1) / multiSegmentSize
	}
}

// Validation is the result of checking provided variables against a template's
// required set. Extra names are informational, not an error.
type Validation struct {
	IsValid bool
	Missing []string
	Extra   []string
}

// ValidateVariables compares the provided variable map against the required
// name set. IsValid holds iff nothing required is missing.
func ValidateVariables(provided map[string]string, required []string) Validation {
	v := Validation{IsValid: true}

	req := make(map[string]bool, len(required))
	for _, name := range required {
		req[name] = true
		if _, ok := provided[name]; !ok {
			v.Missing = append(v.Missing, name)
			v.IsValid = false
		}
	}
	for name := range provided {
		if !req[name] {
			v.Extra = append(v.Extra, name)
		}
	}
	return v
}
