package orchestrator

import (
	"regexp"
	"strings"

	"github.com/ductor/ductor/internal/log"
)

var (
	directiveRE = regexp.MustCompile(`@([a-zA-Z][a-zA-Z0-9_.-]*)(?:=(\S+))?`)
	spaceRunRE  = regexp.MustCompile(`[ \t]{2,}`)
)

// Directives is the result of extracting inline @tokens from a message.
type Directives struct {
	// Cleaned is the message text with consumed tokens removed.
	Cleaned string

	// Model is the per-message model, empty when no model token matched.
	Model string

	// Raw holds key=value directives that are not model names.
	Raw map[string]string
}

// HasModel reports whether a model token was consumed.
func (d Directives) HasModel() bool { return d.Model != "" }

// IsDirectiveOnly reports whether nothing remains after stripping.
func (d Directives) IsDirectiveOnly() bool { return d.Cleaned == "" }

// ParseDirectives extracts @model tokens from anywhere in the text. The
// first token naming a known model sets the per-message model; key=value
// tokens are collected; unknown bare @words stay in the text untouched.
func ParseDirectives(text string, knownModel func(string) bool) Directives {
	stripped := strings.TrimSpace(text)
	if stripped == "" || !strings.Contains(stripped, "@") {
		return Directives{Cleaned: stripped}
	}

	d := Directives{Raw: map[string]string{}}
	var consumed [][]int

	for _, m := range directiveRE.FindAllStringSubmatchIndex(stripped, -1) {
		key := stripped[m[2]:m[3]]
		hasValue := m[4] >= 0

		switch {
		case hasValue:
			d.Raw[strings.ToLower(key)] = stripped[m[4]:m[5]]
			consumed = append(consumed, []int{m[0], m[1]})
		case d.Model == "" && knownModel != nil && knownModel(strings.ToLower(key)):
			d.Model = strings.ToLower(key)
			consumed = append(consumed, []int{m[0], m[1]})
		}
	}

	if d.Model == "" && len(d.Raw) == 0 {
		return Directives{Cleaned: stripped}
	}

	var b strings.Builder
	pos := 0
	for _, span := range consumed {
		b.WriteString(stripped[pos:span[0]])
		pos = span[1]
	}
	b.WriteString(stripped[pos:])
	// Collapse the doubled spaces the removed tokens leave behind,
	// without touching line breaks.
	d.Cleaned = strings.TrimSpace(spaceRunRE.ReplaceAllString(b.String(), " "))

	log.Debug(log.CatOrch, "directives parsed",
		"model", d.Model, "raw", len(d.Raw), "cleaned_len", len(d.Cleaned))
	return d
}
