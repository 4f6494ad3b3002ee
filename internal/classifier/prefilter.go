package classifier

import (
	"regexp"
	"strings"

	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

// Verdict is a pre-filter decision for one event.
type Verdict struct {
	Class      models.Classification
	Confidence float64
}

// conventionalPrefix matches "fix:", "feat(scope):", "refactor!:" and
// friends at the start of a title.
var conventionalPrefix = regexp.MustCompile(`(?i)^([a-z]+)(\([^)]*\))?!?:\s`)

// CVE and CWE identifiers always count as security signals, independent of
// the configured keyword list.
var (
	cveID = regexp.MustCompile(`(?i)\bCVE-\d{4}-\d{4,}\b`)
	cweID = regexp.MustCompile(`(?i)\bCWE-\d+\b`)
)

// PreFilter is the compiled rule engine that runs before the LLM. It
// labels the obvious cases for free but never assigns security_bugfix;
// anything that trips a security keyword is handed to the LLM unlabeled.
type PreFilter struct {
	rules    *Rules
	bots     map[string]struct{}
	keywords []*regexp.Regexp
}

// NewPreFilter compiles a rule set.
func NewPreFilter(rules *Rules) *PreFilter {
	pf := &PreFilter{
		rules:    rules,
		bots:     make(map[string]struct{}, len(rules.Bots)),
		keywords: []*regexp.Regexp{cveID, cweID},
	}
	for _, b := range rules.Bots {
		pf.bots[strings.ToLower(b)] = struct{}{}
	}
	for _, phrase := range rules.SecurityKeywords {
		if re := compileKeyword(phrase); re != nil {
			pf.keywords = append(pf.keywords, re)
		}
	}
	return pf
}

// compileKeyword turns a phrase into a word-boundary regex tolerant of
// space, hyphen, and underscore separators between words.
func compileKeyword(phrase string) *regexp.Regexp {
	words := strings.FieldsFunc(phrase, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})
	if len(words) == 0 {
		return nil
	}
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	re, err := regexp.Compile(`(?i)\b` + strings.Join(words, `[\s_-]+`) + `\b`)
	if err != nil {
		return nil
	}
	return re
}

// Apply runs the rules against one event. ok=false means no rule decided
// and the event goes to the LLM. The security-keyword check runs before
// the bot and prefix rules on purpose: "fix: heap buffer overflow" from
// dependabot must reach the LLM, not get filed as a routine bump.
func (pf *PreFilter) Apply(e *models.Event) (Verdict, bool) {
	if e.Type == models.EventTag {
		return Verdict{Class: models.ClassOther, Confidence: 0.95}, true
	}
	if pf.MatchesSecurityKeyword(e.BodyText()) {
		return Verdict{}, false
	}
	if e.Author != nil && pf.isBot(*e.Author) {
		return Verdict{Class: models.ClassOther, Confidence: 0.90}, true
	}
	if m := conventionalPrefix.FindStringSubmatch(e.Title); m != nil {
		if rule, ok := pf.rules.Prefixes[strings.ToLower(m[1])]; ok {
			return Verdict{Class: rule.Class, Confidence: rule.Confidence}, true
		}
	}
	return Verdict{}, false
}

// MatchesSecurityKeyword reports whether the text trips any compiled
// keyword or a CVE/CWE identifier.
func (pf *PreFilter) MatchesSecurityKeyword(text string) bool {
	for _, re := range pf.keywords {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// isBot matches the configured list plus GitHub's "[bot]" suffix
// convention for app accounts.
func (pf *PreFilter) isBot(author string) bool {
	a := strings.ToLower(strings.TrimSpace(author))
	if strings.HasSuffix(a, "[bot]") {
		return true
	}
	_, ok := pf.bots[a]
	return ok
}
