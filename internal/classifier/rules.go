package classifier

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

// PrefixRule maps one conventional-commit type to a label and confidence.
type PrefixRule struct {
	Class      models.Classification `yaml:"class"`
	Confidence float64               `yaml:"confidence"`
}

// Rules is the data behind the pre-filter: bot authors, security keywords,
// and conventional-commit prefix mappings. Compiled-in defaults cover the
// common ecosystem; a YAML file can replace any list wholesale.
type Rules struct {
	Bots             []string              `yaml:"bots"`
	SecurityKeywords []string              `yaml:"security_keywords"`
	Prefixes         map[string]PrefixRule `yaml:"prefixes"`
}

// DefaultRules returns the built-in rule set.
func DefaultRules() *Rules {
	return &Rules{
		Bots: []string{
			"dependabot",
			"dependabot-preview",
			"renovate",
			"renovate-bot",
			"snyk-bot",
			"greenkeeper",
			"github-actions",
			"codecov",
			"codecov-io",
			"pyup-bot",
			"pyup.io-bot",
			"allcontributors",
			"imgbot",
			"stale",
			"mergify",
			"semantic-release-bot",
			"web-flow",
		},
		// Multi-word phrases match across space, hyphen, and underscore
		// separators, so "use-after-free" also catches "use after free".
		SecurityKeywords: []string{
			"vulnerability",
			"exploit",
			"security",
			"buffer overflow",
			"heap overflow",
			"stack overflow",
			"use-after-free",
			"double free",
			"out-of-bounds",
			"integer overflow",
			"integer underflow",
			"null pointer dereference",
			"uninitialized memory",
			"race condition",
			"TOCTOU",
			"injection",
			"XSS",
			"CSRF",
			"SSRF",
			"auth bypass",
			"authentication bypass",
			"privilege escalation",
			"information leak",
			"information disclosure",
			"DoS",
			"denial of service",
			"memory corruption",
			"memory safety",
		},
		Prefixes: map[string]PrefixRule{
			"fix":      {Class: models.ClassNormalBugfix, Confidence: 0.85},
			"bugfix":   {Class: models.ClassNormalBugfix, Confidence: 0.85},
			"hotfix":   {Class: models.ClassNormalBugfix, Confidence: 0.80},
			"feat":     {Class: models.ClassFeature, Confidence: 0.85},
			"feature":  {Class: models.ClassFeature, Confidence: 0.85},
			"refactor": {Class: models.ClassRefactor, Confidence: 0.85},
			"perf":     {Class: models.ClassRefactor, Confidence: 0.75},
			"docs":     {Class: models.ClassOther, Confidence: 0.80},
			"doc":      {Class: models.ClassOther, Confidence: 0.80},
			"test":     {Class: models.ClassOther, Confidence: 0.80},
			"tests":    {Class: models.ClassOther, Confidence: 0.80},
			"chore":    {Class: models.ClassOther, Confidence: 0.80},
			"ci":       {Class: models.ClassOther, Confidence: 0.80},
			"style":    {Class: models.ClassOther, Confidence: 0.75},
			"build":    {Class: models.ClassOther, Confidence: 0.75},
			"release":  {Class: models.ClassOther, Confidence: 0.70},
			"revert":   {Class: models.ClassOther, Confidence: 0.70},
		},
	}
}

// LoadRules returns the defaults, with any non-empty list from the YAML
// file at path replacing its default counterpart. An empty path is the
// all-defaults configuration.
func LoadRules(path string) (*Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var override Rules
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	if len(override.Bots) > 0 {
		rules.Bots = override.Bots
	}
	if len(override.SecurityKeywords) > 0 {
		rules.SecurityKeywords = override.SecurityKeywords
	}
	if len(override.Prefixes) > 0 {
		rules.Prefixes = override.Prefixes
	}
	return rules, nil
}
