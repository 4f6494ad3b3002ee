package collector

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Closing keywords bind the reference to the commit's purpose; a bare #N
// anywhere in the message is the weaker fallback.
var (
	closingRefPattern = regexp.MustCompile(`(?i)(?:fix|close|resolve)(?:e?[sd])?\s+#(\d+)`)
	bareRefPattern    = regexp.MustCompile(`#(\d+)`)
)

// ExtractRef returns the first issue/PR reference in a commit message in
// "#123" form. Closing-keyword matches win over bare mentions.
func ExtractRef(message string) (string, bool) {
	if m := closingRefPattern.FindStringSubmatch(message); m != nil {
		return "#" + m[1], true
	}
	if m := bareRefPattern.FindStringSubmatch(message); m != nil {
		return "#" + m[1], true
	}
	return "", false
}

// RefNumber parses a "#123" reference back to its number.
func RefNumber(ref string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(ref, "#"))
	if err != nil {
		return 0, fmt.Errorf("malformed reference %q", ref)
	}
	return n, nil
}

// IssueURL builds the browse URL for a reference. GitHub serves the issues
// namespace for PR numbers too, so this form is safe when the kind of the
// referenced item is unknown.
func IssueURL(owner, repo, ref string) string {
	return fmt.Sprintf("https://github.com/%s/%s/issues/%s", owner, repo, strings.TrimPrefix(ref, "#"))
}

// PRURL builds the browse URL for a known pull-request reference.
func PRURL(owner, repo, ref string) string {
	return fmt.Sprintf("https://github.com/%s/%s/pull/%s", owner, repo, strings.TrimPrefix(ref, "#"))
}
