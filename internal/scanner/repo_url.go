package scanner

import "strings"

// CanonicalRepoURL rewrites the URL forms manifests carry into the
// https form libraries are keyed by. Unrecognized input comes back
// unchanged apart from suffix trimming.
func CanonicalRepoURL(raw string) string {
	url := strings.TrimSpace(raw)
	url = strings.TrimPrefix(url, "git+")

	// scp-like syntax: git@github.com:org/repo.git
	if at := strings.Index(url, "@"); at >= 0 && !strings.Contains(url, "://") {
		if colon := strings.Index(url[at:], ":"); colon > 0 {
			url = url[at+1:]
			url = strings.Replace(url, ":", "/", 1)
			url = "https://" + url
		}
	}

	for _, scheme := range []string{"ssh://", "git://", "http://"} {
		if strings.HasPrefix(url, scheme) {
			url = "https://" + strings.TrimPrefix(url, scheme)
			break
		}
	}
	// Drop userinfo left over from ssh remotes.
	if rest, ok := strings.CutPrefix(url, "https://"); ok {
		if at := strings.Index(rest, "@"); at >= 0 && (strings.Index(rest, "/") == -1 || at < strings.Index(rest, "/")) {
			rest = rest[at+1:]
		}
		url = "https://" + rest
	}

	url = strings.TrimSuffix(url, "/")
	url = strings.TrimSuffix(url, ".git")
	return url
}

// repoURLFromModulePath maps module paths on well-known forges to a
// repository URL. Vanity import paths return empty.
func repoURLFromModulePath(mod string) string {
	for _, host := range []string{"github.com/", "gitlab.com/", "bitbucket.org/"} {
		if strings.HasPrefix(mod, host) {
			parts := strings.Split(mod, "/")
			if len(parts) >= 3 {
				return "https://" + strings.Join(parts[:3], "/")
			}
		}
	}
	return ""
}
