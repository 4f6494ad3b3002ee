package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGitmodulesParse(t *testing.T) {
	content := []byte(`[submodule "vendor/libfoo"]
	path = vendor/libfoo
	url = git@github.com:acme/libfoo.git
	branch = main
[submodule "docs/theme"]
	path = docs/theme
	url = ../theme.git
[submodule "third_party/openssl"]
	path = third_party/openssl
	url = https://github.com/openssl/openssl
`)
	deps, err := gitmodulesParser{}.Parse(".gitmodules", content)
	require.NoError(t, err)
	// The relative URL cannot be resolved without the superproject remote.
	require.Len(t, deps, 2)

	assert.Equal(t, "libfoo", deps[0].LibraryName)
	assert.Equal(t, "https://github.com/acme/libfoo", deps[0].LibraryRepoURL)
	assert.Equal(t, "branch=main", deps[0].ConstraintExpr)
	assert.Empty(t, deps[0].ResolvedVersion)
	assert.Equal(t, "gitmodules", deps[0].DetectionMethod)

	assert.Equal(t, "openssl", deps[1].LibraryName)
	assert.Equal(t, "https://github.com/openssl/openssl", deps[1].LibraryRepoURL)
	assert.Empty(t, deps[1].ConstraintExpr)
}

func TestGitmodulesParseNoPathKey(t *testing.T) {
	content := []byte(`[submodule "deps/libbar"]
	url = https://github.com/acme/libbar.git
`)
	deps, err := gitmodulesParser{}.Parse(".gitmodules", content)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "libbar", deps[0].LibraryName)
}
