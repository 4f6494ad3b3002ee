package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCmakeParseFindPackage(t *testing.T) {
	content := []byte(`cmake_minimum_required(VERSION 3.20)
project(app LANGUAGES CXX)

find_package(OpenSSL 3.0 REQUIRED)
find_package(Boost 1.80.0 COMPONENTS system filesystem)
find_package(Threads REQUIRED)
FIND_PACKAGE(ZLIB)
find_package(OpenSSL REQUIRED)
`)
	deps, err := cmakeParser{}.Parse("CMakeLists.txt", content)
	require.NoError(t, err)
	require.Len(t, deps, 3)

	// Minimum versions are floors, repeats collapse, Threads is toolchain.
	assert.Equal(t, "OpenSSL", deps[0].LibraryName)
	assert.Equal(t, ">=3.0", deps[0].ConstraintExpr)
	assert.Equal(t, "cmake_find_package", deps[0].DetectionMethod)

	assert.Equal(t, "Boost", deps[1].LibraryName)
	assert.Equal(t, ">=1.80.0", deps[1].ConstraintExpr)

	assert.Equal(t, "ZLIB", deps[2].LibraryName)
	assert.Empty(t, deps[2].ConstraintExpr)
}

func TestCmakeParseSkipsFinderModules(t *testing.T) {
	content := []byte("find_package(PkgConfig)\nfind_package(Curses)\n")
	deps, err := cmakeParser{}.Parse("cmake/FindLibfoo.cmake", content)
	require.NoError(t, err)
	assert.Empty(t, deps)
}
