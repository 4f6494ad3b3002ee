package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGradleParseBuildFile(t *testing.T) {
	content := []byte(`plugins {
    id 'java'
}

dependencies {
    implementation 'org.apache.commons:commons-lang3:3.13.0'
    api("com.squareup.okhttp3:okhttp:4.11.0")
    testImplementation group: 'junit', name: 'junit', version: '4.13.2'
    implementation 'com.fasterxml.jackson.core:jackson-databind:2.15.+'
    implementation project(':core')
    implementation 'io.grpc:grpc-netty'
    runtimeOnly 'org.postgresql:postgresql:42.6.0'
}
`)
	deps, err := gradleParser{}.Parse("build.gradle", content)
	require.NoError(t, err)
	require.Len(t, deps, 6)

	// Map notation comes out first, then string coordinates in file order.
	assert.Equal(t, "junit:junit", deps[0].LibraryName)
	assert.Equal(t, "4.13.2", deps[0].ResolvedVersion)

	assert.Equal(t, "org.apache.commons:commons-lang3", deps[1].LibraryName)
	assert.Equal(t, "3.13.0", deps[1].ResolvedVersion)
	assert.Equal(t, "gradle_build", deps[1].DetectionMethod)

	assert.Equal(t, "com.squareup.okhttp3:okhttp", deps[2].LibraryName)
	assert.Equal(t, "4.11.0", deps[2].ResolvedVersion)

	assert.Equal(t, "com.fasterxml.jackson.core:jackson-databind", deps[3].LibraryName)
	assert.Equal(t, "2.15.+", deps[3].ConstraintExpr)
	assert.Empty(t, deps[3].ResolvedVersion)

	assert.Equal(t, "io.grpc:grpc-netty", deps[4].LibraryName)
	assert.Empty(t, deps[4].ResolvedVersion)
	assert.Empty(t, deps[4].ConstraintExpr)

	assert.Equal(t, "org.postgresql:postgresql", deps[5].LibraryName)
	assert.Equal(t, "42.6.0", deps[5].ResolvedVersion)
}

func TestGradleParseKotlinDSL(t *testing.T) {
	content := []byte(`dependencies {
    implementation("io.ktor:ktor-server-core:2.3.5")
    testImplementation("org.jetbrains.kotlin:kotlin-test")
    implementation("com.acme:acme-sdk:latest.release")
}
`)
	deps, err := gradleParser{}.Parse("build.gradle.kts", content)
	require.NoError(t, err)
	require.Len(t, deps, 3)

	assert.Equal(t, "io.ktor:ktor-server-core", deps[0].LibraryName)
	assert.Equal(t, "2.3.5", deps[0].ResolvedVersion)
	assert.Equal(t, "org.jetbrains.kotlin:kotlin-test", deps[1].LibraryName)
	assert.Equal(t, "com.acme:acme-sdk", deps[2].LibraryName)
	assert.Equal(t, "latest.release", deps[2].ConstraintExpr)
}

func TestGradleParseIgnoresUnrelatedStrings(t *testing.T) {
	content := []byte(`version = '1.0.0'
group = 'com.acme'
sourceCompatibility = '17'
`)
	deps, err := gradleParser{}.Parse("build.gradle", content)
	require.NoError(t, err)
	assert.Empty(t, deps)
}
