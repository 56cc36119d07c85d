package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmdSubcommands(t *testing.T) {
	root := rootCmd()

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"serve", "analyze", "corpus", "config", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestReadDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "billing@v5.md")
	require.NoError(t, os.WriteFile(path, []byte("# 计费\n\n按量计费。\n"), 0644))

	doc, err := readDocument(path, "")
	require.NoError(t, err)
	assert.Equal(t, "billing.md", doc.Filename)
	assert.Equal(t, "v5", doc.Version)
	assert.NotEmpty(t, doc.ID)

	// Flag version applies only without a filename tag
	doc, err = readDocument(path, "v9")
	require.NoError(t, err)
	assert.Equal(t, "v5", doc.Version)

	plain := filepath.Join(dir, "plain.md")
	require.NoError(t, os.WriteFile(plain, []byte("text"), 0644))

	doc, err = readDocument(plain, "")
	require.NoError(t, err)
	assert.Equal(t, "v2", doc.Version)

	_, err = readDocument(filepath.Join(dir, "missing.md"), "")
	assert.Error(t, err)
}

func TestExpandArgs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "specs"), 0755))
	for _, name := range []string{"specs/a.md", "specs/b.md", "top.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	paths, err := expandArgs([]string{filepath.Join(dir, "specs", "*.md"), filepath.Join(dir, "top.md")})
	require.NoError(t, err)
	assert.Len(t, paths, 3)

	// Unmatched plain paths survive so downstream errors name them
	paths, err = expandArgs([]string{filepath.Join(dir, "absent.md")})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "absent.md")}, paths)
}
