package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func assetRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "menu.html"),
		[]byte(`<html><head><title>Menu</title></head><body><p id="x">hi</p></body></html>`), 0o644))
	return root
}

func TestEvalCommand(t *testing.T) {
	root := assetRoot(t)

	out, err := run(t, "", "eval", "--asset-root", root, "--url", "menu.html", "document.title")
	require.NoError(t, err)
	assert.Equal(t, "Menu\n", out)

	out, err = run(t, `document.getElementById("x").textContent`, "eval", "--asset-root", root, "--url", "menu.html", "-")
	require.NoError(t, err)
	assert.Equal(t, "hi\n", out)

	_, err = run(t, "", "eval", "--asset-root", root, "--url", "menu.html", "missing()")
	assert.ErrorContains(t, err, "uncaught")
}

func TestAssetsCommand(t *testing.T) {
	root := assetRoot(t)

	out, err := run(t, "", "assets", "--asset-root", root)
	require.NoError(t, err)
	assert.Equal(t, "asset://menu.html\n", out)
}
