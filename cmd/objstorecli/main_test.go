package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// runCLI invokes run() with a fresh temp store directory and returns the
// exit code plus captured stdout/stderr.
func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()

	dir := t.TempDir()

	var out, errOut bytes.Buffer

	full := append([]string{"objstorecli", "--store-dir", dir, "--store-name", "store"}, args...)

	code = run(&out, &errOut, full, nil)

	return code, out.String(), errOut.String()
}

func TestCLIAddAndRead(t *testing.T) {
	dir := t.TempDir()

	var out, errOut bytes.Buffer

	code := run(&out, &errOut, []string{"objstorecli", "--store-dir", dir, "--store-name", "s", "add", "/a/b", "hello"}, nil)
	require.Equal(t, 0, code, errOut.String())
	require.Contains(t, out.String(), "ok")

	out.Reset()
	errOut.Reset()

	code = run(&out, &errOut, []string{"objstorecli", "--store-dir", dir, "--store-name", "s", "read", "/a/b"}, nil)
	require.Equal(t, 0, code, errOut.String())
	require.Contains(t, out.String(), "version=1")
	require.Contains(t, out.String(), "hello")
}

func TestCLIAddDuplicateFails(t *testing.T) {
	dir := t.TempDir()

	var out, errOut bytes.Buffer
	run(&out, &errOut, []string{"objstorecli", "--store-dir", dir, "--store-name", "s", "add", "/a", "x"}, nil)

	out.Reset()
	errOut.Reset()

	code := run(&out, &errOut, []string{"objstorecli", "--store-dir", dir, "--store-name", "s", "add", "/a", "y"}, nil)
	require.Equal(t, 1, code)
	require.Contains(t, errOut.String(), "already exists")
}

func TestCLILsAndFind(t *testing.T) {
	dir := t.TempDir()

	base := []string{"objstorecli", "--store-dir", dir, "--store-name", "s"}
	add := func(path, payload string) {
		var out, errOut bytes.Buffer
		code := run(&out, &errOut, append(append([]string{}, base...), "add", path, payload), nil)
		require.Equal(t, 0, code, errOut.String())
	}

	add("/A/x", "1")
	add("/A/y", "2")
	add("/A/B/z", "3")

	var out, errOut bytes.Buffer
	code := run(&out, &errOut, append(append([]string{}, base...), "ls", "/A"), nil)
	require.Equal(t, 0, code, errOut.String())
	require.Contains(t, out.String(), "x")
	require.Contains(t, out.String(), "y")
	require.Contains(t, out.String(), "B/")

	out.Reset()

	code = run(&out, &errOut, append(append([]string{}, base...), "find", "z"), nil)
	require.Equal(t, 0, code, errOut.String())
	require.Contains(t, out.String(), "/A/B/z")
}

func TestCLIUnknownCommand(t *testing.T) {
	code, _, errOut := runCLI(t, "bogus")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "unknown command")
}

func TestCLIHelp(t *testing.T) {
	code, out, _ := runCLI(t, "--help")
	require.Equal(t, 0, code)
	require.Contains(t, out, "objstorecli")
}
