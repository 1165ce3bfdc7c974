package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String()
}

func TestExitCodes(t *testing.T) {
	testCases := []struct {
		name string
		args []string
		code int
	}{
		{name: "help", args: []string{"--help"}, code: exitOK},
		{name: "short help", args: []string{"-h"}, code: exitOK},
		{name: "bad port", args: []string{"--dry-run", "-p", "openflow"}, code: exitUsageError},
		{name: "port out of range", args: []string{"--dry-run", "--ofc_port", "0"}, code: exitUsageError},
		{name: "unknown flag", args: []string{"--bogus"}, code: exitUsageError},
		{name: "missing flag value", args: []string{"--dry-run", "-i"}, code: exitUsageError},
		{name: "stray argument", args: []string{"cloud1"}, code: exitUsageError},
		{name: "unknown preset", args: []string{"--dry-run", "--preset", "cloud3"}, code: exitFailure},
		{name: "bad presets format", args: []string{"presets", "show", "cloud1", "--format", "toml"}, code: exitUsageError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			code, _ := runCLI(t, tc.args...)
			assert.Equal(t, tc.code, code)
		})
	}
}

func TestHelpListsControllerFlags(t *testing.T) {
	code, out := runCLI(t, "--help")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "--ofc_ip")
	assert.Contains(t, out, "--ofc_port")
}

func TestDryRunWithExplicitController(t *testing.T) {
	code, out := runCLI(t, "--dry-run", "--preset", "cloud1-ovx", "-i", "192.168.150.10", "-p", "6633")
	require.Equal(t, exitOK, code)

	assert.Contains(t, out, "Topology cloud1-ovx: 4 switches, 5 hosts, 8 links")
	assert.Contains(t, out, "Controller: tcp:192.168.150.10:6633")
	assert.Contains(t, out, "h1_1_1(10.1.0.11)")
	assert.Regexp(t, `SWITCH2\s+<->\s+SWITCH3`, out)
}

func TestDryRunResolvesLocalController(t *testing.T) {
	code, out := runCLI(t, "--dry-run", "--preset", "cloud1", "-i", "localhost", "-p", "6633")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "Controller: tcp:127.0.0.1:6633")
	assert.NotContains(t, out, "localhost")
}

func TestDryRunRejectsBadControllerPort(t *testing.T) {
	const lab = `
name: lab
controller: {address: 10.0.0.1, port: PORT}
switches:
  - name: S1
    dpid: "00:00:00:00:00:00:00:01"
    hosts: [h1]
hosts:
  - {name: h1, ip: "10.0.0.2", mac: "00:00:00:00:00:01"}
`
	path := filepath.Join(t.TempDir(), "lab.yaml")

	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(lab, "PORT", "70000", 1)), 0644))
	code, out := runCLI(t, "--dry-run", "-t", path)
	assert.Equal(t, exitFailure, code)
	assert.NotContains(t, out, "Topology lab")

	// The same file builds once the port is usable
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(lab, "PORT", "6653", 1)), 0644))
	code, out = runCLI(t, "--dry-run", "-t", path)
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "Controller: tcp:10.0.0.1:6653")
}

func TestDryRunWithoutController(t *testing.T) {
	code, out := runCLI(t, "--dry-run", "--preset", "cloud2-ref")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "Controller: none (standalone switches)")
}

func TestPresetsCommand(t *testing.T) {
	code, out := runCLI(t, "presets")
	require.Equal(t, exitOK, code)
	for _, name := range []string{"cloud1", "cloud1-ovx", "cloud2", "cloud2-ref"} {
		assert.Contains(t, out, "\t"+name+"\n")
	}

	code, out = runCLI(t, "presets", "show", "cloud2", "--format", "json")
	require.Equal(t, exitOK, code)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "cloud2", decoded["name"])

	code, _ = runCLI(t, "presets", "show", "cloud3")
	assert.Equal(t, exitFailure, code)
}

func TestCleanWithEmptyState(t *testing.T) {
	code, out := runCLI(t, "clean", "--state-dir", t.TempDir())
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "No topologies recorded")
}
