package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dataDir string, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "callgraph.yaml")
	body := fmt.Sprintf("data_dir: %s\nproject_package: app-1.0\n%s", dataDir, extra)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand("test")
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "test")
}

func TestIngestThenStats(t *testing.T) {
	dataDir := t.TempDir()
	cfg := writeConfig(t, dataDir, "")

	facts := filepath.Join(t.TempDir(), "facts.jsonl")
	require.NoError(t, os.WriteFile(facts, []byte(strings.Join([]string{
		`{"fqn":"A.foo()","kind":"method"}`,
		`{"fqn":"B","kind":"class"}`,
		`{"edgeType":"call","kind":"invoke","fromFqn":"A.foo()","toFqn":"B.bar()"}`,
		`{"usageType":"java_method_call","callerSymbol":"foo","calleeSymbol":"bar","module":"app"}`,
		`not json`,
	}, "\n")), 0o600))

	_, err := execute(t, "--config", cfg, "ingest", facts)
	require.NoError(t, err)

	out, err := execute(t, "--config", cfg, "stats")
	require.NoError(t, err)
	var stats struct {
		Graph struct {
			Nodes int `json:"nodes"`
			Stubs int `json:"stubs"`
			Edges int `json:"edges"`
		} `json:"graph"`
		Usages struct {
			Total int `json:"total"`
		} `json:"usages"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 3, stats.Graph.Nodes)
	assert.Equal(t, 1, stats.Graph.Edges)
	assert.Equal(t, 1, stats.Usages.Total)
}

func TestIngestRequiresInput(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "")
	_, err := execute(t, "--config", cfg, "ingest")
	assert.ErrorContains(t, err, "nothing to ingest")
}

func TestResetNeedsConfirmation(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "")
	_, err := execute(t, "--config", cfg, "reset")
	assert.ErrorContains(t, err, "--yes")

	_, err = execute(t, "--config", cfg, "reset", "--yes")
	assert.NoError(t, err)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", ".callgraph.yaml")
	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = execute(t, "config", "init", path)
	assert.ErrorContains(t, err, "exists")

	_, err = execute(t, "config", "init", "--force", path)
	assert.NoError(t, err)
}

func TestMergeEmptyCacheDir(t *testing.T) {
	dataDir := t.TempDir()
	cfg := writeConfig(t, dataDir, "")
	out, err := execute(t, "--config", cfg, "merge")
	require.NoError(t, err)
	assert.JSONEq(t, "{}", out)
}

func TestRewriteURIsNeedsProjectRoot(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "")
	_, err := execute(t, "--config", cfg, "rewrite-uris")
	assert.ErrorContains(t, err, "project_root")
}
