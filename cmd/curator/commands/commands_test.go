package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/curator-health/curator/pkg/artifact"
	"github.com/curator-health/curator/pkg/config"
	"github.com/curator-health/curator/pkg/diff"
	"github.com/curator-health/curator/pkg/engine"
)

const (
	urlA = "http://example.org/Library/a"
	urlB = "http://example.org/Library/b"
)

// writeTopology creates a single local repository topology in a temp dir,
// seeds it with a depending on b and returns the topology path.
func writeTopology(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "curator.cue")
	content := fmt.Sprintf(`
repositories: [{name: "local", kind: "local", path: %q}]
default: "local"
`, filepath.Join(dir, "curator.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ctx := context.Background()
	topo, err := config.NewCUEParser().Load(ctx, path)
	require.NoError(t, err)
	handles, err := config.Build(ctx, topo, zerolog.Nop())
	require.NoError(t, err)
	defer handles.Close()

	repo := handles.Default()
	_, err = repo.Write(ctx, artifact.Node{
		Reference: artifact.NewReference(urlB, "1.0.0", "Library"),
		Status:    artifact.StatusActive,
		Title:     "B",
	})
	require.NoError(t, err)
	_, err = repo.Write(ctx, artifact.Node{
		Reference: artifact.NewReference(urlA, "1.0.0", "Library"),
		Status:    artifact.StatusActive,
		Title:     "A",
		Relationships: []artifact.Relationship{{
			Kind:   artifact.RelationshipDependsOn,
			Target: artifact.NewReference(urlB, "1.0.0", "Library"),
		}},
	})
	require.NoError(t, err)
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "now")
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLifecycleCommands(t *testing.T) {
	cfg := writeTopology(t)

	out, err := run(t, "draft", urlA+"|1.0.0", "--config", cfg)
	require.NoError(t, err)
	var drafted engine.Result
	require.NoError(t, json.Unmarshal([]byte(out), &drafted))
	assert.Equal(t, "1.0.1-draft", drafted.Root.Version)
	require.Len(t, drafted.Committed, 1)

	out, err = run(t, "approve", urlA+"|1.0.1-draft", "--config", cfg, "--author", "QA", "--summary", "ok")
	require.NoError(t, err)
	var approved engine.Result
	require.NoError(t, json.Unmarshal([]byte(out), &approved))
	require.Len(t, approved.Committed, 1)
	assert.Len(t, approved.Committed[0].Approvals, 1)

	out, err = run(t, "release", urlA+"|1.0.1-draft", "--config", cfg, "--label", "R1")
	require.NoError(t, err)
	var released engine.Result
	require.NoError(t, json.Unmarshal([]byte(out), &released))
	assert.Equal(t, "1.0.1", released.Root.Version)

	out, err = run(t, "diff", urlA+"|1.0.0", urlA+"|1.0.1", "--config", cfg)
	require.NoError(t, err)
	var changes []diff.Change
	require.NoError(t, json.Unmarshal([]byte(out), &changes))
	assert.Contains(t, diff.Paths(changes), "release_label")

	out, err = run(t, "package", urlA+"|1.0.1", "--config", cfg, "--output", "yaml")
	require.NoError(t, err)
	var bundle map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(out), &bundle))
	entries, ok := bundle["entries"].([]interface{})
	require.True(t, ok)
	assert.Len(t, entries, 2)

	out, err = run(t, "package", urlA+"|1.0.1", "--config", cfg, "--count", "1")
	require.NoError(t, err)
	var page engine.Bundle
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	assert.Len(t, page.Entries, 1)
	assert.Equal(t, 2, page.Total)

	out, err = run(t, "resolve", urlA+"|1.0.1", "--config", cfg, "--dot")
	require.NoError(t, err)
	assert.Contains(t, out, "digraph")
}

func TestLifecycleCommands_PlanDOT(t *testing.T) {
	cfg := writeTopology(t)

	out, err := run(t, "draft", urlA+"|1.0.0", "--config", cfg, "--dot")
	require.NoError(t, err)
	assert.Contains(t, out, "digraph CommitGraph")
	assert.Contains(t, out, "cluster_level_0")
	assert.Contains(t, out, "create")
}

func TestLifecycleCommands_ExitCodes(t *testing.T) {
	cfg := writeTopology(t)

	_, err := run(t, "release", urlA+"|1.0.0", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitStructural, ExitCode(err))

	_, err = run(t, "draft", urlA+"|1.0.0", "--config", cfg, "--increment", "huge")
	assert.Equal(t, ExitStructural, ExitCode(err))

	_, err = run(t, "draft", urlA+"|1.0.0", "--config", cfg, "--experimental-behavior", "loud")
	assert.Equal(t, ExitStructural, ExitCode(err))

	_, err = run(t, "draft", "|1.0.0", "--config", cfg)
	assert.Equal(t, ExitStructural, ExitCode(err))

	_, err = run(t, "diff", urlA+"|1.0.0", urlB+"|1.0.0", "--config", cfg)
	assert.Equal(t, ExitStructural, ExitCode(err))

	_, err = run(t, "package", urlA+"|1.0.0", "--config", cfg, "--publish")
	assert.Equal(t, ExitStructural, ExitCode(err))

	_, err = run(t, "package", urlA+"|1.0.0", "--config", cfg, "--count", "-1")
	assert.Equal(t, ExitStructural, ExitCode(err))

	_, err = run(t, "draft", urlA+"|9.9.9", "--config", cfg)
	require.Error(t, err)
	assert.True(t, artifact.IsNotFound(err))
	assert.Equal(t, ExitFailure, ExitCode(err))
}

func TestValidateCommand(t *testing.T) {
	cfg := writeTopology(t)

	out, err := run(t, "validate", "--config", cfg)
	require.NoError(t, err)
	var report validateReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, []string{"local"}, report.Repositories)
	assert.Contains(t, report.Rules, "release-version-format")

	bad := filepath.Join(t.TempDir(), "bad.cue")
	require.NoError(t, os.WriteFile(bad, []byte(`repositories: [{name: "x", kind: "ftp"}]
default: "x"
`), 0o644))
	out, err = run(t, "validate", bad)
	require.Error(t, err)
	assert.Equal(t, ExitStructural, ExitCode(err))
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Valid)
	assert.NotEmpty(t, report.Errors)
}

func TestOutputFormat(t *testing.T) {
	cfg := writeTopology(t)

	_, err := run(t, "resolve", urlA+"|1.0.0", "--config", cfg, "--output", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitStructural, ExitCode(err))
}
