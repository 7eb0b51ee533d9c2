package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xyzzy121/Unicopia/internal/config"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootRegistersSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	names := make([]string, 0, len(cmd.Commands()))
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"serve", "observe", "catalog"})
}

func TestCatalogSchemaWritesJSON(t *testing.T) {
	stdout, _, err := execute(t, "catalog", "schema")
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &schema))
	assert.Equal(t, "Unicopia Ability Catalog", schema["title"])

	out := filepath.Join(t.TempDir(), "schema.json")
	_, _, err = execute(t, "catalog", "schema", "--out", out)
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, stdout, string(data))
}

func TestCatalogCheckReportsResolvedTiming(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abilities.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kick:\n  cooldown: 80\ncarry:\n  disabled: true\n"), 0o644))

	stdout, _, err := execute(t, "catalog", "check", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "kick\twarmup=3\tcooldown=80")
	assert.Contains(t, stdout, "carry\tdisabled")
}

func TestCatalogCheckRejectsUnknownAbility(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abilities.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"fireball","cooldown":3}]`), 0o644))

	_, _, err := execute(t, "catalog", "check", path)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "fireball"), err.Error())
}

func TestFlagsOverrideEnvironmentOnlyWhenSet(t *testing.T) {
	t.Setenv("UNICOPIA_ADDR", ":9999")
	cmd := NewObserveCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--tick-rate", "40", "--upstream", "ws://a/replicate"}))

	cfg, err := config.Load()
	require.NoError(t, err)
	flags := &serverFlags{tickRate: 40, upstream: "ws://a/replicate"}
	flags.apply(cmd, &cfg)

	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, 40, cfg.TickRate)
	assert.Equal(t, "ws://a/replicate", cfg.Upstream)
}
